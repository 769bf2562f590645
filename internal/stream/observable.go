package stream

import (
	"context"
	"sync"
)

// Observable holds the latest value of some state. Only the owning package
// can change it; readers take snapshots or subscribe to changes.
type Observable[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  map[chan T]struct{}
}

func newObservable[T comparable](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: make(map[chan T]struct{})}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Subscribe returns a channel that receives the current value and every later
// change. Slow readers only see the latest value. The channel is closed when
// ctx is done.
func (o *Observable[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	o.mu.Lock()
	ch <- o.value
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.subs, ch)
		close(ch)
		o.mu.Unlock()
	}()
	return ch
}

func (o *Observable[T]) set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.value == v {
		return
	}
	o.value = v
	for ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
