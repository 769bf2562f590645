// Package events fans stream messages out to the relay connections of a user.
// With Redis every replica sees every message through the updates:{user}
// channel; without it delivery is limited to this process.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/metrics"
	"github.com/oremus-labs/dashsync/internal/stream"
)

// DefaultPrefix is prepended to the user id to form the channel name.
const DefaultPrefix = "updates:"

const subscriberBuffer = 16

// Bus multiplexes per-user messages to connected streams.
type Bus struct {
	client redis.UniversalClient
	logger *logutil.Logger
	prefix string

	mu          sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
}

// Options configure the bus.
type Options struct {
	Client redis.UniversalClient
	Logger *logutil.Logger
	Prefix string
}

// NewBus creates a new event bus. A nil Client selects local delivery.
func NewBus(opts Options) *Bus {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.Default()
	}
	return &Bus{
		client:      opts.Client,
		logger:      logger.WithComponent("events"),
		prefix:      prefix,
		subscribers: make(map[string]map[chan []byte]struct{}),
	}
}

// Distributed reports whether messages travel through Redis.
func (b *Bus) Distributed() bool {
	return b.client != nil
}

// Channel returns the pub/sub channel for a user.
func (b *Bus) Channel(userID string) string {
	return b.prefix + userID
}

// Publish sends an encoded stream message to all of a user's streams.
func (b *Bus) Publish(ctx context.Context, userID string, payload []byte) error {
	if b.client != nil {
		if err := b.client.Publish(ctx, b.Channel(userID), payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	}
	b.broadcast(userID, payload)
	return nil
}

// PublishEvent encodes ev and publishes it.
func (b *Bus) PublishEvent(ctx context.Context, userID string, ev stream.Event) error {
	payload, err := stream.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.Publish(ctx, userID, payload); err != nil {
		return err
	}
	metrics.ObservePublish(ev.Type())
	return nil
}

// Subscribe registers a subscriber for userID and returns a channel plus a
// cancel func. The channel closes when ctx ends or cancel is called.
func (b *Bus) Subscribe(ctx context.Context, userID string) (<-chan []byte, func(), error) {
	if b.client != nil {
		return b.subscribeRedis(ctx, userID)
	}

	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subscribers[userID] == nil {
		b.subscribers[userID] = make(map[chan []byte]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers[userID], ch)
			if len(b.subscribers[userID]) == 0 {
				delete(b.subscribers, userID)
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

func (b *Bus) subscribeRedis(ctx context.Context, userID string) (<-chan []byte, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.Channel(userID))
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(ch)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.deliver(ch, userID, []byte(msg.Payload))
			}
		}
	}()
	return ch, cancel, nil
}

func (b *Bus) broadcast(userID string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[userID] {
		b.deliver(ch, userID, payload)
	}
}

func (b *Bus) deliver(ch chan []byte, userID string, payload []byte) {
	select {
	case ch <- payload:
	default:
		b.logger.Warn("dropping message (subscriber backlog)", slog.String("user", userID))
	}
}

// Subscribers returns the number of local streams for userID.
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}
