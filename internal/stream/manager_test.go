package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oremus-labs/dashsync/internal/logutil"
)

const testToken = "test-token"

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// sseServer writes the given messages and then holds the stream open until
// the client goes away.
func sseServer(t *testing.T, messages ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+testToken && r.URL.Query().Get(TokenParam) != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "data: {\"type\":\"error\",\"message\":\"Unauthorized\"}\n\n")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, msg := range messages {
			fmt.Fprintf(w, "data: %s\n\n", msg)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Token == "" {
		opts.Token = testToken
	}
	opts.Logger = logutil.Discard()
	m := New(opts)
	t.Cleanup(m.Stop)
	return m
}

func TestManagerDispatchesInOrder(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t,
		`{"type":"connected"}`,
		`{"type":"emails","data":[{"id":1}]}`,
		`{"type":"heartbeat"}`,
	)
	m := newTestManager(t, Options{URL: srv.URL})

	var (
		mu       sync.Mutex
		emails   []Entities
		meetings int
	)
	obs := m.Start(func(data Entities) {
		mu.Lock()
		emails = append(emails, data)
		mu.Unlock()
	}, func(Entities) {
		mu.Lock()
		meetings++
		mu.Unlock()
	})

	waitFor(t, "email callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emails) > 0
	})
	// give the heartbeat time to be processed
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(emails) != 1 || len(emails[0]) != 1 || string(emails[0][0]) != `{"id":1}` {
		t.Fatalf("unexpected email callbacks %q", emails)
	}
	if meetings != 0 {
		t.Fatalf("meetings callback fired %d times", meetings)
	}
	if got := obs.State.Get().Status; got != StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if obs.Err.Get() != "" {
		t.Fatalf("unexpected error %q", obs.Err.Get())
	}
}

func TestManagerIgnoresUnknownTypes(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t,
		`{"type":"unknown_future_type"}`,
		`not json`,
		`{"no":"type"}`,
		`{"type":"meetings"}`,
		`{"type":"emails","data":[]}`,
	)
	m := newTestManager(t, Options{URL: srv.URL})

	var emailCalls, meetingCalls atomic.Int32
	obs := m.Start(func(data Entities) {
		if len(data) == 0 {
			emailCalls.Add(1)
		}
	}, func(Entities) { meetingCalls.Add(1) })

	waitFor(t, "marker event", func() bool { return emailCalls.Load() == 1 })
	if meetingCalls.Load() != 0 {
		t.Fatalf("meetings without data must not fire the callback")
	}
	if obs.Err.Get() != "" {
		t.Fatalf("unknown messages must not set an error, got %q", obs.Err.Get())
	}
	if obs.State.Get().Status != StatusConnected {
		t.Fatalf("expected connected, got %+v", obs.State.Get())
	}
}

func TestManagerStatusAndErrorEvents(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t,
		`{"type":"status","status":"connected","message":"Real-time updates active"}`,
		`{"type":"status","status":"degraded","message":"Live updates paused"}`,
		`{"type":"status","status":"sideways"}`,
		`{"type":"error","message":"Realtime service error"}`,
	)
	m := newTestManager(t, Options{URL: srv.URL})
	obs := m.Start(nil, nil)

	waitFor(t, "error event", func() bool { return obs.Err.Get() == "Realtime service error" })
	state := obs.State.Get()
	if state.Status != StatusDegraded || state.Message != "Live updates paused" {
		t.Fatalf("expected degraded state, got %+v", state)
	}
}

func TestManagerReconnectsAfterDelay(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	delay := 200 * time.Millisecond
	m := newTestManager(t, Options{
		URL:     srv.URL,
		Backoff: Backoff{Initial: delay, Max: time.Second, Factor: 2},
	})
	obs := m.Start(nil, nil)

	waitFor(t, "disconnected with error", func() bool {
		s := obs.State.Get()
		return s.Status == StatusDisconnected && s.LastError != ""
	})
	if obs.Err.Get() == "" {
		t.Fatalf("expected error observable set")
	}
	waitFor(t, "second attempt", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 2
	})

	mu.Lock()
	gap := times[1].Sub(times[0])
	mu.Unlock()
	if gap < delay*3/4 {
		t.Fatalf("reconnected after %v, expected at least %v", gap, delay)
	}
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Options{
		URL:         srv.URL,
		Backoff:     Backoff{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, Factor: 2},
		MaxAttempts: 3,
	})
	obs := m.Start(nil, nil)

	waitFor(t, "terminal state", func() bool { return obs.State.Get().IsTerminal() })
	time.Sleep(50 * time.Millisecond)
	if got := requests.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestManagerStopBeforeOpenResolves(t *testing.T) {
	t.Parallel()

	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	m := newTestManager(t, Options{URL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := m.Observers().State.Subscribe(ctx)
	var sawConnected atomic.Bool
	go func() {
		for s := range states {
			if s.Status == StatusConnected {
				sawConnected.Store(true)
			}
		}
	}()

	m.Start(nil, nil)
	<-arrived
	m.Stop()
	time.Sleep(50 * time.Millisecond)

	if sawConnected.Load() {
		t.Fatalf("state became connected after Stop")
	}
	if got := m.Observers().State.Get().Status; got != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
}

func TestManagerWithoutTokenDoesNothing(t *testing.T) {
	t.Parallel()

	srv, requests := sseServer(t)
	m := New(Options{URL: srv.URL, Logger: logutil.Discard()})
	obs := m.Start(nil, nil)
	time.Sleep(50 * time.Millisecond)

	if requests.Load() != 0 {
		t.Fatalf("expected no request without a token")
	}
	if obs.State.Get().Status != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", obs.State.Get().Status)
	}
	m.Stop()
}

func TestManagerAuthModes(t *testing.T) {
	t.Parallel()

	for _, mode := range []AuthMode{AuthHeader, AuthQuery} {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			var header, query atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				header.Store(r.Header.Get("Authorization"))
				query.Store(r.URL.Query().Get(TokenParam))
				if r.Header.Get("Accept") != "text/event-stream" {
					w.WriteHeader(http.StatusNotAcceptable)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			}))
			t.Cleanup(srv.Close)

			m := newTestManager(t, Options{URL: srv.URL + "/api/realtime/stream", AuthMode: mode})
			obs := m.Start(nil, nil)
			waitFor(t, "connected", func() bool { return obs.State.Get().Status == StatusConnected })

			gotHeader, _ := header.Load().(string)
			gotQuery, _ := query.Load().(string)
			switch mode {
			case AuthHeader:
				if gotHeader != "Bearer "+testToken || gotQuery != "" {
					t.Fatalf("header mode sent header=%q query=%q", gotHeader, gotQuery)
				}
			case AuthQuery:
				if gotQuery != testToken || gotHeader != "" {
					t.Fatalf("query mode sent header=%q query=%q", gotHeader, gotQuery)
				}
			}
		})
	}
}

func TestManagerRestartReplacesSession(t *testing.T) {
	t.Parallel()

	srv, requests := sseServer(t, `{"type":"connected"}`)
	m := newTestManager(t, Options{URL: srv.URL})

	obs := m.Start(nil, nil)
	waitFor(t, "first session", func() bool { return obs.State.Get().Status == StatusConnected })

	obs = m.Start(nil, nil)
	waitFor(t, "second session", func() bool {
		return requests.Load() == 2 && obs.State.Get().Status == StatusConnected
	})
}

func TestManagerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New(Options{URL: "http://127.0.0.1:1", Token: testToken, Logger: logutil.Discard()})
	m.Stop()
	m.Stop()

	m.Start(nil, nil)
	m.Stop()
	m.Stop()
	if got := m.Observers().State.Get().Status; got != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
}

func TestManagerErrorEventWithoutMessage(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t,
		`{"type":"error","message":"Realtime service error"}`,
		`{"type":"error"}`,
	)
	m := newTestManager(t, Options{URL: srv.URL})
	obs := m.Start(nil, nil)

	waitFor(t, "generic error text", func() bool { return obs.Err.Get() == UnspecifiedError })
	if got := obs.State.Get().Status; got != StatusConnected {
		t.Fatalf("error event should not change the connection, got %s", got)
	}
}

func TestManagerConcurrentStartKeepsOneSession(t *testing.T) {
	t.Parallel()

	var active, maxActive, requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Options{URL: srv.URL, Backoff: Backoff{Initial: 5 * time.Millisecond, Max: 5 * time.Millisecond}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start(nil, nil)
		}()
	}
	wg.Wait()

	waitFor(t, "live session", func() bool { return m.Observers().State.Get().Status == StatusConnected })
	waitFor(t, "replaced sessions to close", func() bool { return active.Load() == 1 })

	m.Stop()
	waitFor(t, "all streams closed", func() bool { return active.Load() == 0 })
	settled := requests.Load()
	time.Sleep(50 * time.Millisecond)
	if got := requests.Load(); got != settled {
		t.Fatalf("requests continued after Stop: %d -> %d", settled, got)
	}
	if got := maxActive.Load(); got > 2 {
		t.Fatalf("expected at most one session plus one closing, saw %d open", got)
	}
}
