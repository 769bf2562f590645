// Package stream keeps a long-lived authenticated event stream open against
// the backend, decodes its typed messages, tracks connection state and
// reconnects with capped exponential backoff.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/metrics"
)

// Status is the connection phase reported to the UI.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
	StatusError        Status = "error"
)

// AuthMode selects how the bearer token is sent.
type AuthMode string

const (
	// AuthHeader sends "Authorization: Bearer <token>".
	AuthHeader AuthMode = "header"
	// AuthQuery appends ?token=<token>, for transports without custom headers.
	AuthQuery AuthMode = "query"
)

// TokenParam is the query parameter used by AuthQuery.
const TokenParam = "token"

// UnspecifiedError is reported for error events that carry no message.
const UnspecifiedError = "stream reported an error"

// ConnectionState is the observable connection status.
type ConnectionState struct {
	Status Status
	// Message is the human readable text of the last status event.
	Message string
	// LastError is the most recent transport failure, if any.
	LastError string
}

// EntityHandler receives the data list of an emails or meetings event.
type EntityHandler func(Entities)

// Observers expose the manager's state read-only.
type Observers struct {
	State *Observable[ConnectionState]
	Err   *Observable[string]
}

// Options configure a Manager.
type Options struct {
	URL        string
	Token      string
	AuthMode   AuthMode
	HTTPClient *http.Client
	Backoff    Backoff
	// MaxAttempts stops reconnecting after this many consecutive failures.
	// Zero retries forever.
	MaxAttempts int
	Logger      *logutil.Logger
}

// Manager owns one stream session at a time.
type Manager struct {
	opts    Options
	client  *http.Client
	backoff Backoff
	logger  *logutil.Logger

	state *Observable[ConnectionState]
	errs  *Observable[string]

	// startMu serializes Start so only one session is ever installed.
	startMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a disconnected manager.
func New(opts Options) *Manager {
	client := opts.HTTPClient
	if client == nil {
		// No client timeout: the response body stays open for the session.
		client = &http.Client{}
	}
	if opts.AuthMode == "" {
		opts.AuthMode = AuthHeader
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.Default()
	}
	return &Manager{
		opts:    opts,
		client:  client,
		backoff: opts.Backoff.withDefaults(),
		logger:  logger.WithComponent("stream"),
		state:   newObservable(ConnectionState{Status: StatusDisconnected}),
		errs:    newObservable(""),
	}
}

// Observers returns the state and error observables.
func (m *Manager) Observers() Observers {
	return Observers{State: m.state, Err: m.errs}
}

// Start opens the stream and delivers emails and meetings updates to the
// given handlers, either of which may be nil. A running session is stopped
// first. Without a token nothing is requested and the state stays
// disconnected. Handlers run on the session goroutine and must not call Stop.
func (m *Manager) Start(onEmails, onMeetings EntityHandler) Observers {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.Stop()

	if m.opts.Token == "" {
		m.logger.Debug("no credential, stream not started")
		return m.Observers()
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, gen, handlers{emails: onEmails, meetings: onMeetings}, done)
	return m.Observers()
}

// Stop cancels any in-flight open and pending reconnect, waits for the
// session to exit and resets the state to disconnected. It is safe to call
// at any time and more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.gen++
	m.state.set(ConnectionState{Status: StatusDisconnected})
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Debug("stream stopped")
}

type handlers struct {
	emails   EntityHandler
	meetings EntityHandler
}

func (m *Manager) run(ctx context.Context, gen uint64, h handlers, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		connected, err := m.connect(ctx, gen, h)
		if ctx.Err() != nil || !m.current(gen) {
			return
		}
		if connected {
			failures = 0
		}
		failures++

		msg := err.Error()
		m.logger.Warn("stream disconnected",
			slog.String("error", msg),
			slog.Int("attempt", failures))
		m.update(gen, func(ConnectionState) ConnectionState {
			return ConnectionState{Status: StatusDisconnected, LastError: msg}
		})
		m.setErr(gen, msg)

		if m.opts.MaxAttempts > 0 && failures >= m.opts.MaxAttempts {
			m.logger.Error("stream giving up", slog.Int("attempts", failures))
			m.update(gen, func(ConnectionState) ConnectionState {
				return ConnectionState{Status: StatusError, LastError: msg}
			})
			return
		}

		delay := m.backoff.Delay(failures)
		metrics.ObserveReconnectDelay(delay)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// connect runs one stream request to completion. connected reports whether
// the open succeeded; err is always non-nil on return.
func (m *Manager) connect(ctx context.Context, gen uint64, h handlers) (bool, error) {
	if !m.update(gen, func(s ConnectionState) ConnectionState {
		return ConnectionState{Status: StatusConnecting, LastError: s.LastError}
	}) {
		return false, context.Canceled
	}

	req, err := m.newRequest(ctx)
	if err != nil {
		metrics.ObserveConnect("failed")
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		metrics.ObserveConnect("failed")
		return false, fmt.Errorf("stream: open: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.ObserveConnect("failed")
		return false, fmt.Errorf("stream: open failed: %s", resp.Status)
	}

	if !m.update(gen, func(ConnectionState) ConnectionState {
		return ConnectionState{Status: StatusConnected}
	}) {
		return false, context.Canceled
	}
	m.setErr(gen, "")
	metrics.ObserveConnect("connected")
	m.logger.Info("stream connected", slog.String("url", redact(req.URL)))

	err = readEvents(ctx, resp.Body, func(data []byte) {
		m.handle(gen, data, h)
	})
	return true, err
}

func (m *Manager) newRequest(ctx context.Context) (*http.Request, error) {
	target, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}
	if m.opts.AuthMode == AuthQuery {
		q := target.Query()
		q.Set(TokenParam, m.opts.Token)
		target.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if m.opts.AuthMode != AuthQuery {
		req.Header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	return req, nil
}

func (m *Manager) handle(gen uint64, data []byte, h handlers) {
	ev, err := ParseEvent(data)
	if err != nil {
		metrics.ObserveMessage("invalid")
		m.logger.Warn("skipping malformed stream message", slog.String("error", err.Error()))
		return
	}
	metrics.ObserveMessage(ev.Type())

	switch e := ev.(type) {
	case StatusEvent:
		var next Status
		switch e.Status {
		case HealthConnected:
			next = StatusConnected
		case HealthDegraded:
			next = StatusDegraded
		default:
			m.logger.Debug("ignoring stream status", slog.String("status", e.Status))
			return
		}
		m.update(gen, func(s ConnectionState) ConnectionState {
			return ConnectionState{Status: next, Message: e.Message, LastError: s.LastError}
		})
	case ConnectedEvent:
		m.update(gen, func(s ConnectionState) ConnectionState {
			return ConnectionState{Status: StatusConnected, Message: e.Message, LastError: s.LastError}
		})
	case EmailsEvent:
		if h.emails != nil && e.Present && m.current(gen) {
			h.emails(e.Data)
		}
	case MeetingsEvent:
		if h.meetings != nil && e.Present && m.current(gen) {
			h.meetings(e.Data)
		}
	case HeartbeatEvent:
	case ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = UnspecifiedError
		}
		m.logger.Warn("stream reported error", slog.String("message", msg))
		m.setErr(gen, msg)
	case UnknownEvent:
		m.logger.Info("ignoring unknown stream message", slog.String("type", e.Kind))
	}
}

// update applies fn to the state if gen is still the live session.
func (m *Manager) update(gen uint64, fn func(ConnectionState) ConnectionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.state.set(fn(m.state.Get()))
	return true
}

func (m *Manager) setErr(gen uint64, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.errs.set(msg)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func redact(u *url.URL) string {
	clone := *u
	if q := clone.Query(); q.Has(TokenParam) {
		q.Set(TokenParam, "redacted")
		clone.RawQuery = q.Encode()
	}
	return clone.String()
}

// IsTerminal reports whether the manager gave up reconnecting.
func (s ConnectionState) IsTerminal() bool {
	return s.Status == StatusError
}
