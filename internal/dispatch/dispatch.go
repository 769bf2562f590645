// Package dispatch turns stream updates into dashboard refetches.
//
// Updates are hints only: ordering across reconnects is not guaranteed, so
// the payload is never applied as a delta. Each update asks the data layer to
// reload the authoritative list.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/metrics"
	"github.com/oremus-labs/dashsync/internal/stream"
)

// Kind names a dashboard dataset.
type Kind string

const (
	KindEmails   Kind = "emails"
	KindMeetings Kind = "meetings"
)

// DefaultTimeout bounds a single refetch.
const DefaultTimeout = 30 * time.Second

// Refresher reloads a dataset from the backend.
type Refresher interface {
	Refresh(ctx context.Context, kind Kind) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, kind Kind) error

func (f RefresherFunc) Refresh(ctx context.Context, kind Kind) error {
	return f(ctx, kind)
}

// Dispatcher maps stream update types to refreshes.
type Dispatcher struct {
	refresher Refresher
	logger    *logutil.Logger
	timeout   time.Duration
}

// New returns a dispatcher that calls r for every email or meeting update.
func New(r Refresher, logger *logutil.Logger) *Dispatcher {
	if logger == nil {
		logger = logutil.Default()
	}
	return &Dispatcher{refresher: r, logger: logger.WithComponent("dispatch"), timeout: DefaultTimeout}
}

// EmailHandler is the stream callback for emails updates.
func (d *Dispatcher) EmailHandler() stream.EntityHandler {
	return d.handler(KindEmails)
}

// MeetingHandler is the stream callback for meetings updates.
func (d *Dispatcher) MeetingHandler() stream.EntityHandler {
	return d.handler(KindMeetings)
}

// Bind starts m with both handlers.
func (d *Dispatcher) Bind(m *stream.Manager) stream.Observers {
	return m.Start(d.EmailHandler(), d.MeetingHandler())
}

func (d *Dispatcher) handler(kind Kind) stream.EntityHandler {
	return func(changed stream.Entities) {
		d.refresh(kind, len(changed))
	}
}

func (d *Dispatcher) refresh(kind Kind, changed int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := d.refresher.Refresh(ctx, kind)
	metrics.ObserveRefresh(string(kind), time.Since(start), err == nil)
	if err != nil {
		d.logger.Warn("dashboard refresh failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}
	d.logger.Debug("dashboard refreshed",
		slog.String("kind", string(kind)),
		slog.Int("changed", changed))
}
