package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/metrics"
)

// State is the handler lifecycle phase.
type State string

const (
	StateInstalling State = "installing"
	StateActivating State = "activating"
	StateIdle       State = "idle"
)

// NotificationOptions are the display options passed to the platform.
type NotificationOptions struct {
	Body               string
	Icon               string
	Badge              string
	Tag                string
	RequireInteraction bool
	Data               map[string]any
}

// Notification is a displayed notification the user interacted with.
type Notification interface {
	Data() map[string]any
	Close()
}

// Runtime is the platform surface available to the background context.
type Runtime interface {
	// SkipWaiting makes a new handler version take over immediately.
	SkipWaiting(ctx context.Context) error
	// ClaimClients takes control of already-open windows.
	ClaimClients(ctx context.Context) error
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) error
	// Windows lists open application windows, including uncontrolled ones.
	Windows(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, windowID string) error
	Navigate(ctx context.Context, windowID, path string) error
	// OpenWindow reports false when the platform cannot open windows.
	OpenWindow(ctx context.Context, path string) (bool, error)
}

// Worker adapts the pure handlers to a Runtime. There is no channel back to
// the UI, so every runtime failure is logged and dropped.
type Worker struct {
	runtime Runtime
	logger  *logutil.Logger

	mu    sync.Mutex
	state State
}

// NewWorker returns a handler in the installing state.
func NewWorker(runtime Runtime, logger *logutil.Logger) *Worker {
	if logger == nil {
		logger = logutil.Default()
	}
	return &Worker{
		runtime: runtime,
		logger:  logger.WithComponent("notify"),
		state:   StateInstalling,
	}
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Install replaces any previous version without waiting for its windows to close.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling, StateActivating); err != nil {
		return err
	}
	w.logger.Info("background handler installing")
	if err := w.runtime.SkipWaiting(ctx); err != nil {
		w.logger.Warn("skip waiting failed", slog.String("error", err.Error()))
	}
	return nil
}

// Activate claims open windows and moves to idle.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating, StateIdle); err != nil {
		return err
	}
	w.logger.Info("background handler activating")
	if err := w.runtime.ClaimClients(ctx); err != nil {
		w.logger.Warn("claim clients failed", slog.String("error", err.Error()))
	}
	return nil
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("notify: cannot move to %s from %s", to, w.state)
	}
	w.state = to
	return nil
}

// OnPush displays a notification for a push message.
func (w *Worker) OnPush(ctx context.Context, raw []byte) Intent {
	intent := HandlePush(raw)
	err := w.runtime.ShowNotification(ctx, intent.Title, NotificationOptions{
		Body:               intent.Body,
		Icon:               intent.Icon,
		Badge:              intent.Badge,
		Tag:                intent.Tag,
		RequireInteraction: intent.RequireInteraction,
		Data:               intent.Data,
	})
	if err != nil {
		w.logger.Error("show notification failed", slog.String("error", err.Error()))
		return intent
	}
	metrics.ObserveNotification(TypeOf(intent.Data))
	return intent
}

// OnClick closes the notification and brings the routed view forward.
func (w *Worker) OnClick(ctx context.Context, n Notification) ClickIntent {
	n.Close()

	windows, err := w.runtime.Windows(ctx)
	if err != nil {
		w.logger.Warn("listing windows failed", slog.String("error", err.Error()))
		windows = nil
	}
	intent := HandleClick(n.Data(), windows)

	if intent.FocusID != "" {
		if err := w.runtime.Focus(ctx, intent.FocusID); err != nil {
			w.logger.Warn("focus window failed", slog.String("error", err.Error()))
		}
		if intent.NavigateURL != "" {
			if err := w.runtime.Navigate(ctx, intent.FocusID, intent.NavigateURL); err != nil {
				w.logger.Warn("navigate window failed", slog.String("error", err.Error()))
			}
		}
		return intent
	}

	opened, err := w.runtime.OpenWindow(ctx, intent.OpenURL)
	if err != nil {
		w.logger.Warn("open window failed",
			slog.String("path", intent.OpenURL),
			slog.String("error", err.Error()))
	} else if !opened {
		w.logger.Debug("platform cannot open windows", slog.String("path", intent.OpenURL))
	}
	return intent
}
