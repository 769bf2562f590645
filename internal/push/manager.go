// Package push owns the push-notification subscription lifecycle: permission
// negotiation, background handler registration and subscribe/unsubscribe
// against the platform push service.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/oremus-labs/dashsync/internal/keycodec"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/metrics"
)

// DefaultScriptURL is where the background handler script is served.
const DefaultScriptURL = "/sw.js"

// Record is the transport form of a subscription sent to the backend.
type Record struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Status summarizes the subscription state for the settings view.
type Status string

const (
	StatusUnsupported Status = "unsupported"
	StatusBlocked     Status = "blocked"
	StatusEnabled     Status = "enabled"
	StatusGranted     Status = "granted"
	StatusDisabled    Status = "disabled"
)

// Options configure a Manager.
type Options struct {
	// Notifier is nil when the platform has no notification capability.
	Notifier Notifier
	// Registrar is nil when the platform has no background handler support.
	Registrar Registrar
	// VAPIDPublicKey is the server key in base64url form.
	VAPIDPublicKey string
	ScriptURL      string
	Logger         *logutil.Logger
}

// Manager owns the current registration and subscription.
type Manager struct {
	notifier  Notifier
	registrar Registrar
	serverKey []byte
	scriptURL string
	logger    *logutil.Logger

	mu           sync.Mutex
	registration Registration
	subscription Subscription
}

// New validates the server key and returns a Manager. A key that does not
// decode is a deployment error and the only hard failure in this package.
func New(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.VAPIDPublicKey) == "" {
		return nil, errors.New("push: VAPID public key is required")
	}
	key, err := keycodec.Decode(opts.VAPIDPublicKey)
	if err != nil {
		return nil, fmt.Errorf("push: decode VAPID public key: %w", err)
	}
	scriptURL := opts.ScriptURL
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.Default()
	}
	return &Manager{
		notifier:  opts.Notifier,
		registrar: opts.Registrar,
		serverKey: key,
		scriptURL: scriptURL,
		logger:    logger.WithComponent("push"),
	}, nil
}

// Supported reports whether both notifications and background handlers exist.
func (m *Manager) Supported() bool {
	return m.notifier != nil && m.registrar != nil
}

// RequestPermission returns true when notifications may be shown. It prompts
// at most once and never after a denial.
func (m *Manager) RequestPermission(ctx context.Context) bool {
	if m.notifier == nil {
		m.logger.Warn("notifications not supported on this platform")
		return false
	}
	switch m.notifier.Permission() {
	case PermissionGranted:
		return true
	case PermissionDenied:
		return false
	}
	result, err := m.notifier.RequestPermission(ctx)
	if err != nil {
		m.logger.Error("permission prompt failed", slog.String("error", err.Error()))
		return false
	}
	return result == PermissionGranted
}

// RegisterBackgroundHandler installs the handler once and returns the same
// registration on later calls. It returns nil when the platform refuses.
func (m *Manager) RegisterBackgroundHandler(ctx context.Context) Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(ctx)
}

func (m *Manager) registerLocked(ctx context.Context) Registration {
	if m.registration != nil {
		return m.registration
	}
	if m.registrar == nil {
		return nil
	}
	reg, err := m.registrar.Register(ctx, m.scriptURL)
	if err != nil {
		m.logger.Error("background handler registration failed",
			slog.String("script", m.scriptURL),
			slog.String("error", err.Error()))
		return nil
	}
	m.registration = reg
	return reg
}

// Subscribe requests a fresh platform subscription and returns its record,
// or nil on any failure.
func (m *Manager) Subscribe(ctx context.Context) *Record {
	if m.notifier == nil || m.notifier.Permission() == PermissionDenied {
		metrics.ObservePushOperation("subscribe", "denied")
		return nil
	}
	if m.notifier.Permission() != PermissionGranted && !m.RequestPermission(ctx) {
		metrics.ObservePushOperation("subscribe", "denied")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.registerLocked(ctx)
	if reg == nil {
		m.logger.Error("background handler not available")
		metrics.ObservePushOperation("subscribe", "failed")
		return nil
	}
	sub, err := reg.PushManager().Subscribe(ctx, SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: m.serverKey,
	})
	if err != nil || sub == nil {
		if err == nil {
			err = errors.New("platform returned no subscription")
		}
		m.logger.Error("push subscription failed", slog.String("error", err.Error()))
		metrics.ObservePushOperation("subscribe", "failed")
		return nil
	}
	m.subscription = sub
	metrics.ObservePushOperation("subscribe", "success")
	return ToRecord(sub)
}

// Unsubscribe tears down the cached subscription. It returns false without
// touching the platform when nothing is cached.
func (m *Manager) Unsubscribe(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscription == nil {
		return false
	}
	ok, err := m.subscription.Unsubscribe(ctx)
	if err != nil {
		m.logger.Error("push unsubscription failed", slog.String("error", err.Error()))
		metrics.ObservePushOperation("unsubscribe", "failed")
		return false
	}
	m.subscription = nil
	metrics.ObservePushOperation("unsubscribe", "success")
	return ok
}

// CurrentSubscription looks up the active platform subscription without
// creating one. A subscription revoked by the platform clears the cache.
func (m *Manager) CurrentSubscription(ctx context.Context) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.registerLocked(ctx)
	if reg == nil {
		return nil
	}
	sub, err := reg.PushManager().GetSubscription(ctx)
	if err != nil {
		m.logger.Error("subscription lookup failed", slog.String("error", err.Error()))
		return nil
	}
	m.subscription = sub
	if sub == nil {
		return nil
	}
	return ToRecord(sub)
}

// Status reports what the settings view should display.
func (m *Manager) Status(ctx context.Context) Status {
	if !m.Supported() {
		return StatusUnsupported
	}
	if m.CurrentSubscription(ctx) != nil {
		return StatusEnabled
	}
	switch m.notifier.Permission() {
	case PermissionDenied:
		return StatusBlocked
	case PermissionGranted:
		return StatusGranted
	default:
		return StatusDisabled
	}
}

// ToRecord serializes a platform subscription. Missing keys become empty strings.
func ToRecord(sub Subscription) *Record {
	if sub == nil {
		return nil
	}
	return &Record{
		Endpoint: sub.Endpoint(),
		P256dh:   encodeKey(sub.Key("p256dh")),
		Auth:     encodeKey(sub.Key("auth")),
	}
}

func encodeKey(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return keycodec.Encode(b)
}
