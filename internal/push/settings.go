package push

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnsupported      = errors.New("push notifications are not supported on this platform")
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrSubscribeFailed  = errors.New("failed to subscribe to push notifications")
)

// Settings drives the enable/disable toggle: it pairs the platform lifecycle
// with persisting the record on the backend.
type Settings struct {
	manager *Manager
	backend Backend
}

// NewSettings binds a Manager to the backend that stores records.
func NewSettings(manager *Manager, backend Backend) *Settings {
	return &Settings{manager: manager, backend: backend}
}

// Enable asks for permission, subscribes and registers the record with the backend.
func (s *Settings) Enable(ctx context.Context) (*Record, error) {
	if !s.manager.Supported() {
		return nil, ErrUnsupported
	}
	if !s.manager.RequestPermission(ctx) {
		return nil, ErrPermissionDenied
	}
	if s.manager.RegisterBackgroundHandler(ctx) == nil {
		return nil, ErrSubscribeFailed
	}
	record := s.manager.Subscribe(ctx)
	if record == nil {
		return nil, ErrSubscribeFailed
	}
	if err := s.backend.CreateSubscription(ctx, *record); err != nil {
		return nil, fmt.Errorf("register subscription: %w", err)
	}
	return record, nil
}

// Disable tears down the active subscription and removes it from the backend.
// It is a no-op when nothing is subscribed.
func (s *Settings) Disable(ctx context.Context) error {
	if !s.manager.Supported() {
		return ErrUnsupported
	}
	record := s.manager.CurrentSubscription(ctx)
	if record == nil {
		return nil
	}
	s.manager.Unsubscribe(ctx)
	if err := s.backend.DeleteSubscription(ctx, record.Endpoint); err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}
