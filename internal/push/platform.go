package push

import "context"

// Permission mirrors the platform notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notifier is the platform notification capability.
type Notifier interface {
	Permission() Permission
	// RequestPermission shows the user prompt. Platforms do not allow it after a denial.
	RequestPermission(ctx context.Context) (Permission, error)
}

// Registrar installs the background handler script.
type Registrar interface {
	Register(ctx context.Context, scriptURL string) (Registration, error)
}

// Registration is a handle to an installed background handler.
type Registration interface {
	Scope() string
	PushManager() PushManager
}

// SubscribeOptions are passed to the platform push service.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// PushManager is the platform push service bound to a registration.
type PushManager interface {
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
	// GetSubscription returns nil, nil when there is no active subscription.
	GetSubscription(ctx context.Context) (Subscription, error)
}

// Subscription is a platform-issued push subscription.
type Subscription interface {
	Endpoint() string
	// Key returns raw key material for "p256dh" or "auth", nil if absent.
	Key(name string) []byte
	Unsubscribe(ctx context.Context) (bool, error)
}

// Backend persists subscription records on the server.
type Backend interface {
	CreateSubscription(ctx context.Context, record Record) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}
