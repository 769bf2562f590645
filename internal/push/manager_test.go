package push

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/oremus-labs/dashsync/internal/keycodec"
	"github.com/oremus-labs/dashsync/internal/logutil"
)

const testVAPIDKey = "BEl62iUYgUivxIkv69yViEuiBIa-Ib9-SkvMeAtA3LFgDzkrxZJjSgSnfckjBJuBkr3qBUYIHBQFLXYp5Nksh8U"

type fakeNotifier struct {
	permission Permission
	answer     Permission
	prompts    int
}

func (f *fakeNotifier) Permission() Permission { return f.permission }

func (f *fakeNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	f.prompts++
	f.permission = f.answer
	return f.answer, nil
}

type fakeSubscription struct {
	endpoint     string
	keys         map[string][]byte
	unsubscribed int
	unsubErr     error
}

func (s *fakeSubscription) Endpoint() string { return s.endpoint }
func (s *fakeSubscription) Key(name string) []byte { return s.keys[name] }
func (s *fakeSubscription) Unsubscribe(ctx context.Context) (bool, error) {
	s.unsubscribed++
	if s.unsubErr != nil {
		return false, s.unsubErr
	}
	return true, nil
}

type fakePushManager struct {
	current    Subscription
	next       *fakeSubscription
	subErr     error
	lastOpts   SubscribeOptions
	subscribes int
	lookups    int
}

func (p *fakePushManager) Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error) {
	p.subscribes++
	p.lastOpts = opts
	if p.subErr != nil {
		return nil, p.subErr
	}
	p.current = p.next
	return p.next, nil
}

func (p *fakePushManager) GetSubscription(ctx context.Context) (Subscription, error) {
	p.lookups++
	if p.current == nil {
		return nil, nil
	}
	return p.current, nil
}

type fakeRegistration struct {
	pm *fakePushManager
}

func (r *fakeRegistration) Scope() string { return "/" }
func (r *fakeRegistration) PushManager() PushManager { return r.pm }

type fakeRegistrar struct {
	reg   *fakeRegistration
	err   error
	calls int
}

func (r *fakeRegistrar) Register(ctx context.Context, scriptURL string) (Registration, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.reg, nil
}

type fixture struct {
	notifier  *fakeNotifier
	registrar *fakeRegistrar
	pm        *fakePushManager
	manager   *Manager
}

func newFixture(t *testing.T, permission Permission) *fixture {
	t.Helper()
	pm := &fakePushManager{
		next: &fakeSubscription{
			endpoint: "https://push.example.com/send/abc",
			keys: map[string][]byte{
				"p256dh": {0x04, 0xfb, 0xff, 0x10},
				"auth":   {0x01, 0x02, 0x03},
			},
		},
	}
	f := &fixture{
		notifier:  &fakeNotifier{permission: permission, answer: PermissionGranted},
		registrar: &fakeRegistrar{reg: &fakeRegistration{pm: pm}},
		pm:        pm,
	}
	m, err := New(Options{
		Notifier:       f.notifier,
		Registrar:      f.registrar,
		VAPIDPublicKey: testVAPIDKey,
		Logger:         logutil.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.manager = m
	return f
}

func TestNewRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	_, err := New(Options{VAPIDPublicKey: "not*base64"})
	var decodeErr *keycodec.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRequestPermission(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		permission  Permission
		answer      Permission
		want        bool
		wantPrompts int
	}{
		{"granted", PermissionGranted, PermissionGranted, true, 0},
		{"denied never prompts", PermissionDenied, PermissionGranted, false, 0},
		{"default prompts once and accepts", PermissionDefault, PermissionGranted, true, 1},
		{"default prompts once and declines", PermissionDefault, PermissionDenied, false, 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.permission)
			f.notifier.answer = tc.answer
			if got := f.manager.RequestPermission(context.Background()); got != tc.want {
				t.Fatalf("expected %t got %t", tc.want, got)
			}
			if f.notifier.prompts != tc.wantPrompts {
				t.Fatalf("expected %d prompts got %d", tc.wantPrompts, f.notifier.prompts)
			}
		})
	}
}

func TestRequestPermissionWithoutCapability(t *testing.T) {
	t.Parallel()

	m, err := New(Options{VAPIDPublicKey: testVAPIDKey, Logger: logutil.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.RequestPermission(context.Background()) {
		t.Fatalf("expected false without notifier")
	}
	if m.Status(context.Background()) != StatusUnsupported {
		t.Fatalf("expected unsupported status")
	}
}

func TestRegisterBackgroundHandlerIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	first := f.manager.RegisterBackgroundHandler(context.Background())
	second := f.manager.RegisterBackgroundHandler(context.Background())
	if first == nil || first != second {
		t.Fatalf("expected same registration, got %v and %v", first, second)
	}
	if f.registrar.calls != 1 {
		t.Fatalf("expected one platform registration, got %d", f.registrar.calls)
	}
}

func TestRegisterBackgroundHandlerFailsSoft(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	f.registrar.err = errors.New("rejected")
	if reg := f.manager.RegisterBackgroundHandler(context.Background()); reg != nil {
		t.Fatalf("expected nil registration, got %v", reg)
	}
	if rec := f.manager.Subscribe(context.Background()); rec != nil {
		t.Fatalf("expected nil record without handler, got %+v", rec)
	}
}

func TestSubscribeProducesRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	rec := f.manager.Subscribe(context.Background())
	if rec == nil {
		t.Fatalf("expected record")
	}
	if rec.Endpoint != "https://push.example.com/send/abc" {
		t.Fatalf("unexpected endpoint %s", rec.Endpoint)
	}
	if rec.P256dh != keycodec.Encode([]byte{0x04, 0xfb, 0xff, 0x10}) || rec.Auth != "AQID" {
		t.Fatalf("unexpected keys %+v", rec)
	}
	if !f.pm.lastOpts.UserVisibleOnly {
		t.Fatalf("expected userVisibleOnly subscription")
	}
	wantKey, err := keycodec.Decode(testVAPIDKey)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(f.pm.lastOpts.ApplicationServerKey, wantKey) {
		t.Fatalf("server key not passed through")
	}
	if f.registrar.calls != 1 {
		t.Fatalf("expected auto-registration, got %d calls", f.registrar.calls)
	}
}

func TestSubscribeDeniedDoesNotPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionDenied)
	if rec := f.manager.Subscribe(context.Background()); rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
	if f.notifier.prompts != 0 {
		t.Fatalf("expected no prompt, got %d", f.notifier.prompts)
	}
	if f.pm.subscribes != 0 {
		t.Fatalf("expected no platform subscribe call")
	}
}

func TestSubscribePlatformRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	f.pm.subErr = errors.New("invalid applicationServerKey")
	if rec := f.manager.Subscribe(context.Background()); rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestUnsubscribeWithoutSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	if f.manager.Unsubscribe(context.Background()) {
		t.Fatalf("expected false")
	}
	if f.pm.lookups != 0 || f.registrar.calls != 0 {
		t.Fatalf("expected no platform calls, got lookups=%d registrations=%d", f.pm.lookups, f.registrar.calls)
	}
}

func TestUnsubscribeClearsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	if f.manager.Subscribe(context.Background()) == nil {
		t.Fatalf("subscribe failed")
	}
	if !f.manager.Unsubscribe(context.Background()) {
		t.Fatalf("expected true")
	}
	if f.pm.next.unsubscribed != 1 {
		t.Fatalf("expected platform unsubscribe")
	}
	if f.manager.Unsubscribe(context.Background()) {
		t.Fatalf("second unsubscribe should be a no-op")
	}
}

func TestCurrentSubscriptionDetectsRevocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PermissionGranted)
	if f.manager.Subscribe(context.Background()) == nil {
		t.Fatalf("subscribe failed")
	}
	if rec := f.manager.CurrentSubscription(context.Background()); rec == nil {
		t.Fatalf("expected current subscription")
	}
	f.pm.current = nil
	if rec := f.manager.CurrentSubscription(context.Background()); rec != nil {
		t.Fatalf("expected nil after revocation, got %+v", rec)
	}
	if f.manager.Unsubscribe(context.Background()) {
		t.Fatalf("revoked subscription should not be unsubscribed")
	}
	if f.notifier.prompts != 0 {
		t.Fatalf("lookup must not prompt")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		permission Permission
		subscribed bool
		want       Status
	}{
		{PermissionDefault, false, StatusDisabled},
		{PermissionDenied, false, StatusBlocked},
		{PermissionGranted, false, StatusGranted},
		{PermissionGranted, true, StatusEnabled},
	}
	for _, tc := range cases {
		f := newFixture(t, tc.permission)
		if tc.subscribed {
			f.pm.current = f.pm.next
		}
		if got := f.manager.Status(context.Background()); got != tc.want {
			t.Fatalf("permission=%s subscribed=%t: expected %s got %s", tc.permission, tc.subscribed, tc.want, got)
		}
	}
}

func TestToRecordMissingKeys(t *testing.T) {
	t.Parallel()

	rec := ToRecord(&fakeSubscription{endpoint: "https://push.example.com/x"})
	if rec.P256dh != "" || rec.Auth != "" {
		t.Fatalf("expected empty keys, got %+v", rec)
	}
	if ToRecord(nil) != nil {
		t.Fatalf("expected nil record for nil subscription")
	}
}
