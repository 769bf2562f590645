package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/dashsync/internal/auth"
	"github.com/oremus-labs/dashsync/internal/events"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/store"
	"github.com/oremus-labs/dashsync/internal/stream"
	"github.com/oremus-labs/dashsync/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

type fakeStore struct {
	mu   sync.Mutex
	subs map[string]store.Subscription
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[string]store.Subscription{}}
}

func (f *fakeStore) UpsertSubscription(ctx context.Context, sub *store.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	key := sub.UserID + "|" + sub.Endpoint
	existing, ok := f.subs[key]
	if ok {
		sub.ID, sub.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		sub.ID, sub.CreatedAt = "sub-"+sub.Endpoint[len(sub.Endpoint)-1:], time.Unix(1700000000, 0).UTC()
	}
	f.subs[key] = *sub
	return nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + endpoint
	if _, ok := f.subs[key]; !ok {
		return store.ErrNotFound
	}
	delete(f.subs, key)
	return nil
}

func (f *fakeStore) ListSubscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Subscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fixture struct {
	handler *Handler
	store   *fakeStore
	bus     *events.Bus
	tokens  *auth.Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	val, err := validator.New(validator.Options{})
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}
	opts.Logger = logutil.Discard()
	f := &fixture{
		store:  newFakeStore(),
		bus:    events.NewBus(events.Options{Logger: logutil.Discard()}),
		tokens: auth.NewService(testSecret, time.Hour),
	}
	f.handler = New(f.store, f.bus, f.tokens, val, opts)
	return f
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.tokens.Issue(userID, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (f *fixture) engine() *gin.Engine {
	engine := gin.New()
	engine.GET("/api/realtime/stream", f.handler.StreamUpdates)
	protected := engine.Group("/api")
	protected.Use(f.handler.RequireUser())
	protected.POST("/push/subscribe", f.handler.Subscribe)
	protected.DELETE("/push/unsubscribe", f.handler.Unsubscribe)
	protected.GET("/push/subscriptions", f.handler.ListSubscriptions)
	protected.POST("/realtime/trigger", f.handler.Trigger)
	return engine
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine().ServeHTTP(w, req)
	return w
}

func TestSubscribeUpsertsAndLists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	token := f.token(t, "7")
	body := `{"endpoint":"https://push.example.com/a","p256dh":"BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM","auth":"tBHItJI5svbpez7KI4CCXg"}`

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/push/subscribe", body, token)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200 got %d body=%s", w.Code, w.Body.String())
		}
	}

	w := f.do(t, http.MethodGet, "/api/push/subscriptions", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", w.Code)
	}
	var resp struct {
		Subscriptions []map[string]interface{} `json:"subscriptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Subscriptions) != 1 {
		t.Fatalf("expected one subscription, got %+v", resp.Subscriptions)
	}
	sub := resp.Subscriptions[0]
	if sub["endpoint"] != "https://push.example.com/a" || sub["created_at"] == nil {
		t.Fatalf("unexpected summary %+v", sub)
	}
	if _, leaked := sub["p256dh"]; leaked {
		t.Fatalf("key material must not be listed")
	}
}

func TestSubscribeRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	w := f.do(t, http.MethodPost, "/api/push/subscribe", `{"endpoint":"https://push.example.com/a"}`, f.token(t, "7"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid subscription") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if len(f.store.subs) != 0 {
		t.Fatalf("store must not be called")
	}
}

func TestSubscribeStoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.store.err = errors.New("disk full")
	w := f.do(t, http.MethodPost, "/api/push/subscribe", `{"endpoint":"https://push.example.com/a","p256dh":"a","auth":"b"}`, f.token(t, "7"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	for _, path := range []string{"/api/push/subscriptions"} {
		if w := f.do(t, http.MethodGet, path, "", ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, w.Code)
		}
		if w := f.do(t, http.MethodGet, path, "", "forged"); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 for bad token got %d", path, w.Code)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	token := f.token(t, "7")
	f.do(t, http.MethodPost, "/api/push/subscribe", `{"endpoint":"https://push.example.com/a","p256dh":"a","auth":"b"}`, token)

	if w := f.do(t, http.MethodDelete, "/api/push/unsubscribe", "", token); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without endpoint got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/push/unsubscribe?endpoint=https://push.example.com/a", "", f.token(t, "8")); w.Code != http.StatusNotFound {
		t.Fatalf("other users must not delete the subscription, got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/push/unsubscribe?endpoint=https://push.example.com/a", "", token); w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/push/unsubscribe?endpoint=https://push.example.com/a", "", token); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", w.Code)
	}
}

func TestTriggerDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	if w := f.do(t, http.MethodPost, "/api/realtime/trigger", `{"type":"emails","data":[]}`, f.token(t, "7")); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when disabled got %d", w.Code)
	}
}

func TestTriggerPublishesToCaller(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{TriggerEnabled: true})
	updates, cancel, _ := f.bus.Subscribe(context.Background(), "7")
	defer cancel()

	if w := f.do(t, http.MethodPost, "/api/realtime/trigger", `{"type":"shutdown"}`, f.token(t, "7")); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type got %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/realtime/trigger", `{"type":"meetings","data":[{"id":"m1"}]}`, f.token(t, "7"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}

	select {
	case payload := <-updates:
		ev, err := stream.ParseEvent(payload)
		if err != nil {
			t.Fatalf("ParseEvent: %v", err)
		}
		if m, ok := ev.(stream.MeetingsEvent); !ok || len(m.Data) != 1 {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message published")
	}
}

func TestTriggerKeepsDataAbsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{TriggerEnabled: true})
	updates, cancel, _ := f.bus.Subscribe(context.Background(), "7")
	defer cancel()

	if w := f.do(t, http.MethodPost, "/api/realtime/trigger", `{"type":"emails"}`, f.token(t, "7")); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	select {
	case payload := <-updates:
		ev, err := stream.ParseEvent(payload)
		if err != nil {
			t.Fatalf("ParseEvent: %v", err)
		}
		if e, ok := ev.(stream.EmailsEvent); !ok || e.Present {
			t.Fatalf("expected emails event without data, got %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message published")
	}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	w := f.do(t, http.MethodGet, "/api/realtime/stream", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "text/event-stream" || w.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected headers %v", w.Header())
	}
	if got := w.Body.String(); got != "data: {\"message\":\"Unauthorized\",\"type\":\"error\"}\n\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestStreamDegradedModeWithQueryToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	srv := httptest.NewServer(f.engine())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/realtime/stream?token="+f.token(t, "7"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, resp.Header)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() stream.Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				ev, err := stream.ParseEvent([]byte(data))
				if err != nil {
					t.Fatalf("ParseEvent(%s): %v", data, err)
				}
				return ev
			}
		}
	}

	if ev, ok := next().(stream.StatusEvent); !ok || ev.Status != stream.HealthConnected {
		t.Fatalf("expected connected status first, got %#v", ev)
	}
	if ev, ok := next().(stream.StatusEvent); !ok || ev.Status != stream.HealthDegraded {
		t.Fatalf("expected degraded status, got %#v", ev)
	}
	if _, ok := next().(stream.HeartbeatEvent); !ok {
		t.Fatalf("expected heartbeat")
	}

	for f.bus.Subscribers("7") == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := f.bus.PublishEvent(context.Background(), "7", stream.EmailsEvent{Data: stream.Entities{}, Present: true}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	for {
		ev := next()
		if _, ok := ev.(stream.HeartbeatEvent); ok {
			continue
		}
		if emails, ok := ev.(stream.EmailsEvent); !ok || !emails.Present {
			t.Fatalf("expected emails event, got %#v", ev)
		}
		break
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	f.handler.Health(c)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"realtime":"degraded"`) {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestVAPIDKey(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		key  string
		want int
	}{
		{"", http.StatusNotFound},
		{"BAQL_", http.StatusOK},
	} {
		f := newFixture(t, Options{VAPIDPublicKey: tc.key})
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/push/vapid-public-key", nil)
		f.handler.VAPIDKey(c)
		if w.Code != tc.want {
			t.Fatalf("key %q: expected %d got %d", tc.key, tc.want, w.Code)
		}
		if tc.key != "" && !strings.Contains(w.Body.String(), `"publicKey":"BAQL_"`) {
			t.Fatalf("unexpected body %s", w.Body.String())
		}
	}
}
