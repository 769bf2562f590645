// Package handlers provides HTTP request handlers for the dashsync relay.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/dashsync/internal/auth"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/push"
	"github.com/oremus-labs/dashsync/internal/store"
	"github.com/oremus-labs/dashsync/internal/validator"
)

// UserKey is the gin context key holding the authenticated user id.
const UserKey = "userID"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Options configures handler runtime behavior.
type Options struct {
	HeartbeatInterval time.Duration
	TriggerEnabled    bool
	// VAPIDPublicKey is handed to clients that subscribe for push.
	VAPIDPublicKey string
	Logger         *logutil.Logger
}

type subscriptionStore interface {
	UpsertSubscription(context.Context, *store.Subscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	ListSubscriptions(ctx context.Context, userID string) ([]store.Subscription, error)
}

type updateBus interface {
	Distributed() bool
	Subscribe(ctx context.Context, userID string) (<-chan []byte, func(), error)
	Publish(ctx context.Context, userID string, payload []byte) error
}

type tokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type schemaValidator interface {
	Validate(kind validator.Kind, raw []byte) validator.Result
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	store     subscriptionStore
	bus       updateBus
	tokens    tokenVerifier
	validator schemaValidator
	logger    *logutil.Logger
	opts      Options
}

// New creates a new Handler instance.
func New(st subscriptionStore, bus updateBus, tokens tokenVerifier, val schemaValidator, opts Options) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.Default()
	}
	return &Handler{
		store:     st,
		bus:       bus,
		tokens:    tokens,
		validator: val,
		logger:    logger.WithComponent("handlers"),
		opts:      opts,
	}
}

// Authenticate resolves the bearer token on r to a user id.
func (h *Handler) Authenticate(r *http.Request) (string, error) {
	token, err := auth.FromRequest(r)
	if err != nil {
		return "", err
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// RequireUser aborts with 401 unless the request carries a valid token.
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := h.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(UserKey, userID)
		c.Next()
	}
}

// VAPIDKey returns the server's push public key.
func (h *Handler) VAPIDKey(c *gin.Context) {
	if h.opts.VAPIDPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "push not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.opts.VAPIDPublicKey})
}

// Health reports liveness and the realtime mode.
func (h *Handler) Health(c *gin.Context) {
	mode := "distributed"
	if h.bus == nil || !h.bus.Distributed() {
		mode = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"realtime": mode,
	})
}

// Subscribe registers or refreshes a push subscription for the caller.
func (h *Handler) Subscribe(c *gin.Context) {
	userID := c.GetString(UserKey)
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if res := h.validator.Validate(validator.KindSubscription, raw); !res.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription", "details": res.Errors})
		return
	}

	var record push.Record
	if err := bindJSON(raw, &record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := &store.Subscription{UserID: userID, Endpoint: record.Endpoint, P256dh: record.P256dh, Auth: record.Auth}
	if err := h.store.UpsertSubscription(c.Request.Context(), sub); err != nil {
		h.logger.Error("register push subscription failed", slog.String("user", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error registering push subscription"})
		return
	}
	h.logger.Info("push subscription registered", slog.String("user", userID), slog.String("id", sub.ID))
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Push subscription registered", "id": sub.ID})
}

// Unsubscribe removes the caller's subscription for ?endpoint=.
func (h *Handler) Unsubscribe(c *gin.Context) {
	userID := c.GetString(UserKey)
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	err := h.store.DeleteSubscription(c.Request.Context(), userID, endpoint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
	case err != nil:
		h.logger.Error("remove push subscription failed", slog.String("user", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error removing push subscription"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Push subscription removed"})
	}
}

type subscriptionSummary struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSubscriptions returns the caller's subscriptions without key material.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID := c.GetString(UserKey)
	subs, err := h.store.ListSubscriptions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching subscriptions"})
		return
	}
	out := make([]subscriptionSummary, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionSummary{ID: s.ID, Endpoint: s.Endpoint, CreatedAt: s.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "subscriptions": out})
}
