// Package backend is the HTTP client for the relay's push and realtime API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oremus-labs/dashsync/internal/push"
	"github.com/oremus-labs/dashsync/internal/stream"
)

// API paths.
const (
	StreamPath        = "/api/realtime/stream"
	TriggerPath       = "/api/realtime/trigger"
	SubscribePath     = "/api/push/subscribe"
	UnsubscribePath   = "/api/push/unsubscribe"
	SubscriptionsPath = "/api/push/subscriptions"
	VAPIDKeyPath      = "/api/push/vapid-public-key"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("backend: not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s failed: %s: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Method, e.Path, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client wraps API calls.
type Client struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SubscriptionSummary is one entry of the subscriptions listing.
type SubscriptionSummary struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamURL is the absolute event stream URL.
func (c *Client) StreamURL() string {
	return strings.TrimRight(c.BaseURL, "/") + StreamPath
}

// CreateSubscription registers a push record for the token's user.
func (c *Client) CreateSubscription(ctx context.Context, record push.Record) error {
	return c.doJSON(ctx, http.MethodPost, SubscribePath, record, nil)
}

// DeleteSubscription removes the subscription with endpoint.
func (c *Client) DeleteSubscription(ctx context.Context, endpoint string) error {
	path := UnsubscribePath + "?" + url.Values{"endpoint": {endpoint}}.Encode()
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ListSubscriptions returns the token's registered subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]SubscriptionSummary, error) {
	var resp struct {
		Subscriptions []SubscriptionSummary `json:"subscriptions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, SubscriptionsPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// VAPIDPublicKey fetches the relay's push public key in base64url form.
func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.doJSON(ctx, http.MethodGet, VAPIDKeyPath, nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// Trigger publishes ev to the token's own streams.
func (c *Client) Trigger(ctx context.Context, ev stream.Event) error {
	payload, err := stream.Marshal(ev)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, TriggerPath, json.RawMessage(payload), nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, target interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target interface{}) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{
			Method: req.Method,
			Path:   req.URL.Path,
			Status: resp.Status,
			Code:   resp.StatusCode,
			Detail: errorDetail(resp.Body),
		}
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func errorDetail(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}

var _ push.Backend = (*Client)(nil)
