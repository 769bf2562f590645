package openapi

import (
	"encoding/json"
	"testing"
)

func TestJSONListsRelayPaths(t *testing.T) {
	t.Parallel()

	raw, err := JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.OpenAPI == "" {
		t.Fatalf("missing openapi version")
	}
	for _, path := range []string{"/api/realtime/stream", "/api/push/subscribe", "/api/push/unsubscribe", "/api/push/subscriptions"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Fatalf("path %s not documented", path)
		}
	}
}
