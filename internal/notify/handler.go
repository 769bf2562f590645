// Package notify is the background notification handler. It runs outside any
// UI window: it turns push payloads into system notifications and routes
// notification clicks back into the application.
//
// The decision logic lives in pure functions (HandlePush, HandleClick); Worker
// adapts them to a platform Runtime.
package notify

import (
	"encoding/json"
	"net/url"
)

// Defaults applied field by field when a payload omits or mangles a value.
const (
	DefaultTitle = "Proactive AI"
	DefaultBody  = "You have a new notification"
	DefaultIcon  = "/icon-192x192.png"
	DefaultBadge = "/badge-72x72.png"

	// Tag groups notifications so a new one replaces the previous one.
	Tag = "proactive-ai-notification"
)

// Routes the click handler can open. Keep in sync with the application routes.
const (
	RouteRoot     = "/"
	RouteEmails   = "/emails"
	RouteMeetings = "/meetings"
)

// Payload is the decoded push message.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Intent describes the system notification to display.
type Intent struct {
	Title              string
	Body               string
	Icon               string
	Badge              string
	Tag                string
	RequireInteraction bool
	Data               map[string]any
}

// Window is an open application window known to the platform.
type Window struct {
	ID  string
	URL string
}

// ClickIntent is what to do after a notification click. Exactly one of
// FocusID and OpenURL is set.
type ClickIntent struct {
	Close bool
	// FocusID is the window to bring forward.
	FocusID string
	// NavigateURL, when set with FocusID, moves the focused window to a view.
	NavigateURL string
	// OpenURL is a path to open in a new window.
	OpenURL string
}

// HandlePush decodes raw push data into a notification. It never fails:
// data that is not a JSON object becomes the body of a default notification.
func HandlePush(raw []byte) Intent {
	intent := Intent{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Tag:   Tag,
		Data:  map[string]any{},
	}
	if len(raw) == 0 {
		return intent
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		intent.Body = string(raw)
		return intent
	}

	intent.Title = stringOr(fields["title"], intent.Title)
	intent.Body = stringOr(fields["body"], intent.Body)
	intent.Icon = stringOr(fields["icon"], intent.Icon)
	intent.Badge = stringOr(fields["badge"], intent.Badge)
	if data, ok := fields["data"].(map[string]any); ok {
		intent.Data = data
	}
	return intent
}

// Route maps a notification data type to an application path.
func Route(kind string) string {
	switch kind {
	case "email":
		return RouteEmails
	case "meeting":
		return RouteMeetings
	default:
		return RouteRoot
	}
}

// TypeOf extracts data.type, tolerating missing or non-string values.
func TypeOf(data map[string]any) string {
	kind, _ := data["type"].(string)
	return kind
}

// HandleClick picks the window action for a clicked notification. A window
// already open at the root is reused and navigated to the routed view;
// otherwise a new window opens there.
func HandleClick(data map[string]any, windows []Window) ClickIntent {
	target := Route(TypeOf(data))
	for _, w := range windows {
		if isRoot(w.URL) {
			intent := ClickIntent{Close: true, FocusID: w.ID}
			if target != RouteRoot {
				intent.NavigateURL = target
			}
			return intent
		}
	}
	return ClickIntent{Close: true, OpenURL: target}
}

func isRoot(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Path == RouteRoot || (u.Path == "" && u.Host != "")
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
