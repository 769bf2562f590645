package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message type tags carried in the "type" field.
const (
	TypeStatus    = "status"
	TypeConnected = "connected"
	TypeEmails    = "emails"
	TypeMeetings  = "meetings"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
)

// Values of the "status" field on status events.
const (
	HealthConnected = "connected"
	HealthDegraded  = "degraded"
)

// ErrMissingType is returned for messages without a string "type".
var ErrMissingType = errors.New("stream: message has no type")

// Entities are changed-entity summaries. They are passed to callbacks verbatim.
type Entities []json.RawMessage

// Event is one decoded stream message. The concrete type is one of
// StatusEvent, ConnectedEvent, EmailsEvent, MeetingsEvent, HeartbeatEvent,
// ErrorEvent or UnknownEvent.
type Event interface {
	Type() string
	event()
}

// StatusEvent reports backend health without closing the stream.
type StatusEvent struct {
	Status  string
	Message string
}

// ConnectedEvent is the legacy greeting; it means status connected.
type ConnectedEvent struct {
	Message string
}

// EmailsEvent carries changed emails. Present is false when data was absent or null.
type EmailsEvent struct {
	Data    Entities
	Present bool
}

// MeetingsEvent carries changed meetings.
type MeetingsEvent struct {
	Data    Entities
	Present bool
}

// HeartbeatEvent keeps idle intermediaries from closing the connection.
type HeartbeatEvent struct{}

// ErrorEvent is a backend-reported error. The connection stays open.
type ErrorEvent struct {
	Message string
}

// UnknownEvent is any type tag this client does not understand.
type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (StatusEvent) Type() string    { return TypeStatus }
func (ConnectedEvent) Type() string { return TypeConnected }
func (EmailsEvent) Type() string    { return TypeEmails }
func (MeetingsEvent) Type() string  { return TypeMeetings }
func (HeartbeatEvent) Type() string { return TypeHeartbeat }
func (ErrorEvent) Type() string     { return TypeError }
func (e UnknownEvent) Type() string { return e.Kind }

func (StatusEvent) event()    {}
func (ConnectedEvent) event() {}
func (EmailsEvent) event()    {}
func (MeetingsEvent) event()  {}
func (HeartbeatEvent) event() {}
func (ErrorEvent) event()     {}
func (UnknownEvent) event()   {}

type envelope struct {
	Type    json.RawMessage `json:"type"`
	Status  json.RawMessage `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ParseEvent decodes one message. It fails on invalid JSON and on a missing
// or non-string type; unrecognised types decode to UnknownEvent.
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("stream: decode message: %w", err)
	}
	var kind string
	if err := json.Unmarshal(env.Type, &kind); err != nil || kind == "" {
		return nil, ErrMissingType
	}

	switch kind {
	case TypeStatus:
		return StatusEvent{Status: optString(env.Status), Message: optString(env.Message)}, nil
	case TypeConnected:
		return ConnectedEvent{Message: optString(env.Message)}, nil
	case TypeEmails:
		data, present, err := decodeEntities(env.Data)
		if err != nil {
			return nil, err
		}
		return EmailsEvent{Data: data, Present: present}, nil
	case TypeMeetings:
		data, present, err := decodeEntities(env.Data)
		if err != nil {
			return nil, err
		}
		return MeetingsEvent{Data: data, Present: present}, nil
	case TypeHeartbeat:
		return HeartbeatEvent{}, nil
	case TypeError:
		return ErrorEvent{Message: optString(env.Message)}, nil
	default:
		return UnknownEvent{Kind: kind, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeEntities(raw json.RawMessage) (Entities, bool, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false, nil
	}
	var data Entities
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("stream: data is not a list: %w", err)
	}
	if data == nil {
		data = Entities{}
	}
	return data, true, nil
}

func optString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Marshal encodes an event in the wire format read by ParseEvent. Entity
// events without data are written without a data field.
func Marshal(e Event) ([]byte, error) {
	msg := map[string]any{"type": e.Type()}
	switch v := e.(type) {
	case StatusEvent:
		msg["status"] = v.Status
		if v.Message != "" {
			msg["message"] = v.Message
		}
	case ConnectedEvent:
		if v.Message != "" {
			msg["message"] = v.Message
		}
	case EmailsEvent:
		if v.Present {
			msg["data"] = nonNil(v.Data)
		}
	case MeetingsEvent:
		if v.Present {
			msg["data"] = nonNil(v.Data)
		}
	case ErrorEvent:
		msg["message"] = v.Message
	case UnknownEvent:
		if len(v.Raw) > 0 {
			return append([]byte(nil), v.Raw...), nil
		}
	}
	return json.Marshal(msg)
}

func nonNil(data Entities) Entities {
	if data == nil {
		return Entities{}
	}
	return data
}
