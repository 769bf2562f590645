// Package validator checks request bodies received by the relay against
// JSON schemas.
package validator

import (
	"fmt"
	"os"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Kind names a validated document type.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindTrigger      Kind = "trigger"
)

const subscriptionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["endpoint", "p256dh", "auth"],
  "properties": {
    "endpoint": {"type": "string", "pattern": "^https?://", "maxLength": 2048},
    "p256dh": {"type": "string", "pattern": "^[A-Za-z0-9_-]+={0,2}$", "minLength": 1, "maxLength": 256},
    "auth": {"type": "string", "pattern": "^[A-Za-z0-9_-]+={0,2}$", "minLength": 1, "maxLength": 64}
  }
}`

const triggerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "enum": ["status", "connected", "emails", "meetings", "heartbeat", "error"]},
    "status": {"type": "string", "enum": ["connected", "degraded"]},
    "message": {"type": "string"},
    "data": {"type": "array", "items": {"type": "object"}}
  }
}`

// Options configure a Validator. SchemaPaths override the built-in schemas.
type Options struct {
	SchemaPaths map[Kind]string
}

// Validator holds compiled schemas.
type Validator struct {
	schemas map[Kind]*gojsonschema.Schema
}

// Result is the outcome of one validation.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// New compiles the built-in schemas plus any overrides.
func New(opts Options) (*Validator, error) {
	sources := map[Kind][]byte{
		KindSubscription: []byte(subscriptionSchema),
		KindTrigger:      []byte(triggerSchema),
	}
	for kind, path := range opts.SchemaPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		sources[kind] = data
	}

	v := &Validator{schemas: make(map[Kind]*gojsonschema.Schema, len(sources))}
	for kind, src := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate checks raw against the schema for kind.
func (v *Validator) Validate(kind Kind, raw []byte) Result {
	schema, ok := v.schemas[kind]
	if !ok {
		return Result{Errors: []string{fmt.Sprintf("no schema for %s", kind)}}
	}
	if len(raw) == 0 {
		return Result{Errors: []string{"request body is empty"}}
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("schema validation error: %v", err)}}
	}
	if res.Valid() {
		return Result{Valid: true}
	}
	errs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		errs = append(errs, e.String())
	}
	sort.Strings(errs)
	return Result{Errors: errs}
}
