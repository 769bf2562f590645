// Package keycodec converts between base64url text keys and raw key material.
//
// It is used for the server's VAPID public key and for the p256dh/auth
// encryption keys carried by push subscription records.
package keycodec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeError reports key text that is not valid base64url.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("keycodec: invalid key %q: %v", truncate(e.Input), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var urlToStd = strings.NewReplacer("-", "+", "_", "/")

// Encode returns the unpadded base64url form of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode accepts padded or unpadded base64url and returns the raw bytes.
func Decode(s string) ([]byte, error) {
	normalized := urlToStd.Replace(s)
	if rem := len(normalized) % 4; rem != 0 {
		normalized += strings.Repeat("=", 4-rem)
	}
	out, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, &DecodeError{Input: s, Err: err}
	}
	return out, nil
}

func truncate(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
