package stream

import (
	"math"
	"math/rand"
	"time"
)

// Default reconnect policy.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultFactor       = 2.0
)

// Backoff is a capped exponential reconnect delay.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// DefaultBackoff waits 1s, 2s, 4s ... up to 30s between attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialDelay, Max: DefaultMaxDelay, Factor: DefaultFactor}
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultInitialDelay
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxDelay
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = DefaultFactor
	}
	return b
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if delay > float64(b.Max) || math.IsInf(delay, 0) {
		delay = float64(b.Max)
	}
	if b.Jitter {
		delay *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not need crypto randomness
	}
	return time.Duration(delay)
}
