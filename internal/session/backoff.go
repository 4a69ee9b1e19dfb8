package session

import (
	"math"
	"time"
)

// Backoff defaults for the refresh attempt loop.
const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 10 * time.Second
	defaultMultiplier   = 2.0
	defaultMaxRetries   = 3
)

// Backoff describes the retry policy for transient refresh failures: the
// delay before retry attempt N is InitialDelay * Multiplier^N, capped at
// MaxDelay. MaxRetries bounds the number of retries after the first
// attempt.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// DefaultBackoff returns the production retry policy: 1s initial delay,
// doubling per attempt, 10s cap, 3 retries.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Multiplier:   defaultMultiplier,
		MaxRetries:   defaultMaxRetries,
	}
}

// delay computes the wait before retrying after failed attempt number
// attempt (zero-based).
func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}

	return time.Duration(d)
}
