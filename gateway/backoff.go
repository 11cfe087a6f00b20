// ABOUTME: Exponential backoff with jitter for reconnect attempts.
// ABOUTME: The curve is configurable; operational tuning, not protocol.

package gateway

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays. The zero value gets sane defaults from
// withDefaults.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Multiplier scales the delay per consecutive attempt.
	Multiplier float64
	// Jitter is the fraction of random spread applied to the computed delay
	// (0.25 means the result lands in [0.75d, 1.25d]).
	Jitter float64
	// Cap bounds the delay regardless of attempt count.
	Cap time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = time.Second
	}
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = 0.25
	}
	if b.Cap <= 0 {
		b.Cap = time.Minute
	}
	return b
}

// Delay returns the wait before reconnect attempt n (first attempt is 1).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()

	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}

	if b.Jitter > 0 {
		spread := 1 - b.Jitter + 2*b.Jitter*rand.Float64()
		d *= spread
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	return time.Duration(d)
}
