// ABOUTME: Rate-limit bucket tracking remaining budget and reset time for one scope.
// ABOUTME: Admission, header updates, and 429 freezes all mutate the pair atomically.

package ratelimit

import (
	"sync"
	"time"
)

// Bucket tracks the remaining request budget and reset time for one
// rate-limit scope. All state transitions happen under one mutex so a reader
// never observes a torn remaining/resetAt pair.
//
// A bucket starts unprimed (no server response seen yet) and admits freely
// until the first header update arrives; the manager serializes same-route
// requests during that window, so at most one request runs against an
// unprimed bucket at a time.
type Bucket struct {
	mu         sync.Mutex
	key        string
	limit      int
	remaining  int
	resetAt    time.Time
	resetAfter time.Duration
	primed     bool
}

// NewBucket creates an unprimed bucket for the given key.
func NewBucket(key string) *Bucket {
	return &Bucket{key: key}
}

// Key returns the bucket's identity.
func (b *Bucket) Key() string {
	return b.key
}

// TryAdmit attempts to consume one request slot at the given instant.
// It returns (0, true) on admission, or (wait, false) when the caller must
// wait at least that long before trying again.
func (b *Bucket) TryAdmit(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed {
		return 0, true
	}

	// Window expired locally: restore the full budget using the most recent
	// server-reported reset_after. The reset duration is never computed
	// locally because client and server clocks cannot be assumed aligned.
	if !now.Before(b.resetAt) {
		b.remaining = b.limit
		if b.resetAfter > 0 {
			b.resetAt = now.Add(b.resetAfter)
		}
	}

	if b.remaining > 0 {
		b.remaining--
		return 0, true
	}

	wait := b.resetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

// Update applies rate-limit headers from a server response received at the
// given instant. Stale responses (an earlier reset than currently scheduled)
// only ever lower the remaining count; resetAt never regresses within one
// bucket's lifetime.
func (b *Bucket) Update(now time.Time, limit, remaining int, resetAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resetAt := now.Add(resetAfter)

	if !b.primed || !resetAt.Before(b.resetAt) {
		b.limit = limit
		b.remaining = remaining
		b.resetAt = resetAt
		b.resetAfter = resetAfter
		b.primed = true
		return
	}

	if remaining < b.remaining {
		b.remaining = remaining
	}
}

// Freeze empties the bucket until retryAfter has elapsed. Used on an explicit
// 429 from the server, whose retry-after value overrides anything local.
func (b *Bucket) Freeze(now time.Time, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remaining = 0
	b.resetAt = now.Add(retryAfter)
	b.resetAfter = retryAfter
	b.primed = true
	if b.limit == 0 {
		b.limit = 1
	}
}

// Remaining reports the current remaining count. Primarily for tests and
// introspection; admission decisions go through TryAdmit.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// NewGlobalBudget creates the bucket gating every request uniformly. It is
// primed from the start with a locally-owned window: limit requests per
// window, self-resetting, tightened only when the server signals a global
// over-limit via Freeze.
func NewGlobalBudget(limit int, window time.Duration) *Bucket {
	return &Bucket{
		key:        "global",
		limit:      limit,
		remaining:  limit,
		resetAfter: window,
		primed:     true,
	}
}
