// ABOUTME: FIFO admission turnstile serializing requests within one route.
// ABOUTME: Waiters form a chain of batons so enqueue order is preserved exactly.

package ratelimit

import (
	"context"
	"sync"
)

// turnstile grants entry in strict enqueue order. Each caller parks on the
// baton of its predecessor; releasing closes the caller's own baton, waking
// exactly the next waiter.
type turnstile struct {
	mu   sync.Mutex
	tail chan struct{}
}

// enter blocks until every earlier caller has released, or ctx is cancelled.
// On success the returned release func must be called exactly once. On
// cancellation the caller's place in line is forfeited without breaking the
// chain for those behind it.
func (t *turnstile) enter(ctx context.Context) (release func(), err error) {
	me := make(chan struct{})

	t.mu.Lock()
	prev := t.tail
	t.tail = me
	t.mu.Unlock()

	release = func() { close(me) }

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// Pass the baton onward once the predecessor finishes, so waiters
		// behind the cancelled caller still get their turn.
		go func() {
			<-prev
			close(me)
		}()
		return nil, ctx.Err()
	}
}
