// ABOUTME: Bucket manager — resolves routes to buckets, admits requests, retries 429s once.
// ABOUTME: Sole cross-session synchronization point for REST and identify rate state.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/perch/transport"
)

// ErrRateLimitExhausted indicates a bucket refused admission even after the
// single permitted 429 retry.
var ErrRateLimitExhausted = errors.New("rate limit exhausted after retry")

// Default tuning for the manager. All overridable via Config.
const (
	DefaultMaxBuckets    = 1024
	DefaultGlobalLimit   = 50
	DefaultGlobalWindow  = time.Second
	DefaultIdentifyEvery = 5 * time.Second
)

// Config tunes a Manager. The zero value gets sane defaults.
type Config struct {
	// MaxBuckets bounds the LRU bucket store.
	MaxBuckets int

	// GlobalLimit and GlobalWindow define the cross-endpoint request ceiling.
	GlobalLimit  int
	GlobalWindow time.Duration

	// IdentifyEvery is the minimum spacing between gateway Identify
	// admissions across all shards.
	IdentifyEvery time.Duration

	// Logger for admission and retry events. Nil means slog.Default().
	Logger *slog.Logger
}

// Manager maps outbound requests to rate-limit buckets, admits or delays them,
// and owns the global budget. Sessions and the REST client share a single
// Manager; it is the only synchronization point between shards.
type Manager struct {
	logger   *slog.Logger
	global   *Bucket
	store    *bucketStore
	identify *rate.Limiter
	now      func() time.Time

	mu     sync.Mutex
	routes map[string]string     // provisional key -> server bucket hash
	queues map[string]*turnstile // provisional key -> FIFO turnstile
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = DefaultMaxBuckets
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = DefaultGlobalLimit
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = DefaultGlobalWindow
	}
	if cfg.IdentifyEvery <= 0 {
		cfg.IdentifyEvery = DefaultIdentifyEvery
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:   logger.With("component", "ratelimit"),
		global:   NewGlobalBudget(cfg.GlobalLimit, cfg.GlobalWindow),
		store:    newBucketStore(cfg.MaxBuckets),
		identify: rate.NewLimiter(rate.Every(cfg.IdentifyEvery), 1),
		now:      time.Now,
		routes:   make(map[string]string),
		queues:   make(map[string]*turnstile),
	}
}

// Do admits the request for the given route, runs exec, and applies the
// response's rate-limit headers. A 429 response is retried exactly once after
// the server-provided delay; a second 429 surfaces ErrRateLimitExhausted.
// Transport failures are returned unretried — retry policy belongs to the
// caller.
func (m *Manager) Do(ctx context.Context, route Route, exec func(context.Context) (*transport.Response, error)) (*transport.Response, error) {
	release, err := m.queueFor(route).enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	retried := false
	for {
		if err := m.admit(ctx, m.bucketFor(route)); err != nil {
			return nil, err
		}

		resp, err := exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", route.Method, route.Template, err)
		}

		info := m.observe(route, resp.Header)

		if resp.Status != http.StatusTooManyRequests {
			return resp, nil
		}

		retryAfter := info.retryAfter
		if retryAfter <= 0 {
			retryAfter = info.resetAfter
		}
		m.freeze(route, info, retryAfter)

		if retried {
			m.logger.Warn("bucket still over limit after retry",
				"method", route.Method,
				"route", route.Template,
			)
			return nil, fmt.Errorf("%s %s: %w", route.Method, route.Template, ErrRateLimitExhausted)
		}
		retried = true

		m.logger.Debug("over rate limit, retrying after delay",
			"method", route.Method,
			"route", route.Template,
			"retry_after", retryAfter,
			"global", info.global,
		)
		if err := sleepFor(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
}

// WaitIdentify blocks until a gateway Identify may be sent, enforcing the
// connect-rate spacing shared by every shard.
func (m *Manager) WaitIdentify(ctx context.Context) error {
	if err := m.identify.Wait(ctx); err != nil {
		return fmt.Errorf("awaiting identify admission: %w", err)
	}
	return nil
}

// admit passes the request through its bucket gate, then the global gate.
// The global gate is checked second so a global outage does not drain bucket
// slots that were never used.
func (m *Manager) admit(ctx context.Context, bucket *Bucket) error {
	for {
		wait, ok := bucket.TryAdmit(m.now())
		if ok {
			break
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := sleepFor(ctx, wait); err != nil {
			return err
		}
	}

	for {
		wait, ok := m.global.TryAdmit(m.now())
		if ok {
			return nil
		}
		m.logger.Debug("blocked on global budget", "wait", wait)
		if err := sleepFor(ctx, wait); err != nil {
			return err
		}
	}
}

// observe applies a response's rate-limit headers: re-keys the route to its
// server-assigned bucket hash when one arrives, then updates that bucket.
func (m *Manager) observe(route Route, header http.Header) headerInfo {
	info := parseHeaders(header)
	if !info.present {
		return info
	}

	if info.bucket != "" {
		m.mu.Lock()
		prev := m.routes[route.provisionalKey()]
		m.routes[route.provisionalKey()] = info.bucket
		m.mu.Unlock()

		if prev != info.bucket {
			m.logger.Debug("route resolved to bucket",
				"method", route.Method,
				"route", route.Template,
				"bucket", info.bucket,
			)
		}
	}

	m.bucketFor(route).Update(m.now(), info.limit, info.remaining, info.resetAfter)
	return info
}

// freeze applies a 429: the global budget if the response was flagged global,
// the route's bucket otherwise.
func (m *Manager) freeze(route Route, info headerInfo, retryAfter time.Duration) {
	if info.global {
		m.global.Freeze(m.now(), retryAfter)
		return
	}
	m.bucketFor(route).Freeze(m.now(), retryAfter)
}

// bucketFor returns the bucket currently backing the route: the resolved
// bucket if the server hash is known, the provisional one otherwise.
func (m *Manager) bucketFor(route Route) *Bucket {
	m.mu.Lock()
	hash := m.routes[route.provisionalKey()]
	m.mu.Unlock()

	if hash != "" {
		return m.store.getOrCreate(route.resolvedKey(hash))
	}
	return m.store.getOrCreate(route.provisionalKey())
}

// queueFor returns the route's FIFO turnstile, creating it on first use.
// Queues are keyed by provisional route so same-route requests serialize even
// before the true bucket hash is discovered.
func (m *Manager) queueFor(route Route) *turnstile {
	key := route.provisionalKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[key]
	if !ok {
		q = &turnstile{}
		m.queues[key] = q
	}
	return q
}

// sleepFor waits for the duration or until ctx is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
