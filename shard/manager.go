// ABOUTME: Shard coordinator — owns N gateway sessions, supervises restarts, fans out events.
// ABOUTME: Identify spacing across shards is delegated to the rate-limit manager, never a fixed sleep.

package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/perch/events"
	"github.com/2389/perch/gateway"
	"github.com/2389/perch/ratelimit"
	"github.com/2389/perch/transport"
)

// ErrAlreadyRunning indicates Run was called on a manager that is running.
var ErrAlreadyRunning = errors.New("shard manager already running")

// Config describes the shard fleet. Token, GatewayURL, Dialer, and Limiter
// are required.
type Config struct {
	Token      string
	GatewayURL string
	ShardCount int
	Intents    int64

	Dialer  transport.Dialer
	Limiter *ratelimit.Manager

	// Broadcaster receives all dispatch and lifecycle events. Created
	// internally when nil.
	Broadcaster *events.Broadcaster
	Logger      *slog.Logger

	// Per-session tuning, applied to every shard.
	HelloTimeout           time.Duration
	IdentifyTimeout        time.Duration
	MaxConsecutiveFailures int
	Backoff                gateway.Backoff
}

// Manager supervises one gateway session per shard. Sessions share nothing
// with each other except the rate-limit manager.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	broadcaster *events.Broadcaster

	mu       sync.RWMutex
	running  bool
	registry map[int]*gateway.Session
}

// NewManager validates the config and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("shard: token is required")
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("shard: gateway url is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("shard: dialer is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("shard: rate-limit manager is required")
	}
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster(logger)
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "shard"),
		broadcaster: broadcaster,
		registry:    make(map[int]*gateway.Session),
	}, nil
}

// Broadcaster returns the event fan-out consumers subscribe to.
func (m *Manager) Broadcaster() *events.Broadcaster {
	return m.broadcaster
}

// Run starts every shard and blocks until ctx is cancelled or a shard fails
// permanently. A permanent failure on any shard tears the whole fleet down
// and is returned. Cancellation is a clean shutdown: Run returns nil only
// after every session has closed its transport.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, m.cfg.ShardCount)

	m.logger.Info("starting shards", "count", m.cfg.ShardCount)

	for id := 0; id < m.cfg.ShardCount; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := m.supervise(runCtx, id); err != nil {
				errs <- err
				cancel()
			}
		}(id)
	}

	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	m.logger.Info("all shards stopped")
	return nil
}

// supervise runs one shard's session for the manager's lifetime. The session
// reconnects internally; supervise only sees permanent outcomes. A session
// that stops without a shutdown request is restarted; a permanent failure
// propagates and terminates the fleet.
func (m *Manager) supervise(ctx context.Context, id int) error {
	for {
		sess, err := gateway.NewSession(gateway.Config{
			Token:                  m.cfg.Token,
			URL:                    m.cfg.GatewayURL,
			ShardID:                id,
			ShardCount:             m.cfg.ShardCount,
			Intents:                m.cfg.Intents,
			Dialer:                 m.cfg.Dialer,
			Gate:                   m.cfg.Limiter,
			Logger:                 m.cfg.Logger,
			HelloTimeout:           m.cfg.HelloTimeout,
			IdentifyTimeout:        m.cfg.IdentifyTimeout,
			MaxConsecutiveFailures: m.cfg.MaxConsecutiveFailures,
			Backoff:                m.cfg.Backoff,
			OnDispatch:             m.dispatchSink(id),
			OnStateChange:          m.lifecycleSink(id),
		})
		if err != nil {
			return fmt.Errorf("building shard %d: %w", id, err)
		}

		m.register(id, sess)
		err = sess.Run(ctx)
		m.unregister(id)

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("shard %d: %w", id, err)
		}

		// Run returned without a shutdown request. Restart with a fresh
		// session; identify pacing throttles the reconnect storm.
		m.logger.Warn("session stopped unexpectedly, restarting", "shard", id)
	}
}

// dispatchSink publishes a shard's dispatch payloads in receive order.
func (m *Manager) dispatchSink(id int) func(string, int64, json.RawMessage) {
	return func(eventType string, seq int64, data json.RawMessage) {
		m.broadcaster.Publish(&events.Event{
			Shard:    id,
			Kind:     events.KindDispatch,
			Type:     eventType,
			Sequence: seq,
			Data:     data,
		})
	}
}

// lifecycleSink publishes the consumer-visible lifecycle transitions.
func (m *Manager) lifecycleSink(id int) func(gateway.State, string) {
	return func(state gateway.State, reason string) {
		var phase events.Phase
		switch state {
		case gateway.StateConnected:
			phase = events.PhaseConnected
		case gateway.StateReconnecting:
			phase = events.PhaseReconnecting
		case gateway.StateDisconnected:
			phase = events.PhaseDisconnected
		default:
			// Intermediate handshake states are not consumer-visible.
			return
		}
		m.broadcaster.Publish(&events.Event{
			Shard:  id,
			Kind:   events.KindLifecycle,
			Phase:  phase,
			Reason: reason,
		})
	}
}

// Session returns the running session for a shard id, if present.
func (m *Manager) Session(id int) (*gateway.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.registry[id]
	return sess, ok
}

// States reports the current lifecycle state of every registered shard.
func (m *Manager) States() map[int]gateway.State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int]gateway.State, len(m.registry))
	for id, sess := range m.registry {
		states[id] = sess.State()
	}
	return states
}

func (m *Manager) register(id int, sess *gateway.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[id] = sess
}

func (m *Manager) unregister(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registry, id)
}
