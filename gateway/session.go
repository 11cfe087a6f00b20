// ABOUTME: Gateway session state machine — handshake, heartbeat, resume, reconnect.
// ABOUTME: One session owns one logical connection; all state is mutated by its own loop.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/perch/transport"
)

// ErrProtocolViolation indicates the remote peer broke the wire contract:
// an unexpected opcode, a regressed sequence number, or a malformed frame.
// It forces a reconnect; it is never surfaced as a request error.
var ErrProtocolViolation = errors.New("gateway protocol violation")

// ErrSessionInvalidated indicates the server rejected the session during
// Resume or Identify. The session retries with a fresh Identify; the error
// only escapes Run once the consecutive-failure cap is exhausted.
var ErrSessionInvalidated = errors.New("session invalidated by server")

// errZombied indicates a heartbeat went unacknowledged for a full interval.
var errZombied = errors.New("zombied connection: heartbeat not acknowledged")

// FatalError is a close the session must not retry: the server rejected the
// credential, shard tuple, or intents and will reject them again.
type FatalError struct {
	Code   int
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("gateway closed connection permanently (code %d): %s", e.Code, e.Reason)
}

// State is a session's position in the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// IdentifyGate admits Identify handshakes. Implemented by ratelimit.Manager;
// a nil gate means no pacing (tests only).
type IdentifyGate interface {
	WaitIdentify(ctx context.Context) error
}

// Config describes one session. Token, URL, and Dialer are required.
type Config struct {
	Token      string
	URL        string
	ShardID    int
	ShardCount int
	Intents    int64

	Dialer transport.Dialer
	Gate   IdentifyGate
	Logger *slog.Logger

	// HelloTimeout bounds the wait for the Hello frame after connect.
	HelloTimeout time.Duration
	// IdentifyTimeout bounds the wait for identify admission from the gate.
	IdentifyTimeout time.Duration
	// MaxConsecutiveFailures is how many connection attempts may fail in a
	// row (without ever reaching Connected) before Run gives up.
	MaxConsecutiveFailures int

	Backoff Backoff

	// OnDispatch receives decoded dispatch payloads in the order the
	// connection delivered them. Called from the session's own loop; slow
	// handlers stall the session.
	OnDispatch func(eventType string, seq int64, data json.RawMessage)

	// OnStateChange receives every state transition with a short reason.
	OnStateChange func(state State, reason string)
}

// Session manages one logical gateway connection through its whole lifecycle.
// All mutable state belongs to the goroutine running Run.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32
	seq   atomic.Int64

	mu        sync.Mutex
	sessionID string
	resumeURL string
	resumable bool

	// invalidSessionDelay produces the wait before re-identifying after a
	// non-resumable invalid session.
	invalidSessionDelay func() time.Duration
}

// NewSession validates the config and returns an idle session. Call Run to
// connect.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gateway: token is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway: url is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("gateway: dialer is required")
	}
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 15 * time.Second
	}
	if cfg.IdentifyTimeout <= 0 {
		cfg.IdentifyTimeout = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "gateway", "shard", cfg.ShardID),
		invalidSessionDelay: func() time.Duration {
			// The service asks clients to wait a random 1-5s before
			// re-identifying after an invalid session.
			return time.Second + time.Duration(rand.Float64()*float64(4*time.Second))
		},
	}, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Sequence returns the last sequence number received while connected, or 0.
func (s *Session) Sequence() int64 {
	return s.seq.Load()
}

// SessionID returns the server-assigned session id, or "" before Ready.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Run connects and services the session until ctx is cancelled or a fatal
// condition is hit. Recoverable failures reconnect internally with backoff;
// cancellation is a clean shutdown and returns nil.
func (s *Session) Run(ctx context.Context) error {
	defer s.transition(StateDisconnected, "shutdown")

	failures := 0
	for {
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			s.logger.Error("session failed permanently",
				"close_code", fatal.Code,
				"reason", fatal.Reason,
			)
			return err
		}

		if connected {
			failures = 0
		} else {
			failures++
			if failures >= s.cfg.MaxConsecutiveFailures {
				s.logger.Error("giving up after consecutive connection failures",
					"failures", failures,
					"error", err,
				)
				return fmt.Errorf("shard %d: %d consecutive connection failures: %w",
					s.cfg.ShardID, failures, err)
			}
		}

		attempt := failures
		if attempt < 1 {
			attempt = 1
		}
		delay := s.cfg.Backoff.Delay(attempt)

		s.transition(StateReconnecting, errReason(err))
		s.logger.Info("reconnecting",
			"delay", delay,
			"resumable", s.canResume(),
			"reason", errReason(err),
		)
		if sleepErr := sleepFor(ctx, delay); sleepErr != nil {
			return nil
		}
	}
}

// runOnce drives one connection from dial to teardown. It returns whether the
// session reached Connected, and the error that ended the connection.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	s.transition(StateConnecting, "")

	url := s.cfg.URL
	if s.canResume() {
		if resumeURL := s.loadResumeURL(); resumeURL != "" {
			url = resumeURL
		}
	}

	conn, err := s.cfg.Dialer.Dial(ctx, url)
	if err != nil {
		return false, fmt.Errorf("connecting shard %d: %w", s.cfg.ShardID, err)
	}
	defer conn.Close(1000, "shutting down")

	interval, err := s.awaitHello(ctx, conn)
	if err != nil {
		return false, err
	}

	if s.canResume() {
		err = s.sendResume(ctx, conn)
	} else {
		err = s.sendIdentify(ctx, conn)
	}
	if err != nil {
		return false, err
	}

	return s.eventLoop(ctx, conn, interval)
}

// awaitHello waits for the Hello frame and returns the heartbeat interval.
// No Hello within HelloTimeout forces a reconnect.
func (s *Session) awaitHello(ctx context.Context, conn transport.Conn) (time.Duration, error) {
	s.transition(StateAwaitingHello, "")

	helloCtx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	defer cancel()

	frame, err := conn.Receive(helloCtx)
	if err != nil {
		if helloCtx.Err() != nil && ctx.Err() == nil {
			return 0, fmt.Errorf("no hello within %s", s.cfg.HelloTimeout)
		}
		return 0, s.classifyReadError(err)
	}

	p, err := decodePayload(frame)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if p.Op != OpHello {
		return 0, fmt.Errorf("%w: expected hello, got %s", ErrProtocolViolation, p.Op)
	}

	var hello helloData
	if err := json.Unmarshal(p.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("%w: malformed hello", ErrProtocolViolation)
	}

	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

// sendIdentify starts a fresh session. Identify competes with every other
// shard for the shared connect-rate budget, so admission is awaited first.
func (s *Session) sendIdentify(ctx context.Context, conn transport.Conn) error {
	s.transition(StateIdentifying, "")
	s.clearSession()

	if s.cfg.Gate != nil {
		gateCtx, cancel := context.WithTimeout(ctx, s.cfg.IdentifyTimeout)
		err := s.cfg.Gate.WaitIdentify(gateCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shard %d identify admission: %w", s.cfg.ShardID, err)
		}
	}

	frame, err := encodePayload(OpIdentify, identifyData{
		Token:   s.cfg.Token,
		Intents: s.cfg.Intents,
		Shard:   [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "perch",
			Device:  "perch",
		},
	})
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	s.logger.Debug("identify sent", "shard_count", s.cfg.ShardCount)
	return nil
}

// sendResume re-attaches to the prior session using the saved token and
// sequence.
func (s *Session) sendResume(ctx context.Context, conn transport.Conn) error {
	s.transition(StateResuming, "")

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	frame, err := encodePayload(OpResume, resumeData{
		Token:     s.cfg.Token,
		SessionID: sessionID,
		Sequence:  s.seq.Load(),
	})
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("sending resume: %w", err)
	}

	s.logger.Debug("resume sent", "session_id", sessionID, "seq", s.seq.Load())
	return nil
}

// loopState is the per-connection mutable state of the event loop.
type loopState struct {
	connected bool
	acked     bool
}

// eventLoop services the connection: inbound frames, the heartbeat cadence,
// and shutdown. It returns whether Connected was reached and why the
// connection ended.
func (s *Session) eventLoop(ctx context.Context, conn transport.Conn, interval time.Duration) (bool, error) {
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()

	frames := make(chan []byte, 16)
	readErrs := make(chan error, 1)
	go func() {
		for {
			data, err := conn.Receive(readCtx)
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()

	// First heartbeat is jittered so a rescheduled fleet doesn't beat in
	// phase; subsequent beats run at the server-provided interval.
	heartbeat := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer heartbeat.Stop()

	loop := &loopState{acked: true}

	for {
		select {
		case <-ctx.Done():
			return loop.connected, nil

		case err := <-readErrs:
			return loop.connected, s.classifyReadError(err)

		case frame := <-frames:
			if err := s.handleFrame(ctx, conn, frame, loop); err != nil {
				return loop.connected, err
			}

		case <-heartbeat.C:
			if !loop.acked {
				s.setResumable(true)
				return loop.connected, fmt.Errorf("shard %d: %w", s.cfg.ShardID, errZombied)
			}
			loop.acked = false
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return loop.connected, err
			}
			heartbeat.Reset(interval)
		}
	}
}

// handleFrame decodes one inbound frame and applies it to the session.
// A non-nil return ends the connection.
func (s *Session) handleFrame(ctx context.Context, conn transport.Conn, frame []byte, loop *loopState) error {
	p, err := decodePayload(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	switch p.Op {
	case OpDispatch:
		return s.handleDispatch(p, loop)

	case OpHeartbeat:
		// Server-requested beat, outside the regular cadence.
		return s.sendHeartbeat(ctx, conn)

	case OpHeartbeatAck:
		loop.acked = true
		return nil

	case OpReconnect:
		s.setResumable(true)
		return fmt.Errorf("shard %d: server requested reconnect", s.cfg.ShardID)

	case OpInvalidSession:
		return s.handleInvalidSession(ctx, p)

	case OpHello, OpIdentify, OpResume:
		return fmt.Errorf("%w: unexpected %s frame while connected", ErrProtocolViolation, p.Op)

	default:
		// Forward-compatible additions by the remote service.
		s.logger.Debug("ignoring unknown opcode", "op", int(p.Op))
		return nil
	}
}

// handleDispatch updates the sequence, completes the handshake on
// Ready/Resumed, and forwards the payload upstream in receive order.
func (s *Session) handleDispatch(p *Payload, loop *loopState) error {
	var seq int64
	if p.S != nil {
		seq = *p.S
		if loop.connected && seq <= s.seq.Load() {
			s.setResumable(true)
			return fmt.Errorf("%w: sequence regressed from %d to %d",
				ErrProtocolViolation, s.seq.Load(), seq)
		}
		s.seq.Store(seq)
	}

	switch p.T {
	case eventReady:
		var ready readyData
		if err := json.Unmarshal(p.D, &ready); err != nil {
			return fmt.Errorf("%w: malformed ready", ErrProtocolViolation)
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.resumable = true
		s.mu.Unlock()

		loop.connected = true
		s.transition(StateConnected, "ready")
		s.logger.Info("session established", "session_id", ready.SessionID)

	case eventResumed:
		loop.connected = true
		s.transition(StateConnected, "resumed")
		s.logger.Info("session resumed", "seq", s.seq.Load())
	}

	if s.cfg.OnDispatch != nil && p.T != "" {
		s.cfg.OnDispatch(p.T, seq, p.D)
	}
	return nil
}

// handleInvalidSession applies the server's verdict: d=true means the session
// may still resume, d=false discards it and forces a fresh Identify after a
// short randomized delay.
func (s *Session) handleInvalidSession(ctx context.Context, p *Payload) error {
	var resumable bool
	_ = json.Unmarshal(p.D, &resumable)

	if resumable {
		s.setResumable(true)
	} else {
		s.clearSession()
		if err := sleepFor(ctx, s.invalidSessionDelay()); err != nil {
			return err
		}
	}

	return fmt.Errorf("shard %d: %w (resumable=%t)", s.cfg.ShardID, ErrSessionInvalidated, resumable)
}

// sendHeartbeat transmits a heartbeat carrying the last received sequence.
func (s *Session) sendHeartbeat(ctx context.Context, conn transport.Conn) error {
	var d any
	if seq := s.seq.Load(); seq > 0 {
		d = seq
	}
	frame, err := encodePayload(OpHeartbeat, d)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	return nil
}

// classifyReadError turns a receive failure into the session's reconnect
// decision: fatal close codes stop the session, resumable codes and plain
// transport errors keep the resume state for the next attempt.
func (s *Session) classifyReadError(err error) error {
	if ce, ok := transport.AsCloseError(err); ok {
		if isFatalClose(ce.Code) {
			return &FatalError{Code: ce.Code, Reason: ce.Reason}
		}
		s.setResumable(shouldResume(ce.Code))
		if !shouldResume(ce.Code) {
			s.clearSession()
		}
		return fmt.Errorf("shard %d: %w", s.cfg.ShardID, ce)
	}

	// Plain transport failure: the session state is still valid server-side,
	// so the next attempt resumes.
	s.setResumable(true)
	return fmt.Errorf("shard %d transport: %w", s.cfg.ShardID, err)
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumable && s.sessionID != "" && s.seq.Load() > 0
}

func (s *Session) loadResumeURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeURL
}

func (s *Session) setResumable(v bool) {
	s.mu.Lock()
	s.resumable = v
	s.mu.Unlock()
}

// clearSession discards the resume token and sequence, forcing the next
// handshake to be a fresh Identify.
func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.resumable = false
	s.mu.Unlock()
	s.seq.Store(0)
}

// transition updates the state and notifies the consumer if it changed.
func (s *Session) transition(next State, reason string) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Debug("state change", "from", prev.String(), "to", next.String(), "reason", reason)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next, reason)
	}
}

// errReason renders an error for lifecycle notifications.
func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
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
