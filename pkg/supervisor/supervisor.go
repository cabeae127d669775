// Package supervisor keeps a chat transport connected.
//
// The Supervisor dials through an injected DialFunc, forwards every inbound
// transport event to a single sink, and on failure or closure schedules a
// reconnect with linear backoff. After MaxAttempts consecutive failures it
// gives up until Reconnect is called. The attempt counter resets to zero on
// every successful connect.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateErrored      State = "errored"
)

// errClosedByPeer is recorded when the server ends the connection cleanly.
// A clean close still counts as a failure for reconnect purposes.
var errClosedByPeer = errors.New("connection closed by server")

// Status is a point-in-time view of the supervisor.
type Status struct {
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Conn is the subset of transport.Channel the supervisor needs.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Events() <-chan transport.Event
	Close() error
}

// DialFunc opens a new connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Config holds reconnect policy.
type Config struct {
	Backoff     Backoff
	MaxAttempts int
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithScheduler replaces the timer source (tests use a manual scheduler).
func WithScheduler(sched Scheduler) Option {
	return func(s *Supervisor) { s.sched = sched }
}

// WithStateListener registers fn for every state transition, in order.
// fn must not call Start, Reconnect or Stop.
func WithStateListener(fn func(Status)) Option {
	return func(s *Supervisor) { s.listeners = append(s.listeners, fn) }
}

// WithClock overrides time.Now for Status.Since.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// Supervisor owns connection establishment and reconnection.
type Supervisor struct {
	dial        DialFunc
	sink        func(transport.Event)
	backoff     Backoff
	maxAttempts int
	sched       Scheduler
	now         func() time.Time
	listeners   []func(Status)
	log         *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	state   State
	attempt int
	lastErr error
	since   time.Time
	conn    Conn
	gen     uint64 // bumped per connection so stale close events are ignored
	timer   Timer
	started bool
	stopped bool
	pending []Status

	notifyMu sync.Mutex
}

// New creates a Supervisor. sink receives every transport event, in order,
// from a single goroutine per connection.
func New(dial DialFunc, sink func(transport.Event), cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		dial:        dial,
		sink:        sink,
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		sched:       SystemScheduler(),
		now:         time.Now,
		state:       StateIdle,
		log:         slog.With("component", "supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.since = s.now()
	return s
}

// Start performs the first connection attempt synchronously. Failures are
// handled by the reconnect policy, not returned. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("Supervisor already started, ignoring duplicate Start call")
		return
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.connect(false)
}

// Reconnect triggers an immediate attempt with the counter reset. It is the
// only way out of StateErrored. It reports whether an attempt was made.
func (s *Supervisor) Reconnect() bool {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return false
	}
	switch s.state {
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.attempt = 0
	s.mu.Unlock()

	s.log.Info("Manual reconnect requested")
	s.connect(true)
	return true
}

// Stop revokes any pending reconnect and closes the live connection.
// The supervisor cannot be restarted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	s.transitionLocked(StateDisconnected)
	s.mu.Unlock()
	s.flush()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug("Error closing connection on stop", "error", err)
		}
	}
}

// Send writes a frame on the live connection. It fails fast with
// transport.ErrNotConnected unless the state is StateConnected.
func (s *Supervisor) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return transport.ErrNotConnected
	}
	return conn.Send(ctx, frame)
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) connect(manual bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateIdle, StateDisconnected:
	case StateErrored:
		if !manual {
			s.mu.Unlock()
			return
		}
	default:
		// A stale timer raced a manual reconnect.
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.timer = nil
	s.transitionLocked(StateConnecting)
	attempt := s.attempt
	s.mu.Unlock()
	s.flush()

	s.log.Info("Connecting", "attempt", attempt)
	conn, err := s.dial(ctx)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			s.lastErr = err
			s.transitionLocked(StateDisconnected)
			s.mu.Unlock()
			s.flush()
			return
		}
		s.log.Warn("Connection attempt failed", "attempt", attempt, "error", err)
		s.failLocked(err)
		s.mu.Unlock()
		s.flush()
		return
	}

	s.gen++
	gen := s.gen
	s.conn = conn
	s.attempt = 0
	s.lastErr = nil
	s.transitionLocked(StateConnected)
	s.mu.Unlock()
	s.flush()

	s.log.Info("Connected")
	go s.forward(conn, gen)
}

// forward relays one connection's events to the sink, then reports closure.
func (s *Supervisor) forward(conn Conn, gen uint64) {
	sawClose := false
	for ev := range conn.Events() {
		s.sink(ev)
		if ev.Kind == transport.EventClosed {
			sawClose = true
			s.onClosed(gen, ev.Err)
		}
	}
	if !sawClose {
		s.onClosed(gen, nil)
	}
}

func (s *Supervisor) onClosed(gen uint64, cause error) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if cause == nil {
		cause = errClosedByPeer
	}
	s.log.Warn("Connection lost", "error", cause)
	s.failLocked(cause)
	s.mu.Unlock()
	s.flush()
}

// failLocked records a failure and either schedules the next attempt or gives up.
func (s *Supervisor) failLocked(cause error) {
	s.attempt++
	s.lastErr = cause

	if s.attempt > s.maxAttempts {
		s.transitionLocked(StateErrored)
		s.log.Error("Giving up reconnecting",
			"consecutive_failures", s.attempt, "max_attempts", s.maxAttempts, "error", cause)
		return
	}

	delay := s.backoff.Delay(s.attempt)
	s.transitionLocked(StateDisconnected)
	s.timer = s.sched.AfterFunc(delay, func() { s.connect(false) })
	s.log.Info("Scheduled reconnect", "attempt", s.attempt, "delay", delay)
}

func (s *Supervisor) transitionLocked(next State) {
	s.state = next
	s.since = s.now()
	s.pending = append(s.pending, s.statusLocked())
}

func (s *Supervisor) statusLocked() Status {
	st := Status{
		State:   s.state,
		Attempt: s.attempt,
		Since:   s.since,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// flush delivers queued transitions to listeners. notifyMu keeps delivery in
// transition order even when transitions happen on different goroutines.
func (s *Supervisor) flush() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, st := range pending {
		for _, fn := range s.listeners {
			fn(st)
		}
	}
}
