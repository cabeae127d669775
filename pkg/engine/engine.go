// Package engine wires the transport, reconnect supervisor, dispatcher,
// conversation state machine and cancellation controller into one client.
//
// Every conversation mutation runs on a single apply loop: inbound frames and
// local commands (send, stop) are funneled through it in arrival order, so the
// state machine is never touched concurrently. Outbound frames are queued for
// a separate writer, so a slow write never holds up inbound frames. Readers
// get copies from a published read model.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/codeready-toolchain/chatstream/pkg/cancellation"
	"github.com/codeready-toolchain/chatstream/pkg/config"
	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/protocol"
	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

var (
	// ErrNotRunning is returned by commands issued before Run or after it returned.
	ErrNotRunning = errors.New("engine is not running")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrOutboundFull is returned when the writer has fallen outboundBuffer frames behind.
	ErrOutboundFull = errors.New("outbound queue is full")
)

const (
	// inboundBuffer bounds how far the transport may run ahead of the apply loop.
	inboundBuffer = 256

	// outboundBuffer bounds how many frames may wait for the writer.
	outboundBuffer = 64
)

// command is a closure executed on the apply loop.
type command struct {
	fn     func() error
	result chan error
}

// outgoing is a frame queued for the writer. onFail, if set, runs on the
// writer goroutine when the write fails.
type outgoing struct {
	frame  []byte
	onFail func(ctx context.Context, err error)
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	dial      supervisor.DialFunc
	scheduler supervisor.Scheduler
	observers []conversation.Observer
	listeners []func(supervisor.Status)
	now       func() time.Time
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial supervisor.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithScheduler replaces the reconnect timer source.
func WithScheduler(s supervisor.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithObserver subscribes o to read-model updates. Observers run on the
// apply loop and must not block.
func WithObserver(o conversation.Observer) Option {
	return func(opts *options) { opts.observers = append(opts.observers, o) }
}

// WithStateListener subscribes fn to connection state transitions.
func WithStateListener(fn func(supervisor.Status)) Option {
	return func(o *options) { o.listeners = append(o.listeners, fn) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine is one client session against one chat endpoint.
type Engine struct {
	cfg        *config.Config
	machine    *conversation.Machine
	dispatcher *protocol.Dispatcher
	composer   protocol.Composer
	supervisor *supervisor.Supervisor
	canceller  *cancellation.Controller
	model      *readModel
	now        func() time.Time

	inbound  chan transport.Event
	outbound chan outgoing
	cmds     chan command
	done     chan struct{}

	running   atomic.Bool
	lastPong  atomic.Int64
	runMu     sync.Mutex
	cancelRun context.CancelFunc

	log *slog.Logger
}

// New builds an Engine from cfg. Nothing is dialed until Run.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		cfg:      cfg,
		model:    &readModel{},
		now:      o.now,
		inbound:  make(chan transport.Event, inboundBuffer),
		outbound: make(chan outgoing, outboundBuffer),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		log:      slog.With("component", "engine"),
	}

	machineOpts := []conversation.Option{
		conversation.WithSeparator(cfg.Conversation.ChunkSeparator),
		conversation.WithClock(o.now),
		conversation.WithObserver(e.model),
	}
	for _, obs := range o.observers {
		machineOpts = append(machineOpts, conversation.WithObserver(obs))
	}
	e.machine = conversation.NewMachine(machineOpts...)

	dispatcher, err := protocol.NewDispatcher(&applier{Machine: e.machine, onPong: e.recordPong})
	if err != nil {
		return nil, err
	}
	e.dispatcher = dispatcher

	dial := o.dial
	if dial == nil {
		dial = e.dialWebSocket
	}
	supOpts := []supervisor.Option{supervisor.WithClock(o.now)}
	if o.scheduler != nil {
		supOpts = append(supOpts, supervisor.WithScheduler(o.scheduler))
	}
	for _, fn := range o.listeners {
		supOpts = append(supOpts, supervisor.WithStateListener(fn))
	}
	e.supervisor = supervisor.New(dial, e.enqueue, supervisor.Config{
		Backoff:     supervisor.Backoff{Base: cfg.Reconnect.BaseDelay, Max: cfg.Reconnect.MaxDelay},
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, supOpts...)

	e.canceller = cancellation.NewController(queueSender{e}, e.machine, e.composer)

	return e, nil
}

// Run connects and processes events until ctx is canceled or Close is
// called. The first connection attempt runs concurrently with the loop; its
// failure is handled by the reconnect policy, not returned.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runMu.Lock()
	e.cancelRun = cancel
	e.runMu.Unlock()
	defer cancel()

	e.log.Info("Engine starting", "url", e.cfg.Connection.URL)

	var wg conc.WaitGroup
	wg.Go(func() { e.supervisor.Start(ctx) })
	wg.Go(func() { e.heartbeat(ctx) })
	wg.Go(func() { e.writer(ctx) })
	wg.Go(func() { e.loop(ctx) })
	wg.Wait()

	close(e.done)
	e.supervisor.Stop()
	e.log.Info("Engine stopped")
	return nil
}

// Close stops Run and waits for it to return. Safe to call more than once.
func (e *Engine) Close() {
	e.runMu.Lock()
	cancel := e.cancelRun
	e.runMu.Unlock()

	if cancel == nil {
		e.supervisor.Stop()
		return
	}
	cancel()
	<-e.done
}

// SendMessage begins a new turn and queues content for the backend. It fails
// with conversation.ErrTurnInProgress while a turn is pending or streaming,
// with transport.ErrNotConnected while disconnected, and with
// protocol.ErrEmptyMessage for blank content. The frame is written after
// SendMessage returns; if that write fails the turn ends errored.
func (e *Engine) SendMessage(ctx context.Context, content string) (string, error) {
	frame, err := e.composer.ChatMessage(content)
	if err != nil {
		return "", err
	}

	var turnID string
	err = e.do(ctx, func() error {
		if e.machine.ActiveTurnID() != "" {
			return conversation.ErrTurnInProgress
		}
		if !e.connected() {
			return transport.ErrNotConnected
		}
		id, err := e.machine.BeginTurn()
		if err != nil {
			return err
		}
		if err := e.post(frame, func(ctx context.Context, err error) { e.failTurn(ctx, id, err) }); err != nil {
			e.machine.FailTurn(id, "message not sent: "+err.Error())
			return err
		}
		turnID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	e.log.Info("Message queued", "turn_id", turnID)
	return turnID, nil
}

// Stop cancels the active turn. It reports whether a turn was stopped.
func (e *Engine) Stop(ctx context.Context) (bool, error) {
	var stopped bool
	err := e.do(ctx, func() error {
		stopped = e.canceller.RequestStop(ctx)
		return nil
	})
	return stopped, err
}

// Reconnect forces an immediate connection attempt, including after the
// supervisor gave up. It reports whether an attempt was made.
func (e *Engine) Reconnect() bool {
	return e.supervisor.Reconnect()
}

// Snapshot returns the latest turn, if any. Safe for concurrent use.
func (e *Engine) Snapshot() (conversation.Turn, bool) {
	return e.model.get()
}

// ConnectionStatus returns the supervisor state. Safe for concurrent use.
func (e *Engine) ConnectionStatus() supervisor.Status {
	return e.supervisor.Status()
}

// LastPong returns when the last pong frame was applied, or the zero time.
func (e *Engine) LastPong() time.Time {
	ns := e.lastPong.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// loop is the single apply point for the conversation state.
func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbound:
			e.apply(ev)
		case cmd := <-e.cmds:
			cmd.result <- cmd.fn()
		}
	}
}

func (e *Engine) apply(ev transport.Event) {
	switch ev.Kind {
	case transport.EventFrame:
		e.dispatcher.Dispatch(ev.Data)
	case transport.EventOpened:
		e.log.Debug("Channel opened")
	case transport.EventClosed:
		// The active turn is left as is; the supervisor handles reconnecting.
		if id := e.machine.ActiveTurnID(); id != "" {
			e.log.Warn("Connection closed during an active turn", "turn_id", id, "error", ev.Err)
		}
	}
}

// enqueue is the supervisor sink. It blocks rather than drop, which keeps
// every frame ahead of the close event that follows it.
func (e *Engine) enqueue(ev transport.Event) {
	select {
	case e.inbound <- ev:
	case <-e.done:
	}
}

// do runs fn on the apply loop and returns its error.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	cmd := command{fn: fn, result: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrNotRunning
	}
}

func (e *Engine) heartbeat(ctx context.Context) {
	interval := e.cfg.Connection.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ping := e.composer.Ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.connected() {
				continue
			}
			if err := e.post(ping, nil); err != nil {
				e.log.Debug("Heartbeat ping not queued", "error", err)
			}
		}
	}
}

func (e *Engine) connected() bool {
	return e.supervisor.Status().State == supervisor.StateConnected
}

// post queues frame for the writer without blocking. It fails fast with
// transport.ErrNotConnected while disconnected.
func (e *Engine) post(frame []byte, onFail func(context.Context, error)) error {
	if !e.connected() {
		return transport.ErrNotConnected
	}
	select {
	case e.outbound <- outgoing{frame: frame, onFail: onFail}:
		return nil
	default:
		return ErrOutboundFull
	}
}

// writer writes queued frames in order. It is the only caller of
// supervisor.Send.
func (e *Engine) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-e.outbound:
			err := e.supervisor.Send(ctx, out.frame)
			if err == nil {
				continue
			}
			e.log.Warn("Failed to write frame", "error", err)
			if out.onFail != nil {
				out.onFail(ctx, err)
			}
		}
	}
}

// failTurn errors the turn whose chat message could not be written. It runs
// on the writer goroutine and hands the change to the apply loop.
func (e *Engine) failTurn(ctx context.Context, turnID string, cause error) {
	err := e.do(ctx, func() error {
		if e.machine.FailTurn(turnID, "message not sent: "+cause.Error()) {
			e.log.Warn("Turn failed, message not sent", "turn_id", turnID, "error", cause)
		}
		return nil
	})
	if err != nil {
		e.log.Debug("Could not fail turn", "turn_id", turnID, "error", err)
	}
}

func (e *Engine) recordPong() {
	e.lastPong.Store(e.now().UnixNano())
}

func (e *Engine) dialWebSocket(ctx context.Context) (supervisor.Conn, error) {
	conn := e.cfg.Connection
	ch, err := transport.Open(ctx, conn.URL, transport.Options{
		DialTimeout:  conn.DialTimeout,
		WriteTimeout: conn.WriteTimeout,
		ReadLimit:    conn.ReadLimitBytes,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// queueSender hands the cancellation controller's frames to the writer.
type queueSender struct{ e *Engine }

func (q queueSender) Send(_ context.Context, frame []byte) error {
	return q.e.post(frame, nil)
}

// applier routes frames to the machine and records pong liveness.
type applier struct {
	*conversation.Machine
	onPong func()
}

func (a *applier) Pong() {
	a.Machine.Pong()
	a.onPong()
}
