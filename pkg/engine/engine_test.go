package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/chatstream/pkg/config"
	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/protocol"
	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

// fakeOrchestrator answers chat messages with a scripted frame sequence,
// pings with pongs, and records every frame it receives.
type fakeOrchestrator struct {
	t      *testing.T
	script []string
	hold   bool // send only the first scripted frame
	tag    bool // stamp outgoing frames with a per-message turn_id

	mu       sync.Mutex
	received []string
	turns    int
}

func (o *fakeOrchestrator) stamp(frame string) []byte {
	if !o.tag {
		return []byte(frame)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(frame), &m); err != nil {
		return []byte(frame)
	}
	o.mu.Lock()
	m["turn_id"] = fmt.Sprintf("srv-%d", o.turns)
	o.mu.Unlock()
	data, _ := json.Marshal(m)
	return data
}

func (o *fakeOrchestrator) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		o.t.Logf("WebSocket accept error: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		o.mu.Lock()
		o.received = append(o.received, string(data))
		o.mu.Unlock()

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypePing:
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`))
		case protocol.TypeChatMessage:
			o.mu.Lock()
			o.turns++
			o.mu.Unlock()
			frames := o.script
			if o.hold && len(frames) > 0 {
				frames = frames[:1]
			}
			for _, f := range frames {
				if err := conn.Write(ctx, websocket.MessageText, o.stamp(f)); err != nil {
					return
				}
			}
		case protocol.TypeStopGeneration:
			_ = conn.Write(ctx, websocket.MessageText, o.stamp(`{"type":"generation_stopped"}`))
		}
	}
}

func (o *fakeOrchestrator) receivedTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var types []string
	for _, raw := range o.received {
		var env protocol.Envelope
		if json.Unmarshal([]byte(raw), &env) == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Connection.URL = url
	cfg.Connection.DialTimeout = 2 * time.Second
	cfg.Connection.HeartbeatInterval = 0
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return cfg
}

func startOrchestrator(t *testing.T, o *fakeOrchestrator) string {
	t.Helper()
	o.t = t
	server := httptest.NewServer(http.HandlerFunc(o.handle))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// runEngine starts e.Run and waits for the first connection.
func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		e.Close()
		require.NoError(t, <-errCh)
	})
	require.Eventually(t, func() bool {
		return e.ConnectionStatus().State == supervisor.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
}

func waitForStatus(t *testing.T, e *Engine, want conversation.TurnStatus) conversation.Turn {
	t.Helper()
	var turn conversation.Turn
	require.Eventually(t, func() bool {
		var ok bool
		turn, ok = e.Snapshot()
		return ok && turn.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return turn
}

func TestEngine_StreamsATurnEndToEnd(t *testing.T) {
	orch := &fakeOrchestrator{script: []string{
		`{"type":"response_start"}`,
		`{"type":"agent_thinking","agent":"researcher","status":"Analyzing"}`,
		`{"type":"agent_content_chunk","agent":"researcher","content":"Hello","is_final":false}`,
		`{"type":"agent_artifact_start","agent":"coder","artifact":{"id":1,"type":"code","title":"f.py","language":"python"}}`,
		`{"type":"agent_content_chunk","agent":"researcher","content":"world","is_final":true}`,
		`{"type":"agent_artifact_chunk","agent":"coder","artifact_id":1,"content":"def f():","is_final":false}`,
		`this is not json`,
		`{"type":"agent_telemetry","cpu":1}`,
		`{"type":"agent_artifact_chunk","agent":"coder","artifact_id":"1","content":"\n  pass","is_final":true}`,
		`{"type":"response_complete","artifacts":[{"id":1,"type":"code","title":"f.py"}]}`,
	}}
	url := startOrchestrator(t, orch)

	obs := &finalizeCounter{}
	e, err := New(testConfig(url), WithObserver(obs))
	require.NoError(t, err)
	runEngine(t, e)

	turnID, err := e.SendMessage(context.Background(), "write f")
	require.NoError(t, err)
	assert.NotEmpty(t, turnID)

	turn := waitForStatus(t, e, conversation.TurnCompleted)
	assert.Equal(t, turnID, turn.ID)

	researcher, ok := turn.Agent("researcher")
	require.True(t, ok)
	assert.Equal(t, "Hello world", researcher.Text)
	assert.Equal(t, conversation.PhaseCompleted, researcher.Phase)

	art, ok := turn.Artifact("1")
	require.True(t, ok)
	assert.Equal(t, "def f():\n  pass", art.Content)
	assert.Equal(t, conversation.ArtifactClosed, art.Status)
	require.Len(t, turn.Summary, 1)
	assert.Equal(t, 1, obs.count())

	assert.Equal(t, []string{protocol.TypeChatMessage}, orch.receivedTypes())
}

func TestEngine_RejectsSecondMessageWhileStreaming(t *testing.T) {
	orch := &fakeOrchestrator{
		script: []string{`{"type":"response_start"}`, `{"type":"response_complete"}`},
		hold:   true,
	}
	url := startOrchestrator(t, orch)
	e, err := New(testConfig(url))
	require.NoError(t, err)
	runEngine(t, e)

	_, err = e.SendMessage(context.Background(), "first")
	require.NoError(t, err)
	waitForStatus(t, e, conversation.TurnStreaming)

	_, err = e.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, conversation.ErrTurnInProgress)

	_, err = e.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, protocol.ErrEmptyMessage)
}

func TestEngine_StopIsOptimistic(t *testing.T) {
	orch := &fakeOrchestrator{
		script: []string{`{"type":"agent_content_chunk","agent":"B","content":"partial","is_final":false}`},
		hold:   true,
		tag:    true,
	}
	url := startOrchestrator(t, orch)
	e, err := New(testConfig(url))
	require.NoError(t, err)
	runEngine(t, e)

	_, err = e.SendMessage(context.Background(), "go")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		turn, ok := e.Snapshot()
		if !ok {
			return false
		}
		b, found := turn.Agent("B")
		return found && b.Text == "partial"
	}, 5*time.Second, 10*time.Millisecond)

	stopped, err := e.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)

	// Cancelled locally before the backend answers.
	turn, ok := e.Snapshot()
	require.True(t, ok)
	assert.Equal(t, conversation.TurnCancelled, turn.Status)
	b, _ := turn.Agent("B")
	assert.Equal(t, conversation.PhaseCompleted, b.Phase)

	require.Eventually(t, func() bool {
		types := orch.receivedTypes()
		return len(types) == 2 && types[1] == protocol.TypeStopGeneration
	}, 5*time.Second, 10*time.Millisecond)

	// A new message is allowed right away. The late generation_stopped for
	// srv-1 is rejected and cannot cancel the new turn.
	_, err = e.SendMessage(context.Background(), "again")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		turn, ok := e.Snapshot()
		return ok && turn.Status == conversation.TurnStreaming && len(turn.Agents) == 1
	}, 5*time.Second, 10*time.Millisecond)

	stopped, err = e.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	stopped, err = e.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestEngine_HeartbeatRecordsPong(t *testing.T) {
	orch := &fakeOrchestrator{}
	url := startOrchestrator(t, orch)
	cfg := testConfig(url)
	cfg.Connection.HeartbeatInterval = 20 * time.Millisecond

	e, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, e.LastPong().IsZero())
	runEngine(t, e)

	require.Eventually(t, func() bool { return !e.LastPong().IsZero() }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, orch.receivedTypes(), protocol.TypePing)
}

func TestEngine_SendWhileDisconnectedFailsFast(t *testing.T) {
	sched := &pendingScheduler{}
	e, err := New(testConfig("ws://unused.invalid/ws/chat"),
		WithScheduler(sched),
		WithDialer(func(context.Context) (supervisor.Conn, error) {
			return nil, errors.New("connection refused")
		}),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		e.Close()
		<-errCh
	})

	require.Eventually(t, func() bool {
		return e.ConnectionStatus().State == supervisor.StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	_, err = e.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	_, ok := e.Snapshot()
	assert.False(t, ok, "a failed send does not begin a turn")

	stopped, err := e.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestEngine_ReconnectsAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		first := connections == 1
		mu.Unlock()
		if first {
			_ = conn.Close(websocket.StatusGoingAway, "restarting")
			return
		}
		_, _, _ = conn.Read(r.Context())
	}))
	t.Cleanup(server.Close)

	var states []supervisor.State
	var statesMu sync.Mutex
	e, err := New(testConfig(server.URL), WithStateListener(func(st supervisor.Status) {
		statesMu.Lock()
		defer statesMu.Unlock()
		states = append(states, st.State)
	}))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		e.Close()
		<-errCh
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 2 && e.ConnectionStatus().State == supervisor.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, e.ConnectionStatus().Attempt)

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Contains(t, states, supervisor.StateDisconnected)
}

func TestEngine_CommandsRequireRun(t *testing.T) {
	e, err := New(testConfig("ws://localhost:1/ws/chat"))
	require.NoError(t, err)

	_, err = e.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = e.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	e.Close()
}

func TestEngine_RunTwice(t *testing.T) {
	sched := &pendingScheduler{}
	e, err := New(testConfig("ws://unused.invalid/ws/chat"),
		WithScheduler(sched),
		WithDialer(func(context.Context) (supervisor.Conn, error) { return nil, errors.New("refused") }),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)
	e.Close()
	assert.NoError(t, <-errCh)
}

type finalizeCounter struct {
	mu sync.Mutex
	n  int
}

func (f *finalizeCounter) TurnChanged(conversation.Turn) {}
func (f *finalizeCounter) ArtifactFinalized(string, conversation.Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
}

func (f *finalizeCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// pendingScheduler never fires, keeping the supervisor parked between attempts.
type pendingScheduler struct{}

type pendingTimer struct{}

func (pendingTimer) Stop() bool { return true }

func (pendingScheduler) AfterFunc(time.Duration, func()) supervisor.Timer { return pendingTimer{} }

// stallingConn holds every write until release is closed, then returns err.
type stallingConn struct {
	events  chan transport.Event
	writes  chan []byte
	release chan struct{}
	err     error
	once    sync.Once
}

func newStallingConn(err error) *stallingConn {
	return &stallingConn{
		events:  make(chan transport.Event, 16),
		writes:  make(chan []byte, 16),
		release: make(chan struct{}),
		err:     err,
	}
}

func (c *stallingConn) Send(ctx context.Context, frame []byte) error {
	c.writes <- frame
	select {
	case <-c.release:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stallingConn) Events() <-chan transport.Event { return c.events }

func (c *stallingConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *stallingConn) frame(raw string) {
	c.events <- transport.Event{Kind: transport.EventFrame, Data: []byte(raw)}
}

func nextWrite(t *testing.T, c *stallingConn) string {
	t.Helper()
	select {
	case frame := <-c.writes:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env.Type
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no frame written")
		return ""
	}
}

func TestEngine_SlowWriteDoesNotBlockFrames(t *testing.T) {
	conn := newStallingConn(nil)
	e, err := New(testConfig("ws://unused.invalid/ws/chat"),
		WithDialer(func(context.Context) (supervisor.Conn, error) { return conn, nil }),
	)
	require.NoError(t, err)
	runEngine(t, e)

	_, err = e.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeChatMessage, nextWrite(t, conn))

	// The chat_message write is still in progress.
	conn.frame(`{"type":"agent_content_chunk","agent":"A","content":"hello","is_final":false}`)
	require.Eventually(t, func() bool {
		turn, ok := e.Snapshot()
		if !ok {
			return false
		}
		a, found := turn.Agent("A")
		return found && a.Text == "hello"
	}, 5*time.Second, 10*time.Millisecond)

	stopped, err := e.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	turn, _ := e.Snapshot()
	assert.Equal(t, conversation.TurnCancelled, turn.Status)

	close(conn.release)
	assert.Equal(t, protocol.TypeStopGeneration, nextWrite(t, conn))
}

func TestEngine_FailedWriteErrorsTurn(t *testing.T) {
	conn := newStallingConn(errors.New("write: broken pipe"))
	close(conn.release)
	e, err := New(testConfig("ws://unused.invalid/ws/chat"),
		WithDialer(func(context.Context) (supervisor.Conn, error) { return conn, nil }),
	)
	require.NoError(t, err)
	runEngine(t, e)

	id, err := e.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	turn := waitForStatus(t, e, conversation.TurnErrored)
	assert.Equal(t, id, turn.ID)
	assert.Contains(t, turn.Error, "broken pipe")

	_, err = e.SendMessage(context.Background(), "retry")
	assert.NoError(t, err, "a failed turn does not block the next message")
}
