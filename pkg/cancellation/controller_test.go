package cancellation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/protocol"
	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

type recordingSender struct {
	frames [][]byte
	err    error
}

func (s *recordingSender) Send(_ context.Context, frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func streamingMachine(t *testing.T) *conversation.Machine {
	t.Helper()
	m := conversation.NewMachine()
	_, err := m.BeginTurn()
	require.NoError(t, err)
	m.ResponseStarted("")
	m.AgentThinking("", protocol.AgentThinking{Agent: "B", Status: "Writing"})
	m.AgentContentChunk("", protocol.AgentContentChunk{Agent: "B", Content: "partial"})
	return m
}

func TestController_StopsMidStream(t *testing.T) {
	m := streamingMachine(t)
	sender := &recordingSender{}
	c := NewController(sender, m, protocol.Composer{})

	require.True(t, c.RequestStop(context.Background()))

	require.Len(t, sender.frames, 1)
	assert.JSONEq(t, `{"type":"stop_generation"}`, string(sender.frames[0]))

	turn, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, conversation.TurnCancelled, turn.Status)
	b, _ := turn.Agent("B")
	assert.Equal(t, conversation.PhaseCompleted, b.Phase)
	assert.Empty(t, m.ActiveTurnID())

	// The backend's acknowledgement is a no-op.
	m.GenerationStopped("")
	after, _ := m.Snapshot()
	assert.Equal(t, turn, after)
}

func TestController_NoActiveTurn(t *testing.T) {
	m := conversation.NewMachine()
	sender := &recordingSender{}
	c := NewController(sender, m, protocol.Composer{})

	assert.False(t, c.RequestStop(context.Background()))
	assert.Empty(t, sender.frames, "nothing is sent without an active turn")
}

func TestController_Idempotent(t *testing.T) {
	m := streamingMachine(t)
	sender := &recordingSender{}
	c := NewController(sender, m, protocol.Composer{})

	assert.True(t, c.RequestStop(context.Background()))
	assert.False(t, c.RequestStop(context.Background()))
	assert.Len(t, sender.frames, 1)
}

func TestController_StopsLocallyWhenSendFails(t *testing.T) {
	m := streamingMachine(t)
	sender := &recordingSender{err: transport.ErrNotConnected}
	c := NewController(sender, m, protocol.Composer{})

	assert.True(t, c.RequestStop(context.Background()))
	turn, _ := m.Snapshot()
	assert.Equal(t, conversation.TurnCancelled, turn.Status)
}

func TestController_SendErrorIsNotReturned(t *testing.T) {
	m := streamingMachine(t)
	c := NewController(&recordingSender{err: errors.New("write: broken pipe")}, m, protocol.Composer{})
	assert.NotPanics(t, func() { c.RequestStop(context.Background()) })
}

// snapshotSender records the turn status at the moment the stop frame is written.
type snapshotSender struct {
	machine *conversation.Machine
	seen    []conversation.TurnStatus
}

func (s *snapshotSender) Send(context.Context, []byte) error {
	turn, _ := s.machine.Snapshot()
	s.seen = append(s.seen, turn.Status)
	return nil
}

func TestController_StopsBeforeWriting(t *testing.T) {
	m := streamingMachine(t)
	sender := &snapshotSender{machine: m}
	c := NewController(sender, m, protocol.Composer{})

	require.True(t, c.RequestStop(context.Background()))
	assert.Equal(t, []conversation.TurnStatus{conversation.TurnCancelled}, sender.seen,
		"the turn is cancelled locally before stop_generation goes out")
}
