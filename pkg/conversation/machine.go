// Package conversation reconstructs multi-agent conversation state from
// inbound protocol events.
//
// The Machine holds at most one active turn. Every transition is keyed by
// agent name or artifact id, never by stream position, so events from
// different agents may interleave freely. Out-of-order and duplicate events
// are dropped rather than reported: applying a terminal event twice is a
// no-op. The Machine is not safe for concurrent use; the engine calls it from
// a single goroutine.
package conversation

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/chatstream/pkg/protocol"
)

// ErrTurnInProgress is returned by BeginTurn while a turn is pending or streaming.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// DefaultSeparator is inserted between consecutive content chunks of one agent.
const DefaultSeparator = " "

// retiredLimit bounds how many finished turn ids are remembered for stale-frame rejection.
const retiredLimit = 32

// Observer receives read-model updates. Calls happen synchronously on the
// goroutine applying events; observers must not call back into the Machine.
type Observer interface {
	TurnChanged(t Turn)
	ArtifactFinalized(turnID string, a Artifact)
}

// Option configures a Machine.
type Option func(*Machine)

// WithSeparator sets the delimiter inserted between content chunks.
func WithSeparator(sep string) Option {
	return func(m *Machine) { m.separator = sep }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator overrides turn id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Machine) { m.newID = gen }
}

// Machine is the conversation state machine. It implements protocol.Handler.
type Machine struct {
	turns    map[string]*turn
	activeID string
	latestID string
	retired  []string

	separator string
	observers []Observer
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

var _ protocol.Handler = (*Machine)(nil)

// NewMachine creates an empty Machine.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		turns:     make(map[string]*turn),
		separator: DefaultSeparator,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       slog.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver registers an observer after construction.
func (m *Machine) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// ActiveTurnID returns the id of the pending or streaming turn, or "".
func (m *Machine) ActiveTurnID() string {
	return m.activeID
}

// Snapshot returns the most recent turn, active or finished.
func (m *Machine) Snapshot() (Turn, bool) {
	t, ok := m.turns[m.latestID]
	if !ok {
		return Turn{}, false
	}
	return t.snapshot(), true
}

// BeginTurn starts a pending turn for an outgoing chat message. Finished
// turns are discarded from the arena.
func (m *Machine) BeginTurn() (string, error) {
	if m.activeID != "" {
		return "", ErrTurnInProgress
	}
	t := m.startTurn(TurnPending, "")
	m.publish(t)
	return t.id, nil
}

// StopTurn cancels the active turn locally. It reports false when there was
// nothing to stop.
func (m *Machine) StopTurn() bool {
	t := m.active()
	if t == nil {
		return false
	}
	m.finish(t, TurnCancelled)
	return true
}

// FailTurn marks the turn with local id turnID as errored with reason, for
// failures the backend never reports, such as a chat message that could not
// be written. It reports false when that turn is unknown or already finished.
func (m *Machine) FailTurn(turnID, reason string) bool {
	t, ok := m.turns[turnID]
	if !ok || t.status.IsTerminal() {
		return false
	}
	t.err = reason
	m.finish(t, TurnErrored)
	return true
}

// ResponseStarted moves the active turn to streaming, creating one if needed.
func (m *Machine) ResponseStarted(turnID string) {
	if t := m.active(); t != nil {
		if !m.accepts(t, turnID, protocol.TypeResponseStart) {
			return
		}
		if t.status == TurnPending {
			t.status = TurnStreaming
			m.touch(t)
			m.publish(t)
		}
		return
	}
	if m.isRetired(turnID) {
		m.rejectStale(turnID, protocol.TypeResponseStart)
		return
	}
	m.publish(m.startTurn(TurnStreaming, turnID))
}

// AgentThinking records an agent's status line.
func (m *Machine) AgentThinking(turnID string, f protocol.AgentThinking) {
	t := m.turnFor(turnID, protocol.TypeAgentThinking, true)
	if t == nil {
		return
	}
	s := m.section(t, f.Agent)
	if s.phase.IsTerminal() {
		m.log.Debug("Dropping thinking update for finished agent", "turn_id", t.id, "agent", f.Agent)
		return
	}
	s.phase = PhaseThinking
	s.statusText = f.Status
	m.touch(t)
	m.publish(t)
}

// AgentContentChunk appends text to an agent's section.
func (m *Machine) AgentContentChunk(turnID string, f protocol.AgentContentChunk) {
	t := m.turnFor(turnID, protocol.TypeAgentContentChunk, true)
	if t == nil {
		return
	}
	s := m.section(t, f.Agent)
	if s.phase.IsTerminal() {
		m.log.Debug("Dropping content for finished agent", "turn_id", t.id, "agent", f.Agent, "phase", s.phase)
		return
	}
	s.phase = PhaseStreamingContent
	if f.Content != "" {
		if s.text.Len() > 0 {
			s.text.WriteString(m.separator)
		}
		s.text.WriteString(f.Content)
	}
	if f.IsFinal {
		s.phase = PhaseCompleted
		s.statusText = ""
	}
	m.touch(t)
	m.publish(t)
}

// AgentArtifactStart opens an artifact under an agent. Duplicate ids are ignored turn-wide.
func (m *Machine) AgentArtifactStart(turnID string, f protocol.AgentArtifactStart) {
	t := m.turnFor(turnID, protocol.TypeAgentArtifactStart, true)
	if t == nil {
		return
	}
	id := string(f.Artifact.ID)
	if _, exists := t.artifacts[id]; exists {
		m.log.Debug("Ignoring duplicate artifact start", "turn_id", t.id, "artifact_id", id)
		return
	}
	s := m.section(t, f.Agent)
	if s.phase.IsTerminal() {
		m.log.Debug("Dropping artifact start for finished agent", "turn_id", t.id, "agent", f.Agent, "artifact_id", id)
		return
	}
	a := &artifact{
		id:       id,
		agent:    s.name,
		kind:     ParseArtifactKind(f.Artifact.Type),
		title:    f.Artifact.Title,
		language: f.Artifact.Language,
		status:   ArtifactOpen,
	}
	s.artifacts = append(s.artifacts, a)
	t.artifacts[id] = a
	m.touch(t)
	m.publish(t)
}

// AgentArtifactChunk appends raw content to an open artifact and closes it on
// the final chunk.
func (m *Machine) AgentArtifactChunk(turnID string, f protocol.AgentArtifactChunk) {
	t := m.turnFor(turnID, protocol.TypeAgentArtifactChunk, false)
	if t == nil {
		return
	}
	id := string(f.ArtifactID)
	a, ok := t.artifacts[id]
	if !ok {
		m.log.Debug("Dropping chunk for unknown artifact", "turn_id", t.id, "artifact_id", id)
		return
	}
	if a.status == ArtifactClosed {
		m.log.Debug("Dropping chunk for closed artifact", "turn_id", t.id, "artifact_id", id)
		return
	}
	if s := t.byName[a.agent]; s != nil && s.phase.IsTerminal() {
		m.log.Debug("Dropping artifact chunk for finished agent",
			"turn_id", t.id, "agent", a.agent, "artifact_id", id, "phase", s.phase)
		return
	}
	a.content.WriteString(f.Content)
	m.markStreaming(t)
	m.touch(t)
	if !f.IsFinal {
		m.publish(t)
		return
	}
	a.status = ArtifactClosed
	m.publish(t)
	m.finalized(t, a)
}

// AgentError marks one agent as failed. The turn continues.
func (m *Machine) AgentError(turnID string, f protocol.AgentError) {
	t := m.turnFor(turnID, protocol.TypeAgentError, true)
	if t == nil {
		return
	}
	s := m.section(t, f.Agent)
	if s.phase.IsTerminal() {
		m.log.Debug("Dropping error for finished agent", "turn_id", t.id, "agent", f.Agent, "phase", s.phase)
		return
	}
	s.phase = PhaseErrored
	s.statusText = ""
	s.err = f.Error
	m.touch(t)
	m.publish(t)
}

// ResponseComplete finishes the active turn successfully.
func (m *Machine) ResponseComplete(turnID string, f protocol.ResponseComplete) {
	t := m.turnFor(turnID, protocol.TypeResponseComplete, false)
	if t == nil {
		return
	}
	for _, s := range f.Artifacts {
		t.summary = append(t.summary, ArtifactSummary{
			ID:    string(s.ID),
			Kind:  ParseArtifactKind(s.Type),
			Title: s.Title,
			Agent: s.Agent,
		})
	}
	m.finish(t, TurnCompleted)
}

// ResponseError fails the active turn with a turn-level message.
func (m *Machine) ResponseError(turnID string, f protocol.ResponseError) {
	t := m.turnFor(turnID, protocol.TypeResponseError, false)
	if t == nil {
		return
	}
	t.err = f.Message()
	m.finish(t, TurnErrored)
}

// GenerationStopped confirms a stop. It is a no-op when the turn was already
// stopped locally.
func (m *Machine) GenerationStopped(turnID string) {
	t := m.turnFor(turnID, protocol.TypeGenerationStopped, false)
	if t == nil {
		return
	}
	m.finish(t, TurnCancelled)
}

// Pong carries no conversation state.
func (m *Machine) Pong() {}

func (m *Machine) active() *turn {
	if m.activeID == "" {
		return nil
	}
	return m.turns[m.activeID]
}

// turnFor resolves the turn an inbound frame applies to. A frame whose
// turn_id names a finished turn, or differs from the active turn's bound id,
// is rejected. When create is set and no turn is active, a streaming turn is
// started implicitly.
func (m *Machine) turnFor(turnID, frameType string, create bool) *turn {
	if turnID != "" && m.isRetired(turnID) {
		m.rejectStale(turnID, frameType)
		return nil
	}
	if t := m.active(); t != nil {
		if !m.accepts(t, turnID, frameType) {
			return nil
		}
		return t
	}
	if !create {
		m.log.Debug("Dropping orphan frame with no active turn", "type", frameType, "frame_turn_id", turnID)
		return nil
	}
	m.log.Debug("Starting turn implicitly", "type", frameType, "frame_turn_id", turnID)
	return m.startTurn(TurnStreaming, turnID)
}

// accepts binds or checks the frame's turn_id against t.
func (m *Machine) accepts(t *turn, turnID, frameType string) bool {
	switch {
	case turnID == "" || t.matches(turnID):
		return true
	case t.wireID == "":
		t.wireID = turnID
		return true
	default:
		m.log.Warn("Rejecting frame for a different turn",
			"type", frameType, "turn_id", t.id, "frame_turn_id", turnID)
		return false
	}
}

func (m *Machine) rejectStale(turnID, frameType string) {
	m.log.Warn("Rejecting frame for finished turn", "type", frameType, "frame_turn_id", turnID)
}

func (m *Machine) isRetired(turnID string) bool {
	return turnID != "" && slices.Contains(m.retired, turnID)
}

func (m *Machine) startTurn(status TurnStatus, wireID string) *turn {
	for id, old := range m.turns {
		if old.status.IsTerminal() {
			delete(m.turns, id)
		}
	}
	now := m.now()
	t := &turn{
		id:        m.newID(),
		wireID:    wireID,
		status:    status,
		byName:    make(map[string]*section),
		artifacts: make(map[string]*artifact),
		createdAt: now,
		updatedAt: now,
	}
	m.turns[t.id] = t
	m.activeID = t.id
	m.latestID = t.id
	return t
}

// section returns the named agent section, creating it in first-seen order.
func (m *Machine) section(t *turn, name string) *section {
	m.markStreaming(t)
	if s, ok := t.byName[name]; ok {
		return s
	}
	s := &section{name: name, phase: PhaseThinking}
	t.byName[name] = s
	t.sections = append(t.sections, s)
	m.touch(t)
	return s
}

func (m *Machine) markStreaming(t *turn) {
	if t.status == TurnPending {
		t.status = TurnStreaming
		m.touch(t)
	}
}

// finish moves t to a terminal status. Non-terminal agents are completed and
// still-open artifacts are closed and finalized. Repeated calls are no-ops.
func (m *Machine) finish(t *turn, status TurnStatus) {
	if t.status.IsTerminal() {
		return
	}
	var closed []*artifact
	for _, s := range t.sections {
		if status != TurnErrored && !s.phase.IsTerminal() {
			s.phase = PhaseCompleted
		}
		if status != TurnErrored {
			s.statusText = ""
		}
		for _, a := range s.artifacts {
			if a.status == ArtifactOpen {
				a.status = ArtifactClosed
				closed = append(closed, a)
			}
		}
	}
	t.status = status
	m.touch(t)
	if m.activeID == t.id {
		m.activeID = ""
	}
	m.retire(t)

	m.log.Debug("Turn finished", "turn_id", t.id, "status", status)
	m.publish(t)
	for _, a := range closed {
		m.finalized(t, a)
	}
}

func (m *Machine) retire(t *turn) {
	for _, id := range []string{t.id, t.wireID} {
		if id == "" || slices.Contains(m.retired, id) {
			continue
		}
		m.retired = append(m.retired, id)
	}
	if over := len(m.retired) - retiredLimit; over > 0 {
		m.retired = slices.Delete(m.retired, 0, over)
	}
}

func (m *Machine) touch(t *turn) {
	t.updatedAt = m.now()
}

func (m *Machine) publish(t *turn) {
	for _, o := range m.observers {
		o.TurnChanged(t.snapshot())
	}
}

func (m *Machine) finalized(t *turn, a *artifact) {
	m.log.Debug("Artifact finalized", "turn_id", t.id, "artifact_id", a.id, "kind", a.kind)
	for _, o := range m.observers {
		o.ArtifactFinalized(t.id, a.snapshot())
	}
}
