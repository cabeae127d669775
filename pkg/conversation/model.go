package conversation

import (
	"strings"
	"time"
)

// TurnStatus is the lifecycle state of a turn.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnErrored   TurnStatus = "errored"
	TurnCancelled TurnStatus = "cancelled"
)

// IsTerminal reports whether no further events apply to the turn.
func (s TurnStatus) IsTerminal() bool {
	switch s {
	case TurnCompleted, TurnErrored, TurnCancelled:
		return true
	}
	return false
}

// Phase is the lifecycle state of one agent within a turn.
type Phase string

const (
	PhaseThinking         Phase = "thinking"
	PhaseStreamingContent Phase = "streaming-content"
	PhaseCompleted        Phase = "completed"
	PhaseErrored          Phase = "errored"
)

// IsTerminal reports whether the agent accepts no more content.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// ArtifactKind selects how a finalized artifact is rendered.
type ArtifactKind string

const (
	KindCode     ArtifactKind = "code"
	KindDiagram  ArtifactKind = "diagram"
	KindDocument ArtifactKind = "document"
	KindOther    ArtifactKind = "other"
)

// ParseArtifactKind maps a wire kind to an ArtifactKind. Unknown kinds map to KindOther.
func ParseArtifactKind(s string) ArtifactKind {
	switch k := ArtifactKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCode, KindDiagram, KindDocument:
		return k
	default:
		return KindOther
	}
}

// ArtifactStatus tracks whether an artifact still accepts chunks.
type ArtifactStatus string

const (
	ArtifactOpen   ArtifactStatus = "open"
	ArtifactClosed ArtifactStatus = "closed"
)

// Turn is a read-only snapshot of one request/response cycle.
type Turn struct {
	ID        string            `json:"id"`
	Status    TurnStatus        `json:"status"`
	Agents    []AgentSection    `json:"agents"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Error     string            `json:"error,omitempty"`
	Summary   []ArtifactSummary `json:"summary,omitempty"`
}

// Agent returns the named section, if present.
func (t Turn) Agent(name string) (AgentSection, bool) {
	for _, a := range t.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentSection{}, false
}

// Artifact returns the artifact with id from any agent in the turn.
func (t Turn) Artifact(id string) (Artifact, bool) {
	for _, a := range t.Agents {
		for _, art := range a.Artifacts {
			if art.ID == id {
				return art, true
			}
		}
	}
	return Artifact{}, false
}

// AgentSection is a read-only snapshot of one agent's output.
type AgentSection struct {
	Name       string     `json:"name"`
	Phase      Phase      `json:"phase"`
	StatusText string     `json:"status_text,omitempty"`
	Text       string     `json:"text"`
	Error      string     `json:"error,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a read-only snapshot of one streamed artifact.
type Artifact struct {
	ID       string         `json:"id"`
	Agent    string         `json:"agent"`
	Kind     ArtifactKind   `json:"kind"`
	Title    string         `json:"title"`
	Language string         `json:"language,omitempty"`
	Status   ArtifactStatus `json:"status"`
	Content  string         `json:"content"`
}

// ArtifactSummary is one entry from the backend's completion summary.
type ArtifactSummary struct {
	ID    string       `json:"id"`
	Kind  ArtifactKind `json:"kind"`
	Title string       `json:"title,omitempty"`
	Agent string       `json:"agent,omitempty"`
}

// turn is the mutable arena entry. Only the Machine touches it.
type turn struct {
	id        string
	wireID    string // turn_id bound from the first inbound frame that carried one
	status    TurnStatus
	sections  []*section
	byName    map[string]*section
	artifacts map[string]*artifact
	createdAt time.Time
	updatedAt time.Time
	err       string
	summary   []ArtifactSummary
}

type section struct {
	name       string
	phase      Phase
	statusText string
	text       strings.Builder
	err        string
	artifacts  []*artifact
}

type artifact struct {
	id       string
	agent    string
	kind     ArtifactKind
	title    string
	language string
	status   ArtifactStatus
	content  strings.Builder
}

func (t *turn) matches(id string) bool {
	return id == t.id || (t.wireID != "" && id == t.wireID)
}

func (t *turn) snapshot() Turn {
	out := Turn{
		ID:        t.id,
		Status:    t.status,
		Agents:    make([]AgentSection, 0, len(t.sections)),
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
		Error:     t.err,
	}
	if len(t.summary) > 0 {
		out.Summary = append([]ArtifactSummary(nil), t.summary...)
	}
	for _, s := range t.sections {
		out.Agents = append(out.Agents, s.snapshot())
	}
	return out
}

func (s *section) snapshot() AgentSection {
	out := AgentSection{
		Name:       s.name,
		Phase:      s.phase,
		StatusText: s.statusText,
		Text:       s.text.String(),
		Error:      s.err,
	}
	if len(s.artifacts) > 0 {
		out.Artifacts = make([]Artifact, 0, len(s.artifacts))
		for _, a := range s.artifacts {
			out.Artifacts = append(out.Artifacts, a.snapshot())
		}
	}
	return out
}

func (a *artifact) snapshot() Artifact {
	return Artifact{
		ID:       a.id,
		Agent:    a.agent,
		Kind:     a.kind,
		Title:    a.title,
		Language: a.language,
		Status:   a.status,
		Content:  a.content.String(),
	}
}
