// Package protocol defines the chat wire format: inbound frame payloads,
// the Dispatcher that validates and routes them, and the Composer that builds
// outbound frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	TypeAgentThinking      = "agent_thinking"
	TypeAgentContentChunk  = "agent_content_chunk"
	TypeAgentArtifactStart = "agent_artifact_start"
	TypeAgentArtifactChunk = "agent_artifact_chunk"
	TypeAgentError         = "agent_error"
	TypeResponseStart      = "response_start"
	TypeResponseComplete   = "response_complete"
	TypeResponseError      = "response_error"
	TypeGenerationStopped  = "generation_stopped"
	TypePong               = "pong"
)

// Outbound frame types.
const (
	TypeChatMessage    = "chat_message"
	TypeStopGeneration = "stop_generation"
	TypePing           = "ping"
)

// Envelope holds the fields common to every inbound frame.
type Envelope struct {
	Type   string `json:"type"`
	TurnID TurnID `json:"turn_id,omitempty"`
}

// TurnID is the server's turn identifier, sent as a JSON string or number.
type TurnID string

// UnmarshalJSON accepts a string or a number.
func (id *TurnID) UnmarshalJSON(data []byte) error {
	s, err := decodeID(data, "turn id")
	if err != nil {
		return err
	}
	*id = TurnID(s)
	return nil
}

// ArtifactID is an artifact identifier. The wire sends it either as a JSON
// string or a JSON number; both decode to the same string form.
type ArtifactID string

// UnmarshalJSON accepts a string or a number.
func (id *ArtifactID) UnmarshalJSON(data []byte) error {
	s, err := decodeID(data, "artifact id")
	if err != nil {
		return err
	}
	*id = ArtifactID(s)
	return nil
}

// decodeID reads a JSON string or number as a string. null decodes to "".
func decodeID(data []byte, what string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("%s must be a string or number: %w", what, err)
	}
	return n.String(), nil
}

// AgentThinking reports what an agent is currently doing.
type AgentThinking struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// AgentContentChunk carries one increment of an agent's text.
type AgentContentChunk struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}

// ArtifactHeader describes an artifact when it is opened.
type ArtifactHeader struct {
	ID       ArtifactID `json:"id"`
	Type     string     `json:"type"`
	Title    string     `json:"title"`
	Language string     `json:"language,omitempty"`
}

// AgentArtifactStart opens an artifact under an agent.
type AgentArtifactStart struct {
	Agent    string         `json:"agent"`
	Artifact ArtifactHeader `json:"artifact"`
}

// AgentArtifactChunk carries one increment of an artifact's content.
type AgentArtifactChunk struct {
	Agent      string     `json:"agent"`
	ArtifactID ArtifactID `json:"artifact_id"`
	Content    string     `json:"content"`
	IsFinal    bool       `json:"is_final"`
}

// AgentError reports a failure scoped to one agent.
type AgentError struct {
	Agent string `json:"agent"`
	Error string `json:"error"`
}

// ArtifactSummary is one entry of the response_complete artifact list.
type ArtifactSummary struct {
	ID    ArtifactID `json:"id"`
	Type  string     `json:"type,omitempty"`
	Title string     `json:"title,omitempty"`
	Agent string     `json:"agent,omitempty"`
}

// ResponseComplete ends a turn successfully.
type ResponseComplete struct {
	Artifacts []ArtifactSummary `json:"artifacts,omitempty"`
}

// ResponseError ends a turn with a turn-level error. The backend sends the
// message in either field.
type ResponseError struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message returns the human-readable error text.
func (e ResponseError) Message() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Content != "":
		return e.Content
	default:
		return "unknown error"
	}
}
