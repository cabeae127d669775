package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Handler receives decoded inbound frames. turnID is the frame's optional
// turn_id, empty when absent.
type Handler interface {
	ResponseStarted(turnID string)
	AgentThinking(turnID string, f AgentThinking)
	AgentContentChunk(turnID string, f AgentContentChunk)
	AgentArtifactStart(turnID string, f AgentArtifactStart)
	AgentArtifactChunk(turnID string, f AgentArtifactChunk)
	AgentError(turnID string, f AgentError)
	ResponseComplete(turnID string, f ResponseComplete)
	ResponseError(turnID string, f ResponseError)
	GenerationStopped(turnID string)
	Pong()
}

// Dispatcher validates raw frames and routes them to a Handler, one at a
// time, in the order Dispatch is called. It holds no conversation state.
type Dispatcher struct {
	handler Handler
	schemas map[string]*gojsonschema.Schema
	log     *slog.Logger
}

// NewDispatcher creates a Dispatcher routing to h.
func NewDispatcher(h Handler) (*Dispatcher, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		handler: h,
		schemas: schemas,
		log:     slog.With("component", "dispatcher"),
	}, nil
}

// Dispatch processes one frame. Malformed and unknown frames are logged and
// discarded; nothing is returned to the transport loop.
func (d *Dispatcher) Dispatch(raw []byte) {
	err := d.dispatch(raw)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownType):
		d.log.Debug("Ignoring frame of unknown type", "error", err)
	default:
		d.log.Warn("Discarding invalid frame", "error", err, "size", len(raw))
	}
}

func (d *Dispatcher) dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if env.Type == "" {
		return &DecodeError{Reason: "missing type"}
	}

	schema, ok := d.schemas[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &DecodeError{Type: env.Type, Reason: "schema validation", Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return &DecodeError{Type: env.Type, Reason: strings.Join(msgs, "; ")}
	}

	h := d.handler
	turnID := string(env.TurnID)

	switch env.Type {
	case TypeResponseStart:
		h.ResponseStarted(turnID)
	case TypeAgentThinking:
		f, err := decode[AgentThinking](raw, env.Type)
		if err != nil {
			return err
		}
		h.AgentThinking(turnID, f)
	case TypeAgentContentChunk:
		f, err := decode[AgentContentChunk](raw, env.Type)
		if err != nil {
			return err
		}
		h.AgentContentChunk(turnID, f)
	case TypeAgentArtifactStart:
		f, err := decode[AgentArtifactStart](raw, env.Type)
		if err != nil {
			return err
		}
		h.AgentArtifactStart(turnID, f)
	case TypeAgentArtifactChunk:
		f, err := decode[AgentArtifactChunk](raw, env.Type)
		if err != nil {
			return err
		}
		h.AgentArtifactChunk(turnID, f)
	case TypeAgentError:
		f, err := decode[AgentError](raw, env.Type)
		if err != nil {
			return err
		}
		h.AgentError(turnID, f)
	case TypeResponseComplete:
		f, err := decode[ResponseComplete](raw, env.Type)
		if err != nil {
			return err
		}
		h.ResponseComplete(turnID, f)
	case TypeResponseError:
		f, err := decode[ResponseError](raw, env.Type)
		if err != nil {
			return err
		}
		h.ResponseError(turnID, f)
	case TypeGenerationStopped:
		h.GenerationStopped(turnID)
	case TypePong:
		h.Pong()
	}
	return nil
}

func decode[T any](raw []byte, frameType string) (T, error) {
	var f T
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, &DecodeError{Type: frameType, Reason: "decode payload", Err: err}
	}
	return f, nil
}
