package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFrame matches every DecodeError.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrUnknownType is returned for a well-formed frame whose type is not recognized.
	ErrUnknownType = errors.New("unknown frame type")

	// ErrEmptyMessage is returned when composing a chat message with no content.
	ErrEmptyMessage = errors.New("message content is empty")
)

// DecodeError describes a frame that could not be decoded or failed
// validation. The frame is discarded.
type DecodeError struct {
	Type   string // frame type, when it could be read
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "invalid frame"
	if e.Type != "" {
		msg = fmt.Sprintf("invalid %s frame", e.Type)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrInvalidFrame.
func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidFrame
}
