// Package cancellation stops the active turn optimistically: the turn is
// finalized locally at once and the stop request then goes out on the wire,
// without waiting for the backend's acknowledgement.
package cancellation

import (
	"context"
	"log/slog"
)

// Sender writes an outbound frame.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Turns is the part of the conversation state the controller drives.
type Turns interface {
	ActiveTurnID() string
	StopTurn() bool
}

// FrameComposer builds the stop frame.
type FrameComposer interface {
	StopGeneration() []byte
}

// Controller issues stop requests.
type Controller struct {
	sender   Sender
	turns    Turns
	composer FrameComposer
	log      *slog.Logger
}

// NewController creates a Controller.
func NewController(sender Sender, turns Turns, composer FrameComposer) *Controller {
	return &Controller{
		sender:   sender,
		turns:    turns,
		composer: composer,
		log:      slog.With("component", "cancellation"),
	}
}

// RequestStop cancels the active turn. It reports whether a turn was stopped;
// with no active turn it does nothing. The turn is stopped locally before
// stop_generation is sent, and a failed send is only logged.
func (c *Controller) RequestStop(ctx context.Context) bool {
	turnID := c.turns.ActiveTurnID()
	if turnID == "" {
		return false
	}
	if !c.turns.StopTurn() {
		return false
	}
	c.log.Info("Turn stopped", "turn_id", turnID)

	if err := c.sender.Send(ctx, c.composer.StopGeneration()); err != nil {
		c.log.Warn("Failed to send stop_generation", "turn_id", turnID, "error", err)
	}
	return true
}
