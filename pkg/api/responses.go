package api

import (
	"time"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Connection supervisor.Status `json:"connection"`
	LastPong   *time.Time        `json:"last_pong,omitempty"`
	ActiveTurn string            `json:"active_turn,omitempty"`
}

// TurnResponse is returned by GET /api/v1/turn.
type TurnResponse struct {
	Turn *conversation.Turn `json:"turn"`
}

// SendMessageResponse is returned by POST /api/v1/messages.
type SendMessageResponse struct {
	TurnID string `json:"turn_id"`
}

// StopResponse is returned by POST /api/v1/stop.
type StopResponse struct {
	Stopped bool   `json:"stopped"`
	Message string `json:"message"`
}

// ReconnectResponse is returned by POST /api/v1/reconnect.
type ReconnectResponse struct {
	Triggered  bool              `json:"triggered"`
	Connection supervisor.Status `json:"connection"`
}
