package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
	"github.com/codeready-toolchain/chatstream/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// commandTimeout bounds how long a control request waits for the apply loop.
const commandTimeout = 5 * time.Second

// healthHandler handles GET /health. A reconnecting client is degraded; one
// that gave up is unhealthy.
func (s *Server) healthHandler(c *gin.Context) {
	conn := s.engine.ConnectionStatus()

	status := healthStatusDegraded
	httpStatus := http.StatusOK
	switch conn.State {
	case supervisor.StateConnected:
		status = healthStatusHealthy
	case supervisor.StateErrored:
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:     status,
		Version:    version.GitCommit,
		Connection: conn,
	}
	if pong := s.engine.LastPong(); !pong.IsZero() {
		resp.LastPong = &pong
	}
	if turn, ok := s.engine.Snapshot(); ok && !turn.Status.IsTerminal() {
		resp.ActiveTurn = turn.ID
	}
	c.JSON(httpStatus, resp)
}

// turnHandler handles GET /api/v1/turn.
func (s *Server) turnHandler(c *gin.Context) {
	turn, ok := s.engine.Snapshot()
	if !ok {
		c.JSON(http.StatusOK, &TurnResponse{})
		return
	}
	c.JSON(http.StatusOK, &TurnResponse{Turn: &turn})
}

// sendMessageHandler handles POST /api/v1/messages.
func (s *Server) sendMessageHandler(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	turnID, err := s.engine.SendMessage(ctx, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, &SendMessageResponse{TurnID: turnID})
}

// stopHandler handles POST /api/v1/stop.
func (s *Server) stopHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	stopped, err := s.engine.Stop(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := &StopResponse{Stopped: stopped, Message: "turn stopped"}
	if !stopped {
		resp.Message = "no active turn"
	}
	c.JSON(http.StatusOK, resp)
}

// reconnectHandler handles POST /api/v1/reconnect.
func (s *Server) reconnectHandler(c *gin.Context) {
	triggered := s.engine.Reconnect()
	c.JSON(http.StatusOK, &ReconnectResponse{
		Triggered:  triggered,
		Connection: s.engine.ConnectionStatus(),
	})
}
