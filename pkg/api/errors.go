package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/engine"
	"github.com/codeready-toolchain/chatstream/pkg/protocol"
	"github.com/codeready-toolchain/chatstream/pkg/transport"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// mapEngineError maps engine errors to an HTTP status and message.
func mapEngineError(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conversation.ErrTurnInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, engine.ErrOutboundFull):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled"
	}

	slog.Error("Unexpected engine error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

func abortWithError(c *gin.Context, err error) {
	status, msg := mapEngineError(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}
