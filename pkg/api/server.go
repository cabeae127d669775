// Package api serves a small HTTP inspector over a running chat engine:
// connection health, the current turn, and stop/reconnect/send controls.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/chatstream/pkg/conversation"
	"github.com/codeready-toolchain/chatstream/pkg/supervisor"
)

// Inspector is the engine surface the HTTP API needs.
type Inspector interface {
	Snapshot() (conversation.Turn, bool)
	ConnectionStatus() supervisor.Status
	LastPong() time.Time
	SendMessage(ctx context.Context, content string) (string, error)
	Stop(ctx context.Context) (bool, error)
	Reconnect() bool
}

// Server is the inspector HTTP server.
type Server struct {
	engine     Inspector
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server and registers its routes.
func NewServer(engine Inspector) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{engine: engine, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/turn", s.turnHandler)
	v1.POST("/messages", s.sendMessageHandler)
	v1.POST("/stop", s.stopHandler)
	v1.POST("/reconnect", s.reconnectHandler)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Inspector listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Inspector server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("Inspector request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
