// Package api provides Mindwell's HTTP surface.
//
// Endpoints:
//
//	POST /api/chat/stream                      → SSE event stream for one turn
//	GET  /api/conversations/{id}/subscribe     → websocket push of committed changes
//	CRUD /api/conversations, .../messages      → conversation persistence
//	POST /api/documents                        → document upload for the read tool
//	GET  /health, /ready                       → probes
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - chat.go: streaming chat endpoint
//   - conversation.go: conversation and message endpoints
//   - subscribe.go: websocket change feed
//   - health.go: health check endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/orchestrator"
	"github.com/mindwell-app/mindwell/internal/store"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3600"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout prevents Slowloris-style header dribbling.
	ReadHeaderTimeout = 10 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the Mindwell HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health       *HealthHandler
	conversation *ConversationHandler
	chat         *ChatHandler
	subscribe    *SubscribeHandler
}

// NewServer creates the server with all routes registered.
func NewServer(st *store.Store, orch *orchestrator.Orchestrator, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:          mux,
		logger:       logger,
		health:       NewHealthHandler(st),
		conversation: NewConversationHandler(st, logger),
		chat:         NewChatHandler(orch, logger),
		subscribe:    NewSubscribeHandler(st.Hub(), logger),
	}

	s.health.RegisterRoutes(mux)
	s.conversation.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.subscribe.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the server and blocks until ctx is canceled, then shuts
// down gracefully.
//
// Note: no ReadTimeout/WriteTimeout on the server itself, because the
// chat stream and the websocket feed are long-lived by design.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
