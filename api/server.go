// Package api exposes the execution engine over a small REST interface.
//
// Routes:
//
//	POST /api/v1/execute     run an ExecutionRequest, respond with its ExecutionResult
//	GET  /api/v1/executions  list environment IDs still in flight
//	GET  /healthz            liveness probe
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/codecontext/execengine/config"
	"github.com/codecontext/execengine/sandbox"
	"github.com/codecontext/execengine/usage"
)

// maxRequestBytes caps the size of an execution request body.
const maxRequestBytes = 4 << 20

// Server is the REST front end of the engine.
type Server struct {
	router     *chi.Mux
	port       int
	logger     *zap.Logger
	executor   sandbox.Executor
	gate       usage.Gate
	httpServer *http.Server
}

// New creates the REST server and its routes. It does not listen until Start.
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, gate usage.Gate) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		port:     cfg.Server.APIPort,
		logger:   logger.Named("api"),
		executor: executor,
		gate:     gate,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(s.logger))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Get("/executions", s.handleListExecutions)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Enabled reports whether an API port is configured.
func (s *Server) Enabled() bool {
	return s.port > 0
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on api port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting REST API", zap.Int("port", s.port))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
