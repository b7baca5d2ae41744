// Package server implements the Conveyor HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/conveyor/internal/engine"
	"github.com/dwsmith1983/conveyor/internal/gate"
	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Server is the Conveyor HTTP API server.
type Server struct {
	engine    *engine.Engine
	store     store.Store
	approvals *gate.Coordinator
	router    chi.Router
	addr      string
	logger    *slog.Logger
	srv       *http.Server
}

// New creates a new HTTP server.
func New(cfg types.ServerConfig, eng *engine.Engine, st store.Store, approvals *gate.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    eng,
		store:     st,
		approvals: approvals,
		addr:      cfg.Addr,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyMiddleware(1 << 20))
	r.Use(APIKeyMiddleware(cfg.APIKey))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("conveyor server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
