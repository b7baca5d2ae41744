package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/conveyor/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.engine, s.store, s.approvals)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Triggers
		r.Post("/hooks/push", h.PushHook)

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Get("/runs/{runID}/events", h.ListEvents)
		r.Post("/runs/{runID}/cancel", h.CancelRun)

		// Approvals
		r.Get("/approvals", h.ListApprovals)
		r.Post("/approvals/{approvalID}", h.ResolveApproval)
	})

	// Runtime counters
	r.Method("GET", "/debug/vars", expvar.Handler())
}
