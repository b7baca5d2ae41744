// Package handlers implements HTTP request handlers for the Conveyor API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dwsmith1983/conveyor/internal/engine"
	"github.com/dwsmith1983/conveyor/internal/gate"
	"github.com/dwsmith1983/conveyor/internal/store"
)

// Handlers contains all HTTP handler dependencies. It also tracks the cancel
// function of every run executing in this process so a cancel request can
// reach the in-flight sequencer.
type Handlers struct {
	engine    *engine.Engine
	store     store.Store
	approvals *gate.Coordinator
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a new Handlers instance.
func New(eng *engine.Engine, st store.Store, approvals *gate.Coordinator) *Handlers {
	return &Handlers{
		engine:    eng,
		store:     st,
		approvals: approvals,
		logger:    slog.Default(),
		active:    make(map[string]context.CancelFunc),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to
// the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) track(runID string, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[runID] = cancel
}

func (h *Handlers) untrack(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, runID)
}

func (h *Handlers) cancelFor(runID string) (context.CancelFunc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cancel, ok := h.active[runID]
	return cancel, ok
}
