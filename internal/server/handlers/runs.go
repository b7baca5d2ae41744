package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// ListRuns returns recent runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.store.ListRuns(r.Context(), h.engine.Pipeline(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []types.PipelineRun{}
	}
	_ = json.NewEncoder(w).Encode(runs)
}

// GetRun returns a single run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	_ = json.NewEncoder(w).Encode(run)
}

// ListEvents returns the audit trail for a run, oldest first.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	events, err := h.store.ListEvents(r.Context(), runID, 200)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	_ = json.NewEncoder(w).Encode(events)
}

// CancelRun aborts a run executing in this process. Stages already recorded
// keep their outcomes; always-run cleanup still executes.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	cancel, ok := h.cancelFor(runID)
	if !ok {
		run, err := h.store.GetRun(r.Context(), runID)
		if err != nil {
			h.writeError(w, http.StatusNotFound, "run not found", nil)
			return
		}
		h.writeError(w, http.StatusConflict,
			"run is not executing in this process (status "+string(run.Status)+")", nil)
		return
	}

	cancel()
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"runId": runID, "status": "cancelling"})
}
