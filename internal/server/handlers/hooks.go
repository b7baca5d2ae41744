package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// PushHook accepts a source-control push event, creates a run, and executes
// it asynchronously. The response is 202 with the PENDING run; clients poll
// GET /api/runs/{runID} for progress.
func (h *Handlers) PushHook(w http.ResponseWriter, r *http.Request) {
	var ev types.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if ev.Branch == "" {
		h.writeError(w, http.StatusBadRequest, "branch is required", nil)
		return
	}
	if ev.Source == "" {
		ev.Source = "push"
	}

	run, err := h.engine.CreateRun(r.Context(), ev)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create run", err)
		return
	}

	// Snapshot before handing the run to the executor goroutine: Execute
	// mutates the run as stages complete.
	pending := *run

	// Execution outlives the hook request.
	runCtx, cancel := context.WithCancel(context.Background())
	h.track(run.RunID, cancel)
	go func() {
		defer cancel()
		defer h.untrack(run.RunID)
		if _, err := h.engine.Execute(runCtx, run); err != nil {
			h.logger.Error("run execution failed", "runId", run.RunID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(pending)
}
