package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// ListApprovals returns every approval still awaiting a decision.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.ListPendingApprovals(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list approvals", err)
		return
	}
	if pending == nil {
		pending = []types.PendingApproval{}
	}
	_ = json.NewEncoder(w).Encode(pending)
}

// ResolveApproval records an approve or reject decision for a pending
// approval and wakes the suspended run.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	var body struct {
		Decision string `json:"decision"`
		Actor    string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	var decision types.ApprovalDecision
	switch body.Decision {
	case "approve":
		decision = types.ApprovalApproved
	case "reject":
		decision = types.ApprovalRejected
	default:
		h.writeError(w, http.StatusBadRequest, "decision must be 'approve' or 'reject'", nil)
		return
	}
	if body.Actor == "" {
		h.writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	if err := h.approvals.Resolve(r.Context(), approvalID, decision, body.Actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "approval not found", nil)
			return
		}
		h.writeError(w, http.StatusConflict, "approval already resolved", err)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"approvalId": approvalID,
		"decision":   string(decision),
		"actor":      body.Actor,
	})
}
