package handler

import (
	"net/http"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// handleRefresh handles POST /refresh.
//
// The refresh runs in the background. A request arriving while another
// refresh runs is answered with the running task's id instead of queuing.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	started, taskID := h.refresher.TryStartRefresh(domain.TriggerManual)

	resp := &RefreshResponse{Status: RefreshStarted, TaskID: taskID}
	if !started {
		resp.Status = RefreshInProgress
	}
	h.writeJSON(w, r, http.StatusAccepted, resp)
}

// handleGetTask handles GET /task/{id}.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails("task id is required"))
		return
	}

	task, err := h.tasks.Get(id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, task)
}
