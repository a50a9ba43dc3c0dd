// jobs.go — обработчики /api/v1/jobs: статус и отмена фоновых задач.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/metabostore/internal/api/middleware"
)

// GetJob — GET /api/v1/jobs/{id}.
// Доступ: владелец исследования задачи.
func (h *APIHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Jobs.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get_job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob — DELETE /api/v1/jobs/{id}.
// Доступ: куратор.
func (h *APIHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Jobs.Cancel(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "cancel_job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
