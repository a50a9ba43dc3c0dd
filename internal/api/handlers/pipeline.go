// pipeline.go — запуск конвейера приёма данных партнёра Metabolon.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/api/middleware"
)

// metabolonRequest — тело POST /studies/{accession}/partners/metabolon.
type metabolonRequest struct {
	Notify []string `json:"notify"`
}

// RunMetabolon — POST /api/v1/studies/{accession}/partners/metabolon?wait=.
// По умолчанию возвращает 202 с id задачи; wait=true ждёт завершения.
// Доступ: куратор.
func (h *APIHandler) RunMetabolon(w http.ResponseWriter, r *http.Request) {
	if h.svc.Pipeline == nil {
		apierrors.WriteError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Конвейер Metabolon не настроен")
		return
	}
	var req metabolonRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	wait, err := queryBool(r, "wait")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	p := middleware.PrincipalFromContext(r.Context())
	accession := chi.URLParam(r, "accession")

	if !wait {
		id, err := h.svc.Pipeline.Start(r.Context(), p, accession, req.Notify)
		if err != nil {
			h.fail(w, r, "metabolon_start", err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: id})
		return
	}

	res, err := h.svc.Pipeline.Run(r.Context(), p, accession, req.Notify)
	if err != nil {
		h.fail(w, r, "metabolon_run", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
