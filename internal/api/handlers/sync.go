// sync.go — обработчики синхронизации приватного FTP и хранилищ.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/api/middleware"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/service"
)

// syncRequest — тело POST /studies/{accession}/sync.
type syncRequest struct {
	Category  string `json:"category"`
	Direction string `json:"direction"`
	DryRun    bool   `json:"dry_run"`
}

// jobAccepted — ответ на постановку фоновой задачи.
type jobAccepted struct {
	JobID string `json:"job_id"`
}

// Sync — POST /api/v1/studies/{accession}/sync?async=.
// async=true ставит синхронизацию в очередь и возвращает 202 с id задачи.
func (h *APIHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if err := decodeBody(r, &body); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	async, err := queryBool(r, "async")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if body.Category == "" {
		body.Category = string(model.SyncMetadata)
	}
	req := service.SyncRequest{
		Category:  model.SyncCategory(strings.ToLower(body.Category)),
		Direction: model.SyncDirection(strings.ToLower(body.Direction)),
		DryRun:    body.DryRun,
	}
	p := middleware.PrincipalFromContext(r.Context())
	accession := chi.URLParam(r, "accession")

	if async {
		id, err := h.svc.Sync.Submit(r.Context(), p, accession, req)
		if err != nil {
			h.fail(w, r, "sync_submit", err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobAccepted{JobID: id})
		return
	}

	plan, err := h.svc.Sync.Sync(r.Context(), p, accession, req)
	if err != nil {
		h.fail(w, r, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// SyncStatus — GET /api/v1/studies/{accession}/sync?category=.
// Возвращает план последнего запуска.
func (h *APIHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	category := model.SyncCategory(strings.ToLower(r.URL.Query().Get("category")))
	if category == "" {
		category = model.SyncMetadata
	}
	if !category.Valid() {
		apierrors.ValidationError(w, "неизвестная категория: "+string(category))
		return
	}

	plan, err := h.svc.Sync.Status(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), category)
	if err != nil {
		h.fail(w, r, "sync_status", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
