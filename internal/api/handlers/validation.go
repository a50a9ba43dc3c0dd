// validation.go — обработчики валидации и индекса файлов исследования.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/api/middleware"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/service"
	"github.com/bigkaa/metabostore/internal/validation"
)

// Validate — POST /api/v1/studies/{accession}/validate?section=&level=.
// Доступ: владелец. Полная валидация обновляет сохранённый отчёт.
func (h *APIHandler) Validate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := validation.ParseFilter(q.Get("section"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	logFilter, err := validation.ParseLogFilter(q.Get("level"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	report, err := h.svc.Validation.Validate(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), service.ValidateRequest{Filter: filter, Log: logFilter})
	if err != nil {
		h.fail(w, r, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ValidationReport — GET /api/v1/studies/{accession}/validation-report?level=.
func (h *APIHandler) ValidationReport(w http.ResponseWriter, r *http.Request) {
	logFilter, err := validation.ParseLogFilter(r.URL.Query().Get("level"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	report, err := h.svc.Validation.Report(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), logFilter)
	if err != nil {
		h.fail(w, r, "validation_report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Files — GET /api/v1/studies/{accession}/files.
// Параметры: type (метки видов через запятую), status, include_dirs,
// rebuild, limit, offset.
func (h *APIHandler) Files(w http.ResponseWriter, r *http.Request) {
	req, err := parseFilesRequest(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	page, err := h.svc.Validation.Files(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), req)
	if err != nil {
		h.fail(w, r, "files", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseFilesRequest(r *http.Request) (service.FilesRequest, error) {
	q := r.URL.Query()
	var req service.FilesRequest

	limit, offset, err := paginationDefaults(q.Get("limit"), q.Get("offset"))
	if err != nil {
		return req, err
	}
	req.Limit, req.Offset = limit, offset

	if raw := q.Get("type"); raw != "" {
		for _, label := range strings.Split(raw, ",") {
			kind, err := model.ParseFileKind(strings.TrimSpace(label))
			if err != nil {
				return req, err
			}
			req.Filter.Kinds = append(req.Filter.Kinds, kind)
		}
	}
	if raw := q.Get("status"); raw != "" {
		status := model.FileStatus(strings.ToLower(raw))
		if !status.Valid() {
			return req, fmt.Errorf("неизвестный статус файла %q", raw)
		}
		req.Filter.Status = status
	}
	if req.Filter.Dirs, err = queryBool(r, "include_dirs"); err != nil {
		return req, err
	}
	if req.Rebuild, err = queryBool(r, "rebuild"); err != nil {
		return req, err
	}
	return req, nil
}
