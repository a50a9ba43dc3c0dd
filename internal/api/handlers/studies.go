// studies.go — обработчики /api/v1/studies: создание, чтение, смена статуса,
// записи куратора, история статусов и снимки аудита.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/api/middleware"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/service"
)

// createStudyRequest — тело POST /api/v1/studies.
type createStudyRequest struct {
	Reserved    bool   `json:"reserved"`
	ReleaseDate string `json:"release_date"`
}

// statusChangeRequest — тело PUT /studies/{accession}/status.
type statusChangeRequest struct {
	Status      string `json:"status"`
	ReleaseDate string `json:"release_date"`
}

// curatorNotesRequest — тело PUT /studies/{accession}/overrides.
type curatorNotesRequest struct {
	Overrides []string `json:"overrides"`
	Comments  []string `json:"comments"`
}

// studyListResponse — ответ GET /api/v1/studies.
type studyListResponse struct {
	Items  []*model.Study `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CreateStudy — POST /api/v1/studies.
// Доступ: зарегистрированный пользователь.
func (h *APIHandler) CreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	release, err := parseDate(req.ReleaseDate)
	if err != nil {
		apierrors.ValidationError(w, "release_date: "+err.Error())
		return
	}

	st, err := h.svc.Studies.CreateStudy(r.Context(), middleware.PrincipalFromContext(r.Context()), service.CreateStudyRequest{
		Reserved:    req.Reserved,
		ReleaseDate: release,
	})
	if err != nil {
		h.fail(w, r, "create_study", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// ListStudies — GET /api/v1/studies?status=&limit=&offset=.
func (h *APIHandler) ListStudies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paginationDefaults(q.Get("limit"), q.Get("offset"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var status *model.StudyStatus
	if raw := q.Get("status"); raw != "" {
		s, err := model.ParseStudyStatus(raw)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		status = &s
	}

	items, err := h.svc.Studies.ListStudies(r.Context(), middleware.PrincipalFromContext(r.Context()), status, limit, offset)
	if err != nil {
		h.fail(w, r, "list_studies", err)
		return
	}
	if items == nil {
		items = []*model.Study{}
	}
	writeJSON(w, http.StatusOK, studyListResponse{Items: items, Limit: limit, Offset: offset})
}

// GetStudy — GET /api/v1/studies/{accession}.
func (h *APIHandler) GetStudy(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Studies.GetStudy(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "accession"))
	if err != nil {
		h.fail(w, r, "get_study", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// TitleDescription — GET /api/v1/studies/{accession}/description?method=isa|direct.
func (h *APIHandler) TitleDescription(w http.ResponseWriter, r *http.Request) {
	td, err := h.svc.Studies.TitleDescription(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), r.URL.Query().Get("method"))
	if err != nil {
		h.fail(w, r, "title_description", err)
		return
	}
	writeJSON(w, http.StatusOK, td)
}

// ChangeStatus — PUT /api/v1/studies/{accession}/status.
// Доступ: владелец; разрешённые переходы определяет роль.
func (h *APIHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Status == "" {
		apierrors.ValidationError(w, "status обязателен")
		return
	}
	target, err := model.ParseStudyStatus(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	release, err := parseDate(req.ReleaseDate)
	if err != nil {
		apierrors.ValidationError(w, "release_date: "+err.Error())
		return
	}

	res, err := h.svc.Studies.ChangeStatus(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), service.StatusChangeRequest{Target: target, ReleaseDate: release})
	if err != nil {
		h.fail(w, r, "change_status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetCuratorNotes — PUT /api/v1/studies/{accession}/overrides.
// Доступ: куратор.
func (h *APIHandler) SetCuratorNotes(w http.ResponseWriter, r *http.Request) {
	var req curatorNotesRequest
	if err := decodeBody(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	st, err := h.svc.Studies.SetCuratorNotes(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "accession"), req.Overrides, req.Comments)
	if err != nil {
		h.fail(w, r, "set_curator_notes", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// History — GET /api/v1/studies/{accession}/history.
func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.Studies.History(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "accession"))
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history})
}

// CreateSnapshot — POST /api/v1/studies/{accession}/audit?force=.
// Снимок создаётся, только если метаданные изменились (или force=true).
func (h *APIHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.svc.Studies.Audit(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "accession"), force)
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ListSnapshots — GET /api/v1/studies/{accession}/audit.
func (h *APIHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Studies.Snapshots(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "accession"))
	if err != nil {
		h.fail(w, r, "list_snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": snaps})
}
