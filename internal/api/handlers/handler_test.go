package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fixedChecker — ReadinessChecker с заданным результатом.
type fixedChecker struct {
	status, message string
}

func (c fixedChecker) CheckReady() (string, string) {
	return c.status, c.message
}

// newTestRouter собирает маршруты с заданными сервисами.
func newTestRouter(svc Services) http.Handler {
	h := NewAPIHandler(svc, NewHealthHandler(), testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

// TestOverallStatus проверяет свёртку статусов зависимостей.
func TestOverallStatus(t *testing.T) {
	assert.Equal(t, "ok", overallStatus())
	assert.Equal(t, "ok", overallStatus("ok", "ok"))
	assert.Equal(t, "degraded", overallStatus("ok", "degraded"))
	assert.Equal(t, "fail", overallStatus("degraded", "fail", "ok"))
}

// TestHealthReady проверяет коды ответа readiness probe.
func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		checkers []NamedChecker
		status   int
		overall  string
	}{
		{"все ok", []NamedChecker{{"postgresql", fixedChecker{"ok", ""}}, {"metadata", fixedChecker{"ok", ""}}}, http.StatusOK, "ok"},
		{"degraded", []NamedChecker{{"postgresql", fixedChecker{"ok", ""}}, {"ftp", fixedChecker{"degraded", "медленно"}}}, http.StatusOK, "degraded"},
		{"fail", []NamedChecker{{"postgresql", fixedChecker{"fail", "нет связи"}}}, http.StatusServiceUnavailable, "fail"},
		{"nil checker", []NamedChecker{{"postgresql", nil}}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checkers...).HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.status, w.Code)

			var resp healthReadyResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.overall, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

// TestHealthLive проверяет liveness probe.
func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler().HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"metabostore"`)
}

// TestPaginationDefaults проверяет нормализацию limit и offset.
func TestPaginationDefaults(t *testing.T) {
	l, o, err := paginationDefaults("", "")
	require.NoError(t, err)
	assert.Equal(t, 100, l)
	assert.Equal(t, 0, o)

	l, o, err = paginationDefaults("5000", "-3")
	require.NoError(t, err)
	assert.Equal(t, 1000, l)
	assert.Equal(t, 0, o)

	l, _, err = paginationDefaults("0", "")
	require.NoError(t, err)
	assert.Equal(t, 1, l)

	_, _, err = paginationDefaults("abc", "")
	assert.Error(t, err)
	_, _, err = paginationDefaults("", "x")
	assert.Error(t, err)
}

// TestParseDate проверяет разбор дат YYYY-MM-DD.
func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = parseDate("2024-03-15")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2024-03-15", d.Format("2006-01-02"))

	_, err = parseDate("15.03.2024")
	assert.Error(t, err)
}

// TestParseFilesRequest проверяет разбор параметров индекса файлов.
func TestParseFilesRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/files?type=raw,metadata_investigation&status=ACTIVE&include_dirs=true&rebuild=1&limit=10&offset=20", nil)
	req, err := parseFilesRequest(r)
	require.NoError(t, err)
	assert.Equal(t, []model.FileKind{model.KindRaw, model.KindInvestigation}, req.Filter.Kinds)
	assert.Equal(t, model.FileActive, req.Filter.Status)
	assert.True(t, req.Filter.Dirs)
	assert.True(t, req.Rebuild)
	assert.Equal(t, 10, req.Limit)
	assert.Equal(t, 20, req.Offset)

	for _, q := range []string{"type=bogus", "status=gone", "include_dirs=maybe", "limit=many"} {
		_, err := parseFilesRequest(httptest.NewRequest(http.MethodGet, "/files?"+q, nil))
		assert.Error(t, err, q)
	}
}

// TestRoutes_BadInput проверяет отказ до обращения к сервисам.
func TestRoutes_BadInput(t *testing.T) {
	h := newTestRouter(Services{})

	tests := []struct {
		name, method, target, body string
		status                     int
		code                       string
	}{
		{"некорректный JSON", http.MethodPost, "/api/v1/studies", "{", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"неизвестное поле", http.MethodPost, "/api/v1/studies", `{"owner":"x"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохая дата", http.MethodPost, "/api/v1/studies", `{"release_date":"tomorrow"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой limit", http.MethodGet, "/api/v1/studies?limit=x", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой статус в фильтре", http.MethodGet, "/api/v1/studies?status=Archived", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"статус не задан", http.MethodPut, "/api/v1/studies/MTBLS1/status", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"неизвестный статус", http.MethodPut, "/api/v1/studies/MTBLS1/status", `{"status":"Done"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой force", http.MethodPost, "/api/v1/studies/MTBLS1/audit?force=yes", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохая секция", http.MethodPost, "/api/v1/studies/MTBLS1/validate?section=bogus", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой уровень", http.MethodGet, "/api/v1/studies/MTBLS1/validation-report?level=fatal", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой тип файла", http.MethodGet, "/api/v1/studies/MTBLS1/files?type=bogus", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохая категория", http.MethodGet, "/api/v1/studies/MTBLS1/sync?category=bogus", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"плохой async", http.MethodPost, "/api/v1/studies/MTBLS1/sync?async=x", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"конвейер не настроен", http.MethodPost, "/api/v1/studies/MTBLS1/partners/metabolon", "", http.StatusNotImplemented, "NOT_IMPLEMENTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

// TestJobs_NotFound проверяет 404 для неизвестной задачи.
func TestJobs_NotFound(t *testing.T) {
	runner := jobs.NewLocalRunner(1, testLogger())
	h := newTestRouter(Services{Jobs: service.NewJobService(runner, nil)})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := do(t, h, method, "/api/v1/jobs/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	}
}
