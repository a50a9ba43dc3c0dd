// handler.go — основной обработчик API metabostore.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/metabostore/internal/api/errors"
	"github.com/bigkaa/metabostore/internal/service"
)

// Services — сервисы, используемые обработчиками.
// Pipeline может быть nil: конвейер Metabolon не настроен.
type Services struct {
	Studies    *service.StudyService
	Validation *service.ValidationService
	Sync       *service.SyncService
	Pipeline   *service.PipelineService
	Jobs       *service.JobService
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	svc    Services
	health *HealthHandler
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(svc Services, health *HealthHandler, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		svc:    svc,
		health: health,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует бизнес-маршруты /api/v1.
func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/studies", func(r chi.Router) {
		r.Post("/", h.CreateStudy)
		r.Get("/", h.ListStudies)
		r.Route("/{accession}", func(r chi.Router) {
			r.Get("/", h.GetStudy)
			r.Put("/status", h.ChangeStatus)
			r.Put("/overrides", h.SetCuratorNotes)
			r.Get("/history", h.History)
			r.Get("/description", h.TitleDescription)
			r.Post("/audit", h.CreateSnapshot)
			r.Get("/audit", h.ListSnapshots)
			r.Post("/validate", h.Validate)
			r.Get("/validation-report", h.ValidationReport)
			r.Get("/files", h.Files)
			r.Post("/sync", h.Sync)
			r.Get("/sync", h.SyncStatus)
			r.Post("/partners/metabolon", h.RunMetabolon)
		})
	})
	r.Get("/jobs/{id}", h.GetJob)
	r.Delete("/jobs/{id}", h.CancelJob)
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// fail пишет ответ ошибки сервиса; внутренние ошибки логируются.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := apierrors.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromError(w, err)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody разбирает JSON-тело запроса. Пустое тело допустимо.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// paginationDefaults нормализует параметры пагинации из query.
// Возвращает корректные limit и offset.
func paginationDefaults(limitRaw, offsetRaw string) (limitVal, offsetVal int, err error) {
	l, o := 100, 0

	if limitRaw != "" {
		if l, err = strconv.Atoi(limitRaw); err != nil {
			return 0, 0, errors.New("limit должен быть целым числом")
		}
		l = min(max(l, 1), 1000)
	}
	if offsetRaw != "" {
		if o, err = strconv.Atoi(offsetRaw); err != nil {
			return 0, 0, errors.New("offset должен быть целым числом")
		}
		o = max(o, 0)
	}
	return l, o, nil
}

// parseDate разбирает дату YYYY-MM-DD. Пустая строка — nil.
func parseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errors.New("дата должна иметь формат YYYY-MM-DD")
	}
	return &t, nil
}

// queryBool разбирает булев query-параметр. Отсутствие — false.
func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(name + ": ожидается true или false")
	}
	return b, nil
}
