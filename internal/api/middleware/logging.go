// logging.go — журнал HTTP-запросов к хранилищу исследований.
//
// Кроме метода и статуса в запись попадают шаблон маршрута, accession
// исследования из пути и субъект запроса, определённый Identity.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/metabostore/internal/domain/access"
)

// contextKeyRequestLog — сведения о запросе, которые дополняют
// внутренние middleware.
const contextKeyRequestLog contextKey = "request_log"

// requestLog заполняется по ходу обработки запроса.
type requestLog struct {
	subject string
}

// noteSubject сохраняет субъекта для журнала запроса, если запрос
// проходит через RequestLogger.
func noteSubject(ctx context.Context, p access.Principal) {
	if rl, ok := ctx.Value(contextKeyRequestLog).(*requestLog); ok {
		rl.subject = p.Subject()
	}
}

// responseWriter перехватывает статус и размер ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController для потоковой выдачи файлов.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger пишет запись на каждый запрос: INFO для 1xx-3xx,
// WARN для 4xx и ERROR для 5xx. Запросы без субъекта журналируются
// как anonymous, запросы вне маршрутов исследования — без study_id.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &requestLog{subject: access.Anonymous.Subject()}
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), contextKeyRequestLog, rl)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("subject", rl.subject),
			}
			if acc := studyID(r); acc != "" {
				attrs = append(attrs, slog.String("study_id", acc))
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

// studyID возвращает accession из параметров маршрута chi.
// Параметры вложенных роутеров накапливаются в общем контексте маршрута,
// поэтому после обработки запроса они доступны и внешнему middleware.
func studyID(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.URLParam("accession")
}
