// Пакет errors — ответы с ошибками в едином формате metabostore:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/metabostore/internal/service"
)

// Коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeUpstream        = "UPSTREAM_UNAVAILABLE"
	CodeDataCorruption  = "DATA_CORRUPTION"
	CodeCanceled        = "CANCELED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// kindStatus — HTTP-статус и код для категории ошибки сервиса.
var kindStatus = map[service.ErrorKind]struct {
	status int
	code   string
}{
	service.KindPermissionDenied: {http.StatusForbidden, CodeForbidden},
	service.KindNotFound:         {http.StatusNotFound, CodeNotFound},
	service.KindBadInput:         {http.StatusBadRequest, CodeValidationError},
	service.KindConflict:         {http.StatusConflict, CodeConflict},
	service.KindUpstream:         {http.StatusBadGateway, CodeUpstream},
	service.KindDataCorruption:   {http.StatusUnprocessableEntity, CodeDataCorruption},
	service.KindCanceled:         {http.StatusRequestTimeout, CodeCanceled},
}

// StatusFor возвращает HTTP-статус и код ошибки по её категории.
func StatusFor(err error) (int, string) {
	if s, ok := kindStatus[service.Kind(err)]; ok {
		return s.status, s.code
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromError записывает ответ по категории ошибки сервиса. Текст
// внутренних ошибок не раскрывается.
func FromError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Внутренняя ошибка сервера"
	}
	WriteError(w, status, code, msg)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
