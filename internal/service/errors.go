// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"context"
	"errors"

	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/pipeline"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/syncengine"
	"github.com/bigkaa/metabostore/internal/validation"
)

var (
	// ErrPermissionDenied — у субъекта нет прав на операцию.
	ErrPermissionDenied = errors.New("доступ запрещён")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrBadInput — некорректные входные данные.
	ErrBadInput = errors.New("некорректные входные данные")
	// ErrConflict — конфликт: дублирующийся ресурс или параллельная операция.
	ErrConflict = errors.New("конфликт")
	// ErrUpstream — сбой внешней зависимости (набор правил, конвертер, база данных).
	ErrUpstream = errors.New("сбой внешней зависимости")
	// ErrDataCorruption — метаданные исследования повреждены.
	ErrDataCorruption = errors.New("метаданные повреждены")
	// ErrValidationFailed — отчёт валидации содержит ошибки.
	ErrValidationFailed = errors.New("отчёт валидации содержит ошибки")
)

// ErrorKind — категория ошибки для внешней границы.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found"
	KindBadInput         ErrorKind = "bad_input"
	KindConflict         ErrorKind = "conflict"
	KindUpstream         ErrorKind = "upstream"
	KindDataCorruption   ErrorKind = "data_corruption"
	KindCanceled         ErrorKind = "canceled"
	KindInternal         ErrorKind = "internal"
)

// kindRules — соответствие ошибок пакетов категориям. Порядок важен:
// первая подходящая запись побеждает.
var kindRules = []struct {
	err  error
	kind ErrorKind
}{
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrNotFound, KindNotFound},
	{ErrBadInput, KindBadInput},
	{ErrValidationFailed, KindBadInput},
	{ErrConflict, KindConflict},
	{ErrUpstream, KindUpstream},
	{ErrDataCorruption, KindDataCorruption},

	{context.Canceled, KindCanceled},
	{context.DeadlineExceeded, KindUpstream},

	{repository.ErrNotFound, KindNotFound},
	{repository.ErrConflict, KindConflict},
	{repository.ErrConstraint, KindBadInput},

	{lifecycle.ErrTransitionNotAllowed, KindPermissionDenied},
	{lifecycle.ErrSameStatus, KindBadInput},
	{lifecycle.ErrInvalidStatus, KindBadInput},
	{lifecycle.ErrReleaseDateTooEarly, KindBadInput},
	{lifecycle.ErrReleaseBeforeSubmission, KindBadInput},

	{studylock.ErrLocked, KindConflict},
	{syncengine.ErrConflict, KindConflict},
	{syncengine.ErrReadOnlyFolder, KindPermissionDenied},
	{syncengine.ErrUnsupported, KindBadInput},
	{syncengine.ErrNoInvestigation, KindBadInput},

	{storage.ErrNotFound, KindNotFound},
	{storage.ErrExists, KindConflict},
	{storage.ErrPathEscape, KindBadInput},
	{storage.ErrNotDirectory, KindBadInput},
	{storage.ErrUnimplemented, KindBadInput},

	{isatab.ErrInvestigationNotFound, KindNotFound},
	{isatab.ErrInvestigationCorrupt, KindDataCorruption},
	{isatab.ErrUnknownMethod, KindBadInput},
	{validation.ErrSchemaUnavailable, KindUpstream},

	{pipeline.ErrConversion, KindUpstream},
	{pipeline.ErrInput, KindBadInput},
	{pipeline.ErrInvalidMzML, KindBadInput},
	{pipeline.ErrPhase, KindBadInput},

	{jobs.ErrNotFound, KindNotFound},
	{jobs.ErrClosed, KindUpstream},
}

// Kind возвращает категорию ошибки. Неизвестные ошибки — KindInternal.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, r := range kindRules {
		if errors.Is(err, r.err) {
			return r.kind
		}
	}
	return KindInternal
}
