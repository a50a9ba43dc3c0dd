package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/pipeline"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/syncengine"
	"github.com/bigkaa/metabostore/internal/validation"
)

// TestKind проверяет категории ошибок пакетов.
func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("обёртка: %w", ErrPermissionDenied), KindPermissionDenied},
		{ErrValidationFailed, KindBadInput},
		{repository.ErrNotFound, KindNotFound},
		{repository.ErrConstraint, KindBadInput},
		{lifecycle.ErrTransitionNotAllowed, KindPermissionDenied},
		{studylock.ErrLocked, KindConflict},
		{syncengine.ErrConflict, KindConflict},
		{syncengine.ErrReadOnlyFolder, KindPermissionDenied},
		{storage.ErrPathEscape, KindBadInput},
		{isatab.ErrInvestigationCorrupt, KindDataCorruption},
		{validation.ErrSchemaUnavailable, KindUpstream},
		{fmt.Errorf("%w: этап: %w", pipeline.ErrPhase, pipeline.ErrConversion), KindUpstream},
		{fmt.Errorf("%w: этап: %w", pipeline.ErrPhase, pipeline.ErrInput), KindBadInput},
		{context.Canceled, KindCanceled},
		{context.DeadlineExceeded, KindUpstream},
		{errors.New("неизвестно"), KindInternal},
		// Явная категория сервиса важнее категории причины
		{fmt.Errorf("%w: %w", ErrUpstream, repository.ErrNotFound), KindUpstream},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "ошибка %v", tt.err)
	}
}
