// validation.go — сервис валидации исследований и индекса файлов.
// Валидация только читает дерево, поэтому берёт разделяемую аренду
// исследования и не видит дерево посреди синхронизации.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
	"github.com/bigkaa/metabostore/internal/storage/fileindex"
	"github.com/bigkaa/metabostore/internal/storage/walker"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/validation"
)

// ValidationOptions — параметры сервиса валидации.
type ValidationOptions struct {
	// MetadataRoot — корень метаданных исследований
	MetadataRoot string
	// DataRoot — корень read-only области данных (может быть пустым)
	DataRoot string
	// InvestigationFile — имя investigation-файла
	InvestigationFile string
	// Classifier, SkipFolderNames, ListTimeout — параметры обхода для индекса файлов
	Classifier      *classifier.Classifier
	SkipFolderNames []string
	ListTimeout     time.Duration
}

// ValidationService — запуск валидации, чтение отчёта и индекса файлов.
type ValidationService struct {
	validator *validation.Validator
	access    *AccessService
	studies   repository.StudyRepository
	locks     *studylock.Registry
	opts      ValidationOptions
	logger    *slog.Logger
}

// NewValidationService создаёт сервис валидации.
func NewValidationService(
	validator *validation.Validator,
	accessSvc *AccessService,
	studies repository.StudyRepository,
	locks *studylock.Registry,
	opts ValidationOptions,
	logger *slog.Logger,
) *ValidationService {
	return &ValidationService{
		validator: validator,
		access:    accessSvc,
		studies:   studies,
		locks:     locks,
		opts:      opts,
		logger:    logger.With(slog.String("component", "validation_service")),
	}
}

// ValidateRequest — параметры запуска валидации.
type ValidateRequest struct {
	Filter validation.Filter
	Log    validation.LogFilter
}

// Validate проверяет исследование от имени субъекта p.
func (s *ValidationService) Validate(ctx context.Context, p access.Principal, accession string, req ValidateRequest) (*validation.Report, error) {
	st, _, err := s.access.Authorize(ctx, p, accession, NeedOwner)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, st, req)
}

// run выполняет валидацию под разделяемой арендой и обновляет кэш статуса.
func (s *ValidationService) run(ctx context.Context, st *model.Study, req ValidateRequest) (*validation.Report, error) {
	release, err := s.locks.RLock(ctx, st.Accession)
	if err != nil {
		return nil, err
	}
	defer release()

	report, err := s.validator.Validate(ctx, validation.Input{
		Study:    st,
		StudyDir: s.studyDir(st.Accession),
		DataDir:  s.dataDir(st.Accession),
		Filter:   req.Filter,
		Log:      validation.LogAll,
	})
	if err != nil {
		if errors.Is(err, validation.ErrSchemaUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
		}
		return nil, err
	}

	if req.Filter == "" || req.Filter == validation.FilterAll {
		if err := s.studies.UpdateValidationStatus(ctx, st.Accession, string(report.Status)); err != nil {
			s.logger.Warn("Не удалось сохранить статус валидации",
				slog.String("study_id", st.Accession),
				slog.String("error", err.Error()),
			)
		} else {
			s.access.Invalidate(st.Accession)
		}
	}
	return report.Filtered(req.Log), nil
}

// Report возвращает последний сохранённый отчёт валидации.
func (s *ValidationService) Report(ctx context.Context, p access.Principal, accession string, log validation.LogFilter) (*validation.Report, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedView); err != nil {
		return nil, err
	}
	var report validation.Report
	path := filepath.Join(s.studyDir(accession), validation.InternalFolder, validation.ReportFileName)
	if err := atomicfile.ReadJSON(path, &report); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: отчёт валидации %s ещё не создан", ErrNotFound, accession)
		}
		return nil, fmt.Errorf("%w: отчёт валидации %s: %v", ErrDataCorruption, accession, err)
	}
	return report.Filtered(log), nil
}

// FilesRequest — параметры выборки индекса файлов.
type FilesRequest struct {
	Filter fileindex.Filter
	Limit  int
	Offset int
	// Rebuild — пересобрать индекс обходом дерева
	Rebuild bool
}

// FilesPage — страница индекса файлов.
type FilesPage struct {
	Files     []model.FileDescriptor `json:"files"`
	Total     int                    `json:"total"`
	Truncated bool                   `json:"truncated"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// Files возвращает индекс файлов исследования. Отсутствующий или
// повреждённый files_list.json пересобирается.
func (s *ValidationService) Files(ctx context.Context, p access.Principal, accession string, req FilesRequest) (*FilesPage, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedView); err != nil {
		return nil, err
	}

	path := filepath.Join(s.studyDir(accession), validation.InternalFolder, fileindex.FileName)
	var idx *fileindex.Index
	if !req.Rebuild {
		loaded, err := fileindex.Load(path, s.logger)
		if err == nil {
			idx = loaded
		} else if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Индекс файлов повреждён, пересборка",
				slog.String("study_id", accession),
				slog.String("error", err.Error()),
			)
		}
	}
	if idx == nil {
		built, err := s.buildIndex(ctx, accession)
		if err != nil {
			return nil, err
		}
		if err := built.Save(path); err != nil {
			return nil, err
		}
		idx = built
	}

	files, total := idx.List(req.Limit, req.Offset, req.Filter)
	return &FilesPage{
		Files:     files,
		Total:     total,
		Truncated: idx.Truncated(),
		Warnings:  idx.Warnings(),
	}, nil
}

// buildIndex обходит область метаданных и данных исследования под арендой на чтение.
func (s *ValidationService) buildIndex(ctx context.Context, accession string) (*fileindex.Index, error) {
	release, err := s.locks.RLock(ctx, accession)
	if err != nil {
		return nil, err
	}
	defer release()

	dir := s.studyDir(accession)
	refs := model.NewReferenceSet()
	if bundle, err := isatab.Load(dir, isatab.LoadOptions{FileName: s.opts.InvestigationFile}); err == nil {
		refs = isatab.References(bundle)
	}

	w := walker.New(walker.Options{
		SkipFolderNames: s.opts.SkipFolderNames,
		ListAllFiles:    true,
		Timeout:         s.opts.ListTimeout,
		Classifier:      s.opts.Classifier,
		References:      refs,
		SkipFiles:       validation.PersistedFiles(dir, ""),
	}, s.logger)
	idx := fileindex.New(accession, s.logger)
	idx.Build(ctx, w, dir)
	if data := s.dataDir(accession); data != "" {
		idx.Merge(w.Walk(ctx, data).Collect())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *ValidationService) studyDir(accession string) string {
	return filepath.Join(s.opts.MetadataRoot, accession)
}

func (s *ValidationService) dataDir(accession string) string {
	if s.opts.DataRoot == "" {
		return ""
	}
	return filepath.Join(s.opts.DataRoot, accession)
}
