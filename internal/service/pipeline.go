// pipeline.go — запуск конвейера партнёра Metabolon через исполнитель
// задач под монопольной блокировкой исследования.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/pipeline"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/studylock"
)

// JobKindMetabolon — тип фоновой задачи конвейера Metabolon.
const JobKindMetabolon = "metabolon_pipeline"

// PipelineOptions — параметры сервиса конвейера.
type PipelineOptions struct {
	MetadataRoot string
	DataRoot     string
}

// PipelineService — запуск конвейера Metabolon.
type PipelineService struct {
	pipeline *pipeline.Pipeline
	access   *AccessService
	studies  repository.StudyRepository
	locks    *studylock.Registry
	runner   jobs.Runner
	opts     PipelineOptions
	logger   *slog.Logger
}

// NewPipelineService создаёт конвейер с параметрами popts и сервис над ним.
// Даты нового investigation сохраняются в записи исследования.
func NewPipelineService(
	popts pipeline.Options,
	accessSvc *AccessService,
	studies repository.StudyRepository,
	locks *studylock.Registry,
	runner jobs.Runner,
	opts PipelineOptions,
	logger *slog.Logger,
) (*PipelineService, error) {
	s := &PipelineService{
		access:  accessSvc,
		studies: studies,
		locks:   locks,
		runner:  runner,
		opts:    opts,
		logger:  logger.With(slog.String("component", "pipeline_service")),
	}
	popts.OnRelease = s.updateDates
	p, err := pipeline.New(popts, logger)
	if err != nil {
		return nil, err
	}
	s.pipeline = p
	return s, nil
}

// Start ставит запуск конвейера в очередь и возвращает id задачи.
func (s *PipelineService) Start(ctx context.Context, p access.Principal, accession string, notify []string) (string, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedCurator); err != nil {
		return "", err
	}
	return s.runner.Submit(JobKindMetabolon, accession, func(jctx context.Context) (any, error) {
		return s.run(jctx, accession, notify)
	})
}

// Run запускает конвейер и ждёт результата (отправить и дождаться).
func (s *PipelineService) Run(ctx context.Context, p access.Principal, accession string, notify []string) (*pipeline.Result, error) {
	id, err := s.Start(ctx, p, accession, notify)
	if err != nil {
		return nil, err
	}
	job, err := s.runner.Wait(ctx, id)
	if err != nil {
		_ = s.runner.Cancel(id)
		return nil, err
	}
	res, _ := job.Result.(*pipeline.Result)
	switch job.State {
	case jobs.StateSucceeded:
		return res, nil
	case jobs.StateCanceled:
		return res, fmt.Errorf("конвейер %s: %w", accession, context.Canceled)
	default:
		return res, fmt.Errorf("%w: %s: %s", pipeline.ErrPhase, accession, job.Error)
	}
}

// run выполняет конвейер под монопольной блокировкой исследования.
func (s *PipelineService) run(ctx context.Context, accession string, notify []string) (*pipeline.Result, error) {
	unlock, err := s.locks.Lock(ctx, accession)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req := pipeline.Request{
		Study:    accession,
		StudyDir: filepath.Join(s.opts.MetadataRoot, accession),
		Notify:   notify,
	}
	if s.opts.DataRoot != "" {
		req.DataDir = filepath.Join(s.opts.DataRoot, accession)
	}
	return s.pipeline.Run(ctx, req)
}

// updateDates сохраняет даты подачи и публикации нового investigation.
func (s *PipelineService) updateDates(ctx context.Context, accession string, submission, release time.Time) error {
	err := s.studies.UpdateDates(ctx, accession, lifecycle.Day(submission), lifecycle.Day(release))
	s.access.Invalidate(accession)
	if err != nil {
		return fmt.Errorf("обновление дат исследования %s: %w", accession, err)
	}
	s.logger.Info("Даты исследования обновлены конвейером",
		slog.String("study_id", accession),
		slog.String("release_date", release.Format(time.DateOnly)),
	)
	return nil
}
