// sync.go — сервис синхронизации: проверка прав и запуск движка
// синхронно или как фоновой задачи.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/syncengine"
)

// JobKindSync — тип фоновой задачи синхронизации.
const JobKindSync = "sync"

// SyncService — синхронизация папки FTP и области исследования.
type SyncService struct {
	engine *syncengine.Engine
	access *AccessService
	runner jobs.Runner
	logger *slog.Logger
}

// NewSyncService создаёт сервис синхронизации. runner может быть nil —
// тогда доступен только синхронный запуск.
func NewSyncService(engine *syncengine.Engine, accessSvc *AccessService, runner jobs.Runner, logger *slog.Logger) *SyncService {
	return &SyncService{
		engine: engine,
		access: accessSvc,
		runner: runner,
		logger: logger.With(slog.String("component", "sync_service")),
	}
}

// SyncRequest — параметры синхронизации.
type SyncRequest struct {
	Category  model.SyncCategory
	Direction model.SyncDirection
	DryRun    bool
}

// need возвращает уровень доступа для запроса: internal — только куратор,
// план без изменений — владелец, остальное — право изменения.
func (r SyncRequest) need() Need {
	switch {
	case r.Category == model.SyncInternal:
		return NeedCurator
	case r.DryRun:
		return NeedOwner
	default:
		return NeedEdit
	}
}

func (r SyncRequest) check() error {
	if !r.Category.Valid() {
		return fmt.Errorf("%w: неизвестная категория %q", ErrBadInput, r.Category)
	}
	if r.Direction != "" && r.Direction != model.SyncUpload && r.Direction != model.SyncDownload {
		return fmt.Errorf("%w: неизвестное направление %q", ErrBadInput, r.Direction)
	}
	return nil
}

// Sync выполняет синхронизацию и возвращает план.
// Параллельный запуск по тому же исследованию — ErrConflict.
func (s *SyncService) Sync(ctx context.Context, p access.Principal, accession string, req SyncRequest) (*model.SyncPlan, error) {
	if err := req.check(); err != nil {
		return nil, err
	}
	st, _, err := s.access.Authorize(ctx, p, accession, req.need())
	if err != nil {
		return nil, err
	}
	plan, err := s.engine.Sync(ctx, syncengine.Request{
		Study:     st,
		Category:  req.Category,
		Direction: req.Direction,
		DryRun:    req.DryRun,
	})
	if err != nil {
		return plan, err
	}
	s.logger.Debug("Синхронизация выполнена",
		slog.String("study_id", accession),
		slog.String("subject", p.Subject()),
		slog.String("status", string(plan.Status)),
	)
	return plan, nil
}

// Submit ставит синхронизацию в очередь фоновых задач и возвращает id задачи.
func (s *SyncService) Submit(ctx context.Context, p access.Principal, accession string, req SyncRequest) (string, error) {
	if s.runner == nil {
		return "", fmt.Errorf("%w: исполнитель задач не настроен", ErrUpstream)
	}
	if err := req.check(); err != nil {
		return "", err
	}
	st, _, err := s.access.Authorize(ctx, p, accession, req.need())
	if err != nil {
		return "", err
	}
	return s.runner.Submit(JobKindSync, accession, func(jctx context.Context) (any, error) {
		return s.engine.Sync(jctx, syncengine.Request{
			Study:     st,
			Category:  req.Category,
			Direction: req.Direction,
			DryRun:    req.DryRun,
		})
	})
}

// Status возвращает план последнего запуска по категории.
func (s *SyncService) Status(ctx context.Context, p access.Principal, accession string, category model.SyncCategory) (*model.SyncPlan, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedOwner); err != nil {
		return nil, err
	}
	plan, ok := s.engine.Status(accession, category)
	if !ok {
		return nil, fmt.Errorf("%w: синхронизация %s/%s не запускалась", ErrNotFound, accession, category)
	}
	return plan, nil
}
