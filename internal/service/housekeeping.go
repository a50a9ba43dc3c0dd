// housekeeping.go — периодическая очистка завершённых фоновых задач
// и старых записей журнала синхронизации.
package service

import (
	"context"
	"log/slog"
	"time"
)

// JobPruner удаляет завершённые задачи (jobs.LocalRunner).
type JobPruner interface {
	Prune(before time.Time) int
}

// JournalCleaner удаляет завершённые записи журнала (journal.Journal).
type JournalCleaner interface {
	Clean(olderThan time.Time) (int, error)
}

// HousekeepingOptions — параметры очистки.
type HousekeepingOptions struct {
	Interval         time.Duration
	JobRetention     time.Duration
	JournalRetention time.Duration
	Now              func() time.Time
}

// HousekeepingService — фоновая очистка задач и журнала синхронизации.
type HousekeepingService struct {
	jobs    JobPruner
	journal JournalCleaner
	opts    HousekeepingOptions
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHousekeepingService создаёт сервис очистки. jobs и journal могут быть nil.
func NewHousekeepingService(jobs JobPruner, journal JournalCleaner, opts HousekeepingOptions, logger *slog.Logger) *HousekeepingService {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HousekeepingService{
		jobs:    jobs,
		journal: journal,
		opts:    opts,
		logger:  logger.With(slog.String("component", "housekeeping")),
	}
}

// Start запускает периодическую очистку в фоне.
func (s *HousekeepingService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая очистка запущена",
			slog.String("interval", s.opts.Interval.String()),
		)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая очистка остановлена")
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

// Stop останавливает очистку и ждёт завершения горутины.
func (s *HousekeepingService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет один проход очистки. Возвращает число удалённых
// задач и записей журнала.
func (s *HousekeepingService) RunOnce() (jobsPruned, entriesCleaned int) {
	now := s.opts.Now()
	if s.jobs != nil && s.opts.JobRetention > 0 {
		jobsPruned = s.jobs.Prune(now.Add(-s.opts.JobRetention))
	}
	if s.journal != nil && s.opts.JournalRetention > 0 {
		n, err := s.journal.Clean(now.Add(-s.opts.JournalRetention))
		if err != nil {
			s.logger.Error("Ошибка очистки журнала синхронизации",
				slog.String("error", err.Error()),
			)
		}
		entriesCleaned = n
	}
	if jobsPruned > 0 || entriesCleaned > 0 {
		s.logger.Info("Очистка выполнена",
			slog.Int("jobs", jobsPruned),
			slog.Int("journal_entries", entriesCleaned),
		)
	}
	return jobsPruned, entriesCleaned
}
