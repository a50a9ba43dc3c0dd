// Пакет jobs — исполнитель длительных задач (конвейер партнёра, большие
// синхронизации) по схеме «отправить и дождаться».
//
// Задача проходит состояния queued → running → succeeded | failed | canceled.
// Число одновременно выполняемых задач ограничено семафором. Отмена
// кооперативная: задача получает отменённый context и должна завершиться
// на ближайшей границе файла.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// State — состояние задачи.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Finished сообщает, что задача завершена.
func (s State) Finished() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

var (
	// ErrNotFound — задача не найдена.
	ErrNotFound = errors.New("задача не найдена")
	// ErrClosed — исполнитель остановлен.
	ErrClosed = errors.New("исполнитель задач остановлен")
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_jobs_total",
		Help: "Количество завершённых задач по типу и состоянию",
	}, []string{"kind", "state"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metabostore_jobs_running",
		Help: "Количество выполняемых задач",
	})
)

// Func — тело задачи. Результат сохраняется в Job.Result.
type Func func(ctx context.Context) (any, error)

// Job — снимок состояния задачи.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	StudyID     string     `json:"study_id,omitempty"`
	State       State      `json:"state"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Runner — исполнитель задач.
type Runner interface {
	Submit(kind, studyID string, fn Func) (string, error)
	Wait(ctx context.Context, id string) (*Job, error)
	Cancel(id string) error
	Get(id string) (*Job, bool)
}

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// LocalRunner выполняет задачи в горутинах текущего процесса.
type LocalRunner struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*entry
	closed bool
}

// NewLocalRunner создаёт исполнитель с workers одновременно выполняемыми задачами.
func NewLocalRunner(workers int, logger *slog.Logger) *LocalRunner {
	if workers <= 0 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &LocalRunner{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger.With(slog.String("component", "jobs")),
		ctx:    ctx,
		stop:   stop,
		jobs:   make(map[string]*entry),
	}
}

// Submit ставит задачу в очередь и возвращает её идентификатор.
func (r *LocalRunner) Submit(kind, studyID string, fn Func) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      kind,
			StudyID:   studyID,
			State:     StateQueued,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.jobs[e.job.ID] = e

	r.wg.Add(1)
	go r.run(ctx, e, fn)

	r.logger.Debug("Задача поставлена в очередь",
		slog.String("job_id", e.job.ID),
		slog.String("kind", kind),
		slog.String("study", studyID),
	)
	return e.job.ID, nil
}

func (r *LocalRunner) run(ctx context.Context, e *entry, fn Func) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(e, nil, err)
		return
	}
	defer r.sem.Release(1)

	r.mu.Lock()
	now := time.Now().UTC()
	e.job.State = StateRunning
	e.job.StartedAt = &now
	r.mu.Unlock()

	jobsRunning.Inc()
	res, err := r.call(ctx, fn)
	jobsRunning.Dec()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	r.finish(e, res, err)
}

// call выполняет тело задачи, превращая панику в ошибку.
func (r *LocalRunner) call(ctx context.Context, fn Func) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("паника в задаче: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *LocalRunner) finish(e *entry, res any, err error) {
	r.mu.Lock()
	now := time.Now().UTC()
	e.job.CompletedAt = &now
	e.job.Result = res
	switch {
	case err == nil:
		e.job.State = StateSucceeded
	case errors.Is(err, context.Canceled):
		e.job.State = StateCanceled
		e.job.Error = err.Error()
	default:
		e.job.State = StateFailed
		e.job.Error = err.Error()
	}
	job := e.job
	r.mu.Unlock()

	jobsTotal.WithLabelValues(job.Kind, string(job.State)).Inc()
	if job.State == StateFailed {
		r.logger.Warn("Задача завершилась с ошибкой",
			slog.String("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.String("error", job.Error),
		)
		return
	}
	r.logger.Debug("Задача завершена",
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
	)
}

// Wait ждёт завершения задачи или отмены ctx.
func (r *LocalRunner) Wait(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	job, _ := r.Get(id)
	return job, nil
}

// Cancel отменяет задачу. Для завершённой задачи ничего не делает.
func (r *LocalRunner) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	return nil
}

// Get возвращает снимок задачи.
func (r *LocalRunner) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	job := e.job
	return &job, true
}

// Prune удаляет завершённые задачи, закончившиеся раньше before.
func (r *LocalRunner) Prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.jobs {
		if e.job.State.Finished() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(before) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Close отменяет все задачи и ждёт их завершения (не дольше ctx).
func (r *LocalRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Исполнитель задач остановлен")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
