// Пакет studylock — реестр блокировок исследований.
//
// Для каждого accession хранится семафор: изменяющие операции (синхронизация,
// снимок аудита, смена статуса, запуск конвейера) берут его целиком,
// валидация берёт разделяемую аренду на чтение. Запись реестра удаляется,
// когда её освобождает последний владелец.
package studylock

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// capacity — ёмкость семафора; монопольная блокировка занимает её целиком.
const capacity = 1 << 20

// ErrLocked — исследование уже заблокировано другой операцией.
var ErrLocked = errors.New("исследование заблокировано другой операцией")

var lockConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "metabostore_study_lock_conflicts_total",
	Help: "Количество отказов в блокировке исследования",
})

// Release освобождает блокировку. Повторный вызов безопасен.
type Release func()

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Registry — реестр блокировок по accession.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// New создаёт пустой реестр.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "study_lock")),
	}
}

// acquireEntry возвращает запись реестра с увеличенным счётчиком ссылок.
func (r *Registry) acquireEntry(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(capacity)}
		r.entries[key] = e
	}
	e.refs++
	return e
}

// dropEntry уменьшает счётчик ссылок и удаляет запись при нуле.
func (r *Registry) dropEntry(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
}

func (r *Registry) release(key string, e *entry, weight int64) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(weight)
			r.dropEntry(key, e)
		})
	}
}

// Lock ожидает монопольную блокировку исследования.
func (r *Registry) Lock(ctx context.Context, key string) (Release, error) {
	e := r.acquireEntry(key)
	if err := e.sem.Acquire(ctx, capacity); err != nil {
		r.dropEntry(key, e)
		return nil, err
	}
	return r.release(key, e, capacity), nil
}

// TryLock пытается взять монопольную блокировку без ожидания.
// Возвращает ErrLocked, если исследование занято.
func (r *Registry) TryLock(key string) (Release, error) {
	e := r.acquireEntry(key)
	if !e.sem.TryAcquire(capacity) {
		r.dropEntry(key, e)
		lockConflicts.Inc()
		r.logger.Debug("исследование занято", slog.String("study_id", key))
		return nil, ErrLocked
	}
	return r.release(key, e, capacity), nil
}

// RLock ожидает разделяемую аренду на чтение. Несколько читателей
// допускаются одновременно; монопольная блокировка их исключает.
func (r *Registry) RLock(ctx context.Context, key string) (Release, error) {
	e := r.acquireEntry(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		r.dropEntry(key, e)
		return nil, err
	}
	return r.release(key, e, 1), nil
}

// Len возвращает число активных записей реестра.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
