// Пакет journal — файловый журнал запусков синхронизации.
//
// Каждый запуск — отдельный файл {run_id}.sync.json. Запись создаётся со
// статусом pending до первой файловой операции и переводится в committed
// или failed по завершении. Записи, оставшиеся pending после рестарта,
// означают прерванную синхронизацию: план при повторе вычисляется заново
// по текущему дереву, а не воспроизводится из журнала.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
)

// Status — статус записи журнала.
type Status string

const (
	// StatusPending — синхронизация начата
	StatusPending Status = "pending"
	// StatusCommitted — синхронизация успешно завершена
	StatusCommitted Status = "committed"
	// StatusFailed — синхронизация завершилась ошибкой или прервана
	StatusFailed Status = "failed"
)

const fileSuffix = ".sync.json"

// ErrNotPending — запись уже завершена.
var ErrNotPending = errors.New("запись журнала уже завершена")

// Entry — запись журнала.
type Entry struct {
	RunID     string `json:"run_id"`
	StudyID   string `json:"study_id"`
	Category  string `json:"category"`
	Direction string `json:"direction"`
	// Target — хранилище и каталог приёмника (store:rel)
	Target string `json:"target"`
	Status Status `json:"status"`
	// Applied — число выполненных файловых операций
	Applied     int        `json:"applied"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Journal — журнал запусков синхронизации в каталоге dir.
type Journal struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал, при необходимости создавая каталог.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "sync_journal")),
	}, nil
}

// Dir возвращает каталог журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// Begin создаёт запись со статусом pending.
func (j *Journal) Begin(studyID, category, direction, target string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := &Entry{
		RunID:     uuid.New().String(),
		StudyID:   studyID,
		Category:  category,
		Direction: direction,
		Target:    target,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := j.write(e); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}
	j.logger.Debug("запуск синхронизации записан",
		slog.String("run_id", e.RunID),
		slog.String("study_id", studyID),
		slog.String("category", category),
	)
	return e, nil
}

// Commit завершает запись со статусом committed.
func (j *Journal) Commit(runID string, applied int) error {
	return j.finish(runID, StatusCommitted, applied, "")
}

// Fail завершает запись со статусом failed.
func (j *Journal) Fail(runID string, applied int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.finish(runID, StatusFailed, applied, msg)
}

func (j *Journal) finish(runID string, status Status, applied int, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, err := j.read(runID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", runID, err)
	}
	if e.Status != StatusPending {
		return fmt.Errorf("%w: %s (%s)", ErrNotPending, runID, e.Status)
	}
	now := time.Now().UTC()
	e.Status = status
	e.Applied = applied
	e.Error = msg
	e.CompletedAt = &now
	if err := j.write(e); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", runID, err)
	}
	j.logger.Debug("запуск синхронизации завершён",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(e.StartedAt)),
	)
	return nil
}

// Get возвращает запись по идентификатору запуска.
func (j *Journal) Get(runID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read(runID)
}

// Pending возвращает записи со статусом pending в порядке начала.
func (j *Journal) Pending() ([]*Entry, error) {
	all, err := j.list()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range all {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecoverPending переводит все pending-записи в failed и возвращает их.
// Вызывается при старте, пока ни одна синхронизация не выполняется.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	pending, err := j.Pending()
	if err != nil {
		return nil, err
	}
	for _, e := range pending {
		j.logger.Warn("обнаружена прерванная синхронизация",
			slog.String("run_id", e.RunID),
			slog.String("study_id", e.StudyID),
			slog.String("category", e.Category),
			slog.Time("started_at", e.StartedAt),
		)
		if err := j.Fail(e.RunID, e.Applied, errors.New("прервано перезапуском")); err != nil {
			return nil, err
		}
		e.Status = StatusFailed
	}
	return pending, nil
}

// Clean удаляет завершённые записи старше olderThan.
func (j *Journal) Clean(olderThan time.Time) (int, error) {
	all, err := j.list()
	if err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	removed := 0
	for _, e := range all {
		if e.Status == StatusPending || e.CompletedAt == nil || e.CompletedAt.After(olderThan) {
			continue
		}
		if err := os.Remove(j.path(e.RunID)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// list читает все записи в порядке начала.
func (j *Journal) list() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}
	out := make([]*Entry, 0, len(paths))
	for _, p := range paths {
		e, err := j.read(strings.TrimSuffix(filepath.Base(p), fileSuffix))
		if err != nil {
			j.logger.Warn("не удалось прочитать запись журнала",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, nil
}

func (j *Journal) path(runID string) string {
	return filepath.Join(j.dir, runID+fileSuffix)
}

func (j *Journal) write(e *Entry) error {
	return atomicfile.WriteJSON(j.path(e.RunID), e)
}

func (j *Journal) read(runID string) (*Entry, error) {
	var e Entry
	if err := atomicfile.ReadJSON(j.path(runID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
