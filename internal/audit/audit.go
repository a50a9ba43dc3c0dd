// Пакет audit — снимки метаданных исследования по сигнатуре содержимого.
//
// Сигнатура — SHA-256 от конкатенации SHA-256 файлов i_*.txt, s_*.txt,
// a_*.txt и m_*.tsv корня исследования в порядке имён. Новый снимок
// <timestamp>_BACKUP создаётся только если сигнатура отличается от
// сигнатуры последнего снимка. Хэширование выполняется до взятия
// блокировки исследования.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
	"github.com/bigkaa/metabostore/internal/studylock"
)

// Имена в каталоге аудита.
const (
	// Folder — каталог аудита внутри исследования
	Folder = "audit"
	// HashesFolder — каталог сигнатуры
	HashesFolder = "HASHES"
	// SignatureFile — файл сигнатуры
	SignatureFile = "current"
	// SnapshotSuffix — суффикс каталога снимка
	SnapshotSuffix = "_BACKUP"
	// DefaultTimestampLayout — формат времени в имени снимка
	DefaultTimestampLayout = "2006-01-02_15-04-05"
)

// maxStableAttempts — число попыток получить сигнатуру неизменного набора файлов.
const maxStableAttempts = 3

// metadataPattern — метаданные, входящие в сигнатуру.
var metadataPattern = regexp.MustCompile(`^([ias]_.*\.txt|m_.*\.tsv)$`)

// ErrUnstable — метаданные менялись во время создания снимка.
var ErrUnstable = errors.New("метаданные изменялись во время создания снимка")

var (
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_audit_snapshots_total",
		Help: "Количество проверок аудита по результату",
	}, []string{"result"})

	hashDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metabostore_audit_hash_duration_seconds",
		Help:    "Длительность вычисления сигнатуры метаданных",
		Buckets: prometheus.DefBuckets,
	})
)

// Locker — блокировка исследования на время создания снимка.
type Locker interface {
	Lock(ctx context.Context, key string) (studylock.Release, error)
}

// Options — параметры менеджера снимков.
type Options struct {
	// TimestampLayout — Go-формат времени снимка
	TimestampLayout string
	// Now — источник времени (UTC)
	Now func() time.Time
}

// Result — результат проверки аудита.
type Result struct {
	Created   bool   `json:"created"`
	Snapshot  string `json:"snapshot,omitempty"`
	Signature string `json:"signature"`
	Files     int    `json:"files"`
}

// Snapshot — существующий снимок.
type Snapshot struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Manager — менеджер снимков аудита.
type Manager struct {
	root   string
	layout string
	now    func() time.Time
	locks  Locker
	logger *slog.Logger
}

// New создаёт менеджер для корня метаданных root.
func New(root string, locks Locker, opts Options, logger *slog.Logger) *Manager {
	if opts.TimestampLayout == "" {
		opts.TimestampLayout = DefaultTimestampLayout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		root:   root,
		layout: opts.TimestampLayout,
		now:    opts.Now,
		locks:  locks,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// StudyDir возвращает каталог метаданных исследования.
func (m *Manager) StudyDir(acc string) string {
	return filepath.Join(m.root, acc)
}

// auditDir возвращает каталог аудита исследования.
func (m *Manager) auditDir(acc string) string {
	return filepath.Join(m.root, acc, Folder)
}

type fileState struct {
	name    string
	size    int64
	modTime time.Time
}

// metadataFiles возвращает метаданные корня исследования в порядке имён.
func metadataFiles(dir string) ([]fileState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", dir, err)
	}
	var out []fileState
	for _, e := range entries {
		if e.IsDir() || !metadataPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileState{name: e.Name(), size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func sameFiles(a, b []fileState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].name != b[i].name || a[i].size != b[i].size || !a[i].modTime.Equal(b[i].modTime) {
			return false
		}
	}
	return true
}

// Signature вычисляет сигнатуру метаданных исследования без блокировки.
func (m *Manager) Signature(ctx context.Context, acc string) (string, int, error) {
	files, err := metadataFiles(m.StudyDir(acc))
	if err != nil {
		return "", 0, err
	}
	sig, err := signature(ctx, m.StudyDir(acc), files)
	return sig, len(files), err
}

// signature хэширует файлы параллельно и объединяет хэши в порядке имён.
func signature(ctx context.Context, dir string, files []fileState) (string, error) {
	start := time.Now()
	defer func() { hashDuration.Observe(time.Since(start).Seconds()) }()

	sums := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := storage.HashFile(filepath.Join(dir, f.name))
			if err != nil {
				return err
			}
			sums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	h := sha256.New()
	for _, s := range sums {
		io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Snapshot создаёт снимок метаданных, если сигнатура изменилась со времени
// последнего снимка (или force). Сигнатура вычисляется до блокировки;
// если под блокировкой набор файлов отличается, вычисление повторяется.
func (m *Manager) Snapshot(ctx context.Context, acc string, force bool) (*Result, error) {
	dir := m.StudyDir(acc)

	for attempt := 1; attempt <= maxStableAttempts; attempt++ {
		files, err := metadataFiles(dir)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			snapshotsTotal.WithLabelValues("empty").Inc()
			return &Result{}, nil
		}
		sig, err := signature(ctx, dir, files)
		if err != nil {
			return nil, fmt.Errorf("вычисление сигнатуры %s: %w", acc, err)
		}

		release, err := m.locks.Lock(ctx, acc)
		if err != nil {
			return nil, err
		}
		res, stable, err := m.snapshotLocked(acc, files, sig, force)
		release()
		if err != nil {
			snapshotsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if stable {
			return res, nil
		}
		m.logger.Debug("метаданные изменились во время хэширования, повтор",
			slog.String("study_id", acc),
			slog.Int("attempt", attempt),
		)
	}
	snapshotsTotal.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("%s: %w", acc, ErrUnstable)
}

func (m *Manager) snapshotLocked(acc string, hashed []fileState, sig string, force bool) (*Result, bool, error) {
	dir := m.StudyDir(acc)
	current, err := metadataFiles(dir)
	if err != nil {
		return nil, false, err
	}
	if !sameFiles(hashed, current) {
		return nil, false, nil
	}

	auditDir := m.auditDir(acc)
	working := filepath.Join(auditDir, HashesFolder, SignatureFile)
	if err := atomicfile.WriteFile(working, []byte(sig), 0o644); err != nil {
		return nil, true, fmt.Errorf("запись сигнатуры: %w", err)
	}

	res := &Result{Signature: sig, Files: len(current)}
	latest, err := m.latest(auditDir)
	if err != nil {
		return nil, true, err
	}
	if latest != nil && latest.Signature == sig && !force {
		snapshotsTotal.WithLabelValues("unchanged").Inc()
		return res, true, nil
	}

	name := m.freeName(auditDir)
	if err := m.writeSnapshot(dir, auditDir, name, current, sig); err != nil {
		return nil, true, err
	}
	res.Created = true
	res.Snapshot = name
	snapshotsTotal.WithLabelValues("created").Inc()
	m.logger.Info("снимок метаданных создан",
		slog.String("study_id", acc),
		slog.String("snapshot", name),
		slog.Int("files", len(current)),
	)
	return res, true, nil
}

// freeName возвращает имя снимка по текущему времени; при совпадении
// время увеличивается на секунду, сохраняя лексикографический порядок.
func (m *Manager) freeName(auditDir string) string {
	t := m.now().UTC()
	for {
		name := t.Format(m.layout) + SnapshotSuffix
		if _, err := os.Stat(filepath.Join(auditDir, name)); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		t = t.Add(time.Second)
	}
}

// writeSnapshot копирует файлы во временный каталог и переименовывает его.
func (m *Manager) writeSnapshot(studyDir, auditDir, name string, files []fileState, sig string) error {
	tmp := filepath.Join(auditDir, "."+name+".tmp")
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("очистка временного снимка: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(tmp, HashesFolder), 0o755); err != nil {
		return fmt.Errorf("создание снимка: %w", err)
	}
	for _, f := range files {
		if err := copyFile(filepath.Join(studyDir, f.name), filepath.Join(tmp, f.name)); err != nil {
			os.RemoveAll(tmp)
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(tmp, HashesFolder, SignatureFile), []byte(sig), 0o644); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("запись сигнатуры снимка: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(auditDir, name)); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("переименование снимка: %w", err)
	}
	return nil
}

// List возвращает снимки исследования в лексикографическом порядке.
func (m *Manager) List(acc string) ([]Snapshot, error) {
	return m.list(m.auditDir(acc))
}

// Latest возвращает последний снимок или nil.
func (m *Manager) Latest(acc string) (*Snapshot, error) {
	return m.latest(m.auditDir(acc))
}

func (m *Manager) latest(auditDir string) (*Snapshot, error) {
	snaps, err := m.list(auditDir)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[len(snaps)-1], nil
}

func (m *Manager) list(auditDir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения каталога аудита: %w", err)
	}
	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, SnapshotSuffix) {
			continue
		}
		sig, err := os.ReadFile(filepath.Join(auditDir, name, HashesFolder, SignatureFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("чтение сигнатуры %s: %w", name, err)
		}
		out = append(out, Snapshot{Name: name, Signature: strings.TrimSpace(string(sig))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SnapshotDir возвращает путь каталога снимка name.
func (m *Manager) SnapshotDir(acc, name string) string {
	return filepath.Join(m.auditDir(acc), name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("открытие %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("создание %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("копирование %s: %w", src, err)
	}
	return out.Close()
}

var _ Locker = (*studylock.Registry)(nil)
