// Пакет walker — ленивый обход дерева файлов исследования.
//
// Обход выдаёт model.FileDescriptor для каждого потомка корня:
//   - имена, начинающиеся с '.', пропускаются без ListAllFiles;
//   - каталоги из набора SkipFolderNames не посещаются;
//   - стоп-папки (вендорные наборы данных) выдаются одной записью;
//   - символические ссылки не разыменовываются за пределы корня.
//
// Каталог выдаётся раньше своих потомков, поэтому результат замкнут
// относительно предков. Последовательность однопроходная.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
)

// DefaultTimeout — жёсткий дедлайн обхода по умолчанию.
const DefaultTimeout = 180 * time.Second

// Options — параметры обхода.
type Options struct {
	// SkipFolderNames — имена каталогов, в которые обход не заходит
	SkipFolderNames []string
	// ListAllFiles — выдавать скрытые файлы и каталоги
	ListAllFiles bool
	// Timeout — жёсткий дедлайн обхода (0 — DefaultTimeout)
	Timeout time.Duration
	// Classifier — классификатор (nil — стоп-папки .raw, .d, .fid)
	Classifier *classifier.Classifier
	// References — множество ссылок из метаданных для статуса active
	References model.ReferenceSet
	// SkipFiles — относительные пути (через '/'), не попадающие в выдачу
	SkipFiles []string
}

// Walker — обходчик дерева файлов.
type Walker struct {
	opts      Options
	skip      map[string]bool
	skipFiles map[string]bool
	logger    *slog.Logger
}

// New создаёт обходчик.
func New(opts Options, logger *slog.Logger) *Walker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(classifier.Options{
			StopFolderExtensions: []string{".raw", ".d", ".fid"},
		})
	}
	skip := make(map[string]bool, len(opts.SkipFolderNames))
	for _, n := range opts.SkipFolderNames {
		skip[n] = true
	}
	skipFiles := make(map[string]bool, len(opts.SkipFiles))
	for _, p := range opts.SkipFiles {
		skipFiles[path.Clean(p)] = true
	}
	return &Walker{
		opts:      opts,
		skip:      skip,
		skipFiles: skipFiles,
		logger:    logger.With(slog.String("component", "walker")),
	}
}

// Walk подготавливает обход корня. Обход выполняется при итерации Listing.All.
// Дедлайн — минимум из дедлайна ctx и Options.Timeout, отсчитываемого от вызова Walk.
func (w *Walker) Walk(ctx context.Context, root string) *Listing {
	deadline := time.Now().Add(w.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return &Listing{
		w:        w,
		ctx:      ctx,
		root:     root,
		deadline: deadline,
	}
}

// Listing — результат обхода: однопроходная последовательность дескрипторов,
// флаг усечения и предупреждения.
type Listing struct {
	w        *Walker
	ctx      context.Context
	root     string
	rootReal string
	deadline time.Time

	consumed  atomic.Bool
	truncated atomic.Bool

	mu       sync.Mutex
	warnings []string
}

// All возвращает последовательность дескрипторов. Повторная итерация пуста.
func (l *Listing) All() iter.Seq[model.FileDescriptor] {
	return func(yield func(model.FileDescriptor) bool) {
		if !l.consumed.CompareAndSwap(false, true) {
			l.warn("повторная итерация обхода: последовательность однопроходная")
			return
		}

		info, err := os.Stat(l.root)
		if err != nil || !info.IsDir() {
			l.warn(fmt.Sprintf("корень обхода не найден: %s", l.root))
			return
		}
		l.rootReal, err = filepath.EvalSymlinks(l.root)
		if err != nil {
			l.rootReal = l.root
		}

		entries, err := os.ReadDir(l.root)
		if err != nil {
			l.warn(fmt.Sprintf("ошибка чтения корня %s: %v", l.root, err))
			return
		}
		l.walkDir("", entries, yield)

		if l.truncated.Load() {
			l.w.logger.Warn("Обход прерван по дедлайну",
				slog.String("root", l.root),
			)
		}
	}
}

// Truncated — обход прерван по дедлайну или отмене контекста.
func (l *Listing) Truncated() bool {
	return l.truncated.Load()
}

// Warnings возвращает предупреждения обхода.
func (l *Listing) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnings...)
}

// Collect полностью выполняет обход и возвращает дескрипторы.
func (l *Listing) Collect() []model.FileDescriptor {
	var out []model.FileDescriptor
	for d := range l.All() {
		out = append(out, d)
	}
	return out
}

func (l *Listing) warn(msg string) {
	l.mu.Lock()
	l.warnings = append(l.warnings, msg)
	l.mu.Unlock()
}

func (l *Listing) expired() bool {
	if l.ctx.Err() != nil || !time.Now().Before(l.deadline) {
		l.truncated.Store(true)
		return true
	}
	return false
}

// walkDir выдаёт содержимое каталога relDir. Возвращает false, если
// потребитель остановил итерацию или истёк дедлайн.
func (l *Listing) walkDir(relDir string, entries []os.DirEntry, yield func(model.FileDescriptor) bool) bool {
	siblings := entryNames(entries)

	for _, e := range entries {
		if l.expired() {
			return false
		}

		name := e.Name()
		if !l.w.opts.ListAllFiles && strings.HasPrefix(name, ".") {
			continue
		}
		rel := path.Join(relDir, name)
		if l.w.skipFiles[rel] {
			continue
		}
		full := filepath.Join(l.root, filepath.FromSlash(rel))

		if e.Type()&fs.ModeSymlink != 0 {
			desc, ok := l.symlinkDescriptor(rel, full, relDir, siblings)
			if ok && !yield(desc) {
				return false
			}
			continue
		}

		info, err := e.Info()
		if err != nil {
			l.warn(fmt.Sprintf("ошибка stat %s: %v", rel, err))
			continue
		}

		if !e.IsDir() {
			if !yield(l.describe(rel, relDir, info, siblings)) {
				return false
			}
			continue
		}

		if l.w.skip[name] {
			continue
		}
		children, err := os.ReadDir(full)
		if err != nil {
			l.warn(fmt.Sprintf("ошибка чтения каталога %s: %v", rel, err))
			continue
		}
		childNames := entryNames(children)

		desc := l.describe(rel, relDir, info, childNames)
		desc.IsEmpty = len(children) == 0
		if l.w.opts.Classifier.IsStopFolder(name, childNames) {
			desc.IsStopFolder = true
			desc.SubFilename = classifier.StopFolderSentinel(childNames)
			if !yield(desc) {
				return false
			}
			continue
		}

		if !yield(desc) {
			return false
		}
		if !l.walkDir(rel, children, yield) {
			return false
		}
	}
	return true
}

// symlinkDescriptor описывает ссылку без перехода по ней. Ссылки,
// ведущие за пределы корня или битые, пропускаются с предупреждением.
func (l *Listing) symlinkDescriptor(rel, full, relDir string, siblings []string) (model.FileDescriptor, bool) {
	target, err := filepath.EvalSymlinks(full)
	if err != nil {
		l.warn(fmt.Sprintf("битая символическая ссылка %s", rel))
		return model.FileDescriptor{}, false
	}
	if !within(l.rootReal, target) {
		l.warn(fmt.Sprintf("символическая ссылка %s ведёт за пределы корня", rel))
		return model.FileDescriptor{}, false
	}
	info, err := os.Stat(full)
	if err != nil {
		l.warn(fmt.Sprintf("ошибка stat %s: %v", rel, err))
		return model.FileDescriptor{}, false
	}
	desc := l.describe(rel, relDir, info, siblings)
	desc.IsSymlink = true
	return desc, true
}

func (l *Listing) describe(rel, parent string, info fs.FileInfo, entries []string) model.FileDescriptor {
	isDir := info.IsDir()
	kind, status := l.w.opts.Classifier.Classify(rel, isDir, entries, l.w.opts.References)
	d := model.FileDescriptor{
		Path:      rel,
		Parent:    parent,
		IsDir:     isDir,
		ModTime:   info.ModTime(),
		Extension: classifier.Extension(rel),
		Kind:      kind,
		Status:    status,
	}
	if !isDir {
		d.Size = info.Size()
		d.IsEmpty = info.Size() == 0
	}
	return d
}

func entryNames(entries []os.DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

// within проверяет, что target лежит внутри root.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
