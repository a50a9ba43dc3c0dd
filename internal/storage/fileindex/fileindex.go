// Пакет fileindex — потокобезопасный in-memory индекс файлов исследования.
//
// Индекс строится из результата обхода (Build) либо из ранее сохранённого
// files_list.json (Load) и сохраняется атомарно (Save). Обеспечивает
// фильтрацию по виду и статусу, пагинацию и подсчёт без обращения к диску.
package fileindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
	"github.com/bigkaa/metabostore/internal/storage/walker"
)

// FileName — имя файла индекса во внутренней области исследования.
const FileName = "files_list.json"

// Document — сериализованная форма индекса (files_list.json).
type Document struct {
	Study       string                 `json:"study_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Truncated   bool                   `json:"truncated"`
	Warnings    []string               `json:"warnings,omitempty"`
	Files       []model.FileDescriptor `json:"study"`
}

// Index — индекс файлов одного исследования.
// Использует sync.RWMutex для конкурентного чтения и эксклюзивной записи.
type Index struct {
	mu          sync.RWMutex
	study       string
	files       map[string]model.FileDescriptor // относительный путь → дескриптор
	truncated   bool
	warnings    []string
	generatedAt time.Time
	logger      *slog.Logger
}

// New создаёт пустой индекс исследования.
func New(study string, logger *slog.Logger) *Index {
	return &Index{
		study:  study,
		files:  make(map[string]model.FileDescriptor),
		logger: logger.With(slog.String("component", "fileindex"), slog.String("study_id", study)),
	}
}

// Build заполняет индекс обходом root. Заменяет текущее содержимое.
func (idx *Index) Build(ctx context.Context, w *walker.Walker, root string) {
	listing := w.Walk(ctx, root)
	files := make(map[string]model.FileDescriptor)
	for fd := range listing.All() {
		files[fd.Path] = fd
	}

	idx.mu.Lock()
	idx.files = files
	idx.truncated = listing.Truncated()
	idx.warnings = listing.Warnings()
	idx.generatedAt = time.Now().UTC()
	idx.mu.Unlock()

	idx.logger.Debug("Индекс файлов построен",
		slog.Int("files", len(files)),
		slog.Bool("truncated", listing.Truncated()),
	)
}

// Merge добавляет дескрипторы, пути которых ещё не присутствуют в индексе.
// Возвращает количество добавленных записей.
func (idx *Index) Merge(files []model.FileDescriptor) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	added := 0
	for _, fd := range files {
		if _, ok := idx.files[fd.Path]; ok {
			continue
		}
		idx.files[fd.Path] = fd
		added++
	}
	return added
}

// Add добавляет или заменяет дескриптор.
func (idx *Index) Add(fd model.FileDescriptor) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.files[fd.Path] = fd
}

// Remove удаляет дескриптор по пути. Возвращает true, если запись была найдена.
func (idx *Index) Remove(relPath string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.files[relPath]; !ok {
		return false
	}
	delete(idx.files, relPath)
	return true
}

// Get возвращает дескриптор по относительному пути.
func (idx *Index) Get(relPath string) (model.FileDescriptor, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fd, ok := idx.files[model.CleanRelPath(relPath)]
	return fd, ok
}

// Truncated — обход, построивший индекс, был прерван по дедлайну.
func (idx *Index) Truncated() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.truncated
}

// Warnings возвращает предупреждения обхода.
func (idx *Index) Warnings() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]string(nil), idx.warnings...)
}

// Filter — условие выборки. Нулевые поля не ограничивают выборку.
type Filter struct {
	Kinds  []model.FileKind
	Status model.FileStatus
	// Dirs — включать каталоги, не являющиеся стоп-папками
	Dirs bool
}

func (f Filter) match(fd model.FileDescriptor) bool {
	if fd.IsDir && !fd.IsStopFolder && !f.Dirs {
		return false
	}
	if f.Status != "" && fd.Status != f.Status {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if fd.Kind == k {
			return true
		}
	}
	return false
}

// All возвращает все дескрипторы, отсортированные по пути.
func (idx *Index) All() []model.FileDescriptor {
	items, _ := idx.List(0, 0, Filter{Dirs: true})
	return items
}

// List возвращает пагинированную выборку, отсортированную по пути,
// и общее количество записей, удовлетворяющих фильтру.
// limit = 0 — без ограничения.
func (idx *Index) List(limit, offset int, filter Filter) ([]model.FileDescriptor, int) {
	idx.mu.RLock()
	var filtered []model.FileDescriptor
	for _, fd := range idx.files {
		if filter.match(fd) {
			filtered = append(filtered, fd)
		}
	}
	idx.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Path < filtered[j].Path
	})

	total := len(filtered)
	if offset >= total {
		return nil, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return filtered[offset:end], total
}

// Count возвращает количество записей, удовлетворяющих фильтру.
func (idx *Index) Count(filter Filter) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, fd := range idx.files {
		if filter.match(fd) {
			count++
		}
	}
	return count
}

// Document возвращает сериализуемую форму индекса.
func (idx *Index) Document() Document {
	idx.mu.RLock()
	doc := Document{
		Study:       idx.study,
		GeneratedAt: idx.generatedAt,
		Truncated:   idx.truncated,
		Warnings:    append([]string(nil), idx.warnings...),
	}
	idx.mu.RUnlock()
	doc.Files = idx.All()
	return doc
}

// Save атомарно записывает индекс в path.
func (idx *Index) Save(path string) error {
	if err := atomicfile.WriteJSON(path, idx.Document()); err != nil {
		return fmt.Errorf("ошибка сохранения индекса файлов: %w", err)
	}
	return nil
}

// Load читает ранее сохранённый индекс из path.
func Load(path string, logger *slog.Logger) (*Index, error) {
	var doc Document
	if err := atomicfile.ReadJSON(path, &doc); err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса файлов %s: %w", path, err)
	}

	idx := New(doc.Study, logger)
	idx.truncated = doc.Truncated
	idx.warnings = doc.Warnings
	idx.generatedAt = doc.GeneratedAt
	for _, fd := range doc.Files {
		idx.files[model.CleanRelPath(fd.Path)] = fd
	}
	return idx, nil
}
