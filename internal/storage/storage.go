// Пакет storage — логические хранилища исследований (приватный FTP,
// область метаданных, область данных только для чтения, публичный FTP).
//
// Storage — единый интерфейс с ACL-семантикой; MountedStorage работает
// с локальной файловой системой, UnmountedStorage — с удалённым агентом
// по HTTP. Mirror вычисляет и выполняет одностороннюю синхронизацию
// между двумя хранилищами.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Ошибки хранилища.
var (
	// ErrNotFound — путь не существует.
	ErrNotFound = errors.New("путь не найден")
	// ErrExists — путь уже существует.
	ErrExists = errors.New("путь уже существует")
	// ErrPathEscape — относительный путь выходит за корень хранилища.
	ErrPathEscape = errors.New("путь выходит за пределы хранилища")
	// ErrUnimplemented — неизвестный тип монтирования.
	ErrUnimplemented = errors.New("тип хранилища не реализован")
	// ErrNotDirectory — ожидался каталог.
	ErrNotDirectory = errors.New("путь не является каталогом")
)

// Типы монтирования.
const (
	MountTypeMounted   = "mounted"
	MountTypeUnmounted = "unmounted"
)

// Entry — элемент хранилища.
type Entry struct {
	// Path — путь относительно запрошенного каталога, разделитель '/'
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	// IsSymlink — символическая ссылка (не разыменовывается)
	IsSymlink bool `json:"is_symlink,omitempty"`
}

// Storage — логическое хранилище.
type Storage interface {
	// Name — имя хранилища для логов и метрик.
	Name() string
	// Exists проверяет существование пути.
	Exists(ctx context.Context, rel string) (bool, error)
	// Stat возвращает информацию о пути.
	Stat(ctx context.Context, rel string) (Entry, error)
	// List возвращает непосредственных потомков каталога.
	List(ctx context.Context, rel string) ([]Entry, error)
	// Walk возвращает всех потомков каталога без перехода по ссылкам,
	// в лексикографическом порядке путей.
	Walk(ctx context.Context, rel string) ([]Entry, error)
	// CreateFolder создаёт каталог (с родителями) и устанавливает ACL.
	CreateFolder(ctx context.Context, rel string, acl model.ACL, existOK bool) error
	// Move перемещает путь. Целевой путь не должен существовать.
	Move(ctx context.Context, src, dst string) error
	// Remove удаляет файл или каталог рекурсивно. Отсутствующий путь — не ошибка.
	Remove(ctx context.Context, rel string) error
	// GetACL возвращает ACL каталога.
	GetACL(ctx context.Context, rel string) (model.ACL, error)
	// SetACL устанавливает ACL каталога.
	SetACL(ctx context.Context, rel string, acl model.ACL) error
	// HashTree возвращает SHA-256 всех файлов под rel (ключ — путь относительно rel).
	HashTree(ctx context.Context, rel string) (map[string]string, error)
	// Open открывает файл для чтения. Вызывающий обязан закрыть reader.
	Open(ctx context.Context, rel string) (io.ReadCloser, error)
	// Put атомарно записывает файл и устанавливает время модификации.
	Put(ctx context.Context, rel string, r io.Reader, modTime time.Time) error
}

// RemoteOptions — параметры удалённого агента для unmounted-хранилища.
type RemoteOptions struct {
	URL   string
	Token string
}

// Open создаёт хранилище по типу монтирования.
func Open(name, mountType, root string, remote RemoteOptions, logger *slog.Logger) (Storage, error) {
	switch mountType {
	case "", MountTypeMounted:
		return NewMounted(name, root)
	case MountTypeUnmounted:
		return NewUnmounted(name, remote, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnimplemented, mountType)
	}
}

// cleanRel нормализует относительный путь и проверяет выход за корень.
func cleanRel(rel string) (string, error) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	if rel == "" || rel == "." || rel == "/" {
		return "", nil
	}
	c := path.Clean("/" + rel)
	if strings.Contains(rel, "..") {
		for _, part := range strings.Split(rel, "/") {
			if part == ".." {
				return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
			}
		}
	}
	return strings.TrimPrefix(c, "/"), nil
}

// joinRel соединяет относительные пути.
func joinRel(base, rel string) string {
	switch {
	case base == "":
		return rel
	case rel == "":
		return base
	default:
		return base + "/" + rel
	}
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// copyBuffer копирует поток с буфером 256 КБ.
func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	return io.CopyBuffer(dst, src, buf)
}
