package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// hashWorkers — число параллельных вычислений SHA-256 в HashTree.
const hashWorkers = 4

// MountedStorage — хранилище на локальной (или смонтированной) файловой системе.
type MountedStorage struct {
	name string
	root string
}

// NewMounted создаёт хранилище с корнем root. Корень должен существовать.
func NewMounted(name, root string) (*MountedStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный корень хранилища %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("корень хранилища %s недоступен: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return &MountedStorage{name: name, root: abs}, nil
}

// Name возвращает имя хранилища.
func (m *MountedStorage) Name() string { return m.name }

// Root возвращает абсолютный корень хранилища.
func (m *MountedStorage) Root() string { return m.root }

// FullPath возвращает абсолютный путь для rel.
func (m *MountedStorage) FullPath(rel string) (string, error) {
	c, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, filepath.FromSlash(c)), nil
}

// Exists проверяет существование пути.
func (m *MountedStorage) Exists(_ context.Context, rel string) (bool, error) {
	p, err := m.FullPath(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки %s: %w", rel, err)
	}
	return true, nil
}

// Stat возвращает информацию о пути.
func (m *MountedStorage) Stat(_ context.Context, rel string) (Entry, error) {
	p, err := m.FullPath(rel)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return Entry{}, wrapFSError(rel, err)
	}
	e := entryFromInfo(info)
	e.Path, _ = cleanRel(rel)
	return e, nil
}

// List возвращает непосредственных потомков каталога.
func (m *MountedStorage) List(_ context.Context, rel string) ([]Entry, error) {
	p, err := m.FullPath(rel)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(p)
	if err != nil {
		return nil, wrapFSError(rel, err)
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := entryFromInfo(info)
		e.Path = de.Name()
		out = append(out, e)
	}
	return out, nil
}

// Walk возвращает всех потомков каталога rel без перехода по ссылкам.
func (m *MountedStorage) Walk(ctx context.Context, rel string) ([]Entry, error) {
	base, err := m.FullPath(rel)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); err != nil {
		return nil, wrapFSError(rel, err)
	}

	var out []Entry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Недоступные каталоги пропускаются
			if d != nil && d.IsDir() && p != base {
				return fs.SkipDir
			}
			return walkErr
		}
		if p == base {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		r, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		e := entryFromInfo(info)
		e.Path = filepath.ToSlash(r)
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода %s: %w", rel, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CreateFolder создаёт каталог и устанавливает ACL.
func (m *MountedStorage) CreateFolder(_ context.Context, rel string, acl model.ACL, existOK bool) error {
	p, err := m.FullPath(rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(p); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, rel)
		}
		if !existOK {
			return fmt.Errorf("%w: %s", ErrExists, rel)
		}
	} else if err := os.MkdirAll(p, 0o750); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", rel, err)
	}
	if acl == "" {
		return nil
	}
	return m.chmod(p, acl)
}

// Move перемещает путь внутри хранилища.
func (m *MountedStorage) Move(_ context.Context, src, dst string) error {
	from, err := m.FullPath(src)
	if err != nil {
		return err
	}
	to, err := m.FullPath(dst)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(from); err != nil {
		return wrapFSError(src, err)
	}
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return fmt.Errorf("ошибка создания каталога назначения: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("ошибка перемещения %s → %s: %w", src, dst, err)
	}
	return nil
}

// Remove удаляет путь рекурсивно.
func (m *MountedStorage) Remove(_ context.Context, rel string) error {
	p, err := m.FullPath(rel)
	if err != nil {
		return err
	}
	if p == m.root {
		return fmt.Errorf("%w: удаление корня", ErrPathEscape)
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("ошибка удаления %s: %w", rel, err)
	}
	return nil
}

// GetACL возвращает ACL каталога по его правам.
func (m *MountedStorage) GetACL(_ context.Context, rel string) (model.ACL, error) {
	p, err := m.FullPath(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", wrapFSError(rel, err)
	}
	return model.ACLFromMode(uint32(info.Mode().Perm()))
}

// SetACL устанавливает права каталога согласно ACL.
func (m *MountedStorage) SetACL(_ context.Context, rel string, acl model.ACL) error {
	p, err := m.FullPath(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return wrapFSError(rel, err)
	}
	return m.chmod(p, acl)
}

func (m *MountedStorage) chmod(p string, acl model.ACL) error {
	if !acl.Valid() {
		return fmt.Errorf("неизвестный ACL: %q", acl)
	}
	if err := os.Chmod(p, fs.FileMode(acl.Mode())); err != nil {
		return fmt.Errorf("ошибка установки ACL %s: %w", acl, err)
	}
	return nil
}

// HashTree вычисляет SHA-256 всех файлов под rel параллельно.
func (m *MountedStorage) HashTree(ctx context.Context, rel string) (map[string]string, error) {
	entries, err := m.Walk(ctx, rel)
	if err != nil {
		return nil, err
	}
	base, _ := m.FullPath(rel)

	var mu sync.Mutex
	out := make(map[string]string, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)
	for _, e := range entries {
		if e.IsDir || e.IsSymlink {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := HashFile(filepath.Join(base, filepath.FromSlash(e.Path)))
			if err != nil {
				return err
			}
			mu.Lock()
			out[e.Path] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// HashFile возвращает SHA-256 файла в hex.
func HashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("ошибка чтения %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Open открывает файл для чтения.
func (m *MountedStorage) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	p, err := m.FullPath(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, wrapFSError(rel, err)
	}
	return f, nil
}

// Put атомарно записывает файл: temp → fsync → rename → chtimes.
// При отмене контекста временный файл удаляется.
func (m *MountedStorage) Put(ctx context.Context, rel string, r io.Reader, modTime time.Time) error {
	p, err := m.FullPath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(p)+"."+uuid.NewString()[:8]+TempSuffix)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи %s: %w", rel, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(p, modTime, modTime); err != nil {
			return fmt.Errorf("ошибка установки времени %s: %w", rel, err)
		}
	}
	return nil
}

// TempSuffix — суффикс временных файлов, создаваемых Put.
const TempSuffix = ".sync-tmp"

// CleanTemp удаляет оставшиеся после прерванной записи временные файлы под rel.
func (m *MountedStorage) CleanTemp(ctx context.Context, rel string) (int, error) {
	entries, err := m.Walk(ctx, rel)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	base, _ := m.FullPath(rel)
	removed := 0
	for _, e := range entries {
		if e.IsDir || !isTempName(e.Path) {
			continue
		}
		if err := os.Remove(filepath.Join(base, filepath.FromSlash(e.Path))); err == nil {
			removed++
		}
	}
	return removed, nil
}

func entryFromInfo(info fs.FileInfo) Entry {
	e := Entry{
		IsDir:     info.IsDir(),
		ModTime:   info.ModTime().UTC(),
		IsSymlink: info.Mode()&fs.ModeSymlink != 0,
	}
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e
}

func wrapFSError(rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return fmt.Errorf("ошибка доступа к %s: %w", rel, err)
}
