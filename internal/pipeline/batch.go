package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// BatchSize — максимальное число mzML в одной партии конвертера
	BatchSize = 10
	// batchPrefix — префикс каталогов партий
	batchPrefix = "MZML_"
)

// Batch — каталог партии со ссылками на исходные mzML.
type Batch struct {
	Name string
	Dir  string
	// Files — абсолютные пути исходных файлов
	Files []string
}

// planBatches группирует файлы по каталогам и делит каждую группу
// на части не более size файлов. Файлы разных каталогов в одну партию
// не попадают.
func planBatches(files []string, size int) [][]string {
	groups := make(map[string][]string)
	var dirs []string
	for _, f := range files {
		dir := filepath.Dir(f)
		if _, ok := groups[dir]; !ok {
			dirs = append(dirs, dir)
		}
		groups[dir] = append(groups[dir], f)
	}
	sort.Strings(dirs)

	var out [][]string
	for _, dir := range dirs {
		group := groups[dir]
		sort.Strings(group)
		for len(group) > 0 {
			n := min(size, len(group))
			out = append(out, group[:n:n])
			group = group[n:]
		}
	}
	return out
}

// clearBatches удаляет каталоги партий предыдущего запуска.
func clearBatches(workDir string) error {
	entries, err := os.ReadDir(workDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), batchPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, e.Name())); err != nil {
			return fmt.Errorf("удаление партии %s: %w", e.Name(), err)
		}
	}
	return nil
}

// makeBatches материализует партии символическими ссылками
// в workDir/MZML_0001, MZML_0002, ...
func makeBatches(workDir string, files []string) ([]Batch, error) {
	if err := clearBatches(workDir); err != nil {
		return nil, err
	}
	var batches []Batch
	for i, group := range planBatches(files, BatchSize) {
		b := Batch{Name: fmt.Sprintf("%s%04d", batchPrefix, i+1)}
		b.Dir = filepath.Join(workDir, b.Name)
		if err := os.MkdirAll(b.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("создание партии %s: %w", b.Name, err)
		}
		for _, f := range group {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, err
			}
			if err := os.Symlink(abs, filepath.Join(b.Dir, filepath.Base(f))); err != nil {
				return nil, fmt.Errorf("ссылка на %s в партии %s: %w", filepath.Base(f), b.Name, err)
			}
			b.Files = append(b.Files, abs)
		}
		batches = append(batches, b)
	}
	return batches, nil
}
