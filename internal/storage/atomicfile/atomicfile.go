// Пакет atomicfile — атомарная запись файлов: temp → fsync → rename.
// Читатель никогда не видит частично записанный файл; при ошибке
// временный файл удаляется.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempSuffix — суффикс временных файлов атомарной записи.
const TempSuffix = ".tmp"

// WriteFile атомарно записывает данные в path.
// Каталог назначения создаётся при необходимости.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()[:8]+TempSuffix)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
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

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// WriteJSON сериализует v с отступами и атомарно записывает в path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, data, 0o640)
}

// ReadJSON читает и десериализует JSON из path.
// Отсутствующий файл возвращает ошибку, удовлетворяющую os.IsNotExist.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	return nil
}

// CleanTemp удаляет оставшиеся временные файлы атомарной записи в dir.
// Возвращает число удалённых файлов.
func CleanTemp(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ".*"+TempSuffix))
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}
	cleaned := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			cleaned++
		}
	}
	return cleaned, nil
}
