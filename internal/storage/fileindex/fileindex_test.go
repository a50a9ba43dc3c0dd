package fileindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
	"github.com/bigkaa/metabostore/internal/storage/walker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("ошибка записи файла: %v", err)
	}
}

// buildIndex строит индекс по небольшому дереву исследования.
func buildIndex(t *testing.T) (*Index, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "i_Investigation.txt"), "x")
	writeFile(t, filepath.Join(root, "s_MTBLS1.txt"), "x")
	writeFile(t, filepath.Join(root, "s_old.txt"), "x")
	writeFile(t, filepath.Join(root, "FILES", "a.mzML"), "x")
	writeFile(t, filepath.Join(root, "FILES", "b.mzML"), "x")
	writeFile(t, filepath.Join(root, "FILES", "c.raw", "_FUNC001.DAT"), "x")

	refs := model.NewReferenceSet("i_Investigation.txt", "s_MTBLS1.txt", "FILES/a.mzML", "FILES/c.raw")
	cls := classifier.New(classifier.Options{
		DerivedExtensions:    []string{".mzml"},
		StopFolderExtensions: []string{".raw"},
	})
	w := walker.New(walker.Options{Classifier: cls, References: refs}, testLogger())

	idx := New("MTBLS1", testLogger())
	idx.Build(context.Background(), w, root)
	return idx, root
}

// TestBuild_CountByKindAndStatus проверяет подсчёт по виду и статусу.
func TestBuild_CountByKindAndStatus(t *testing.T) {
	idx, _ := buildIndex(t)

	if got := idx.Count(Filter{Status: model.FileActive}); got != 4 {
		t.Errorf("active: ожидалось 4, получено %d", got)
	}
	if got := idx.Count(Filter{Kinds: []model.FileKind{model.KindSample}}); got != 2 {
		t.Errorf("sample: ожидалось 2, получено %d", got)
	}
	if got := idx.Count(Filter{Status: model.FileOld}); got != 1 {
		t.Errorf("old: ожидалось 1, получено %d", got)
	}
	if got := idx.Count(Filter{Status: model.FileUnreferenced}); got != 1 {
		t.Errorf("unreferenced: ожидалось 1, получено %d", got)
	}
	if idx.Truncated() {
		t.Error("обход не должен быть усечён")
	}
}

// TestList_Pagination проверяет сортировку и пагинацию.
func TestList_Pagination(t *testing.T) {
	idx, _ := buildIndex(t)

	items, total := idx.List(2, 1, Filter{})
	if total != 6 {
		t.Fatalf("total: ожидалось 6, получено %d", total)
	}
	if len(items) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(items))
	}
	if items[0].Path != "FILES/b.mzML" || items[1].Path != "FILES/c.raw" {
		t.Errorf("неожиданный порядок: %s, %s", items[0].Path, items[1].Path)
	}

	if items, _ := idx.List(10, 100, Filter{}); items != nil {
		t.Errorf("смещение за пределами: ожидалось nil, получено %v", items)
	}
}

// TestSaveLoad проверяет сохранение и чтение files_list.json.
func TestSaveLoad(t *testing.T) {
	idx, root := buildIndex(t)
	path := filepath.Join(root, "internal", FileName)

	if err := idx.Save(path); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	loaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	fd, ok := loaded.Get("FILES/c.raw")
	if !ok {
		t.Fatal("FILES/c.raw не найден после чтения")
	}
	if fd.Kind != model.KindRaw || !fd.IsStopFolder || fd.Status != model.FileActive {
		t.Errorf("неожиданный дескриптор: %+v", fd)
	}
	if loaded.Count(Filter{Dirs: true}) != idx.Count(Filter{Dirs: true}) {
		t.Error("количество записей изменилось после чтения")
	}
}

// TestMerge проверяет, что Merge не перезаписывает существующие записи.
func TestMerge(t *testing.T) {
	idx, _ := buildIndex(t)

	added := idx.Merge([]model.FileDescriptor{
		{Path: "FILES/a.mzML", Kind: model.KindUnknown},
		{Path: "DATA/x.d", Kind: model.KindRaw, IsDir: true, IsStopFolder: true},
	})
	if added != 1 {
		t.Errorf("ожидалась 1 добавленная запись, получено %d", added)
	}
	if fd, _ := idx.Get("FILES/a.mzML"); fd.Kind != model.KindDerived {
		t.Errorf("существующая запись перезаписана: %v", fd.Kind)
	}
	if !idx.Remove("DATA/x.d") || idx.Remove("DATA/x.d") {
		t.Error("Remove: ожидалось true, затем false")
	}
}
