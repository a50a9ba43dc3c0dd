package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/storage/journal"
	"github.com/bigkaa/metabostore/internal/studylock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	engine   *Engine
	ftp      *storage.MountedStorage
	metadata *storage.MountedStorage
	data     *storage.MountedStorage
	locks    *studylock.Registry
	journal  *journal.Journal
	study    *model.Study
	folder   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mk := func(name string) *storage.MountedStorage {
		s, err := storage.NewMounted(name, t.TempDir())
		if err != nil {
			t.Fatalf("ошибка создания хранилища %s: %v", name, err)
		}
		return s
	}
	f := &fixture{
		ftp:      mk("private_ftp"),
		metadata: mk("study_area"),
		data:     mk("readonly_data"),
		locks:    studylock.New(testLogger()),
		study:    &model.Study{Accession: "MTBLS1", ObfuscationCode: "c0de"},
	}
	j, err := journal.New(filepath.Join(t.TempDir(), "journal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	f.journal = j

	private := storage.NewPrivateFTP(f.ftp, "old", testLogger())
	f.folder, err = private.CreateStudyFolder(context.Background(), f.study, model.ACLAuthorizedReadWrite)
	if err != nil {
		t.Fatalf("ошибка создания папки FTP: %v", err)
	}
	f.engine = New(Stores{FTP: private, Metadata: f.metadata, Data: f.data}, f.locks, j, Options{
		Ignore:          []string{".DS_Store", "metexplore_mapping.json"},
		SkipFolderNames: []string{"__MACOSX"},
	}, testLogger())

	files := []struct{ rel, content string }{
		{"i_Investigation.txt", "INVESTIGATION\n"},
		{"s_MTBLS1.txt", "Sample Name\nS1\n"},
		{"a_MTBLS1_LC-MS.txt", "Sample Name\tRaw Spectral Data File\nS1\tRAW_FILES/r1.raw\n"},
		{"m_MTBLS1_v2_maf.tsv", "database_identifier\n"},
		{"README.txt", "notes"},
		{".DS_Store", "x"},
		{"RAW_FILES/r1.raw", "raw-bytes"},
		{"DERIVED_FILES/d1.mzML", "<mzML/>"},
		{"__MACOSX/._r1.raw", "junk"},
		{"internal/notes.json", "{}"},
		{"internal/metexplore_mapping.json", "{}"},
	}
	for _, file := range files {
		f.writeFTP(t, file.rel, file.content)
	}
	return f
}

func (f *fixture) writeFTP(t *testing.T, rel, content string) {
	t.Helper()
	writeFile(t, f.ftp, filepath.Join(f.folder, rel), content)
}

func writeFile(t *testing.T, s *storage.MountedStorage, rel, content string) {
	t.Helper()
	p, err := s.FullPath(rel)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(t *testing.T, s *storage.MountedStorage, rel string) bool {
	t.Helper()
	ok, err := s.Exists(context.Background(), rel)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func (f *fixture) sync(t *testing.T, category model.SyncCategory, direction model.SyncDirection) (*model.SyncPlan, error) {
	t.Helper()
	return f.engine.Sync(context.Background(), Request{Study: f.study, Category: category, Direction: direction})
}

// TestSync_MetadataUpload проверяет перенос ISA-файлов корня папки FTP.
func TestSync_MetadataUpload(t *testing.T) {
	f := newFixture(t)

	plan, err := f.sync(t, model.SyncMetadata, model.SyncUpload)
	if err != nil {
		t.Fatalf("ошибка синхронизации: %v", err)
	}
	if plan.Status != model.SyncCompleted {
		t.Errorf("ожидался статус completed, получен %s", plan.Status)
	}
	if len(plan.ToCopy) != 4 || plan.Applied != 4 {
		t.Errorf("ожидалось 4 скопированных файла, план %+v", plan)
	}
	for _, name := range []string{"i_Investigation.txt", "s_MTBLS1.txt", "a_MTBLS1_LC-MS.txt", "m_MTBLS1_v2_maf.tsv"} {
		if !exists(t, f.metadata, "MTBLS1/"+name) {
			t.Errorf("файл %s не перенесён", name)
		}
	}
	for _, name := range []string{"README.txt", "RAW_FILES", "internal"} {
		if exists(t, f.metadata, "MTBLS1/"+name) {
			t.Errorf("%s не относится к метаданным", name)
		}
	}
}

// TestSync_Idempotent проверяет, что повторная синхронизация не выполняет операций.
func TestSync_Idempotent(t *testing.T) {
	for _, category := range []model.SyncCategory{model.SyncMetadata, model.SyncData, model.SyncInternal} {
		t.Run(string(category), func(t *testing.T) {
			f := newFixture(t)
			first, err := f.sync(t, category, model.SyncUpload)
			if err != nil {
				t.Fatalf("первая синхронизация: %v", err)
			}
			if first.Applied == 0 {
				t.Fatal("первая синхронизация должна выполнить операции")
			}

			second, err := f.sync(t, category, model.SyncUpload)
			if err != nil {
				t.Fatalf("повторная синхронизация: %v", err)
			}
			if second.Applied != 0 || len(second.ToCopy)+len(second.ToUpdate)+len(second.ToDelete) != 0 {
				t.Errorf("повторная синхронизация выполнила операции: %+v", second)
			}
		})
	}
}

// TestSync_MetadataUpdateAndDelete проверяет обновление и удаление метаданных.
func TestSync_MetadataUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	if _, err := f.sync(t, model.SyncMetadata, model.SyncUpload); err != nil {
		t.Fatal(err)
	}

	f.writeFTP(t, "s_MTBLS1.txt", "Sample Name\nS1\nS2\n")
	if err := os.Remove(filepath.Join(f.ftp.Root(), f.folder, "m_MTBLS1_v2_maf.tsv")); err != nil {
		t.Fatal(err)
	}

	plan, err := f.sync(t, model.SyncMetadata, model.SyncUpload)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0] != "s_MTBLS1.txt" {
		t.Errorf("ожидалось обновление s_MTBLS1.txt, получено %v", plan.ToUpdate)
	}
	if len(plan.ToDelete) != 1 || plan.ToDelete[0] != "m_MTBLS1_v2_maf.tsv" {
		t.Errorf("ожидалось удаление m_MTBLS1_v2_maf.tsv, получено %v", plan.ToDelete)
	}
	if exists(t, f.metadata, "MTBLS1/m_MTBLS1_v2_maf.tsv") {
		t.Error("удалённый на FTP файл остался в области исследования")
	}
}

// TestSync_DryRun проверяет, что пробный запуск не изменяет приёмник.
func TestSync_DryRun(t *testing.T) {
	f := newFixture(t)

	plan, err := f.engine.Sync(context.Background(), Request{
		Study: f.study, Category: model.SyncMetadata, Direction: model.SyncUpload, DryRun: true,
	})
	if err != nil {
		t.Fatalf("ошибка пробного запуска: %v", err)
	}
	if plan.Status != model.SyncDryRun || len(plan.ToCopy) != 4 {
		t.Errorf("некорректный план: %+v", plan)
	}
	if exists(t, f.metadata, "MTBLS1") {
		t.Error("пробный запуск изменил приёмник")
	}
	if pending, _ := f.journal.Pending(); len(pending) != 0 {
		t.Error("пробный запуск не должен записываться в журнал")
	}
}

// TestSync_Data проверяет отбор файлов данных.
func TestSync_Data(t *testing.T) {
	f := newFixture(t)

	if _, err := f.sync(t, model.SyncData, model.SyncUpload); err != nil {
		t.Fatalf("ошибка синхронизации: %v", err)
	}
	for _, rel := range []string{"RAW_FILES/r1.raw", "DERIVED_FILES/d1.mzML", "README.txt"} {
		if !exists(t, f.data, "MTBLS1/"+rel) {
			t.Errorf("файл данных %s не перенесён", rel)
		}
	}
	for _, rel := range []string{"i_Investigation.txt", ".DS_Store", "__MACOSX", "internal"} {
		if exists(t, f.data, "MTBLS1/"+rel) {
			t.Errorf("%s не должен переноситься в область данных", rel)
		}
	}
}

// TestSync_InternalKeepsServerFiles проверяет, что файлы сервера не удаляются и не перезаписываются.
func TestSync_InternalKeepsServerFiles(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.metadata, "MTBLS1/internal/validation_report.json", `{"status":"error"}`)

	if _, err := f.sync(t, model.SyncInternal, model.SyncUpload); err != nil {
		t.Fatalf("ошибка синхронизации: %v", err)
	}
	if !exists(t, f.metadata, "MTBLS1/internal/notes.json") {
		t.Error("internal/notes.json не перенесён")
	}
	if !exists(t, f.metadata, "MTBLS1/internal/validation_report.json") {
		t.Error("отчёт проверки удалён синхронизацией")
	}
	if exists(t, f.metadata, "MTBLS1/internal/metexplore_mapping.json") {
		t.Error("файл сопоставления из списка исключений перенесён")
	}
}

// TestSync_MetadataDownload проверяет выгрузку метаданных на FTP.
func TestSync_MetadataDownload(t *testing.T) {
	f := newFixture(t)
	if _, err := f.sync(t, model.SyncMetadata, model.SyncUpload); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.metadata, "MTBLS1/s_MTBLS1.txt", "Sample Name\nS1\nS2\nS3\n")

	plan, err := f.sync(t, model.SyncMetadata, model.SyncDownload)
	if err != nil {
		t.Fatalf("ошибка выгрузки: %v", err)
	}
	if len(plan.ToUpdate) != 1 {
		t.Errorf("ожидалось обновление одного файла, получено %v", plan.ToUpdate)
	}
	data, _ := os.ReadFile(filepath.Join(f.ftp.Root(), f.folder, "s_MTBLS1.txt"))
	if string(data) != "Sample Name\nS1\nS2\nS3\n" {
		t.Errorf("файл на FTP не обновлён: %q", data)
	}
	if !exists(t, f.ftp, f.folder+"/README.txt") {
		t.Error("выгрузка метаданных не должна удалять файлы FTP")
	}
}

// TestSync_Errors проверяет отказы до начала изменений.
func TestSync_Errors(t *testing.T) {
	t.Run("выгрузка данных не поддерживается", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sync(t, model.SyncData, model.SyncDownload)
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("ожидалась ErrUnsupported, получено %v", err)
		}
	})

	t.Run("папка только для чтения", func(t *testing.T) {
		f := newFixture(t)
		if err := f.ftp.SetACL(context.Background(), f.folder, model.ACLAuthorizedRead); err != nil {
			t.Fatal(err)
		}
		_, err := f.sync(t, model.SyncMetadata, model.SyncUpload)
		if !errors.Is(err, ErrReadOnlyFolder) {
			t.Errorf("ожидалась ErrReadOnlyFolder, получено %v", err)
		}
		if exists(t, f.metadata, "MTBLS1") {
			t.Error("приёмник изменён при отказе")
		}
	})

	t.Run("нет investigation", func(t *testing.T) {
		f := newFixture(t)
		if err := os.Remove(filepath.Join(f.ftp.Root(), f.folder, "i_Investigation.txt")); err != nil {
			t.Fatal(err)
		}
		_, err := f.sync(t, model.SyncMetadata, model.SyncUpload)
		if !errors.Is(err, ErrNoInvestigation) {
			t.Errorf("ожидалась ErrNoInvestigation, получено %v", err)
		}
	})

	t.Run("нет папки FTP", func(t *testing.T) {
		f := newFixture(t)
		other := &model.Study{Accession: "MTBLS2", ObfuscationCode: "none"}
		_, err := f.engine.Sync(context.Background(), Request{Study: other, Category: model.SyncData})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})
}

// TestSync_Conflict проверяет отказ второй синхронизации того же исследования.
func TestSync_Conflict(t *testing.T) {
	f := newFixture(t)

	release, err := f.locks.TryLock(f.study.Accession)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.sync(t, model.SyncData, model.SyncUpload)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получено %v", err)
	}
	if exists(t, f.data, "MTBLS1") {
		t.Error("приёмник изменён при конфликте")
	}
	release()

	if _, err := f.sync(t, model.SyncData, model.SyncUpload); err != nil {
		t.Fatalf("после освобождения блокировки синхронизация должна пройти: %v", err)
	}
}

// TestSync_Concurrent проверяет, что из двух одновременных запусков ровно
// один изменяет приёмник, а второй получает конфликт или не находит изменений.
func TestSync_Concurrent(t *testing.T) {
	f := newFixture(t)

	type result struct {
		plan *model.SyncPlan
		err  error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			p, err := f.engine.Sync(context.Background(), Request{Study: f.study, Category: model.SyncData})
			results <- result{p, err}
		}()
	}

	applied, conflicts, noops := 0, 0, 0
	for range 2 {
		r := <-results
		switch {
		case errors.Is(r.err, ErrConflict):
			conflicts++
		case r.err != nil:
			t.Fatalf("неожиданная ошибка: %v", r.err)
		case r.plan.Applied == 0:
			noops++
		default:
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("ожидался ровно один запуск с операциями, получено %d", applied)
	}
	if conflicts+noops != 1 {
		t.Errorf("второй запуск должен получить конфликт или не найти изменений")
	}
}

// TestSync_Canceled проверяет статус failed при отмене контекста.
func TestSync_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan, err := f.engine.Sync(ctx, Request{Study: f.study, Category: model.SyncData})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась context.Canceled, получено %v", err)
	}
	if plan == nil || plan.Status != model.SyncFailed {
		t.Fatalf("ожидался план со статусом failed, получено %+v", plan)
	}

	status, ok := f.engine.Status(f.study.Accession, model.SyncData)
	if !ok || status.Status != model.SyncFailed {
		t.Errorf("Status: ожидался failed, получено %+v", status)
	}
	entry, err := f.journal.Get(plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != journal.StatusFailed {
		t.Errorf("запись журнала: ожидался failed, получен %s", entry.Status)
	}
	if f.locks.Len() != 0 {
		t.Error("блокировка исследования не освобождена")
	}
}

// TestRecover проверяет обработку прерванного запуска при старте.
func TestRecover(t *testing.T) {
	f := newFixture(t)
	entry, err := f.journal.Begin("MTBLS1", "metadata", "upload", "study_area:MTBLS1")
	if err != nil {
		t.Fatal(err)
	}
	tmp := "MTBLS1/.s_MTBLS1.txt.1234abcd" + storage.TempSuffix
	writeFile(t, f.metadata, tmp, "partial")

	n, err := f.engine.Recover(context.Background())
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if n != 1 {
		t.Errorf("ожидался 1 прерванный запуск, получено %d", n)
	}
	if exists(t, f.metadata, tmp) {
		t.Error("временный файл прерванной записи не удалён")
	}
	got, _ := f.journal.Get(entry.RunID)
	if got.Status != journal.StatusFailed {
		t.Errorf("ожидался статус failed, получен %s", got.Status)
	}
	status, ok := f.engine.Status("MTBLS1", model.SyncMetadata)
	if !ok || status.Status != model.SyncFailed {
		t.Errorf("Status: ожидался failed, получено %+v", status)
	}

	// После восстановления план вычисляется по текущему дереву
	plan, err := f.sync(t, model.SyncMetadata, model.SyncUpload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Applied != 4 {
		t.Errorf("ожидалось 4 операции после восстановления, получено %d", plan.Applied)
	}
}
