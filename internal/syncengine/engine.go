// Пакет syncengine — односторонняя синхронизация каталогов исследования
// между приватным FTP и областью исследования.
//
// Категории: metadata (ISA-файлы в корне папки), data (файлы данных) и
// internal (каталог internal). Upload переносит FTP → область исследования,
// download — область исследования → FTP (только metadata). Каждый
// изменяющий запуск берёт монопольную блокировку исследования без
// ожидания и записывается в журнал; после прерывания план вычисляется
// заново по текущему дереву.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
	"github.com/bigkaa/metabostore/internal/storage/fileindex"
	"github.com/bigkaa/metabostore/internal/storage/journal"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/validation"
)

// Ошибки синхронизации.
var (
	// ErrConflict — по исследованию уже выполняется изменяющая операция.
	ErrConflict = errors.New("синхронизация исследования уже выполняется")
	// ErrReadOnlyFolder — папка FTP закрыта для загрузки (AUTHORIZED_READ).
	ErrReadOnlyFolder = errors.New("папка FTP доступна только для чтения")
	// ErrUnsupported — сочетание категории и направления не поддерживается.
	ErrUnsupported = errors.New("синхронизация не поддерживается")
	// ErrNoInvestigation — в источнике нет файла investigation.
	ErrNoInvestigation = errors.New("в источнике нет файла investigation")
)

// InternalFolder — каталог внутренних файлов исследования.
const InternalFolder = "internal"

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_sync_runs_total",
		Help: "Количество запусков синхронизации",
	}, []string{"category", "direction", "status"})

	syncFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_sync_files_total",
		Help: "Количество файловых операций синхронизации",
	}, []string{"category", "op"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metabostore_sync_duration_seconds",
		Help:    "Длительность синхронизации",
		Buckets: prometheus.DefBuckets,
	}, []string{"category"})
)

// Stores — хранилища, между которыми работает движок. Движок их не закрывает.
type Stores struct {
	// FTP — приватная область загрузки
	FTP *storage.PrivateFTP
	// Metadata — область метаданных: <acc>/i_Investigation.txt, <acc>/internal
	Metadata storage.Storage
	// Data — read-only область данных: <acc>/...
	Data storage.Storage
}

// Options — параметры движка.
type Options struct {
	// Ignore — имена, исключаемые с обеих сторон (служебные файлы, файлы сопоставления)
	Ignore []string
	// SkipFolderNames — каталоги, не переносимые в категории data
	SkipFolderNames []string
	// InvestigationFile — имя файла investigation
	InvestigationFile string
	// Now — источник времени (для тестов)
	Now func() time.Time
}

// Request — запрос синхронизации.
type Request struct {
	Study     *model.Study
	Category  model.SyncCategory
	Direction model.SyncDirection
	// DryRun — вернуть план без изменения приёмника
	DryRun bool
}

// tempCleaner — хранилище, умеющее удалять временные файлы прерванной записи.
type tempCleaner interface {
	CleanTemp(ctx context.Context, rel string) (int, error)
}

// Engine — движок синхронизации.
type Engine struct {
	stores  Stores
	locks   *studylock.Registry
	journal *journal.Journal
	opts    Options
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]*model.SyncPlan
}

// New создаёт движок синхронизации.
func New(stores Stores, locks *studylock.Registry, j *journal.Journal, opts Options, logger *slog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InvestigationFile == "" {
		opts.InvestigationFile = "i_Investigation.txt"
	}
	return &Engine{
		stores:  stores,
		locks:   locks,
		journal: j,
		opts:    opts,
		logger:  logger.With(slog.String("component", "sync_engine")),
		last:    make(map[string]*model.SyncPlan),
	}
}

// route — источник, приёмник и правила одной синхронизации.
type route struct {
	src, dst       storage.Storage
	srcRel, dstRel string
	mirror         storage.MirrorOptions
}

func (r route) target() string {
	return r.dst.Name() + ":" + r.dstRel
}

// resolve строит маршрут для категории и направления.
func (e *Engine) resolve(req Request) (route, error) {
	acc := req.Study.Accession
	folder := e.stores.FTP.Folder(req.Study)
	ftp := e.stores.FTP.Storage()
	ignore := append([]string(nil), e.opts.Ignore...)

	var r route
	switch req.Category {
	case model.SyncMetadata:
		r = route{src: ftp, srcRel: folder, dst: e.stores.Metadata, dstRel: acc}
		r.mirror = storage.MirrorOptions{Filter: isRootMetadata}
	case model.SyncData:
		r = route{src: ftp, srcRel: folder, dst: e.stores.Data, dstRel: acc}
		r.mirror = storage.MirrorOptions{Delete: true, Filter: e.dataFilter}
	case model.SyncInternal:
		r = route{
			src: ftp, srcRel: path.Join(folder, InternalFolder),
			dst: e.stores.Metadata, dstRel: path.Join(acc, InternalFolder),
		}
		// Результаты проверки и индекс файлов формируются на сервере
		ignore = append(ignore, validation.ReportFileName, fileindex.FileName)
		r.mirror = storage.MirrorOptions{Checksum: true}
	default:
		return route{}, fmt.Errorf("%w: категория %q", ErrUnsupported, req.Category)
	}

	switch req.Direction {
	case model.SyncUpload, "":
		if req.Category == model.SyncMetadata {
			r.mirror.Delete = true
		}
	case model.SyncDownload:
		if req.Category != model.SyncMetadata {
			return route{}, fmt.Errorf("%w: %s в направлении %s", ErrUnsupported, req.Category, req.Direction)
		}
		r.src, r.dst = r.dst, r.src
		r.srcRel, r.dstRel = r.dstRel, r.srcRel
	default:
		return route{}, fmt.Errorf("%w: направление %q", ErrUnsupported, req.Direction)
	}
	r.mirror.Ignore = ignore
	return r, nil
}

// isRootMetadata отбирает ISA-файлы в корне папки исследования.
func isRootMetadata(en storage.Entry) bool {
	if en.IsDir || strings.Contains(en.Path, "/") {
		return false
	}
	_, ok := classifier.MetadataKind(en.Path)
	return ok
}

// dataFilter исключает ISA-файлы корня, каталоги internal/audit и
// пропускаемые каталоги.
func (e *Engine) dataFilter(en storage.Entry) bool {
	if !strings.Contains(en.Path, "/") {
		if en.IsDir && (en.Path == InternalFolder || en.Path == "audit") {
			return false
		}
		if !en.IsDir {
			if _, ok := classifier.MetadataKind(en.Path); ok {
				return false
			}
		}
	}
	if en.IsDir {
		base := path.Base(en.Path)
		for _, n := range e.opts.SkipFolderNames {
			if base == n {
				return false
			}
		}
	}
	return true
}

// Sync выполняет (или при DryRun только вычисляет) синхронизацию.
// Повторный запуск без изменений в источнике не выполняет файловых операций.
func (e *Engine) Sync(ctx context.Context, req Request) (*model.SyncPlan, error) {
	if req.Study == nil {
		return nil, fmt.Errorf("%w: исследование не задано", ErrUnsupported)
	}
	if req.Direction == "" {
		req.Direction = model.SyncUpload
	}
	r, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	log := e.logger.With(
		slog.String("study_id", req.Study.Accession),
		slog.String("category", string(req.Category)),
		slog.String("direction", string(req.Direction)),
	)

	plan := &model.SyncPlan{
		ID:        uuid.New().String(),
		StudyID:   req.Study.Accession,
		Source:    r.src.Name() + ":" + r.srcRel,
		Target:    r.target(),
		Category:  req.Category,
		Direction: req.Direction,
		StartedAt: e.opts.Now().UTC(),
	}

	if req.DryRun {
		release, err := e.locks.RLock(ctx, req.Study.Accession)
		if err != nil {
			return nil, err
		}
		defer release()
		if err := checkSource(ctx, r); err != nil {
			return nil, err
		}
		r.mirror.DryRun = true
		computed, err := storage.Mirror(ctx, r.src, r.srcRel, r.dst, r.dstRel, r.mirror)
		if err != nil {
			return nil, err
		}
		fillPlan(plan, computed)
		plan.Status = model.SyncDryRun
		return plan, nil
	}

	release, err := e.locks.TryLock(req.Study.Accession)
	if err != nil {
		if errors.Is(err, studylock.ErrLocked) {
			syncRuns.WithLabelValues(string(req.Category), string(req.Direction), "conflict").Inc()
			return nil, fmt.Errorf("%w: %s", ErrConflict, req.Study.Accession)
		}
		return nil, err
	}
	defer release()

	if err := e.checkPreconditions(ctx, req, r); err != nil {
		return nil, err
	}

	entry, err := e.journal.Begin(req.Study.Accession, string(req.Category), string(req.Direction), r.target())
	if err != nil {
		return nil, err
	}
	plan.ID = entry.RunID
	plan.Status = model.SyncRunning
	e.remember(plan)

	applied := 0
	r.mirror.OnChange = func(op, _ string) {
		applied++
		syncFiles.WithLabelValues(string(req.Category), op).Inc()
	}
	computed, runErr := storage.Mirror(ctx, r.src, r.srcRel, r.dst, r.dstRel, r.mirror)
	fillPlan(plan, computed)
	plan.Applied = applied
	now := e.opts.Now().UTC()
	plan.CompletedAt = &now
	syncDuration.WithLabelValues(string(req.Category)).Observe(now.Sub(plan.StartedAt).Seconds())

	if runErr != nil {
		plan.Status = model.SyncFailed
		plan.Error = runErr.Error()
		if err := e.journal.Fail(entry.RunID, applied, runErr); err != nil {
			log.Error("не удалось записать ошибку в журнал", slog.String("error", err.Error()))
		}
		e.cleanTemp(r)
		e.remember(plan)
		syncRuns.WithLabelValues(string(req.Category), string(req.Direction), string(model.SyncFailed)).Inc()
		log.Warn("синхронизация завершилась ошибкой",
			slog.Int("applied", applied),
			slog.String("error", runErr.Error()),
		)
		return plan, fmt.Errorf("синхронизация %s/%s: %w", req.Study.Accession, req.Category, runErr)
	}

	if err := e.journal.Commit(entry.RunID, applied); err != nil {
		log.Error("не удалось завершить запись журнала", slog.String("error", err.Error()))
	}
	plan.Status = model.SyncCompleted
	e.remember(plan)
	syncRuns.WithLabelValues(string(req.Category), string(req.Direction), string(model.SyncCompleted)).Inc()
	log.Info("синхронизация завершена",
		slog.Int("copied", len(plan.ToCopy)),
		slog.Int("updated", len(plan.ToUpdate)),
		slog.Int("deleted", len(plan.ToDelete)),
		slog.Int("applied", applied),
	)
	return plan, nil
}

// checkPreconditions проверяет источник, ACL папки FTP и наличие investigation.
func (e *Engine) checkPreconditions(ctx context.Context, req Request, r route) error {
	if err := checkSource(ctx, r); err != nil {
		return err
	}
	if req.Direction == model.SyncUpload {
		acl, err := e.stores.FTP.StudyACL(ctx, req.Study)
		if err != nil {
			return fmt.Errorf("чтение ACL папки FTP: %w", err)
		}
		if acl == model.ACLAuthorizedRead {
			return fmt.Errorf("%w: %s", ErrReadOnlyFolder, req.Study.Accession)
		}
	}
	if req.Category == model.SyncMetadata {
		ok, err := r.src.Exists(ctx, path.Join(r.srcRel, e.opts.InvestigationFile))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoInvestigation, r.src.Name()+":"+r.srcRel)
		}
	}
	return nil
}

// checkSource проверяет существование каталога источника.
func checkSource(ctx context.Context, r route) error {
	ok, err := r.src.Exists(ctx, r.srcRel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s:%s", storage.ErrNotFound, r.src.Name(), r.srcRel)
	}
	return nil
}

// cleanTemp удаляет временные файлы, оставшиеся в приёмнике.
func (e *Engine) cleanTemp(r route) {
	c, ok := r.dst.(tempCleaner)
	if !ok {
		return
	}
	if n, err := c.CleanTemp(context.Background(), r.dstRel); err != nil {
		e.logger.Warn("не удалось удалить временные файлы",
			slog.String("target", r.target()),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		e.logger.Info("временные файлы удалены", slog.String("target", r.target()), slog.Int("count", n))
	}
}

// Recover помечает прерванные запуски как failed и удаляет временные
// файлы в их приёмниках. Вызывается при старте до приёма запросов.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	pending, err := e.journal.RecoverPending()
	if err != nil {
		return 0, fmt.Errorf("восстановление журнала синхронизации: %w", err)
	}
	stores := map[string]storage.Storage{
		e.stores.FTP.Storage().Name(): e.stores.FTP.Storage(),
		e.stores.Metadata.Name():      e.stores.Metadata,
		e.stores.Data.Name():          e.stores.Data,
	}
	for _, p := range pending {
		name, rel, _ := strings.Cut(p.Target, ":")
		dst, ok := stores[name]
		if !ok {
			continue
		}
		if c, ok := dst.(tempCleaner); ok {
			if _, err := c.CleanTemp(ctx, rel); err != nil {
				e.logger.Warn("не удалось удалить временные файлы",
					slog.String("run_id", p.RunID),
					slog.String("error", err.Error()),
				)
			}
		}
		e.remember(&model.SyncPlan{
			ID:        p.RunID,
			StudyID:   p.StudyID,
			Target:    p.Target,
			Category:  model.SyncCategory(p.Category),
			Direction: model.SyncDirection(p.Direction),
			Status:    model.SyncFailed,
			Applied:   p.Applied,
			StartedAt: p.StartedAt,
			Error:     "прервано перезапуском",
		})
	}
	return len(pending), nil
}

// Status возвращает последний запуск по исследованию и категории.
func (e *Engine) Status(studyID string, category model.SyncCategory) (*model.SyncPlan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.last[statusKey(studyID, category)]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (e *Engine) remember(p *model.SyncPlan) {
	cp := *p
	e.mu.Lock()
	e.last[statusKey(p.StudyID, p.Category)] = &cp
	e.mu.Unlock()
}

func statusKey(studyID string, category model.SyncCategory) string {
	return studyID + "/" + string(category)
}

func fillPlan(dst *model.SyncPlan, src *storage.Plan) {
	if src == nil {
		return
	}
	dst.ToCopy = append(append([]string(nil), src.Dirs...), src.ToCopy...)
	dst.ToUpdate = src.ToUpdate
	dst.ToDelete = src.ToDelete
}
