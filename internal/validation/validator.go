// Пакет validation — валидатор исследования.
//
// Валидатор выполняет проверки по секциям (basic, isa-tab, publication,
// person, protocols, samples, files, assays, maf) против набора правил,
// ISA-метаданных, множества ссылок и дерева файлов исследования.
// Нарушения содержимого никогда не возвращаются ошибкой: каждое из них
// становится деталью отчёта со стабильным идентификатором.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
	"github.com/bigkaa/metabostore/internal/storage/fileindex"
	"github.com/bigkaa/metabostore/internal/storage/walker"
)

// Имена файлов результатов во внутренней области исследования.
const (
	ReportFileName   = "validation_report.json"
	InternalFolder   = "internal"
	dateLayout       = "2006-01-02"
	defaultIgnoreSet = ".DS_Store,Thumbs.db,desktop.ini"
)

// PersistedFiles возвращает пути файлов результатов относительно studyDir.
// Пустой internalDir — <studyDir>/internal. Внутренняя область вне
// studyDir даёт пустой список.
func PersistedFiles(studyDir, internalDir string) []string {
	rel := InternalFolder
	if internalDir != "" {
		r, err := filepath.Rel(studyDir, internalDir)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return nil
		}
		rel = filepath.ToSlash(r)
	}
	return []string{path.Join(rel, fileindex.FileName), path.Join(rel, ReportFileName)}
}

// ErrPersist — результаты валидации не удалось сохранить.
var ErrPersist = errors.New("ошибка сохранения результатов валидации")

// Prometheus-метрики валидатора.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_validation_runs_total",
		Help: "Количество запусков валидации по итоговому статусу.",
	}, []string{"status"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metabostore_validation_duration_seconds",
		Help:    "Длительность валидации исследования.",
		Buckets: prometheus.DefBuckets,
	})
)

// Options — параметры валидатора.
type Options struct {
	// Classifier — классификатор файлов (nil — значения по умолчанию)
	Classifier *classifier.Classifier
	// SkipFolderNames — каталоги, пропускаемые обходом
	SkipFolderNames []string
	// IgnoreFiles — файлы, не проверяемые на пустоту
	IgnoreFiles []string
	// ListTimeout — дедлайн обхода дерева файлов
	ListTimeout time.Duration
	// InvestigationFile — имя investigation-файла
	InvestigationFile string
	// Schemas — загрузчик набора правил (nil — встроенный набор)
	Schemas *SchemaLoader
	// Now — источник времени (для тестов)
	Now func() time.Time
}

// Input — параметры одного запуска.
type Input struct {
	// Study — запись исследования из базы: accession, дата публикации,
	// записи и комментарии куратора
	Study *model.Study
	// StudyDir — каталог метаданных исследования (<metadata-root>/<acc>)
	StudyDir string
	// DataDir — каталог read-only данных исследования (опционально)
	DataDir string
	// InternalDir — внутренняя область (по умолчанию <StudyDir>/internal)
	InternalDir string
	// Filter — фильтр секций
	Filter Filter
	// Log — фильтр деталей возвращаемого отчёта
	Log LogFilter
	// FileIndexPath — путь к заранее построенному индексу файлов (опционально)
	FileIndexPath string
}

// Validator — валидатор исследований. Безопасен для конкурентного использования.
type Validator struct {
	opts   Options
	ignore map[string]bool
	logger *slog.Logger
}

// New создаёт валидатор.
func New(opts Options, logger *slog.Logger) *Validator {
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(classifier.Options{
			RawExtensions:        []string{".raw", ".d", ".wiff", ".fid", ".cdf"},
			DerivedExtensions:    []string{".mzml", ".nmrml", ".mzxml"},
			CompressedExtensions: []string{".zip", ".gz", ".tar", ".7z", ".rar"},
			StopFolderExtensions: []string{".raw", ".d", ".fid"},
		})
	}
	if opts.Schemas == nil {
		opts.Schemas = NewSchemaLoader("", 0, logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IgnoreFiles == nil {
		opts.IgnoreFiles = strings.Split(defaultIgnoreSet, ",")
	}
	ignore := make(map[string]bool, len(opts.IgnoreFiles))
	for _, n := range opts.IgnoreFiles {
		ignore[n] = true
	}
	return &Validator{
		opts:   opts,
		ignore: ignore,
		logger: logger.With(slog.String("component", "validator")),
	}
}

// studyContext — всё, что секции знают об исследовании.
type studyContext struct {
	accession  string
	dbRelease  time.Time
	schema     *Schema
	bundle     *isatab.Bundle
	loadErr    error
	study      *isatab.Study
	refs       model.ReferenceSet
	files      *fileindex.Index
	technology string
	classifier *classifier.Classifier
	ignore     map[string]bool
}

// sectionRunners — проверки секций.
var sectionRunners = map[string]func(*studyContext) *collector{
	SectionBasic:       checkBasic,
	SectionISATab:      checkISATab,
	SectionPublication: checkPublications,
	SectionPerson:      checkPersons,
	SectionProtocols:   checkProtocols,
	SectionSamples:     checkSamples,
	SectionFiles:       checkFiles,
	SectionAssays:      checkAssays,
	SectionMAF:         checkMAF,
}

// Validate выполняет валидацию и сохраняет индекс файлов и полный отчёт
// во внутреннюю область исследования. Возвращает отчёт, отфильтрованный
// по in.Log. Ошибка возвращается только при недоступности набора правил,
// отмене контекста или сбое записи результатов.
func (v *Validator) Validate(ctx context.Context, in Input) (*Report, error) {
	start := time.Now()
	if in.Study == nil || in.Study.Accession == "" {
		return nil, errors.New("не задан accession исследования")
	}
	if in.Filter == "" {
		in.Filter = FilterAll
	}
	sections := in.Filter.Sections()
	if sections == nil {
		return nil, fmt.Errorf("неизвестный фильтр секций %q", in.Filter)
	}

	schema, err := v.opts.Schemas.Load(ctx)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	sc, err := v.prepare(ctx, in, schema)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	report := &Report{
		Study:       in.Study.Accession,
		GeneratedAt: v.opts.Now().UTC(),
	}
	for _, name := range sections {
		if err := ctx.Err(); err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		c := sectionRunners[name](sc)
		details := c.details
		if details == nil {
			details = []Detail{}
		}
		report.Sections = append(report.Sections, Section{Name: name, Details: details})
	}

	ApplyOverrides(report, ParseNotes(in.Study.CuratorOverrides))
	ApplyComments(report, ParseNotes(in.Study.CuratorComments))

	internal := in.InternalDir
	if internal == "" {
		internal = filepath.Join(in.StudyDir, InternalFolder)
	}
	if err := sc.files.Save(filepath.Join(internal, fileindex.FileName)); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := atomicfile.WriteJSON(filepath.Join(internal, ReportFileName), report); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	runsTotal.WithLabelValues(string(report.Status)).Inc()
	runDuration.Observe(time.Since(start).Seconds())
	v.logger.Info("Валидация завершена",
		slog.String("study_id", in.Study.Accession),
		slog.String("filter", string(in.Filter)),
		slog.String("status", string(report.Status)),
		slog.Int("errors", report.Count(StatusError)),
		slog.Int("warnings", report.Count(StatusWarning)),
		slog.Duration("duration", time.Since(start)),
	)
	return report.filtered(in.Log), nil
}

// prepare загружает метаданные, вычисляет ссылки и строит индекс файлов.
func (v *Validator) prepare(ctx context.Context, in Input, schema *Schema) (*studyContext, error) {
	sc := &studyContext{
		accession:  in.Study.Accession,
		dbRelease:  in.Study.ReleaseDate,
		schema:     schema,
		classifier: v.opts.Classifier,
		ignore:     v.ignore,
	}

	sc.bundle, sc.loadErr = isatab.Load(in.StudyDir, isatab.LoadOptions{FileName: v.opts.InvestigationFile})
	if sc.loadErr == nil {
		sc.study = sc.bundle.Investigation.Study()
	} else {
		v.logger.Debug("Investigation не загружен",
			slog.String("study_id", sc.accession),
			slog.String("error", sc.loadErr.Error()),
		)
	}
	sc.refs = isatab.References(sc.bundle)

	if in.FileIndexPath != "" {
		idx, err := fileindex.Load(in.FileIndexPath, v.logger)
		if err != nil {
			return nil, err
		}
		sc.files = idx
	} else {
		w := walker.New(walker.Options{
			SkipFolderNames: v.opts.SkipFolderNames,
			ListAllFiles:    true,
			Timeout:         v.opts.ListTimeout,
			Classifier:      v.opts.Classifier,
			References:      sc.refs,
			SkipFiles:       PersistedFiles(in.StudyDir, in.InternalDir),
		}, v.logger)
		sc.files = fileindex.New(sc.accession, v.logger)
		sc.files.Build(ctx, w, in.StudyDir)
		if in.DataDir != "" {
			sc.files.Merge(w.Walk(ctx, in.DataDir).Collect())
		}
	}

	sc.technology = detectTechnology(sc.study)
	return sc, nil
}

// detectTechnology определяет технологию по типу технологии assay,
// затем по имени assay-файла.
func detectTechnology(st *isatab.Study) string {
	if st == nil {
		return ""
	}
	for _, a := range st.Assays {
		term := strings.ToLower(a.TechnologyType.Term)
		switch {
		case strings.Contains(term, "nmr"):
			return TechnologyNMR
		case strings.Contains(term, "mass spectrometry"):
			return TechnologyMS
		}
	}
	for _, a := range st.Assays {
		name := strings.ToUpper(a.FileName)
		switch {
		case strings.Contains(name, "_NMR"):
			return TechnologyNMR
		case strings.Contains(name, "-MS"), strings.Contains(name, "_MS"):
			return TechnologyMS
		}
	}
	return ""
}
