// Пакет pipeline — конвейер приёма данных партнёра Metabolon: проверка
// входных файлов, проверка mzML по XSD, разбиение на партии, конвертация
// mzML→ISA внешней программой, слияние результатов и создание
// канонических ISA-файлов исследования.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/storage/walker"
)

// Этапы конвейера и их статусы.
const (
	PhaseInputCheck     = "Input File check"
	PhaseMzMLValidation = "mzML validation"
	PhaseConversion     = "mzML2ISA conversion"
	PhaseISACreation    = "ISA file creation"

	StatusSuccessful = "Successful"
	StatusFailed     = "Failed"
)

// WorkDir — рабочий каталог конвейера относительно каталога исследования.
const WorkDir = "internal/metabolon_pipeline"

// replacedDir — каталог в WorkDir для метаданных, заменённых запуском.
const replacedDir = "replaced"

// DefaultLimit — число параллельных проверок mzML по умолчанию.
const DefaultLimit = 4

var (
	// ErrPhase — этап конвейера завершился с ошибкой.
	ErrPhase = errors.New("этап конвейера завершился с ошибкой")
	// ErrInvalidMzML — среди mzML есть недопустимые файлы.
	ErrInvalidMzML = errors.New("недопустимые файлы mzML")
)

var (
	pipelinePhases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metabostore_pipeline_phases_total",
		Help: "Количество завершённых этапов конвейера Metabolon",
	}, []string{"phase", "status"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "metabostore_pipeline_duration_seconds",
		Help:    "Длительность запуска конвейера Metabolon",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	pipelineMzMLChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metabostore_pipeline_mzml_checked_total",
		Help: "Количество mzML, проверенных по XSD (без попаданий в кэш)",
	})
)

// ReleaseDateUpdater сохраняет даты, записанные в новый investigation.
type ReleaseDateUpdater func(ctx context.Context, study string, submission, release time.Time) error

// Options — параметры конвейера.
type Options struct {
	// SchemaPath — XSD mzML (пусто — встроенная схема)
	SchemaPath string
	// InvestigationTemplatePath — шаблон investigation (пусто — встроенный)
	InvestigationTemplatePath string
	// InvestigationFile — имя создаваемого investigation-файла
	InvestigationFile string
	// SkipFolderNames — каталоги, не просматриваемые при поиске входных файлов
	SkipFolderNames []string
	// Limit — число параллельных проверок mzML
	Limit     int
	Converter Converter
	Notifier  Notifier
	// OnRelease вызывается после записи investigation (может быть nil)
	OnRelease ReleaseDateUpdater
	Now       func() time.Time
}

// Request — запуск конвейера для исследования.
type Request struct {
	Study string
	// StudyDir — каталог метаданных исследования (сюда пишутся ISA-файлы)
	StudyDir string
	// DataDir — каталог файлов данных (может быть пустым)
	DataDir string
	// Notify — адреса получателей уведомления
	Notify []string
}

// PhaseResult — итог этапа.
type PhaseResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Result — итог запуска.
type Result struct {
	Study          string        `json:"study"`
	Phases         []PhaseResult `json:"phases"`
	Invalid        []MzMLResult  `json:"invalid_mzml,omitempty"`
	Batches        []string      `json:"batches,omitempty"`
	Files          []string      `json:"files,omitempty"`
	SubmissionDate string        `json:"submission_date,omitempty"`
	ReleaseDate    string        `json:"release_date,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// OK сообщает, что все этапы успешны.
func (r *Result) OK() bool {
	if len(r.Phases) == 0 {
		return false
	}
	for _, p := range r.Phases {
		if p.Status != StatusSuccessful {
			return false
		}
	}
	return true
}

// Summary возвращает итог в виде "этап → Successful | Failed: причина".
func (r *Result) Summary() map[string]string {
	out := make(map[string]string, len(r.Phases))
	for _, p := range r.Phases {
		v := p.Status
		if p.Reason != "" {
			v += ": " + p.Reason
		}
		out[p.Name] = v
	}
	return out
}

// Pipeline — конвейер Metabolon.
type Pipeline struct {
	schema     *MzMLSchema
	template   []byte
	annotation []string
	opts       Options
	walker     *walker.Walker
	logger     *slog.Logger
}

// New создаёт конвейер: загружает XSD и шаблоны.
func New(opts Options, logger *slog.Logger) (*Pipeline, error) {
	if opts.Converter == nil {
		return nil, errors.New("конвертер mzML→ISA не задан")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.InvestigationFile == "" {
		opts.InvestigationFile = isatab.DefaultInvestigationFile
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With(slog.String("component", "pipeline"))
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}

	schema, err := LoadMzMLSchema(opts.SchemaPath)
	if err != nil {
		return nil, err
	}
	template := defaultInvestigationTemplate
	if opts.InvestigationTemplatePath != "" {
		if template, err = os.ReadFile(opts.InvestigationTemplatePath); err != nil {
			return nil, fmt.Errorf("чтение шаблона investigation: %w", err)
		}
	}
	if _, err := buildInvestigation(template, "CHECK", nil, opts.Now()); err != nil {
		return nil, err
	}
	annotation, err := parseAnnotationTemplate(defaultAnnotationTemplate)
	if err != nil {
		return nil, fmt.Errorf("шаблон аннотаций: %w", err)
	}

	return &Pipeline{
		schema:     schema,
		template:   template,
		annotation: annotation,
		opts:       opts,
		walker:     walker.New(walker.Options{SkipFolderNames: opts.SkipFolderNames}, logger),
		logger:     logger,
	}, nil
}

// run — состояние одного запуска.
type run struct {
	req     Request
	res     *Result
	workDir string
	in      *inputSet
	batches []Batch
	samples *isatab.Table
	assays  *isatab.Table
}

// Run выполняет конвейер. Ошибка этапа прекращает запуск; результат
// возвращается и в этом случае.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := p.opts.Now()
	r := &run{
		req:     req,
		res:     &Result{Study: req.Study, StartedAt: start.UTC()},
		workDir: filepath.Join(req.StudyDir, filepath.FromSlash(WorkDir)),
	}
	log := p.logger.With(slog.String("study", req.Study))
	log.Info("Запуск конвейера Metabolon")

	phases := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{PhaseInputCheck, p.checkInputs},
		{PhaseMzMLValidation, p.validate},
		{PhaseConversion, p.convert},
		{PhaseISACreation, p.createISA},
	}
	var runErr error
	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		err := ph.fn(ctx, r)
		pr := PhaseResult{Name: ph.name, Status: StatusSuccessful}
		if err != nil {
			pr.Status = StatusFailed
			pr.Reason = err.Error()
			runErr = fmt.Errorf("%w: %s: %w", ErrPhase, ph.name, err)
		}
		r.res.Phases = append(r.res.Phases, pr)
		pipelinePhases.WithLabelValues(ph.name, pr.Status).Inc()
		if err != nil {
			log.Warn("Этап конвейера завершился с ошибкой",
				slog.String("phase", ph.name),
				slog.String("error", err.Error()),
			)
			break
		}
		log.Debug("Этап конвейера выполнен", slog.String("phase", ph.name))
	}

	r.res.CompletedAt = p.opts.Now().UTC()
	pipelineDuration.Observe(r.res.CompletedAt.Sub(start).Seconds())
	if runErr != nil {
		return r.res, runErr
	}

	log.Info("Конвейер Metabolon завершён",
		slog.Int("batches", len(r.batches)),
		slog.Int("files", len(r.res.Files)),
	)
	if err := p.opts.Notifier.Notify(ctx, req, r.res); err != nil {
		log.Warn("Ошибка отправки уведомления", slog.String("error", err.Error()))
	}
	return r.res, nil
}

// collectFiles возвращает абсолютные пути файлов исследования и каталога
// данных. Рабочий каталог конвейера и каталог internal не просматриваются.
func (p *Pipeline) collectFiles(ctx context.Context, req Request) ([]string, error) {
	var out []string
	roots := []string{req.StudyDir}
	if req.DataDir != "" && req.DataDir != req.StudyDir {
		roots = append(roots, req.DataDir)
	}
	for _, root := range roots {
		listing := p.walker.Walk(ctx, root)
		for fd := range listing.All() {
			if fd.IsDir || strings.HasPrefix(fd.Path, "internal/") {
				continue
			}
			out = append(out, filepath.Join(root, filepath.FromSlash(fd.Path)))
		}
		if listing.Truncated() {
			return nil, fmt.Errorf("обход %s прерван: %s", root, strings.Join(listing.Warnings(), "; "))
		}
	}
	return out, nil
}

func (p *Pipeline) checkInputs(ctx context.Context, r *run) error {
	files, err := p.collectFiles(ctx, r.req)
	if err != nil {
		return err
	}
	in, err := checkInputs(files)
	if err != nil {
		return err
	}
	if len(in.mzml) == 0 {
		return fmt.Errorf("%w: не найдено ни одного файла mzML", ErrInput)
	}
	r.in = in
	return nil
}

func (p *Pipeline) validate(ctx context.Context, r *run) error {
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return fmt.Errorf("создание рабочего каталога: %w", err)
	}
	invalid, checked, err := validateMzML(ctx, p.schema, r.in.mzml,
		filepath.Join(r.workDir, ValidationCacheFile), p.opts.Limit, p.opts.Now)
	pipelineMzMLChecked.Add(float64(checked))
	if err != nil {
		return err
	}
	if len(invalid) > 0 {
		r.res.Invalid = invalid
		names := make([]string, 0, len(invalid))
		for _, f := range invalid {
			names = append(names, filepath.Base(f.Path))
		}
		return fmt.Errorf("%w: %s", ErrInvalidMzML, strings.Join(names, ", "))
	}
	return nil
}

func (p *Pipeline) convert(ctx context.Context, r *run) error {
	batches, err := makeBatches(r.workDir, r.in.mzml)
	if err != nil {
		return err
	}
	r.batches = batches

	var samples, assays []*isatab.Table
	for _, b := range batches {
		r.res.Batches = append(r.res.Batches, b.Name)
		if err := p.opts.Converter.Convert(ctx, b.Dir, r.req.Study); err != nil {
			return fmt.Errorf("партия %s: %w", b.Name, err)
		}
		s, a, err := readBatchTables(b.Dir)
		if err != nil {
			return fmt.Errorf("партия %s: %w", b.Name, err)
		}
		if len(s) == 0 || len(a) == 0 {
			return fmt.Errorf("%w: партия %s: конвертер не создал s_ и a_ файлы", ErrConversion, b.Name)
		}
		samples = append(samples, s...)
		assays = append(assays, a...)
	}
	r.samples = mergeTables(sampleFileName(r.req.Study), samples)
	r.assays = mergeTables("assays", assays)
	return nil
}

func (p *Pipeline) createISA(ctx context.Context, r *run) error {
	study := r.req.Study
	assays, err := deriveAssays(study, r.in, r.assays)
	if err != nil {
		return err
	}

	var tables []*isatab.Table
	clients := make(map[string]string)
	for _, m := range r.in.maps {
		maf, c, err := buildMAF(p.annotation, r.in.peaks[m.SampleID], mafFileName(study, m.SampleID))
		if err != nil {
			return err
		}
		for k, v := range c {
			clients[k] = v
		}
		tables = append(tables, maf)
	}
	samples, err := buildSamples(study, r.in, r.samples, clients)
	if err != nil {
		return err
	}
	tables = append(tables, samples)

	assayNames := make([]string, 0, len(assays))
	for _, a := range assays {
		assayNames = append(assayNames, a.FileName)
		tables = append(tables, a)
	}

	now := p.opts.Now()
	inv, err := buildInvestigation(p.template, study, assayNames, now)
	if err != nil {
		return err
	}

	keep := map[string]bool{}
	for _, t := range tables {
		keep[t.FileName] = true
	}
	if err := moveReplaced(r.req.StudyDir, filepath.Join(r.workDir, replacedDir), keep); err != nil {
		return err
	}
	for _, t := range tables {
		if err := isatab.WriteTable(r.req.StudyDir, t); err != nil {
			return err
		}
		r.res.Files = append(r.res.Files, t.FileName)
	}
	if err := isatab.WriteInvestigation(r.req.StudyDir, inv, isatab.WriteOptions{
		FileName:  p.opts.InvestigationFile,
		BackupDir: filepath.Join(r.workDir, replacedDir),
	}); err != nil {
		return err
	}
	r.res.Files = append(r.res.Files, p.opts.InvestigationFile)
	r.res.SubmissionDate = inv.SubmissionDate
	r.res.ReleaseDate = inv.PublicReleaseDate

	if p.opts.OnRelease != nil {
		if err := p.opts.OnRelease(ctx, study, now, now.AddDate(1, 0, 0)); err != nil {
			return fmt.Errorf("обновление даты публикации: %w", err)
		}
	}
	return nil
}

// moveReplaced переносит табличные метаданные корня исследования, которые
// не будут перезаписаны запуском, в каталог dst.
func moveReplaced(studyDir, dst string, keep map[string]bool) error {
	entries, err := os.ReadDir(studyDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] || !isTabularMetadata(name) {
			continue
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(studyDir, name), filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("перенос %s: %w", name, err)
		}
	}
	return nil
}

func isTabularMetadata(name string) bool {
	switch {
	case strings.HasPrefix(name, "s_") || strings.HasPrefix(name, "a_"):
		return path.Ext(name) == ".txt"
	case strings.HasPrefix(name, "m_"):
		return path.Ext(name) == ".tsv"
	}
	return false
}
