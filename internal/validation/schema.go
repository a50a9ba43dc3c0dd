package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/metabostore/internal/validation/schema"
)

// ErrSchemaUnavailable — набор правил не удалось получить или разобрать.
var ErrSchemaUnavailable = errors.New("набор правил валидации недоступен")

// Технологии исследования.
const (
	TechnologyMS  = "ms"
	TechnologyNMR = "nmr"
)

// ProtocolSpec — ожидаемый протокол исследования.
type ProtocolSpec struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type,omitempty"`
	Parameters []string `yaml:"parameters,omitempty"`
}

// ExpectedType возвращает ожидаемый тип протокола (по умолчанию — имя).
func (p ProtocolSpec) ExpectedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// ColumnSpec — ожидаемый столбец таблицы.
type ColumnSpec struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required,omitempty"`
}

// AssaySpec — шаблон assay-файла для типа анализа.
type AssaySpec struct {
	Type       string       `yaml:"type"`
	Technology string       `yaml:"technology"`
	Match      []string     `yaml:"match"`
	Columns    []ColumnSpec `yaml:"columns"`
}

// DataColumnSpec — допустимые виды файлов в столбце данных.
// Name "*" применяется к прочим столбцам "... Data File".
type DataColumnSpec struct {
	Name            string   `yaml:"name"`
	ID              string   `yaml:"id"`
	Kinds           []string `yaml:"kinds"`
	TextRequiresRaw bool     `yaml:"text_requires_raw,omitempty"`
}

// MAFSpec — структура файла аннотаций.
type MAFSpec struct {
	FixedColumns       []string          `yaml:"fixed_columns"`
	SixthColumn        map[string]string `yaml:"sixth_column"`
	SingleValueColumns []string          `yaml:"single_value_columns"`
}

// Schema — набор правил валидации.
type Schema struct {
	Version               string                      `yaml:"version"`
	Sections              map[string]map[string]*Rule `yaml:"sections"`
	Protocols             map[string][]ProtocolSpec   `yaml:"protocols"`
	SampleColumns         []string                    `yaml:"sample_columns"`
	Assays                []AssaySpec                 `yaml:"assays"`
	DataColumns           []DataColumnSpec            `yaml:"data_columns"`
	ChromatographyColumns []string                    `yaml:"chromatography_columns"`
	MAF                   MAFSpec                     `yaml:"maf"`
}

// requiredRules — правила, без которых секции не могут работать.
var requiredRules = map[string][]string{
	SectionBasic:       {"design_descriptors", "title", "description"},
	SectionPublication: {"title", "pubmed_id", "doi", "author_list", "status"},
	SectionPerson:      {"last_name", "first_name", "name_blacklist", "email", "affiliation"},
	SectionProtocols: {
		"description", "description_exception", "description_sentences",
		"placeholder", "type", "parameters",
	},
	SectionSamples: {
		"rows", "organism_length", "organism_species", "organism_colon",
		"organism_human", "protocol_ref",
	},
	SectionAssays: {"rows", "sample_name"},
	SectionMAF:    {"filename", "rows"},
}

// ParseSchema разбирает и проверяет набор правил в формате YAML.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("ошибка разбора набора правил: %w", err)
	}
	for section, names := range requiredRules {
		for _, name := range names {
			r := s.Sections[section][name]
			if r == nil {
				return nil, fmt.Errorf("в наборе правил нет правила %s.%s", section, name)
			}
			if err := r.compile(); err != nil {
				return nil, fmt.Errorf("правило %s.%s: %w", section, name, err)
			}
		}
	}
	if len(s.Protocols[TechnologyMS]) == 0 || len(s.Protocols[TechnologyNMR]) == 0 {
		return nil, errors.New("в наборе правил нет протоколов ms и nmr")
	}
	if len(s.MAF.FixedColumns) == 0 {
		return nil, errors.New("в наборе правил нет обязательных столбцов файла аннотаций")
	}
	return &s, nil
}

// DefaultSchema возвращает встроенный набор правил.
func DefaultSchema() *Schema {
	s, err := ParseSchema(schema.Default)
	if err != nil {
		panic(fmt.Sprintf("встроенный набор правил некорректен: %v", err))
	}
	return s
}

// Rule возвращает правило секции. Наличие обязательных правил
// проверяется в ParseSchema.
func (s *Schema) Rule(section, name string) *Rule {
	return s.Sections[section][name]
}

// AssaySpecFor подбирает шаблон assay по имени файла, затем по технологии.
func (s *Schema) AssaySpecFor(fileName, technology string) (AssaySpec, bool) {
	tokens := strings.Split(strings.TrimSuffix(fileName, ".txt"), "_")
	for _, spec := range s.Assays {
		for _, m := range spec.Match {
			for _, tok := range tokens {
				if strings.EqualFold(tok, m) {
					return spec, true
				}
			}
		}
	}
	for _, spec := range s.Assays {
		if technology != "" && spec.Technology == technology {
			return spec, true
		}
	}
	return AssaySpec{}, false
}

// DataColumn возвращает правило столбца данных.
func (s *Schema) DataColumn(header string) (DataColumnSpec, bool) {
	var fallback *DataColumnSpec
	for i := range s.DataColumns {
		dc := &s.DataColumns[i]
		if dc.Name == header {
			return *dc, true
		}
		if dc.Name == "*" {
			fallback = dc
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return DataColumnSpec{}, false
}

// SchemaLoader загружает набор правил из файла или по URL с кэшированием.
// Пустой источник — встроенный набор. Одновременные запросы одного
// источника схлопываются в один.
type SchemaLoader struct {
	source string
	client *http.Client
	cache  *expirable.LRU[string, *Schema]
	group  singleflight.Group
	logger *slog.Logger
}

// NewSchemaLoader создаёт загрузчик. ttl — время жизни кэшированного набора.
func NewSchemaLoader(source string, ttl time.Duration, logger *slog.Logger) *SchemaLoader {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SchemaLoader{
		source: strings.TrimSpace(source),
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  expirable.NewLRU[string, *Schema](8, nil, ttl),
		logger: logger.With(slog.String("component", "schema_loader")),
	}
}

// Source возвращает источник набора правил ("" — встроенный).
func (l *SchemaLoader) Source() string {
	return l.source
}

// Load возвращает набор правил.
func (l *SchemaLoader) Load(ctx context.Context) (*Schema, error) {
	if l.source == "" {
		if s, ok := l.cache.Get(""); ok {
			return s, nil
		}
		s := DefaultSchema()
		l.cache.Add("", s)
		return s, nil
	}
	if s, ok := l.cache.Get(l.source); ok {
		return s, nil
	}

	v, err, _ := l.group.Do(l.source, func() (any, error) {
		data, err := l.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s, err := ParseSchema(data)
		if err != nil {
			return nil, err
		}
		l.cache.Add(l.source, s)
		l.logger.Info("Набор правил валидации загружен",
			slog.String("source", l.source),
			slog.String("version", s.Version),
		)
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return v.(*Schema), nil
}

// fetch читает источник. HTTP-запрос повторяется один раз при
// транспортной ошибке или ответах 502/503/504.
func (l *SchemaLoader) fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(l.source, "http://") && !strings.HasPrefix(l.source, "https://") {
		return os.ReadFile(strings.TrimPrefix(l.source, "file://"))
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		data, retry, err := l.get(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		l.logger.Warn("Повтор загрузки набора правил",
			slog.String("source", l.source),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

func (l *SchemaLoader) get(ctx context.Context) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		var netErr net.Error
		return nil, errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF), err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, true, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}
