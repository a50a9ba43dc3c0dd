package validation

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status — статус детали, секции или отчёта.
type Status string

const (
	StatusError   Status = "error"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
)

// severity упорядочивает статусы: чем больше, тем серьёзнее.
func (s Status) severity() int {
	switch s {
	case StatusError:
		return 3
	case StatusWarning:
		return 2
	case StatusInfo:
		return 1
	}
	return 0
}

// Секции отчёта в порядке вывода.
const (
	SectionBasic       = "basic"
	SectionISATab      = "isa-tab"
	SectionPublication = "publication"
	SectionPerson      = "person"
	SectionProtocols   = "protocols"
	SectionSamples     = "samples"
	SectionFiles       = "files"
	SectionAssays      = "assays"
	SectionMAF         = "maf"
)

// AllSections — все секции в порядке вывода.
var AllSections = []string{
	SectionBasic, SectionISATab, SectionPublication, SectionPerson, SectionProtocols,
	SectionSamples, SectionFiles, SectionAssays, SectionMAF,
}

// Detail — одна проверка отчёта.
type Detail struct {
	// ID — стабильный идентификатор проверки (<section>_<sequence>)
	ID      string `json:"val_sequence"`
	Section string `json:"val_section"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	// File — файл метаданных, к которому относится проверка
	File string `json:"metadata_file,omitempty"`
	// Value — проблемное значение или перечень путей
	Value string `json:"value,omitempty"`
	// Description — описание правила набора, по которому выполнена проверка
	Description string `json:"description,omitempty"`
	// Overridden — статус изменён записью куратора
	Overridden bool `json:"val_override"`
	// ValMessage — исходный статус до применения записи куратора
	ValMessage string `json:"val_message,omitempty"`
	// OverrideMessage — текст записи куратора
	OverrideMessage string `json:"override_message,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

// Section — результаты одной секции.
type Section struct {
	Name    string   `json:"section"`
	Status  Status   `json:"status"`
	Details []Detail `json:"details"`
}

// Report — отчёт валидации исследования.
type Report struct {
	Study       string    `json:"study_id"`
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Sections    []Section `json:"validations"`
}

// Section возвращает секцию по имени.
func (r *Report) Section(name string) *Section {
	for i := range r.Sections {
		if r.Sections[i].Name == name {
			return &r.Sections[i]
		}
	}
	return nil
}

// Find возвращает все детали с идентификатором id.
func (r *Report) Find(id string) []Detail {
	var out []Detail
	for _, s := range r.Sections {
		for _, d := range s.Details {
			if d.ID == id {
				out = append(out, d)
			}
		}
	}
	return out
}

// Count возвращает количество деталей со статусом status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, s := range r.Sections {
		for _, d := range s.Details {
			if d.Status == status {
				n++
			}
		}
	}
	return n
}

// recompute пересчитывает статусы секций и отчёта: error, если есть
// ошибка, иначе warning, если есть предупреждение, иначе success.
func (r *Report) recompute() {
	r.Status = StatusSuccess
	for i := range r.Sections {
		s := &r.Sections[i]
		s.Status = StatusSuccess
		for _, d := range s.Details {
			if d.Status == StatusError || d.Status == StatusWarning {
				if d.Status.severity() > s.Status.severity() {
					s.Status = d.Status
				}
			}
		}
		if s.Status.severity() > r.Status.severity() {
			r.Status = s.Status
		}
	}
}

// Filtered возвращает отчёт с деталями указанного статуса (LogAll — без фильтра).
func (r *Report) Filtered(log LogFilter) *Report {
	return r.filtered(log)
}

// filtered возвращает копию отчёта с деталями, прошедшими фильтр журнала.
// Статусы секций сохраняются.
func (r *Report) filtered(log LogFilter) *Report {
	if log == LogAll || log == "" {
		return r
	}
	out := *r
	out.Sections = make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		out.Sections[i] = Section{Name: s.Name, Status: s.Status, Details: []Detail{}}
		for _, d := range s.Details {
			if string(d.Status) == string(log) {
				out.Sections[i].Details = append(out.Sections[i].Details, d)
			}
		}
	}
	return &out
}

// collector накапливает детали одной секции.
type collector struct {
	section string
	details []Detail
}

func newCollector(section string) *collector {
	return &collector{section: section}
}

func (c *collector) add(seq string, status Status, file, value, format string, args ...any) {
	c.details = append(c.details, Detail{
		ID:      c.section + "_" + seq,
		Section: c.section,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
		File:    file,
		Value:   value,
	})
}

func (c *collector) success(seq, file, format string, args ...any) {
	c.add(seq, StatusSuccess, file, "", format, args...)
}

// rule добавляет деталь по результату правила: success при ok,
// иначе статус уровня правила.
func (c *collector) rule(seq string, r *Rule, ok bool, file, value, format string, args ...any) {
	status := StatusSuccess
	if !ok {
		status = r.Level
	}
	c.add(seq, status, file, value, format, args...)
	c.details[len(c.details)-1].Description = r.Summary()
}

// paths сворачивает список путей в значение детали.
func paths(items []string) string {
	const limit = 20
	items = slices.Compact(slices.Sorted(slices.Values(items)))
	if len(items) > limit {
		return strings.Join(items[:limit], ", ") + fmt.Sprintf(" … (+%d)", len(items)-limit)
	}
	return strings.Join(items, ", ")
}
