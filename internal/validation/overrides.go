package validation

import (
	"fmt"
	"strings"
)

// Filter — фильтр секций валидации.
type Filter string

const (
	FilterAll         Filter = "all"
	FilterPublication Filter = "publication"
	FilterISATab      Filter = "isa-tab"
	FilterPerson      Filter = "person"
	FilterProtocols   Filter = "protocols"
	FilterSamples     Filter = "samples"
	FilterFiles       Filter = "files"
	FilterAssays      Filter = "assays"
)

// filterSections — секции, выполняемые для фильтра.
var filterSections = map[Filter][]string{
	FilterAll:         AllSections,
	FilterPublication: {SectionPublication},
	FilterISATab:      {SectionBasic, SectionISATab},
	FilterPerson:      {SectionPerson},
	FilterProtocols:   {SectionProtocols},
	FilterSamples:     {SectionSamples},
	FilterFiles:       {SectionFiles},
	FilterAssays:      {SectionAssays, SectionMAF},
}

// ParseFilter разбирает фильтр секций. Пустое значение — all.
func ParseFilter(v string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(v)))
	if f == "" {
		return FilterAll, nil
	}
	if _, ok := filterSections[f]; !ok {
		return "", fmt.Errorf("неизвестный фильтр секций %q", v)
	}
	return f, nil
}

// Sections возвращает секции фильтра.
func (f Filter) Sections() []string {
	return filterSections[f]
}

// LogFilter — фильтр деталей отчёта по статусу.
type LogFilter string

const (
	LogError   LogFilter = "error"
	LogWarning LogFilter = "warning"
	LogInfo    LogFilter = "info"
	LogSuccess LogFilter = "success"
	LogAll     LogFilter = "all"
)

// ParseLogFilter разбирает фильтр журнала. Пустое значение — all.
func ParseLogFilter(v string) (LogFilter, error) {
	switch f := LogFilter(strings.ToLower(strings.TrimSpace(v))); f {
	case "":
		return LogAll, nil
	case LogError, LogWarning, LogInfo, LogSuccess, LogAll:
		return f, nil
	}
	return "", fmt.Errorf("неизвестный фильтр журнала %q", v)
}

// Note — запись куратора вида <validation-id>:<message>.
type Note struct {
	ID      string
	Message string
}

// ParseNotes разбирает записи куратора. Записи без ':' пропускаются.
func ParseNotes(raw []string) []Note {
	var out []Note
	for _, item := range raw {
		id, msg, ok := strings.Cut(strings.TrimSpace(item), ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			continue
		}
		out = append(out, Note{ID: id, Message: strings.TrimSpace(msg)})
	}
	return out
}

// wildcard — запись применяется ко всем деталям (*) или ко всем
// деталям секции (<section>_*).
func (n Note) wildcard() bool {
	return n.ID == "*" || strings.HasSuffix(n.ID, "_*")
}

func (n Note) matches(d Detail) bool {
	switch {
	case n.ID == "*":
		return true
	case strings.HasSuffix(n.ID, "_*"):
		return d.Section == strings.TrimSuffix(n.ID, "_*")
	}
	return d.ID == n.ID
}

// ApplyOverrides применяет записи куратора к отчёту: детали со статусом
// error, warning или info становятся success с сохранением исходного
// статуса в ValMessage. Успешные детали, на которые указывает запись
// без шаблона, становятся error, только если запись не нашла ни одной
// неуспешной детали. Статусы секций пересчитываются.
func ApplyOverrides(r *Report, overrides []Note) {
	for _, n := range overrides {
		failing := r.hasFailing(n)
		for i := range r.Sections {
			details := r.Sections[i].Details
			for j := range details {
				d := &details[j]
				if !n.matches(*d) || d.Overridden {
					continue
				}
				switch {
				case d.Status != StatusSuccess:
					d.ValMessage = string(d.Status)
					d.Status = StatusSuccess
				case !n.wildcard() && !failing:
					d.ValMessage = string(d.Status)
					d.Status = StatusError
				default:
					continue
				}
				d.Overridden = true
				d.OverrideMessage = n.Message
			}
		}
	}
	r.recompute()
}

// hasFailing сообщает, есть ли в отчёте неуспешная деталь под записью n.
func (r *Report) hasFailing(n Note) bool {
	for _, sec := range r.Sections {
		for _, d := range sec.Details {
			if n.matches(d) && !d.Overridden && d.Status != StatusSuccess {
				return true
			}
		}
	}
	return false
}

// ApplyComments добавляет комментарии куратора к деталям без изменения статуса.
func ApplyComments(r *Report, comments []Note) {
	for _, n := range comments {
		for i := range r.Sections {
			details := r.Sections[i].Details
			for j := range details {
				if n.matches(details[j]) {
					details[j].Comment = n.Message
				}
			}
		}
	}
}
