package validation

import (
	"strconv"
	"strings"

	"github.com/bigkaa/metabostore/internal/isatab"
)

const (
	columnOrganism    = "Characteristics[Organism]"
	columnSampleName  = "Sample Name"
	columnProtocolRef = "Protocol REF"
	factorPrefix      = "Factor Value["
)

// rowSet накапливает номера строк и значения, нарушившие одну проверку.
type rowSet struct {
	rows   []string
	values []string
}

func (s *rowSet) add(row int, value string) {
	s.rows = append(s.rows, strconv.Itoa(row+1))
	s.values = append(s.values, value)
}

func (s *rowSet) empty() bool { return len(s.rows) == 0 }

// checkSamples — таблица образцов.
func checkSamples(sc *studyContext) *collector {
	c := newCollector(SectionSamples)
	if sc.study == nil || strings.TrimSpace(sc.study.FileName) == "" {
		c.add("1", StatusError, "", "", "Файл образцов не указан в investigation")
		return c
	}
	file := strings.TrimSpace(sc.study.FileName)
	t := sc.bundle.Tables[file]
	if t == nil {
		msg := "Файл образцов не загружен"
		if err := sc.bundle.TableErrors[file]; err != nil {
			c.add("1", StatusError, file, err.Error(), "%s", msg)
		} else {
			c.add("1", StatusError, file, "", "%s", msg)
		}
		return c
	}
	c.success("1", file, "Файл образцов загружен")

	r := sc.schema.Rule(SectionSamples, "rows")
	c.rule("2", r, r.CheckCount(len(t.Rows)), file, "", "Строк в файле образцов: %d (требуется %s)", len(t.Rows), r.Describe())

	checkSampleColumns(c, sc, t)
	checkOrganisms(c, sc, t)
	checkFactors(c, sc, t)

	if idx := t.Index(columnProtocolRef); idx >= 0 {
		r := sc.schema.Rule(SectionSamples, "protocol_ref")
		var bad rowSet
		for i, v := range t.ColumnAt(idx) {
			if !r.Check(v, nil) {
				bad.add(i, v)
			}
		}
		c.rule("7", r, bad.empty(), file, paths(bad.values), "Protocol REF в файле образцов: %s", r.Describe())
	}

	if idx := t.Index(columnSampleName); idx >= 0 {
		seen := make(map[string]bool)
		var dups, empties rowSet
		for i, v := range t.ColumnAt(idx) {
			v = strings.TrimSpace(v)
			switch {
			case v == "":
				empties.add(i, v)
			case seen[v]:
				dups.add(i, v)
			default:
				seen[v] = true
			}
		}
		if dups.empty() {
			c.success("9", file, "Имена образцов уникальны")
		} else {
			c.add("9", StatusError, file, paths(dups.values), "Повторяющиеся имена образцов")
		}
		if empties.empty() {
			c.success("10", file, "Все имена образцов заполнены")
		} else {
			c.add("10", StatusError, file, paths(empties.rows), "Пустые имена образцов в строках")
		}
	}
	return c
}

// checkSampleColumns проверяет наличие и порядок обязательных столбцов.
func checkSampleColumns(c *collector, sc *studyContext, t *isatab.Table) {
	var missing []string
	last, ordered := -1, true
	for _, name := range sc.schema.SampleColumns {
		idx := t.Index(name)
		if idx < 0 {
			missing = append(missing, name)
			continue
		}
		if idx < last {
			ordered = false
		}
		last = idx
	}

	if len(missing) > 0 {
		c.add("3.1", StatusError, t.FileName, strings.Join(missing, "; "), "В файле образцов нет обязательных столбцов")
	} else {
		c.success("3.1", t.FileName, "Все обязательные столбцы присутствуют")
	}
	if ordered {
		c.success("3.2", t.FileName, "Порядок обязательных столбцов верный")
	} else {
		c.add("3.2", StatusError, t.FileName, "", "Нарушен порядок обязательных столбцов файла образцов")
	}
}

// checkOrganisms проверяет значения Characteristics[Organism].
func checkOrganisms(c *collector, sc *studyContext, t *isatab.Table) {
	idx := t.Index(columnOrganism)
	if idx < 0 {
		return
	}
	length := sc.schema.Rule(SectionSamples, "organism_length")
	species := sc.schema.Rule(SectionSamples, "organism_species")
	colon := sc.schema.Rule(SectionSamples, "organism_colon")
	human := sc.schema.Rule(SectionSamples, "organism_human")

	var empty, short, wrong, colons, humans rowSet
	for i, v := range t.ColumnAt(idx) {
		v = strings.TrimSpace(v)
		if v == "" {
			empty.add(i, v)
			continue
		}
		if !length.Check(v, nil) {
			short.add(i, v)
		}
		if !species.Check(v, nil) {
			wrong.add(i, v)
		}
		if !colon.Check(v, nil) {
			colons.add(i, v)
		}
		if !human.Check(v, nil) {
			humans.add(i, v)
		}
	}

	file := t.FileName
	if empty.empty() {
		c.success("4.1", file, "Организм указан во всех строках")
	} else {
		c.add("4.1", StatusError, file, paths(empty.rows), "Организм не указан в строках")
	}
	c.rule("4.2", length, short.empty(), file, paths(short.values), "Название организма: %s", length.Describe())
	c.rule("4.3", species, wrong.empty(), file, paths(wrong.values), "Название организма не из списка некорректных видов")
	c.rule("4.4", colon, colons.empty(), file, paths(colons.values), "Название организма без двоеточия")
	c.rule("8", human, humans.empty(), file, paths(humans.values),
		"Организм указан научным названием (например, Homo sapiens), а не %q", "human")
}

// checkFactors проверяет столбцы Factor Value[*] и объявленные факторы.
func checkFactors(c *collector, sc *studyContext, t *isatab.Table) {
	file := t.FileName
	columns := make(map[string]bool)
	for _, idx := range t.HeadersMatching(func(h string) bool { return strings.HasPrefix(h, factorPrefix) }) {
		name := strings.TrimSuffix(strings.TrimPrefix(t.Headers[idx], factorPrefix), "]")
		columns[strings.ToLower(strings.TrimSpace(name))] = true

		filled := false
		for _, v := range t.ColumnAt(idx) {
			if strings.TrimSpace(v) != "" {
				filled = true
				break
			}
		}
		if filled {
			c.success("5", file, "Столбец %s заполнен", t.Headers[idx])
		} else {
			c.add("5", StatusError, file, t.Headers[idx], "Столбец %s не заполнен", t.Headers[idx])
		}
	}

	for _, f := range sc.study.Factors {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		if columns[strings.ToLower(name)] {
			c.success("6", file, "Фактор %q имеет столбец в файле образцов", name)
		} else {
			c.add("6", StatusError, file, name, "Фактор %q не имеет столбца Factor Value[%s]", name, name)
		}
	}
}
