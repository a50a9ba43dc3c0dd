package validation

import (
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
)

// mafUse — ссылка assay на файл аннотаций: технология и имена
// образцов и assay, которые должны быть столбцами файла.
type mafUse struct {
	technology string
	names      [][2]string // {Sample Name, <...> Assay Name} по строкам
}

// assayNameColumns — столбцы имён assay по технологиям.
var assayNameColumns = []string{"MS Assay Name", "NMR Assay Name"}

// collectMAFUses собирает файлы аннотаций, упомянутые в assay, в порядке появления.
func collectMAFUses(sc *studyContext) ([]string, map[string]*mafUse) {
	var order []string
	uses := make(map[string]*mafUse)
	for _, a := range sc.study.Assays {
		t := sc.bundle.Tables[strings.TrimSpace(a.FileName)]
		if t == nil {
			continue
		}
		idx := t.Index(isatab.ColumnMetaboliteAssignment)
		if idx < 0 {
			continue
		}
		technology := sc.technology
		if spec, ok := sc.schema.AssaySpecFor(t.FileName, sc.technology); ok {
			technology = spec.Technology
		}
		sampleIdx := t.Index(columnSampleName)
		assayIdx := -1
		for _, col := range assayNameColumns {
			if assayIdx = t.Index(col); assayIdx >= 0 {
				break
			}
		}

		for row := range t.Rows {
			name := model.CleanRelPath(t.Value(row, idx))
			if name == "" {
				continue
			}
			u, ok := uses[name]
			if !ok {
				u = &mafUse{technology: technology}
				uses[name] = u
				order = append(order, name)
			}
			u.names = append(u.names, [2]string{
				strings.TrimSpace(t.Value(row, sampleIdx)),
				strings.TrimSpace(t.Value(row, assayIdx)),
			})
		}
	}
	return order, uses
}

// checkMAF — файлы аннотаций метаболитов.
func checkMAF(sc *studyContext) *collector {
	c := newCollector(SectionMAF)
	if sc.study == nil {
		return c
	}

	order, uses := collectMAFUses(sc)
	nameRule := sc.schema.Rule(SectionMAF, "filename")
	rowsRule := sc.schema.Rule(SectionMAF, "rows")
	spec := sc.schema.MAF

	for _, name := range order {
		use := uses[name]
		c.rule("1", nameRule, nameRule.Check(baseName(name), nil), name, "",
			"Имя файла аннотаций: m_<...>_v2_maf.tsv")

		t := sc.bundle.Tables[name]
		if t == nil {
			value := ""
			if err := sc.bundle.TableErrors[name]; err != nil {
				value = err.Error()
			}
			c.add("2", StatusError, name, value, "Файл аннотаций не найден или не прочитан")
			continue
		}
		c.success("2", name, "Файл аннотаций загружен")

		fixedOK := len(t.Headers) >= len(spec.FixedColumns)
		for i, col := range spec.FixedColumns {
			if !fixedOK || t.Headers[i] != col {
				fixedOK = false
				break
			}
		}
		if fixedOK {
			c.success("3", name, "Первые столбцы файла аннотаций корректны")
		} else {
			c.add("3", StatusError, name, strings.Join(spec.FixedColumns, ", "),
				"Первые %d столбцов файла аннотаций должны быть: %s", len(spec.FixedColumns), strings.Join(spec.FixedColumns, ", "))
		}

		sixth := len(spec.FixedColumns)
		if want, ok := spec.SixthColumn[use.technology]; ok {
			got := ""
			if sixth < len(t.Headers) {
				got = t.Headers[sixth]
			}
			if got == want {
				c.success("4", name, "Столбец %d: %s", sixth+1, want)
			} else {
				c.add("4", StatusError, name, got, "Столбец %d файла аннотаций должен быть %s", sixth+1, want)
			}
		}

		headers := make(map[string]bool, len(t.Headers))
		for _, h := range t.Headers {
			headers[strings.TrimSpace(h)] = true
		}
		var missing []string
		for _, pair := range use.names {
			if (pair[0] != "" && headers[pair[0]]) || (pair[1] != "" && headers[pair[1]]) {
				continue
			}
			missing = append(missing, firstNonEmpty(pair[1], pair[0]))
		}
		if len(missing) > 0 {
			c.add("5", StatusError, name, paths(missing), "В файле аннотаций нет столбцов образцов или assay")
		} else {
			c.success("5", name, "Все образцы assay представлены столбцами файла аннотаций")
		}

		for _, col := range spec.SingleValueColumns {
			idx := t.Index(col)
			if idx < 0 {
				continue
			}
			var bad []string
			for row, v := range t.ColumnAt(idx) {
				v = strings.TrimSpace(v)
				if v == "" || strings.Contains(v, "|") {
					bad = append(bad, t.Value(row, 0)+"="+v)
				}
			}
			if len(bad) > 0 {
				c.add("6", StatusError, name, paths(bad), "Столбец %s должен содержать одно значение в каждой строке", col)
			} else {
				c.success("6", name, "Столбец %s: одно значение в каждой строке", col)
			}
		}

		c.rule("7", rowsRule, rowsRule.CheckCount(len(t.Rows)), name, "", "Строк в файле аннотаций: %d", len(t.Rows))
	}
	return c
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
