package validation

import (
	"slices"
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
)

const (
	columnRawFile     = "Raw Spectral Data File"
	columnDerivedFile = "Derived Spectral Data File"
)

// checkAssays — assay-файлы и файлы данных, на которые они ссылаются.
func checkAssays(sc *studyContext) *collector {
	c := newCollector(SectionAssays)
	if sc.study == nil {
		return c
	}

	samples := sampleNames(sc)
	referencedMAF := make(map[string]bool)
	for _, a := range sc.study.Assays {
		name := strings.TrimSpace(a.FileName)
		if name == "" {
			continue
		}
		t := sc.bundle.Tables[name]
		if t == nil {
			value := ""
			if err := sc.bundle.TableErrors[name]; err != nil {
				value = err.Error()
			}
			c.add("1", StatusError, name, value, "Assay-файл не найден или не прочитан")
			continue
		}
		c.success("1", name, "Assay-файл загружен")

		r := sc.schema.Rule(SectionAssays, "rows")
		c.rule("2", r, r.CheckCount(len(t.Rows)), name, "", "Строк в assay: %d (требуется %s)", len(t.Rows), r.Describe())

		spec, ok := sc.schema.AssaySpecFor(name, sc.technology)
		if !ok {
			c.add("3", StatusWarning, name, "", "Тип assay не определён, проверка столбцов пропущена")
		} else {
			c.success("3", name, "Тип assay: %s", spec.Type)
			checkAssayColumns(c, t, spec)
		}

		if samples != nil {
			checkAssaySamples(c, sc, t, samples)
		}
		checkChromatography(c, sc, t)
		checkDataFiles(c, sc, t)

		for _, m := range t.Column(isatab.ColumnMetaboliteAssignment) {
			if m = model.CleanRelPath(m); m != "" {
				referencedMAF[m] = true
			}
		}
	}

	var orphans []string
	for _, fd := range sc.files.All() {
		if fd.Kind == model.KindAnnotation && !fd.IsDir && !referencedMAF[fd.Path] {
			orphans = append(orphans, fd.Path)
		}
	}
	if len(orphans) > 0 {
		c.add("9", StatusWarning, "", paths(orphans), "Файлы аннотаций, не упомянутые в assay: %d", len(orphans))
	} else {
		c.success("9", "", "Все файлы аннотаций упомянуты в assay")
	}
	return c
}

// sampleNames возвращает множество имён из таблицы образцов или nil.
func sampleNames(sc *studyContext) map[string]bool {
	t := sc.bundle.Tables[strings.TrimSpace(sc.study.FileName)]
	if t == nil || t.Index(columnSampleName) < 0 {
		return nil
	}
	out := make(map[string]bool)
	for _, v := range t.Column(columnSampleName) {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = true
		}
	}
	return out
}

// checkAssayColumns сверяет заголовки assay с шаблоном типа.
func checkAssayColumns(c *collector, t *isatab.Table, spec AssaySpec) {
	var missing, misplaced, emptyRequired []string
	for i, col := range spec.Columns {
		at := -1
		switch {
		case i < len(t.Headers) && t.Headers[i] == col.Name:
			at = i
		case t.Index(col.Name) >= 0:
			at = t.Index(col.Name)
			misplaced = append(misplaced, col.Name)
		default:
			missing = append(missing, col.Name)
		}
		if at < 0 || !col.Required {
			continue
		}
		for _, v := range t.ColumnAt(at) {
			if strings.TrimSpace(v) == "" {
				emptyRequired = append(emptyRequired, col.Name)
				break
			}
		}
	}

	file := t.FileName
	if len(missing) > 0 {
		c.add("4.1", StatusError, file, paths(missing), "В assay нет обязательных столбцов шаблона %s", spec.Type)
	} else {
		c.success("4.1", file, "Все столбцы шаблона %s присутствуют", spec.Type)
	}
	if len(misplaced) > 0 {
		c.add("4.2", StatusWarning, file, paths(misplaced), "Столбцы не на своих позициях")
	} else {
		c.success("4.2", file, "Столбцы на своих позициях")
	}
	if len(emptyRequired) > 0 {
		c.add("5", StatusError, file, paths(emptyRequired), "Обязательные столбцы содержат пустые значения")
	} else {
		c.success("5", file, "Обязательные столбцы заполнены")
	}
}

// checkAssaySamples проверяет, что имена образцов assay есть в таблице образцов.
func checkAssaySamples(c *collector, sc *studyContext, t *isatab.Table, samples map[string]bool) {
	idx := t.Index(columnSampleName)
	if idx < 0 {
		return
	}
	r := sc.schema.Rule(SectionAssays, "sample_name")
	var unknown []string
	for _, v := range t.ColumnAt(idx) {
		if strings.TrimSpace(v) != "" && !r.Check(v, samples) {
			unknown = append(unknown, v)
		}
	}
	c.rule("6", r, len(unknown) == 0, t.FileName, paths(unknown), "Имена образцов assay присутствуют в таблице образцов")
}

// checkChromatography проверяет заполненность параметров хроматографии.
func checkChromatography(c *collector, sc *studyContext, t *isatab.Table) {
	var declared, empty []string
	for _, col := range sc.schema.ChromatographyColumns {
		idx := t.Index(col)
		if idx < 0 {
			continue
		}
		declared = append(declared, col)
		for _, v := range t.ColumnAt(idx) {
			if strings.TrimSpace(v) == "" {
				empty = append(empty, col)
				break
			}
		}
	}
	if len(declared) == 0 {
		return
	}
	if len(empty) > 0 {
		c.add("8", StatusError, t.FileName, paths(empty), "Параметры хроматографии не заполнены")
	} else {
		c.success("8", t.FileName, "Параметры хроматографии заполнены")
	}
}

// dataProblems — нарушения ссылок на файлы данных одного assay по идентификаторам.
type dataProblems map[string][]string

func (p dataProblems) add(seq, value string) {
	p[seq] = append(p[seq], value)
}

// dataFileChecks — идентификаторы проверок файлов данных в порядке вывода.
var dataFileChecks = []struct {
	seq    string
	status Status
	msg    string
}{
	{"7.1", StatusError, "Файлы данных не найдены"},
	{"7.2", StatusError, "Недопустимый вид файла в столбце Raw Spectral Data File"},
	{"7.3", StatusError, "Недопустимый вид файла в столбце производных данных"},
	{"7.4", StatusError, "Недопустимый вид файла в столбце Free Induction Decay Data File"},
	{"7.5", StatusError, "Недопустимый вид файла в столбце Acquisition Parameter Data File"},
	{"7.6", StatusError, "Файл метаданных в столбце файлов данных"},
	{"7.7", StatusError, "Каталог, не являющийся набором данных, в столбце файлов данных"},
	{"7.8", StatusError, "Путь выходит за пределы каталога исследования"},
	{"7.9", StatusWarning, "Строки без сырых и производных файлов"},
	{"7.10", StatusWarning, "Строки с производными файлами без сырых"},
	{"7.11", StatusError, "Текстовый файл в столбце производных данных без сырого файла в строке"},
	{"7.12", StatusError, "Пустое значение Metabolite Assignment File"},
}

// checkDataFiles проверяет ссылки на файлы данных построчно.
func checkDataFiles(c *collector, sc *studyContext, t *isatab.Table) {
	columns := t.HeadersMatching(isatab.IsFileColumn)
	if len(columns) == 0 {
		return
	}
	rawIdx := t.Index(columnRawFile)
	derivedIdx := t.Index(columnDerivedFile)
	problems := dataProblems{}

	for row := range t.Rows {
		rawValid := false
		if rawIdx >= 0 {
			if v := model.CleanRelPath(t.Value(row, rawIdx)); v != "" {
				fd, ok := sc.files.Get(v)
				rawValid = ok && (fd.Kind == model.KindRaw || fd.Kind == model.KindCompressed)
			}
		}
		hasRaw := rawIdx >= 0 && strings.TrimSpace(t.Value(row, rawIdx)) != ""
		hasDerived := derivedIdx >= 0 && strings.TrimSpace(t.Value(row, derivedIdx)) != ""
		if rawIdx >= 0 || derivedIdx >= 0 {
			switch {
			case !hasRaw && !hasDerived:
				problems.add("7.9", t.Value(row, 0))
			case !hasRaw && hasDerived && rawIdx >= 0:
				problems.add("7.10", t.Value(row, derivedIdx))
			}
		}

		for _, col := range columns {
			header := t.Headers[col]
			value := strings.TrimSpace(t.Value(row, col))
			if header == isatab.ColumnMetaboliteAssignment {
				if value == "" {
					problems.add("7.12", t.Value(row, 0))
				}
				continue
			}
			if value == "" {
				continue
			}
			checkDataFile(problems, sc, header, value, rawValid)
		}
	}

	for _, chk := range dataFileChecks {
		if vals := problems[chk.seq]; len(vals) > 0 {
			c.add(chk.seq, chk.status, t.FileName, paths(vals), "%s: %d", chk.msg, len(vals))
		}
	}
	if len(problems) == 0 {
		c.success("7", t.FileName, "Ссылки на файлы данных корректны")
	}
}

// checkDataFile проверяет одну ссылку на файл данных по правилам столбца.
func checkDataFile(problems dataProblems, sc *studyContext, header, value string, rawValid bool) {
	rel := model.CleanRelPath(value)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		problems.add("7.8", value)
		return
	}
	fd, ok := sc.files.Get(rel)
	if !ok {
		problems.add("7.1", value)
		return
	}
	if fd.Kind.IsMetadata() {
		problems.add("7.6", value)
		return
	}
	if fd.IsDir && !fd.IsStopFolder {
		problems.add("7.7", value)
		return
	}

	spec, ok := sc.schema.DataColumn(header)
	if !ok {
		return
	}
	label := fd.Kind.String()
	if slices.Contains(spec.Kinds, label) {
		return
	}
	if spec.TextRequiresRaw && fd.Kind == model.KindText {
		if !rawValid {
			problems.add("7.11", value)
		}
		return
	}
	problems.add(spec.ID, value)
}
