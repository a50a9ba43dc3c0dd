package validation

import (
	"errors"
	"strings"

	"github.com/bigkaa/metabostore/internal/isatab"
)

// checkBasic — наличие и структура investigation-файла.
func checkBasic(sc *studyContext) *collector {
	c := newCollector(SectionBasic)

	switch {
	case errors.Is(sc.loadErr, isatab.ErrInvestigationNotFound):
		c.add("1", StatusError, "", "", "Investigation-файл не найден")
		return c
	case sc.loadErr != nil && !errors.Is(sc.loadErr, isatab.ErrInvestigationCorrupt):
		c.add("1", StatusError, "", sc.loadErr.Error(), "Investigation-файл недоступен")
		return c
	}
	if sc.loadErr != nil {
		c.success("1", "", "Investigation-файл найден")
		c.add("2", StatusError, "", sc.loadErr.Error(), "Investigation-файл не удалось разобрать")
		return c
	}

	file := sc.bundle.InvestigationFile
	c.success("1", file, "Investigation-файл найден")
	c.success("2", file, "Investigation-файл разобран")

	inv := sc.bundle.Investigation
	switch n := len(inv.Studies); {
	case n == 0:
		c.add("3", StatusError, file, "", "Investigation не содержит исследований")
		return c
	case n > 1:
		c.add("3", StatusError, file, "", "Investigation содержит %d исследований, ожидалось одно", n)
	default:
		c.success("3", file, "Investigation содержит одно исследование")
	}

	st := sc.study
	if strings.TrimSpace(st.FileName) == "" {
		c.add("4", StatusError, file, "", "Не указан файл образцов (Study File Name)")
	} else {
		c.success("4", file, "Указан файл образцов %s", st.FileName)
	}

	if len(st.Assays) == 0 {
		c.add("5", StatusError, file, "", "Не указано ни одного assay")
	} else {
		c.success("5", file, "Указано assay: %d", len(st.Assays))
	}

	if len(st.Factors) == 0 {
		c.add("6", StatusError, file, "", "Не указано ни одного фактора")
	} else {
		c.success("6", file, "Указано факторов: %d", len(st.Factors))
	}

	r := sc.schema.Rule(SectionBasic, "design_descriptors")
	c.rule("7", r, r.CheckCount(len(st.DesignDescriptors)), file, "",
		"Дескрипторов дизайна: %d (требуется %s)", len(st.DesignDescriptors), r.Describe())

	r = sc.schema.Rule(SectionBasic, "title")
	c.rule("8", r, r.Check(st.Title, nil), file, st.Title,
		"Название исследования: %s", r.Describe())

	r = sc.schema.Rule(SectionBasic, "description")
	c.rule("9", r, r.Check(st.Description, nil), file, "",
		"Описание исследования: %s", r.Describe())

	release := releaseDate(st, inv)
	switch {
	case sc.dbRelease.IsZero():
		c.add("10", StatusInfo, file, release, "Дата публикации в базе не задана")
	case release == sc.dbRelease.UTC().Format(dateLayout):
		c.success("10", file, "Дата публикации совпадает с базой")
	default:
		c.add("10", StatusError, file, release,
			"Дата публикации %q не совпадает с датой в базе %s", release, sc.dbRelease.UTC().Format(dateLayout))
	}

	if strings.TrimSpace(st.Identifier) == sc.accession {
		c.success("11", file, "Идентификатор исследования совпадает с accession")
	} else {
		c.add("11", StatusError, file, st.Identifier,
			"Идентификатор исследования %q не совпадает с accession %s", st.Identifier, sc.accession)
	}
	return c
}

// releaseDate возвращает дату публикации исследования (или investigation)
// в формате YYYY-MM-DD.
func releaseDate(st *isatab.Study, inv *isatab.Investigation) string {
	v := strings.TrimSpace(st.PublicReleaseDate)
	if v == "" {
		v = strings.TrimSpace(inv.PublicReleaseDate)
	}
	if len(v) > len(dateLayout) {
		v = v[:len(dateLayout)]
	}
	return v
}

// checkISATab — замечания загрузчика ISA-Tab: кодировка, непечатаемые
// символы, фрагменты URL и ошибки чтения таблиц.
func checkISATab(sc *studyContext) *collector {
	c := newCollector(SectionISATab)
	if sc.bundle == nil {
		c.add("4", StatusError, "", "", "ISA-Tab не загружен: нет investigation-файла")
		return c
	}

	byKind := map[isatab.IssueKind][]isatab.LoadIssue{}
	for _, is := range sc.bundle.Issues {
		byKind[is.Kind] = append(byKind[is.Kind], is)
	}

	if issues := byKind[isatab.IssueLatin1]; len(issues) > 0 {
		for _, is := range issues {
			c.add("1", StatusWarning, is.File, "", "Файл не в кодировке UTF-8, прочитан как Latin-1")
		}
	} else {
		c.success("1", "", "Все файлы метаданных в кодировке UTF-8")
	}

	if issues := byKind[isatab.IssueNonPrintable]; len(issues) > 0 {
		for _, is := range issues {
			c.add("2", StatusWarning, is.File, is.Value, "Непечатаемые символы в поле %q", is.Field)
		}
	} else {
		c.success("2", "", "Непечатаемые символы не обнаружены")
	}

	if issues := byKind[isatab.IssueURLFragment]; len(issues) > 0 {
		for _, is := range issues {
			c.add("3", StatusWarning, is.File, is.Value, "URL с фрагментом '#' в поле %q", is.Field)
		}
	} else {
		c.success("3", "", "URL с фрагментами не обнаружены")
	}

	failed := false
	for _, name := range sortedKeys(sc.bundle.TableErrors) {
		failed = true
		c.add("4", StatusError, name, sc.bundle.TableErrors[name].Error(), "Таблица не загружена")
	}
	for _, is := range byKind[isatab.IssueShape] {
		failed = true
		c.add("4", StatusWarning, is.File, is.Value, "Строка таблицы с неверным числом столбцов")
	}
	if !failed {
		c.success("4", sc.bundle.InvestigationFile, "ISA-Tab загружен: таблиц %d", len(sc.bundle.Tables))
	}
	return c
}
