package validation

import (
	"path"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
)

// checkFiles — дерево файлов исследования.
func checkFiles(sc *studyContext) *collector {
	c := newCollector(SectionFiles)

	var activeSamples, old, hidden, aspera, empty, unreferenced []string
	hasRaw, hasDerived := false, false
	for _, fd := range sc.files.All() {
		base := path.Base(fd.Path)
		switch fd.Kind {
		case model.KindAudit, model.KindInternal:
			continue
		}
		if fd.IsDir && !fd.IsStopFolder {
			continue
		}

		switch {
		case fd.Kind == model.KindSample && fd.Status == model.FileActive && path.Dir(fd.Path) == ".":
			activeSamples = append(activeSamples, fd.Path)
		case fd.Kind.IsMetadata() && fd.Status == model.FileOld:
			old = append(old, fd.Path)
		}

		if classifier.IsSystemFile(base) {
			hidden = append(hidden, fd.Path)
			continue
		}
		if fd.Kind == model.KindAsperaControl {
			aspera = append(aspera, fd.Path)
			continue
		}
		if fd.IsEmpty && !sc.ignore[base] {
			empty = append(empty, fd.Path)
		}

		switch fd.Kind {
		case model.KindRaw, model.KindCompressed:
			hasRaw = true
		case model.KindDerived:
			hasDerived = true
		}
		if fd.Status == model.FileUnreferenced && isDataKind(fd.Kind) {
			unreferenced = append(unreferenced, fd.Path)
		}
	}

	switch n := len(activeSamples); {
	case n == 0:
		c.add("1.1", StatusError, "", "", "Нет активного файла образцов s_*.txt")
	case n > 1:
		c.add("1.2", StatusError, "", paths(activeSamples), "Несколько активных файлов образцов")
	default:
		c.success("1.1", activeSamples[0], "Активный файл образцов найден")
	}

	if len(old) > 0 {
		c.add("2", StatusWarning, "", paths(old), "Файлы метаданных, не упомянутые в investigation: %d", len(old))
	} else {
		c.success("2", "", "Устаревших файлов метаданных нет")
	}

	if len(hidden) > 0 {
		c.add("3", StatusWarning, "", paths(hidden), "Служебные файлы ОС: %d", len(hidden))
	} else {
		c.success("3", "", "Служебных файлов ОС нет")
	}

	if len(aspera) > 0 {
		c.add("4", StatusError, "", paths(aspera), "Управляющие файлы незавершённой передачи Aspera: %d", len(aspera))
	} else {
		c.success("4", "", "Управляющих файлов Aspera нет")
	}

	if len(empty) > 0 {
		c.add("5", StatusError, "", paths(empty), "Пустые файлы: %d", len(empty))
	} else {
		c.success("5", "", "Пустых файлов нет")
	}

	if hasRaw {
		c.success("6", "", "Найдены сырые или архивные файлы данных")
	} else {
		c.add("6", StatusError, "", "", "Нет ни сырых, ни архивных файлов данных")
	}

	if hasDerived {
		c.success("7", "", "Найдены производные файлы данных")
	} else {
		c.add("7", StatusWarning, "", "", "Нет производных файлов данных")
	}

	if len(unreferenced) > 0 {
		c.add("8", StatusWarning, "", paths(unreferenced), "Файлы данных, не упомянутые в assay: %d", len(unreferenced))
	} else {
		c.success("8", "", "Все файлы данных упомянуты в assay")
	}

	if sc.files.Truncated() {
		c.add("9", StatusWarning, "", "", "Обход дерева файлов прерван по таймауту, список неполный")
	} else {
		c.success("9", "", "Обход дерева файлов завершён")
	}
	return c
}

func isDataKind(k model.FileKind) bool {
	switch k {
	case model.KindRaw, model.KindDerived, model.KindCompressed, model.KindSpreadsheet:
		return true
	}
	return false
}
