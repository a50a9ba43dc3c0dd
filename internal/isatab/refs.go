package isatab

import (
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Заголовки столбцов со ссылками на файлы.
const (
	ColumnMetaboliteAssignment = "Metabolite Assignment File"
	dataFileSuffix             = "Data File"
)

// IsFileColumn проверяет, содержит ли столбец ссылки на файлы.
func IsFileColumn(header string) bool {
	return header == ColumnMetaboliteAssignment || strings.HasSuffix(header, dataFileSuffix)
}

// References возвращает множество файлов, на которые ссылается
// исследование: сам investigation-файл, таблица образцов, assay-файлы
// и непустые значения файловых столбцов таблиц образцов и assay.
func References(b *Bundle) model.ReferenceSet {
	refs := model.NewReferenceSet()
	if b == nil {
		return refs
	}
	refs.Add(b.InvestigationFile)

	st := b.Investigation.Study()
	if st == nil {
		return refs
	}

	scan := func(t *Table) {
		if t == nil {
			return
		}
		for _, idx := range t.HeadersMatching(IsFileColumn) {
			for _, v := range t.ColumnAt(idx) {
				refs.Add(v)
			}
		}
	}

	refs.Add(st.FileName)
	scan(b.Tables[strings.TrimSpace(st.FileName)])
	for _, a := range st.Assays {
		refs.Add(a.FileName)
		scan(b.Tables[strings.TrimSpace(a.FileName)])
	}
	return refs
}
