package pipeline

import "strings"

// Method — метод измерения партнёра.
type Method struct {
	Name string
	// Prefix — дескриптор хроматографии и колонки в имени assay-файла
	Prefix         string
	Chromatography string
	ColumnModel    string
	Polarity       string
}

// methods — таблица методов Metabolon.
var methods = []Method{
	{"METHOD1", "rplc-pos-early", "reverse phase", "Waters ACQUITY UPLC BEH C18", "positive"},
	{"METHOD2", "rplc-pos-late", "reverse phase", "Waters ACQUITY UPLC BEH C18", "positive"},
	{"METHOD3", "rplc-neg", "reverse phase", "Waters ACQUITY UPLC BEH C18", "negative"},
	{"METHOD4", "hilic-neg", "hilic", "Waters ACQUITY UPLC BEH Amide", "negative"},
}

// lookupMethod ищет метод по имени без учёта регистра.
func lookupMethod(name string) (Method, bool) {
	for _, m := range methods {
		if strings.EqualFold(m.Name, strings.TrimSpace(name)) {
			return m, true
		}
	}
	return Method{}, false
}
