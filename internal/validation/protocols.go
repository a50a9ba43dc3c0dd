package validation

import (
	"strings"

	"github.com/bigkaa/metabostore/internal/isatab"
)

// checkProtocols — протоколы исследования против ожидаемого набора технологии.
func checkProtocols(sc *studyContext) *collector {
	c := newCollector(SectionProtocols)
	if sc.study == nil {
		return c
	}
	file := sc.bundle.InvestigationFile
	protocols := sc.study.Protocols

	expected, ok := sc.schema.Protocols[sc.technology]
	if !ok {
		c.add("1", StatusError, file, "", "Не удалось определить технологию исследования по assay")
	} else {
		c.success("1", file, "Технология исследования: %s", sc.technology)
		checkProtocolSet(c, sc, file, protocols, expected)
	}

	for _, p := range protocols {
		checkProtocolDescription(c, sc, file, p)
	}
	return c
}

// checkProtocolSet сверяет количество, порядок, типы и параметры протоколов.
func checkProtocolSet(c *collector, sc *studyContext, file string, protocols []isatab.Protocol, expected []ProtocolSpec) {
	switch {
	case len(protocols) < len(expected):
		c.add("2", StatusError, file, "", "Протоколов %d, ожидалось %d", len(protocols), len(expected))
	case len(protocols) > len(expected):
		c.add("2", StatusWarning, file, "", "Протоколов %d, ожидалось %d", len(protocols), len(expected))
	default:
		c.success("2", file, "Количество протоколов соответствует ожидаемому")
	}

	typeRule := sc.schema.Rule(SectionProtocols, "type")
	paramRule := sc.schema.Rule(SectionProtocols, "parameters")
	for i, spec := range expected {
		if i >= len(protocols) {
			c.add("3", StatusError, file, spec.Name, "Отсутствует протокол %q", spec.Name)
			continue
		}
		p := protocols[i]
		if !strings.EqualFold(strings.TrimSpace(p.Name), spec.Name) {
			c.add("3", StatusError, file, p.Name, "Протокол %d: ожидалось %q, указано %q", i+1, spec.Name, p.Name)
			continue
		}
		c.success("3", file, "Протокол %d: %s", i+1, spec.Name)

		typeOK := typeRule.Check(p.Type.Term, nil) && strings.EqualFold(strings.TrimSpace(p.Type.Term), spec.ExpectedType())
		c.rule("4", typeRule, typeOK, file, p.Type.Term, "Тип протокола %q: ожидалось %q", spec.Name, spec.ExpectedType())

		if len(spec.Parameters) == 0 {
			continue
		}
		declared := make(map[string]bool)
		for _, name := range p.ParameterNames() {
			declared[name] = true
		}
		var missing []string
		for _, want := range spec.Parameters {
			if !paramRule.Check(want, declared) {
				missing = append(missing, want)
			}
		}
		c.rule("9", paramRule, len(missing) == 0, file, strings.Join(missing, "; "),
			"Параметры протокола %q", spec.Name)
	}
}

// checkProtocolDescription проверяет описание одного протокола.
func checkProtocolDescription(c *collector, sc *studyContext, file string, p isatab.Protocol) {
	desc := strings.TrimSpace(p.Description)

	if isatab.HasNonPrintable(desc) {
		c.add("5", StatusError, file, p.Name, "Описание протокола %q содержит непечатаемые символы", p.Name)
	} else {
		c.success("5", file, "Описание протокола %q печатаемо", p.Name)
	}

	placeholder := sc.schema.Rule(SectionProtocols, "placeholder")
	if !placeholder.Check(desc, nil) {
		c.add("8", placeholder.Level, file, p.Name, "Описание протокола %q не заполнено: текст-заглушка", p.Name)
		return
	}

	if sc.schema.Rule(SectionProtocols, "description_exception").Check(desc, nil) {
		c.success("6.1", file, "Описание протокола %q: допустимое краткое описание", p.Name)
		return
	}

	r := sc.schema.Rule(SectionProtocols, "description")
	c.rule("6", r, r.Check(desc, nil), file, p.Name, "Описание протокола %q: %s", p.Name, r.Describe())

	r = sc.schema.Rule(SectionProtocols, "description_sentences")
	c.rule("7", r, r.Check(desc, nil), file, p.Name, "Описание протокола %q содержит больше одного предложения", p.Name)
}
