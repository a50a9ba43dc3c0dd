package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RuleKind — тип правила набора валидации.
type RuleKind string

const (
	// RuleMinLength — длина значения (в символах) не меньше Min
	RuleMinLength RuleKind = "min_length"
	// RuleMinCount — количество элементов не меньше Min
	RuleMinCount RuleKind = "min_count"
	// RuleEquals — значение равно Value
	RuleEquals RuleKind = "equals"
	// RuleRegex — значение соответствует Pattern
	RuleRegex RuleKind = "regex"
	// RuleEnum — значение входит в Values
	RuleEnum RuleKind = "enum"
	// RuleNotIn — значение не входит в Values (или не содержит их при Substring)
	RuleNotIn RuleKind = "not_in"
	// RuleCrossReference — значение присутствует во внешнем множестве
	RuleCrossReference RuleKind = "cross_reference"
)

// Rule — правило набора валидации. Все правила проверяются одним вычислителем Check.
type Rule struct {
	Kind       RuleKind `yaml:"kind"`
	Min        int      `yaml:"min,omitempty"`
	Value      string   `yaml:"value,omitempty"`
	Pattern    string   `yaml:"pattern,omitempty"`
	Values     []string `yaml:"values,omitempty"`
	IgnoreCase bool     `yaml:"ignore_case,omitempty"`
	Substring  bool     `yaml:"substring,omitempty"`
	TrimSuffix string   `yaml:"trim_suffix,omitempty"`
	// Level — статус детали при нарушении (по умолчанию error)
	Level Status `yaml:"level,omitempty"`
	// Description — описание правила для отчёта
	Description string `yaml:"description,omitempty"`

	re *regexp.Regexp
}

// compile проверяет параметры правила и готовит регулярное выражение.
func (r *Rule) compile() error {
	switch r.Kind {
	case RuleMinLength, RuleMinCount:
		if r.Min < 0 {
			return fmt.Errorf("отрицательный минимум %d", r.Min)
		}
	case RuleEquals, RuleCrossReference:
	case RuleEnum, RuleNotIn:
		if len(r.Values) == 0 {
			return fmt.Errorf("правило %s без значений", r.Kind)
		}
	case RuleRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("некорректное выражение %q: %w", r.Pattern, err)
		}
		r.re = re
	default:
		return fmt.Errorf("неизвестный тип правила %q", r.Kind)
	}

	switch r.Level {
	case "":
		r.Level = StatusError
	case StatusError, StatusWarning, StatusInfo:
	default:
		return fmt.Errorf("некорректный уровень %q", r.Level)
	}
	return nil
}

// Check проверяет строковое значение. refs используется только правилом
// cross_reference. Для min_count значение — количество элементов (CheckCount).
func (r *Rule) Check(value string, refs map[string]bool) bool {
	v := r.normalize(value)
	switch r.Kind {
	case RuleMinLength:
		return utf8.RuneCountInString(strings.TrimSpace(value)) >= r.Min
	case RuleMinCount:
		return false
	case RuleEquals:
		return v == r.normalize(r.Value)
	case RuleRegex:
		return r.re.MatchString(strings.TrimSpace(value))
	case RuleEnum:
		for _, allowed := range r.Values {
			if v == r.normalize(allowed) {
				return true
			}
		}
		return false
	case RuleNotIn:
		for _, denied := range r.Values {
			d := r.normalize(denied)
			if (r.Substring && strings.Contains(v, d)) || (!r.Substring && v == d) {
				return false
			}
		}
		return true
	case RuleCrossReference:
		return refs[strings.TrimSpace(value)]
	}
	return false
}

// CheckCount проверяет количество элементов правилом min_count.
func (r *Rule) CheckCount(n int) bool {
	return n >= r.Min
}

// Describe возвращает человекочитаемое условие правила для сообщений отчёта.
func (r *Rule) Describe() string {
	switch r.Kind {
	case RuleMinLength:
		return fmt.Sprintf("не короче %d символов", r.Min)
	case RuleMinCount:
		return fmt.Sprintf("не менее %d", r.Min)
	case RuleEquals:
		return fmt.Sprintf("равно %q", r.Value)
	case RuleRegex:
		return fmt.Sprintf("соответствует %q", r.Pattern)
	case RuleEnum:
		return "одно из: " + strings.Join(r.Values, ", ")
	case RuleNotIn:
		if r.Substring {
			return "не содержит: " + strings.Join(r.Values, ", ")
		}
		return "не из списка: " + strings.Join(r.Values, ", ")
	case RuleCrossReference:
		return "присутствует в связанном наборе"
	}
	return string(r.Kind)
}

// Summary возвращает описание правила из набора или, если его нет,
// описание, собранное из параметров.
func (r *Rule) Summary() string {
	if d := strings.TrimSpace(r.Description); d != "" {
		return d
	}
	return r.Describe()
}

func (r *Rule) normalize(v string) string {
	v = strings.TrimSpace(v)
	if r.TrimSuffix != "" {
		v = strings.TrimSpace(strings.TrimSuffix(v, r.TrimSuffix))
	}
	if r.IgnoreCase {
		v = strings.ToLower(v)
	}
	return v
}
