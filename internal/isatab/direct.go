package isatab

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Способы чтения заголовка и описания исследования.
const (
	MethodISA    = "isa"
	MethodDirect = "direct"
)

// ErrUnknownMethod — неизвестный способ чтения.
var ErrUnknownMethod = errors.New("неизвестный способ чтения")

// TitleDescription — заголовок и описание исследования.
type TitleDescription struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ReadTitleDescription читает заголовок и описание исследования из
// investigation-файла path. MethodISA использует полный разбор,
// MethodDirect просматривает только строки "Study Title" и
// "Study Description" (с откатом на "Investigation ...").
func ReadTitleDescription(path, method string) (TitleDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TitleDescription{}, fmt.Errorf("ошибка чтения investigation: %w", err)
	}
	text, _ := decode(data)

	switch method {
	case "", MethodISA:
		doc, err := ParseDocument(text)
		if err != nil {
			return TitleDescription{}, fmt.Errorf("%w: %v", ErrInvestigationCorrupt, err)
		}
		inv := FromDocument(doc)
		td := TitleDescription{Title: inv.Title, Description: inv.Description}
		if st := inv.Study(); st != nil {
			td = TitleDescription{
				Title:       firstNonEmpty(st.Title, inv.Title),
				Description: firstNonEmpty(st.Description, inv.Description),
			}
		}
		return td, nil
	case MethodDirect:
		return readDirect(text), nil
	default:
		return TitleDescription{}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

// readDirect извлекает значения без разбора секций. Берётся первая
// строка с ключом; значение — первый столбец после ключа, кавычки
// снимаются, удвоенные кавычки внутри заменяются одинарными.
func readDirect(text string) TitleDescription {
	found := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		key, rest, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		switch key {
		case "Study Title", "Study Description", "Investigation Title", "Investigation Description":
			if _, seen := found[key]; !seen {
				found[key] = firstField(rest)
			}
		}
	}
	return TitleDescription{
		Title:       firstNonEmpty(found["Study Title"], found["Investigation Title"]),
		Description: firstNonEmpty(found["Study Description"], found["Investigation Description"]),
	}
}

// firstField возвращает первое значение строки. Значение в кавычках
// может содержать табуляции; незакрытая кавычка продолжается до конца строки.
func firstField(rest string) string {
	if !strings.HasPrefix(rest, `"`) {
		v, _, _ := strings.Cut(rest, "\t")
		return strings.TrimSpace(v)
	}
	var buf bytes.Buffer
	s := rest[1:]
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			buf.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			buf.WriteByte('"')
			i++
			continue
		}
		break
	}
	return strings.TrimSpace(buf.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
