package isatab

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
)

// Table — табличный ISA-файл (s_, a_ или m_). Заголовки упорядочены,
// повторяющиеся имена допустимы (например, "Term Source REF").
type Table struct {
	FileName string
	Headers  []string
	Rows     [][]string
}

// Index возвращает индекс первого столбца с именем name или -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// ColumnIndexes возвращает индексы всех столбцов с именем name.
func (t *Table) ColumnIndexes(name string) []int {
	var out []int
	for i, h := range t.Headers {
		if h == name {
			out = append(out, i)
		}
	}
	return out
}

// Column возвращает значения первого столбца name (nil, если столбца нет).
func (t *Table) Column(name string) []string {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	return t.ColumnAt(idx)
}

// ColumnAt возвращает значения столбца по индексу.
func (t *Table) ColumnAt(idx int) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// HeadersMatching возвращает индексы столбцов, для которых match вернул true.
func (t *Table) HeadersMatching(match func(string) bool) []int {
	var out []int
	for i, h := range t.Headers {
		if match(h) {
			out = append(out, i)
		}
	}
	return out
}

// AppendRow добавляет строку, выравнивая её по числу заголовков.
func (t *Table) AppendRow(row []string) {
	t.Rows = append(t.Rows, fitRow(row, len(t.Headers)))
}

// Value возвращает значение ячейки или "".
func (t *Table) Value(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// ParseTable разбирает табличный файл. Строки с другим числом столбцов
// выравниваются по заголовку, расхождение возвращается в issues.
func ParseTable(name string, text string) (*Table, []string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	t := &Table{FileName: name}
	var issues []string
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, issues, fmt.Errorf("ошибка разбора %s: %w", name, err)
		}
		line++
		if t.Headers == nil {
			t.Headers = make([]string, len(rec))
			for i, h := range rec {
				t.Headers[i] = strings.TrimSpace(h)
			}
			continue
		}
		if len(trimTrailingEmpty(rec)) == 0 {
			continue
		}
		if len(rec) != len(t.Headers) {
			issues = append(issues, fmt.Sprintf("%s: строка %d содержит %d столбцов вместо %d",
				name, line, len(rec), len(t.Headers)))
		}
		t.Rows = append(t.Rows, fitRow(rec, len(t.Headers)))
	}
	if t.Headers == nil {
		return nil, issues, fmt.Errorf("%s: %w", name, ErrEmptyTable)
	}
	return t, issues, nil
}

// Bytes сериализует таблицу: все значения в двойных кавычках.
func (t *Table) Bytes() []byte {
	var buf bytes.Buffer
	writeQuoted(&buf, t.Headers)
	for _, row := range t.Rows {
		writeQuoted(&buf, fitRow(row, len(t.Headers)))
	}
	return buf.Bytes()
}

// WriteTable атомарно записывает таблицу в dir/t.FileName.
func WriteTable(dir string, t *Table) error {
	path := filepath.Join(dir, t.FileName)
	if err := atomicfile.WriteFile(path, t.Bytes(), 0o644); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", t.FileName, err)
	}
	return nil
}

// ReadTable читает табличный файл с диска с откатом на Latin-1.
func ReadTable(path string) (*Table, []LoadIssue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	name := filepath.Base(path)
	text, latin1 := decode(data)

	var issues []LoadIssue
	if latin1 {
		issues = append(issues, LoadIssue{Kind: IssueLatin1, File: name})
	}
	t, shape, err := ParseTable(name, text)
	for _, s := range shape {
		issues = append(issues, LoadIssue{Kind: IssueShape, File: name, Value: s})
	}
	if err != nil {
		return nil, issues, err
	}
	return t, issues, nil
}

func writeQuoted(buf *bytes.Buffer, vals []string) {
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(quote(v))
	}
	buf.WriteByte('\n')
}

func fitRow(row []string, n int) []string {
	if len(row) == n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
