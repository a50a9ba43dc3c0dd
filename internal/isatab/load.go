package isatab

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
)

// DefaultInvestigationFile — имя investigation-файла при записи.
const DefaultInvestigationFile = "i_Investigation.txt"

// Ошибки загрузки.
var (
	// ErrInvestigationNotFound — в каталоге нет i_*.txt.
	ErrInvestigationNotFound = errors.New("investigation-файл не найден")
	// ErrInvestigationCorrupt — investigation-файл не удалось разобрать.
	ErrInvestigationCorrupt = errors.New("investigation-файл повреждён")
	// ErrEmptyTable — табличный файл без строки заголовков.
	ErrEmptyTable = errors.New("таблица без заголовков")
)

// IssueKind — тип замечания загрузчика.
type IssueKind string

const (
	// IssueLatin1 — файл не в UTF-8, прочитан как Latin-1.
	IssueLatin1 IssueKind = "latin1"
	// IssueNonPrintable — непечатаемые символы в текстовом поле.
	IssueNonPrintable IssueKind = "non_printable"
	// IssueURLFragment — URL с фрагментом '#'.
	IssueURLFragment IssueKind = "url_fragment"
	// IssueShape — строка таблицы с неверным числом столбцов.
	IssueShape IssueKind = "shape"
)

// LoadIssue — замечание загрузчика. Никогда не прерывает загрузку,
// валидатор превращает замечания в предупреждения отчёта.
type LoadIssue struct {
	Kind  IssueKind `json:"kind"`
	File  string    `json:"file"`
	Field string    `json:"field,omitempty"`
	Value string    `json:"value,omitempty"`
}

// LoadOptions — параметры загрузки.
type LoadOptions struct {
	// SkipLoadTables — не читать s_/a_/m_ таблицы
	SkipLoadTables bool
	// FileName — предпочтительное имя investigation-файла
	FileName string
}

// Bundle — загруженный набор метаданных исследования.
type Bundle struct {
	Dir               string
	InvestigationFile string
	Investigation     *Investigation
	// Tables — таблицы по имени файла
	Tables map[string]*Table
	// TableErrors — ошибки чтения таблиц по имени файла
	TableErrors map[string]error
	Issues      []LoadIssue
}

// SampleTable возвращает таблицу образцов первого исследования или nil.
func (b *Bundle) SampleTable() *Table {
	st := b.Investigation.Study()
	if st == nil || st.FileName == "" {
		return nil
	}
	return b.Tables[st.FileName]
}

// FindInvestigationFile ищет investigation-файл в dir: сначала preferred,
// затем первый по алфавиту i_*.txt.
func FindInvestigationFile(dir, preferred string) (string, error) {
	if preferred == "" {
		preferred = DefaultInvestigationFile
	}
	if fi, err := os.Stat(filepath.Join(dir, preferred)); err == nil && !fi.IsDir() {
		return preferred, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "i_*.txt"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrInvestigationNotFound
	}
	sort.Strings(matches)
	return filepath.Base(matches[0]), nil
}

// Load читает investigation-файл из dir и, если не запрещено, все
// упомянутые в нём таблицы. Ошибки отдельных таблиц не прерывают загрузку.
func Load(dir string, opts LoadOptions) (*Bundle, error) {
	name, err := FindInvestigationFile(dir, opts.FileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", name, err)
	}

	b := &Bundle{
		Dir:               dir,
		InvestigationFile: name,
		Tables:            make(map[string]*Table),
		TableErrors:       make(map[string]error),
	}

	text, latin1 := decode(data)
	if latin1 {
		b.Issues = append(b.Issues, LoadIssue{Kind: IssueLatin1, File: name})
	}
	doc, err := ParseDocument(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvestigationCorrupt, err)
	}
	b.Issues = append(b.Issues, inspectDocument(name, doc)...)
	b.Investigation = FromDocument(doc)

	if opts.SkipLoadTables {
		return b, nil
	}

	st := b.Investigation.Study()
	if st == nil {
		return b, nil
	}
	if st.FileName != "" {
		b.loadTable(st.FileName)
	}
	for _, a := range st.Assays {
		if a.FileName == "" {
			continue
		}
		t := b.loadTable(a.FileName)
		if t == nil {
			continue
		}
		for _, m := range nonEmpty(t.Column(ColumnMetaboliteAssignment)) {
			b.loadTable(m)
		}
	}
	return b, nil
}

func (b *Bundle) loadTable(name string) *Table {
	name = strings.TrimSpace(name)
	if t, ok := b.Tables[name]; ok {
		return t
	}
	if _, failed := b.TableErrors[name]; failed {
		return nil
	}
	t, issues, err := ReadTable(filepath.Join(b.Dir, name))
	b.Issues = append(b.Issues, issues...)
	if err != nil {
		b.TableErrors[name] = err
		return nil
	}
	b.Tables[name] = t
	return t
}

// WriteOptions — параметры записи investigation-файла.
type WriteOptions struct {
	// FileName — имя файла (по умолчанию i_Investigation.txt)
	FileName string
	// BackupDir — каталог снимка аудита для копии файла до записи
	BackupDir string
}

// WriteInvestigation атомарно записывает investigation в dir.
// Если задан BackupDir, текущая версия файла предварительно копируется туда.
func WriteInvestigation(dir string, inv *Investigation, opts WriteOptions) error {
	name := opts.FileName
	if name == "" {
		name = DefaultInvestigationFile
	}
	path := filepath.Join(dir, name)

	if opts.BackupDir != "" {
		prev, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
				return fmt.Errorf("ошибка создания каталога копии: %w", err)
			}
			if err := atomicfile.WriteFile(filepath.Join(opts.BackupDir, name), prev, 0o644); err != nil {
				return fmt.Errorf("ошибка копирования investigation: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("ошибка чтения investigation: %w", err)
		}
	}

	if err := atomicfile.WriteFile(path, inv.Document().Bytes(), 0o644); err != nil {
		return fmt.Errorf("ошибка записи investigation: %w", err)
	}
	return nil
}

// decode возвращает текст в UTF-8. Если data не является корректным
// UTF-8, текст декодируется как Latin-1 и второй результат равен true.
func decode(data []byte) (string, bool) {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data), false
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�"), true
	}
	return string(out), true
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// inspectDocument собирает замечания по значениям investigation-файла.
func inspectDocument(file string, doc *Document) []LoadIssue {
	var issues []LoadIssue
	for _, s := range doc.Sections {
		for _, r := range s.Rows {
			for _, v := range r.Values {
				if HasNonPrintable(v) {
					issues = append(issues, LoadIssue{Kind: IssueNonPrintable, File: file, Field: r.Key, Value: v})
				}
				if HasURLFragment(v) {
					issues = append(issues, LoadIssue{Kind: IssueURLFragment, File: file, Field: r.Key, Value: v})
				}
			}
		}
	}
	return issues
}

// HasNonPrintable проверяет наличие непечатаемых символов (кроме пробельных).
func HasNonPrintable(v string) bool {
	for _, r := range v {
		if r == utf8.RuneError || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			return true
		}
	}
	return false
}

// HasURLFragment проверяет, содержит ли значение URL с фрагментом '#'.
func HasURLFragment(v string) bool {
	lower := strings.ToLower(v)
	i := strings.Index(lower, "http")
	return i >= 0 && strings.Contains(lower[i:], "#")
}

func nonEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
