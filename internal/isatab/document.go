// Пакет isatab — чтение и запись ISA-Tab: investigation-файла
// (секции ключ/значения) и табличных s_/a_/m_ файлов.
//
// Investigation хранится в двух представлениях: сырой Document
// (упорядоченные секции и строки, включая неизвестные) и типизированная
// модель Investigation. При записи типизированные поля накладываются
// на Document, поэтому неизвестные секции и строки сохраняются.
package isatab

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Имена секций investigation-файла.
const (
	SectionOntologySources   = "ONTOLOGY SOURCE REFERENCE"
	SectionInvestigation     = "INVESTIGATION"
	SectionInvPublications   = "INVESTIGATION PUBLICATIONS"
	SectionInvContacts       = "INVESTIGATION CONTACTS"
	SectionStudy             = "STUDY"
	SectionDesignDescriptors = "STUDY DESIGN DESCRIPTORS"
	SectionStudyPublications = "STUDY PUBLICATIONS"
	SectionFactors           = "STUDY FACTORS"
	SectionAssays            = "STUDY ASSAYS"
	SectionProtocols         = "STUDY PROTOCOLS"
	SectionStudyContacts     = "STUDY CONTACTS"
)

// investigationSections — секции уровня investigation в каноническом порядке.
var investigationSections = []string{
	SectionOntologySources, SectionInvestigation, SectionInvPublications, SectionInvContacts,
}

// studySections — секции одного исследования в каноническом порядке.
var studySections = []string{
	SectionStudy, SectionDesignDescriptors, SectionStudyPublications, SectionFactors,
	SectionAssays, SectionProtocols, SectionStudyContacts,
}

// Row — строка секции: ключ и значения по столбцам.
type Row struct {
	Key    string
	Values []string
}

// Section — секция investigation-файла.
type Section struct {
	Name string
	// Study — индекс исследования для секций STUDY*, -1 для уровня investigation
	Study int
	Rows  []Row
}

// Get возвращает значения строки с ключом key.
func (s *Section) Get(key string) []string {
	for _, r := range s.Rows {
		if r.Key == key {
			return r.Values
		}
	}
	return nil
}

// Value возвращает i-е значение строки key или "".
func (s *Section) Value(key string, i int) string {
	vals := s.Get(key)
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

// Set заменяет значения строки key или добавляет строку в конец секции.
func (s *Section) Set(key string, values []string) {
	for i := range s.Rows {
		if s.Rows[i].Key == key {
			s.Rows[i].Values = values
			return
		}
	}
	s.Rows = append(s.Rows, Row{Key: key, Values: values})
}

// Width возвращает число столбцов значений (максимум по известным ключам).
func (s *Section) Width(keys ...string) int {
	n := 0
	for _, k := range keys {
		if l := len(trimTrailingEmpty(s.Get(k))); l > n {
			n = l
		}
	}
	return n
}

// Document — сырое представление investigation-файла.
type Document struct {
	Sections []*Section
	// Comments — строки, начинающиеся с '#', в исходном порядке (выводятся в начале файла)
	Comments []string
}

// StudyCount возвращает число блоков STUDY.
func (d *Document) StudyCount() int {
	n := 0
	for _, s := range d.Sections {
		if s.Name == SectionStudy {
			n++
		}
	}
	return n
}

// Section возвращает секцию по имени и индексу исследования или nil.
func (d *Document) Section(name string, study int) *Section {
	for _, s := range d.Sections {
		if s.Name == name && s.Study == study {
			return s
		}
	}
	return nil
}

// ensureSection возвращает существующую секцию или вставляет новую
// в каноническую позицию своей группы.
func (d *Document) ensureSection(name string, study int) *Section {
	if s := d.Section(name, study); s != nil {
		return s
	}
	sec := &Section{Name: name, Study: study}

	order := investigationSections
	if study >= 0 {
		order = studySections
	}
	rank := indexOf(order, name)

	// Позиция: после последней секции той же группы с меньшим рангом,
	// иначе перед первой секцией группы, иначе в конце группы/документа.
	insertAt := -1
	for i, s := range d.Sections {
		if s.Study != study {
			continue
		}
		if r := indexOf(order, s.Name); r >= 0 && r < rank {
			insertAt = i + 1
		} else if insertAt < 0 && r > rank {
			insertAt = i
		}
	}
	if insertAt < 0 {
		insertAt = d.groupEnd(study)
	}

	d.Sections = append(d.Sections, nil)
	copy(d.Sections[insertAt+1:], d.Sections[insertAt:])
	d.Sections[insertAt] = sec
	return sec
}

// groupEnd возвращает позицию вставки в конец группы секций.
func (d *Document) groupEnd(study int) int {
	if study < 0 {
		for i, s := range d.Sections {
			if s.Study >= 0 {
				return i
			}
		}
		return len(d.Sections)
	}
	end := -1
	for i, s := range d.Sections {
		if s.Study >= 0 && s.Study <= study {
			end = i + 1
		}
	}
	if end < 0 {
		return len(d.Sections)
	}
	return end
}

// removeStudiesFrom удаляет секции исследований с индексом >= n.
func (d *Document) removeStudiesFrom(n int) {
	kept := d.Sections[:0]
	for _, s := range d.Sections {
		if s.Study < n {
			kept = append(kept, s)
		}
	}
	d.Sections = kept
}

// isSectionHeader проверяет, является ли строка заголовком секции:
// один столбец, заглавные буквы.
func isSectionHeader(fields []string) bool {
	if len(trimTrailingEmpty(fields)) != 1 {
		return false
	}
	name := strings.TrimSpace(fields[0])
	return name != "" && name == strings.ToUpper(name) && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}

// ParseDocument разбирает investigation-файл (уже декодированный в UTF-8).
// Строки до первого заголовка секции относятся к секции "" уровня investigation.
func ParseDocument(text string) (*Document, error) {
	doc := &Document{}

	// Комментарии — только строки, начинающиеся с '#'
	var body strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			doc.Comments = append(doc.Comments, line)
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения investigation: %w", err)
	}

	r := csv.NewReader(strings.NewReader(body.String()))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var current *Section
	study := -1
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора investigation: %w", err)
		}
		if len(trimTrailingEmpty(fields)) == 0 {
			continue
		}

		if isSectionHeader(fields) {
			name := strings.TrimSpace(fields[0])
			switch {
			case name == SectionStudy:
				study++
			case strings.HasPrefix(name, "STUDY "):
				if study < 0 {
					study = 0
				}
			default:
				if study >= 0 && indexOf(investigationSections, name) >= 0 {
					return nil, fmt.Errorf("секция %s после секций STUDY", name)
				}
			}
			sectionStudy := -1
			if strings.HasPrefix(name, SectionStudy) {
				sectionStudy = study
			} else if study >= 0 {
				// Неизвестная секция внутри блока исследования
				sectionStudy = study
			}
			current = &Section{Name: name, Study: sectionStudy}
			doc.Sections = append(doc.Sections, current)
			continue
		}

		if current == nil {
			current = &Section{Name: "", Study: -1}
			doc.Sections = append(doc.Sections, current)
		}
		key := strings.TrimSpace(fields[0])
		current.Rows = append(current.Rows, Row{Key: key, Values: trimTrailingEmpty(fields[1:])})
	}

	return doc, nil
}

// Bytes сериализует документ: заголовки секций без кавычек,
// значения в двойных кавычках через табуляцию.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, c := range d.Comments {
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	for _, s := range d.Sections {
		if s.Name != "" {
			buf.WriteString(s.Name)
			buf.WriteByte('\n')
		}
		for _, r := range s.Rows {
			buf.WriteString(r.Key)
			for _, v := range r.Values {
				buf.WriteByte('\t')
				buf.WriteString(quote(v))
			}
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func trimTrailingEmpty(vals []string) []string {
	n := len(vals)
	for n > 0 && strings.TrimSpace(vals[n-1]) == "" {
		n--
	}
	return vals[:n]
}

func indexOf(items []string, v string) int {
	for i, item := range items {
		if item == v {
			return i
		}
	}
	return -1
}
