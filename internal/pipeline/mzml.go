package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/metabostore/internal/storage/atomicfile"
)

// ValidationCacheFile — файл кэша результатов проверки mzML в рабочем каталоге.
const ValidationCacheFile = "validation_result.json"

// indexedRoot — обёртка индексированного mzML.
const indexedRoot = "indexedmzML"

// base64Type — встроенный тип XSD для двоичных массивов.
const base64Type = "base64Binary"

// MzMLSchema — структурные ограничения mzML, извлечённые из XSD:
// пространство имён, корневой элемент и составные типы.
type MzMLSchema struct {
	Namespace string
	Root      string
	RootType  string
	Types     map[string]*SchemaType
}

// SchemaType — составной тип: последовательность дочерних элементов и
// обязательные атрибуты (с учётом базового типа при расширении).
type SchemaType struct {
	Name          string
	Children      []SchemaChild
	RequiredAttrs []string
}

// SchemaChild — элемент последовательности. Max < 0 — без ограничения.
type SchemaChild struct {
	Name string
	Type string
	Min  int
	Max  int
}

type xsdDocument struct {
	TargetNamespace string           `xml:"targetNamespace,attr"`
	Elements        []xsdElement     `xml:"element"`
	ComplexTypes    []xsdComplexType `xml:"complexType"`
}

type xsdElement struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	MinOccurs string `xml:"minOccurs,attr"`
	MaxOccurs string `xml:"maxOccurs,attr"`
}

type xsdComplexType struct {
	Name       string         `xml:"name,attr"`
	Sequence   []xsdElement   `xml:"sequence>element"`
	Attributes []xsdAttribute `xml:"attribute"`
	Extension  *xsdExtension  `xml:"complexContent>extension"`
}

type xsdExtension struct {
	Base       string         `xml:"base,attr"`
	Sequence   []xsdElement   `xml:"sequence>element"`
	Attributes []xsdAttribute `xml:"attribute"`
}

type xsdAttribute struct {
	Name string `xml:"name,attr"`
	Use  string `xml:"use,attr"`
}

// ParseMzMLSchema разбирает XSD mzML.
func ParseMzMLSchema(data []byte) (*MzMLSchema, error) {
	var doc xsdDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("разбор XSD: %w", err)
	}
	if len(doc.Elements) == 0 {
		return nil, errors.New("XSD не объявляет корневой элемент")
	}

	raw := make(map[string]xsdComplexType, len(doc.ComplexTypes))
	for _, ct := range doc.ComplexTypes {
		raw[ct.Name] = ct
	}
	s := &MzMLSchema{
		Namespace: doc.TargetNamespace,
		Root:      doc.Elements[0].Name,
		RootType:  localName(doc.Elements[0].Type),
		Types:     make(map[string]*SchemaType, len(raw)),
	}
	for name := range raw {
		if _, err := s.resolve(raw, name, 0); err != nil {
			return nil, err
		}
	}
	if s.Types[s.RootType] == nil {
		return nil, fmt.Errorf("XSD не описывает тип %s", s.RootType)
	}
	return s, nil
}

// resolve строит тип name, подставляя содержимое базового типа.
func (s *MzMLSchema) resolve(raw map[string]xsdComplexType, name string, depth int) (*SchemaType, error) {
	if t, ok := s.Types[name]; ok {
		return t, nil
	}
	ct, ok := raw[name]
	if !ok {
		return nil, fmt.Errorf("XSD не описывает базовый тип %s", name)
	}
	if depth > len(raw) {
		return nil, fmt.Errorf("XSD: цикл наследования типа %s", name)
	}

	t := &SchemaType{Name: name}
	seq, attrs := ct.Sequence, ct.Attributes
	if ext := ct.Extension; ext != nil {
		base, err := s.resolve(raw, localName(ext.Base), depth+1)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, base.Children...)
		t.RequiredAttrs = append(t.RequiredAttrs, base.RequiredAttrs...)
		seq, attrs = append(seq, ext.Sequence...), append(attrs, ext.Attributes...)
	}
	for _, el := range seq {
		child, err := parseChild(el)
		if err != nil {
			return nil, fmt.Errorf("XSD, тип %s: %w", name, err)
		}
		t.Children = append(t.Children, child)
	}
	for _, a := range attrs {
		if a.Use == "required" {
			t.RequiredAttrs = append(t.RequiredAttrs, a.Name)
		}
	}
	s.Types[name] = t
	return t, nil
}

func parseChild(el xsdElement) (SchemaChild, error) {
	c := SchemaChild{Name: el.Name, Type: localName(el.Type), Min: 1, Max: 1}
	if el.MinOccurs != "" {
		n, err := strconv.Atoi(el.MinOccurs)
		if err != nil || n < 0 {
			return c, fmt.Errorf("элемент %s: minOccurs %q", el.Name, el.MinOccurs)
		}
		c.Min = n
	}
	switch el.MaxOccurs {
	case "":
	case "unbounded":
		c.Max = -1
	default:
		n, err := strconv.Atoi(el.MaxOccurs)
		if err != nil || n < c.Min {
			return c, fmt.Errorf("элемент %s: maxOccurs %q", el.Name, el.MaxOccurs)
		}
		c.Max = n
	}
	return c, nil
}

// LoadMzMLSchema читает XSD из файла или возвращает встроенную схему.
func LoadMzMLSchema(path string) (*MzMLSchema, error) {
	data := defaultMzMLSchema
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("чтение XSD %s: %w", path, err)
		}
	}
	return ParseMzMLSchema(data)
}

func localName(qname string) string {
	if i := strings.LastIndex(qname, ":"); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

// Validate проверяет документ целиком: корень и пространство имён,
// обязательные атрибуты и последовательности дочерних элементов всех
// описанных в XSD типов, содержимое двоичных массивов (base64).
// Документ читается до конца и должен быть корректным XML.
func (s *MzMLSchema) Validate(r io.Reader) error {
	d := xml.NewDecoder(r)
	root, err := nextStart(d)
	if err != nil {
		return fmt.Errorf("корневой элемент не найден: %w", err)
	}
	depth := 0
	if root.Name.Local == indexedRoot {
		if root, err = nextStart(d); err != nil {
			return fmt.Errorf("элемент %s не найден внутри %s", s.Root, indexedRoot)
		}
		depth = 1
	}
	if root.Name.Local != s.Root {
		return fmt.Errorf("корневой элемент %s, ожидается %s", root.Name.Local, s.Root)
	}
	if s.Namespace != "" && root.Name.Space != s.Namespace {
		return fmt.Errorf("пространство имён %q, ожидается %q", root.Name.Space, s.Namespace)
	}
	if err := s.validateElement(d, root, s.RootType); err != nil {
		return err
	}
	return readTrailer(d, depth)
}

// validateElement проверяет элемент se, открывающий тег которого уже прочитан.
// Элементы неописанных типов проверяются только на корректность XML.
func (s *MzMLSchema) validateElement(d *xml.Decoder, se xml.StartElement, typeName string) error {
	t := s.Types[typeName]
	if t == nil {
		if typeName == base64Type {
			return readBinary(d, se.Name.Local)
		}
		if err := d.Skip(); err != nil {
			return tokenError(se.Name.Local, err)
		}
		return nil
	}
	for _, name := range t.RequiredAttrs {
		if !hasAttr(se, name) {
			return fmt.Errorf("%s: нет обязательного атрибута %s", se.Name.Local, name)
		}
	}
	return s.validateSequence(d, se.Name.Local, t)
}

// validateSequence проверяет дочерние элементы по последовательности типа t
// до закрывающего тега родителя.
func (s *MzMLSchema) validateSequence(d *xml.Decoder, parent string, t *SchemaType) error {
	pos, count := 0, 0
	for {
		tok, err := d.Token()
		if err != nil {
			return tokenError(parent, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			name := el.Name.Local
			if s.Namespace != "" && el.Name.Space != s.Namespace {
				return fmt.Errorf("%s: элемент %s вне пространства имён %s", parent, name, s.Namespace)
			}
			idx := -1
			if pos < len(t.Children) && t.Children[pos].Name == name {
				if c := t.Children[pos]; c.Max >= 0 && count >= c.Max {
					return fmt.Errorf("%s: элемент %s встречается чаще допустимого", parent, name)
				}
				idx = pos
			} else {
				for i := pos + 1; i < len(t.Children); i++ {
					if t.Children[i].Name == name {
						idx = i
						break
					}
				}
				if idx < 0 {
					if childIndex(t, name) >= 0 {
						return fmt.Errorf("%s: элемент %s нарушает порядок", parent, name)
					}
					return fmt.Errorf("%s: недопустимый элемент %s", parent, name)
				}
				if err := missingBetween(parent, t, pos, count, idx); err != nil {
					return err
				}
				pos, count = idx, 0
			}
			count++
			if err := s.validateElement(d, el, t.Children[idx].Type); err != nil {
				return err
			}
		case xml.EndElement:
			return missingBetween(parent, t, pos, count, len(t.Children))
		}
	}
}

// missingBetween проверяет, что текущий элемент pos встретился не реже
// minOccurs, а пропускаемые элементы (pos; next) необязательны.
func missingBetween(parent string, t *SchemaType, pos, count, next int) error {
	if pos < len(t.Children) && count < t.Children[pos].Min {
		return fmt.Errorf("%s: нет обязательного элемента %s", parent, t.Children[pos].Name)
	}
	for i := pos + 1; i < next; i++ {
		if t.Children[i].Min > 0 {
			return fmt.Errorf("%s: нет обязательного элемента %s", parent, t.Children[i].Name)
		}
	}
	return nil
}

func childIndex(t *SchemaType, name string) int {
	for i, c := range t.Children {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// readBinary читает содержимое элемента base64Binary и проверяет кодировку.
func readBinary(d *xml.Decoder, name string) error {
	var buf strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return tokenError(name, err)
		}
		switch el := tok.(type) {
		case xml.CharData:
			buf.Write(el)
		case xml.StartElement:
			return fmt.Errorf("%s: недопустимый элемент %s", name, el.Name.Local)
		case xml.EndElement:
			data := strings.Join(strings.Fields(buf.String()), "")
			if _, err := base64.StdEncoding.DecodeString(data); err != nil {
				return fmt.Errorf("%s: повреждённые данные base64: %w", name, err)
			}
			return nil
		}
	}
}

// readTrailer дочитывает документ после корня mzML: индекс обёртки
// indexedmzML должен быть корректным XML, других корневых элементов нет.
func readTrailer(d *xml.Decoder, depth int) error {
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			if depth != 0 {
				return fmt.Errorf("документ оборван: не закрыт %s", indexedRoot)
			}
			return nil
		}
		if err != nil {
			return tokenError(indexedRoot, err)
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				return errors.New("лишний элемент после корня документа")
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

func tokenError(element string, err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("документ оборван внутри %s", element)
	}
	return fmt.Errorf("документ оборван или повреждён внутри %s: %w", element, err)
}

// ValidateFile проверяет файл.
func (s *MzMLSchema) ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Validate(f)
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func hasAttr(se xml.StartElement, name string) bool {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

// MzMLResult — результат проверки одного файла.
type MzMLResult struct {
	Path      string    `json:"path"`
	Valid     bool      `json:"valid"`
	Reason    string    `json:"reason,omitempty"`
	ModTime   time.Time `json:"mod_time"`
	CheckedAt time.Time `json:"checked_at"`
}

// validationCache — результаты проверки по абсолютному пути.
type validationCache map[string]MzMLResult

func loadValidationCache(path string) validationCache {
	cache := validationCache{}
	if err := atomicfile.ReadJSON(path, &cache); err != nil {
		return validationCache{}
	}
	return cache
}

// validateMzML проверяет файлы параллельно (не более limit одновременно)
// и возвращает недопустимые. Файлы, уже отмеченные в кэше как допустимые
// и не изменённые с тех пор, не проверяются повторно.
func validateMzML(ctx context.Context, schema *MzMLSchema, files []string, cachePath string, limit int, now func() time.Time) ([]MzMLResult, int, error) {
	cache := loadValidationCache(cachePath)

	var (
		mu      sync.Mutex
		checked int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, 0, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, 0, fmt.Errorf("файл mzML %s: %w", f, err)
		}
		mu.Lock()
		prev, ok := cache[abs]
		mu.Unlock()
		if ok && prev.Valid && prev.ModTime.Equal(info.ModTime().UTC()) {
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := MzMLResult{Path: abs, Valid: true, ModTime: info.ModTime().UTC(), CheckedAt: now().UTC()}
			if err := schema.ValidateFile(abs); err != nil {
				res.Valid = false
				res.Reason = err.Error()
			}
			mu.Lock()
			cache[abs] = res
			checked++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, checked, err
	}
	if err := atomicfile.WriteJSON(cachePath, cache); err != nil {
		return nil, checked, fmt.Errorf("сохранение кэша проверки mzML: %w", err)
	}

	var invalid []MzMLResult
	for _, f := range files {
		abs, _ := filepath.Abs(f)
		if r := cache[abs]; !r.Valid {
			invalid = append(invalid, r)
		}
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i].Path < invalid[j].Path })
	return invalid, checked, nil
}
