package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Метки таблицы пиков и карты SSID.
const (
	labelBiochemical  = "BIOCHEMICAL"
	labelChemicalName = "CHEMICAL_NAME"
	labelSample       = "SAMPLE"
	columnSampleName  = "SAMPLE_NAME"

	// labelSearchRows — число первых строк, в которых ищется строка BIOCHEMICAL
	labelSearchRows = 10
)

var (
	ssidPattern = regexp.MustCompile(`^(.*?)_?SSID_Data.*\.csv$`)
	peakPattern = regexp.MustCompile(`Peak_Area.*\.xlsx$`)
)

// ErrInput — входные файлы партнёра некорректны.
var ErrInput = errors.New("некорректные входные файлы")

// SSIDMap — карта образцов и методов одного sample-id.
type SSIDMap struct {
	// SampleID — префикс имени файла до SSID_Data (может быть пустым)
	SampleID string
	Path     string
	// Methods — столбцы методов в порядке файла (кроме SAMPLE_NAME)
	Methods []string
	// Samples — имя образца метода → SAMPLE_NAME по методам
	Samples map[string]map[string]string
	// SampleNames — SAMPLE_NAME в порядке строк
	SampleNames []string
}

// MethodSamples возвращает соответствие имён образцов метода и SAMPLE_NAME.
func (m *SSIDMap) MethodSamples(method string) map[string]string {
	return m.Samples[method]
}

// inputSet — проверенные входные файлы одного запуска.
type inputSet struct {
	maps  []*SSIDMap
	peaks map[string]*PeakTable
	mzml  []string
}

// checkInputs находит карты SSID и таблицы пиков и проверяет их структуру.
func checkInputs(files []string) (*inputSet, error) {
	var ssidFiles, peakFiles []string
	in := &inputSet{peaks: make(map[string]*PeakTable)}
	for _, f := range files {
		base := filepath.Base(f)
		switch {
		case ssidPattern.MatchString(base):
			ssidFiles = append(ssidFiles, f)
		case peakPattern.MatchString(base):
			peakFiles = append(peakFiles, f)
		case strings.EqualFold(filepath.Ext(base), ".mzml"):
			in.mzml = append(in.mzml, f)
		}
	}
	if len(ssidFiles) == 0 {
		return nil, fmt.Errorf("%w: не найдено ни одного файла *SSID_Data*.csv", ErrInput)
	}
	sort.Strings(ssidFiles)
	sort.Strings(in.mzml)

	seen := make(map[string]string)
	for _, f := range ssidFiles {
		m, err := readSSID(f)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.SampleID]; ok {
			return nil, fmt.Errorf("%w: sample-id %q задан файлами %s и %s",
				ErrInput, m.SampleID, filepath.Base(prev), filepath.Base(f))
		}
		seen[m.SampleID] = f

		var matched []string
		for _, p := range peakFiles {
			if strings.HasPrefix(filepath.Base(p), m.SampleID) {
				matched = append(matched, p)
			}
		}
		if len(matched) != 1 {
			return nil, fmt.Errorf("%w: для sample-id %q найдено таблиц *Peak_Area*.xlsx: %d, требуется одна",
				ErrInput, m.SampleID, len(matched))
		}
		peak, err := readPeakTable(matched[0])
		if err != nil {
			return nil, err
		}
		in.maps = append(in.maps, m)
		in.peaks[m.SampleID] = peak
	}
	return in, nil
}

// readSSID читает карту SSID: столбец SAMPLE_NAME и столбцы методов.
func readSSID(path string) (*SSIDMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	defer f.Close()

	sub := ssidPattern.FindStringSubmatch(filepath.Base(path))
	m := &SSIDMap{SampleID: sub[1], Path: path, Samples: make(map[string]map[string]string)}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: пустой файл", ErrInput, filepath.Base(path))
	}
	nameIdx := -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if strings.EqualFold(h, columnSampleName) {
			nameIdx = i
			continue
		}
		if h == "" {
			continue
		}
		if _, ok := lookupMethod(h); !ok {
			return nil, fmt.Errorf("%w: %s: неизвестный метод %q", ErrInput, filepath.Base(path), h)
		}
		m.Methods = append(m.Methods, h)
		m.Samples[h] = make(map[string]string)
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: %s: нет столбца %s", ErrInput, filepath.Base(path), columnSampleName)
	}
	if len(m.Methods) == 0 {
		return nil, fmt.Errorf("%w: %s: нет столбцов методов", ErrInput, filepath.Base(path))
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInput, filepath.Base(path), err)
		}
		if nameIdx >= len(rec) || strings.TrimSpace(rec[nameIdx]) == "" {
			continue
		}
		name := strings.TrimSpace(rec[nameIdx])
		m.SampleNames = append(m.SampleNames, name)
		for i, h := range header {
			if i == nameIdx || i >= len(rec) {
				continue
			}
			samples, ok := m.Samples[h]
			if !ok {
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				samples[v] = name
			}
		}
	}
	return m, nil
}

// PeakTable — таблица пиков партнёра (первый лист книги).
type PeakTable struct {
	Path string
	Rows [][]string
	// LabelRow, LabelCol — ячейка BIOCHEMICAL или CHEMICAL_NAME
	LabelRow, LabelCol int
	// Label — найденная метка
	Label string
}

// readPeakTable читает первый лист книги и проверяет метки.
func readPeakTable(path string) (*PeakTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInput, filepath.Base(path), err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s: книга не содержит листов", ErrInput, filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInput, filepath.Base(path), err)
	}
	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = strings.TrimSpace(rows[i][j])
		}
	}

	t := &PeakTable{Path: path, Rows: rows, LabelRow: -1}
	for i := 0; i < len(rows) && i < labelSearchRows && t.LabelRow < 0; i++ {
		for j, v := range rows[i] {
			if strings.EqualFold(v, labelBiochemical) || strings.EqualFold(v, labelChemicalName) {
				t.LabelRow, t.LabelCol, t.Label = i, j, strings.ToUpper(v)
				break
			}
		}
	}
	if t.LabelRow < 0 {
		return nil, fmt.Errorf("%w: %s: в первых %d строках нет строки %s или %s",
			ErrInput, filepath.Base(path), labelSearchRows, labelBiochemical, labelChemicalName)
	}

	hasSample := false
	for i := 0; i < len(rows) && i < 2 && !hasSample; i++ {
		for _, v := range rows[i] {
			if strings.Contains(strings.ToUpper(v), labelSample) {
				hasSample = true
				break
			}
		}
	}
	if !hasSample {
		return nil, fmt.Errorf("%w: %s: в первых двух строках нет столбца с меткой %s",
			ErrInput, filepath.Base(path), labelSample)
	}
	return t, nil
}

// cell возвращает значение ячейки или пустую строку.
func (t *PeakTable) cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// findRow возвращает строку (выше строки меток), содержащую одну из меток,
// и столбец метки. Метки сравниваются без учёта регистра, '_' и ' ' равны.
func (t *PeakTable) findRow(labels ...string) (row, col int) {
	for i := 0; i < t.LabelRow; i++ {
		for j, v := range t.Rows[i] {
			for _, l := range labels {
				if normalizeLabel(v) == normalizeLabel(l) {
					return i, j
				}
			}
		}
	}
	return -1, -1
}

func normalizeLabel(v string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), " ", "_"))
}
