package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bigkaa/metabostore/internal/isatab"
)

// Столбцы ISA-таблиц, которые переписывает конвейер.
const (
	colSampleName     = "Sample Name"
	colSourceName     = "Source Name"
	colMSAssayName    = "MS Assay Name"
	colProtocolREF    = "Protocol REF"
	colTermSource     = "Term Source REF"
	colTermAccession  = "Term Accession Number"
	colColumnModel    = "Parameter Value[Column model]"
	colColumnType     = "Parameter Value[Column type]"
	colScanPolarity   = "Parameter Value[Scan polarity]"
	colClientID       = "Comment[Client ID]"
	colParentSample   = "Comment[Parent Sample Name]"
	colOrganism       = "Characteristics[Organism]"
	colOrganismPart   = "Characteristics[Organism part]"
	colSampleType     = "Characteristics[Sample type]"
	sampleProtocolREF = "Sample collection"

	mafIdentification = "metabolite_identification"

	dateLayout = "2006-01-02"
)

// sampleColumns — канонический набор столбцов s_-файла.
var sampleColumns = []string{
	colSourceName,
	colOrganism, colTermSource, colTermAccession,
	colOrganismPart, colTermSource, colTermAccession,
	colSampleType, colTermSource, colTermAccession,
	colProtocolREF,
	colSampleName,
	colClientID,
	colParentSample,
}

// Типы assay, записываемые в investigation.
var (
	measurementMetaboliteProfiling = isatab.OntologyAnnotation{
		Term:      "metabolite profiling",
		Accession: "http://purl.obolibrary.org/obo/OBI_0000366",
		Source:    "OBI",
	}
	technologyMassSpectrometry = isatab.OntologyAnnotation{
		Term:      "mass spectrometry assay",
		Accession: "http://purl.obolibrary.org/obo/OBI_0000470",
		Source:    "OBI",
	}
)

// assayPlatform — платформа assay Metabolon.
const assayPlatform = "Q Exactive"

// mafAttributes — соответствие атрибутов таблицы пиков столбцам MAF.
// Для database_identifier берётся первый непустой из перечисленных.
var mafAttributes = []struct {
	column string
	labels []string
}{
	{"database_identifier", []string{"CHEBI", "HMDB", "PUBCHEM", "KEGG"}},
	{"chemical_formula", []string{"FORMULA", "CHEMICAL_FORMULA"}},
	{"smiles", []string{"SMILES"}},
	{"inchi", []string{"INCHI"}},
	{"mass_to_charge", []string{"MASS", "MZ", "M/Z"}},
	{"retention_time", []string{"RT", "RETENTION_TIME"}},
}

// fileStem возвращает <study>[_<sample-id>].
func fileStem(study, sampleID string) string {
	if sampleID == "" {
		return study
	}
	return study + "_" + sampleID
}

func sampleFileName(study string) string {
	return "s_" + study + ".txt"
}

func assayFileName(study, sampleID string, m Method, method string) string {
	return fmt.Sprintf("a_%s_%s_%s_metabolite_profiling_mass_spectrometry.txt", fileStem(study, sampleID), method, m.Prefix)
}

func mafFileName(study, sampleID string) string {
	return fmt.Sprintf("m_%s_metabolite_profiling_mass_spectrometry_v2_maf.tsv", fileStem(study, sampleID))
}

// readBatchTables читает s_ и a_ файлы, созданные конвертером в каталоге партии.
func readBatchTables(dir string) (samples, assays []*isatab.Table, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		var dst *[]*isatab.Table
		switch {
		case strings.HasPrefix(name, "s_"):
			dst = &samples
		case strings.HasPrefix(name, "a_"):
			dst = &assays
		default:
			continue
		}
		t, _, err := isatab.ReadTable(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		*dst = append(*dst, t)
	}
	return samples, assays, nil
}

// mergeTables объединяет таблицы. Столбцы сопоставляются по имени и номеру
// вхождения имени, поэтому повторяющиеся столбцы (Term Source REF и т.п.)
// не смешиваются. Порядок столбцов — порядок первого появления.
func mergeTables(name string, tables []*isatab.Table) *isatab.Table {
	out := &isatab.Table{FileName: name}
	index := make(map[string]int)
	mapping := make([][]int, len(tables))
	for ti, t := range tables {
		seen := make(map[string]int)
		mapping[ti] = make([]int, len(t.Headers))
		for i, h := range t.Headers {
			key := fmt.Sprintf("%s\x00%d", h, seen[h])
			seen[h]++
			idx, ok := index[key]
			if !ok {
				idx = len(out.Headers)
				index[key] = idx
				out.Headers = append(out.Headers, h)
			}
			mapping[ti][i] = idx
		}
	}
	for ti, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Headers))
			for i, v := range row {
				if i < len(mapping[ti]) {
					merged[mapping[ti][i]] = v
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// setAll записывает value во все столбцы name строки row.
func setAll(t *isatab.Table, row []string, name, value string) {
	for _, idx := range t.ColumnIndexes(name) {
		row[idx] = value
	}
}

// deriveAssays строит по одному assay-файлу на метод каждой карты SSID.
func deriveAssays(study string, in *inputSet, merged *isatab.Table) ([]*isatab.Table, error) {
	nameIdx := merged.Index(colSampleName)
	if nameIdx < 0 {
		return nil, fmt.Errorf("в assay-файлах конвертера нет столбца %s", colSampleName)
	}
	var out []*isatab.Table
	for _, m := range in.maps {
		for _, method := range m.Methods {
			meta, _ := lookupMethod(method)
			samples := m.MethodSamples(method)
			t := &isatab.Table{
				FileName: assayFileName(study, m.SampleID, meta, method),
				Headers:  append([]string(nil), merged.Headers...),
			}
			for _, row := range merged.Rows {
				name, ok := samples[row[nameIdx]]
				if !ok {
					continue
				}
				r := append([]string(nil), row...)
				setAll(t, r, colSampleName, name)
				setAll(t, r, colMSAssayName, name)
				setAll(t, r, colColumnModel, meta.ColumnModel)
				setAll(t, r, colColumnType, meta.Chromatography)
				setAll(t, r, colScanPolarity, meta.Polarity)
				setAll(t, r, isatab.ColumnMetaboliteAssignment, mafFileName(study, m.SampleID))
				t.Rows = append(t.Rows, r)
			}
			if len(t.Rows) == 0 {
				return nil, fmt.Errorf("нет строк assay для метода %s (sample-id %q)", method, m.SampleID)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// parseAnnotationTemplate возвращает заголовки шаблона MAF.
func parseAnnotationTemplate(data []byte) ([]string, error) {
	t, _, err := isatab.ParseTable("annotation template", string(data))
	if err != nil {
		return nil, err
	}
	return t.Headers, nil
}

// buildMAF строит файл аннотаций из таблицы пиков. Второй результат —
// соответствие PARENT_SAMPLE_NAME → CLIENT_ID.
func buildMAF(headers []string, peak *PeakTable, fileName string) (*isatab.Table, map[string]string, error) {
	parentRow, parentCol := peak.findRow("PARENT SAMPLE NAME", "PARENT_SAMPLE_NAME")
	if parentRow < 0 {
		return nil, nil, fmt.Errorf("%s: нет строки PARENT_SAMPLE_NAME", filepath.Base(peak.Path))
	}
	clientRow, _ := peak.findRow("CLIENT ID", "CLIENT_IDENTIFIER")

	// Столбцы образцов — правее метки PARENT_SAMPLE_NAME
	type sampleCol struct {
		col  int
		name string
	}
	var samples []sampleCol
	clients := make(map[string]string)
	seen := make(map[string]bool)
	for j := parentCol + 1; j < len(peak.Rows[parentRow]); j++ {
		name := peak.cell(parentRow, j)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		samples = append(samples, sampleCol{col: j, name: name})
		if clientRow >= 0 {
			clients[name] = peak.cell(clientRow, j)
		}
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("%s: нет столбцов образцов", filepath.Base(peak.Path))
	}

	// Атрибуты метаболитов — строка BIOCHEMICAL левее столбцов образцов
	attrs := make(map[string]int)
	for j, v := range peak.Rows[peak.LabelRow] {
		if j >= samples[0].col || v == "" {
			continue
		}
		if _, ok := attrs[normalizeLabel(v)]; !ok {
			attrs[normalizeLabel(v)] = j
		}
	}

	t := &isatab.Table{FileName: fileName, Headers: append([]string(nil), headers...)}
	for _, s := range samples {
		t.Headers = append(t.Headers, s.name)
	}
	idIdx := t.Index(mafIdentification)
	if idIdx < 0 {
		return nil, nil, fmt.Errorf("в шаблоне аннотаций нет столбца %s", mafIdentification)
	}

	for i := peak.LabelRow + 1; i < len(peak.Rows); i++ {
		id := peak.cell(i, peak.LabelCol)
		if id == "" {
			continue
		}
		row := make([]string, len(t.Headers))
		row[idIdx] = id
		for _, a := range mafAttributes {
			idx := t.Index(a.column)
			if idx < 0 {
				continue
			}
			for _, l := range a.labels {
				col, ok := attrs[normalizeLabel(l)]
				if !ok {
					continue
				}
				if v := peak.cell(i, col); v != "" {
					row[idx] = attributeValue(l, v)
					break
				}
			}
		}
		for k, s := range samples {
			row[len(headers)+k] = peak.cell(i, s.col)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, clients, nil
}

// attributeValue приводит идентификатор ChEBI к виду CHEBI:<n>.
func attributeValue(label, v string) string {
	if label == "CHEBI" && !strings.HasPrefix(strings.ToUpper(v), "CHEBI:") {
		return "CHEBI:" + v
	}
	return v
}

// annotationAt возвращает значение характеристики и двух следующих за ней
// столбцов онтологии.
func annotationAt(t *isatab.Table, row []string, name string) [3]string {
	var out [3]string
	idx := t.Index(name)
	if idx < 0 {
		return out
	}
	out[0] = row[idx]
	if idx+2 < len(t.Headers) && t.Headers[idx+1] == colTermSource && t.Headers[idx+2] == colTermAccession {
		out[1], out[2] = row[idx+1], row[idx+2]
	}
	return out
}

// buildSamples строит s_-файл: строки образцов конвертера с именами из
// карт SSID и идентификаторами клиента из таблиц пиков. Дубликаты
// Sample Name удаляются.
func buildSamples(study string, in *inputSet, merged *isatab.Table, clients map[string]string) (*isatab.Table, error) {
	nameIdx := merged.Index(colSampleName)
	if nameIdx < 0 {
		return nil, fmt.Errorf("в s_-файлах конвертера нет столбца %s", colSampleName)
	}
	resolve := func(methodSample string) (string, bool) {
		for _, m := range in.maps {
			for _, method := range m.Methods {
				if name, ok := m.MethodSamples(method)[methodSample]; ok {
					return name, true
				}
			}
		}
		return "", false
	}

	t := &isatab.Table{FileName: sampleFileName(study), Headers: append([]string(nil), sampleColumns...)}
	seen := make(map[string]bool)
	for _, row := range merged.Rows {
		name, ok := resolve(row[nameIdx])
		if !ok || seen[name] {
			continue
		}
		seen[name] = true

		out := []string{name}
		for _, c := range []string{colOrganism, colOrganismPart, colSampleType} {
			a := annotationAt(merged, row, c)
			out = append(out, a[:]...)
		}
		out = append(out, sampleProtocolREF, name, clients[name], name)
		t.Rows = append(t.Rows, out)
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("ни один образец конвертера не найден в картах SSID")
	}
	return t, nil
}

// buildInvestigation заполняет шаблон investigation: идентификатор,
// файл образцов, список assay и даты.
func buildInvestigation(template []byte, study string, assays []string, now time.Time) (*isatab.Investigation, error) {
	doc, err := isatab.ParseDocument(string(template))
	if err != nil {
		return nil, fmt.Errorf("шаблон investigation: %w", err)
	}
	inv := isatab.FromDocument(doc)
	st := inv.Study()
	if st == nil {
		return nil, fmt.Errorf("шаблон investigation не содержит секции STUDY")
	}

	submission := now.Format(dateLayout)
	release := now.AddDate(1, 0, 0).Format(dateLayout)

	inv.Identifier = study
	inv.SubmissionDate = submission
	inv.PublicReleaseDate = release
	st.Identifier = study
	st.FileName = sampleFileName(study)
	st.SubmissionDate = submission
	st.PublicReleaseDate = release

	sorted := append([]string(nil), assays...)
	sort.Strings(sorted)
	st.Assays = st.Assays[:0]
	for _, name := range sorted {
		st.Assays = append(st.Assays, isatab.Assay{
			FileName:        name,
			MeasurementType: measurementMetaboliteProfiling,
			TechnologyType:  technologyMassSpectrometry,
			Platform:        assayPlatform,
		})
	}
	return inv, nil
}
