package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bigkaa/metabostore/internal/isatab"
)

const testStudy = "MTBLS9992"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testNow() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}

const validMzML = `<?xml version="1.0" encoding="utf-8"?>
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0" id="mzml_%d">
  <cvList count="1">
    <cv id="MS" fullName="Proteomics Standards Initiative Mass Spectrometry Ontology" URI="https://purl.obolibrary.org/obo/ms.obo"/>
  </cvList>
  <fileDescription>
    <fileContent><cvParam cvRef="MS" accession="MS:1000579" name="MS1 spectrum" value=""/></fileContent>
  </fileDescription>
  <softwareList count="1"><software id="conv" version="1.0"/></softwareList>
  <instrumentConfigurationList count="1"><instrumentConfiguration id="IC1"/></instrumentConfigurationList>
  <dataProcessingList count="1"><dataProcessing id="DP1"/></dataProcessingList>
  <run id="run1" defaultInstrumentConfigurationRef="IC1">
    <spectrumList count="1" defaultDataProcessingRef="DP1">
      <spectrum index="0" id="scan=1" defaultArrayLength="2">
        <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="1"/>
        <binaryDataArrayList count="2">
          <binaryDataArray encodedLength="24">
            <cvParam cvRef="MS" accession="MS:1000514" name="m/z array" value=""/>
            <binary>AAAAAAAAWUAAAAAAAABpQA==</binary>
          </binaryDataArray>
          <binaryDataArray encodedLength="24">
            <cvParam cvRef="MS" accession="MS:1000515" name="intensity array" value=""/>
            <binary>AAAAAABAj0AAAAAAAECfQA==</binary>
          </binaryDataArray>
        </binaryDataArrayList>
      </spectrum>
    </spectrumList>
  </run>
</mzML>
`

// fakeConverter имитирует mzml2isa: по одной строке s_ и a_ на каждый mzML партии.
type fakeConverter struct {
	mu      sync.Mutex
	batches []string
	failOn  string
}

func (c *fakeConverter) Convert(_ context.Context, batchDir, study string) error {
	c.mu.Lock()
	c.batches = append(c.batches, filepath.Base(batchDir))
	c.mu.Unlock()
	if filepath.Base(batchDir) == c.failOn {
		return fmt.Errorf("%w: повреждённый спектр", ErrConversion)
	}

	entries, err := os.ReadDir(batchDir)
	if err != nil {
		return err
	}
	s := &isatab.Table{
		FileName: "s_" + study + ".txt",
		Headers: []string{"Source Name", "Characteristics[Organism]", "Term Source REF", "Term Accession Number",
			"Protocol REF", "Sample Name"},
	}
	a := &isatab.Table{
		FileName: "a_" + study + "_metabolite_profiling_mass_spectrometry.txt",
		Headers: []string{"Sample Name", "Protocol REF", "Parameter Value[Column model]", "Parameter Value[Column type]",
			"MS Assay Name", "Raw Spectral Data File", "Derived Spectral Data File", "Metabolite Assignment File"},
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".mzML" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".mzML")
		s.AppendRow([]string{name, "Homo sapiens", "NCBITAXON", "http://purl.obolibrary.org/obo/NCBITaxon_9606",
			"Sample collection", name})
		a.AppendRow([]string{name, "Extraction", "", "", name, name + ".raw", e.Name(), ""})
	}
	if err := isatab.WriteTable(batchDir, s); err != nil {
		return err
	}
	if err := isatab.WriteTable(batchDir, a); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(batchDir, "i_Investigation.txt"), []byte("INVESTIGATION\n"), 0o644)
}

// bundle — каталог исследования с данными партнёра.
type bundle struct {
	studyDir string
	mzmlDir  string
	mzml     []string
}

// writeBundle создаёт карту SSID (METHOD1 и METHOD3, шесть образцов),
// таблицу пиков и n файлов mzML в одном каталоге.
func writeBundle(t *testing.T, n int) *bundle {
	t.Helper()
	b := &bundle{studyDir: filepath.Join(t.TempDir(), testStudy)}
	b.mzmlDir = filepath.Join(b.studyDir, "FILES", "POS")
	require.NoError(t, os.MkdirAll(b.mzmlDir, 0o755))

	for i := 1; i <= n; i++ {
		p := filepath.Join(b.mzmlDir, fmt.Sprintf("sample_%02d.mzML", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf(validMzML, i)), 0o644))
		b.mzml = append(b.mzml, p)
	}

	var csv strings.Builder
	csv.WriteString("\ufeffSAMPLE_NAME,METHOD1,METHOD3\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&csv, "S%d,sample_%02d,sample_%02d\n", i, i, i+6)
	}
	require.NoError(t, os.WriteFile(filepath.Join(b.studyDir, "POS1_SSID_Data.csv"), []byte(csv.String()), 0o644))

	writePeakTable(t, filepath.Join(b.studyDir, "POS1_Peak_Area.xlsx"), [][]string{
		{"", "", "PARENT_SAMPLE_NAME", "S1", "S2", "S3", "S4", "S5", "S6"},
		{"", "", "CLIENT_ID", "C1", "C2", "C3", "C4", "C5", "C6"},
		{"BIOCHEMICAL", "FORMULA", "MASS", "", "", "", "", "", ""},
		{"glucose", "C6H12O6", "180.0634", "1.1", "1.2", "1.3", "1.4", "1.5", "1.6"},
		{"alanine", "C3H7NO2", "89.0477", "2.1", "2.2", "2.3", "2.4", "2.5", "2.6"},
	})
	return b
}

func writePeakTable(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &values))
	}
	require.NoError(t, f.SaveAs(path))
}

func newPipeline(t *testing.T, conv Converter, onRelease ReleaseDateUpdater) *Pipeline {
	t.Helper()
	p, err := New(Options{
		SkipFolderNames: []string{"audit", "__MACOSX"},
		Converter:       conv,
		OnRelease:       onRelease,
		Now:             testNow,
	}, testLogger())
	require.NoError(t, err)
	return p
}

func globBase(t *testing.T, dir, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Base(m))
	}
	sort.Strings(out)
	return out
}

// TestRun_MetabolonBatch проверяет полный запуск: 12 mzML, два метода, один sample-id.
func TestRun_MetabolonBatch(t *testing.T) {
	b := writeBundle(t, 12)
	conv := &fakeConverter{}
	var released time.Time
	p := newPipeline(t, conv, func(_ context.Context, study string, _, release time.Time) error {
		assert.Equal(t, testStudy, study)
		released = release
		return nil
	})

	res, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
	require.NoError(t, err)
	require.True(t, res.OK(), "итог: %v", res.Summary())
	assert.Equal(t, map[string]string{
		PhaseInputCheck:     StatusSuccessful,
		PhaseMzMLValidation: StatusSuccessful,
		PhaseConversion:     StatusSuccessful,
		PhaseISACreation:    StatusSuccessful,
	}, res.Summary())

	// Партии: 10 + 2 символических ссылки
	workDir := filepath.Join(b.studyDir, filepath.FromSlash(WorkDir))
	assert.Equal(t, []string{"MZML_0001", "MZML_0002"}, res.Batches)
	assert.Equal(t, []string{"MZML_0001", "MZML_0002"}, conv.batches)
	assert.Len(t, globBase(t, filepath.Join(workDir, "MZML_0001"), "*.mzML"), 10)
	assert.Len(t, globBase(t, filepath.Join(workDir, "MZML_0002"), "*.mzML"), 2)
	info, err := os.Lstat(filepath.Join(workDir, "MZML_0002", "sample_12.mzML"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "в партии должна быть ссылка, а не копия")

	// Созданные файлы
	assay1 := "a_MTBLS9992_POS1_METHOD1_rplc-pos-early_metabolite_profiling_mass_spectrometry.txt"
	assay3 := "a_MTBLS9992_POS1_METHOD3_rplc-neg_metabolite_profiling_mass_spectrometry.txt"
	maf := "m_MTBLS9992_POS1_metabolite_profiling_mass_spectrometry_v2_maf.tsv"
	assert.Equal(t, []string{assay1, assay3}, globBase(t, b.studyDir, "a_*"))
	assert.Equal(t, []string{maf}, globBase(t, b.studyDir, "m_*"))
	assert.Equal(t, []string{"s_MTBLS9992.txt"}, globBase(t, b.studyDir, "s_*"))
	assert.Equal(t, []string{"i_Investigation.txt"}, globBase(t, b.studyDir, "i_*"))

	// Investigation перечисляет ровно эти assay, дата публикации через год
	data, err := os.ReadFile(filepath.Join(b.studyDir, "i_Investigation.txt"))
	require.NoError(t, err)
	doc, err := isatab.ParseDocument(string(data))
	require.NoError(t, err)
	inv := isatab.FromDocument(doc)
	require.NotNil(t, inv.Study())
	st := inv.Study()
	assert.Equal(t, testStudy, inv.Identifier)
	assert.Equal(t, testStudy, st.Identifier)
	assert.Equal(t, "s_MTBLS9992.txt", st.FileName)
	assert.Equal(t, "2024-03-01", st.SubmissionDate)
	assert.Equal(t, "2025-03-01", st.PublicReleaseDate)
	assert.Equal(t, "2025-03-01", res.ReleaseDate)
	assert.Equal(t, testNow().AddDate(1, 0, 0), released)
	require.Len(t, st.Assays, 2)
	for i, name := range []string{assay1, assay3} {
		assert.Equal(t, name, st.Assays[i].FileName)
		assert.Equal(t, "metabolite profiling", st.Assays[i].MeasurementType.Term)
		assert.Equal(t, "mass spectrometry assay", st.Assays[i].TechnologyType.Term)
		assert.Equal(t, "Q Exactive", st.Assays[i].Platform)
	}

	// Assay METHOD3: имена образцов заменены на SAMPLE_NAME
	a, _, err := isatab.ReadTable(filepath.Join(b.studyDir, assay3))
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3", "S4", "S5", "S6"}, a.Column("Sample Name"))
	assert.Equal(t, a.Column("Sample Name"), a.Column("MS Assay Name"))
	assert.Equal(t, "sample_07.mzML", a.Column("Derived Spectral Data File")[0])
	assert.Equal(t, "Waters ACQUITY UPLC BEH C18", a.Column("Parameter Value[Column model]")[0])
	assert.Equal(t, "reverse phase", a.Column("Parameter Value[Column type]")[0])
	assert.Equal(t, maf, a.Column(isatab.ColumnMetaboliteAssignment)[0])

	// MAF: столбцы образцов и атрибуты метаболитов
	m, _, err := isatab.ReadTable(filepath.Join(b.studyDir, maf))
	require.NoError(t, err)
	assert.Equal(t, "database_identifier", m.Headers[0])
	assert.Equal(t, []string{"S1", "S2", "S3", "S4", "S5", "S6"}, m.Headers[len(m.Headers)-6:])
	assert.Equal(t, []string{"glucose", "alanine"}, m.Column("metabolite_identification"))
	assert.Equal(t, []string{"C6H12O6", "C3H7NO2"}, m.Column("chemical_formula"))
	assert.Equal(t, []string{"180.0634", "89.0477"}, m.Column("mass_to_charge"))
	assert.Equal(t, []string{"1.3", "2.3"}, m.Column("S3"))

	// Образцы без дубликатов, с идентификатором клиента
	s, _, err := isatab.ReadTable(filepath.Join(b.studyDir, "s_MTBLS9992.txt"))
	require.NoError(t, err)
	assert.Equal(t, sampleColumns, s.Headers)
	assert.Equal(t, []string{"S1", "S2", "S3", "S4", "S5", "S6"}, s.Column("Sample Name"))
	assert.Equal(t, []string{"C1", "C2", "C3", "C4", "C5", "C6"}, s.Column("Comment[Client ID]"))
	assert.Equal(t, "Homo sapiens", s.Column("Characteristics[Organism]")[0])
	assert.Equal(t, "NCBITAXON", s.Value(0, 2))
}

// TestRun_ReplacesPreviousMetadata проверяет перенос старых табличных
// метаданных и копию прежнего investigation.
func TestRun_ReplacesPreviousMetadata(t *testing.T) {
	b := writeBundle(t, 12)
	require.NoError(t, os.WriteFile(filepath.Join(b.studyDir, "a_old_assay.txt"), []byte("\"Sample Name\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.studyDir, "i_Investigation.txt"), []byte("INVESTIGATION\n"), 0o644))
	p := newPipeline(t, &fakeConverter{}, nil)

	_, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
	require.NoError(t, err)

	replaced := filepath.Join(b.studyDir, filepath.FromSlash(WorkDir), replacedDir)
	assert.FileExists(t, filepath.Join(replaced, "a_old_assay.txt"))
	assert.FileExists(t, filepath.Join(replaced, "i_Investigation.txt"))
	assert.NoFileExists(t, filepath.Join(b.studyDir, "a_old_assay.txt"))
	assert.Len(t, globBase(t, b.studyDir, "a_*"), 2)
}

// TestRun_InvalidMzML проверяет остановку на этапе проверки mzML.
func TestRun_InvalidMzML(t *testing.T) {
	b := writeBundle(t, 4)
	require.NoError(t, os.WriteFile(b.mzml[2], []byte(`<?xml version="1.0"?><mzXML/>`), 0o644))
	conv := &fakeConverter{}
	p := newPipeline(t, conv, nil)

	res, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPhase)
	assert.ErrorIs(t, err, ErrInvalidMzML)
	assert.False(t, res.OK())
	require.Len(t, res.Phases, 2)
	assert.Equal(t, StatusSuccessful, res.Phases[0].Status)
	assert.Equal(t, StatusFailed, res.Phases[1].Status)
	assert.Contains(t, res.Phases[1].Reason, "sample_03.mzML")
	require.Len(t, res.Invalid, 1)
	assert.Contains(t, res.Invalid[0].Reason, "mzXML")
	assert.Empty(t, conv.batches, "конвертер не должен запускаться")
}

// TestRun_TruncatedMzML проверяет, что оборванный или повреждённый mzML
// останавливает конвейер до конвертации.
func TestRun_TruncatedMzML(t *testing.T) {
	b := writeBundle(t, 3)
	data, err := os.ReadFile(b.mzml[0])
	require.NoError(t, err)
	cut := strings.Index(string(data), "<binaryDataArray ") + len("<binaryDataArr")
	require.NoError(t, os.WriteFile(b.mzml[0], data[:cut], 0o644))
	runAt := strings.Index(string(data), "<spectrumList")
	require.NoError(t, os.WriteFile(b.mzml[1], append(data[:runAt:runAt], "<<<<"...), 0o644))

	conv := &fakeConverter{}
	p := newPipeline(t, conv, nil)
	res, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
	require.ErrorIs(t, err, ErrInvalidMzML)
	require.Len(t, res.Invalid, 2)
	for _, inv := range res.Invalid {
		assert.Contains(t, inv.Reason, "оборван")
	}
	assert.Empty(t, conv.batches, "конвертер не должен запускаться")
}

// TestRun_InputCheckFailures проверяет ошибки структуры входных файлов.
func TestRun_InputCheckFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(t *testing.T, b *bundle)
		reason string
	}{
		{
			name: "нет карты SSID",
			modify: func(t *testing.T, b *bundle) {
				require.NoError(t, os.Remove(filepath.Join(b.studyDir, "POS1_SSID_Data.csv")))
			},
			reason: "SSID_Data",
		},
		{
			name: "две таблицы пиков",
			modify: func(t *testing.T, b *bundle) {
				writePeakTable(t, filepath.Join(b.studyDir, "POS1_Peak_Area_v2.xlsx"), [][]string{{"BIOCHEMICAL", "SAMPLE"}})
			},
			reason: "требуется одна",
		},
		{
			name: "нет строки BIOCHEMICAL",
			modify: func(t *testing.T, b *bundle) {
				writePeakTable(t, filepath.Join(b.studyDir, "POS1_Peak_Area.xlsx"), [][]string{
					{"PARENT_SAMPLE_NAME", "S1"},
					{"COMPOUND", "1"},
				})
			},
			reason: "BIOCHEMICAL",
		},
		{
			name: "нет метки SAMPLE",
			modify: func(t *testing.T, b *bundle) {
				writePeakTable(t, filepath.Join(b.studyDir, "POS1_Peak_Area.xlsx"), [][]string{
					{"GROUP", "A"},
					{"TIME", "1"},
					{"CHEMICAL_NAME", ""},
				})
			},
			reason: "SAMPLE",
		},
		{
			name: "неизвестный метод",
			modify: func(t *testing.T, b *bundle) {
				require.NoError(t, os.WriteFile(filepath.Join(b.studyDir, "POS1_SSID_Data.csv"),
					[]byte("SAMPLE_NAME,METHOD9\nS1,sample_01\n"), 0o644))
			},
			reason: "METHOD9",
		},
		{
			name: "нет mzML",
			modify: func(t *testing.T, b *bundle) {
				require.NoError(t, os.RemoveAll(b.mzmlDir))
			},
			reason: "mzML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := writeBundle(t, 2)
			tt.modify(t, b)
			p := newPipeline(t, &fakeConverter{}, nil)

			res, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInput)
			require.Len(t, res.Phases, 1)
			assert.Equal(t, PhaseInputCheck, res.Phases[0].Name)
			assert.Equal(t, StatusFailed, res.Phases[0].Status)
			assert.Contains(t, res.Phases[0].Reason, tt.reason)
		})
	}
}

// TestRun_ConverterFailure проверяет, что ошибка одной партии прерывает запуск.
func TestRun_ConverterFailure(t *testing.T) {
	b := writeBundle(t, 12)
	conv := &fakeConverter{failOn: "MZML_0002"}
	p := newPipeline(t, conv, nil)

	res, err := p.Run(context.Background(), Request{Study: testStudy, StudyDir: b.studyDir})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversion)
	require.Len(t, res.Phases, 3)
	assert.Equal(t, StatusFailed, res.Phases[2].Status)
	assert.Contains(t, res.Phases[2].Reason, "MZML_0002")
	assert.Empty(t, globBase(t, b.studyDir, "a_*"))
}

// TestRun_Canceled проверяет отмену до первого этапа.
func TestRun_Canceled(t *testing.T) {
	b := writeBundle(t, 2)
	p := newPipeline(t, &fakeConverter{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Run(ctx, Request{Study: testStudy, StudyDir: b.studyDir})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Phases)
}

// TestValidateMzML_Cache проверяет повторное использование кэша проверки.
func TestValidateMzML_Cache(t *testing.T) {
	b := writeBundle(t, 5)
	schema, err := LoadMzMLSchema("")
	require.NoError(t, err)
	cache := filepath.Join(t.TempDir(), ValidationCacheFile)

	invalid, checked, err := validateMzML(context.Background(), schema, b.mzml, cache, 2, testNow)
	require.NoError(t, err)
	assert.Empty(t, invalid)
	assert.Equal(t, 5, checked)
	assert.FileExists(t, cache)

	_, checked, err = validateMzML(context.Background(), schema, b.mzml, cache, 2, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, checked, "допустимые файлы из кэша не проверяются")

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(b.mzml[0], later, later))
	_, checked, err = validateMzML(context.Background(), schema, b.mzml, cache, 2, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, checked, "изменённый файл проверяется заново")
}

// TestMzMLSchema_Validate проверяет структуру документа по XSD.
func TestMzMLSchema_Validate(t *testing.T) {
	schema, err := LoadMzMLSchema("")
	require.NoError(t, err)
	assert.Equal(t, "mzML", schema.Root)
	assert.Equal(t, "http://psi.hupo.org/ms/mzml", schema.Namespace)
	require.Contains(t, schema.Types, "RunType")
	assert.Equal(t, []string{"version"}, schema.Types[schema.RootType].RequiredAttrs)
	assert.Equal(t, []string{"id", "defaultInstrumentConfigurationRef"}, schema.Types["RunType"].RequiredAttrs)
	assert.Equal(t, "cvParam", schema.Types["SpectrumType"].Children[1].Name, "содержимое базового типа идёт первым")

	valid := fmt.Sprintf(validMzML, 1)
	runAt := strings.Index(valid, "<run ")
	require.Positive(t, runAt)
	head := valid[:runAt]
	const ns = `xmlns="http://psi.hupo.org/ms/mzml"`
	const lists = `<softwareList count="1"><software/></softwareList>` +
		`<instrumentConfigurationList count="1"><instrumentConfiguration/></instrumentConfigurationList>` +
		`<dataProcessingList count="1"><dataProcessing/></dataProcessingList>`
	const header = `<mzML ` + ns + ` version="1"><cvList count="1"><cv id="MS" fullName="MS" URI="u"/></cvList>` +
		`<fileDescription><fileContent/></fileDescription>`
	const run = `<run id="r" defaultInstrumentConfigurationRef="IC1">`
	const spectrumOpen = `<spectrumList count="1" defaultDataProcessingRef="DP1">` +
		`<spectrum index="0" id="s" defaultArrayLength="1">`
	array := func(data string) string {
		return `<binaryDataArray encodedLength="8"><binary>` + data + `</binary></binaryDataArray>`
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"допустимый", valid, ""},
		{"индексированный", `<indexedmzML ` + ns + `>` + strings.TrimPrefix(valid, `<?xml version="1.0" encoding="utf-8"?>`) +
			`<indexList count="1"><index name="spectrum"><offset idRef="scan=1">0</offset></index></indexList>` +
			`<fileChecksum>0</fileChecksum></indexedmzML>`, ""},
		{"пустой run", header + lists + run + `</run></mzML>`, ""},
		{"другой корень", `<mzXML ` + ns + `/>`, "корневой элемент"},
		{"другое пространство имён", `<mzML xmlns="urn:other" version="1"/>`, "пространство имён"},
		{"нет version", `<mzML ` + ns + `><cvList/></mzML>`, "version"},
		{"нет softwareList", header + `<instrumentConfigurationList count="1"><instrumentConfiguration/>` +
			`</instrumentConfigurationList><dataProcessingList count="1"><dataProcessing/></dataProcessingList>` +
			run + `</run></mzML>`, "softwareList"},
		{"нарушен порядок", header + `<softwareList count="1"><software/></softwareList><sampleList/></mzML>`, "порядок"},
		{"лишний элемент", header + `<spectrum/></mzML>`, "недопустимый"},
		{"пустой корень", `<mzML ` + ns + ` version="1"></mzML>`, "cvList"},
		{"нет cv", `<mzML ` + ns + ` version="1"><cvList count="0"/></mzML>`, "cv"},
		{"оборван заголовок", `<mzML ` + ns + ` version="1"><cvList count="1"><cv id="MS" fullName="MS" URI="u"/></cvList><fileDescription>`, "оборван"},
		{"run без id", header + lists + `<run defaultInstrumentConfigurationRef="IC1"/></mzML>`, "id"},
		{"оборван спектр", head + `<run id="run1" defaultInstrumentConfigurationRef="IC1"><spectrumList count="1" ` +
			`defaultDataProcessingRef="DP1"><spectrum index="0" id="scan=1" defaultArrayLength="2"><binaryDataArr`, "оборван"},
		{"мусор внутри run", head + `<run id="run1" defaultInstrumentConfigurationRef="IC1"><notAnMzMLElement/><<<<`, "недопустимый"},
		{"некорректный XML внутри run", head + `<run id="run1" defaultInstrumentConfigurationRef="IC1"><<<<`, "повреждён"},
		{"нет закрывающего тега", strings.TrimSuffix(strings.TrimSpace(valid), "</mzML>"), "оборван"},
		{"один массив", header + lists + run + spectrumOpen +
			`<binaryDataArrayList count="1">` + array("AAAAAAAAWUA=") + `</binaryDataArrayList></spectrum></spectrumList></run></mzML>`,
			"binaryDataArray"},
		{"повреждённый base64", header + lists + run + spectrumOpen +
			`<binaryDataArrayList count="2">` + array("AAAAAAAAWUA=") + array("@@not-base64@@") +
			`</binaryDataArrayList></spectrum></spectrumList></run></mzML>`, "base64"},
		{"спектр без index", header + lists + run + `<spectrumList count="1" defaultDataProcessingRef="DP1">` +
			`<spectrum id="s" defaultArrayLength="1"/></spectrumList></run></mzML>`, "index"},
		{"второй корень", valid + `<mzML ` + ns + ` version="1"/>`, "после корня"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(strings.NewReader(tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestPlanBatches проверяет размер партий и отсутствие смешивания каталогов.
func TestPlanBatches(t *testing.T) {
	var files []string
	for i := 0; i < 12; i++ {
		files = append(files, fmt.Sprintf("/data/POS/f%02d.mzML", i))
	}
	for i := 0; i < 3; i++ {
		files = append(files, fmt.Sprintf("/data/NEG/f%02d.mzML", i))
	}

	batches := planBatches(files, BatchSize)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 2)
	for _, batch := range batches {
		dir := filepath.Dir(batch[0])
		for _, f := range batch {
			assert.Equal(t, dir, filepath.Dir(f))
		}
	}
}

// TestMakeBatches_ClearsPrevious проверяет удаление партий прошлого запуска.
func TestMakeBatches_ClearsPrevious(t *testing.T) {
	b := writeBundle(t, 3)
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "MZML_0007"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, ValidationCacheFile), []byte("{}"), 0o644))

	batches, err := makeBatches(workDir, b.mzml)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.NoDirExists(t, filepath.Join(workDir, "MZML_0007"))
	assert.FileExists(t, filepath.Join(workDir, ValidationCacheFile))

	target, err := os.Readlink(filepath.Join(workDir, "MZML_0001", "sample_01.mzML"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(target))
}

// TestMergeTables проверяет выравнивание повторяющихся столбцов.
func TestMergeTables(t *testing.T) {
	first := &isatab.Table{
		Headers: []string{"Sample Name", "Term Source REF", "Characteristics[Organism]", "Term Source REF"},
		Rows:    [][]string{{"a", "x1", "human", "x2"}},
	}
	second := &isatab.Table{
		Headers: []string{"Sample Name", "Term Source REF", "Extra"},
		Rows:    [][]string{{"b", "y1", "e"}},
	}

	merged := mergeTables("s_test.txt", []*isatab.Table{first, second})
	assert.Equal(t, []string{"Sample Name", "Term Source REF", "Characteristics[Organism]", "Term Source REF", "Extra"}, merged.Headers)
	assert.Equal(t, [][]string{
		{"a", "x1", "human", "x2", ""},
		{"b", "y1", "", "", "e"},
	}, merged.Rows)
}

// TestExecConverter проверяет передачу диагностики внешней программы.
func TestExecConverter(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh недоступен")
	}
	dir := t.TempDir()

	ok := ExecConverter{Command: "sh", Args: []string{"-c", `test "$2" = "$4" && test "$6" = MTBLS1`, "mzml2isa"}}
	assert.NoError(t, ok.Convert(context.Background(), dir, "MTBLS1"))

	fail := ExecConverter{Command: "sh", Args: []string{"-c", "echo 'повреждённый спектр' >&2; exit 3", "mzml2isa"}}
	err := fail.Convert(context.Background(), dir, "MTBLS1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversion))
	assert.Contains(t, err.Error(), "повреждённый спектр")
}
