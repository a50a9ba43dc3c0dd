// Пакет isatest — построение корректного дерева исследования для тестов:
// investigation, таблица образцов, assay, файл аннотаций и файлы данных.
package isatest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bigkaa/metabostore/internal/isatab"
)

// Options — параметры создаваемого исследования.
type Options struct {
	// Accession — идентификатор (по умолчанию MTBLS1)
	Accession string
	// Organism — значение Characteristics[Organism] (по умолчанию Homo sapiens)
	Organism string
	// Samples — число образцов (по умолчанию 3)
	Samples int
	// ReleaseDate — дата публикации в формате YYYY-MM-DD
	ReleaseDate string
	// SubmissionDate — дата подачи в формате YYYY-MM-DD
	SubmissionDate string
}

// Study — описание созданного исследования.
type Study struct {
	Dir            string
	Accession      string
	SampleFile     string
	AssayFile      string
	AnnotationFile string
	RawFiles       []string
	DerivedFiles   []string
	Investigation  *isatab.Investigation
	SampleNames    []string
	AssayNames     []string
	ReleaseDate    string
	SubmissionDate string
}

// MSProtocols — протоколы масс-спектрометрического исследования по умолчанию.
var MSProtocols = []isatab.Protocol{
	{Name: "Sample collection", Parameters: ""},
	{Name: "Extraction", Parameters: "Post Extraction;Derivatization"},
	{Name: "Chromatography", Parameters: "Chromatography Instrument;Autosampler model;Column model;Column type;Guard column"},
	{Name: "Mass spectrometry", Parameters: "Scan polarity;Scan m/z range;Instrument;Ion source;Mass analyzer"},
	{Name: "Data transformation", Parameters: ""},
	{Name: "Metabolite identification", Parameters: ""},
}

// AssayHeaders — столбцы LC-MS assay-файла.
var AssayHeaders = []string{
	"Sample Name", "Protocol REF", "Parameter Value[Post Extraction]", "Parameter Value[Derivatization]",
	"Extract Name", "Protocol REF", "Parameter Value[Chromatography Instrument]",
	"Parameter Value[Autosampler model]", "Parameter Value[Column model]", "Parameter Value[Column type]",
	"Parameter Value[Guard column]", "Labeled Extract Name", "Label", "Protocol REF",
	"Parameter Value[Scan polarity]", "Parameter Value[Scan m/z range]", "Parameter Value[Instrument]",
	"Parameter Value[Ion source]", "Parameter Value[Mass analyzer]", "MS Assay Name",
	"Raw Spectral Data File", "Protocol REF", "Normalization Name", "Derived Spectral Data File",
	"Protocol REF", "Data Transformation Name", "Protocol REF", "Metabolite Assignment File",
}

// SampleHeaders — столбцы таблицы образцов.
var SampleHeaders = []string{
	"Source Name", "Characteristics[Organism]", "Term Source REF", "Term Accession Number",
	"Characteristics[Organism part]", "Term Source REF", "Term Accession Number",
	"Protocol REF", "Sample Name", "Factor Value[Gender]",
}

// MAFHeaders — столбцы файла аннотаций (масс-спектрометрия).
var MAFHeaders = []string{
	"database_identifier", "chemical_formula", "smiles", "inchi", "metabolite_identification",
	"mass_to_charge", "fragmentation", "modifications", "charge", "retention_time",
	"taxid", "species", "database", "database_version", "reliability", "uri",
	"search_engine", "search_engine_score", "smallmolecule_abundance_sub",
	"smallmolecule_abundance_stdev_sub", "smallmolecule_abundance_std_error_sub",
}

// WriteStudy создаёт в dir корректное LC-MS исследование.
func WriteStudy(t testing.TB, dir string, opts Options) *Study {
	t.Helper()
	if opts.Accession == "" {
		opts.Accession = "MTBLS1"
	}
	if opts.Organism == "" {
		opts.Organism = "Homo sapiens"
	}
	if opts.Samples <= 0 {
		opts.Samples = 3
	}
	if opts.ReleaseDate == "" {
		opts.ReleaseDate = "2024-02-01"
	}
	if opts.SubmissionDate == "" {
		opts.SubmissionDate = "2024-01-01"
	}

	acc := opts.Accession
	st := &Study{
		Dir:            dir,
		Accession:      acc,
		SampleFile:     "s_" + acc + ".txt",
		AssayFile:      "a_" + acc + "_LC-MS_positive_reverse-phase_metabolite_profiling.txt",
		AnnotationFile: "m_" + acc + "_LC-MS_positive_reverse-phase_metabolite_profiling_v2_maf.tsv",
		ReleaseDate:    opts.ReleaseDate,
		SubmissionDate: opts.SubmissionDate,
	}

	st.Investigation = Investigation(st)
	if err := isatab.WriteInvestigation(dir, st.Investigation, isatab.WriteOptions{}); err != nil {
		t.Fatalf("ошибка записи investigation: %v", err)
	}

	samples := &isatab.Table{FileName: st.SampleFile, Headers: SampleHeaders}
	assay := &isatab.Table{FileName: st.AssayFile, Headers: AssayHeaders}
	for i := 1; i <= opts.Samples; i++ {
		name := acc + "_S" + strconv.Itoa(i)
		st.SampleNames = append(st.SampleNames, name)
		gender := "female"
		if i%2 == 0 {
			gender = "male"
		}
		samples.AppendRow([]string{
			"SRC_" + strconv.Itoa(i), opts.Organism, "NCBITAXON", "http://purl.obolibrary.org/obo/NCBITaxon_9606",
			"blood plasma", "UBERON", "http://purl.obolibrary.org/obo/UBERON_0001969",
			"Sample collection", name, gender,
		})

		raw := "FILES/" + name + ".raw"
		derived := "FILES/" + name + ".mzML"
		st.RawFiles = append(st.RawFiles, raw)
		st.DerivedFiles = append(st.DerivedFiles, derived)
		assayName := name + "_POS"
		st.AssayNames = append(st.AssayNames, assayName)
		assay.AppendRow([]string{
			name, "Extraction", "none", "none",
			name + "_E", "Chromatography", "Thermo Vanquish",
			"Vanquish autosampler", "Hypersil GOLD C18", "Reverse phase",
			"none", name + "_LE", "", "Mass spectrometry",
			"positive", "70-1050", "Q Exactive",
			"electrospray ionization", "orbitrap", assayName,
			raw, "Data transformation", "", derived,
			"Metabolite identification", "", "", st.AnnotationFile,
		})

		mustMkdir(t, filepath.Join(dir, raw))
		mustWrite(t, filepath.Join(dir, raw, "_FUNC001.DAT"), "raw data")
		mustWrite(t, filepath.Join(dir, derived), "<mzML/>")
	}
	write(t, dir, samples)
	write(t, dir, assay)

	maf := &isatab.Table{FileName: st.AnnotationFile, Headers: append(append([]string{}, MAFHeaders...), st.SampleNames...)}
	row := make([]string, len(maf.Headers))
	copy(row, []string{"CHEBI:15377", "H2O", "O", "InChI=1S/H2O/h1H2", "water", "19.018", "", "", "1", "1.25"})
	for i := len(MAFHeaders); i < len(row); i++ {
		row[i] = "1000"
	}
	maf.AppendRow(row)
	write(t, dir, maf)

	return st
}

// Investigation строит investigation для исследования st.
func Investigation(st *Study) *isatab.Investigation {
	protocols := make([]isatab.Protocol, len(MSProtocols))
	for i, p := range MSProtocols {
		p.Type = isatab.OntologyAnnotation{Term: p.Name}
		p.Description = "The " + strings.ToLower(p.Name) + " step followed the standard laboratory procedure. " +
			"All samples were processed in a single batch."
		protocols[i] = p
	}

	return &isatab.Investigation{
		Identifier:        st.Accession,
		Title:             "Investigation",
		SubmissionDate:    st.SubmissionDate,
		PublicReleaseDate: st.ReleaseDate,
		OntologySources: []isatab.OntologySource{
			{Name: "NCBITAXON", File: "http://purl.obolibrary.org/obo/ncbitaxon.owl", Description: "NCBI Taxonomy"},
			{Name: "UBERON", File: "http://purl.obolibrary.org/obo/uberon.owl", Description: "Uber Anatomy Ontology"},
		},
		Studies: []*isatab.Study{{
			Identifier:        st.Accession,
			Title:             "Plasma metabolite profiling of healthy volunteers",
			Description:       "Plasma samples were collected from healthy volunteers. Metabolites were profiled by liquid chromatography mass spectrometry.",
			SubmissionDate:    st.SubmissionDate,
			PublicReleaseDate: st.ReleaseDate,
			FileName:          st.SampleFile,
			DesignDescriptors: []isatab.OntologyAnnotation{
				{Term: "untargeted metabolites"}, {Term: "blood plasma"}, {Term: "liquid chromatography-mass spectrometry"},
			},
			Publications: []isatab.Publication{{
				PubMedID:   "12345678",
				DOI:        "10.1000/xyz123",
				AuthorList: "Smith J, Doe A",
				Title:      "Plasma metabolomics of healthy volunteers",
				Status:     isatab.OntologyAnnotation{Term: "Published"},
			}},
			Factors: []isatab.Factor{{Name: "Gender", Type: isatab.OntologyAnnotation{Term: "gender"}}},
			Assays: []isatab.Assay{{
				FileName:        st.AssayFile,
				MeasurementType: isatab.OntologyAnnotation{Term: "metabolite profiling"},
				TechnologyType:  isatab.OntologyAnnotation{Term: "mass spectrometry assay"},
				Platform:        "Q Exactive",
			}},
			Protocols: protocols,
			Contacts: []isatab.Person{{
				LastName:    "Smith",
				FirstName:   "Jane",
				Email:       "jane.smith@example.org",
				Affiliation: "University of Examples",
				Roles:       isatab.OntologyAnnotation{Term: "Investigator"},
			}},
		}},
	}
}

// Rewrite загружает investigation из dir, применяет mutate и записывает обратно.
func Rewrite(t testing.TB, dir string, mutate func(inv *isatab.Investigation)) {
	t.Helper()
	b, err := isatab.Load(dir, isatab.LoadOptions{SkipLoadTables: true})
	if err != nil {
		t.Fatalf("ошибка загрузки investigation: %v", err)
	}
	mutate(b.Investigation)
	if err := isatab.WriteInvestigation(dir, b.Investigation, isatab.WriteOptions{FileName: b.InvestigationFile}); err != nil {
		t.Fatalf("ошибка записи investigation: %v", err)
	}
}

// RewriteTable читает таблицу name из dir, применяет mutate и записывает обратно.
func RewriteTable(t testing.TB, dir, name string, mutate func(tbl *isatab.Table)) {
	t.Helper()
	tbl, _, err := isatab.ReadTable(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ошибка чтения %s: %v", name, err)
	}
	mutate(tbl)
	write(t, dir, tbl)
}

func write(t testing.TB, dir string, tbl *isatab.Table) {
	t.Helper()
	if err := isatab.WriteTable(dir, tbl); err != nil {
		t.Fatalf("ошибка записи %s: %v", tbl.FileName, err)
	}
}

func mustMkdir(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("ошибка создания %s: %v", path, err)
	}
}

func mustWrite(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("ошибка записи %s: %v", path, err)
	}
}
