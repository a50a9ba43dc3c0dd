package validation

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/metabostore/internal/validation/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestRule_Check проверяет единый вычислитель правил.
func TestRule_Check(t *testing.T) {
	s := DefaultSchema()
	refs := map[string]bool{"S1": true}

	tests := []struct {
		section, rule, value string
		want                 bool
	}{
		{SectionBasic, "title", "Plasma metabolite profiling of volunteers", true},
		{SectionBasic, "title", "Too short", false},
		{SectionPublication, "pubmed_id", "", true},
		{SectionPublication, "pubmed_id", "None", true},
		{SectionPublication, "pubmed_id", "12345678", true},
		{SectionPublication, "pubmed_id", "123", false},
		{SectionPublication, "pubmed_id", "PMC123456", false},
		{SectionPublication, "doi", "10.1000/xyz123", true},
		{SectionPublication, "doi", "https://doi.org/10.1000/xyz123", false},
		{SectionPublication, "doi", "DOI.ORG/10.1000", false},
		{SectionPerson, "name_blacklist", "First Name", false},
		{SectionPerson, "name_blacklist", "Smith", true},
		{SectionProtocols, "description_exception", "No metabolites were identified.", true},
		{SectionProtocols, "description_exception", "not applicable", true},
		{SectionProtocols, "description_exception", "not applicable to this study", false},
		{SectionProtocols, "description_sentences", "One sentence only.", false},
		{SectionProtocols, "description_sentences", "First sentence. Second one.", true},
		{SectionProtocols, "placeholder", "please update this protocol description.", false},
		{SectionSamples, "organism_species", "Mouse", false},
		{SectionSamples, "organism_species", "Human", true},
		{SectionSamples, "organism_human", "HUMAN", false},
		{SectionSamples, "organism_human", "Homo sapiens", true},
		{SectionSamples, "organism_colon", "NCBITaxon:9606", false},
		{SectionSamples, "protocol_ref", "Sample collection", true},
		{SectionSamples, "protocol_ref", "Extraction", false},
		{SectionAssays, "sample_name", "S1", true},
		{SectionAssays, "sample_name", "S2", false},
		{SectionMAF, "filename", "m_MTBLS1_v2_maf.tsv", true},
		{SectionMAF, "filename", "m_MTBLS1_maf.tsv", false},
	}
	for _, tt := range tests {
		r := s.Rule(tt.section, tt.rule)
		require.NotNil(t, r, "%s.%s", tt.section, tt.rule)
		assert.Equal(t, tt.want, r.Check(tt.value, refs), "%s.%s(%q)", tt.section, tt.rule, tt.value)
	}

	count := s.Rule(SectionBasic, "design_descriptors")
	assert.True(t, count.CheckCount(3))
	assert.False(t, count.CheckCount(2))
}

// TestParseSchema_Invalid проверяет отклонение некорректного набора правил.
func TestParseSchema_Invalid(t *testing.T) {
	tests := map[string]string{
		"не yaml":         "sections: [",
		"нет правил":      "version: x\n",
		"плохой regex":    strings.Replace(string(schema.Default), `'^m_.*_v2_maf\.tsv$'`, `'^m_(['`, 1),
		"неизвестный тип": "sections:\n  basic:\n    title: {kind: longer_than}\n",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchema([]byte(data))
			assert.Error(t, err)
		})
	}
}

// TestSchemaLoader_RetryAndCache проверяет повтор при 503 и кэширование.
func TestSchemaLoader_RetryAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(schema.Default)
	}))
	defer srv.Close()

	l := NewSchemaLoader(srv.URL, time.Minute, testLogger())
	s, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.1", s.Version)
	assert.Equal(t, int32(2), calls.Load(), "ожидался один повтор")

	_, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "повторная загрузка должна браться из кэша")
}

// TestSchemaLoader_NotFound проверяет, что 404 не повторяется.
func TestSchemaLoader_NotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	_, err := NewSchemaLoader(srv.URL, time.Minute, testLogger()).Load(context.Background())
	require.ErrorIs(t, err, ErrSchemaUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

// TestSchemaLoader_File проверяет загрузку набора правил из файла.
func TestSchemaLoader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := strings.Replace(string(schema.Default), `version: "2.1"`, `version: "local"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	s, err := NewSchemaLoader(path, 0, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", s.Version)
	assert.Equal(t, 25, s.Rule(SectionBasic, "title").Min)
}

// TestAssaySpecFor проверяет выбор шаблона assay.
func TestAssaySpecFor(t *testing.T) {
	s := DefaultSchema()

	spec, ok := s.AssaySpecFor("a_MTBLS1_LC-MS_positive_reverse-phase_metabolite_profiling.txt", "")
	require.True(t, ok)
	assert.Equal(t, "LC-MS", spec.Type)

	spec, ok = s.AssaySpecFor("a_MTBLS1_NMR_spectroscopy.txt", TechnologyMS)
	require.True(t, ok)
	assert.Equal(t, TechnologyNMR, spec.Technology)

	spec, ok = s.AssaySpecFor("a_MTBLS1_assay.txt", TechnologyNMR)
	require.True(t, ok)
	assert.Equal(t, "NMR", spec.Type)

	_, ok = s.AssaySpecFor("a_MTBLS1_assay.txt", "")
	assert.False(t, ok)
}

// sampleReport — отчёт из двух секций для проверок записей куратора.
func sampleReport() *Report {
	r := &Report{Sections: []Section{
		{Name: SectionSamples, Details: []Detail{
			{ID: "samples_8", Section: SectionSamples, Status: StatusError},
			{ID: "samples_9", Section: SectionSamples, Status: StatusSuccess},
			{ID: "samples_4.2", Section: SectionSamples, Status: StatusWarning},
		}},
		{Name: SectionFiles, Details: []Detail{
			{ID: "files_3", Section: SectionFiles, Status: StatusWarning},
			{ID: "files_9", Section: SectionFiles, Status: StatusInfo},
		}},
	}}
	r.recompute()
	return r
}

// TestApplyOverrides проверяет правила применения записей куратора.
func TestApplyOverrides(t *testing.T) {
	t.Run("точечная запись", func(t *testing.T) {
		r := sampleReport()
		require.Equal(t, StatusError, r.Status)

		ApplyOverrides(r, ParseNotes([]string{"samples_8:known"}))
		d := r.Find("samples_8")[0]
		assert.Equal(t, StatusSuccess, d.Status)
		assert.Equal(t, "error", d.ValMessage)
		assert.Equal(t, StatusWarning, r.Status)
	})

	t.Run("успешная деталь становится ошибкой", func(t *testing.T) {
		r := sampleReport()
		ApplyOverrides(r, ParseNotes([]string{"samples_9:expected failure"}))
		d := r.Find("samples_9")[0]
		assert.Equal(t, StatusError, d.Status)
		assert.Equal(t, "success", d.ValMessage)
		assert.True(t, d.Overridden)
	})

	t.Run("общий идентификатор нескольких проверок", func(t *testing.T) {
		r := &Report{Sections: []Section{{Name: SectionAssays, Details: []Detail{
			{ID: "assays_2", Section: SectionAssays, File: "a_one.txt", Status: StatusError},
			{ID: "assays_2", Section: SectionAssays, File: "a_two.txt", Status: StatusSuccess},
		}}}}
		r.recompute()

		ApplyOverrides(r, ParseNotes([]string{"assays_2:single-row assay accepted"}))
		details := r.Section(SectionAssays).Details
		assert.Equal(t, StatusSuccess, details[0].Status)
		assert.True(t, details[0].Overridden)
		assert.Equal(t, StatusSuccess, details[1].Status)
		assert.False(t, details[1].Overridden)
		assert.Equal(t, StatusSuccess, r.Section(SectionAssays).Status)
		assert.Equal(t, StatusSuccess, r.Status)
	})

	t.Run("шаблон секции", func(t *testing.T) {
		r := sampleReport()
		ApplyOverrides(r, ParseNotes([]string{"samples_*:bulk"}))
		assert.Equal(t, StatusSuccess, r.Section(SectionSamples).Status)
		assert.Equal(t, StatusSuccess, r.Find("samples_9")[0].Status, "шаблон не повышает успешные детали")
		assert.Equal(t, StatusWarning, r.Find("files_3")[0].Status)
	})

	t.Run("общий шаблон", func(t *testing.T) {
		r := sampleReport()
		ApplyOverrides(r, ParseNotes([]string{"*:all"}))
		assert.Equal(t, StatusSuccess, r.Status)
		assert.Equal(t, StatusSuccess, r.Find("files_9")[0].Status)
		assert.Equal(t, "info", r.Find("files_9")[0].ValMessage)
	})

	t.Run("некорректные записи", func(t *testing.T) {
		notes := ParseNotes([]string{"no-colon", ":empty id", " files_3 : ok "})
		require.Len(t, notes, 1)
		assert.Equal(t, Note{ID: "files_3", Message: "ok"}, notes[0])
	})
}

// TestFilters проверяет разбор фильтров.
func TestFilters(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, AllSections, f.Sections())

	f, err = ParseFilter("ISA-TAB")
	require.NoError(t, err)
	assert.Equal(t, []string{SectionBasic, SectionISATab}, f.Sections())

	f, err = ParseFilter("assays")
	require.NoError(t, err)
	assert.Equal(t, []string{SectionAssays, SectionMAF}, f.Sections())

	_, err = ParseFilter("maf")
	assert.Error(t, err)

	l, err := ParseLogFilter("Warning")
	require.NoError(t, err)
	assert.Equal(t, LogWarning, l)
	_, err = ParseLogFilter("debug")
	assert.Error(t, err)
}
