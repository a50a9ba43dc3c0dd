package classifier

import (
	"testing"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// newTestClassifier создаёт классификатор с наборами по умолчанию.
func newTestClassifier() *Classifier {
	return New(Options{
		RawExtensions:        []string{".wiff", ".raw", ".d", ".fid", ".cdf", ".mzData"},
		DerivedExtensions:    []string{".mzml", ".nmrml", ".mzxml", ".xml"},
		CompressedExtensions: []string{".zip", ".gz", ".tar", ".7z", ".z", ".bz2", ".rar", ".g7z", ".arj", ".war"},
		StopFolderExtensions: []string{".raw", ".d", ".fid"},
		InternalMappingList:  []string{"metexplore_mapping.json"},
	})
}

// TestKind проверяет определение вида по имени и расширению.
func TestKind(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		path    string
		isDir   bool
		entries []string
		want    model.FileKind
	}{
		{"i_Investigation.txt", false, nil, model.KindInvestigation},
		{"s_MTBLS1.txt", false, nil, model.KindSample},
		{"a_MTBLS1_lcms.txt", false, nil, model.KindAssay},
		{"m_MTBLS1_v2_maf.tsv", false, nil, model.KindAnnotation},
		{"m_MTBLS1_v2_maf.txt", false, nil, model.KindText},
		{"results.tsv", false, nil, model.KindSpreadsheet},
		{"peaks.XLSX", false, nil, model.KindSpreadsheet},
		{"FILES/sample1.mzML", false, nil, model.KindDerived},
		{"FILES/sample1.nmrML", false, nil, model.KindDerived},
		{"FILES/archive.tar", false, nil, model.KindCompressed},
		{"FILES/archive.7z", false, nil, model.KindCompressed},
		{"FILES/sample.wiff", false, nil, model.KindRaw},
		{"FILES/sample.raw", true, nil, model.KindRaw},
		{"FILES/sample.d", true, nil, model.KindRaw},
		{"FILES/1", true, []string{"fid", "acqus", "pdata"}, model.KindRaw},
		{"FILES/2", true, []string{"fid", "pdata"}, model.KindUnknown},
		{"FILES/1/fid", false, nil, model.KindRaw},
		{"FILES/1/ser", false, nil, model.KindRaw},
		{"FILES/1/acqus", false, nil, model.KindRaw},
		{"FILES/upload.mzML.partial", false, nil, model.KindAsperaControl},
		{"FILES/x.aspera-ckpt", false, nil, model.KindAsperaControl},
		{"audit/2024-01-01_00-00-00_BACKUP/i_Investigation.txt", false, nil, model.KindAudit},
		{"internal/validation_report.json", false, nil, model.KindAudit},
		{"metexplore_mapping.json", false, nil, model.KindInternal},
		{"figure.png", false, nil, model.KindImage},
		{"readme.pdf", false, nil, model.KindText},
		{"FILES", true, []string{"a.mzML"}, model.KindUnknown},
		{"mystery.bin", false, nil, model.KindUnknown},
	}

	for _, tt := range tests {
		if got := c.Kind(tt.path, tt.isDir, tt.entries); got != tt.want {
			t.Errorf("Kind(%q): ожидалось %s, получено %s", tt.path, tt.want, got)
		}
	}
}

// TestStatus проверяет статусы active/unreferenced/old.
func TestStatus(t *testing.T) {
	c := newTestClassifier()
	refs := model.NewReferenceSet("i_Investigation.txt", "s_MTBLS1.txt", "FILES/a.mzML", " ./FILES/b.raw ")

	tests := []struct {
		path  string
		isDir bool
		want  model.FileStatus
	}{
		{"i_Investigation.txt", false, model.FileActive},
		{"s_MTBLS1.txt", false, model.FileActive},
		{"s_old.txt", false, model.FileOld},
		{"FILES/a.mzML", false, model.FileActive},
		{"FILES/b.raw", true, model.FileActive},
		{"FILES/c.mzML", false, model.FileUnreferenced},
		{"audit/x/i_Investigation.txt", false, model.FileUnknown},
	}

	for _, tt := range tests {
		_, got := c.Classify(tt.path, tt.isDir, nil, refs)
		if got != tt.want {
			t.Errorf("Classify(%q): ожидался статус %s, получено %s", tt.path, tt.want, got)
		}
	}
}

// TestStopFolderSentinel проверяет выбор канонического файла-признака.
func TestStopFolderSentinel(t *testing.T) {
	tests := []struct {
		entries []string
		want    string
	}{
		{[]string{"acqus", "fid", "pdata"}, "fid"},
		{[]string{"_FUNC001.DAT", "_HEADER.TXT"}, "_FUNC001.DAT"},
		{[]string{"AcqData", "SyncHelper"}, "SyncHelper"},
		{[]string{"a", "b"}, ""},
	}
	for _, tt := range tests {
		if got := StopFolderSentinel(tt.entries); got != tt.want {
			t.Errorf("StopFolderSentinel(%v): ожидалось %q, получено %q", tt.entries, tt.want, got)
		}
	}
}

// TestIsSystemFile проверяет распознавание служебных файлов.
func TestIsSystemFile(t *testing.T) {
	for _, name := range []string{".DS_Store", "Icon", "Icon\r", "desktop.ini", "~$book.xlsx", "._a.mzML"} {
		if !IsSystemFile(name) {
			t.Errorf("%q: ожидался служебный файл", name)
		}
	}
	for _, name := range []string{"sample.mzML", "Icons", "data~"} {
		if IsSystemFile(name) {
			t.Errorf("%q: не ожидался служебный файл", name)
		}
	}
}
