// Пакет classifier — определение вида и статуса файла исследования.
//
// Вид определяется по префиксу имени и расширению (i_/s_/a_/m_,
// наборы расширений сырых, производных и архивных файлов),
// статус — по принадлежности пути множеству ссылок из метаданных.
package classifier

import (
	"path"
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Options — наборы расширений и имён для классификации.
type Options struct {
	RawExtensions        []string
	DerivedExtensions    []string
	CompressedExtensions []string
	StopFolderExtensions []string
	InternalMappingList  []string
}

var (
	spreadsheetExtensions = toSet([]string{".xls", ".xlsx", ".csv", ".tsv"})
	asperaExtensions      = toSet([]string{".partial", ".aspera-ckpt", ".aspx"})
	imageExtensions       = toSet([]string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".svg"})
	textExtensions        = toSet([]string{".txt", ".pdf", ".doc", ".docx", ".log", ".md", ".rtf"})
	auditRoots            = toSet([]string{"audit", "internal"})
)

// stopFolderSentinels — канонические файлы-признаки внутри стоп-папок
// в порядке приоритета.
var stopFolderSentinels = []string{"fid", "ser", "_FUNC001.DAT", "SyncHelper", "acqus"}

// Classifier — классификатор файлов. Безопасен для конкурентного использования.
type Classifier struct {
	raw        map[string]bool
	derived    map[string]bool
	compressed map[string]bool
	stop       map[string]bool
	internal   map[string]bool
}

// New создаёт классификатор.
func New(opts Options) *Classifier {
	return &Classifier{
		raw:        toSet(lower(opts.RawExtensions)),
		derived:    toSet(lower(opts.DerivedExtensions)),
		compressed: toSet(lower(opts.CompressedExtensions)),
		stop:       toSet(lower(opts.StopFolderExtensions)),
		internal:   toSet(opts.InternalMappingList),
	}
}

// Extension возвращает расширение имени в нижнем регистре.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// Classify возвращает вид и статус файла.
// relPath — путь относительно корня исследования; entries — имена
// содержимого каталога (для каталогов) или соседей (для файлов);
// refs — множество путей, упомянутых в метаданных (может быть nil).
func (c *Classifier) Classify(relPath string, isDir bool, entries []string, refs model.ReferenceSet) (model.FileKind, model.FileStatus) {
	relPath = model.CleanRelPath(relPath)
	kind := c.Kind(relPath, isDir, entries)
	return kind, Status(relPath, kind, refs)
}

// Kind определяет вид файла без учёта ссылок.
func (c *Classifier) Kind(relPath string, isDir bool, entries []string) model.FileKind {
	relPath = model.CleanRelPath(relPath)
	base := path.Base(relPath)
	ext := Extension(base)

	if first, _, _ := strings.Cut(relPath, "/"); auditRoots[first] && relPath != first {
		return model.KindAudit
	}
	if auditRoots[relPath] && isDir {
		return model.KindAudit
	}
	if asperaExtensions[ext] {
		return model.KindAsperaControl
	}
	if c.internal[base] {
		return model.KindInternal
	}

	if isDir {
		if c.IsStopFolder(base, entries) || c.raw[ext] {
			return model.KindRaw
		}
		return model.KindUnknown
	}

	if kind, ok := MetadataKind(base); ok {
		return kind
	}

	switch {
	case spreadsheetExtensions[ext]:
		return model.KindSpreadsheet
	case c.derived[ext]:
		return model.KindDerived
	case c.compressed[ext]:
		return model.KindCompressed
	case isNMRConstituent(base):
		return model.KindRaw
	case c.raw[ext]:
		return model.KindRaw
	case imageExtensions[ext]:
		return model.KindImage
	case textExtensions[ext]:
		return model.KindText
	}
	return model.KindUnknown
}

// IsStopFolder проверяет, является ли каталог стоп-папкой: расширение из
// набора стоп-папок либо наличие fid вместе с любым acqu*.
func (c *Classifier) IsStopFolder(name string, entries []string) bool {
	if c.stop[Extension(name)] {
		return true
	}
	return HasNMRSentinel(entries)
}

// HasNMRSentinel — в каталоге есть fid и хотя бы один acqu*.
func HasNMRSentinel(entries []string) bool {
	hasFid, hasAcqu := false, false
	for _, e := range entries {
		switch {
		case e == "fid":
			hasFid = true
		case strings.HasPrefix(e, "acqu"):
			hasAcqu = true
		}
	}
	return hasFid && hasAcqu
}

// StopFolderSentinel возвращает канонический файл-признак стоп-папки.
func StopFolderSentinel(entries []string) string {
	present := toSet(entries)
	for _, s := range stopFolderSentinels {
		if present[s] {
			return s
		}
	}
	return ""
}

// MetadataKind определяет вид ISA-файла по имени (i_*.txt, s_*.txt, a_*.txt, m_*.tsv).
func MetadataKind(base string) (model.FileKind, bool) {
	ext := Extension(base)
	switch {
	case strings.HasPrefix(base, "i_") && ext == ".txt":
		return model.KindInvestigation, true
	case strings.HasPrefix(base, "s_") && ext == ".txt":
		return model.KindSample, true
	case strings.HasPrefix(base, "a_") && ext == ".txt":
		return model.KindAssay, true
	case strings.HasPrefix(base, "m_") && ext == ".tsv":
		return model.KindAnnotation, true
	}
	return model.KindUnknown, false
}

// Status вычисляет статус активности файла.
func Status(relPath string, kind model.FileKind, refs model.ReferenceSet) model.FileStatus {
	switch kind {
	case model.KindAudit, model.KindInternal:
		return model.FileUnknown
	}
	if refs != nil && refs.Has(relPath) {
		return model.FileActive
	}
	if kind.IsMetadata() {
		return model.FileOld
	}
	return model.FileUnreferenced
}

// IsSystemFile — служебный файл ОС (.DS_Store, Icon, desktop.ini, ~*, ._*).
func IsSystemFile(base string) bool {
	switch base {
	case ".DS_Store", "Icon", "Icon\r", "desktop.ini", "Thumbs.db":
		return true
	}
	return strings.HasPrefix(base, "~") || strings.HasPrefix(base, "._")
}

func isNMRConstituent(base string) bool {
	return base == "fid" || base == "ser" || strings.HasPrefix(base, "acqu")
}

func lower(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = strings.ToLower(item)
	}
	return out
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
