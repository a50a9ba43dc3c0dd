package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileKind — вид файла, назначаемый классификатором.
// Человекочитаемая метка выводится только на границе (JSON, отчёт).
type FileKind int

const (
	KindUnknown FileKind = iota
	KindInvestigation
	KindSample
	KindAssay
	KindAnnotation
	KindRaw
	KindDerived
	KindCompressed
	KindAudit
	KindImage
	KindSpreadsheet
	KindText
	KindAsperaControl
	KindInternal
)

var kindLabels = map[FileKind]string{
	KindUnknown:       "unknown",
	KindInvestigation: "metadata_investigation",
	KindSample:        "metadata_sample",
	KindAssay:         "metadata_assay",
	KindAnnotation:    "metadata_maf",
	KindRaw:           "raw",
	KindDerived:       "derived",
	KindCompressed:    "compressed",
	KindAudit:         "audit",
	KindImage:         "image",
	KindSpreadsheet:   "spreadsheet",
	KindText:          "text",
	KindAsperaControl: "aspera_control",
	KindInternal:      "internal_mapping",
}

// String возвращает метку вида.
func (k FileKind) String() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return "unknown"
}

// IsMetadata — вид относится к ISA-метаданным (i_, s_, a_, m_).
func (k FileKind) IsMetadata() bool {
	switch k {
	case KindInvestigation, KindSample, KindAssay, KindAnnotation:
		return true
	}
	return false
}

// MarshalJSON сериализует вид его меткой.
func (k FileKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON разбирает вид из метки.
func (k *FileKind) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	kind, err := ParseFileKind(label)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseFileKind разбирает вид файла по метке.
func ParseFileKind(label string) (FileKind, error) {
	for kind, l := range kindLabels {
		if l == label {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("неизвестный вид файла: %q", label)
}

// FileStatus — статус активности файла относительно investigation.
type FileStatus string

const (
	// FileActive — файл упомянут в метаданных
	FileActive FileStatus = "active"
	// FileUnreferenced — файл данных не упомянут в метаданных
	FileUnreferenced FileStatus = "unreferenced"
	// FileOld — файл метаданных, не упомянутый в investigation
	FileOld FileStatus = "old"
	// FileUnknown — статус не определяется (аудит, служебные файлы)
	FileUnknown FileStatus = "unknown"
)

// Valid сообщает, что статус известен.
func (s FileStatus) Valid() bool {
	switch s {
	case FileActive, FileUnreferenced, FileOld, FileUnknown:
		return true
	}
	return false
}

// FileDescriptor — описание файла дерева исследования.
// Общий тип классификатора и обходчика.
type FileDescriptor struct {
	// Path — путь относительно корня исследования (разделитель '/')
	Path string `json:"file"`
	// Parent — относительный путь родительского каталога ("" для корня)
	Parent string `json:"parent"`
	// IsDir — каталог
	IsDir bool `json:"directory"`
	// ModTime — время изменения
	ModTime time.Time `json:"timestamp"`
	// Size — размер в байтах (для каталогов 0)
	Size int64 `json:"size"`
	// Extension — расширение в нижнем регистре с точкой
	Extension string `json:"extension"`
	// IsEmpty — файл нулевого размера или пустой каталог
	IsEmpty bool `json:"is_empty"`
	// IsStopFolder — каталог-набор данных, выдаваемый единой записью
	IsStopFolder bool `json:"is_stop_folder"`
	// SubFilename — канонический файл-признак внутри стоп-папки (fid, _FUNC001.DAT, SyncHelper)
	SubFilename string `json:"sub_filename,omitempty"`
	// IsSymlink — символическая ссылка
	IsSymlink bool `json:"is_symlink,omitempty"`
	// Kind, Status — результат классификации
	Kind   FileKind   `json:"type"`
	Status FileStatus `json:"status"`
}
