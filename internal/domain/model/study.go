// Пакет model — доменные модели metabostore.
// Study — исследование с жизненным циклом курирования,
// User — зарегистрированный пользователь (submitter или curator).
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StudyStatus — статус исследования. Персистентные целочисленные коды 0..4.
type StudyStatus int

const (
	// StatusProvisional — исследование редактируется отправителем
	StatusProvisional StudyStatus = 0
	// StatusPrivate — отправлено, закрыто до даты публикации
	StatusPrivate StudyStatus = 1
	// StatusInReview — на рецензировании
	StatusInReview StudyStatus = 2
	// StatusPublic — опубликовано
	StatusPublic StudyStatus = 3
	// StatusDormant — скрыто (терминальное состояние)
	StatusDormant StudyStatus = 4
)

// statusLabels — человекочитаемые метки статусов.
var statusLabels = map[StudyStatus]string{
	StatusProvisional: "Provisional",
	StatusPrivate:     "Private",
	StatusInReview:    "In Review",
	StatusPublic:      "Public",
	StatusDormant:     "Dormant",
}

// AllStatuses возвращает все статусы в порядке кодов.
func AllStatuses() []StudyStatus {
	return []StudyStatus{StatusProvisional, StatusPrivate, StatusInReview, StatusPublic, StatusDormant}
}

// String возвращает метку статуса.
func (s StudyStatus) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return "Unknown(" + strconv.Itoa(int(s)) + ")"
}

// Valid проверяет, что код статуса известен.
func (s StudyStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStudyStatus разбирает метку статуса (регистр, пробелы и дефисы
// не учитываются) или её целочисленный код.
func ParseStudyStatus(v string) (StudyStatus, error) {
	key := normalizeLabel(v)
	if n, err := strconv.Atoi(key); err == nil {
		s := StudyStatus(n)
		if !s.Valid() {
			return 0, fmt.Errorf("неизвестный код статуса: %d", n)
		}
		return s, nil
	}
	for s, label := range statusLabels {
		if normalizeLabel(label) == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("неизвестный статус: %q", v)
}

// MarshalText сериализует статус его меткой.
func (s StudyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает статус из метки или кода.
func (s *StudyStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseStudyStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "-", "")
	v = strings.ReplaceAll(v, "_", "")
	return strings.ReplaceAll(v, " ", "")
}

// Study — исследование. Никогда не удаляется: Dormant — терминальное «скрытое» состояние.
type Study struct {
	// Accession — стабильный идентификатор (MTBLS<n> или REQ<n>)
	Accession string `json:"accession"`
	// ObfuscationCode — непрозрачный токен для имени FTP-каталога и доступа рецензента
	ObfuscationCode string `json:"-"`
	// Status — текущий статус
	Status StudyStatus `json:"status"`
	// SubmissionDate — дата подачи
	SubmissionDate time.Time `json:"submission_date"`
	// ReleaseDate — дата публикации
	ReleaseDate time.Time `json:"release_date"`
	// Submitters — идентификаторы пользователей-отправителей
	Submitters []string `json:"submitters"`
	// CuratorOverrides — записи вида <validation-id>:<message>
	CuratorOverrides []string `json:"curator_overrides,omitempty"`
	// CuratorComments — записи вида <validation-id>:<message>
	CuratorComments []string `json:"curator_comments,omitempty"`
	// ValidationStatus — кэш итогового статуса последней валидации
	ValidationStatus string `json:"validation_status,omitempty"`
	// StatusChangedAt — время последней смены статуса
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	// CreatedAt, UpdatedAt — служебные временные метки
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSubmitter проверяет, входит ли пользователь в число отправителей.
func (s *Study) HasSubmitter(userID string) bool {
	for _, id := range s.Submitters {
		if id == userID {
			return true
		}
	}
	return false
}

// FTPFolderName возвращает имя каталога приватного FTP: <acc-lower>-<code>.
func (s *Study) FTPFolderName() string {
	return strings.ToLower(s.Accession) + "-" + s.ObfuscationCode
}

// SplitNotes разбирает хранимую строку заметок, разделённых '|'.
func SplitNotes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinNotes сериализует заметки в хранимую строку.
func JoinNotes(notes []string) string {
	return strings.Join(notes, "|")
}

// Role — роль пользователя.
type Role string

const (
	// RoleSubmitter — зарегистрированный отправитель
	RoleSubmitter Role = "submitter"
	// RoleCurator — куратор репозитория
	RoleCurator Role = "curator"
)

// User — зарегистрированный пользователь.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	APIToken string `json:"-"`
	Role     Role   `json:"role"`
	Active   bool   `json:"active"`
}

// IsCurator проверяет роль куратора.
func (u *User) IsCurator() bool {
	return u != nil && u.Role == RoleCurator
}
