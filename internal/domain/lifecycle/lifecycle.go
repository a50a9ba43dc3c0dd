// Пакет lifecycle — конечный автомат статусов исследования и
// политика даты публикации.
//
// Переходы:
//   - Provisional → Private — отправитель (при отчёте валидации без ошибок)
//   - любой → любой — куратор
//   - любой → Dormant — только куратор
//
// Потокобезопасен через sync.RWMutex.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Ошибки автомата.
var (
	// ErrTransitionNotAllowed — переход запрещён для роли
	ErrTransitionNotAllowed = errors.New("переход статуса запрещён")
	// ErrSameStatus — целевой статус совпадает с текущим
	ErrSameStatus = errors.New("исследование уже находится в этом статусе")
	// ErrInvalidStatus — неизвестный статус
	ErrInvalidStatus = errors.New("недопустимый статус")
	// ErrReleaseDateTooEarly — дата публикации раньше минимально допустимой
	ErrReleaseDateTooEarly = errors.New("дата публикации раньше минимально допустимой")
	// ErrReleaseBeforeSubmission — дата публикации раньше даты подачи
	ErrReleaseBeforeSubmission = errors.New("дата публикации раньше даты подачи")
)

// FTPAction — действие над каталогом приватного FTP при переходе.
type FTPAction string

const (
	FTPNone          FTPAction = "none"
	FTPSetReadOnly   FTPAction = "set_authorized_read"
	FTPSetReadWrite  FTPAction = "set_authorized_read_write"
	FTPMoveToArchive FTPAction = "move_to_old"
)

// TransitionRecord — запись о смене статуса.
type TransitionRecord struct {
	From      model.StudyStatus `json:"from"`
	To        model.StudyStatus `json:"to"`
	Subject   string            `json:"subject"`
	Role      model.Role        `json:"role"`
	Timestamp time.Time         `json:"timestamp"`
}

// submitterTransitions — единственные переходы, доступные отправителю.
var submitterTransitions = map[model.StudyStatus]map[model.StudyStatus]bool{
	model.StatusProvisional: {model.StatusPrivate: true},
}

// ftpActions — связь целевого статуса с ACL приватного FTP.
var ftpActions = map[model.StudyStatus]FTPAction{
	model.StatusProvisional: FTPSetReadWrite,
	model.StatusInReview:    FTPSetReadOnly,
	model.StatusPublic:      FTPMoveToArchive,
}

// Machine — автомат статуса одного исследования.
type Machine struct {
	mu      sync.RWMutex
	current model.StudyStatus
	history []TransitionRecord
}

// New создаёт автомат с текущим статусом исследования.
func New(initial model.StudyStatus) (*Machine, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(initial))
	}
	return &Machine{current: initial}, nil
}

// Current возвращает текущий статус.
func (m *Machine) Current() model.StudyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition проверяет допустимость перехода для роли.
func (m *Machine) CanTransition(role model.Role, target model.StudyStatus) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return checkTransition(role, m.current, target)
}

// Transition выполняет переход и записывает его в историю.
func (m *Machine) Transition(role model.Role, subject string, target model.StudyStatus, at time.Time) (TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkTransition(role, m.current, target); err != nil {
		return TransitionRecord{}, err
	}

	rec := TransitionRecord{
		From:      m.current,
		To:        target,
		Subject:   subject,
		Role:      role,
		Timestamp: at.UTC(),
	}
	m.current = target
	m.history = append(m.history, rec)
	return rec, nil
}

// History возвращает копию истории переходов.
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

func checkTransition(role model.Role, from, to model.StudyStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, int(to))
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSameStatus, to)
	}
	switch role {
	case model.RoleCurator:
		return nil
	case model.RoleSubmitter:
		if submitterTransitions[from][to] {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s для роли %q", ErrTransitionNotAllowed, from, to, role)
}

// FTPActionFor возвращает действие над приватным FTP для целевого статуса.
func FTPActionFor(target model.StudyStatus) FTPAction {
	if a, ok := ftpActions[target]; ok {
		return a
	}
	return FTPNone
}

// ReleasePolicy — политика даты публикации.
type ReleasePolicy struct {
	// MinimumDelayDays — минимальная задержка публикации для не-кураторов
	MinimumDelayDays int
}

// ReleaseRequest — входные данные для вычисления даты публикации.
type ReleaseRequest struct {
	Role      model.Role
	From      model.StudyStatus
	To        model.StudyStatus
	Requested *time.Time
	Current   time.Time
	Submitted time.Time
	Today     time.Time
}

// Earliest возвращает минимальную дату публикации для не-куратора.
func (p ReleasePolicy) Earliest(today time.Time) time.Time {
	return Day(today).AddDate(0, 0, p.MinimumDelayDays)
}

// Resolve вычисляет дату публикации после перехода.
// Отправитель, покидающий Provisional, не может назначить дату раньше
// today + MinimumDelayDays; без явной даты берётся max(текущая, минимум).
// Куратор может задать любую дату не раньше даты подачи.
func (p ReleasePolicy) Resolve(req ReleaseRequest) (time.Time, error) {
	date := Day(req.Current)
	if req.Requested != nil {
		date = Day(*req.Requested)
	}

	if req.Role != model.RoleCurator && req.From == model.StatusProvisional && req.To != model.StatusProvisional {
		earliest := p.Earliest(req.Today)
		if req.Requested != nil && date.Before(earliest) {
			return time.Time{}, fmt.Errorf("%w: дата %s, минимум %s",
				ErrReleaseDateTooEarly, date.Format(time.DateOnly), earliest.Format(time.DateOnly))
		}
		if date.Before(earliest) {
			date = earliest
		}
	}

	if !req.Submitted.IsZero() && date.Before(Day(req.Submitted)) {
		return time.Time{}, fmt.Errorf("%w: дата %s, подача %s",
			ErrReleaseBeforeSubmission, date.Format(time.DateOnly), Day(req.Submitted).Format(time.DateOnly))
	}
	return date, nil
}

// Day усекает время до начала суток UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
