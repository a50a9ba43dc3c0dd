// studies.go — сервис исследований: создание, чтение, смена статуса,
// записи куратора и снимки аудита.
//
// Смена статуса:
//  1. проверка прав и допустимости перехода;
//  2. вычисление даты публикации (политика минимальной задержки);
//  3. для отправителя — валидация, отчёт без ошибок обязателен;
//  4. снимок аудита (хэширование вне блокировки);
//  5. под монопольной блокировкой исследования: повторное чтение записи,
//     переход автомата, запись статуса и истории в транзакции,
//     действие над папкой приватного FTP, дата публикации в investigation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/metabostore/internal/audit"
	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/validation"
)

var statusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metabostore_status_changes_total",
	Help: "Количество смен статуса исследований",
}, []string{"from", "to", "role"})

// Repositories — репозитории, используемые сервисом исследований.
type Repositories struct {
	Studies    repository.StudyRepository
	Accessions repository.AccessionRepository
	// InTx выполняет fn в транзакции (nil — без транзакции, через Studies)
	InTx func(ctx context.Context, fn func(studies repository.StudyRepository) error) error
}

// PostgresTx возвращает InTx поверх транзакций PostgreSQL.
func PostgresTx(tx *repository.TxRunner) func(context.Context, func(repository.StudyRepository) error) error {
	return func(ctx context.Context, fn func(repository.StudyRepository) error) error {
		return tx.RunInTx(ctx, func(t pgx.Tx) error {
			return fn(repository.NewStudyRepository(t))
		})
	}
}

// StudyOptions — параметры сервиса исследований.
type StudyOptions struct {
	// MetadataRoot — корень метаданных исследований
	MetadataRoot string
	// StudyPrefix и ReservedPrefix — префиксы accession (MTBLS, REQ)
	StudyPrefix    string
	ReservedPrefix string
	// InvestigationFile — имя investigation-файла
	InvestigationFile string
	// PublishIgnore — имена, не копируемые в публичный FTP
	PublishIgnore []string
	// Now — источник времени (для тестов)
	Now func() time.Time
}

// StudyService — жизненный цикл исследований.
type StudyService struct {
	repos      Repositories
	access     *AccessService
	validation *ValidationService
	audit      *audit.Manager
	ftp        *storage.PrivateFTP
	metadata   storage.Storage
	public     *storage.PublicFTP
	locks      *studylock.Registry
	policy     lifecycle.ReleasePolicy
	opts       StudyOptions
	logger     *slog.Logger
}

// NewStudyService создаёт сервис исследований.
// metadata — хранилище области метаданных (корень — MetadataRoot).
func NewStudyService(
	repos Repositories,
	accessSvc *AccessService,
	validationSvc *ValidationService,
	auditMgr *audit.Manager,
	ftp *storage.PrivateFTP,
	metadata storage.Storage,
	locks *studylock.Registry,
	policy lifecycle.ReleasePolicy,
	opts StudyOptions,
	logger *slog.Logger,
) *StudyService {
	if opts.StudyPrefix == "" {
		opts.StudyPrefix = "MTBLS"
	}
	if opts.ReservedPrefix == "" {
		opts.ReservedPrefix = "REQ"
	}
	if opts.InvestigationFile == "" {
		opts.InvestigationFile = isatab.DefaultInvestigationFile
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if repos.InTx == nil {
		studies := repos.Studies
		repos.InTx = func(_ context.Context, fn func(repository.StudyRepository) error) error {
			return fn(studies)
		}
	}
	return &StudyService{
		repos:      repos,
		access:     accessSvc,
		validation: validationSvc,
		audit:      auditMgr,
		ftp:        ftp,
		metadata:   metadata,
		locks:      locks,
		policy:     policy,
		opts:       opts,
		logger:     logger.With(slog.String("component", "study_service")),
	}
}

// SetPublicFTP подключает публичный FTP: при переходе в Public
// метаданные исследования копируются туда. nil — публикация отключена.
func (s *StudyService) SetPublicFTP(public *storage.PublicFTP) {
	s.public = public
}

// CreateStudyRequest — параметры создания исследования.
type CreateStudyRequest struct {
	// Reserved — выдать accession с резервным префиксом (REQ)
	Reserved bool
	// ReleaseDate — желаемая дата публикации (по умолчанию подача + 1 год)
	ReleaseDate *time.Time
}

// CreateStudy создаёт исследование: выдаёт accession из счётчика,
// генерирует код обфускации, создаёт каталог метаданных и папку
// приватного FTP с ACL AUTHORIZED_READ_WRITE.
func (s *StudyService) CreateStudy(ctx context.Context, p access.Principal, req CreateStudyRequest) (*model.Study, error) {
	if p.User == nil {
		return nil, fmt.Errorf("%w: создание исследования требует регистрации", ErrPermissionDenied)
	}

	today := lifecycle.Day(s.opts.Now())
	release := today.AddDate(1, 0, 0)
	if req.ReleaseDate != nil {
		release = lifecycle.Day(*req.ReleaseDate)
		if release.Before(today) {
			return nil, fmt.Errorf("%w: %w", ErrBadInput, lifecycle.ErrReleaseBeforeSubmission) //nolint:errorlint // намеренный двойной wrap
		}
	}

	prefix := s.opts.StudyPrefix
	if req.Reserved {
		prefix = s.opts.ReservedPrefix
	}
	n, err := s.repos.Accessions.Next(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}

	st := &model.Study{
		Accession:       prefix + strconv.FormatInt(n, 10),
		ObfuscationCode: uuid.NewString(),
		Status:          model.StatusProvisional,
		SubmissionDate:  today,
		ReleaseDate:     release,
		Submitters:      []string{p.User.ID},
	}
	if err := s.repos.Studies.Create(ctx, st); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err) //nolint:errorlint // намеренный двойной wrap
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}

	if err := s.metadata.CreateFolder(ctx, st.Accession, "", true); err != nil {
		return st, fmt.Errorf("%w: каталог метаданных %s: %w", ErrUpstream, st.Accession, err) //nolint:errorlint // намеренный двойной wrap
	}
	if _, err := s.ftp.CreateStudyFolder(ctx, st, model.ACLAuthorizedReadWrite); err != nil {
		return st, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}

	s.logger.Info("Исследование создано",
		slog.String("study_id", st.Accession),
		slog.String("submitter", p.Subject()),
		slog.String("release_date", st.ReleaseDate.Format(time.DateOnly)),
	)
	return st, nil
}

// StudyView — исследование с правами субъекта.
type StudyView struct {
	Study       *model.Study      `json:"study"`
	Permission  access.Permission `json:"permission"`
	FTPFolder   string            `json:"ftp_folder,omitempty"`
	ReviewToken string            `json:"reviewer_token,omitempty"`
}

// GetStudy возвращает исследование, доступное субъекту на чтение.
// Имя папки FTP и токен рецензента раскрываются только владельцу.
func (s *StudyService) GetStudy(ctx context.Context, p access.Principal, accession string) (*StudyView, error) {
	st, perm, err := s.access.Authorize(ctx, p, accession, NeedView)
	if err != nil {
		return nil, err
	}
	view := &StudyView{Study: st, Permission: perm}
	if perm.Owner {
		view.FTPFolder = s.ftp.Folder(st)
		view.ReviewToken = access.ReviewerTokenPrefix + st.ObfuscationCode
	}
	return view, nil
}

// TitleDescription возвращает заголовок и описание исследования из
// investigation-файла. method — isa (полный разбор) или direct.
func (s *StudyService) TitleDescription(ctx context.Context, p access.Principal, accession, method string) (isatab.TitleDescription, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedView); err != nil {
		return isatab.TitleDescription{}, err
	}
	path := filepath.Join(s.opts.MetadataRoot, accession, s.opts.InvestigationFile)
	td, err := isatab.ReadTitleDescription(path, method)
	if errors.Is(err, os.ErrNotExist) {
		return td, fmt.Errorf("%w: %s", isatab.ErrInvestigationNotFound, accession)
	}
	return td, err
}

// ListStudies возвращает исследования, видимые субъекту.
// Куратор видит все, отправитель — свои и публичные, рецензент — своё
// исследование и публичные, аноним — публичные.
func (s *StudyService) ListStudies(ctx context.Context, p access.Principal, status *model.StudyStatus, limit, offset int) ([]*model.Study, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	if p.Kind() == access.KindCurator {
		list, err := s.repos.Studies.List(ctx, status, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
		}
		return list, nil
	}

	public := model.StatusPublic
	if status != nil && *status != model.StatusPublic && p.Kind() == access.KindAnonymous {
		return []*model.Study{}, nil
	}

	var own []*model.Study
	switch p.Kind() {
	case access.KindSubmitter:
		mine, err := s.repos.Studies.ListBySubmitter(ctx, p.User.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
		}
		own = mine
	case access.KindReviewer:
		st, err := s.repos.Studies.GetByObfuscationCode(ctx, p.ReviewerCode)
		if err == nil {
			own = []*model.Study{st}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
		}
	}

	var published []*model.Study
	if status == nil || *status == model.StatusPublic {
		list, err := s.repos.Studies.List(ctx, &public, limit+offset, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
		}
		published = list
	}

	seen := make(map[string]bool)
	var visible []*model.Study
	for _, st := range append(own, published...) {
		if seen[st.Accession] || !access.Resolve(p, st).View {
			continue
		}
		if status != nil && st.Status != *status {
			continue
		}
		seen[st.Accession] = true
		visible = append(visible, st)
	}
	slices.SortFunc(visible, func(a, b *model.Study) int {
		return strings.Compare(a.Accession, b.Accession)
	})

	if offset >= len(visible) {
		return []*model.Study{}, nil
	}
	end := min(offset+limit, len(visible))
	return visible[offset:end], nil
}

// StatusChangeRequest — запрос смены статуса.
type StatusChangeRequest struct {
	Target model.StudyStatus
	// ReleaseDate — желаемая дата публикации (nil — текущая)
	ReleaseDate *time.Time
}

// TransitionResult — итог смены статуса.
type TransitionResult struct {
	Accession   string              `json:"accession"`
	Previous    model.StudyStatus   `json:"previous_status"`
	Current     model.StudyStatus   `json:"current_status"`
	ReleaseDate time.Time           `json:"release_date"`
	ChangedAt   time.Time           `json:"changed_at"`
	Snapshot    string              `json:"snapshot,omitempty"`
	FTPAction   lifecycle.FTPAction `json:"ftp_action"`
	FTPFolder   string              `json:"ftp_folder,omitempty"`
}

// ChangeStatus переводит исследование в новый статус.
func (s *StudyService) ChangeStatus(ctx context.Context, p access.Principal, accession string, req StatusChangeRequest) (*TransitionResult, error) {
	if p.User == nil {
		return nil, fmt.Errorf("%w: смена статуса требует регистрации", ErrPermissionDenied)
	}
	st, _, err := s.access.Authorize(ctx, p, accession, NeedOwner)
	if err != nil {
		return nil, err
	}
	role := p.User.Role

	if _, err := s.prepareTransition(st, role, req); err != nil {
		return nil, err
	}

	if role != model.RoleCurator {
		report, err := s.validation.run(ctx, st, ValidateRequest{Filter: validation.FilterAll, Log: validation.LogError})
		if err != nil {
			return nil, err
		}
		if n := report.Count(validation.StatusError); n > 0 {
			return nil, fmt.Errorf("%w: %d ошибок", ErrValidationFailed, n)
		}
	}

	snap, err := s.audit.Snapshot(ctx, accession, false)
	if err != nil {
		return nil, fmt.Errorf("снимок аудита %s: %w", accession, err)
	}

	unlock, err := s.locks.Lock(ctx, accession)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Запись могла измениться, пока шла валидация
	fresh, err := s.repos.Studies.Get(ctx, accession)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	release, err := s.prepareTransition(fresh, role, req)
	if err != nil {
		return nil, err
	}

	machine, err := lifecycle.New(fresh.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataCorruption, err) //nolint:errorlint // намеренный двойной wrap
	}
	now := s.opts.Now().UTC()
	rec, err := machine.Transition(role, p.Subject(), req.Target, now)
	if err != nil {
		return nil, err
	}

	err = s.repos.InTx(ctx, func(studies repository.StudyRepository) error {
		if err := studies.UpdateStatus(ctx, accession, req.Target, release, now); err != nil {
			return err
		}
		return studies.AppendHistory(ctx, accession, rec)
	})
	s.access.Invalidate(accession)
	if err != nil {
		if errors.Is(err, repository.ErrConstraint) {
			return nil, fmt.Errorf("%w: %w", ErrBadInput, err) //nolint:errorlint // намеренный двойной wrap
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	statusChanges.WithLabelValues(rec.From.String(), rec.To.String(), string(role)).Inc()

	res := &TransitionResult{
		Accession:   accession,
		Previous:    rec.From,
		Current:     rec.To,
		ReleaseDate: release,
		ChangedAt:   now,
		Snapshot:    snap.Snapshot,
		FTPAction:   lifecycle.FTPActionFor(req.Target),
	}

	prevRelease := lifecycle.Day(fresh.ReleaseDate)
	fresh.Status = req.Target
	fresh.ReleaseDate = release
	if !release.Equal(prevRelease) {
		s.writeReleaseDate(accession, release, snap.Snapshot)
	}

	folder, err := s.applyFTPAction(ctx, fresh, res.FTPAction)
	res.FTPFolder = folder
	if err != nil {
		return res, fmt.Errorf("%w: статус изменён, папка FTP: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	if req.Target == model.StatusPublic {
		s.publish(ctx, accession)
	}

	s.logger.Info("Статус исследования изменён",
		slog.String("study_id", accession),
		slog.String("from", rec.From.String()),
		slog.String("to", rec.To.String()),
		slog.String("subject", rec.Subject),
		slog.String("release_date", release.Format(time.DateOnly)),
		slog.String("ftp_action", string(res.FTPAction)),
	)
	return res, nil
}

// prepareTransition проверяет переход и вычисляет дату публикации.
func (s *StudyService) prepareTransition(st *model.Study, role model.Role, req StatusChangeRequest) (time.Time, error) {
	machine, err := lifecycle.New(st.Status)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrDataCorruption, err) //nolint:errorlint // намеренный двойной wrap
	}
	if err := machine.CanTransition(role, req.Target); err != nil {
		return time.Time{}, err
	}
	return s.policy.Resolve(lifecycle.ReleaseRequest{
		Role:      role,
		From:      st.Status,
		To:        req.Target,
		Requested: req.ReleaseDate,
		Current:   st.ReleaseDate,
		Submitted: st.SubmissionDate,
		Today:     s.opts.Now(),
	})
}

// applyFTPAction связывает ACL папки приватного FTP со статусом.
// Папка, перенесённая в архив при публикации, возвращается на место.
func (s *StudyService) applyFTPAction(ctx context.Context, st *model.Study, action lifecycle.FTPAction) (string, error) {
	switch action {
	case lifecycle.FTPMoveToArchive:
		return s.ftp.ArchiveStudyFolder(ctx, st)
	case lifecycle.FTPSetReadOnly, lifecycle.FTPSetReadWrite:
		acl := model.ACLAuthorizedReadWrite
		if action == lifecycle.FTPSetReadOnly {
			acl = model.ACLAuthorizedRead
		}
		err := s.ftp.SetStudyACL(ctx, st, acl)
		if errors.Is(err, storage.ErrNotFound) {
			err = s.restoreFolder(ctx, st, acl)
		}
		if err != nil {
			return "", err
		}
		return s.ftp.Folder(st), nil
	default:
		return "", nil
	}
}

func (s *StudyService) restoreFolder(ctx context.Context, st *model.Study, acl model.ACL) error {
	store := s.ftp.Storage()
	err := store.Move(ctx, s.ftp.ArchivedFolder(st), s.ftp.Folder(st))
	switch {
	case err == nil:
		s.logger.Info("Папка исследования возвращена из архива",
			slog.String("study_id", st.Accession),
		)
		return s.ftp.SetStudyACL(ctx, st, acl)
	case errors.Is(err, storage.ErrNotFound):
		_, err = s.ftp.CreateStudyFolder(ctx, st, acl)
		return err
	default:
		return err
	}
}

// writeReleaseDate записывает дату публикации в investigation-файл.
// Предыдущая версия файла сохраняется в снимок аудита, если он создан.
// Отсутствующий investigation не считается ошибкой.
func (s *StudyService) writeReleaseDate(accession string, release time.Time, snapshot string) {
	dir := filepath.Join(s.opts.MetadataRoot, accession)
	bundle, err := isatab.Load(dir, isatab.LoadOptions{FileName: s.opts.InvestigationFile, SkipLoadTables: true})
	if err != nil {
		if !errors.Is(err, isatab.ErrInvestigationNotFound) {
			s.logger.Warn("Не удалось прочитать investigation для даты публикации",
				slog.String("study_id", accession),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	date := release.Format(time.DateOnly)
	inv := bundle.Investigation
	inv.PublicReleaseDate = date
	if st := inv.Study(); st != nil {
		st.PublicReleaseDate = date
	}
	opts := isatab.WriteOptions{FileName: bundle.InvestigationFile}
	if snapshot != "" {
		opts.BackupDir = s.audit.SnapshotDir(accession, snapshot)
	}
	if err := isatab.WriteInvestigation(dir, inv, opts); err != nil {
		s.logger.Warn("Не удалось записать дату публикации в investigation",
			slog.String("study_id", accession),
			slog.String("error", err.Error()),
		)
	}
}

// publish копирует метаданные исследования в публичный FTP.
func (s *StudyService) publish(ctx context.Context, accession string) {
	if s.public == nil {
		return
	}
	ignore := append([]string{validation.InternalFolder, audit.Folder}, s.opts.PublishIgnore...)
	if _, err := s.public.Publish(ctx, accession, s.metadata, accession, ignore); err != nil {
		s.logger.Warn("Публикация в публичный FTP не выполнена",
			slog.String("study_id", accession),
			slog.String("error", err.Error()),
		)
	}
}

// SetCuratorNotes заменяет записи и комментарии куратора.
// Каждая запись имеет вид <section>_<sequence>:<message>.
func (s *StudyService) SetCuratorNotes(ctx context.Context, p access.Principal, accession string, overrides, comments []string) (*model.Study, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedCurator); err != nil {
		return nil, err
	}
	for _, list := range [][]string{overrides, comments} {
		for _, note := range list {
			if err := checkNote(note); err != nil {
				return nil, err
			}
		}
	}
	if err := s.repos.Studies.UpdateNotes(ctx, accession, overrides, comments); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	s.access.Invalidate(accession)
	s.logger.Info("Записи куратора обновлены",
		slog.String("study_id", accession),
		slog.Int("overrides", len(overrides)),
		slog.Int("comments", len(comments)),
	)
	return s.access.Study(ctx, accession)
}

func checkNote(note string) error {
	id, msg, ok := strings.Cut(note, ":")
	id = strings.TrimSpace(id)
	section, seq, hasSeq := strings.Cut(id, "_")
	if !ok || strings.TrimSpace(msg) == "" || !hasSeq || section == "" || seq == "" || strings.Contains(note, "|") {
		return fmt.Errorf("%w: запись %q должна иметь вид <section>_<sequence>:<message>", ErrBadInput, note)
	}
	return nil
}

// History возвращает историю статусов исследования.
func (s *StudyService) History(ctx context.Context, p access.Principal, accession string) ([]lifecycle.TransitionRecord, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedOwner); err != nil {
		return nil, err
	}
	history, err := s.repos.Studies.History(ctx, accession)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	return history, nil
}

// Audit создаёт снимок метаданных, если они изменились (или force).
func (s *StudyService) Audit(ctx context.Context, p access.Principal, accession string, force bool) (*audit.Result, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedOwner); err != nil {
		return nil, err
	}
	return s.audit.Snapshot(ctx, accession, force)
}

// Snapshots возвращает существующие снимки аудита.
func (s *StudyService) Snapshots(ctx context.Context, p access.Principal, accession string) ([]audit.Snapshot, error) {
	if _, _, err := s.access.Authorize(ctx, p, accession, NeedOwner); err != nil {
		return nil, err
	}
	return s.audit.List(accession)
}
