package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/domain/model"
)

// StudyRepository — доступ к таблицам studies, study_submitters и status_history.
type StudyRepository interface {
	// Create создаёт исследование вместе со списком отправителей.
	Create(ctx context.Context, s *model.Study) error
	// Get возвращает исследование по accession.
	Get(ctx context.Context, accession string) (*model.Study, error)
	// GetByObfuscationCode возвращает исследование по коду обфускации.
	GetByObfuscationCode(ctx context.Context, code string) (*model.Study, error)
	// List возвращает исследования с фильтром по статусу (nil — все).
	List(ctx context.Context, status *model.StudyStatus, limit, offset int) ([]*model.Study, error)
	// ListBySubmitter возвращает исследования пользователя.
	ListBySubmitter(ctx context.Context, userID string) ([]*model.Study, error)
	// UpdateStatus сохраняет статус, дату публикации и время смены статуса.
	UpdateStatus(ctx context.Context, accession string, status model.StudyStatus, release time.Time, changedAt time.Time) error
	// UpdateDates сохраняет даты подачи и публикации.
	UpdateDates(ctx context.Context, accession string, submission, release time.Time) error
	// UpdateNotes сохраняет переопределения и комментарии куратора.
	UpdateNotes(ctx context.Context, accession string, overrides, comments []string) error
	// UpdateValidationStatus сохраняет итог последней валидации.
	UpdateValidationStatus(ctx context.Context, accession, status string) error
	// AddSubmitter добавляет отправителя.
	AddSubmitter(ctx context.Context, accession, userID string) error
	// AppendHistory записывает смену статуса.
	AppendHistory(ctx context.Context, accession string, rec lifecycle.TransitionRecord) error
	// History возвращает историю статусов в хронологическом порядке.
	History(ctx context.Context, accession string) ([]lifecycle.TransitionRecord, error)
}

type studyRepo struct {
	db DBTX
}

// NewStudyRepository создаёт репозиторий исследований.
func NewStudyRepository(db DBTX) StudyRepository {
	return &studyRepo{db: db}
}

// studySelect — выборка исследования с агрегированным списком отправителей.
const studySelect = `
	SELECT s.accession, s.obfuscation_code, s.status, s.submission_date, s.release_date,
		s.curator_overrides, s.curator_comments, s.validation_status, s.status_changed_at,
		s.created_at, s.updated_at,
		COALESCE(array_agg(ss.user_id ORDER BY ss.user_id) FILTER (WHERE ss.user_id IS NOT NULL), '{}')
	FROM studies s
	LEFT JOIN study_submitters ss ON ss.accession = s.accession`

func scanStudy(row pgx.Row) (*model.Study, error) {
	s := &model.Study{}
	var (
		status              int16
		overrides, comments string
	)
	err := row.Scan(
		&s.Accession, &s.ObfuscationCode, &status, &s.SubmissionDate, &s.ReleaseDate,
		&overrides, &comments, &s.ValidationStatus, &s.StatusChangedAt,
		&s.CreatedAt, &s.UpdatedAt, &s.Submitters,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.StudyStatus(status)
	s.CuratorOverrides = model.SplitNotes(overrides)
	s.CuratorComments = model.SplitNotes(comments)
	return s, nil
}

func (r *studyRepo) Create(ctx context.Context, s *model.Study) error {
	query := `
		INSERT INTO studies (accession, obfuscation_code, status, submission_date, release_date,
			curator_overrides, curator_comments, validation_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.Accession, s.ObfuscationCode, int16(s.Status), s.SubmissionDate, s.ReleaseDate,
		model.JoinNotes(s.CuratorOverrides), model.JoinNotes(s.CuratorComments), s.ValidationStatus,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: accession %s уже существует", ErrConflict, s.Accession)
		case isConstraintViolation(err):
			return fmt.Errorf("%w: %v", ErrConstraint, err)
		}
		return fmt.Errorf("ошибка создания исследования: %w", err)
	}

	for _, id := range s.Submitters {
		if err := r.AddSubmitter(ctx, s.Accession, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *studyRepo) Get(ctx context.Context, accession string) (*model.Study, error) {
	s, err := scanStudy(r.db.QueryRow(ctx, studySelect+`
		WHERE s.accession = $1
		GROUP BY s.accession`, accession))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения исследования: %w", err)
	}
	return s, nil
}

func (r *studyRepo) GetByObfuscationCode(ctx context.Context, code string) (*model.Study, error) {
	s, err := scanStudy(r.db.QueryRow(ctx, studySelect+`
		WHERE s.obfuscation_code = $1
		GROUP BY s.accession`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения исследования по коду: %w", err)
	}
	return s, nil
}

func (r *studyRepo) List(ctx context.Context, status *model.StudyStatus, limit, offset int) ([]*model.Study, error) {
	query := studySelect + `
		WHERE ($1::smallint IS NULL OR s.status = $1)
		GROUP BY s.accession
		ORDER BY s.accession
		LIMIT $2 OFFSET $3`
	var st *int16
	if status != nil {
		v := int16(*status)
		st = &v
	}
	return r.list(ctx, query, st, limit, offset)
}

func (r *studyRepo) ListBySubmitter(ctx context.Context, userID string) ([]*model.Study, error) {
	query := studySelect + `
		WHERE s.accession IN (SELECT accession FROM study_submitters WHERE user_id = $1)
		GROUP BY s.accession
		ORDER BY s.accession`
	return r.list(ctx, query, userID)
}

func (r *studyRepo) list(ctx context.Context, query string, args ...any) ([]*model.Study, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка исследований: %w", err)
	}
	defer rows.Close()

	var result []*model.Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования исследования: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *studyRepo) UpdateStatus(ctx context.Context, accession string, status model.StudyStatus, release time.Time, changedAt time.Time) error {
	return r.exec(ctx, `
		UPDATE studies
		SET status = $2, release_date = $3, status_changed_at = $4, updated_at = NOW()
		WHERE accession = $1`, accession, int16(status), release, changedAt)
}

func (r *studyRepo) UpdateDates(ctx context.Context, accession string, submission, release time.Time) error {
	return r.exec(ctx, `
		UPDATE studies
		SET submission_date = $2, release_date = $3, updated_at = NOW()
		WHERE accession = $1`, accession, submission, release)
}

func (r *studyRepo) UpdateNotes(ctx context.Context, accession string, overrides, comments []string) error {
	return r.exec(ctx, `
		UPDATE studies
		SET curator_overrides = $2, curator_comments = $3, updated_at = NOW()
		WHERE accession = $1`, accession, model.JoinNotes(overrides), model.JoinNotes(comments))
}

func (r *studyRepo) UpdateValidationStatus(ctx context.Context, accession, status string) error {
	return r.exec(ctx, `
		UPDATE studies
		SET validation_status = $2, updated_at = NOW()
		WHERE accession = $1`, accession, status)
}

// exec выполняет UPDATE одной строки; отсутствие строки — ErrNotFound.
func (r *studyRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %v", ErrConstraint, err)
		}
		return fmt.Errorf("ошибка обновления исследования: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *studyRepo) AddSubmitter(ctx context.Context, accession, userID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO study_submitters (accession, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, accession, userID)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: исследование %s или пользователь %s", ErrNotFound, accession, userID)
		}
		return fmt.Errorf("ошибка добавления отправителя: %w", err)
	}
	return nil
}

func (r *studyRepo) AppendHistory(ctx context.Context, accession string, rec lifecycle.TransitionRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO status_history (accession, from_status, to_status, subject, role, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		accession, int16(rec.From), int16(rec.To), rec.Subject, string(rec.Role), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка записи истории статусов: %w", err)
	}
	return nil
}

func (r *studyRepo) History(ctx context.Context, accession string) ([]lifecycle.TransitionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT from_status, to_status, subject, role, changed_at
		FROM status_history
		WHERE accession = $1
		ORDER BY changed_at, id`, accession)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории статусов: %w", err)
	}
	defer rows.Close()

	var result []lifecycle.TransitionRecord
	for rows.Next() {
		var (
			rec      lifecycle.TransitionRecord
			from, to int16
			role     string
		)
		if err := rows.Scan(&from, &to, &rec.Subject, &role, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ошибка сканирования истории: %w", err)
		}
		rec.From, rec.To, rec.Role = model.StudyStatus(from), model.StudyStatus(to), model.Role(role)
		result = append(result, rec)
	}
	return result, rows.Err()
}
