// access.go — идентификация субъекта запроса и проверка прав на исследование.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/repository"
)

// Need — требуемый уровень доступа к исследованию.
type Need int

const (
	// NeedView — чтение
	NeedView Need = iota
	// NeedEdit — изменение содержимого
	NeedEdit
	// NeedOwner — отправитель исследования или куратор
	NeedOwner
	// NeedCurator — только куратор
	NeedCurator
)

// String возвращает имя уровня для сообщений об ошибках.
func (n Need) String() string {
	switch n {
	case NeedView:
		return "чтение"
	case NeedEdit:
		return "изменение"
	case NeedOwner:
		return "владелец"
	default:
		return "куратор"
	}
}

// AccessService — идентификация по токену и проверка прав.
type AccessService struct {
	users   repository.UserRepository
	studies repository.StudyRepository
	cache   *StudyCache
	logger  *slog.Logger
}

// NewAccessService создаёт сервис доступа. cache может быть nil.
func NewAccessService(
	users repository.UserRepository,
	studies repository.StudyRepository,
	cache *StudyCache,
	logger *slog.Logger,
) *AccessService {
	if cache == nil {
		cache = NewStudyCache(0, 0)
	}
	return &AccessService{
		users:   users,
		studies: studies,
		cache:   cache,
		logger:  logger.With(slog.String("component", "access_service")),
	}
}

// Authenticate определяет субъекта по значению заголовка user_token.
// Пустой токен — аноним; "ocode:<код>" — рецензент; иначе API-токен пользователя.
func (s *AccessService) Authenticate(ctx context.Context, token string) (access.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return access.Anonymous, nil
	}
	if code, ok := access.ParseReviewerToken(token); ok {
		return access.Principal{ReviewerCode: code}, nil
	}
	user, err := s.users.GetByAPIToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return access.Anonymous, fmt.Errorf("%w: неизвестный токен", ErrPermissionDenied)
		}
		return access.Anonymous, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	return access.Principal{User: user}, nil
}

// AuthenticateUsername определяет субъекта по имени пользователя из JWT.
func (s *AccessService) AuthenticateUsername(ctx context.Context, username string) (access.Principal, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return access.Anonymous, fmt.Errorf("%w: пользователь %s не зарегистрирован", ErrPermissionDenied, username)
		}
		return access.Anonymous, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	if !user.Active {
		return access.Anonymous, fmt.Errorf("%w: пользователь %s отключён", ErrPermissionDenied, username)
	}
	return access.Principal{User: user}, nil
}

// Study возвращает запись исследования (через кэш).
func (s *AccessService) Study(ctx context.Context, accession string) (*model.Study, error) {
	if st, ok := s.cache.Get(accession); ok {
		return st, nil
	}
	st, err := s.studies.Get(ctx, accession)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: исследование %s", ErrNotFound, accession)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err) //nolint:errorlint // намеренный двойной wrap
	}
	s.cache.Set(st)
	return st, nil
}

// Authorize загружает исследование и проверяет, что субъекту доступен уровень need.
func (s *AccessService) Authorize(ctx context.Context, p access.Principal, accession string, need Need) (*model.Study, access.Permission, error) {
	st, err := s.Study(ctx, accession)
	if err != nil {
		return nil, access.Permission{}, err
	}
	perm := access.Resolve(p, st)

	allowed := false
	switch need {
	case NeedView:
		allowed = perm.View
	case NeedEdit:
		allowed = perm.Edit
	case NeedOwner:
		allowed = perm.Owner
	case NeedCurator:
		allowed = p.Kind() == access.KindCurator
	}
	if !allowed {
		s.logger.Debug("Доступ запрещён",
			slog.String("study_id", accession),
			slog.String("subject", p.Subject()),
			slog.String("need", need.String()),
		)
		return nil, perm, fmt.Errorf("%w: %s, требуется %s", ErrPermissionDenied, accession, need)
	}
	return st, perm, nil
}

// Invalidate сбрасывает кэшированную запись исследования.
func (s *AccessService) Invalidate(accession string) {
	s.cache.Delete(accession)
}
