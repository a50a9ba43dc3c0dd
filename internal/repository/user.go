package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// UserRepository — доступ к таблице users.
type UserRepository interface {
	// Create регистрирует пользователя.
	Create(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по идентификатору.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername возвращает пользователя по имени.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByAPIToken возвращает активного пользователя по API-токену.
	GetByAPIToken(ctx context.Context, token string) (*model.User, error)
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userSelect = `SELECT id, username, email, api_token, role, active FROM users`

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, username, email, api_token, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.APIToken, string(u.Role), u.Active)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, u.Username)
		case isConstraintViolation(err):
			return fmt.Errorf("%w: %v", ErrConstraint, err)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.get(ctx, userSelect+` WHERE id = $1`, id)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.get(ctx, userSelect+` WHERE username = $1`, username)
}

func (r *userRepo) GetByAPIToken(ctx context.Context, token string) (*model.User, error) {
	return r.get(ctx, userSelect+` WHERE api_token = $1 AND active`, token)
}

func (r *userRepo) get(ctx context.Context, query string, arg string) (*model.User, error) {
	u := &model.User{}
	var role string
	err := r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Email, &u.APIToken, &role, &u.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	u.Role = model.Role(role)
	return u, nil
}
