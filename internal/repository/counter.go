package repository

import (
	"context"
	"fmt"
)

// AccessionRepository — атомарные счётчики accession по префиксу.
type AccessionRepository interface {
	// Next увеличивает счётчик префикса и возвращает новое значение.
	Next(ctx context.Context, prefix string) (int64, error)
}

type accessionRepo struct {
	db DBTX
}

// NewAccessionRepository создаёт репозиторий счётчиков accession.
func NewAccessionRepository(db DBTX) AccessionRepository {
	return &accessionRepo{db: db}
}

func (r *accessionRepo) Next(ctx context.Context, prefix string) (int64, error) {
	var value int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO accession_counters (prefix, last_value)
		VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET last_value = accession_counters.last_value + 1
		RETURNING last_value`, prefix).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения accession для %s: %w", prefix, err)
	}
	return value, nil
}
