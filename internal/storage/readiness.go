package storage

import (
	"context"
	"fmt"
	"time"
)

// ReadinessChecker — проверка доступности хранилища для health endpoint.
type ReadinessChecker struct {
	store   Storage
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(store Storage) *ReadinessChecker {
	return &ReadinessChecker{store: store, timeout: 3 * time.Second}
}

// CheckReady проверяет корень хранилища через Stat.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	e, err := c.store.Stat(ctx, "")
	if err != nil {
		return "fail", fmt.Sprintf("хранилище %s недоступно: %v", c.store.Name(), err)
	}
	if !e.IsDir {
		return "fail", fmt.Sprintf("корень хранилища %s не является каталогом", c.store.Name())
	}
	return "ok", "хранилище доступно"
}
