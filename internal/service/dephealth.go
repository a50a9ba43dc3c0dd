// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// Проверяемые зависимости:
//   - PostgreSQL — SQL checker через существующий pgxpool (critical)
//   - агент приватного FTP — HTTP checker, только для unmounted-режима (critical)
//   - JWKS endpoint — HTTP checker, если настроена проверка JWT (non-critical)
//
// Метрики app_dependency_* публикуются на /metrics вместе с остальными.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для агента и JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/metabostore/internal/storage"
)

// DephealthTargets — проверяемые зависимости.
type DephealthTargets struct {
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PostgresURL — URL подключения для лейблов метрик
	PostgresURL string
	// AgentURL — адрес агента приватного FTP (пусто — mounted-режим)
	AgentURL string
	// JWKSURL — адрес JWKS (пусто — JWT не используется)
	JWKSURL string
}

// DephealthService — сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(serviceID, group string, targets DephealthTargets, checkInterval time.Duration, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)),
			dephealth.FromURL(targets.PostgresURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
	}
	if targets.AgentURL != "" {
		opts = append(opts, dephealth.HTTP("private-ftp-agent",
			dephealth.FromURL(targets.AgentURL),
			dephealth.WithHTTPHealthPath(storage.AgentHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}
	if targets.JWKSURL != "" {
		opts = append(opts, dephealth.HTTP("jwks",
			dephealth.FromURL(targets.JWKSURL),
			dephealth.WithHTTPHealthPath(healthPath(targets.JWKSURL)),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath возвращает path самого URL: у провайдеров OIDC /health часто
// доступен только на management-порту.
func healthPath(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей (имя → ok).
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
