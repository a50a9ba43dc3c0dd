// Пакет database — PostgreSQL хранилища исследований: пул pgxpool,
// встроенные миграции golang-migrate и проверка готовности, которая
// сверяет версию схемы в базе с последней встроенной миграцией.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/metabostore/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName — имя подключения в pg_stat_activity.
const applicationName = "metabostore"

// ErrDirtySchema — миграция прервана, схема требует ручного исправления.
var ErrDirtySchema = errors.New("схема базы в состоянии dirty")

// SchemaVersion возвращает номер последней встроенной миграции.
func SchemaVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("чтение встроенных миграций: %w", err)
	}
	var latest uint
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("имя миграции %s: %w", name, err)
		}
		latest = max(latest, uint(v))
	}
	if latest == 0 {
		return 0, errors.New("нет встроенных миграций")
	}
	return latest, nil
}

// Connect создаёт пул подключений и проверяет доступность базы.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к базе исследований установлено",
		slog.String("component", "database"),
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate доводит схему до последней встроенной миграции.
// Схема в состоянии dirty не мигрируется: возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return fmt.Errorf("чтение версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	after, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("чтение версии схемы: %w", err)
	}
	logger.Info("Схема базы исследований актуальна",
		slog.String("component", "database"),
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(after)),
	)
	return nil
}

// ReadinessChecker проверяет доступность базы и версию схемы.
type ReadinessChecker struct {
	pool     *pgxpool.Pool
	expected uint
}

// NewReadinessChecker создаёт проверку готовности базы исследований.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	expected, _ := SchemaVersion()
	return &ReadinessChecker{pool: pool, expected: expected}
}

// CheckReady возвращает fail, если база недоступна или схема dirty,
// и degraded, если схема старше встроенных миграций.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := c.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен или схема не создана: %v", err)
	}
	return schemaStatus(uint(version), dirty, c.expected)
}

// schemaStatus сопоставляет версию схемы в базе с ожидаемой.
func schemaStatus(version uint, dirty bool, expected uint) (string, string) {
	switch {
	case dirty:
		return "fail", fmt.Sprintf("миграция схемы v%d не завершена", version)
	case version < expected:
		return "degraded", fmt.Sprintf("схема v%d, ожидается v%d", version, expected)
	default:
		return "ok", fmt.Sprintf("схема v%d", version)
	}
}
