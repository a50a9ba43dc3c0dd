package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/metabostore/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("metabostore_test"),
		postgres.WithUsername("metabostore"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("MS_DB_HOST", host)
	t.Setenv("MS_DB_PORT", port.Port())
	t.Setenv("MS_DB_NAME", "metabostore_test")
	t.Setenv("MS_DB_USER", "metabostore")
	t.Setenv("MS_DB_PASSWORD", "test-password")
	t.Setenv("MS_DB_SSL_MODE", "disable")

	cfg, err := config.LoadLocal()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestMigrate проверяет применение миграций и начальные счётчики accession.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "studies", "study_submitters", "accession_counters", "status_history"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM accession_counters`).Scan(&n); err != nil {
		t.Fatalf("Ошибка чтения счётчиков: %v", err)
	}
	if n != 2 {
		t.Errorf("ожидалось 2 счётчика (MTBLS, REQ), найдено %d", n)
	}
}

// TestReadinessChecker проверяет готовность до миграций, после них
// и для схемы в состоянии dirty.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	pool, err := Connect(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() до миграций = %q, %q; ожидали fail", status, msg)
	}

	if err := Migrate(cfg, testLogger()); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	status, msg := checker.CheckReady()
	if status != "ok" || msg != "схема v1" {
		t.Errorf("CheckReady() = %q, %q; ожидали ok, %q", status, msg, "схема v1")
	}

	if _, err := pool.Exec(context.Background(), `UPDATE schema_migrations SET dirty = true`); err != nil {
		t.Fatalf("Ошибка пометки схемы: %v", err)
	}
	if status, _ := checker.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() для dirty-схемы = %q; ожидали fail", status)
	}
	if err := Migrate(cfg, testLogger()); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() для dirty-схемы = %v; ожидали ErrDirtySchema", err)
	}
}

// TestSchemaVersion проверяет номер последней встроенной миграции.
func TestSchemaVersion(t *testing.T) {
	v, err := SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() вернул ошибку: %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion() = %d, ожидали 1", v)
	}
}

// TestSchemaStatus проверяет сопоставление версии схемы с ожидаемой.
func TestSchemaStatus(t *testing.T) {
	tests := []struct {
		name     string
		version  uint
		dirty    bool
		expected uint
		want     string
		wantMsg  string
	}{
		{"актуальная", 1, false, 1, "ok", "схема v1"},
		{"новее встроенной", 2, false, 1, "ok", "схема v2"},
		{"устаревшая", 1, false, 2, "degraded", "схема v1, ожидается v2"},
		{"dirty", 2, true, 2, "fail", "миграция схемы v2 не завершена"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := schemaStatus(tt.version, tt.dirty, tt.expected)
			if status != tt.want || msg != tt.wantMsg {
				t.Errorf("schemaStatus() = %q, %q; ожидали %q, %q", status, msg, tt.want, tt.wantMsg)
			}
		})
	}
}
