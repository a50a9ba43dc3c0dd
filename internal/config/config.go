// Пакет config — загрузка и валидация конфигурации metabostore
// из переменных окружения с префиксом MS_.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы монтирования приватного FTP.
const (
	MountTypeMounted   = "mounted"
	MountTypeUnmounted = "unmounted"
)

// Config содержит все параметры конфигурации metabostore.
type Config struct {
	// Порт HTTP-сервера
	Port int

	// Корень метаданных исследований (<metadata-root>/<acc>/i_Investigation.txt)
	MetadataRoot string
	// Корень read-only области данных (<readonly-data-root>/<acc>/...)
	ReadonlyDataRoot string
	// Корень приватного FTP (<private-ftp-root>/<acc-lower>-<code>/)
	PrivateFTPRoot string
	// Тип монтирования приватного FTP: mounted или unmounted
	PrivateFTPMountType string
	// URL агента удалённого хранилища (только unmounted)
	PrivateFTPRemoteURL string
	// Токен агента удалённого хранилища (только unmounted)
	PrivateFTPRemoteToken string
	// Имя каталога внутри приватного FTP для перемещённых опубликованных исследований
	PrivateFTPOldFolder string
	// Корень публичного FTP (опционально, используется Publish)
	PublicFTPRoot string

	// Имена каталогов, в которые обходчик не заходит
	SkipFolderNames []string
	// Расширения каталогов-«стоп-папок» (вендорные наборы данных)
	StopFolderExtensions []string
	// Расширения производных файлов
	DerivedFileExtensions []string
	// Расширения сырых файлов
	RawFileExtensions []string
	// Расширения архивов
	CompressedFileExtensions []string
	// Имена файлов, исключаемых из синхронизации и проверки пустых файлов
	IgnoreFileList []string
	// Внутренние файлы сопоставления, не синхронизируемые с FTP
	InternalMappingList []string
	// Каталог журнала синхронизации (пусто — <metadata-root>/.sync-journal)
	SyncJournalDir string

	// URL или путь к набору правил валидации (пусто — встроенный набор)
	ValidationSchemaURL string
	// TTL кэша набора правил, загруженного по URL
	ValidationSchemaTTL time.Duration
	// Путь к XSD-схеме mzML (пусто — встроенная схема)
	MzMLXSDSchemaFilePath string
	// Путь к шаблону investigation партнёра Metabolon (пусто — встроенный шаблон)
	PartnerMetabolonTemplatePath string
	// Команда внешнего конвертера mzML → ISA
	MzML2ISACommand string

	// Формат имени снимка аудита (Go layout)
	AuditTimestampFormat string
	// Жёсткий дедлайн обхода дерева файлов
	ListFilesTimeout time.Duration
	// Минимальная задержка даты публикации для не-кураторов (в днях)
	MinimumReleaseDelayDays int
	// Имя шаблона файла аннотаций
	AnnotationTemplateFilename string
	// Имя файла investigation
	InvestigationFilename string
	// Префикс accession исследований (MTBLS)
	StudyPrefix string
	// Префикс зарезервированных accession (REQ)
	ReservedPrefix string

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint для проверки Bearer JWT (опционально)
	JWKSUrl string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string

	// Размер и TTL кэша прав доступа
	AccessCacheSize int
	AccessCacheTTL  time.Duration

	// Количество воркеров исполнителя фоновых заданий
	JobWorkers int
	// Срок хранения завершённых задач и записей журнала синхронизации
	JobRetention         time.Duration
	SyncJournalRetention time.Duration
	// Интервал периодической очистки
	HousekeepingInterval time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal загружает конфигурацию без обязательных корней хранилищ.
// Используется CLI, где корни передаются флагами.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(requireRoots bool) (*Config, error) {
	cfg := &Config{}
	var err error

	// MS_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("MS_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("MS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// Корни хранилищ — обязательные для сервера
	roots := []struct {
		key string
		dst *string
	}{
		{"MS_METADATA_ROOT", &cfg.MetadataRoot},
		{"MS_READONLY_DATA_ROOT", &cfg.ReadonlyDataRoot},
		{"MS_PRIVATE_FTP_ROOT", &cfg.PrivateFTPRoot},
	}
	for _, r := range roots {
		if requireRoots {
			*r.dst, err = getEnvRequired(r.key)
			if err != nil {
				return nil, err
			}
		} else {
			*r.dst = getEnvDefault(r.key, "")
		}
	}

	// MS_PRIVATE_FTP_MOUNT_TYPE — mounted | unmounted
	cfg.PrivateFTPMountType = strings.ToLower(getEnvDefault("MS_PRIVATE_FTP_MOUNT_TYPE", MountTypeMounted))
	cfg.PrivateFTPRemoteURL = getEnvDefault("MS_PRIVATE_FTP_REMOTE_URL", "")
	cfg.PrivateFTPRemoteToken = getEnvDefault("MS_PRIVATE_FTP_REMOTE_TOKEN", "")
	if cfg.PrivateFTPMountType == MountTypeUnmounted && cfg.PrivateFTPRemoteURL == "" {
		return nil, fmt.Errorf("MS_PRIVATE_FTP_REMOTE_URL: обязателен при MS_PRIVATE_FTP_MOUNT_TYPE=%s", MountTypeUnmounted)
	}
	if cfg.PrivateFTPRemoteURL != "" {
		if _, err := url.ParseRequestURI(cfg.PrivateFTPRemoteURL); err != nil {
			return nil, fmt.Errorf("MS_PRIVATE_FTP_REMOTE_URL: некорректный URL %q", cfg.PrivateFTPRemoteURL)
		}
	}
	cfg.PrivateFTPOldFolder = getEnvDefault("MS_PRIVATE_FTP_OLD_FOLDER", "old")
	cfg.PublicFTPRoot = getEnvDefault("MS_PUBLIC_FTP_ROOT", "")

	// Наборы имён и расширений
	cfg.SkipFolderNames = getEnvList("MS_SKIP_FOLDER_NAMES",
		[]string{"audit", "chebi_pipeline_annotations", "__MACOSX"}, false)
	cfg.StopFolderExtensions = getEnvList("MS_STOP_FOLDER_EXTENSIONS",
		[]string{".raw", ".d", ".fid"}, true)
	cfg.DerivedFileExtensions = getEnvList("MS_DERIVED_FILE_EXTENSIONS",
		[]string{".mzml", ".nmrml", ".mzxml", ".xml"}, true)
	cfg.RawFileExtensions = getEnvList("MS_RAW_FILE_EXTENSIONS",
		[]string{".wiff", ".wiff2", ".scan", ".lcd", ".qgd", ".cdf", ".mzdata", ".dat", ".raw", ".d", ".fid", ".ibd", ".imzml"}, true)
	cfg.CompressedFileExtensions = getEnvList("MS_COMPRESSED_FILE_EXTENSIONS",
		[]string{".zip", ".gz", ".tar", ".7z", ".z", ".bz2", ".rar", ".g7z", ".arj", ".war"}, true)
	cfg.IgnoreFileList = getEnvList("MS_IGNORE_FILE_LIST",
		[]string{".DS_Store", "Thumbs.db", "desktop.ini"}, false)
	cfg.InternalMappingList = getEnvList("MS_INTERNAL_MAPPING_LIST",
		[]string{"metexplore_mapping.json", "chebi_pipeline_annotations"}, false)
	cfg.SyncJournalDir = getEnvDefault("MS_SYNC_JOURNAL_DIR", "")
	if cfg.SyncJournalDir == "" && cfg.MetadataRoot != "" {
		cfg.SyncJournalDir = filepath.Join(cfg.MetadataRoot, ".sync-journal")
	}

	cfg.ValidationSchemaURL = getEnvDefault("MS_VALIDATION_SCHEMA_URL", "")
	cfg.ValidationSchemaTTL, err = getEnvDuration("MS_VALIDATION_SCHEMA_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MS_VALIDATION_SCHEMA_TTL: %w", err)
	}
	cfg.MzMLXSDSchemaFilePath = getEnvDefault("MS_MZML_XSD_SCHEMA_FILE_PATH", "")
	cfg.PartnerMetabolonTemplatePath = getEnvDefault("MS_PARTNER_METABOLON_TEMPLATE_PATH", "")
	cfg.MzML2ISACommand = getEnvDefault("MS_MZML2ISA_COMMAND", "mzml2isa")

	// MS_AUDIT_TIMESTAMP_FORMAT — допускается Go layout или YYYY-MM-DD_HH-MM-SS
	cfg.AuditTimestampFormat = TimestampLayout(getEnvDefault("MS_AUDIT_TIMESTAMP_FORMAT", "YYYY-MM-DD_HH-MM-SS"))

	// MS_LIST_FILES_TIMEOUT_SECONDS — дедлайн обхода (по умолчанию 180 с)
	timeoutSeconds, err := getEnvInt("MS_LIST_FILES_TIMEOUT_SECONDS", 180)
	if err != nil {
		return nil, fmt.Errorf("MS_LIST_FILES_TIMEOUT_SECONDS: %w", err)
	}
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("MS_LIST_FILES_TIMEOUT_SECONDS: значение должно быть положительным")
	}
	cfg.ListFilesTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.MinimumReleaseDelayDays, err = getEnvInt("MS_MINIMUM_RELEASE_DELAY_DAYS", 28)
	if err != nil {
		return nil, fmt.Errorf("MS_MINIMUM_RELEASE_DELAY_DAYS: %w", err)
	}
	if cfg.MinimumReleaseDelayDays < 0 {
		return nil, fmt.Errorf("MS_MINIMUM_RELEASE_DELAY_DAYS: значение не может быть отрицательным")
	}
	cfg.AnnotationTemplateFilename = getEnvDefault("MS_ANNOTATION_TEMPLATE_FILENAME", "m_template_v2_maf.tsv")
	cfg.InvestigationFilename = getEnvDefault("MS_INVESTIGATION_FILENAME", "i_Investigation.txt")
	cfg.StudyPrefix = getEnvDefault("MS_STUDY_PREFIX", "MTBLS")
	cfg.ReservedPrefix = getEnvDefault("MS_RESERVED_PREFIX", "REQ")

	// PostgreSQL
	cfg.DBHost = getEnvDefault("MS_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("MS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MS_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("MS_DB_NAME", "metabolights")
	cfg.DBUser = getEnvDefault("MS_DB_USER", "metabolights")
	cfg.DBPassword = getEnvDefault("MS_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("MS_DB_SSL_MODE", "disable")

	cfg.JWKSUrl = getEnvDefault("MS_JWKS_URL", "")
	cfg.JWKSRefreshInterval, err = getEnvDuration("MS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTIssuer = getEnvDefault("MS_JWT_ISSUER", "")

	cfg.AccessCacheSize, err = getEnvInt("MS_ACCESS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("MS_ACCESS_CACHE_SIZE: %w", err)
	}
	cfg.AccessCacheTTL, err = getEnvDuration("MS_ACCESS_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MS_ACCESS_CACHE_TTL: %w", err)
	}

	cfg.JobWorkers, err = getEnvInt("MS_JOB_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("MS_JOB_WORKERS: %w", err)
	}
	if cfg.JobWorkers <= 0 {
		return nil, fmt.Errorf("MS_JOB_WORKERS: значение должно быть положительным")
	}
	cfg.JobRetention, err = getEnvDuration("MS_JOB_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MS_JOB_RETENTION: %w", err)
	}
	cfg.SyncJournalRetention, err = getEnvDuration("MS_SYNC_JOURNAL_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MS_SYNC_JOURNAL_RETENTION: %w", err)
	}
	cfg.HousekeepingInterval, err = getEnvDuration("MS_HOUSEKEEPING_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MS_HOUSEKEEPING_INTERVAL: %w", err)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MS_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("MS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("MS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("MS_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("MS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("MS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.DephealthCheckInterval, err = getEnvDuration("MS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("MS_DEPHEALTH_GROUP", "metabostore")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// TimestampLayout переводит формат вида YYYY-MM-DD_HH-MM-SS в Go layout.
// Строка, уже являющаяся Go layout, возвращается без изменений.
func TimestampLayout(format string) string {
	if !strings.Contains(format, "YYYY") {
		return format
	}
	r := strings.NewReplacer(
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"SS", "05",
	)
	// MM встречается дважды: месяц и минуты. Минуты идут после часов.
	hh := strings.Index(format, "HH")
	if hh >= 0 {
		if mi := strings.Index(format[hh:], "MM"); mi >= 0 {
			pos := hh + mi
			format = format[:pos] + "04" + format[pos+2:]
		}
	}
	return r.Replace(format)
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvList возвращает список значений, разделённых запятыми.
// Для расширений (lower=true) значения приводятся к нижнему регистру
// и дополняются ведущей точкой.
func getEnvList(key string, defaultVal []string, lower bool) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
			if !strings.HasPrefix(item, ".") {
				item = "." + item
			}
		}
		out = append(out, item)
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
