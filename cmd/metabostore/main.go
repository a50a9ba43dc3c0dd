// Точка входа metabostore — сервис метаданных метаболомных исследований.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// открывает хранилища (метаданные, данные, приватный и публичный FTP),
// восстанавливает журнал синхронизации, создаёт сервисный слой и API handlers,
// запускает фоновые задачи (очистка, topologymetrics) и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/metabostore/internal/api/handlers"
	"github.com/bigkaa/metabostore/internal/api/middleware"
	"github.com/bigkaa/metabostore/internal/audit"
	"github.com/bigkaa/metabostore/internal/config"
	"github.com/bigkaa/metabostore/internal/database"
	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/pipeline"
	"github.com/bigkaa/metabostore/internal/repository"
	"github.com/bigkaa/metabostore/internal/server"
	"github.com/bigkaa/metabostore/internal/service"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
	"github.com/bigkaa/metabostore/internal/storage/journal"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/syncengine"
	"github.com/bigkaa/metabostore/internal/validation"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("metabostore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("private_ftp_mount", cfg.PrivateFTPMountType),
	)
	if os.Getenv("MS_DEPHEALTH_GROUP") == "" {
		logger.Warn("MS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	userRepo := repository.NewUserRepository(pool)
	studyRepo := repository.NewStudyRepository(pool)
	accessionRepo := repository.NewAccessionRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Хранилища
	metaStore, err := storage.NewMounted("metadata", cfg.MetadataRoot)
	if err != nil {
		logger.Error("Ошибка открытия хранилища метаданных", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var dataStore storage.Storage
	if cfg.ReadonlyDataRoot != "" {
		if dataStore, err = storage.NewMounted("readonly-data", cfg.ReadonlyDataRoot); err != nil {
			logger.Error("Ошибка открытия области данных", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	ftpStore, err := storage.Open("private-ftp", cfg.PrivateFTPMountType, cfg.PrivateFTPRoot,
		storage.RemoteOptions{URL: cfg.PrivateFTPRemoteURL, Token: cfg.PrivateFTPRemoteToken}, logger)
	if err != nil {
		logger.Error("Ошибка открытия приватного FTP", slog.String("error", err.Error()))
		os.Exit(1)
	}
	privateFTP := storage.NewPrivateFTP(ftpStore, cfg.PrivateFTPOldFolder, logger)

	// 7. Блокировки, классификатор, валидатор, аудит
	locks := studylock.New(logger)
	cls := classifier.New(classifier.Options{
		RawExtensions:        cfg.RawFileExtensions,
		DerivedExtensions:    cfg.DerivedFileExtensions,
		CompressedExtensions: cfg.CompressedFileExtensions,
		StopFolderExtensions: cfg.StopFolderExtensions,
		InternalMappingList:  cfg.InternalMappingList,
	})
	var schemas *validation.SchemaLoader
	if cfg.ValidationSchemaURL != "" {
		schemas = validation.NewSchemaLoader(cfg.ValidationSchemaURL, cfg.ValidationSchemaTTL, logger)
	}
	validator := validation.New(validation.Options{
		Classifier:        cls,
		SkipFolderNames:   cfg.SkipFolderNames,
		IgnoreFiles:       cfg.IgnoreFileList,
		ListTimeout:       cfg.ListFilesTimeout,
		InvestigationFile: cfg.InvestigationFilename,
		Schemas:           schemas,
	}, logger)
	auditMgr := audit.New(cfg.MetadataRoot, locks, audit.Options{
		TimestampLayout: cfg.AuditTimestampFormat,
	}, logger)

	// 8. Services
	accessSvc := service.NewAccessService(userRepo, studyRepo,
		service.NewStudyCache(cfg.AccessCacheSize, cfg.AccessCacheTTL), logger)
	validationSvc := service.NewValidationService(validator, accessSvc, studyRepo, locks, service.ValidationOptions{
		MetadataRoot:      cfg.MetadataRoot,
		DataRoot:          cfg.ReadonlyDataRoot,
		InvestigationFile: cfg.InvestigationFilename,
		Classifier:        cls,
		SkipFolderNames:   cfg.SkipFolderNames,
		ListTimeout:       cfg.ListFilesTimeout,
	}, logger)
	studySvc := service.NewStudyService(
		service.Repositories{
			Studies:    studyRepo,
			Accessions: accessionRepo,
			InTx:       service.PostgresTx(txRunner),
		},
		accessSvc, validationSvc, auditMgr, privateFTP, metaStore, locks,
		lifecycle.ReleasePolicy{MinimumDelayDays: cfg.MinimumReleaseDelayDays},
		service.StudyOptions{
			MetadataRoot:      cfg.MetadataRoot,
			StudyPrefix:       cfg.StudyPrefix,
			ReservedPrefix:    cfg.ReservedPrefix,
			InvestigationFile: cfg.InvestigationFilename,
			PublishIgnore:     append(append([]string{}, cfg.IgnoreFileList...), cfg.InternalMappingList...),
		},
		logger,
	)
	if cfg.PublicFTPRoot != "" {
		publicStore, err := storage.NewMounted("public-ftp", cfg.PublicFTPRoot)
		if err != nil {
			logger.Error("Ошибка открытия публичного FTP", slog.String("error", err.Error()))
			os.Exit(1)
		}
		studySvc.SetPublicFTP(storage.NewPublicFTP(publicStore, logger))
	}

	// 9. Журнал синхронизации и восстановление прерванных запусков
	syncJournal, err := journal.New(cfg.SyncJournalDir, logger)
	if err != nil {
		logger.Error("Ошибка открытия журнала синхронизации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	engine := syncengine.New(
		syncengine.Stores{FTP: privateFTP, Metadata: metaStore, Data: dataStore},
		locks, syncJournal,
		syncengine.Options{
			Ignore:            append(append([]string{}, cfg.IgnoreFileList...), cfg.InternalMappingList...),
			SkipFolderNames:   cfg.SkipFolderNames,
			InvestigationFile: cfg.InvestigationFilename,
		},
		logger,
	)
	if n, err := engine.Recover(ctx); err != nil {
		logger.Warn("Ошибка восстановления журнала синхронизации", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Warn("Прерванные синхронизации помечены как failed", slog.Int("count", n))
	}

	// 10. Фоновые задачи
	runner := jobs.NewLocalRunner(cfg.JobWorkers, logger)
	syncSvc := service.NewSyncService(engine, accessSvc, runner, logger)
	jobSvc := service.NewJobService(runner, accessSvc)

	pipelineSvc, err := service.NewPipelineService(
		pipeline.Options{
			SchemaPath:                cfg.MzMLXSDSchemaFilePath,
			InvestigationTemplatePath: cfg.PartnerMetabolonTemplatePath,
			InvestigationFile:         cfg.InvestigationFilename,
			SkipFolderNames:           cfg.SkipFolderNames,
			Converter:                 pipeline.ExecConverter{Command: cfg.MzML2ISACommand},
			Notifier:                  pipeline.LogNotifier{Logger: logger},
		},
		accessSvc, studyRepo, locks, runner,
		service.PipelineOptions{MetadataRoot: cfg.MetadataRoot, DataRoot: cfg.ReadonlyDataRoot},
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания конвейера Metabolon", slog.String("error", err.Error()))
		os.Exit(1)
	}

	housekeeping := service.NewHousekeepingService(runner, syncJournal, service.HousekeepingOptions{
		Interval:         cfg.HousekeepingInterval,
		JobRetention:     cfg.JobRetention,
		JournalRetention: cfg.SyncJournalRetention,
	}, logger)
	housekeeping.Start(ctx)

	// 11. Readiness checkers и API handler
	healthHandler := handlers.NewHealthHandler(
		handlers.NamedChecker{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		handlers.NamedChecker{Name: "metadata", Checker: storage.NewReadinessChecker(metaStore)},
		handlers.NamedChecker{Name: "private_ftp", Checker: storage.NewReadinessChecker(ftpStore)},
	)
	apiHandler := handlers.NewAPIHandler(handlers.Services{
		Studies:    studySvc,
		Validation: validationSvc,
		Sync:       syncSvc,
		Pipeline:   pipelineSvc,
		Jobs:       jobSvc,
	}, healthHandler, logger)

	// 12. Определение субъекта: user_token и (опционально) Bearer JWT
	identity := middleware.NewIdentity(accessSvc, logger)
	if cfg.JWKSUrl != "" {
		if err := identity.EnableJWKS(cfg.JWKSUrl, cfg.JWTIssuer, cfg.JWKSRefreshInterval); err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Проверка Bearer JWT включена",
			slog.String("jwks_url", cfg.JWKSUrl),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// 13. topologymetrics — мониторинг зависимостей
	targets := service.DephealthTargets{
		DB:          pgDB,
		PostgresURL: cfg.DatabaseDSN(),
		JWKSURL:     cfg.JWKSUrl,
	}
	if cfg.PrivateFTPMountType == config.MountTypeUnmounted {
		targets.AgentURL = cfg.PrivateFTPRemoteURL
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"metabostore", cfg.DephealthGroup, targets, cfg.DephealthCheckInterval, logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, identity.Middleware(),
		middleware.MetricsMiddleware(),
		server.WithExclusions(middleware.RequestLogger(logger), "/health/", "/metrics"),
	)
	runErr := srv.Run()

	// 15. Остановка фоновых задач
	housekeeping.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := runner.Close(shutdownCtx); err != nil {
		logger.Warn("Фоновые задачи не завершились за отведённое время", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		cancel()
		os.Exit(1) //nolint:gocritic // cancel вызван явно перед выходом
	}
	logger.Info("metabostore остановлен")
}
