// Точка входа filevault — хранилища файлов пользователей.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/filevault/internal/api/handlers"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/config"
	"github.com/bigkaa/filevault/internal/server"
	"github.com/bigkaa/filevault/internal/service"
	"github.com/bigkaa/filevault/internal/storage/blobstore"
	"github.com/bigkaa/filevault/internal/storage/docstore"
	"github.com/bigkaa/filevault/internal/storage/index"
	"github.com/bigkaa/filevault/internal/storage/userdb"
)

// jwksDependency — имя зависимости identity provider в метриках topologymetrics.
const jwksDependency = "idp-jwks"

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("filevault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("metadata_path", cfg.MetadataPath),
		slog.Bool("local_auth", cfg.LocalAuth()),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("filevault остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("filevault остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Хранилище blob-ов
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("инициализация BlobStore: %w", err)
	}

	// 2. Индекс метаданных. Повреждённый документ — фатальная ошибка
	persister, err := docstore.NewJSONFile(cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("инициализация документа метаданных: %w", err)
	}
	idx := index.New(persister, logger)
	if err := idx.Load(ctx); err != nil {
		if errors.Is(err, docstore.ErrCorrupt) {
			logger.Error("Документ метаданных повреждён, требуется ручное восстановление",
				slog.String("path", cfg.MetadataPath),
			)
		}
		return err
	}

	// Обновляем Prometheus метрики файлов
	if err := updateFileMetrics(ctx, idx); err != nil {
		return err
	}

	// 3. Сервисы
	fileSvc := service.NewFileService(blobs, idx, service.FileServiceConfig{
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
	}, logger)

	reconcileSvc := service.NewReconcileService(blobs, idx, service.ReconcileConfig{
		Interval:      cfg.ReconcileInterval,
		OrphanGrace:   cfg.OrphanGrace,
		DeleteOrphans: cfg.ReconcileDeleteOrphans,
	}, logger)

	// 4. Аутентификация: локальный выпуск токенов или внешний identity provider
	var (
		jwtAuth     *middleware.JWTAuth
		authHandler *handlers.AuthHandler
		users       *userdb.DB
	)
	if cfg.LocalAuth() {
		users, err = userdb.Open(ctx, cfg.UsersDB, logger)
		if err != nil {
			return fmt.Errorf("открытие базы пользователей: %w", err)
		}
		defer users.Close()

		issuer, err := service.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
		if err != nil {
			return err
		}
		authSvc, err := service.NewAuthService(users, issuer, service.AuthConfig{
			CacheSize: cfg.UserCacheSize,
			CacheTTL:  cfg.UserCacheTTL,
		}, logger)
		if err != nil {
			return err
		}

		authHandler = handlers.NewAuthHandler(authSvc)
		jwtAuth = middleware.NewJWTAuthHMAC([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTLeeway, logger)
		logger.Info("JWT аутентификация настроена (локальный выпуск HS256)",
			slog.String("users_db", cfg.UsersDB),
		)
	} else {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
			Issuer:          cfg.JWTIssuer,
			Audience:        cfg.JWTAudience,
		}, logger)
		if err != nil {
			return fmt.Errorf("инициализация JWKS: %w", err)
		}
		logger.Info("JWT аутентификация настроена (JWKS)",
			slog.String("jwks_url", cfg.JWKSUrl),
		)

		// topologymetrics — мониторинг identity provider
		dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
			ServiceID:     cfg.ServiceID,
			Group:         dephealthGroup(cfg),
			DepName:       jwksDependency,
			URL:           cfg.JWKSUrl,
			CheckInterval: cfg.DephealthCheckInterval,
			TLSSkipVerify: cfg.TLSSkipVerify,
		}, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 5. Фоновая сверка (FV_RECONCILE_INTERVAL=0 — только по запросу)
	if cfg.ReconcileInterval > 0 {
		reconcileSvc.Start(ctx)
		defer reconcileSvc.Stop()
	}

	// 6. Handlers
	var usersCheck handlers.DBReadinessChecker
	if users != nil {
		usersCheck = users
	}
	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(fileSvc, cfg.MaxFileSize),
		authHandler,
		handlers.NewSystemHandler(cfg, idx, getDiskUsage, logger),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewHealthHandler(cfg.ServiceID, blobs.Root(), idx, usersCheck),
	)

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware())
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// updateFileMetrics инициализирует Prometheus метрики файлов из индекса.
func updateFileMetrics(ctx context.Context, idx *index.Index) error {
	st, err := idx.Stats(ctx)
	if err != nil {
		return err
	}
	middleware.FilesTotal.Set(float64(st.Files))
	middleware.StoredBytes.Set(float64(st.Bytes))
	return nil
}

// dephealthGroup возвращает группу topologymetrics: FV_DEPHEALTH_GROUP
// или имя владельца пода, извлечённое из hostname.
func dephealthGroup(cfg *config.Config) string {
	if cfg.DephealthGroup != "" {
		return cfg.DephealthGroup
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return cfg.ServiceID
	}
	return parseOwnerName(hostname)
}
