// Package storage provides storage backend selection logic based on
// deployment profile. Supports both Lite (SQLite embedded) and Standard
// (PostgreSQL external) profiles.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/codepush-acquisition/internal/config"
	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/storage/memory"
	pgstorage "github.com/vitaliisemenov/codepush-acquisition/internal/storage/postgres"
	"github.com/vitaliisemenov/codepush-acquisition/internal/storage/sqlite"
)

// NewStorage creates the appropriate storage backend based on deployment
// profile. Returns the unified core.ReleaseHistoryStore interface for
// transparent usage by consumers.
//
// Profiles:
//   - Lite: SQLite embedded storage (pgPool can be nil)
//   - Standard: PostgreSQL external storage (pgPool required)
func NewStorage(
	ctx context.Context,
	cfg *config.Config,
	pgPool *pgxpool.Pool,
	logger *slog.Logger,
) (core.ReleaseHistoryStore, error) {
	startTime := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: err}
	}

	logger.Info("initializing storage backend", "profile", cfg.Profile, "backend", cfg.Storage.Backend)

	var backend core.ReleaseHistoryStore
	var err error

	switch {
	case cfg.IsLiteProfile():
		backend, err = initLiteStorage(ctx, cfg, logger)
		if err != nil {
			return nil, &ErrStorageInitFailed{Backend: "sqlite", Profile: string(cfg.Profile), Cause: err}
		}

	case cfg.IsStandardProfile():
		backend, err = initStandardStorage(ctx, pgPool, logger)
		if err != nil {
			return nil, &ErrStorageInitFailed{Backend: "postgres", Profile: string(cfg.Profile), Cause: err}
		}

	default:
		return nil, &ErrInvalidProfile{Profile: string(cfg.Profile), Cause: fmt.Errorf("unknown deployment profile: %s", cfg.Profile)}
	}

	duration := time.Since(startTime)
	logger.Info("storage backend initialized",
		"profile", cfg.Profile,
		"backend", cfg.Storage.Backend,
		"duration_ms", duration.Milliseconds(),
	)

	StorageOperationsTotal.WithLabelValues("init", string(cfg.Storage.Backend), "success").Inc()
	StorageOperationDuration.WithLabelValues("init", string(cfg.Storage.Backend)).Observe(duration.Seconds())

	return backend, nil
}

// initLiteStorage initializes SQLite embedded storage for the Lite
// profile. The file is created at cfg.Storage.FilesystemPath with secure
// permissions (0600); its parent directory is created with mode 0700 if
// it doesn't exist.
func initLiteStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.ReleaseHistoryStore, error) {
	logger.Info("initializing embedded storage (lite profile)", "path", cfg.Storage.FilesystemPath)

	if cfg.Storage.FilesystemPath == "" {
		return nil, fmt.Errorf("lite profile requires storage.filesystem_path (e.g. /data/acquisition.db)")
	}

	sqliteStorage, err := sqlite.NewSQLiteStorage(ctx, cfg.Storage.FilesystemPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}

	fileSize := sqliteStorage.GetFileSize()
	logger.Info("sqlite storage initialized", "path", cfg.Storage.FilesystemPath, "file_size_bytes", fileSize)

	SQLiteFileSizeBytes.Set(float64(fileSize))
	StorageBackendType.WithLabelValues("sqlite").Set(1)

	return sqliteStorage, nil
}

// initStandardStorage initializes PostgreSQL storage for the Standard
// profile over an already-connected pool.
func initStandardStorage(ctx context.Context, pgPool *pgxpool.Pool, logger *slog.Logger) (core.ReleaseHistoryStore, error) {
	if pgPool == nil {
		return nil, fmt.Errorf("postgresql pool is nil (required for standard profile)")
	}

	pgStore, err := pgstorage.NewStorage(ctx, pgPool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
	}

	stats := pgPool.Stat()
	logger.Info("postgresql connection verified",
		"total_conns", stats.TotalConns(),
		"idle_conns", stats.IdleConns(),
		"acquired_conns", stats.AcquiredConns(),
	)

	StorageBackendType.WithLabelValues("postgres").Set(2)
	StorageConnections.WithLabelValues("postgres", "total").Set(float64(stats.TotalConns()))
	StorageConnections.WithLabelValues("postgres", "idle").Set(float64(stats.IdleConns()))
	StorageConnections.WithLabelValues("postgres", "in_use").Set(float64(stats.AcquiredConns()))

	return pgStore, nil
}

// NewFallbackStorage creates in-memory storage for graceful degradation
// when the primary storage backend (SQLite/Postgres) fails to initialize.
//
// WARNING: This is NOT suitable for production use. Data is lost on pod
// restart, service restart, or crash.
func NewFallbackStorage(logger *slog.Logger) core.ReleaseHistoryStore {
	logger.Warn("creating fallback in-memory storage, data will not persist")
	logger.Warn("this is not suitable for production use")
	logger.Warn("fix storage configuration to restore persistent storage")

	StorageBackendType.WithLabelValues("memory").Set(0)
	StorageHealthStatus.WithLabelValues("memory").Set(2)

	return memory.NewMemoryStorage(logger)
}
