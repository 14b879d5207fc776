// Package database wires goose-driven schema migrations for the release
// history table on top of the pooled PostgreSQL connection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vitaliisemenov/codepush-acquisition/internal/database/postgres"
)

// RunMigrations applies all pending release-history schema migrations.
func RunMigrations(ctx context.Context, pool postgres.DatabaseConnection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting database migrations")

	migrationsDir := filepath.Join("migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		return fmt.Errorf("failed to create sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// RunMigrationsDown rolls migrations back by the given number of steps.
func RunMigrationsDown(ctx context.Context, pool postgres.DatabaseConnection, steps int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	migrationsDir := filepath.Join("migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		return fmt.Errorf("failed to create sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	for i := 0; i < steps; i++ {
		if err := goose.Down(db, migrationsDir); err != nil {
			return fmt.Errorf("failed to rollback migrations: %w", err)
		}
	}

	logger.Info("database migration rollback completed", "steps", steps)
	return nil
}

// GetMigrationStatus writes the current migration status through goose's
// logger.
func GetMigrationStatus(ctx context.Context, pool postgres.DatabaseConnection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	migrationsDir := filepath.Join("migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		return fmt.Errorf("failed to create sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.Status(db, migrationsDir)
}

// createSQLDBFromPool builds a database/sql handle from the pool's
// connection config, since goose operates on *sql.DB rather than pgxpool.
func createSQLDBFromPool(pool postgres.DatabaseConnection) (*sql.DB, error) {
	pgPool, ok := pool.(*postgres.PostgresPool)
	if !ok {
		return nil, fmt.Errorf("unsupported pool type")
	}

	config := pgPool.GetConfig()

	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sql db: %w", err)
	}

	db.SetMaxOpenConns(int(config.MaxConns))
	db.SetMaxIdleConns(int(config.MinConns))
	db.SetConnMaxLifetime(config.MaxConnLifetime)
	db.SetConnMaxIdleTime(config.MaxConnIdleTime)

	return db, nil
}
