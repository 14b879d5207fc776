// Package sqlite implements core.ReleaseHistoryStore using an embedded
// SQLite database. Designed for the Lite deployment profile (single-node,
// no external dependencies).
//
// Features:
//   - WAL mode enabled (concurrent reads during writes)
//   - Foreign keys enabled (data integrity)
//   - Secure file permissions (0600, owner read/write only)
//   - Thread-safe operations (RWMutex)
//   - UPSERT logic (idempotent release upsert)
//   - Compatible schema with the PostgreSQL adapter
//
// Use Cases:
//   - Development environments (no Postgres required)
//   - Testing environments (fast, isolated)
//   - Small-scale production deployments
//   - Edge deployments (no network dependencies)
//
// Limitations:
//   - No horizontal scaling (single-node only)
//   - Limited concurrency (max 10 connections)
//   - No HA support (single file)
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Pure Go SQLite driver (no CGO, easier cross-compilation)
	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/storage"
)

// SQLiteStorage implements core.ReleaseHistoryStore using a SQLite
// database. Thread-safe for concurrent access (up to 10 connections).
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	mu     sync.RWMutex
}

// NewSQLiteStorage creates a new SQLite storage instance.
// Path must be absolute or relative to the current working directory.
// File will be created with mode 0600; its parent directory with 0700.
func NewSQLiteStorage(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}
	forbiddenPrefixes := []string{"/etc", "/sys", "/proc", "/dev"}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("forbidden path prefix %s: %s", prefix, path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: logger, path: path}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("sqlite storage initialized", "path", path, "wal_mode", true, "max_open_conns", 10)
	return s, nil
}

// initSchema creates the releases table and its indexes. Schema is
// compatible with the PostgreSQL adapter (same column names); booleans are
// stored as 0/1 integers and timestamps as Unix milliseconds.
func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS releases (
    deployment_key TEXT NOT NULL,
    label TEXT NOT NULL,
    app_version TEXT NOT NULL,
    package_hash TEXT NOT NULL,
    blob_url TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    is_mandatory INTEGER NOT NULL DEFAULT 0,
    is_disabled INTEGER NOT NULL DEFAULT 0,
    description TEXT,
    rollout INTEGER,
    rollout_hold_duration_minutes INTEGER,
    rollout_ramp_duration_minutes INTEGER,
    rollout_upload_time INTEGER,
    diff_package_map TEXT,
    upload_time INTEGER NOT NULL,
    PRIMARY KEY (deployment_key, label)
);

CREATE INDEX IF NOT EXISTS idx_releases_deployment_key ON releases(deployment_key);
CREATE INDEX IF NOT EXISTS idx_releases_upload_time ON releases(deployment_key, upload_time);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &storage.ErrSchemaInitFailed{Backend: "sqlite", Table: "releases", Cause: err}
	}
	s.logger.Debug("sqlite schema initialized", "tables", 1, "indexes", 2)
	return nil
}

// UpsertRelease inserts or updates a release row, keyed by
// (deploymentKey, label).
func (s *SQLiteStorage) UpsertRelease(ctx context.Context, deploymentKey string, release *core.Release) error {
	startTime := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	diffMapJSON, err := json.Marshal(release.DiffPackageMap)
	if err != nil {
		storage.RecordError("upsert", "sqlite", storage.ErrorTypeValidation)
		return fmt.Errorf("failed to marshal diff package map: %w", err)
	}

	var rolloutUploadTime *int64
	if release.RolloutUploadTime != nil {
		v := release.RolloutUploadTime.UnixMilli()
		rolloutUploadTime = &v
	}

	query := `
INSERT INTO releases (
    deployment_key, label, app_version, package_hash, blob_url, size,
    is_mandatory, is_disabled, description, rollout,
    rollout_hold_duration_minutes, rollout_ramp_duration_minutes,
    rollout_upload_time, diff_package_map, upload_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(deployment_key, label) DO UPDATE SET
    app_version = excluded.app_version,
    package_hash = excluded.package_hash,
    blob_url = excluded.blob_url,
    size = excluded.size,
    is_mandatory = excluded.is_mandatory,
    is_disabled = excluded.is_disabled,
    description = excluded.description,
    rollout = excluded.rollout,
    rollout_hold_duration_minutes = excluded.rollout_hold_duration_minutes,
    rollout_ramp_duration_minutes = excluded.rollout_ramp_duration_minutes,
    rollout_upload_time = excluded.rollout_upload_time,
    diff_package_map = excluded.diff_package_map
`
	_, err = s.db.ExecContext(ctx, query,
		deploymentKey, release.Label, release.AppVersion, release.PackageHash,
		release.BlobURL, release.Size, boolToInt(release.IsMandatory), boolToInt(release.IsDisabled),
		release.Description, release.Rollout, release.RolloutHoldDurationMinutes,
		release.RolloutRampDurationMinutes, rolloutUploadTime, string(diffMapJSON),
		release.UploadTime.UnixMilli(),
	)
	if err != nil {
		storage.RecordOperation("upsert", "sqlite", "error")
		return fmt.Errorf("failed to upsert release: %w", err)
	}

	duration := time.Since(startTime)
	storage.RecordOperation("upsert", "sqlite", "success")
	storage.RecordOperationDuration("upsert", "sqlite", duration.Seconds())
	return nil
}

// GetPackageHistory implements core.ReleaseHistoryStore.GetPackageHistory.
// Returns releases ordered oldest-first by upload time, matching the
// storage contract the selection engine expects.
func (s *SQLiteStorage) GetPackageHistory(ctx context.Context, deploymentKey string) ([]*core.Release, error) {
	startTime := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
SELECT label, app_version, package_hash, blob_url, size, is_mandatory,
       is_disabled, description, rollout, rollout_hold_duration_minutes,
       rollout_ramp_duration_minutes, rollout_upload_time, diff_package_map,
       upload_time
FROM releases
WHERE deployment_key = ?
ORDER BY upload_time ASC
`
	rows, err := s.db.QueryContext(ctx, query, deploymentKey)
	if err != nil {
		storage.RecordOperation("get_history", "sqlite", "error")
		return nil, fmt.Errorf("failed to query release history: %w", err)
	}
	defer rows.Close()

	var releases []*core.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			storage.RecordOperation("get_history", "sqlite", "error")
			return nil, err
		}
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		storage.RecordOperation("get_history", "sqlite", "error")
		return nil, fmt.Errorf("failed to iterate release history: %w", err)
	}

	duration := time.Since(startTime)
	storage.RecordOperation("get_history", "sqlite", "success")
	storage.RecordOperationDuration("get_history", "sqlite", duration.Seconds())
	return releases, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*core.Release, error) {
	var release core.Release
	var isMandatory, isDisabled int
	var blobURL, description sql.NullString
	var rollout, holdMinutes, rampMinutes sql.NullInt64
	var rolloutUploadTime sql.NullInt64
	var diffMapJSON string
	var uploadTime int64

	if err := row.Scan(
		&release.Label, &release.AppVersion, &release.PackageHash, &blobURL, &release.Size,
		&isMandatory, &isDisabled, &description, &rollout, &holdMinutes, &rampMinutes,
		&rolloutUploadTime, &diffMapJSON, &uploadTime,
	); err != nil {
		return nil, fmt.Errorf("failed to scan release row: %w", err)
	}

	release.IsMandatory = isMandatory != 0
	release.IsDisabled = isDisabled != 0
	release.BlobURL = blobURL.String
	release.Description = description.String
	release.UploadTime = time.UnixMilli(uploadTime)

	if rollout.Valid {
		v := int(rollout.Int64)
		release.Rollout = &v
	}
	if holdMinutes.Valid {
		v := int(holdMinutes.Int64)
		release.RolloutHoldDurationMinutes = &v
	}
	if rampMinutes.Valid {
		v := int(rampMinutes.Int64)
		release.RolloutRampDurationMinutes = &v
	}
	if rolloutUploadTime.Valid {
		t := time.UnixMilli(rolloutUploadTime.Int64)
		release.RolloutUploadTime = &t
	}
	if diffMapJSON != "" {
		if err := json.Unmarshal([]byte(diffMapJSON), &release.DiffPackageMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diff package map: %w", err)
		}
	}

	return &release, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Health implements core.ReleaseHistoryStore.Health via a connection ping.
func (s *SQLiteStorage) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		storage.SetHealthStatus("sqlite", 0)
		return fmt.Errorf("database connection is nil")
	}
	if err := s.db.PingContext(ctx); err != nil {
		storage.SetHealthStatus("sqlite", 0)
		return fmt.Errorf("health check failed: %w", err)
	}
	storage.SetHealthStatus("sqlite", 1)
	return nil
}

// Close gracefully closes the database connection. Idempotent.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		s.logger.Info("sqlite storage closed", "path", s.path)
		storage.SetHealthStatus("sqlite", 0)
	}
	return nil
}

// GetFileSize returns the current SQLite file size in bytes, or 0 if the
// file doesn't exist.
func (s *SQLiteStorage) GetFileSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// GetPath returns the SQLite database file path.
func (s *SQLiteStorage) GetPath() string { return s.path }

var _ core.ReleaseHistoryStore = (*SQLiteStorage)(nil)
