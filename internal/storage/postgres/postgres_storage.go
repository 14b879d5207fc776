// Package postgres implements core.ReleaseHistoryStore over a PostgreSQL
// connection pool. Designed for the Standard deployment profile, where
// release history must survive pod restarts and be shared across
// replicas.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/storage"
)

// Storage implements core.ReleaseHistoryStore over a shared pgxpool.Pool.
// The pool is owned by the caller (it may be shared with migrations
// tooling); Close never closes the underlying pool.
type Storage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// schema is applied once at startup by the goose migration runner in
// production; NewStorage also runs it defensively so a fresh database
// used without the migration step still works.
const schema = `
CREATE TABLE IF NOT EXISTS releases (
    deployment_key TEXT NOT NULL,
    label TEXT NOT NULL,
    app_version TEXT NOT NULL,
    package_hash TEXT NOT NULL,
    blob_url TEXT,
    size BIGINT NOT NULL DEFAULT 0,
    is_mandatory BOOLEAN NOT NULL DEFAULT false,
    is_disabled BOOLEAN NOT NULL DEFAULT false,
    description TEXT,
    rollout INTEGER,
    rollout_hold_duration_minutes INTEGER,
    rollout_ramp_duration_minutes INTEGER,
    rollout_upload_time TIMESTAMPTZ,
    diff_package_map JSONB,
    upload_time TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (deployment_key, label)
);

CREATE INDEX IF NOT EXISTS idx_releases_deployment_key_upload_time
    ON releases (deployment_key, upload_time ASC);
`

// NewStorage wraps an already-connected pgxpool.Pool.
func NewStorage(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Storage, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgresql pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}

	s := &Storage{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, &storage.ErrSchemaInitFailed{Backend: "postgres", Table: "releases", Cause: err}
	}

	logger.Info("postgres storage initialized")
	return s, nil
}

// UpsertRelease inserts or updates a release row, keyed by
// (deploymentKey, label).
func (s *Storage) UpsertRelease(ctx context.Context, deploymentKey string, release *core.Release) error {
	startTime := time.Now()

	diffMapJSON, err := json.Marshal(release.DiffPackageMap)
	if err != nil {
		storage.RecordError("upsert", "postgres", storage.ErrorTypeValidation)
		return fmt.Errorf("failed to marshal diff package map: %w", err)
	}

	query := `
INSERT INTO releases (
    deployment_key, label, app_version, package_hash, blob_url, size,
    is_mandatory, is_disabled, description, rollout,
    rollout_hold_duration_minutes, rollout_ramp_duration_minutes,
    rollout_upload_time, diff_package_map, upload_time
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (deployment_key, label) DO UPDATE SET
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
	_, err = s.pool.Exec(ctx, query,
		deploymentKey, release.Label, release.AppVersion, release.PackageHash,
		release.BlobURL, release.Size, release.IsMandatory, release.IsDisabled,
		release.Description, release.Rollout, release.RolloutHoldDurationMinutes,
		release.RolloutRampDurationMinutes, release.RolloutUploadTime, diffMapJSON,
		release.UploadTime,
	)
	if err != nil {
		storage.RecordOperation("upsert", "postgres", "error")
		return fmt.Errorf("failed to upsert release: %w", err)
	}

	duration := time.Since(startTime)
	storage.RecordOperation("upsert", "postgres", "success")
	storage.RecordOperationDuration("upsert", "postgres", duration.Seconds())
	return nil
}

// GetPackageHistory implements core.ReleaseHistoryStore.GetPackageHistory.
// Returns releases ordered oldest-first by upload time.
func (s *Storage) GetPackageHistory(ctx context.Context, deploymentKey string) ([]*core.Release, error) {
	startTime := time.Now()

	query := `
SELECT label, app_version, package_hash, blob_url, size, is_mandatory,
       is_disabled, description, rollout, rollout_hold_duration_minutes,
       rollout_ramp_duration_minutes, rollout_upload_time, diff_package_map,
       upload_time
FROM releases
WHERE deployment_key = $1
ORDER BY upload_time ASC
`
	rows, err := s.pool.Query(ctx, query, deploymentKey)
	if err != nil {
		storage.RecordOperation("get_history", "postgres", "error")
		wrapped := &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
		storage.RecordError("get_history", "postgres", storage.ClassifyError(wrapped))
		return nil, fmt.Errorf("failed to query release history: %w", err)
	}
	defer rows.Close()

	var releases []*core.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			storage.RecordOperation("get_history", "postgres", "error")
			return nil, err
		}
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		storage.RecordOperation("get_history", "postgres", "error")
		return nil, fmt.Errorf("failed to iterate release history: %w", err)
	}

	duration := time.Since(startTime)
	storage.RecordOperation("get_history", "postgres", "success")
	storage.RecordOperationDuration("get_history", "postgres", duration.Seconds())
	return releases, nil
}

func scanRelease(row pgx.Rows) (*core.Release, error) {
	var release core.Release
	var blobURL, description *string
	var diffMapJSON []byte

	if err := row.Scan(
		&release.Label, &release.AppVersion, &release.PackageHash, &blobURL, &release.Size,
		&release.IsMandatory, &release.IsDisabled, &description, &release.Rollout,
		&release.RolloutHoldDurationMinutes, &release.RolloutRampDurationMinutes,
		&release.RolloutUploadTime, &diffMapJSON, &release.UploadTime,
	); err != nil {
		return nil, fmt.Errorf("failed to scan release row: %w", err)
	}

	if blobURL != nil {
		release.BlobURL = *blobURL
	}
	if description != nil {
		release.Description = *description
	}
	if len(diffMapJSON) > 0 {
		if err := json.Unmarshal(diffMapJSON, &release.DiffPackageMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diff package map: %w", err)
		}
	}

	return &release, nil
}

// Health checks database connectivity via a pool ping.
func (s *Storage) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		storage.SetHealthStatus("postgres", 0)
		return fmt.Errorf("health check failed: %w", err)
	}
	stats := s.pool.Stat()
	storage.SetConnectionStats("postgres", stats.TotalConns(), stats.IdleConns(), stats.AcquiredConns())
	storage.SetHealthStatus("postgres", 1)
	return nil
}

// Close is a no-op: the pool is owned by the caller.
func (s *Storage) Close() error { return nil }

var _ core.ReleaseHistoryStore = (*Storage)(nil)
