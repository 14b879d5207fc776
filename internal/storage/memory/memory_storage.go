// Package memory implements core.ReleaseHistoryStore using an in-memory
// map. Used for graceful degradation when the primary storage backend
// (SQLite/Postgres) fails to initialize.
//
// WARNING: Data is NOT persisted — lost on restart, crash, or pod
// eviction. This is NOT suitable for production use. Use only for:
//  1. Development/testing environments
//  2. Graceful degradation during storage outages
//  3. Temporary fallback during database maintenance
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

// MemoryStorage implements core.ReleaseHistoryStore over a deployment-key
// keyed map of release slices. Thread-safe for concurrent access.
//
// WARNING: Data is NOT persisted. Use only for graceful degradation.
type MemoryStorage struct {
	mu       sync.RWMutex
	releases map[string][]*core.Release // deploymentKey -> releases, oldest-first
	logger   *slog.Logger
}

// NewMemoryStorage creates in-memory storage. Logs a warning on creation
// as a reminder this is not production-ready.
func NewMemoryStorage(logger *slog.Logger) *MemoryStorage {
	logger.Warn("in-memory storage created, data will not persist")
	logger.Warn("this is not suitable for production use")

	return &MemoryStorage{
		releases: make(map[string][]*core.Release),
		logger:   logger,
	}
}

// UpsertRelease appends or replaces a release under deploymentKey, keeping
// the slice ordered oldest-first by upload time.
func (m *MemoryStorage) UpsertRelease(ctx context.Context, deploymentKey string, release *core.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.releases[deploymentKey]
	for i, r := range existing {
		if r.Label == release.Label {
			existing[i] = release
			return nil
		}
	}
	existing = append(existing, release)
	i := len(existing) - 1
	for i > 0 && existing[i-1].UploadTime.After(release.UploadTime) {
		existing[i] = existing[i-1]
		i--
	}
	existing[i] = release
	m.releases[deploymentKey] = existing
	return nil
}

// GetPackageHistory implements core.ReleaseHistoryStore.GetPackageHistory.
func (m *MemoryStorage) GetPackageHistory(ctx context.Context, deploymentKey string) ([]*core.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	releases, ok := m.releases[deploymentKey]
	if !ok {
		return nil, nil
	}

	out := make([]*core.Release, len(releases))
	for i, r := range releases {
		c := *r
		out[i] = &c
	}
	return out, nil
}

// Close does nothing; there are no resources to release. Idempotent.
func (m *MemoryStorage) Close() error {
	m.logger.Info("memory storage closed, data discarded")
	return nil
}

// Health always succeeds; in-memory storage has no external dependency to
// check.
func (m *MemoryStorage) Health(ctx context.Context) error {
	return nil
}

// GetSize returns the total number of deployment keys tracked.
func (m *MemoryStorage) GetSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.releases)
}

var _ core.ReleaseHistoryStore = (*MemoryStorage)(nil)
