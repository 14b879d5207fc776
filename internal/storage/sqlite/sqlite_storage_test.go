package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acquisition.db")
	s, err := NewSQLiteStorage(context.Background(), path, newTestLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorageRejectsUnsafePaths(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	if _, err := NewSQLiteStorage(ctx, "", logger); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewSQLiteStorage(ctx, "../escape.db", logger); err == nil {
		t.Fatal("expected error for path containing ..")
	}
	if _, err := NewSQLiteStorage(ctx, "/etc/acquisition.db", logger); err == nil {
		t.Fatal("expected error for forbidden path prefix")
	}
}

func TestSQLiteStorageUpsertAndGetPackageHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rollout := 50
	release := &core.Release{
		Label:       "v1",
		AppVersion:  "1.0.0",
		PackageHash: "H1",
		BlobURL:     "https://example.com/bundle",
		Size:        2048,
		Rollout:     &rollout,
		UploadTime:  time.Now().Truncate(time.Millisecond),
	}
	if err := s.UpsertRelease(ctx, "D1", release); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}

	history, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].PackageHash != "H1" || history[0].Rollout == nil || *history[0].Rollout != 50 {
		t.Fatalf("unexpected release: %+v", history[0])
	}
}

func TestSQLiteStorageUpsertReplacesExistingLabel(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	uploadTime := time.Now().Truncate(time.Millisecond)
	if err := s.UpsertRelease(ctx, "D1", &core.Release{Label: "v1", PackageHash: "H1", UploadTime: uploadTime}); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}
	if err := s.UpsertRelease(ctx, "D1", &core.Release{Label: "v1", PackageHash: "H2", UploadTime: uploadTime}); err != nil {
		t.Fatalf("UpsertRelease (update): %v", err)
	}

	history, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if len(history) != 1 || history[0].PackageHash != "H2" {
		t.Fatalf("expected single updated release, got %+v", history)
	}
}

func TestSQLiteStorageOrdersHistoryOldestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	newer := &core.Release{Label: "v2", PackageHash: "H2", UploadTime: base.Add(time.Minute)}
	older := &core.Release{Label: "v1", PackageHash: "H1", UploadTime: base}
	if err := s.UpsertRelease(ctx, "D1", newer); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}
	if err := s.UpsertRelease(ctx, "D1", older); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}

	history, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if len(history) != 2 || history[0].Label != "v1" || history[1].Label != "v2" {
		t.Fatalf("expected oldest-first ordering, got %+v", history)
	}
}

func TestSQLiteStorageGetPackageHistoryUnknownDeploymentKey(t *testing.T) {
	s := newTestStorage(t)
	history, err := s.GetPackageHistory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %+v", history)
	}
}

func TestSQLiteStorageHealthAndClose(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close should be idempotent: %v", err)
	}
}

func TestSQLiteStorageGetFileSize(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.UpsertRelease(ctx, "D1", &core.Release{Label: "v1", PackageHash: "H1", UploadTime: time.Now()}); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}
	if s.GetFileSize() <= 0 {
		t.Fatalf("GetFileSize() = %d, want > 0", s.GetFileSize())
	}
}
