package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryStorageUpsertAndGetPackageHistory(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	ctx := context.Background()

	release := &core.Release{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1", UploadTime: time.Now()}
	if err := s.UpsertRelease(ctx, "D1", release); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}

	history, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if len(history) != 1 || history[0].PackageHash != "H1" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestMemoryStorageUpsertReplacesExistingLabel(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	ctx := context.Background()

	uploadTime := time.Now()
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

func TestMemoryStorageGetPackageHistoryUnknownDeploymentKey(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	history, err := s.GetPackageHistory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if history != nil {
		t.Fatalf("expected nil history, got %+v", history)
	}
}

func TestMemoryStorageReturnsDefensiveCopy(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	ctx := context.Background()
	if err := s.UpsertRelease(ctx, "D1", &core.Release{Label: "v1", PackageHash: "H1", UploadTime: time.Now()}); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}

	history, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	history[0].PackageHash = "mutated"

	history2, err := s.GetPackageHistory(ctx, "D1")
	if err != nil {
		t.Fatalf("GetPackageHistory: %v", err)
	}
	if history2[0].PackageHash != "H1" {
		t.Fatalf("internal state was mutated via returned slice: %+v", history2)
	}
}

func TestMemoryStorageGetSize(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	ctx := context.Background()
	if err := s.UpsertRelease(ctx, "D1", &core.Release{Label: "v1", UploadTime: time.Now()}); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}
	if err := s.UpsertRelease(ctx, "D2", &core.Release{Label: "v1", UploadTime: time.Now()}); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}
	if got := s.GetSize(); got != 2 {
		t.Fatalf("GetSize() = %d, want 2", got)
	}
}

func TestMemoryStorageHealthAndClose(t *testing.T) {
	s := NewMemoryStorage(newTestLogger())
	if err := s.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
