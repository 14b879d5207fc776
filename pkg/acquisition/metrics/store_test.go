package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewStore(mr.Addr(), "", 0, nil)
	t.Cleanup(func() { _ = s.Close() })

	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics store never became ready")
	}
	return s
}

func TestIncrementLabelStatusCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IncrementLabelStatusCount(ctx, "D1", "v1", "Downloaded")
	s.IncrementLabelStatusCount(ctx, "D1", "v1", "Downloaded")

	got, err := s.GetMetricsWithDeploymentKey(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if got["v1:Downloaded"] != 2 {
		t.Fatalf("v1:Downloaded = %d, want 2", got["v1:Downloaded"])
	}
}

func TestRecordUpdateDecrementsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.RecordUpdate(ctx, "D1", "v2", "D1", "v1")

	got, err := s.GetMetricsWithDeploymentKey(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if got["v2:Active"] != 1 {
		t.Fatalf("v2:Active = %d, want 1", got["v2:Active"])
	}
	if got["v2:DeploymentSucceeded"] != 1 {
		t.Fatalf("v2:DeploymentSucceeded = %d, want 1", got["v2:DeploymentSucceeded"])
	}
	if got["v1:Active"] != -1 {
		t.Fatalf("v1:Active = %d, want -1", got["v1:Active"])
	}
}

func TestUpdateActiveAppForClientAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpdateActiveAppForClient(ctx, "D1", "c1", "v2", "v1")

	label, err := s.GetCurrentActiveLabel(ctx, "D1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if label != "v2" {
		t.Fatalf("active label = %q, want v2", label)
	}

	s.RemoveDeploymentKeyClientActiveLabel(ctx, "D1", "c1")
	label, err = s.GetCurrentActiveLabel(ctx, "D1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if label != "" {
		t.Fatalf("active label after removal = %q, want empty", label)
	}
}

func TestClearMetricsForDeploymentKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.IncrementLabelStatusCount(ctx, "D1", "v1", "Downloaded")
	s.UpdateActiveAppForClient(ctx, "D1", "c1", "v1", "")

	if err := s.ClearMetricsForDeploymentKey(ctx, "D1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMetricsWithDeploymentKey(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty metrics after clear, got %+v", got)
	}
}
