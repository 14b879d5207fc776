package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

func newTestDistributed(t *testing.T) *Distributed {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &Config{
		RedisAddr:   mr.Addr(),
		ResponseTTL: time.Hour,
		DiffMapTTL:  5 * time.Minute,
	}
	d, err := NewDistributed(cfg, nil)
	if err != nil {
		t.Fatalf("NewDistributed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDistributedResponseRoundTrip(t *testing.T) {
	d := newTestDistributed(t)
	ctx := context.Background()

	resp := &core.CacheableResponse{
		StatusCode: 200,
		Body: core.ReleaseSet{Releases: []*core.Release{
			{Label: "v1", AppVersion: "1.0.0", PackageHash: "H1"},
		}},
	}

	if _, ok := d.GetResponse(ctx, "D1", "/updateCheck?appVersion=1.0.0"); ok {
		t.Fatal("expected miss before any write")
	}

	d.SetResponse(ctx, "D1", "/updateCheck?appVersion=1.0.0", resp)

	got, ok := d.GetResponse(ctx, "D1", "/updateCheck?appVersion=1.0.0")
	if !ok {
		t.Fatal("expected hit after write")
	}
	if got.Body.Releases[0].PackageHash != "H1" {
		t.Fatalf("round-tripped response has wrong packageHash: %+v", got)
	}
}

func TestDistributedResponseInvalidate(t *testing.T) {
	d := newTestDistributed(t)
	ctx := context.Background()

	resp := &core.CacheableResponse{StatusCode: 200}
	d.SetResponse(ctx, "D1", "key", resp)
	d.InvalidateDeployment(ctx, "D1")

	if _, ok := d.GetResponse(ctx, "D1", "key"); ok {
		t.Fatal("expected miss after invalidation")
	}
}

func TestDistributedDiffMapRoundTrip(t *testing.T) {
	d := newTestDistributed(t)
	ctx := context.Background()

	m := core.DiffMap{"H1": {Size: 100, URL: "https://example.com/diff"}}
	d.SetDiffMap(ctx, "D1", "H2", m)

	got, ok := d.GetDiffMap(ctx, "D1", "H2")
	if !ok {
		t.Fatal("expected diff map hit")
	}
	if got["H1"].URL != "https://example.com/diff" {
		t.Fatalf("round-tripped diff map wrong: %+v", got)
	}
}

func TestDistributedDisabledIsNoOp(t *testing.T) {
	d, err := NewDistributed(&Config{}, nil)
	if err != nil {
		t.Fatalf("NewDistributed: %v", err)
	}

	ctx := context.Background()
	if _, ok := d.GetResponse(ctx, "D1", "key"); ok {
		t.Fatal("disabled client must never report a hit")
	}
	d.SetResponse(ctx, "D1", "key", &core.CacheableResponse{}) // must not panic
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("disabled client Ping must succeed: %v", err)
	}
}
