package core

import (
	"context"
	"time"
)

// Cache is the generic key-value contract shared by the microcache and the
// distributed response cache, so the handler can be written against either
// without caring which tier answered.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration)
}

// MetricsStore tracks deploy/download counters and per-client active-label
// state for report-status requests. Every operation is best-effort:
// failures are logged by the implementation and never returned to a
// caller that has already replied to its client.
type MetricsStore interface {
	IncrementLabelStatusCount(ctx context.Context, deploymentKey, label, status string)
	RecordUpdate(ctx context.Context, currentDeploymentKey, currentLabel, previousDeploymentKey, previousLabel string)
	UpdateActiveAppForClient(ctx context.Context, deploymentKey, clientUniqueID, toLabel, fromLabel string)
	GetCurrentActiveLabel(ctx context.Context, deploymentKey, clientUniqueID string) (string, error)
	RemoveDeploymentKeyClientActiveLabel(ctx context.Context, deploymentKey, clientUniqueID string)
	GetMetricsWithDeploymentKey(ctx context.Context, deploymentKey string) (map[string]int64, error)
	ClearMetricsForDeploymentKey(ctx context.Context, deploymentKey string) error
}

// HealthChecker reports the combined health of storage and cache
// dependencies for the `/health` endpoint.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
