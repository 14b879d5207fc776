// Package metrics implements the atomic, batched counter pipeline for
// deploy/download reporting: per-(deployment, label, status) integer
// counters and per-client active-label tracking, all best-effort and
// dispatched fire-and-forget after the HTTP response has already been
// sent.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

// Store implements core.MetricsStore over a Redis database that is
// logically distinct from the response-cache database, so eviction
// pressure on one never disturbs the other.
type Store struct {
	client *redis.Client
	logger *slog.Logger
	ready  chan struct{}
}

// NewStore connects to addr/db and, in the background, performs the
// one-time "select this database" startup step. Every operation chains
// onto the same readiness signal rather than racing on it; operations
// issued before it resolves simply wait.
func NewStore(addr, password string, db int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: logger,
		ready:  make(chan struct{}),
	}

	go s.awaitConnection()
	return s
}

func (s *Store) awaitConnection() {
	backoff := 100 * time.Millisecond
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			close(s.ready)
			return
		}
		s.logger.Warn("metrics store not yet reachable, retrying", "error", err)
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) awaitReady(ctx context.Context) bool {
	select {
	case <-s.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

func labelsKey(deploymentKey string) string  { return "deploymentKeyLabels:" + deploymentKey }
func clientsKey(deploymentKey string) string { return "deploymentKeyClients:" + deploymentKey }

// IncrementLabelStatusCount atomically increments field "L:S" in the
// labels hash for deploymentKey by one. S must be one of
// core.StatusDeploymentSucceeded/StatusDeploymentFailed/StatusDownloaded.
func (s *Store) IncrementLabelStatusCount(ctx context.Context, deploymentKey, label, status string) {
	if !s.awaitReady(ctx) {
		return
	}
	field := label + ":" + status
	if err := s.client.HIncrBy(ctx, labelsKey(deploymentKey), field, 1).Err(); err != nil {
		s.logger.Warn("metrics increment failed", "deploymentKey", deploymentKey, "field", field, "error", err)
	}
}

// RecordUpdate is the new metrics path's single batched transaction:
// increment currentLabel's Active and DeploymentSucceeded counters, and,
// if a previous (deploymentKey, label) pair is known, decrement its
// Active counter. All ops ride one pipeline so they apply atomically
// relative to other transactions on the store.
func (s *Store) RecordUpdate(ctx context.Context, currentDeploymentKey, currentLabel, previousDeploymentKey, previousLabel string) {
	if !s.awaitReady(ctx) {
		return
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, labelsKey(currentDeploymentKey), currentLabel+":Active", 1)
	pipe.HIncrBy(ctx, labelsKey(currentDeploymentKey), currentLabel+":"+core.StatusDeploymentSucceeded, 1)
	if previousDeploymentKey != "" && previousLabel != "" {
		pipe.HIncrBy(ctx, labelsKey(previousDeploymentKey), previousLabel+":Active", -1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("recordUpdate transaction failed",
			"currentDeploymentKey", currentDeploymentKey, "currentLabel", currentLabel, "error", err)
	}
}

// UpdateActiveAppForClient is the legacy metrics path: set the client's
// active label, increment the new label's Active counter, and decrement
// the previous label's Active counter if one was recorded. Batched in one
// pipeline.
func (s *Store) UpdateActiveAppForClient(ctx context.Context, deploymentKey, clientUniqueID, toLabel, fromLabel string) {
	if !s.awaitReady(ctx) {
		return
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, clientsKey(deploymentKey), clientUniqueID, toLabel)
	pipe.HIncrBy(ctx, labelsKey(deploymentKey), toLabel+":Active", 1)
	if fromLabel != "" {
		pipe.HIncrBy(ctx, labelsKey(deploymentKey), fromLabel+":Active", -1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("updateActiveAppForClient transaction failed",
			"deploymentKey", deploymentKey, "clientUniqueID", clientUniqueID, "error", err)
	}
}

// GetCurrentActiveLabel reads a client's active label for deploymentKey.
// Returns "" with no error on a clean miss.
func (s *Store) GetCurrentActiveLabel(ctx context.Context, deploymentKey, clientUniqueID string) (string, error) {
	if !s.awaitReady(ctx) {
		return "", ctx.Err()
	}
	label, err := s.client.HGet(ctx, clientsKey(deploymentKey), clientUniqueID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return label, err
}

// RemoveDeploymentKeyClientActiveLabel deletes a client's active-label
// entry, e.g. once its metrics have been attributed to a new deployment.
func (s *Store) RemoveDeploymentKeyClientActiveLabel(ctx context.Context, deploymentKey, clientUniqueID string) {
	if !s.awaitReady(ctx) {
		return
	}
	if err := s.client.HDel(ctx, clientsKey(deploymentKey), clientUniqueID).Err(); err != nil {
		s.logger.Warn("failed to remove client active-label entry", "deploymentKey", deploymentKey, "error", err)
	}
}

// GetMetricsWithDeploymentKey reads the whole labels hash for
// deploymentKey, coercing every numeric-looking string value to an
// integer.
func (s *Store) GetMetricsWithDeploymentKey(ctx context.Context, deploymentKey string) (map[string]int64, error) {
	if !s.awaitReady(ctx) {
		return nil, ctx.Err()
	}

	raw, err := s.client.HGetAll(ctx, labelsKey(deploymentKey)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, convErr := strconv.ParseInt(value, 10, 64)
		if convErr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// ClearMetricsForDeploymentKey deletes both the labels and clients hashes
// for a deployment key.
func (s *Store) ClearMetricsForDeploymentKey(ctx context.Context, deploymentKey string) error {
	if !s.awaitReady(ctx) {
		return ctx.Err()
	}
	return s.client.Del(ctx, labelsKey(deploymentKey), clientsKey(deploymentKey)).Err()
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ core.MetricsStore = (*Store)(nil)
