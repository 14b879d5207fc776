package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
)

// Distributed is the cross-process cache: a Redis-backed response cache
// (hash-keyed per deployment, field per canonical URL) and an independent
// diff-map sub-cache, both degrading to silent misses/no-ops on any I/O
// error so a cache outage never fails an acquisition request.
//
// When RedisAddr is empty the client is constructed in a disabled state:
// every operation is a no-op that returns a miss without error.
type Distributed struct {
	client *redis.Client
	cfg    *Config
	logger *slog.Logger
}

// NewDistributed connects to Redis (when cfg.RedisAddr is set) or returns
// a disabled client.
func NewDistributed(cfg *Config, logger *slog.Logger) (*Distributed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RedisAddr == "" {
		return &Distributed{cfg: cfg, logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdle,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to distributed cache: %w", err)
	}

	logger.Info("distributed cache connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return &Distributed{client: client, cfg: cfg, logger: logger}, nil
}

func (d *Distributed) enabled() bool { return d.client != nil }

func responseCacheKey(deploymentKey string) string {
	return "deploymentKey:" + deploymentKey
}

func diffMapCacheKey(deploymentKey, targetPackageHash string) string {
	return "diffMap:" + deploymentKey + ":" + targetPackageHash
}

// GetResponse looks up a cached response under (deploymentKey, urlKey).
// Any I/O error is logged and reported as a miss.
func (d *Distributed) GetResponse(ctx context.Context, deploymentKey, urlKey string) (*core.CacheableResponse, bool) {
	if !d.enabled() {
		return nil, false
	}

	raw, err := d.client.HGet(ctx, responseCacheKey(deploymentKey), urlKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn("distributed cache read failed, treating as miss", "deploymentKey", deploymentKey, "error", err)
		}
		return nil, false
	}

	var resp core.CacheableResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		d.logger.Warn("distributed cache entry unmarshal failed, treating as miss", "deploymentKey", deploymentKey, "error", err)
		return nil, false
	}
	return &resp, true
}

// SetResponse writes a cacheable response under (deploymentKey, urlKey).
// The hash key's TTL is set only on its first write; subsequent writes to
// the same deployment key before expiry extend nothing. Any I/O error is
// logged and swallowed.
func (d *Distributed) SetResponse(ctx context.Context, deploymentKey, urlKey string, resp *core.CacheableResponse) {
	if !d.enabled() {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		d.logger.Warn("failed to marshal response for distributed cache", "deploymentKey", deploymentKey, "error", err)
		return
	}

	key := responseCacheKey(deploymentKey)
	existed, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn("distributed cache existence check failed", "deploymentKey", deploymentKey, "error", err)
	}

	if err := d.client.HSet(ctx, key, urlKey, raw).Err(); err != nil {
		d.logger.Warn("distributed cache write failed", "deploymentKey", deploymentKey, "error", err)
		return
	}

	if existed == 0 {
		if err := d.client.Expire(ctx, key, d.cfg.ResponseTTL).Err(); err != nil {
			d.logger.Warn("failed to set distributed cache TTL", "deploymentKey", deploymentKey, "error", err)
		}
	}
}

// InvalidateDeployment deletes every cached response for a deployment key.
func (d *Distributed) InvalidateDeployment(ctx context.Context, deploymentKey string) {
	if !d.enabled() {
		return
	}
	if err := d.client.Del(ctx, responseCacheKey(deploymentKey)).Err(); err != nil {
		d.logger.Warn("distributed cache invalidation failed", "deploymentKey", deploymentKey, "error", err)
	}
}

// GetDiffMap looks up the diff map cached for (deploymentKey,
// targetPackageHash). A miss or I/O error both report ok=false; callers
// must fall back to the full-bundle download URL.
func (d *Distributed) GetDiffMap(ctx context.Context, deploymentKey, targetPackageHash string) (core.DiffMap, bool) {
	if !d.enabled() {
		return nil, false
	}

	raw, err := d.client.Get(ctx, diffMapCacheKey(deploymentKey, targetPackageHash)).Bytes()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn("distributed diff-map read failed, treating as miss", "deploymentKey", deploymentKey, "error", err)
		}
		return nil, false
	}

	var m core.DiffMap
	if err := json.Unmarshal(raw, &m); err != nil {
		d.logger.Warn("distributed diff-map unmarshal failed, treating as miss", "deploymentKey", deploymentKey, "error", err)
		return nil, false
	}
	return m, true
}

// SetDiffMap populates the diff-map cache for (deploymentKey,
// targetPackageHash). Intended to be called by the cacheable-response
// builder for every release whose diffPackageMap is non-empty.
func (d *Distributed) SetDiffMap(ctx context.Context, deploymentKey, targetPackageHash string, m core.DiffMap) {
	if !d.enabled() {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		d.logger.Warn("failed to marshal diff map", "deploymentKey", deploymentKey, "error", err)
		return
	}
	if err := d.client.Set(ctx, diffMapCacheKey(deploymentKey, targetPackageHash), raw, d.cfg.DiffMapTTL).Err(); err != nil {
		d.logger.Warn("distributed diff-map write failed", "deploymentKey", deploymentKey, "error", err)
	}
}

// Ping reports distributed-cache connectivity for the health endpoint.
func (d *Distributed) Ping(ctx context.Context) error {
	if !d.enabled() {
		return nil
	}
	return d.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection, if any.
func (d *Distributed) Close() error {
	if !d.enabled() {
		return nil
	}
	return d.client.Close()
}
