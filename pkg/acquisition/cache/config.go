package cache

import "time"

// Config contains the tiered-cache configuration: the process-local
// microcache, the distributed response cache, and the diff-map sub-cache
// share one Redis connection but have independent TTLs.
type Config struct {
	// MicroTTL is the microcache's single fixed TTL. Zero disables the
	// microcache entirely (both Get and Set become no-ops).
	MicroTTL time.Duration

	// DiffMicroTTL is the TTL of the process-local diff-map memoization
	// layer consulted by the handler's diffMapFetcher before it falls
	// back to the distributed diff-map cache.
	DiffMicroTTL time.Duration

	// ResponseTTL is the distributed response cache's per-key TTL
	// (default one hour).
	ResponseTTL time.Duration

	// DiffMapTTL is the distributed diff-map cache's TTL (default five
	// minutes).
	DiffMapTTL time.Duration

	// RedisAddr is empty when the distributed cache is disabled; every
	// operation then becomes a no-op that returns a miss without error.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	RedisMinIdle  int
}

// DefaultConfig returns the tiered-cache defaults: a 30s process-local
// microcache over a 1h distributed response cache, with a 5m diff-map
// sub-cache at both tiers.
func DefaultConfig() *Config {
	return &Config{
		MicroTTL:      30 * time.Second,
		DiffMicroTTL:  5 * time.Minute,
		ResponseTTL:   1 * time.Hour,
		DiffMapTTL:    5 * time.Minute,
		RedisAddr:     "",
		RedisPassword: "",
		RedisDB:       0,
		RedisPoolSize: 50,
		RedisMinIdle:  10,
	}
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MicroTTL < 0 {
		return ErrInvalidConfig("MicroTTL must be >= 0")
	}
	if c.DiffMicroTTL < 0 {
		return ErrInvalidConfig("DiffMicroTTL must be >= 0")
	}
	if c.RedisAddr != "" {
		if c.ResponseTTL <= 0 {
			return ErrInvalidConfig("ResponseTTL must be > 0 when the distributed cache is enabled")
		}
		if c.DiffMapTTL <= 0 {
			return ErrInvalidConfig("DiffMapTTL must be > 0 when the distributed cache is enabled")
		}
	}
	return nil
}
