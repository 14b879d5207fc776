package postgres

import (
	"context"
	"log/slog"
	"time"
)

// HealthChecker is the interface the release-history pool uses to report
// its own liveness, independent of whether the caller wants a plain probe,
// a periodic background probe, or one wrapped in a circuit breaker.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
	GetStats() PoolStats
	IsHealthy() bool
	LastCheckTime() time.Time
}

// DefaultHealthChecker probes the pool with a trivial SELECT 1.
type DefaultHealthChecker struct {
	pool      *PostgresPool
	lastCheck time.Time
	isHealthy bool
}

// NewHealthChecker builds the default health checker for pool.
func NewHealthChecker(pool *PostgresPool) HealthChecker {
	return &DefaultHealthChecker{
		pool:      pool,
		lastCheck: time.Now(),
		isHealthy: false,
	}
}

// CheckHealth runs SELECT 1 against the release-history database with a
// bounded timeout and records the outcome on the pool's metrics.
func (h *DefaultHealthChecker) CheckHealth(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := h.pool.pool.Query(checkCtx, "SELECT 1")
	if err != nil {
		h.pool.metrics.RecordHealthCheck(false)
		h.isHealthy = false
		h.lastCheck = time.Now()
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		h.pool.metrics.RecordHealthCheck(false)
		h.isHealthy = false
		h.lastCheck = time.Now()
		return ErrHealthCheckFailed
	}

	var result int
	if err := rows.Scan(&result); err != nil {
		h.pool.metrics.RecordHealthCheck(false)
		h.isHealthy = false
		h.lastCheck = time.Now()
		return err
	}

	if result != 1 {
		h.pool.metrics.RecordHealthCheck(false)
		h.isHealthy = false
		h.lastCheck = time.Now()
		return ErrHealthCheckFailed
	}

	h.pool.metrics.RecordHealthCheck(true)
	h.isHealthy = true
	h.lastCheck = time.Now()
	return nil
}

// GetStats returns the pool's current metrics snapshot.
func (h *DefaultHealthChecker) GetStats() PoolStats {
	return h.pool.metrics.Snapshot()
}

// IsHealthy reports the outcome of the most recent check.
func (h *DefaultHealthChecker) IsHealthy() bool {
	return h.isHealthy
}

// LastCheckTime reports when CheckHealth last ran.
func (h *DefaultHealthChecker) LastCheckTime() time.Time {
	return h.lastCheck
}

// PeriodicHealthChecker runs a wrapped HealthChecker on a fixed interval in
// the background, logging failures instead of surfacing them — there is no
// caller to return an error to once Start has returned.
type PeriodicHealthChecker struct {
	checker   HealthChecker
	interval  time.Duration
	stopCh    chan struct{}
	isRunning bool
	logger    *slog.Logger
}

// NewPeriodicHealthChecker builds a periodic health checker around checker,
// logging failed probes through logger. A nil logger falls back to
// slog.Default so release-store callers that construct this directly
// (outside of PostgresPool.Connect) don't need a nil check.
func NewPeriodicHealthChecker(checker HealthChecker, interval time.Duration, logger *slog.Logger) *PeriodicHealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodicHealthChecker{
		checker:   checker,
		interval:  interval,
		stopCh:    make(chan struct{}),
		isRunning: false,
		logger:    logger,
	}
}

// Start runs health probes on a ticker until ctx is cancelled or Stop is
// called.
func (p *PeriodicHealthChecker) Start(ctx context.Context) {
	if p.isRunning {
		return
	}

	p.isRunning = true

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.isRunning = false
				return
			case <-p.stopCh:
				p.isRunning = false
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

				if err := p.checker.CheckHealth(checkCtx); err != nil {
					p.logger.Warn("periodic release-history pool health check failed", "error", err)
				}

				cancel()
			}
		}
	}()
}

// Stop halts the periodic checker. A no-op if it isn't running.
func (p *PeriodicHealthChecker) Stop() {
	if !p.isRunning {
		return
	}

	select {
	case p.stopCh <- struct{}{}:
	default:
		// Already stopped or the channel is full; Start's loop will exit on its own.
	}
}

// IsRunning reports whether the periodic checker's goroutine is active.
func (p *PeriodicHealthChecker) IsRunning() bool {
	return p.isRunning
}

// CircuitBreakerHealthChecker wraps a HealthChecker with a circuit breaker:
// once maxFailures consecutive checks fail, it reports unhealthy without
// probing the database again until resetTimeout has elapsed.
type CircuitBreakerHealthChecker struct {
	checker      HealthChecker
	failureCount int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	state        CircuitBreakerState
}

// CircuitBreakerState is the state of a CircuitBreakerHealthChecker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// NewCircuitBreakerHealthChecker wraps checker with breaker semantics.
func NewCircuitBreakerHealthChecker(checker HealthChecker, maxFailures int, resetTimeout time.Duration) *CircuitBreakerHealthChecker {
	return &CircuitBreakerHealthChecker{
		checker:      checker,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// CheckHealth probes the database unless the breaker is open and the reset
// timeout hasn't elapsed yet.
func (c *CircuitBreakerHealthChecker) CheckHealth(ctx context.Context) error {
	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) > c.resetTimeout {
			c.state = StateHalfOpen
		} else {
			return ErrCircuitBreakerOpen
		}
	case StateHalfOpen:
		fallthrough
	case StateClosed:
		break
	}

	err := c.checker.CheckHealth(ctx)

	if err != nil {
		c.failureCount++
		c.lastFailure = time.Now()

		if c.failureCount >= c.maxFailures {
			c.state = StateOpen
		}
		return err
	}

	c.failureCount = 0
	c.state = StateClosed
	return nil
}

// GetStats delegates to the wrapped checker.
func (c *CircuitBreakerHealthChecker) GetStats() PoolStats {
	return c.checker.GetStats()
}

// IsHealthy reports false whenever the breaker is open, regardless of the
// wrapped checker's own state.
func (c *CircuitBreakerHealthChecker) IsHealthy() bool {
	return c.checker.IsHealthy() && c.state != StateOpen
}

// LastCheckTime delegates to the wrapped checker.
func (c *CircuitBreakerHealthChecker) LastCheckTime() time.Time {
	return c.checker.LastCheckTime()
}

// GetState returns the breaker's current state.
func (c *CircuitBreakerHealthChecker) GetState() CircuitBreakerState {
	return c.state
}

// GetFailureCount returns the consecutive-failure count since the breaker
// last closed.
func (c *CircuitBreakerHealthChecker) GetFailureCount() int {
	return c.failureCount
}
