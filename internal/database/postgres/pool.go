package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConnection is the interface the release-history store depends on
// for connection lifecycle, health, and query execution.
type DatabaseConnection interface {
	// Lifecycle management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Health monitoring
	Health(ctx context.Context) error
	Stats() PoolStats

	// Query execution
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row

	// Transaction support
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresPool is the connection pool backing the Standard storage profile:
// release history for every deployment key lives in one PostgreSQL
// database, shared across replicas of the acquisition service.
type PostgresPool struct {
	pool     *pgxpool.Pool
	config   *PostgresConfig
	logger   *slog.Logger
	metrics  *PoolMetrics
	health   HealthChecker
	retry    *RetryExecutor
	isClosed atomic.Bool
	closeCh  chan struct{}
}

// NewPostgresPool constructs a pool from config. Connect must be called
// before the pool is usable.
func NewPostgresPool(config *PostgresConfig, logger *slog.Logger) *PostgresPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "release_history_pool")

	pool := &PostgresPool{
		config:   config,
		logger:   logger,
		metrics:  NewPoolMetrics(),
		retry:    NewRetryExecutor(DefaultRetryConfig(), logger),
		isClosed: atomic.Bool{},
		closeCh:  make(chan struct{}),
	}

	pool.health = NewHealthChecker(pool)

	return pool
}

// Connect establishes the pgxpool connection, validates config first, and
// launches the background periodic health checker once the initial ping
// succeeds.
func (p *PostgresPool) Connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	if err := p.config.Validate(); err != nil {
		p.logger.Error("invalid release-history database configuration", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.logger.Info("connecting to release-history PostgreSQL backend",
		"host", p.config.Host,
		"port", p.config.Port,
		"database", p.config.Database,
		"user", p.config.User,
		"ssl_mode", p.config.SSLMode,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	poolConfig, err := pgxpool.ParseConfig(p.config.DSN())
	if err != nil {
		p.logger.Error("failed to parse release-history database DSN", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.config.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	var pool *pgxpool.Pool
	start := time.Now()

	// A transient DNS blip or a database still starting up shouldn't fail
	// the whole service boot; retry the pool creation and initial ping
	// before giving up.
	err = p.retry.Execute(connectCtx, func() error {
		candidate, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			p.metrics.RecordConnectionError()
			return fmt.Errorf("%w: %w", ErrConnectionFailed, NewConnectionError("create_pool", err.Error()))
		}

		if err := candidate.Ping(connectCtx); err != nil {
			candidate.Close()
			p.metrics.RecordConnectionError()
			return fmt.Errorf("%w: %w", ErrConnectionFailed, NewConnectionError("ping", err.Error()))
		}

		pool = candidate
		return nil
	})
	if err != nil {
		p.logger.Error("failed to connect to release-history database", "error", err)
		return err
	}

	p.pool = pool
	connectionTime := time.Since(start)
	p.metrics.RecordConnectionWait(connectionTime)
	p.metrics.RecordSuccessfulConnection()

	p.logger.Info("connected to release-history PostgreSQL backend",
		"connection_time", connectionTime,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	if healthChecker, ok := p.health.(*DefaultHealthChecker); ok {
		periodicChecker := NewPeriodicHealthChecker(healthChecker, p.config.HealthCheckPeriod, p.logger)
		go periodicChecker.Start(ctx)
	}

	return nil
}

// Disconnect closes the underlying pgxpool. It does not stop the periodic
// health checker started by Connect; that checker exits when Connect's
// context is cancelled.
func (p *PostgresPool) Disconnect(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}

	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	p.logger.Info("disconnecting from release-history PostgreSQL backend")

	select {
	case p.closeCh <- struct{}{}:
	default:
		// Nothing listening; the periodic checker exits on ctx cancellation instead.
	}

	p.pool.Close()

	p.isClosed.Store(true)
	p.logger.Info("disconnected from release-history PostgreSQL backend")

	return nil
}

// IsConnected reports whether the pool currently holds any connections.
func (p *PostgresPool) IsConnected() bool {
	if p.isClosed.Load() || p.pool == nil {
		return false
	}

	stats := p.pool.Stat()
	return stats.TotalConns() > 0
}

// Health runs a single probe against the release-history database.
func (p *PostgresPool) Health(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	if p.pool == nil {
		return ErrNotConnected
	}

	return p.health.CheckHealth(ctx)
}

// Stats merges live pgxpool gauges with the pool's running query/error
// counters into one PoolStats snapshot.
func (p *PostgresPool) Stats() PoolStats {
	if p.pool == nil {
		return PoolStats{}
	}

	poolStats := p.pool.Stat()
	p.metrics.UpdateConnectionStats(
		poolStats.AcquiredConns(),
		poolStats.IdleConns(),
		int64(poolStats.TotalConns()),
	)

	return p.metrics.Snapshot()
}

// Exec runs a SQL statement that returns no rows, e.g. an upsert into the
// releases table.
func (p *PostgresPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if p.pool == nil {
		return pgconn.CommandTag{}, ErrNotConnected
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		p.metrics.RecordQueryError()
		p.logger.Error("release-history query failed",
			"sql", sql,
			"duration", duration,
			"error", err)
		return tag, err
	}

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("release-history query executed",
		"sql", sql,
		"duration", duration,
		"rows_affected", tag.RowsAffected())

	return tag, nil
}

// Query runs a SQL query and returns the resulting rows, e.g. a release
// history lookup for one deployment key.
func (p *PostgresPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		p.metrics.RecordQueryError()
		p.logger.Error("release-history query failed",
			"sql", sql,
			"duration", duration,
			"error", err)
		return nil, err
	}

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("release-history query executed",
		"sql", sql,
		"duration", duration)

	return rows, nil
}

// QueryRow runs a SQL query expected to return at most one row.
func (p *PostgresPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if p.pool == nil {
		return &errorRow{err: ErrNotConnected}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	duration := time.Since(start)

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("release-history query row executed",
		"sql", sql,
		"duration", duration)

	return row
}

// Begin starts a new transaction against the release-history database.
func (p *PostgresPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.metrics.RecordQueryError()
		p.logger.Error("failed to begin release-history transaction", "error", err)
		return nil, err
	}

	p.logger.Debug("release-history transaction started")
	return tx, nil
}

// PrepareStatement prepares a named SQL statement on a connection acquired
// from the pool for later reuse.
func (p *PostgresPool) PrepareStatement(ctx context.Context, name, sql string) error {
	if p.pool == nil {
		return ErrNotConnected
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("failed to acquire connection for statement preparation",
			"name", name,
			"error", err)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, "PREPARE "+name+" AS "+sql)
	if err != nil {
		p.logger.Error("failed to prepare statement",
			"name", name,
			"sql", sql,
			"error", err)
		return fmt.Errorf("%w: %v", ErrPreparedStatementFailed, err)
	}

	p.logger.Info("prepared statement", "name", name)
	return nil
}

// Close is an alias for Disconnect with a background context.
func (p *PostgresPool) Close() error {
	return p.Disconnect(context.Background())
}

// GetConfig returns the pool's configuration.
func (p *PostgresPool) GetConfig() *PostgresConfig {
	return p.config
}

// GetMetrics returns the pool's running metrics counters.
func (p *PostgresPool) GetMetrics() *PoolMetrics {
	return p.metrics
}

// GetHealthChecker returns the pool's health checker.
func (p *PostgresPool) GetHealthChecker() HealthChecker {
	return p.health
}

// Pool returns the underlying pgxpool.Pool for callers that need direct
// access, e.g. the storage package's schema migration and release queries.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// errorRow implements pgx.Row, always returning the wrapped error from Scan.
type errorRow struct {
	err error
}

func (r *errorRow) Scan(dest ...interface{}) error {
	return r.err
}
