// Package main is the entry point for the codepush acquisition service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/codepush-acquisition/internal/api"
	"github.com/vitaliisemenov/codepush-acquisition/internal/api/middleware"
	"github.com/vitaliisemenov/codepush-acquisition/internal/config"
	"github.com/vitaliisemenov/codepush-acquisition/internal/core"
	"github.com/vitaliisemenov/codepush-acquisition/internal/database"
	"github.com/vitaliisemenov/codepush-acquisition/internal/database/postgres"
	"github.com/vitaliisemenov/codepush-acquisition/internal/storage"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/cache"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/handlers"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/metrics"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/logger"
)

const serviceVersion = "1.0.0"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "acquisition-server",
		Short: "Update-check acquisition service for code-push mobile clients",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (optional, env vars and defaults apply otherwise)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("acquisition-server version %s\n", serviceVersion)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	log.Info("starting acquisition service",
		"service", cfg.App.Name,
		"version", cfg.App.Version,
		"profile", cfg.Profile,
		"environment", cfg.App.Environment,
	)

	ctx := context.Background()

	store, closeStore, err := initStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage, falling back to in-memory", "error", err)
		store = storage.NewFallbackStorage(log)
		closeStore = func() error { return nil }
	}
	defer closeStore()

	distributed, err := cache.NewDistributed(&cache.Config{
		MicroTTL:      cfg.Cache.MicroTTL,
		DiffMicroTTL:  cfg.Cache.DiffMicroTTL,
		ResponseTTL:   cfg.Cache.ResponseTTL,
		DiffMapTTL:    cfg.Cache.DiffMapTTL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPoolSize: cfg.Redis.PoolSize,
		RedisMinIdle:  cfg.Redis.MinIdleConns,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize distributed cache: %w", err)
	}
	defer distributed.Close()

	microcache := cache.NewMicrocache(cfg.Cache.MicroTTL)
	diffMicro := cache.NewMicrocache(cfg.Cache.DiffMicroTTL)

	metricsStore := metrics.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.MetricsDB, log)
	defer metricsStore.Close()

	handler := handlers.NewHandler(handlers.Config{
		Store:        store,
		Microcache:   microcache,
		DiffMicro:    diffMicro,
		Distributed:  distributed,
		Metrics:      metricsStore,
		CacheSchema:  cfg.Cache.SchemaVersion,
		ProxyBaseURL: cfg.Proxy.BaseURL,
		Logger:       log,
	})

	router := api.NewRouter(handler, api.RouterConfig{
		EnableRateLimit:    cfg.RateLimit.Enabled,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      cfg.Metrics.Enabled,
		RateLimitPerMinute: cfg.RateLimit.RequestsPerMinute,
		RateLimitBurst:     cfg.RateLimit.Burst,
		CORSConfig:         middleware.DefaultCORSConfig(),
		RequestTimeout:     cfg.Server.RequestTimeout,
		Logger:             log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server failed: %w", err)
	case <-quit:
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return err
	}

	log.Info("server exited cleanly")
	return nil
}

// initStorage connects the backend selected by cfg.Profile. For the
// Standard profile it establishes the PostgreSQL pool and runs pending
// migrations before handing the pool to storage.NewStorage.
func initStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (core.ReleaseHistoryStore, func() error, error) {
	if !cfg.IsStandardProfile() {
		store, err := storage.NewStorage(ctx, cfg, nil, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	pgCfg := &postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		ApplicationName:   cfg.App.Name,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}

	pool := postgres.NewPostgresPool(pgCfg, log)
	if err := pool.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		log.Warn("database migrations failed, continuing with existing schema", "error", err)
	}

	store, err := storage.NewStorage(ctx, cfg, pool.Pool(), log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	dbMetrics := postgres.NewDatabaseMetrics("codepush_acquisition")
	exporter := postgres.NewPrometheusExporter(pool, dbMetrics)
	exporter.Start(ctx, 15*time.Second)

	closeFn := func() error {
		exporter.Stop()
		storeErr := store.Close()
		poolErr := pool.Close()
		if storeErr != nil {
			return storeErr
		}
		return poolErr
	}

	return store, closeFn, nil
}
