package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/codepush-acquisition/internal/api/middleware"
	acqmiddleware "github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/middleware"
	"github.com/vitaliisemenov/codepush-acquisition/pkg/acquisition/handlers"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	RequestTimeout time.Duration

	Logger *slog.Logger
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
		CORSConfig:         middleware.DefaultCORSConfig(),
		RequestTimeout:     10 * time.Second,
		Logger:             logger,
	}
}

// NewRouter builds the HTTP router for the acquisition service: the legacy
// and current update-check/report-status endpoints, a health probe, metrics
// scrape target, and swagger docs, wrapped in the shared middleware stack.
//
// @title CodePush Acquisition API
// @version 1.0.0
// @description Update-check and deploy/download reporting API for mobile code-push clients
// @license.name MIT
// @host localhost:8080
// @BasePath /
// @schemes http https
func NewRouter(h *handlers.Handler, config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	stack := acqmiddleware.NewStack(acqmiddleware.StackConfig{
		EnableRecovery:     true,
		EnableRequestID:    true,
		EnableLogging:      true,
		Logger:             config.Logger,
		EnableMetrics:      config.EnableMetrics,
		EnableRateLimit:    config.EnableRateLimit,
		RateLimitPerMinute: config.RateLimitPerMinute,
		RateLimitBurst:     config.RateLimitBurst,
		EnableCORS:         config.EnableCORS,
		CORSConfig:         config.CORSConfig,
		EnableCompression:  config.EnableCompression,
		EnableTimeout:      config.RequestTimeout > 0,
		Timeout:            config.RequestTimeout,
		EnableValidation:   true,
	})

	wrap := func(fn http.HandlerFunc) http.Handler {
		return stack.ApplyFunc(fn)
	}

	// Legacy camelCase routes and their new snake_case /v0.1 counterparts.
	router.Handle("/updateCheck", wrap(h.UpdateCheck(false))).Methods(http.MethodGet)
	router.Handle("/v0.1/public/codepush/update_check", wrap(h.UpdateCheck(true))).Methods(http.MethodGet)

	router.Handle("/reportStatus/deploy", wrap(h.ReportDeploy())).Methods(http.MethodPost)
	router.Handle("/v0.1/public/codepush/report_status/deploy", wrap(h.ReportDeploy())).Methods(http.MethodPost)

	router.Handle("/reportStatus/download", wrap(h.ReportDownload())).Methods(http.MethodPost)
	router.Handle("/v0.1/public/codepush/report_status/download", wrap(h.ReportDownload())).Methods(http.MethodPost)

	router.Handle("/health", wrap(h.Health)).Methods(http.MethodGet)

	// Prometheus scrape target and API docs sit outside the client-facing
	// stack: no rate limiting, no response timeout.
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	return router
}
