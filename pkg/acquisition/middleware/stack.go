package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vitaliisemenov/codepush-acquisition/internal/api/middleware"
)

// StackConfig contains configuration for the acquisition endpoint
// middleware stack.
type StackConfig struct {
	EnableRecovery  bool
	EnableRequestID bool

	EnableLogging bool
	Logger        *slog.Logger

	EnableMetrics bool

	EnableRateLimit   bool
	RateLimitPerMinute int
	RateLimitBurst    int

	EnableCORS bool
	CORSConfig middleware.CORSConfig

	EnableCompression bool

	EnableTimeout bool
	Timeout       time.Duration

	EnableValidation bool
}

// DefaultStackConfig returns the default middleware stack configuration.
func DefaultStackConfig(logger *slog.Logger) StackConfig {
	return StackConfig{
		EnableRecovery:     true,
		EnableRequestID:    true,
		EnableLogging:      true,
		Logger:             logger,
		EnableMetrics:      true,
		EnableRateLimit:    true,
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
		EnableCORS:         true,
		CORSConfig:         middleware.DefaultCORSConfig(),
		EnableCompression:  true,
		EnableTimeout:      true,
		Timeout:            10 * time.Second,
		EnableValidation:   true,
	}
}

// Stack is the ordered middleware chain wrapped around every acquisition
// endpoint.
type Stack struct {
	config StackConfig
}

// NewStack creates a new middleware stack.
func NewStack(config StackConfig) *Stack {
	return &Stack{config: config}
}

// Apply wraps handler with the configured middleware, outermost first:
//  1. Recovery   - catches panics, returns a 500 APIError envelope
//  2. RequestID  - attaches/propagates X-Request-ID
//  3. Logging    - one structured line per request
//  4. Metrics    - Prometheus request count/duration/in-flight
//  5. Timeout    - bounds handler execution time
//  6. CORS       - preflight handling
//  7. Compression
//  8. RateLimit   - per-client-IP token bucket, after any proxy-aware
//     middleware above it so it sees the real remote address
//  9. Validation  - content-type/size guard on request bodies, innermost
//     so only requests that survived rate limiting pay the cost
func (s *Stack) Apply(handler http.Handler) http.Handler {
	if s.config.EnableRecovery {
		handler = RecoveryMiddleware(s.config.Logger)(handler)
	}
	if s.config.EnableRequestID {
		handler = middleware.RequestIDMiddleware(handler)
	}
	if s.config.EnableLogging && s.config.Logger != nil {
		handler = middleware.LoggingMiddleware(s.config.Logger)(handler)
	}
	if s.config.EnableMetrics {
		handler = middleware.MetricsMiddleware(handler)
	}
	if s.config.EnableTimeout {
		handler = TimeoutMiddleware(s.config.Timeout, s.config.Logger)(handler)
	}
	if s.config.EnableCORS {
		handler = middleware.CORSMiddleware(s.config.CORSConfig)(handler)
	}
	if s.config.EnableCompression {
		handler = middleware.CompressionMiddleware(handler)
	}
	if s.config.EnableRateLimit {
		handler = middleware.RateLimitMiddleware(s.config.RateLimitPerMinute, s.config.RateLimitBurst)(handler)
	}
	if s.config.EnableValidation {
		handler = middleware.ValidationMiddleware(handler)
	}

	return handler
}

// ApplyFunc applies the middleware stack to an http.HandlerFunc.
func (s *Stack) ApplyFunc(fn http.HandlerFunc) http.Handler {
	return s.Apply(fn)
}
