package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	// Deployment profile: "lite" (embedded storage, single-node) or
	// "standard" (Postgres+Redis, HA).
	Profile DeploymentProfile `mapstructure:"profile"`

	// Storage backend configuration.
	Storage StorageConfig `mapstructure:"storage"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	App       AppConfig       `mapstructure:"app"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DeploymentProfile represents the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded SQLite storage.
	// No external dependencies (no Postgres, no Redis required).
	// Use case: development, testing, small-scale deployments.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready deployment with external storage
	// (PostgreSQL required, Redis optional for the tiered cache and
	// metrics store).
	// Use case: production environments, multi-replica, HA requirements.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	// Backend determines storage implementation: "filesystem" (Lite),
	// "postgres" (Standard).
	Backend StorageBackend `mapstructure:"backend"`

	// FilesystemPath is the path for embedded storage (Lite profile).
	FilesystemPath string `mapstructure:"filesystem_path"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis-related configuration shared by the tiered
// response cache and the metrics store.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	MetricsDB       int           `mapstructure:"metrics_db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds the tiered-cache configuration: process-local
// microcaches layered over the distributed response and diff-map caches.
type CacheConfig struct {
	// SchemaVersion is embedded in every cache key so a deploy that
	// changes the cacheable response shape invalidates old entries
	// instead of serving them.
	SchemaVersion string        `mapstructure:"schema_version"`
	MicroTTL      time.Duration `mapstructure:"micro_ttl"`
	DiffMicroTTL  time.Duration `mapstructure:"diff_micro_ttl"`
	ResponseTTL   time.Duration `mapstructure:"response_ttl"`
	DiffMapTTL    time.Duration `mapstructure:"diff_map_ttl"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// ProxyConfig controls how blob URLs returned to clients are rewritten.
type ProxyConfig struct {
	// BaseURL, when non-empty, replaces the scheme+host of every
	// blobUrl/diff URL in an update-check response with this value,
	// so clients download through a CDN/proxy instead of the origin
	// blob store directly.
	BaseURL string `mapstructure:"base_url"`
}

// RateLimitConfig controls the per-client-IP request limiter.
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst         int  `mapstructure:"burst"`
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig holds Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// StorageBackend represents the storage implementation.
type StorageBackend string

const (
	// StorageBackendFilesystem uses embedded SQLite storage (Lite profile).
	StorageBackendFilesystem StorageBackend = "filesystem"

	// StorageBackendPostgres uses PostgreSQL external storage (Standard profile).
	StorageBackendPostgres StorageBackend = "postgres"
)

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("profile", "standard")
	viper.SetDefault("storage.backend", "postgres")
	viper.SetDefault("storage.filesystem_path", "/data/acquisition.db")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.request_timeout", "10s")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "codepush_acquisition")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.metrics_db", 1)
	viper.SetDefault("redis.pool_size", 50)
	viper.SetDefault("redis.min_idle_conns", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("cache.schema_version", "v2")
	viper.SetDefault("cache.micro_ttl", "30s")
	viper.SetDefault("cache.diff_micro_ttl", "5m")
	viper.SetDefault("cache.response_ttl", "1h")
	viper.SetDefault("cache.diff_map_ttl", "5m")
	viper.SetDefault("cache.enable_metrics", true)

	viper.SetDefault("proxy.base_url", "")

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 600)
	viper.SetDefault("rate_limit.burst", 100)

	viper.SetDefault("app.name", "codepush-acquisition")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Profile == ProfileStandard {
		if c.Database.Driver == "" {
			return fmt.Errorf("database driver cannot be empty (required for standard profile)")
		}
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty (required for standard profile)")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name cannot be empty (required for standard profile)")
		}
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// validateProfile validates deployment profile configuration.
func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Storage.Backend != StorageBackendFilesystem && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend: %s (must be 'filesystem' or 'postgres')", c.Storage.Backend)
	}

	switch c.Profile {
	case ProfileLite:
		if c.Storage.Backend != StorageBackendFilesystem {
			return fmt.Errorf("lite profile requires storage.backend='filesystem' (got '%s')", c.Storage.Backend)
		}
		if c.Storage.FilesystemPath == "" {
			return fmt.Errorf("lite profile requires storage.filesystem_path (e.g., /data/acquisition.db)")
		}

	case ProfileStandard:
		if c.Storage.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires storage.backend='postgres' (got '%s')", c.Storage.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs database URL from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}

// IsLiteProfile returns true if running in Lite deployment profile.
func (c *Config) IsLiteProfile() bool {
	return c.Profile == ProfileLite
}

// IsStandardProfile returns true if running in Standard deployment profile.
func (c *Config) IsStandardProfile() bool {
	return c.Profile == ProfileStandard
}

// GetProfileName returns a human-readable profile name.
func (c *Config) GetProfileName() string {
	switch c.Profile {
	case ProfileLite:
		return "Lite (Embedded Storage)"
	case ProfileStandard:
		return "Standard (HA-Ready)"
	default:
		return string(c.Profile)
	}
}
