package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis backs the distributed rate limiter when URL is set
	Redis storage.RedisConfig

	RateLimit RateLimitConfig
	Audit     AuditConfig
	Catalog   CatalogConfig
	Auth      AuthConfig

	// S3 is the destination of permit-admin audit exports
	S3 storage.S3Config

	// StrictAdminBypass lets a stored ADMIN role pass through deny overrides
	StrictAdminBypass bool

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Metrics server (separate port for scraping)
	MetricsPort string
}

// DatabaseConfig holds the connection settings and start-up behavior
type DatabaseConfig struct {
	storage.Config

	AutoMigrate      bool
	BootstrapOnStart bool
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	BurstSize         int
	Window            time.Duration
	MaxClients        int
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool
	// Retention is how long events are kept; 0 keeps everything
	Retention     time.Duration
	PurgeSchedule string

	// WebhookURL, when set, also posts every event to an HTTP endpoint
	WebhookURL     string
	WebhookSecret  string
	WebhookWorkers int
}

// CatalogConfig points at an optional YAML permission catalog
type CatalogConfig struct {
	File  string
	Watch bool
}

// AuthConfig names the trusted gateway headers carrying the principal
type AuthConfig struct {
	UserHeader   string
	RoleHeader   string
	TenantHeader string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:            loadServerConfig(),
		Database:          loadDatabaseConfig(),
		Redis:             loadRedisConfig(),
		RateLimit:         loadRateLimitConfig(),
		Audit:             loadAuditConfig(),
		Catalog:           loadCatalogConfig(),
		Auth:              loadAuthConfig(),
		S3:                loadS3Config(),
		StrictAdminBypass: getEnvBool("PERMIT_STRICT_ADMIN_BYPASS", false),
		Observability:     loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PERMIT_HOST", "0.0.0.0"),
		Port:            getEnv("PERMIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PERMIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PERMIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PERMIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PERMIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("PERMIT_MAX_BODY_BYTES", 1<<20),
		MetricsPort:     getEnv("PERMIT_METRICS_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("PERMIT_DB_DRIVER", cfg.Driver)
	cfg.URL = getEnv("PERMIT_DB_URL", "")
	if maxConns := getEnvInt("PERMIT_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("PERMIT_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("PERMIT_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	return DatabaseConfig{
		Config:           cfg,
		AutoMigrate:      getEnvBool("PERMIT_DB_AUTO_MIGRATE", true),
		BootstrapOnStart: getEnvBool("PERMIT_BOOTSTRAP_ON_START", true),
	}
}

func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		URL:        getEnv("PERMIT_REDIS_URL", ""),
		Password:   getEnv("PERMIT_REDIS_PASSWORD", ""),
		DB:         getEnvInt("PERMIT_REDIS_DB", 0),
		MaxRetries: getEnvInt("PERMIT_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("PERMIT_REDIS_POOL_SIZE", 10),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("PERMIT_RATELIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("PERMIT_RATELIMIT_REQUESTS", 1000),
		BurstSize:         getEnvInt("PERMIT_RATELIMIT_BURST", 50),
		Window:            getEnvDuration("PERMIT_RATELIMIT_WINDOW", time.Minute),
		MaxClients:        getEnvInt("PERMIT_RATELIMIT_MAX_CLIENTS", 10000),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:        getEnvBool("PERMIT_AUDIT_ENABLED", true),
		Retention:      getEnvDuration("PERMIT_AUDIT_RETENTION", 0),
		PurgeSchedule:  getEnv("PERMIT_AUDIT_PURGE_SCHEDULE", "@daily"),
		WebhookURL:     getEnv("PERMIT_AUDIT_WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("PERMIT_AUDIT_WEBHOOK_SECRET", ""),
		WebhookWorkers: getEnvInt("PERMIT_AUDIT_WEBHOOK_WORKERS", 2),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		File:  getEnv("PERMIT_CATALOG_FILE", ""),
		Watch: getEnvBool("PERMIT_CATALOG_WATCH", false),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		UserHeader:   getEnv("PERMIT_AUTH_USER_HEADER", "X-Permit-User-ID"),
		RoleHeader:   getEnv("PERMIT_AUTH_ROLE_HEADER", "X-Permit-Role"),
		TenantHeader: getEnv("PERMIT_AUTH_TENANT_HEADER", "X-Permit-Tenant-ID"),
	}
}

func loadS3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:       getEnv("PERMIT_S3_BUCKET", ""),
		Region:       getEnv("PERMIT_S3_REGION", "us-east-1"),
		Endpoint:     getEnv("PERMIT_S3_ENDPOINT", ""),
		AccessKey:    getEnv("PERMIT_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("PERMIT_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("PERMIT_S3_USE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PERMIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PERMIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PERMIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PERMIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PERMIT_OTEL_SERVICE_NAME", "permitd"),
		OTelServiceVersion: getEnv("PERMIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PERMIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PERMIT_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Observability.MetricsEnabled {
		if c.Server.MetricsPort == "" {
			return fmt.Errorf("metrics port is required when metrics are enabled")
		}
		if c.Server.Port == c.Server.MetricsPort {
			return fmt.Errorf("server port and metrics port must be different")
		}
	}

	if _, err := storage.DialectFor(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (PERMIT_DB_URL)")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limit requests per window must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.MaxClients <= 0 {
			return fmt.Errorf("rate limit max clients must be positive")
		}
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention cannot be negative")
	}
	if c.Audit.Enabled && c.Audit.Retention > 0 {
		if _, err := cron.ParseStandard(c.Audit.PurgeSchedule); err != nil {
			return fmt.Errorf("invalid audit purge schedule %q: %w", c.Audit.PurgeSchedule, err)
		}
	}

	if c.Audit.WebhookURL != "" {
		u, err := url.Parse(c.Audit.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid audit webhook URL %q", c.Audit.WebhookURL)
		}
		if c.Audit.WebhookWorkers <= 0 {
			return fmt.Errorf("audit webhook workers must be positive")
		}
	}

	if c.Catalog.Watch && c.Catalog.File == "" {
		return fmt.Errorf("catalog watch requires PERMIT_CATALOG_FILE")
	}

	if c.Auth.UserHeader == "" {
		return fmt.Errorf("auth user header is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Dialect returns the SQL dialect of the configured driver
func (d DatabaseConfig) Dialect() (storage.Dialect, error) {
	return storage.DialectFor(d.Driver)
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// MetricsAddr returns the metrics listen address
func (s ServerConfig) MetricsAddr() string {
	return s.Host + ":" + s.MetricsPort
}

// OTel converts the observability settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
