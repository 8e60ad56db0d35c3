package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/storage"
)

// Auth modes
const (
	AuthModeOIDC   = "oidc"
	AuthModeHeader = "header"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Role metadata configuration
	Roles RolesConfig

	// Background worker configuration
	Worker WorkerConfig

	// Rate limiting of mutating admin endpoints
	RateLimit RateLimitConfig

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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode       string
	Issuer     string
	ClientID   string
	HeaderName string
}

// RolesConfig configures enum role metadata.
type RolesConfig struct {
	// MetadataFile overrides labels, descriptions and colors; empty uses the built-in table
	MetadataFile  string
	WatchMetadata bool
	DefaultLocale string
}

// Locale returns the parsed default locale, falling back to English.
func (c RolesConfig) Locale() language.Tag {
	tag, err := language.Parse(c.DefaultLocale)
	if err != nil {
		return language.English
	}
	return tag
}

// WorkerConfig holds cron schedules for curator-worker.
type WorkerConfig struct {
	ExpiryReportSchedule string
	ExpiryReportWindow   time.Duration

	// PurgeSchedule runs only when OverrideRetention is positive
	PurgeSchedule     string
	OverrideRetention time.Duration

	WarmupSchedule string
	WarmupWorkers  int
}

// PurgeEnabled reports whether expired overrides are ever deleted.
func (c WorkerConfig) PurgeEnabled() bool {
	return c.OverrideRetention > 0
}

// RateLimitConfig bounds mutating requests per caller.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
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
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Roles:         loadRolesConfig(),
		Worker:        loadWorkerConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CURATOR_HOST", "0.0.0.0"),
		Port:            getEnv("CURATOR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CURATOR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CURATOR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CURATOR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CURATOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CURATOR_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("CURATOR_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	cfg.PostgresReplicaURLs = getEnvList("CURATOR_POSTGRES_REPLICA_URLS")
	if maxConns := getEnvInt("CURATOR_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("CURATOR_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("CURATOR_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("CURATOR_REDIS_URL", "")
	cfg.RedisPassword = getEnv("CURATOR_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("CURATOR_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("CURATOR_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("CURATOR_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("CURATOR_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.L1CacheSize = getEnvInt("CURATOR_L1_CACHE_SIZE", cfg.L1CacheSize)
	cfg.L1CacheTTL = getEnvDuration("CURATOR_L1_CACHE_TTL", cfg.L1CacheTTL)
	cfg.L2CacheTTL = getEnvDuration("CURATOR_L2_CACHE_TTL", cfg.L2CacheTTL)

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:       strings.ToLower(getEnv("CURATOR_AUTH_MODE", AuthModeOIDC)),
		Issuer:     getEnv("CURATOR_OIDC_ISSUER", ""),
		ClientID:   getEnv("CURATOR_OIDC_CLIENT_ID", ""),
		HeaderName: getEnv("CURATOR_AUTH_HEADER", "X-User-ID"),
	}
}

func loadRolesConfig() RolesConfig {
	return RolesConfig{
		MetadataFile:  getEnv("CURATOR_ROLE_METADATA_FILE", ""),
		WatchMetadata: getEnvBool("CURATOR_ROLE_METADATA_WATCH", true),
		DefaultLocale: getEnv("CURATOR_DEFAULT_LOCALE", "en"),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ExpiryReportSchedule: getEnv("CURATOR_EXPIRY_REPORT_SCHEDULE", "@hourly"),
		ExpiryReportWindow:   getEnvDuration("CURATOR_EXPIRY_REPORT_WINDOW", 72*time.Hour),
		PurgeSchedule:        getEnv("CURATOR_PURGE_SCHEDULE", "@daily"),
		OverrideRetention:    getEnvDuration("CURATOR_OVERRIDE_RETENTION", 0),
		WarmupSchedule:       getEnv("CURATOR_WARMUP_SCHEDULE", "*/15 * * * *"),
		WarmupWorkers:        getEnvInt("CURATOR_WARMUP_WORKERS", 8),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("CURATOR_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("CURATOR_RATE_LIMIT_REQUESTS", 120),
		Window:            getEnvDuration("CURATOR_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CURATOR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CURATOR_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CURATOR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CURATOR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CURATOR_OTEL_SERVICE_NAME", "curator"),
		OTelServiceVersion: getEnv("CURATOR_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CURATOR_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CURATOR_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.CacheEnabled && c.Storage.L1CacheSize > 0 && c.Storage.L1CacheTTL <= 0 {
		return fmt.Errorf("L1 cache TTL must be positive")
	}
	if c.Storage.CacheEnabled && c.Storage.RedisEnabled() && c.Storage.L2CacheTTL <= 0 {
		return fmt.Errorf("L2 cache TTL must be positive")
	}

	switch c.Auth.Mode {
	case AuthModeOIDC:
		if c.Auth.Issuer == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("OIDC issuer and client id are required for oidc auth")
		}
	case AuthModeHeader:
		if c.Auth.HeaderName == "" {
			return fmt.Errorf("auth header name is required for header auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be oidc or header)", c.Auth.Mode)
	}

	if _, err := language.Parse(c.Roles.DefaultLocale); err != nil {
		return fmt.Errorf("invalid default locale %q: %w", c.Roles.DefaultLocale, err)
	}

	for name, spec := range map[string]string{
		"expiry report": c.Worker.ExpiryReportSchedule,
		"purge":         c.Worker.PurgeSchedule,
		"warm-up":       c.Worker.WarmupSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}
	if c.Worker.ExpiryReportWindow <= 0 {
		return fmt.Errorf("expiry report window must be positive")
	}
	if c.Worker.OverrideRetention < 0 {
		return fmt.Errorf("override retention cannot be negative")
	}
	if c.Worker.WarmupWorkers < 1 {
		return fmt.Errorf("warm-up workers must be at least 1")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires a positive request count and window")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
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

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
