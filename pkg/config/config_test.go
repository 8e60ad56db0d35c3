package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/storage"
)

// TestGetEnvHelpers tests the typed environment helpers
func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "custom")
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_OTHER", "yes")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "ninety")
	t.Setenv("TEST_LIST", " a, ,b ,")

	if got := getEnv("TEST_STRING", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_STRING_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if !getEnvBool("TEST_BOOL_TRUE", false) || !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool() should accept TRUE and 1")
	}
	if getEnvBool("TEST_BOOL_OTHER", true) {
		t.Error("getEnvBool() should treat other values as false")
	}
	if got := getEnvInt("TEST_INT", 10); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 10); got != 10 {
		t.Errorf("getEnvInt() = %v, want default 10", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want default 1s", got)
	}
	if got := getEnvList("TEST_LIST"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("getEnvList() = %v, want [a b]", got)
	}
	if got := getEnvList("TEST_LIST_NOT_SET"); got != nil {
		t.Errorf("getEnvList() = %v, want nil", got)
	}
}

// TestLoadConfigDefaults loads a configuration with only required variables set
func TestLoadConfigDefaults(t *testing.T) {
	clearCuratorEnv(t)
	t.Setenv("CURATOR_AUTH_MODE", "header")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if !reflect.DeepEqual(cfg.Storage, storage.DefaultConfig()) {
		t.Errorf("storage config = %+v, want defaults", cfg.Storage)
	}
	if cfg.Auth.HeaderName != "X-User-ID" {
		t.Errorf("header name = %s", cfg.Auth.HeaderName)
	}
	if cfg.Roles.Locale() != language.English {
		t.Errorf("locale = %v, want en", cfg.Roles.Locale())
	}
	if cfg.Worker.PurgeEnabled() {
		t.Error("purge should be disabled by default")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("log level = %v", cfg.Observability.LogLevel)
	}
}

// TestLoadConfigFromEnvironment tests that every section reads its variables
func TestLoadConfigFromEnvironment(t *testing.T) {
	clearCuratorEnv(t)
	vars := map[string]string{
		"CURATOR_PORT":                  "8000",
		"CURATOR_HEALTH_PORT":           "8001",
		"CURATOR_READ_TIMEOUT":          "5s",
		"CURATOR_POSTGRES_URL":          "postgres://db/curator",
		"CURATOR_POSTGRES_REPLICA_URLS": "postgres://r1/curator,postgres://r2/curator",
		"CURATOR_POSTGRES_MAX_CONNS":    "50",
		"CURATOR_REDIS_URL":             "redis://cache:6379",
		"CURATOR_REDIS_DB":              "2",
		"CURATOR_CACHE_ENABLED":         "false",
		"CURATOR_L2_CACHE_TTL":          "1m",
		"CURATOR_AUTH_MODE":             "OIDC",
		"CURATOR_OIDC_ISSUER":           "https://id.example.org",
		"CURATOR_OIDC_CLIENT_ID":        "curator",
		"CURATOR_ROLE_METADATA_FILE":    "/etc/curator/roles.yaml",
		"CURATOR_DEFAULT_LOCALE":        "fr",
		"CURATOR_OVERRIDE_RETENTION":    "720h",
		"CURATOR_WARMUP_WORKERS":        "4",
		"CURATOR_RATE_LIMIT_REQUESTS":   "10",
		"CURATOR_LOG_LEVEL":             "debug",
		"CURATOR_OTEL_ENABLED":          "true",
		"CURATOR_OTEL_SAMPLE_RATIO":     "0.1",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server config = %+v", cfg.Server)
	}
	if cfg.Storage.PostgresURL != "postgres://db/curator" || len(cfg.Storage.PostgresReplicaURLs) != 2 {
		t.Errorf("postgres config = %+v", cfg.Storage)
	}
	if cfg.Storage.PostgresMaxConns != 50 || cfg.Storage.RedisDB != 2 || !cfg.Storage.RedisEnabled() {
		t.Errorf("pool/redis config = %+v", cfg.Storage)
	}
	if cfg.Storage.CacheEnabled || cfg.Storage.L2CacheTTL != time.Minute {
		t.Errorf("cache config = %+v", cfg.Storage)
	}
	if cfg.Auth.Mode != AuthModeOIDC || cfg.Auth.Issuer != "https://id.example.org" {
		t.Errorf("auth config = %+v", cfg.Auth)
	}
	if cfg.Roles.Locale() != language.French || cfg.Roles.MetadataFile != "/etc/curator/roles.yaml" {
		t.Errorf("roles config = %+v", cfg.Roles)
	}
	if !cfg.Worker.PurgeEnabled() || cfg.Worker.WarmupWorkers != 4 {
		t.Errorf("worker config = %+v", cfg.Worker)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("rate limit config = %+v", cfg.RateLimit)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel || cfg.Observability.OTelSampleRatio != 0.1 {
		t.Errorf("observability config = %+v", cfg.Observability)
	}
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: "8080", HealthPort: "9090"},
			Storage:   storage.DefaultConfig(),
			Auth:      AuthConfig{Mode: AuthModeHeader, HeaderName: "X-User-ID"},
			Roles:     RolesConfig{DefaultLocale: "en"},
			Worker:    loadWorkerConfig(),
			RateLimit: RateLimitConfig{Enabled: true, RequestsPerWindow: 10, Window: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: "must be different"},
		{name: "missing postgres", mutate: func(c *Config) { c.Storage.PostgresURL = "" }, wantErr: "postgres URL"},
		{name: "zero L1 TTL", mutate: func(c *Config) { c.Storage.L1CacheTTL = 0 }, wantErr: "L1 cache TTL"},
		{name: "zero L1 TTL with cache disabled", mutate: func(c *Config) {
			c.Storage.L1CacheTTL = 0
			c.Storage.CacheEnabled = false
		}},
		{name: "zero L2 TTL with redis", mutate: func(c *Config) {
			c.Storage.RedisURL = "redis://localhost:6379"
			c.Storage.L2CacheTTL = 0
		}, wantErr: "L2 cache TTL"},
		{name: "oidc without issuer", mutate: func(c *Config) { c.Auth.Mode = AuthModeOIDC }, wantErr: "OIDC issuer"},
		{name: "unknown auth mode", mutate: func(c *Config) { c.Auth.Mode = "saml" }, wantErr: "invalid auth mode"},
		{name: "bad locale", mutate: func(c *Config) { c.Roles.DefaultLocale = "not a locale" }, wantErr: "invalid default locale"},
		{name: "bad schedule", mutate: func(c *Config) { c.Worker.PurgeSchedule = "every day" }, wantErr: "invalid purge schedule"},
		{name: "negative retention", mutate: func(c *Config) { c.Worker.OverrideRetention = -time.Hour }, wantErr: "retention"},
		{name: "no warm-up workers", mutate: func(c *Config) { c.Worker.WarmupWorkers = 0 }, wantErr: "warm-up workers"},
		{name: "bad rate limit", mutate: func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }, wantErr: "rate limit"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "curator"
		}, wantErr: "endpoint is required"},
		{name: "otel bad ratio", mutate: func(c *Config) {
			c.Observability = ObservabilityConfig{OTelEnabled: true, OTelEndpoint: "x:4317", OTelServiceName: "curator", OTelSampleRatio: 2}
		}, wantErr: "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfigInvalid tests that LoadConfig reports validation failures
func TestLoadConfigInvalid(t *testing.T) {
	clearCuratorEnv(t)
	t.Setenv("CURATOR_AUTH_MODE", "oidc")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("LoadConfig() error = %v", err)
	}
}

func clearCuratorEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "CURATOR_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}
