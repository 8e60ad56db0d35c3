package storage

import "time"

// Config describes the database and cache connections.
type Config struct {
	// PostgreSQL
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis; an empty URL disables the shared cache and rate limiting
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Permission set cache
	CacheEnabled bool
	L1CacheSize  int
	L1CacheTTL   time.Duration
	L2CacheTTL   time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresURL:         "postgres://localhost:5432/curator?sslmode=disable",
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     5 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		CacheEnabled:        true,
		L1CacheSize:         10000,
		L1CacheTTL:          30 * time.Second,
		L2CacheTTL:          5 * time.Minute,
	}
}

// RedisEnabled reports whether a Redis URL is configured.
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}
