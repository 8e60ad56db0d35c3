// Package config loads curator configuration from CURATOR_* environment variables.
//
// Every setting has a default; LoadConfig validates the result before returning it.
//
// Server settings:
//
//	CURATOR_HOST="0.0.0.0"
//	CURATOR_PORT="8080"
//	CURATOR_HEALTH_PORT="9090"
//	CURATOR_READ_TIMEOUT="15s"
//
// Storage and cache settings:
//
//	CURATOR_POSTGRES_URL="postgres://localhost/curator"
//	CURATOR_POSTGRES_REPLICA_URLS="postgres://replica1/curator,postgres://replica2/curator"
//	CURATOR_REDIS_URL="redis://localhost:6379"
//	CURATOR_CACHE_ENABLED="true"
//	CURATOR_L1_CACHE_TTL="30s"
//	CURATOR_L2_CACHE_TTL="5m"
//
// Identity settings:
//
//	CURATOR_AUTH_MODE="oidc"  # oidc, header
//	CURATOR_OIDC_ISSUER="https://id.example.org"
//	CURATOR_OIDC_CLIENT_ID="curator"
//	CURATOR_AUTH_HEADER="X-User-ID"
//
// Roles and worker settings:
//
//	CURATOR_ROLE_METADATA_FILE="/etc/curator/roles.yaml"
//	CURATOR_DEFAULT_LOCALE="fr"
//	CURATOR_EXPIRY_REPORT_SCHEDULE="@hourly"
//	CURATOR_OVERRIDE_RETENTION="720h"  # 0 disables purging
//
// Observability settings:
//
//	CURATOR_LOG_LEVEL="info"  # debug, info, warn, error
//	CURATOR_METRICS_ENABLED="true"
//	CURATOR_OTEL_ENABLED="true"
//	CURATOR_OTEL_ENDPOINT="otel-collector:4317"
package config
