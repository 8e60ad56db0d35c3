// Package app assembles the pieces shared by the curator server and worker:
// database and Redis connections, metrics, the audit trail and the rbac
// Manager with its permission cache.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/curator/pkg/async"
	"github.com/platinummonkey/curator/pkg/audit"
	"github.com/platinummonkey/curator/pkg/config"
	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/rbac"
	"github.com/platinummonkey/curator/pkg/resolver"
	"github.com/platinummonkey/curator/pkg/roles"
	"github.com/platinummonkey/curator/pkg/storage/postgres"
)

// App holds the long-lived dependencies of a curator process.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Logrus   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Conns   *postgres.ConnectionManager
	Redis   *postgres.RedisClient
	Audit   audit.Logger
	Manager *rbac.Manager

	otel *observability.OTelProviders
}

// New connects to the database and Redis and builds the Manager.
// Callers must Close the result.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Logrus:   observability.NewLogrusLogger(cfg.Observability.LogLevel, nil),
		Registry: prometheus.NewRegistry(),
	}
	async.SetLogger(a.Logrus)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.otel = providers

	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	a.Conns, err = postgres.NewConnectionManager(cfg.Storage, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Storage.RedisEnabled() {
		a.Redis, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		logger.Info("Connected to Redis")
	}

	// searches go to a healthy replica when one is configured
	trail, err := audit.NewDBLogger(a.Conns.Primary(), audit.WithReader(a.Conns.Replica))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	a.Audit = audit.NewMultiLogger(trail, audit.NewSlogLogger(logger))

	a.Manager = rbac.NewManager(a.Conns.Primary(), a.Audit, rbac.Config{
		Cache:       resolver.NewCache(cfg.Storage, a.Redis, logger, a.Metrics),
		Locale:      cfg.Roles.Locale(),
		AuditSearch: trail,
		Logger:      logger,
		Metrics:     a.Metrics,
	})

	return a, nil
}

// RedisClient returns the raw go-redis client, or nil without Redis.
func (a *App) RedisClient() *redis.Client {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Client()
}

// HealthChecker checks the primary database, Redis, the seeded permission
// catalog and, when replicas are configured, that every replica is in rotation.
func (a *App) HealthChecker() *observability.HealthChecker {
	checker := observability.NewHealthChecker(a.Conns.Primary(), a.RedisClient())
	checker.AddProbe("catalog", true, func(ctx context.Context) error {
		perms, err := a.Manager.ListPermissions(ctx, "")
		if err != nil {
			return err
		}
		if len(perms) == 0 {
			return errors.New("permission catalog is empty")
		}
		return nil
	})
	if want := len(a.Config.Storage.PostgresReplicaURLs); want > 0 {
		checker.AddProbe("replicas", false, func(context.Context) error {
			if live := a.Conns.ReplicaCount(); live < want {
				return fmt.Errorf("%d of %d replicas in rotation", live, want)
			}
			return nil
		})
	}
	return checker
}

// LoadRoleMetadata applies the configured enum metadata file and, when
// enabled, keeps watching it until ctx is done.
func (a *App) LoadRoleMetadata(ctx context.Context) error {
	path := a.Config.Roles.MetadataFile
	if path == "" {
		return nil
	}

	loader := roles.NewMetadataLoader(path, a.Manager.Roles().SetMetadata, a.Logrus)
	if err := loader.Load(); err != nil {
		return err
	}
	if a.Config.Roles.WatchMetadata {
		async.SafeGo(ctx, 0, "role-metadata-watch", loader.Watch)
	}
	return nil
}

// StartBackground runs replica health checks and publishes pool statistics
// until ctx is done.
func (a *App) StartBackground(ctx context.Context, interval time.Duration) {
	a.Conns.StartHealthCheckRoutine(ctx, interval)
	if a.Metrics == nil {
		return
	}

	async.SafeGoNoError(ctx, 0, "db-stats", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Metrics.UpdateDBStats(a.Conns.Primary().Stats())
			}
		}
	})
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Conns != nil {
		if err := a.Conns.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if err := observability.ShutdownOTel(ctx, a.otel, a.Logger); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
