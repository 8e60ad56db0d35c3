package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/curator/pkg/auth"
	"github.com/platinummonkey/curator/pkg/config"
	"github.com/platinummonkey/curator/pkg/httputil"
	"github.com/platinummonkey/curator/pkg/middleware"
	"github.com/platinummonkey/curator/pkg/observability"
)

// NewVerifier builds the identity verifier selected by cfg.Mode.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case config.AuthModeOIDC:
		v, err := auth.NewOIDCVerifier(ctx, cfg.Issuer, cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up OIDC verifier: %w", err)
		}
		return v, nil
	case config.AuthModeHeader:
		return auth.NewHeaderVerifier(cfg.HeaderName), nil
	default:
		return nil, fmt.Errorf("invalid auth mode: %s", cfg.Mode)
	}
}

// NewLimiter returns the rate limiter for mutating admin requests: shared
// through Redis when it is configured, per process otherwise. It returns nil
// when rate limiting is disabled.
func (a *App) NewLimiter(ctx context.Context) middleware.Limiter {
	cfg := a.Config.RateLimit
	if !cfg.Enabled {
		return nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
	}
	if client := a.RedisClient(); client != nil {
		return middleware.NewDistributedRateLimiter(client, limits, "curator:ratelimit")
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

// APIHandler serves the admin API under /api/v1. limiter may be nil.
func (a *App) APIHandler(verifier auth.Verifier, limiter middleware.Limiter) http.Handler {
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(a.Logger),
		httputil.LoggingMiddleware(a.Logger),
	)
	if a.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(a.Metrics))
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(verifier).Handler)
	if limiter != nil {
		api.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
	}
	api.Use(httputil.RequireJSON)
	a.Manager.RegisterRoutes(api)

	if a.Config.Observability.OTelEnabled {
		return otelhttp.NewHandler(router, "curator")
	}
	return router
}

// OpsHandler serves health probes and, when enabled, Prometheus metrics.
func (a *App) OpsHandler(checker *observability.HealthChecker) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if a.Metrics != nil {
		observability.RegisterMetricsEndpoint(router, a.Registry)
	}
	return router
}
