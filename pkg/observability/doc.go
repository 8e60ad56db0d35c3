// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role", code).Info("Grant updated")
//
// Metrics are registered on a caller-owned registry and exposed on /metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// Tracing is a no-op until InitOTel installs the OTLP providers:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "curator",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
