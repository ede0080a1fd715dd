// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for trellis.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("workspace_id", id).Info("workspace created")
//
// Request-scoped logging picks up request_id and user_id:
//
//	observability.FromContext(ctx).WithError(err).Error("membership update failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAccessDecision("forbidden", "editor")
//
// Every Record* method is safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDatabase("postgres", db)
//	checker.AddRedis("redis", client)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer("access").Start(ctx, "EffectiveRole")
package observability
