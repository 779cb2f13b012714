// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role_id", roleID).Info("Role updated")
//
// Request-scoped loggers pick up the request, user and tenant ids:
//
//	observability.FromContext(ctx).WithError(err).Error("Failed to assign permissions")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAuthz("permission", false)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	ctx, span := observability.Tracer().Start(ctx, "rbac.AssignPermissions")
//	defer span.End()
package observability
