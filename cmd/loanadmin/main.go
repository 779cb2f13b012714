package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/httputil"
	"github.com/platinummonkey/loanadmin/pkg/menus"
	"github.com/platinummonkey/loanadmin/pkg/middleware"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/rbac"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
	"github.com/platinummonkey/loanadmin/pkg/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	envFile     = flag.String("env-file", "", "Optional env file loaded before reading configuration")
	catalogPath = flag.String("catalog", "", "Catalog file used for protected role names (defaults to the embedded catalog)")
	version     = "dev"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loanadmin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tp != nil {
		shutdown.Register("tracing", tp.Shutdown)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	conn, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return conn.Close() })
	db := conn.DB()
	conn.StartStatsRoutine(ctx, 15*time.Second, metrics)

	catalog := rbac.DefaultCatalog()
	if *catalogPath != "" {
		if catalog, err = rbac.LoadCatalog(*catalogPath); err != nil {
			return err
		}
	}

	var redisClient *postgres.RedisClient
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	manager := rbac.NewManager(db, catalog, cfg.Cache, redisClient, metrics, logger)
	if cfg.Database.AutoMigrate {
		if err := manager.Initialize(ctx, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	auditLogger, auditStore, err := newAuditLogger(ctx, cfg, db, metrics)
	if err != nil {
		return err
	}
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })

	scheduler := cron.New()
	if auditStore != nil && cfg.Audit.RetentionDays > 0 {
		if err := scheduleRetention(ctx, cfg, auditStore, scheduler, logger, metrics); err != nil {
			return err
		}
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// API routes
	router := mux.NewRouter()
	guard := manager.GetGuard()
	manager.RegisterRoutes(router)
	menus.NewHandlers(menus.NewStore(db, metrics), guard, manager.GetChecker(), logger).RegisterRoutes(router)
	users.NewHandlers(users.NewStore(db), guard, logger).RegisterRoutes(router)

	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokenStore(db), true)
	auditMiddleware := audit.NewMiddleware(auditLogger, logger)
	rateLimit := newRateLimitMiddleware(ctx, cfg, redisClient, metrics, logger)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger.FieldLogger()),
		httputil.RecoveryMiddleware(logger.FieldLogger()),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		observability.HTTPMetricsMiddleware(metrics),
		authMiddleware.Handler,
		rateLimit,
		requestLogger(logger),
		auditMiddleware.Handler,
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(handler, "loanadmin"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for k8s probes
	healthChecker := observability.NewHealthChecker(db, nil, version)
	if redisClient != nil {
		healthChecker = observability.NewHealthChecker(db, redisClient.GetClient(), version)
	}
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, healthChecker)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("starting loanadmin API server")
		return listen(server)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("starting health server")
		return listen(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	serveErr := g.Wait()
	if err := shutdown.Shutdown(); err != nil {
		logger.WithError(err).Error("shutdown completed with errors")
	}
	return serveErr
}

func listen(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newAuditLogger fans audit events out to the database table and the
// structured log stream, whichever are enabled. The DB sink is returned
// separately for the retention job and is nil when disabled.
func newAuditLogger(ctx context.Context, cfg *config.Config, db *sql.DB, metrics *observability.Metrics) (audit.Logger, *audit.DBLogger, error) {
	var (
		sinks    []audit.Logger
		dbLogger *audit.DBLogger
	)
	if cfg.Audit.DBEnabled {
		var err error
		dbLogger, err = audit.NewDBLogger(ctx, db, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create audit DB logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}
	if cfg.Audit.StreamEnabled {
		stream := logrus.New()
		stream.SetFormatter(&logrus.JSONFormatter{})
		stream.SetOutput(os.Stdout)
		sinks = append(sinks, audit.NewLogrusLogger(stream.WithField("stream", "audit")))
	}
	return audit.NewMultiLogger(sinks...), dbLogger, nil
}

func scheduleRetention(ctx context.Context, cfg *config.Config, store audit.RetentionStore, scheduler *cron.Cron, logger *observability.Logger, metrics *observability.Metrics) error {
	var archiver audit.Archiver
	if cfg.Audit.ArchiveEnabled {
		s3Client, err := postgres.NewS3Client(ctx, cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to create audit archive client: %w", err)
		}
		archiver = s3Client
	}

	retention := audit.NewRetention(store, archiver, cfg.Audit.RetentionDays, logger.WithField("job", "audit_retention"), metrics)
	if _, err := retention.Schedule(scheduler, cfg.Audit.RetentionSchedule, time.Hour); err != nil {
		return fmt.Errorf("invalid audit retention schedule %q: %w", cfg.Audit.RetentionSchedule, err)
	}
	logger.WithFields(map[string]interface{}{
		"days":     cfg.Audit.RetentionDays,
		"schedule": cfg.Audit.RetentionSchedule,
		"archive":  cfg.Audit.ArchiveEnabled,
	}).Info("audit retention scheduled")
	return nil
}

// newRateLimitMiddleware shares counters through Redis when it is configured
// and falls back to per-instance buckets otherwise
func newRateLimitMiddleware(ctx context.Context, cfg *config.Config, redisClient *postgres.RedisClient, metrics *observability.Metrics, logger *observability.Logger) func(http.Handler) http.Handler {
	if !cfg.RateLimit.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient.GetClient(), cfg.RateLimit, "")
	} else {
		local := middleware.NewRateLimiter(cfg.RateLimit)
		local.StartCleanup(ctx)
		limiter = local
	}
	return middleware.NewRateLimitMiddleware(limiter, metrics, logger).Handler
}

// requestLogger stores a request-scoped logger carrying the request id and
// the caller's identity
func requestLogger(base *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			fields := map[string]interface{}{"request_id": contextkeys.GetRequestID(ctx)}
			if principal := middleware.PrincipalFromContext(ctx); principal != nil {
				fields["user_id"] = principal.UserID
				fields["role_id"] = principal.RoleID
				if principal.TenantID != nil {
					fields["tenant_id"] = *principal.TenantID
				}
			}
			logger := observability.UpdateLoggerWithTraceContext(ctx, base.WithFields(fields))
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(ctx, logger)))
		})
	}
}
