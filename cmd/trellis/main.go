package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/api"
	"github.com/platinummonkey/trellis/pkg/async"
	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/auth"
	"github.com/platinummonkey/trellis/pkg/batch"
	"github.com/platinummonkey/trellis/pkg/config"
	"github.com/platinummonkey/trellis/pkg/issues"
	"github.com/platinummonkey/trellis/pkg/middleware"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/storage"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := observability.WithLogger(context.Background(), logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		shutdown.Register("otel", providers.Shutdown)
	}

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: cfg.Storage.PostgresReplicaURLs,
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return conns.Close() })

	if err := postgres.RunMigrations(ctx, conns.Primary(), logger); err != nil {
		return err
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	health := observability.NewHealthChecker(version)
	health.AddDatabase("postgres", conns.Primary())

	caches, err := batchCaches(ctx, cfg.Storage, health, shutdown)
	if err != nil {
		return err
	}

	auditDB, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return err
	}
	auditLogger := audit.NewMultiLogger(audit.NewLogLogger(logger), auditDB)

	tracker := async.NewTracker(cfg.Access.AuditTimeout)
	store := access.NewStore(conns.Primary())
	evaluator := access.NewEvaluator(store,
		access.WithEvaluatorMetrics(metrics),
		access.WithTracker(tracker),
	)
	repo := postgres.NewRepository(conns.Replica())
	loaders := batch.NewLoaders(repo, batch.LoadersConfig{Metrics: metrics, Caches: caches})
	memberships := access.NewMemberships(store, evaluator,
		access.WithMembershipMetrics(metrics),
		access.WithAuditTracker(tracker),
		access.WithCacheInvalidator(loaders),
	)

	server := api.NewServer(api.Config{
		Store:        store,
		Memberships:  memberships,
		Issues:       issues.NewService(repo, loaders),
		Auth:         middleware.NewAuthMiddleware(auth.NewTokenManager(conns.Primary()), evaluator, cfg.Access.AllowAnonymous),
		Audit:        auditLogger,
		Health:       health,
		Metrics:      metrics,
		Gatherer:     registry,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Audit writes drain after the listener stops taking requests.
	shutdown.Register("audit", tracker.Drain)
	shutdown.Register("http", httpServer.Shutdown)

	if path := os.Getenv("TRELLIS_CONFIG_FILE"); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				logger.SetLevel(next.Observability.LogLevel)
			})
			if err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting trellis API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForSignal(ctx)
}

// batchCaches picks the loader cache backend. A nil factory disables
// caching.
func batchCaches(ctx context.Context, cfg storage.Config, health *observability.HealthChecker, shutdown *observability.ShutdownManager) (batch.CacheFactory, error) {
	switch cfg.CacheMode {
	case storage.CacheMemory:
		return batch.MemoryCaches(cfg.CacheSize, cfg.CacheTTL), nil
	case storage.CacheRedis:
		client, err := postgres.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		health.AddRedis("redis", client)
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		return postgres.RedisCaches(client, cfg.CacheTTL), nil
	default:
		return nil, nil
	}
}
