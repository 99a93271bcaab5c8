package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/permit/pkg/audit"
	"github.com/platinummonkey/permit/pkg/config"
	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/rbac"
	"github.com/platinummonkey/permit/pkg/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "permitd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "permitd").
		WithField("version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	err = serve(ctx, cfg, logger, shutdown)
	// Shutdown runs once, so this only releases resources when serve failed
	// before serving
	if cerr := shutdown.Shutdown(); cerr != nil {
		logger.WithError(cerr).Warn("Cleanup after startup failure incomplete")
	}
	logger.Info("permitd stopped")
	return err
}

// serve opens every dependency, registering each one on shutdown as soon as
// it exists, then serves until shutdown is requested
func serve(ctx context.Context, cfg *config.Config, logger *observability.Logger, shutdown *observability.ShutdownManager) error {
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	db, err := storage.Open(ctx, cfg.Database.Config)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
		logger.Info("Redis connected, using distributed rate limiting")
	}

	var catalog rbac.Catalog
	if cfg.Catalog.File != "" {
		if catalog, err = config.LoadCatalog(cfg.Catalog.File); err != nil {
			return err
		}
	}

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return err
	}
	var auditTrail *audit.DBLogger
	if cfg.Audit.Enabled {
		if auditTrail, err = audit.NewDBLogger(ctx, db, dialect); err != nil {
			return err
		}
	}

	var sinks []audit.Logger
	if cfg.Audit.Enabled && cfg.Audit.WebhookURL != "" {
		webhook, err := audit.NewWebhookLogger(audit.WebhookConfig{
			URL:     cfg.Audit.WebhookURL,
			Secret:  cfg.Audit.WebhookSecret,
			Workers: cfg.Audit.WebhookWorkers,
		}, logger)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("audit webhook", func(context.Context) error { return webhook.Close() })
		sinks = append(sinks, webhook)
		logger.WithField("url", cfg.Audit.WebhookURL).Info("Audit webhook enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(cfg, logger, registry, db, redisClient, catalog, auditTrail, sinks...)
	if err != nil {
		return err
	}

	if cfg.Database.BootstrapOnStart {
		if err := a.bootstrapper.Init(ctx); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
	}
	a.metrics.StartDBStatsCollector(ctx, db, 15*time.Second)

	if cfg.Audit.Enabled && cfg.Audit.Retention > 0 {
		scheduler := cron.New()
		if _, err := schedulePurge(scheduler, cfg.Audit.PurgeSchedule, auditTrail, cfg.Audit.Retention, logger); err != nil {
			return fmt.Errorf("failed to schedule audit purge: %w", err)
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc("audit purge", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		logger.WithField("schedule", cfg.Audit.PurgeSchedule).Info("Audit purge scheduled")
	}

	if cfg.Catalog.Watch {
		watcher := config.NewCatalogWatcher(cfg.Catalog.File, a.bootstrapper, logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("catalog watcher", func(context.Context) error { return watcher.Close() })
	}

	servers := a.servers()
	shutdown.AddServers(servers...)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})
	return g.Wait()
}
