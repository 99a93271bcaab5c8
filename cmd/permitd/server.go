package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/permit/pkg/audit"
	"github.com/platinummonkey/permit/pkg/config"
	"github.com/platinummonkey/permit/pkg/httputil"
	"github.com/platinummonkey/permit/pkg/middleware"
	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/rbac"
)

// app holds permitd's wired components
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	db    *sql.DB
	redis *redis.Client

	store        *rbac.Store
	bootstrapper *rbac.Bootstrapper
	resolver     *rbac.Resolver
	service      *rbac.Service
	auditTrail   *audit.DBLogger
}

// newApp builds the engine on an open database. redisClient and auditTrail
// may be nil; sinks receive every audit event alongside the trail.
func newApp(cfg *config.Config, logger *observability.Logger, registry *prometheus.Registry, db *sql.DB, redisClient *redis.Client, catalog rbac.Catalog, auditTrail *audit.DBLogger, sinks ...audit.Logger) (*app, error) {
	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(registry)
	store := rbac.NewStore(db, dialect)

	bootstrapper := rbac.NewBootstrapper(store, logger,
		rbac.WithMigrations(cfg.Database.AutoMigrate),
		rbac.WithCatalog(catalog),
		rbac.WithBootstrapMetrics(metrics),
	)
	resolver := rbac.NewResolver(store, logger,
		rbac.WithStrictAdminBypass(cfg.StrictAdminBypass),
		rbac.WithResolverMetrics(metrics),
	)

	var loggers []audit.Logger
	if auditTrail != nil {
		loggers = append(loggers, auditTrail)
	}
	loggers = append(loggers, sinks...)

	var auditLogger audit.Logger
	switch len(loggers) {
	case 0:
		auditLogger = audit.NewNoOpLogger()
	case 1:
		auditLogger = loggers[0]
	default:
		auditLogger = audit.NewMultiLogger(loggers...)
	}
	service := rbac.NewService(store, resolver, logger,
		rbac.WithAuditLogger(auditLogger),
		rbac.WithServiceMetrics(metrics),
		rbac.WithBootstrapper(bootstrapper),
	)

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		registry:     registry,
		db:           db,
		redis:        redisClient,
		store:        store,
		bootstrapper: bootstrapper,
		resolver:     resolver,
		service:      service,
		auditTrail:   auditTrail,
	}, nil
}

// limiter picks the Redis limiter when Redis is configured
func (a *app) limiter() middleware.Limiter {
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: a.cfg.RateLimit.RequestsPerWindow,
		WindowDuration:    a.cfg.RateLimit.Window,
		BurstSize:         a.cfg.RateLimit.BurstSize,
		MaxClients:        a.cfg.RateLimit.MaxClients,
	}
	if a.redis != nil {
		return middleware.NewDistributedRateLimiter(a.redis, rl, "")
	}
	return middleware.NewRateLimiter(rl)
}

// handler returns the API handler. Health probes skip authentication and
// rate limiting; everything else requires a principal.
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(a.metrics))

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(a.db, a.redis, version))

	api := router.PathPrefix("/").Subrouter()
	principal := middleware.NewPrincipalMiddleware(middleware.PrincipalConfig{
		UserHeader:   a.cfg.Auth.UserHeader,
		RoleHeader:   a.cfg.Auth.RoleHeader,
		TenantHeader: a.cfg.Auth.TenantHeader,
	})
	api.Use(principal.Handler)
	if a.cfg.RateLimit.Enabled {
		api.Use(middleware.NewRateLimitMiddleware(a.limiter(), a.metrics, a.logger).Handler)
	}
	api.Use(httputil.ContentTypeMiddleware)

	rbac.NewHandlers(a.service).RegisterRoutes(api)
	if a.auditTrail != nil {
		guard := rbac.NewPermissionMiddleware(a.resolver).RequirePermission(rbac.PermAuditRead)
		audit.NewHandlers(a.auditTrail).RegisterRoutes(api, guard)
	}

	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(a.logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(a.logger),
	}
	if a.cfg.Server.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(a.cfg.Server.MaxBodyBytes))
	}
	return otelhttp.NewHandler(httputil.Chain(chain...)(router), "permitd")
}

// servers returns the API server and, when metrics are enabled, the
// metrics server
func (a *app) servers() []*http.Server {
	api := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.handler(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
	if !a.cfg.Observability.MetricsEnabled {
		return []*http.Server{api}
	}

	metricsMux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(metricsMux, a.registry)
	metricsServer := &http.Server{
		Addr:              a.cfg.Server.MetricsAddr(),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return []*http.Server{api, metricsServer}
}
