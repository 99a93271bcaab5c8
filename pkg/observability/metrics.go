package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Authorization metrics
	DecisionsTotal      *prometheus.CounterVec
	DecisionErrorsTotal prometheus.Counter
	DecisionDuration    prometheus.Histogram
	MutationsTotal      *prometheus.CounterVec
	BootstrapRunsTotal  *prometheus.CounterVec
	BootstrapRowsTotal  *prometheus.CounterVec
	AuditFailuresTotal  prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    prometheus.Counter

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBConnectionsWaits prometheus.Gauge

	// decisions is mirrored to the global OpenTelemetry meter
	decisions metric.Int64Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"result", "source"},
		),
		DecisionErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permit_authz_decision_errors_total",
				Help: "Decisions that fell back to deny because state could not be read",
			},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permit_authz_decision_duration_seconds",
				Help:    "Time to read decision state and resolve",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_authz_mutations_total",
				Help: "Total number of role, permission and override mutations",
			},
			[]string{"operation", "status"},
		),
		BootstrapRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_bootstrap_runs_total",
				Help: "Total number of bootstrap runs",
			},
			[]string{"status"},
		),
		BootstrapRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_bootstrap_rows_created_total",
				Help: "Rows created by bootstrap, by kind",
			},
			[]string{"kind"},
		),
		AuditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permit_audit_write_failures_total",
				Help: "Audit events that could not be written",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permit_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permit_db_connections_open",
			Help: "Open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permit_db_connections_in_use",
			Help: "Database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permit_db_connections_idle",
			Help: "Idle database connections",
		}),
		DBConnectionsWaits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permit_db_connections_wait_count",
			Help: "Total number of waits for a database connection",
		}),
	}

	registry.MustRegister(
		m.DecisionsTotal,
		m.DecisionErrorsTotal,
		m.DecisionDuration,
		m.MutationsTotal,
		m.BootstrapRunsTotal,
		m.BootstrapRowsTotal,
		m.AuditFailuresTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitedTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaits,
	)

	decisions, err := otel.Meter("github.com/platinummonkey/permit").Int64Counter(
		"permit.authz.decisions",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err == nil {
		m.decisions = decisions
	}

	return m
}

// RecordDecision counts one resolved decision. Permission names are caller
// input, so they are kept out of the labels.
func (m *Metrics) RecordDecision(ctx context.Context, allowed bool, source string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.DecisionsTotal.WithLabelValues(result, source).Inc()
	m.DecisionDuration.Observe(duration.Seconds())

	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", result),
			attribute.String("source", source),
		))
	}
}

// RecordDecisionError counts a decision that failed closed
func (m *Metrics) RecordDecisionError() {
	if m == nil {
		return
	}
	m.DecisionErrorsTotal.Inc()
}

// RecordMutation counts one engine mutation
func (m *Metrics) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBootstrap counts one bootstrap run and the rows it created
func (m *Metrics) RecordBootstrap(err error, created map[string]int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BootstrapRunsTotal.WithLabelValues(status).Inc()
	for kind, n := range created {
		m.BootstrapRowsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordAuditFailure counts an audit event that was dropped
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailuresTotal.Inc()
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaits.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labeled by
// their mux route template so path ids do not create new series.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// StartDBStatsCollector samples pool statistics until ctx is done
func (m *Metrics) StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RecordDBStats(db.Stats())
			}
		}
	}()
}
