package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/audit"
	"github.com/platinummonkey/permit/pkg/config"
	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/rbac"
	"github.com/platinummonkey/permit/pkg/storage"
)

type appFixture struct {
	app     *app
	handler http.Handler
	admin   *rbac.User
	user    *rbac.User
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0", MetricsPort: "0", MaxBodyBytes: 1 << 20},
		Database: config.DatabaseConfig{
			Config:      storage.Config{Driver: storage.DriverSQLite, URL: ":memory:"},
			AutoMigrate: true,
		},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerWindow: 1000, Window: time.Minute, MaxClients: 100},
		Audit:     config.AuditConfig{Enabled: true},
		Auth:      config.AuthConfig{UserHeader: "X-Permit-User-ID"},
		Observability: config.ObservabilityConfig{MetricsEnabled: true},
	}
}

func newAppFixture(t *testing.T, cfg *config.Config) *appFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, cfg.Database.Config)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	trail, err := audit.NewDBLogger(ctx, db, storage.DialectSQLite)
	require.NoError(t, err)

	a, err := newApp(cfg, observability.NopLogger(), prometheus.NewRegistry(), db, nil, rbac.Catalog{}, trail)
	require.NoError(t, err)
	require.NoError(t, a.bootstrapper.Init(ctx))

	adminRole, err := a.store.GetRoleByName(ctx, rbac.RoleAdmin)
	require.NoError(t, err)
	admin, err := a.store.CreateUser(ctx, "alice", &adminRole.ID)
	require.NoError(t, err)
	user, err := a.store.CreateUser(ctx, "bob", nil)
	require.NoError(t, err)

	return &appFixture{app: a, handler: a.handler(), admin: admin, user: user}
}

func (f *appFixture) get(path string, as *rbac.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if as != nil {
		req.Header.Set("X-Permit-User-ID", strconv.FormatInt(as.ID, 10))
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthSkipsAuthentication(t *testing.T) {
	f := newAppFixture(t, testConfig())

	assert.Equal(t, http.StatusOK, f.get("/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, f.get("/readyz", nil).Code)
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	f := newAppFixture(t, testConfig())

	w := f.get("/rbac/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.get("/rbac/roles", f.admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), rbac.RoleAdmin)
}

func TestHandler_AuditTrailRequiresPermission(t *testing.T) {
	f := newAppFixture(t, testConfig())

	// a denial is itself audited
	assert.Equal(t, http.StatusForbidden, f.get("/rbac/roles", f.user).Code)

	assert.Equal(t, http.StatusForbidden, f.get("/audit/events", f.user).Code)

	w := f.get("/audit/events?type=authz.access_denied", f.admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"permission":"role:read"`)
}

func TestHandler_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerWindow = 2
	f := newAppFixture(t, cfg)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.get("/rbac/permissions/all", f.user).Code)
	}
	w := f.get("/rbac/permissions/all", f.user)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.app.metrics.RateLimitedTotal))

	// limits are per principal
	assert.Equal(t, http.StatusOK, f.get("/rbac/permissions/all", f.admin).Code)
}

func TestHandler_RateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.RequestsPerWindow = 1
	f := newAppFixture(t, cfg)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, f.get("/rbac/permissions/all", f.user).Code)
	}
}

func TestHandler_RecordsRouteMetrics(t *testing.T) {
	f := newAppFixture(t, testConfig())
	f.get("/rbac/roles", f.admin)

	count := testutil.ToFloat64(f.app.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles", "200"))
	assert.Equal(t, float64(1), count)
}

func TestServers(t *testing.T) {
	cfg := testConfig()
	f := newAppFixture(t, cfg)

	servers := f.app.servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "127.0.0.1:0", servers[0].Addr)

	w := httptest.NewRecorder()
	servers[1].Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "permit_"))

	cfg.Observability.MetricsEnabled = false
	assert.Len(t, f.app.servers(), 1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (s *recordingSink) Log(ctx context.Context, event *audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestNewApp_FansOutToSinks(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	db, err := storage.Open(ctx, cfg.Database.Config)
	require.NoError(t, err)
	defer db.Close()
	trail, err := audit.NewDBLogger(ctx, db, storage.DialectSQLite)
	require.NoError(t, err)

	sink := &recordingSink{}
	a, err := newApp(cfg, observability.NopLogger(), prometheus.NewRegistry(), db, nil, rbac.Catalog{}, trail, sink)
	require.NoError(t, err)
	require.NoError(t, a.bootstrapper.Init(ctx))

	user, err := a.store.CreateUser(ctx, "carol", nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/rbac/roles", nil)
	req.Header.Set("X-Permit-User-ID", strconv.FormatInt(user.ID, 10))
	w := httptest.NewRecorder()
	a.handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventTypeAccessDenied, sink.events[0].EventType)

	events, err := trail.Query(ctx, audit.Filter{EventTypes: []audit.EventType{audit.EventTypeAccessDenied}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
