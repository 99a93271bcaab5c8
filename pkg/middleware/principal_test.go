package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/contextkeys"
)

func TestPrincipalMiddleware(t *testing.T) {
	var got *auth.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := NewPrincipalMiddleware(PrincipalConfig{}).Handler(next)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		want    *auth.Principal
	}{
		{
			name:    "user only",
			headers: map[string]string{DefaultUserHeader: "42"},
			status:  http.StatusOK,
			want:    &auth.Principal{UserID: 42},
		},
		{
			name: "user, role and tenant",
			headers: map[string]string{
				DefaultUserHeader:   "7",
				DefaultRoleHeader:   "ADMIN",
				DefaultTenantHeader: "acme",
			},
			status: http.StatusOK,
			want:   &auth.Principal{UserID: 7, RoleName: "ADMIN", TenantID: strPtr("acme")},
		},
		{name: "missing", headers: nil, status: http.StatusUnauthorized},
		{name: "not a number", headers: map[string]string{DefaultUserHeader: "bob"}, status: http.StatusUnauthorized},
		{name: "zero", headers: map[string]string{DefaultUserHeader: "0"}, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.want != nil {
				require.NotNil(t, got)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPrincipalMiddleware_CustomHeaderAndUserID(t *testing.T) {
	var userID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = contextkeys.GetUserID(r.Context())
	})
	handler := NewPrincipalMiddleware(PrincipalConfig{UserHeader: "X-Gateway-User"}).Handler(next)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Gateway-User", "9")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "9", userID)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(DefaultUserHeader, "9")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "default header is ignored when overridden")
}

func TestPrincipalMiddleware_Optional(t *testing.T) {
	called := false
	handler := NewPrincipalMiddleware(PrincipalConfig{Optional: true}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := auth.FromContext(r.Context())
		assert.False(t, ok)
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	assert.True(t, called)
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1:1234", rateLimitKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "ip:203.0.113.9", rateLimitKey(req))

	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{UserID: 5}))
	assert.Equal(t, "user:5", rateLimitKey(req))
}

func strPtr(s string) *string {
	return &s
}
