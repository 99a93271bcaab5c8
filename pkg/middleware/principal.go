package middleware

import (
	"net/http"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/httputil"
	"github.com/platinummonkey/permit/pkg/observability"
)

// Default gateway headers carrying the verified principal
const (
	DefaultUserHeader   = "X-Permit-User-ID"
	DefaultRoleHeader   = "X-Permit-Role"
	DefaultTenantHeader = "X-Permit-Tenant-ID"
)

// PrincipalConfig names the trusted headers set by the authenticating gateway
type PrincipalConfig struct {
	UserHeader   string
	RoleHeader   string
	TenantHeader string
	// Optional lets requests without a user header through unauthenticated.
	// Handlers that need a principal still answer 401.
	Optional bool
}

// DefaultPrincipalConfig returns the default header names
func DefaultPrincipalConfig() PrincipalConfig {
	return PrincipalConfig{
		UserHeader:   DefaultUserHeader,
		RoleHeader:   DefaultRoleHeader,
		TenantHeader: DefaultTenantHeader,
	}
}

// PrincipalMiddleware turns gateway headers into an auth.Principal on the
// request context. Token verification happens upstream; this middleware only
// trusts what the gateway already checked.
type PrincipalMiddleware struct {
	config PrincipalConfig
}

// NewPrincipalMiddleware creates principal middleware. Empty header names
// fall back to the defaults.
func NewPrincipalMiddleware(config PrincipalConfig) *PrincipalMiddleware {
	defaults := DefaultPrincipalConfig()
	if config.UserHeader == "" {
		config.UserHeader = defaults.UserHeader
	}
	if config.RoleHeader == "" {
		config.RoleHeader = defaults.RoleHeader
	}
	if config.TenantHeader == "" {
		config.TenantHeader = defaults.TenantHeader
	}
	return &PrincipalMiddleware{config: config}
}

// Handler wraps an HTTP handler with principal extraction
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(m.config.UserHeader)
		if userID == "" && m.config.Optional {
			next.ServeHTTP(w, r)
			return
		}

		p, err := auth.ParsePrincipal(userID,
			r.Header.Get(m.config.RoleHeader),
			r.Header.Get(m.config.TenantHeader))
		if err != nil {
			observability.FromContext(r.Context()).
				WithError(err).
				WithField("header", m.config.UserHeader).
				Debug("Rejected request without a valid principal")
			httputil.WriteUnauthorized(w, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// rateLimitKey identifies the caller for rate limiting
func rateLimitKey(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok && p.Valid() {
		return p.String()
	}
	return "ip:" + getClientIP(r)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
