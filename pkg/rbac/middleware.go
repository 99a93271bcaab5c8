package rbac

import (
	"net/http"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/httputil"
	"github.com/platinummonkey/permit/pkg/observability"
)

// PermissionMiddleware guards HTTP routes with the resolver
type PermissionMiddleware struct {
	resolver *Resolver
}

// NewPermissionMiddleware creates permission middleware
func NewPermissionMiddleware(resolver *Resolver) *PermissionMiddleware {
	return &PermissionMiddleware{resolver: resolver}
}

// RequirePermission allows administrators and holders of permission. It
// responds 401 when the request carries no principal and 403 when access is
// denied.
func (m *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok || !p.Valid() {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !m.resolver.IsAdminOrHasPermission(r.Context(), *p, permission) {
				observability.FromContext(r.Context()).
					WithField("permission", permission).
					Info("Access denied by permission middleware")
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin allows only principals holding the administration capability
func (m *PermissionMiddleware) RequireAdmin() func(http.Handler) http.Handler {
	return m.RequirePermission(AdminCapability)
}
