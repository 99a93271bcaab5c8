package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/permit/pkg/contextkeys"
)

// Principal is an already-authenticated caller.
//
// RoleName is informational. Authorization always re-reads the user's role
// from storage, so a stale RoleName cannot widen access.
type Principal struct {
	UserID   int64   `json:"user_id"`
	RoleName string  `json:"role_name,omitempty"`
	TenantID *string `json:"tenant_id,omitempty"`
}

// String renders the principal for logs
func (p Principal) String() string {
	if p.TenantID != nil {
		return fmt.Sprintf("user:%d@%s", p.UserID, *p.TenantID)
	}
	return fmt.Sprintf("user:%d", p.UserID)
}

// Tenant returns the tenant id or an empty string
func (p Principal) Tenant() string {
	if p.TenantID == nil {
		return ""
	}
	return *p.TenantID
}

// Valid reports whether the principal identifies a user
func (p Principal) Valid() bool {
	return p.UserID > 0
}

// ParsePrincipal builds a principal from raw header values
func ParsePrincipal(userID, roleName, tenantID string) (*Principal, error) {
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid user id: %q", userID)
	}

	p := &Principal{UserID: id, RoleName: roleName}
	if tenantID != "" {
		t := tenantID
		p.TenantID = &t
	}
	return p, nil
}

// WithPrincipal stores the principal in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	return contextkeys.WithUserID(ctx, strconv.FormatInt(p.UserID, 10))
}

// FromContext returns the principal stored in the context
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}
