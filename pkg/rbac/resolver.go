package rbac

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/observability"
)

var tracer = otel.Tracer("permit/rbac")

// StateReader loads decision inputs from authoritative storage
type StateReader interface {
	DecisionState(ctx context.Context, userID int64, permission string) (DecisionState, error)
	PermissionStates(ctx context.Context, userID int64) ([]PermissionState, error)
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithStrictAdminBypass makes IsAdminOrHasPermission allow any user whose
// stored role is ADMIN or who holds the administration capability, ignoring
// that user's deny overrides. This is the legacy behavior and is off by
// default.
func WithStrictAdminBypass(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.strictAdminBypass = enabled
	}
}

// WithResolverMetrics records every decision
func WithResolverMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// Resolver computes access decisions. It holds no decision state; every call
// re-reads storage.
type Resolver struct {
	state             StateReader
	logger            *observability.Logger
	metrics           *observability.Metrics
	strictAdminBypass bool
}

// NewResolver creates a resolver over a state reader
func NewResolver(state StateReader, logger *observability.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Resolver{state: state, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveDecision reports whether the user holds the permission. It never
// fails: unreadable state, an unknown user or an unknown permission all
// resolve to false.
func (r *Resolver) ResolveDecision(ctx context.Context, userID int64, permission string) bool {
	allowed, _ := r.resolve(ctx, userID, permission)
	return allowed
}

func (r *Resolver) resolve(ctx context.Context, userID int64, permission string) (bool, DecisionState) {
	ctx, span := tracer.Start(ctx, "rbac.ResolveDecision", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("permission", permission),
	))
	defer span.End()

	start := time.Now()
	state, err := r.state.DecisionState(ctx, userID, permission)
	if err != nil {
		r.metrics.RecordDecisionError()
		r.logger.WithError(err).
			WithField("user_id", userID).
			WithField("permission", permission).
			Warn("Decision state unavailable, denying")
		span.RecordError(err)
		return false, DecisionState{}
	}

	allowed, source := state.Decide()
	r.metrics.RecordDecision(ctx, allowed, string(source), time.Since(start))
	span.SetAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("source", string(source)),
	)
	return allowed, state
}

// IsAdmin reports whether the principal holds the administration
// capability. This is the only is-admin predicate; it goes through the same
// override-dominant resolution as every other permission.
func (r *Resolver) IsAdmin(ctx context.Context, p auth.Principal) bool {
	return r.ResolveDecision(ctx, p.UserID, AdminCapability)
}

// IsAdminOrHasPermission is the gate used by the service and the route
// middleware. By default it is exactly ResolveDecision: administrators pass
// because their role holds every permission, and a deny override stops them
// like anyone else. With the strict bypass the stored ADMIN role or the
// administration capability allows regardless of overrides.
func (r *Resolver) IsAdminOrHasPermission(ctx context.Context, p auth.Principal, permission string) bool {
	allowed, state := r.resolve(ctx, p.UserID, permission)
	if allowed || !r.strictAdminBypass {
		return allowed
	}
	if state.RoleName == RoleAdmin {
		return true
	}
	if permission == AdminCapability {
		return false
	}
	return r.IsAdmin(ctx, p)
}

// Check resolves several permissions for one user
func (r *Resolver) Check(ctx context.Context, userID int64, permissions []string) map[string]bool {
	decisions := make(map[string]bool, len(permissions))
	for _, name := range permissions {
		if _, done := decisions[name]; done {
			continue
		}
		decisions[name] = r.ResolveDecision(ctx, userID, name)
	}
	return decisions
}

// EffectivePermissions resolves every catalog permission for a user, ordered
// by name. Unlike ResolveDecision it reports errors, including
// ErrUserNotFound.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	ctx, span := tracer.Start(ctx, "rbac.EffectivePermissions", trace.WithAttributes(
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	states, err := r.state.PermissionStates(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	effective := make([]EffectivePermission, 0, len(states))
	for _, st := range states {
		allowed, source := DecideWithSource(st.Override, st.RoleHolds)
		effective = append(effective, EffectivePermission{
			Permission: st.Permission,
			Allowed:    allowed,
			Source:     source,
		})
	}
	return effective, nil
}
