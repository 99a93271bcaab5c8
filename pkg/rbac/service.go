package rbac

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/permit/pkg/audit"
	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/observability"
)

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithAuditLogger records mutations and access denials
func WithAuditLogger(l audit.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithServiceMetrics counts mutations and audit failures
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBootstrapper lets EnsureReady initialize the schema and seed lazily
func WithBootstrapper(b *Bootstrapper) ServiceOption {
	return func(s *Service) {
		s.bootstrap = b
	}
}

// Service is the administrative surface of the engine. Every call is made on
// behalf of an acting principal, which is authorized through the resolver
// before anything is read or changed.
type Service struct {
	store     *Store
	resolver  *Resolver
	bootstrap *Bootstrapper
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewService creates a service over a store and the resolver that reads it
func NewService(store *Store, resolver *Resolver, logger *observability.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Service{
		store:    store,
		resolver: resolver,
		audit:    audit.NewNoOpLogger(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver returns the resolver used for authorization
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// EnsureReady runs the one-time bootstrap if a bootstrapper is configured
// and it has not completed yet
func (s *Service) EnsureReady(ctx context.Context) error {
	if s.bootstrap == nil {
		return nil
	}
	return s.bootstrap.Init(ctx)
}

// Ready reports whether the service can serve requests
func (s *Service) Ready() bool {
	return s.bootstrap == nil || s.bootstrap.Ready()
}

// authorize allows the actor when it holds permission or is an administrator
func (s *Service) authorize(ctx context.Context, actor auth.Principal, permission string) error {
	if !actor.Valid() {
		return ErrUnauthenticated
	}
	if s.resolver.IsAdminOrHasPermission(ctx, actor, permission) {
		return nil
	}
	return s.deny(ctx, actor, permission)
}

// authorizeSelfOr allows actors acting on their own user record
func (s *Service) authorizeSelfOr(ctx context.Context, actor auth.Principal, userID int64, permission string) error {
	if actor.Valid() && actor.UserID == userID {
		return nil
	}
	return s.authorize(ctx, actor, permission)
}

func (s *Service) deny(ctx context.Context, actor auth.Principal, permission string) error {
	event := audit.NewEvent(ctx, audit.EventTypeAccessDenied)
	event.Status = audit.EventStatusDenied
	event.ActorID = &actor.UserID
	event.Permission = permission
	event.Message = "insufficient permissions"
	s.emit(ctx, event)

	observability.FromContext(ctx).
		WithField("actor", actor.String()).
		WithField("permission", permission).
		Info("Access denied")
	return &ForbiddenError{Permission: permission}
}

// emit writes an audit event. A failed write is logged and counted but
// never fails the operation that produced it.
func (s *Service) emit(ctx context.Context, event *audit.AuditEvent) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.metrics.RecordAuditFailure()
		s.logger.WithError(err).
			WithField("event_type", string(event.EventType)).
			Warn("Failed to write audit event")
	}
}

// mutate traces and counts one mutation
func (s *Service) mutate(ctx context.Context, operation string, actor auth.Principal, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "rbac."+operation, trace.WithAttributes(
		attribute.Int64("actor.id", actor.UserID),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil && !errors.Is(err, ErrForbidden) && !errors.Is(err, ErrUnauthenticated) {
		span.RecordError(err)
	}
	s.metrics.RecordMutation(operation, err)
	return err
}

func newEvent(ctx context.Context, eventType audit.EventType, actor auth.Principal) *audit.AuditEvent {
	event := audit.NewEvent(ctx, eventType)
	actorID := actor.UserID
	event.ActorID = &actorID
	return event
}

// Queries

// Permissions lists the catalog. Requires permission:read.
func (s *Service) Permissions(ctx context.Context, actor auth.Principal) ([]*Permission, error) {
	if err := s.authorize(ctx, actor, PermPermissionRead); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx)
}

// AllPermissions lists the catalog for any authenticated principal
func (s *Service) AllPermissions(ctx context.Context, actor auth.Principal) ([]*Permission, error) {
	if !actor.Valid() {
		return nil, ErrUnauthenticated
	}
	return s.store.ListPermissions(ctx)
}

// RolePermissions lists a role's permission set. Requires role:read.
func (s *Service) RolePermissions(ctx context.Context, actor auth.Principal, roleID int64) ([]*Permission, error) {
	if err := s.authorize(ctx, actor, PermRoleRead); err != nil {
		return nil, err
	}
	return s.store.ListRolePermissions(ctx, roleID)
}

// RolesWithCounts lists every role with its live counts. Requires role:read.
func (s *Service) RolesWithCounts(ctx context.Context, actor auth.Principal) ([]*RoleWithCounts, error) {
	if err := s.authorize(ctx, actor, PermRoleRead); err != nil {
		return nil, err
	}
	return s.store.ListRolesWithCounts(ctx)
}

// UserSpecificPermissions lists a user's overrides. Users may read their own;
// anyone else needs user:read.
func (s *Service) UserSpecificPermissions(ctx context.Context, actor auth.Principal, userID int64) ([]*UserPermissionOverride, error) {
	if err := s.authorizeSelfOr(ctx, actor, userID, PermUserRead); err != nil {
		return nil, err
	}
	return s.store.ListOverridesForUser(ctx, userID)
}

// EffectivePermissions resolves every catalog permission for a user. Users
// may read their own; anyone else needs user:read.
func (s *Service) EffectivePermissions(ctx context.Context, actor auth.Principal, userID int64) ([]EffectivePermission, error) {
	if err := s.authorizeSelfOr(ctx, actor, userID, PermUserRead); err != nil {
		return nil, err
	}
	return s.resolver.EffectivePermissions(ctx, userID)
}

// Check resolves permissions for a user. Users may check themselves; anyone
// else needs user:read.
func (s *Service) Check(ctx context.Context, actor auth.Principal, userID int64, permissions []string) (map[string]bool, error) {
	if err := s.authorizeSelfOr(ctx, actor, userID, PermUserRead); err != nil {
		return nil, err
	}
	return s.resolver.Check(ctx, userID, permissions), nil
}

// Mutations

// CreatePermission adds a catalog entry. Requires permission:write.
func (s *Service) CreatePermission(ctx context.Context, actor auth.Principal, name, description string) (*Permission, error) {
	var p *Permission
	err := s.mutate(ctx, "create_permission", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermPermissionWrite); err != nil {
			return err
		}
		var err error
		if p, err = s.store.CreatePermission(ctx, name, description); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypePermissionCreate, actor)
		event.Permission = p.Name
		event.Message = "permission created"
		s.emit(ctx, event)
		return nil
	})
	return p, err
}

// CreateRole creates a custom role. Requires role:write.
func (s *Service) CreateRole(ctx context.Context, actor auth.Principal, name, description string) (*Role, error) {
	var role *Role
	err := s.mutate(ctx, "create_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		var err error
		if role, err = s.store.CreateRole(ctx, name, description); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeRoleCreate, actor)
		event.RoleID = &role.ID
		event.Message = "role created"
		event.WithMetadata("name", role.Name)
		s.emit(ctx, event)
		return nil
	})
	return role, err
}

// UpdateRole renames a role and optionally replaces its description.
// Requires role:write.
func (s *Service) UpdateRole(ctx context.Context, actor auth.Principal, roleID int64, name string, description *string) (*Role, error) {
	var role *Role
	err := s.mutate(ctx, "update_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		before, err := s.store.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role, err = s.store.UpdateRole(ctx, roleID, name, description); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeRoleUpdate, actor)
		event.RoleID = &role.ID
		event.Message = "role updated"
		event.WithMetadata("previous_name", before.Name).WithMetadata("name", role.Name)
		s.emit(ctx, event)
		return nil
	})
	return role, err
}

// DeleteRole removes a role no user holds. Requires role:write.
func (s *Service) DeleteRole(ctx context.Context, actor auth.Principal, roleID int64) error {
	return s.mutate(ctx, "delete_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		if err := s.store.DeleteRole(ctx, roleID); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeRoleDelete, actor)
		event.RoleID = &roleID
		event.Message = "role deleted"
		s.emit(ctx, event)
		return nil
	})
}

// AssignPermissionToRole adds a permission to a role. Requires role:write.
func (s *Service) AssignPermissionToRole(ctx context.Context, actor auth.Principal, roleID, permissionID int64) error {
	return s.mutate(ctx, "assign_permission_to_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		if err := s.store.AssignPermissionToRole(ctx, roleID, permissionID); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeRolePermissionAssign, actor)
		event.RoleID = &roleID
		event.Permission = s.permissionName(ctx, permissionID)
		event.Message = "permission assigned to role"
		s.emit(ctx, event)
		return nil
	})
}

// RemovePermissionFromRole removes a permission from a role. Requires
// role:write.
func (s *Service) RemovePermissionFromRole(ctx context.Context, actor auth.Principal, roleID, permissionID int64) error {
	return s.mutate(ctx, "remove_permission_from_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		if err := s.store.RemovePermissionFromRole(ctx, roleID, permissionID); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeRolePermissionRemove, actor)
		event.RoleID = &roleID
		event.Permission = s.permissionName(ctx, permissionID)
		event.Message = "permission removed from role"
		s.emit(ctx, event)
		return nil
	})
}

// SetUserPermission writes, replaces or clears a per-user override.
// Requires user:write.
func (s *Service) SetUserPermission(ctx context.Context, actor auth.Principal, userID int64, permission string, value OverrideValue) (*UserPermissionOverride, error) {
	var override *UserPermissionOverride
	err := s.mutate(ctx, "set_user_permission", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermUserWrite); err != nil {
			return err
		}
		var err error
		if override, err = s.store.SetUserPermission(ctx, userID, permission, value); err != nil {
			return err
		}

		eventType := audit.EventTypeOverrideClear
		switch value.Override() {
		case OverrideGrant:
			eventType = audit.EventTypePermissionGrant
		case OverrideDeny:
			eventType = audit.EventTypePermissionRevoke
		}
		event := newEvent(ctx, eventType, actor)
		event.TargetUserID = &userID
		event.Permission = permission
		event.Message = "user override " + value.String()
		s.emit(ctx, event)
		return nil
	})
	return override, err
}

// AssignUserRole sets or clears a user's role. Requires role:write.
func (s *Service) AssignUserRole(ctx context.Context, actor auth.Principal, userID int64, roleID *int64) (*User, error) {
	var user *User
	err := s.mutate(ctx, "assign_user_role", actor, func(ctx context.Context) error {
		if err := s.authorize(ctx, actor, PermRoleWrite); err != nil {
			return err
		}
		var err error
		if user, err = s.store.AssignUserRole(ctx, userID, roleID); err != nil {
			return err
		}

		event := newEvent(ctx, audit.EventTypeUserRoleChange, actor)
		event.TargetUserID = &userID
		event.RoleID = roleID
		event.Message = "user role changed"
		if roleID == nil {
			event.Message = "user role cleared"
		}
		s.emit(ctx, event)
		return nil
	})
	return user, err
}

// permissionName resolves a permission id for audit messages
func (s *Service) permissionName(ctx context.Context, id int64) string {
	p, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return ""
	}
	return p.Name
}
