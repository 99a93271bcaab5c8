// Package rbac is permit's authorization engine: a permission catalog, roles
// that group permissions, users that hold at most one role, and per-user
// overrides that grant or deny a single permission.
//
// # Resolution
//
// A decision for (user, permission) reads three inputs from storage on every
// call: the user's override for the permission, the user's stored role, and
// whether that role holds the permission. An override dominates in both
// directions:
//
//	override grant  -> allowed
//	override deny   -> denied
//	no override     -> allowed iff the role holds the permission
//
// Unknown users and unknown permissions are denied. The resolver never
// returns an error; storage failures are logged, counted and denied.
//
//	resolver := rbac.NewResolver(store, logger, rbac.WithResolverMetrics(metrics))
//	if resolver.ResolveDecision(ctx, userID, "document:read") {
//		...
//	}
//
// # Administration
//
// A principal is an administrator when it resolves role:write
// (AdminCapability). IsAdminOrHasPermission is ResolveDecision: ADMIN holds
// every permission, and a deny override on one of them stops an
// administrator too. With WithStrictAdminBypass a user whose stored role is
// ADMIN, or who holds the capability, is allowed through deny overrides.
//
// # Bootstrap
//
// Bootstrapper creates the system roles (USER, ADMIN, MANAGER, EMPLOYEE) and
// the built-in permissions, links every permission to ADMIN and every :read
// permission to MANAGER, and applies an optional catalog of extra roles and
// permissions. It only ever adds rows, so it is safe to run on every start
// and from several processes at once.
//
//	b := rbac.NewBootstrapper(store, logger, rbac.WithMigrations(true))
//	if err := b.Init(ctx); err != nil {
//		return err
//	}
//
// # Service and HTTP
//
// Service wraps the store with caller authorization and audit events.
// Handlers exposes it under /rbac, and PermissionMiddleware guards any other
// route with a required permission.
package rbac
