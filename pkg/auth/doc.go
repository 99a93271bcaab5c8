// Package auth defines the verified principal that permit consumes.
//
// Credential verification is not done here. An upstream gateway or session
// layer authenticates the caller and hands permit a Principal; the rbac engine
// trusts it and only makes authorization decisions for it.
//
//	p := auth.Principal{UserID: 42, RoleName: "MANAGER"}
//	ctx = auth.WithPrincipal(ctx, &p)
//
//	if p, ok := auth.FromContext(ctx); ok {
//		allowed := resolver.IsAdminOrHasPermission(ctx, p, "document:read")
//	}
package auth
