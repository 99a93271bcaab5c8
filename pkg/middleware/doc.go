// Package middleware provides the HTTP middleware permitd puts in front of
// the rbac handlers.
//
// # Principal extraction
//
// permit does not verify credentials. An upstream gateway authenticates the
// caller and forwards its identity in trusted headers, which
// PrincipalMiddleware turns into an auth.Principal:
//
//	pm := middleware.NewPrincipalMiddleware(middleware.PrincipalConfig{
//		UserHeader: "X-Permit-User-ID",
//	})
//	router.Use(pm.Handler)
//
// Requests without a parsable user id get 401.
//
// # Rate limiting
//
// RateLimiter is an in-process token bucket per caller. Buckets live in an
// expirable LRU, so memory stays bounded by MaxClients however many distinct
// callers show up. DistributedRateLimiter counts a fixed window in Redis and
// is shared by every instance.
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	rl := middleware.NewRateLimitMiddleware(limiter, metrics, logger)
//	router.Use(rl.Handler)
//
// Callers are keyed by principal, or by client address when anonymous.
// Rejected requests get 429 with Retry-After and X-RateLimit-* headers.
package middleware
