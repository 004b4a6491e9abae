// Package middleware provides HTTP middleware for principal extraction and rate limiting.
//
// # Principal Extraction
//
// PrincipalMiddleware resolves the Authorization bearer token to a
// principal id through a pluggable Authenticator and stores it in the
// request context. Requests without a resolvable principal proceed
// unauthenticated; the permission oracle refuses them with a stable
// reason code instead of a transport-level rejection.
//
//	auth := middleware.NewStaticTokenAuthenticator(tokens)
//	router.Use(middleware.PrincipalMiddleware(auth))
//	principalID := middleware.GetPrincipalID(r)
//
// # Rate Limiting
//
// In-memory token bucket, per principal or per source IP:
//
//	rl := middleware.NewRateLimitMiddleware()
//	router.Use(rl.Handler)
//
// Redis-backed window counter shared across instances, failing open on
// Redis errors:
//
//	drl := middleware.NewDistributedRateLimitMiddleware(redisClient)
//	router.Use(drl.Handler)
//
// Defaults: anonymous 100 req/min with burst 10, authenticated
// principals 1000 req/min with burst 50.
package middleware
