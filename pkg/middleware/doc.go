// Package middleware provides the authentication and rate limiting
// middleware of the API server.
//
// AuthMiddleware resolves "Authorization: Bearer <token>" to an
// auth.Principal and stores it in the request context:
//
//	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokenStore(db), true)
//	handler := authMiddleware.Handler(router)
//	// downstream: principal := middleware.GetPrincipal(r)
//
// With optional set, requests without a header pass through anonymously and
// the authorization guard decides. Invalid or expired tokens are always 401.
//
// RateLimitMiddleware must run after AuthMiddleware. Authenticated callers
// are limited per user, anonymous callers per client IP. Use RateLimiter for
// a single instance or DistributedRateLimiter to share counters in Redis:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg.RateLimit, "")
//	handler = middleware.NewRateLimitMiddleware(limiter, metrics, logger).Handler(handler)
//
// Rejected requests get 429 with Retry-After. When the limiter itself fails
// the request is let through and the error logged.
package middleware
