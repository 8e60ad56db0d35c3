// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// AuthMiddleware identifies the caller through an auth.Verifier and stores
// the result in the request context:
//
//	api.Use(middleware.NewAuthMiddleware(verifier).Handler)
//	authCtx := middleware.GetAuthContext(r)
//
// RateLimitMiddleware limits mutating requests per caller. The limiter is
// Redis-backed when Redis is configured so that limits hold across
// instances, and per-process otherwise:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "curator:ratelimit")
//	api.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
package middleware
