// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Errors from the core packages are written with WriteAppError, which maps
// apperr kinds to status codes:
//
//	set, err := resolver.Resolve(ctx, userID)
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, set)
//
// Path and query parsing:
//
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	active, err := httputil.ParseQueryBool(r, "active", false)
//
// Middleware, outermost first:
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)
//	api.Use(httputil.RequireJSON)
//
// Request bodies are capped at MaxJSONBody by ParseJSON.
package httputil
