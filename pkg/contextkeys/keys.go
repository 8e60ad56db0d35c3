// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here. Request and user
// IDs used for log correlation live in pkg/observability.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: every /api/v1 endpoint, rbac.RequirePermission
	AuthKey Key = "auth_context"

	// AuditActorKey contains the uuid.UUID recorded as actor on audit events
	// Set by: middleware.AuthMiddleware
	// Used by: audit.ActorFromContext
	AuditActorKey Key = "audit_actor"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithAuditActor records the actor of mutations made with ctx
func WithAuditActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, AuditActorKey, actor)
}
