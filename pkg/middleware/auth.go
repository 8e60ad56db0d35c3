package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/curator/pkg/auth"
	"github.com/platinummonkey/curator/pkg/contextkeys"
	"github.com/platinummonkey/curator/pkg/httputil"
	"github.com/platinummonkey/curator/pkg/observability"
)

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier auth.Verifier
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier auth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Handler rejects requests without a verifiable identity and stores the
// caller in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := m.verifier.Verify(r)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("Authentication failed")
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithAuditActor(ctx, authCtx.UserID)
		ctx = observability.WithUserID(ctx, authCtx.UserID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext returns the caller stored by AuthMiddleware, or nil.
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}
