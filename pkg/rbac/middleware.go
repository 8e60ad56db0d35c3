package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/curator/pkg/audit"
	"github.com/platinummonkey/curator/pkg/httputil"
	"github.com/platinummonkey/curator/pkg/middleware"
	"github.com/platinummonkey/curator/pkg/observability"
)

// PermissionMiddleware provides middleware for permission checking
type PermissionMiddleware struct {
	checker     Checker
	auditLogger audit.Logger
}

// NewPermissionMiddleware creates a new permission middleware. Denials are
// recorded through auditLogger when it is not nil.
func NewPermissionMiddleware(checker Checker, auditLogger audit.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker:     checker,
		auditLogger: auditLogger,
	}
}

// RequirePermission creates middleware that requires a specific permission
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(permission)
}

// RequireAnyPermission creates middleware that requires any of the specified permissions
func (pm *PermissionMiddleware) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			set, err := pm.checker.GetEffectivePermissions(r.Context(), authCtx.UserID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("Permission check failed")
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "permission check failed")
				return
			}

			for _, p := range permissions {
				if set.Has(p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			pm.recordDenial(r, permissions)
			httputil.WriteForbidden(w, "insufficient permissions")
		})
	}
}

func (pm *PermissionMiddleware) recordDenial(r *http.Request, permissions []string) {
	required := strings.Join(permissions, ",")
	observability.FromContext(r.Context()).
		WithField("required", required).
		WithField("path", r.URL.Path).
		Warn("Permission denied")

	if pm.auditLogger == nil {
		return
	}
	event := audit.NewEvent(r.Context(), audit.EventAccessDenied, audit.ResourcePermission, required)
	event.Status = audit.EventStatusDenied
	event.Message = "Permission denied"
	event.Metadata["method"] = r.Method
	event.Metadata["path"] = r.URL.Path
	if err := pm.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to record access denial")
	}
}
