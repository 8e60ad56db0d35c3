package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/text/language"

	"github.com/platinummonkey/curator/pkg/audit"
	"github.com/platinummonkey/curator/pkg/httputil"
	"github.com/platinummonkey/curator/pkg/middleware"
	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/roles"
)

// Handlers provides HTTP handlers for the admin API
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers the admin API. Everything except /me/permissions
// requires permissions.manage; the audit routes also accept audit.view.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me/permissions", h.GetMyPermissions).Methods(http.MethodGet)

	guard := h.manager.middleware

	admin := router.NewRoute().Subrouter()
	admin.Use(guard.RequirePermission(PermissionManage))

	// Catalog
	admin.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)
	admin.HandleFunc("/permissions/categories", h.ListCategories).Methods(http.MethodGet)

	// Roles
	admin.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	admin.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id}", h.UpdateRole).Methods(http.MethodPut)
	admin.HandleFunc("/roles/{id}/publish", h.PublishRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id}/deactivate", h.DeactivateRole).Methods(http.MethodPost)

	// Grants
	admin.HandleFunc("/roles/{code}/grants", h.GetGrants).Methods(http.MethodGet)
	admin.HandleFunc("/roles/{code}/grants/{permissionID}", h.SetGrant).Methods(http.MethodPut)
	admin.HandleFunc("/roles/{code}/categories/{category}", h.SetCategoryGrants).Methods(http.MethodPut)

	// Overrides
	admin.HandleFunc("/overrides", h.ListOverrides).Methods(http.MethodGet)
	admin.HandleFunc("/overrides", h.GrantOverride).Methods(http.MethodPost)
	admin.HandleFunc("/overrides/{id}", h.RevokeOverride).Methods(http.MethodDelete)

	// Users
	admin.HandleFunc("/users/{id}/permissions", h.GetUserPermissions).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/role", h.SetUserRole).Methods(http.MethodPut)

	if h.manager.auditSearch != nil {
		auditor := router.NewRoute().Subrouter()
		auditor.Use(guard.RequireAnyPermission(AuditView, PermissionManage))
		audit.NewHandlers(h.manager.auditSearch).RegisterRoutes(auditor)
	}
}

// ListPermissions handles GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	category := httputil.ParseQueryString(r, "category", "")
	permissions, err := h.manager.ListPermissions(r.Context(), category)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// ListCategories handles GET /permissions/categories
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.manager.catalog.Categories(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, categories)
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	tag := language.Und
	if locale := r.URL.Query().Get("locale"); locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid locale: "+locale)
			return
		}
		tag = parsed
	}

	list, err := h.manager.ListRoles(r.Context(), tag)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// CreateRole handles POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roles.CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.manager.CreateRole(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// UpdateRole handles PUT /roles/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roles.UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.manager.UpdateRole(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// PublishRole handles POST /roles/{id}/publish
func (h *Handlers) PublishRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.manager.PublishRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeactivateRole handles POST /roles/{id}/deactivate
func (h *Handlers) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.manager.DeactivateRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// GetGrants handles GET /roles/{code}/grants
func (h *Handlers) GetGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.GetGrants(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// SetGrant handles PUT /roles/{code}/grants/{permissionID}
func (h *Handlers) SetGrant(w http.ResponseWriter, r *http.Request) {
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionID")
	if !ok {
		return
	}
	var req SetGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant, err := h.manager.SetGrant(r.Context(), mux.Vars(r)["code"], permissionID, req.Granted)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// SetCategoryGrants handles PUT /roles/{code}/categories/{category}
func (h *Handlers) SetCategoryGrants(w http.ResponseWriter, r *http.Request) {
	var req SetGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	result, err := h.manager.SetCategoryGrants(r.Context(), vars["code"], vars["category"], req.Granted)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ListOverrides handles GET /overrides
func (h *Handlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	var filter overrides.Filter

	userID, err := httputil.ParseQueryUUID(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if userID != nil {
		filter = filter.ForUser(*userID)
	}
	active, err := httputil.ParseQueryBool(r, "active", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if active {
		filter = filter.Active()
	}

	list, err := h.manager.ListOverrides(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, OverrideList{Overrides: list, Count: len(list)})
}

// GrantOverride handles POST /overrides
func (h *Handlers) GrantOverride(w http.ResponseWriter, r *http.Request) {
	var req overrides.GrantInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	o, err := h.manager.GrantOverride(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, o)
}

// RevokeOverride handles DELETE /overrides/{id}
func (h *Handlers) RevokeOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.manager.RevokeOverride(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions handles GET /users/{id}/permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	set, err := h.manager.Resolve(r.Context(), userID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, EffectivePermissions{UserID: userID, Permissions: set})
}

// GetMyPermissions handles GET /me/permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	set, err := h.manager.Resolve(r.Context(), authCtx.UserID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, EffectivePermissions{UserID: authCtx.UserID, Permissions: set})
}

// SetUserRole handles PUT /users/{id}/role
func (h *Handlers) SetUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req SetRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	change, err := h.manager.SetUserRole(r.Context(), userID, req.RoleCode)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, change)
}
