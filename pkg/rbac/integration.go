package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/text/language"

	"github.com/platinummonkey/curator/pkg/apperr"
	"github.com/platinummonkey/curator/pkg/audit"
	"github.com/platinummonkey/curator/pkg/catalog"
	"github.com/platinummonkey/curator/pkg/grants"
	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/resolver"
	"github.com/platinummonkey/curator/pkg/roles"
	"github.com/platinummonkey/curator/pkg/users"
)

// Config holds RBAC configuration. Every field is optional.
type Config struct {
	// Cache holds resolved permission sets; nil disables caching
	Cache resolver.Cache

	// Locale is the default locale for role names and sorting
	Locale language.Tag

	// AuditSearch serves GET /audit/events; nil leaves the route out
	AuditSearch audit.Searcher

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Clock is the time source for expiry checks and timestamps
	Clock func() time.Time
}

// Manager wires the permission stores, the resolver and the audit trail.
// Every mutation goes through it so that caches are invalidated and the
// change is audited before the call returns.
type Manager struct {
	db          *sql.DB
	catalog     *catalog.Store
	roles       *roles.Registry
	grants      *grants.Store
	overrides   *overrides.Store
	users       *users.Store
	resolver    *resolver.Resolver
	checker     *PermissionChecker
	middleware  *PermissionMiddleware
	auditLogger audit.Logger
	auditSearch audit.Searcher
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, auditLogger audit.Logger, config Config) *Manager {
	if config.Locale == language.Und {
		config.Locale = language.English
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}

	registry := roles.NewRegistry(db, roles.WithLocale(config.Locale), roles.WithClock(config.Clock))
	grantStore := grants.NewStore(db, registry).WithClock(config.Clock)
	registry.AttachPermissions(grantStore)
	overrideStore := overrides.NewStore(db).WithClock(config.Clock)
	userStore := users.NewStore(db, registry)

	res := resolver.New(resolver.Config{
		Users:     userStore,
		Roles:     registry,
		Grants:    grantStore,
		Overrides: overrideStore,
		Cache:     config.Cache,
		Logger:    config.Logger,
		Metrics:   config.Metrics,
		Clock:     config.Clock,
	})
	checker := NewPermissionChecker(res)

	return &Manager{
		db:          db,
		catalog:     catalog.NewStore(db),
		roles:       registry,
		grants:      grantStore,
		overrides:   overrideStore,
		users:       userStore,
		resolver:    res,
		checker:     checker,
		middleware:  NewPermissionMiddleware(checker, auditLogger),
		auditLogger: auditLogger,
		auditSearch: config.AuditSearch,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         config.Clock,
	}
}

// Initialize runs pending migrations and seeds the permission catalog.
// It only supports PostgreSQL.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := SeedCatalog(ctx, m.catalog, m.logger); err != nil {
		return err
	}
	return nil
}

// RegisterRoutes registers the admin API on router.
func (m *Manager) RegisterRoutes(router *mux.Router) {
	NewHandlers(m).RegisterRoutes(router)
}

// Catalog returns the permission catalog store
func (m *Manager) Catalog() *catalog.Store { return m.catalog }

// Roles returns the role registry
func (m *Manager) Roles() *roles.Registry { return m.roles }

// Grants returns the role-permission grant store
func (m *Manager) Grants() *grants.Store { return m.grants }

// Overrides returns the override store
func (m *Manager) Overrides() *overrides.Store { return m.overrides }

// Users returns the user store
func (m *Manager) Users() *users.Store { return m.users }

// Resolver returns the permission resolver
func (m *Manager) Resolver() *resolver.Resolver { return m.resolver }

// GetChecker returns the permission checker
func (m *Manager) GetChecker() *PermissionChecker { return m.checker }

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware { return m.middleware }

// ListPermissions returns the catalog, or one category of it.
func (m *Manager) ListPermissions(ctx context.Context, category string) ([]catalog.Permission, error) {
	if category == "" {
		return m.catalog.ListAll(ctx)
	}
	return m.catalog.ListByCategory(ctx, category)
}

// ListRoles lists enum and active dynamic roles in tag's collation order.
func (m *Manager) ListRoles(ctx context.Context, tag language.Tag) ([]roles.Role, error) {
	if tag == language.Und {
		return m.roles.ListRoles(ctx)
	}
	return m.roles.ListRolesIn(ctx, tag)
}

// CreateRole creates an inactive dynamic role.
func (m *Manager) CreateRole(ctx context.Context, in roles.CreateRoleInput) (*roles.Role, error) {
	if actor := audit.ActorFromContext(ctx); actor != nil {
		in.CreatedBy = *actor
	}
	role, err := m.roles.CreateDynamicRole(ctx, in)
	if err != nil {
		return nil, err
	}

	m.metrics.Mutation("role", "create")
	m.record(ctx, audit.EventRoleCreate, audit.ResourceRole, role.Code, nil, roleState(role))
	return role, nil
}

// UpdateRole changes a dynamic role's name, description or category.
func (m *Manager) UpdateRole(ctx context.Context, ref string, in roles.UpdateRoleInput) (*roles.Role, error) {
	before, err := m.roles.Lookup(ctx, ref)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	role, err := m.roles.UpdateDynamicRole(ctx, ref, in)
	if err != nil {
		return nil, err
	}

	m.metrics.Mutation("role", "update")
	var prior map[string]interface{}
	if before != nil {
		prior = roleState(before)
	}
	m.record(ctx, audit.EventRoleUpdate, audit.ResourceRole, role.Code, prior, roleState(role))
	return role, nil
}

// PublishRole activates a dynamic role. Users holding it start resolving to
// its grants, so every cached set is dropped.
func (m *Manager) PublishRole(ctx context.Context, ref string) (*roles.Role, error) {
	role, err := m.roles.PublishDynamicRole(ctx, ref)
	if err != nil {
		return nil, err
	}

	m.resolver.InvalidateAll(ctx)
	m.metrics.Mutation("role", "publish")
	m.record(ctx, audit.EventRolePublish, audit.ResourceRole, role.Code,
		map[string]interface{}{"active": false}, map[string]interface{}{"active": true})
	return role, nil
}

// DeactivateRole soft-deletes a dynamic role. Its grant rows are kept.
func (m *Manager) DeactivateRole(ctx context.Context, ref string) (*roles.Role, error) {
	role, err := m.roles.DeactivateDynamicRole(ctx, ref)
	if err != nil {
		return nil, err
	}

	m.resolver.InvalidateAll(ctx)
	m.metrics.Mutation("role", "deactivate")
	m.record(ctx, audit.EventRoleDeactivate, audit.ResourceRole, role.Code,
		map[string]interface{}{"active": true}, map[string]interface{}{"active": false})
	return role, nil
}

// GetGrants returns the catalog annotated with roleCode's flags.
func (m *Manager) GetGrants(ctx context.Context, roleCode string) ([]grants.Grant, error) {
	return m.grants.GetGrants(ctx, roleCode)
}

// SetGrant sets one role/permission flag.
func (m *Manager) SetGrant(ctx context.Context, roleCode string, permissionID int64, granted bool) (*grants.Grant, error) {
	grant, err := m.grants.SetGrant(ctx, roleCode, permissionID, granted)
	if err != nil {
		return nil, err
	}

	m.resolver.InvalidateAll(ctx)
	m.metrics.Mutation("grant", "set")
	m.record(ctx, audit.EventGrantSet, audit.ResourceGrant,
		roleCode+"/"+strconv.FormatInt(permissionID, 10), nil,
		map[string]interface{}{"permission": grant.Name, "granted": granted})
	return grant, nil
}

// SetCategoryGrants sets the flag of every permission in a category.
func (m *Manager) SetCategoryGrants(ctx context.Context, roleCode, category string, granted bool) (*CategoryGrantResult, error) {
	affected, err := m.grants.SetCategoryGrants(ctx, roleCode, category, granted)
	if err != nil {
		return nil, err
	}

	m.resolver.InvalidateAll(ctx)
	m.metrics.Mutation("grant", "category_set")
	m.record(ctx, audit.EventGrantCategorySet, audit.ResourceGrant, roleCode+"/"+category, nil,
		map[string]interface{}{"granted": granted, "affected": affected})
	return &CategoryGrantResult{RoleCode: roleCode, Category: category, Granted: granted, Affected: affected}, nil
}

// ListOverrides lists overrides, newest first.
func (m *Manager) ListOverrides(ctx context.Context, filter overrides.Filter) ([]overrides.Override, error) {
	return m.overrides.ListOverrides(ctx, filter)
}

// GrantOverride records a per-user exception. When GrantedBy is empty the
// authenticated caller is used.
func (m *Manager) GrantOverride(ctx context.Context, in overrides.GrantInput) (*overrides.Override, error) {
	if in.GrantedBy == uuid.Nil {
		if actor := audit.ActorFromContext(ctx); actor != nil {
			in.GrantedBy = *actor
		}
	}
	if in.UserID != uuid.Nil {
		if _, err := m.users.Get(ctx, in.UserID); err != nil {
			return nil, err
		}
	}

	o, err := m.overrides.GrantOverride(ctx, in)
	if err != nil {
		return nil, err
	}

	m.resolver.Invalidate(ctx, o.UserID)
	m.metrics.Mutation("override", "grant")
	after := map[string]interface{}{
		"user_id":    o.UserID.String(),
		"permission": o.PermissionName,
		"granted":    o.Granted,
	}
	if o.ExpiresAt != nil {
		after["expires_at"] = o.ExpiresAt.Format(time.RFC3339)
	}
	if o.Reason != nil {
		after["reason"] = *o.Reason
	}
	m.record(ctx, audit.EventOverrideGrant, audit.ResourceOverride, strconv.FormatInt(o.ID, 10), nil, after)
	return o, nil
}

// RevokeOverride deletes an override.
func (m *Manager) RevokeOverride(ctx context.Context, id int64) (*overrides.Override, error) {
	o, err := m.overrides.RevokeOverride(ctx, id)
	if err != nil {
		return nil, err
	}

	m.resolver.Invalidate(ctx, o.UserID)
	m.metrics.Mutation("override", "revoke")
	m.record(ctx, audit.EventOverrideRevoke, audit.ResourceOverride, strconv.FormatInt(o.ID, 10),
		map[string]interface{}{
			"user_id":    o.UserID.String(),
			"permission": o.PermissionName,
			"granted":    o.Granted,
		}, nil)
	return o, nil
}

// PurgeExpired deletes overrides that expired before cutoff and drops the
// cached sets of the users they belonged to.
func (m *Manager) PurgeExpired(ctx context.Context, cutoff time.Time) (*PurgeResult, error) {
	affected, err := m.overrides.PurgeExpired(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	for _, userID := range affected {
		m.resolver.Invalidate(ctx, userID)
	}
	if len(affected) > 0 {
		m.metrics.Mutation("override", "purge")
		event := audit.NewEvent(ctx, audit.EventOverrideRevoke, audit.ResourceOverride, "expired")
		event.Message = "Purged expired overrides"
		event.Metadata["cutoff"] = cutoff.UTC().Format(time.RFC3339)
		event.Metadata["users"] = len(affected)
		m.log(ctx, event)
	}
	return &PurgeResult{Cutoff: cutoff, Users: affected}, nil
}

// Resolve returns the effective permission set of a user.
func (m *Manager) Resolve(ctx context.Context, userID uuid.UUID) (resolver.PermissionSet, error) {
	return m.resolver.Resolve(ctx, userID)
}

// SetUserRole assigns a role to a user.
func (m *Manager) SetUserRole(ctx context.Context, userID uuid.UUID, roleCode string) (*UserRoleChange, error) {
	previous, err := m.users.SetRole(ctx, userID, roleCode)
	if err != nil {
		return nil, err
	}

	m.resolver.Invalidate(ctx, userID)
	m.metrics.Mutation("user", "set_role")
	m.record(ctx, audit.EventUserRoleChange, audit.ResourceUser, userID.String(),
		map[string]interface{}{"role_code": previous},
		map[string]interface{}{"role_code": roleCode})
	return &UserRoleChange{UserID: userID, Previous: previous, RoleCode: roleCode}, nil
}

func (m *Manager) record(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, before, after map[string]interface{}) {
	event := audit.NewEvent(ctx, eventType, resourceType, resourceID)
	if before != nil || after != nil {
		event.Changes = &audit.ChangeDetails{Before: before, After: after}
	}
	m.log(ctx, event)
}

// log writes an audit event. The mutation has already committed, so a
// failure is logged and not returned.
func (m *Manager) log(ctx context.Context, event *audit.Event) {
	if err := m.auditLogger.Log(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"audit_event": string(event.EventType),
			"request_id":  event.RequestID,
		}).Error("Failed to write audit event")
	}
}

func roleState(r *roles.Role) map[string]interface{} {
	return map[string]interface{}{
		"code":        r.Code,
		"name":        r.Name,
		"description": r.Description,
		"category":    r.Category,
		"active":      r.Active,
	}
}
