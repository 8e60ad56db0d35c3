package rbac

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/resolver"
)

// Permissions guarding the administrative API.
const (
	PermissionManage = "permissions.manage"
	AuditView        = "audit.view"
)

// PermissionCheck asks whether a user effectively holds a permission
type PermissionCheck struct {
	UserID     uuid.UUID `json:"user_id"`
	Permission string    `json:"permission"`
}

// PermissionCheckResult represents the result of a permission check
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// EffectivePermissions is the resolved set of a user as returned by the API.
type EffectivePermissions struct {
	UserID      uuid.UUID             `json:"user_id"`
	Permissions resolver.PermissionSet `json:"permissions"`
}

// SetGrantRequest flips one role/permission flag.
type SetGrantRequest struct {
	Granted bool `json:"granted"`
}

// CategoryGrantResult reports how many permissions a category update touched.
type CategoryGrantResult struct {
	RoleCode string `json:"role_code"`
	Category string `json:"category"`
	Granted  bool   `json:"granted"`
	Affected int    `json:"affected"`
}

// SetRoleRequest assigns a role to a user.
type SetRoleRequest struct {
	RoleCode string `json:"role_code"`
}

// UserRoleChange reports a role assignment.
type UserRoleChange struct {
	UserID   uuid.UUID `json:"user_id"`
	Previous string    `json:"previous_role_code"`
	RoleCode string    `json:"role_code"`
}

// PurgeResult summarizes a purge of expired overrides.
type PurgeResult struct {
	Cutoff time.Time   `json:"cutoff"`
	Users  []uuid.UUID `json:"users"`
}

// OverrideList is the response body of GET /overrides.
type OverrideList struct {
	Overrides []overrides.Override `json:"overrides"`
	Count     int                  `json:"count"`
}
