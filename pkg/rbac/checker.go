package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/resolver"
)

// Checker answers permission questions about a user.
type Checker interface {
	// CheckPermission checks if a user has a specific permission
	CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error)

	// GetEffectivePermissions returns the resolved permission set of a user
	GetEffectivePermissions(ctx context.Context, userID uuid.UUID) (resolver.PermissionSet, error)
}

// Resolver is the part of resolver.Resolver the checker depends on.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (resolver.PermissionSet, error)
}

// PermissionChecker implements Checker over the resolver, so admin access is
// decided by the same layered model it administers.
type PermissionChecker struct {
	resolver Resolver
	now      func() time.Time
}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(r Resolver) *PermissionChecker {
	return &PermissionChecker{resolver: r, now: time.Now}
}

// CheckPermission checks if a user has a specific permission
func (pc *PermissionChecker) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	set, err := pc.resolver.Resolve(ctx, check.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	result := &PermissionCheckResult{
		Allowed:   set.Has(check.Permission),
		CheckedAt: pc.now(),
	}
	if result.Allowed {
		result.Reason = "granted"
	} else {
		result.Reason = fmt.Sprintf("missing permission %s", check.Permission)
	}
	return result, nil
}

// GetEffectivePermissions returns the resolved permission set of a user
func (pc *PermissionChecker) GetEffectivePermissions(ctx context.Context, userID uuid.UUID) (resolver.PermissionSet, error) {
	return pc.resolver.Resolve(ctx, userID)
}
