// Package resolver computes a user's effective permissions: the granted
// permissions of the user's single role, then the user's unexpired overrides
// applied on top, the newest override per permission winning.
//
// Resolution fails closed. An unknown user, an unknown role or a dynamic role
// that is not active resolves to the empty set without an error. Storage
// failures are returned.
package resolver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/curator/pkg/apperr"
	"github.com/platinummonkey/curator/pkg/observability"
	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/roles"
)

// UserDirectory returns the role held by a user.
type UserDirectory interface {
	RoleOf(ctx context.Context, userID uuid.UUID) (string, error)
}

// RoleLookup returns the normalized role for a code.
type RoleLookup interface {
	Lookup(ctx context.Context, code string) (*roles.Role, error)
}

// GrantSource returns the permissions granted to a role.
type GrantSource interface {
	GrantedPermissions(ctx context.Context, roleCode string) ([]string, error)
}

// OverrideSource returns the overrides in effect for a user.
type OverrideSource interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]overrides.Override, error)
}

// Config wires a Resolver. Cache, Logger, Metrics and Clock are optional.
type Config struct {
	Users     UserDirectory
	Roles     RoleLookup
	Grants    GrantSource
	Overrides OverrideSource
	Cache     Cache
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Clock     func() time.Time
}

// Resolver computes effective permission sets.
type Resolver struct {
	users     UserDirectory
	roles     RoleLookup
	grants    GrantSource
	overrides OverrideSource
	cache     Cache
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	group singleflight.Group
	// epoch changes on every invalidation; loads that straddle one are not cached
	epoch uint64
}

// New creates a resolver
func New(cfg Config) *Resolver {
	r := &Resolver{
		users:     cfg.Users,
		roles:     cfg.Roles,
		grants:    cfg.Grants,
		overrides: cfg.Overrides,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Clock,
	}
	if r.logger == nil {
		r.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

type result struct {
	set     PermissionSet
	outcome string
	// until is the earliest expiry among the applied overrides
	until time.Time
}

// Resolve returns the effective permission set of userID.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "resolver.Resolve", attribute.String("user.id", userID.String()))

	if r.cache != nil {
		if e, ok := r.cache.Get(ctx, userID); ok && e.Live(r.now()) {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			observability.EndSpan(span, nil)
			r.metrics.ObserveResolution(observability.OutcomeResolved, "cache", time.Since(start))
			return e.Set, nil
		}
	}

	v, err, _ := r.group.Do(userID.String(), func() (interface{}, error) {
		epoch := atomic.LoadUint64(&r.epoch)
		var (
			ver       Version
			cacheable bool
		)
		if r.cache != nil {
			ver, cacheable = r.cache.Version(ctx, userID)
		}
		res, err := r.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry := Entry{Set: res.set, Version: ver, Until: res.until}
		if cacheable && atomic.LoadUint64(&r.epoch) == epoch && entry.Live(r.now()) {
			r.cache.Set(ctx, userID, entry)
		}
		return res, nil
	})
	if err != nil {
		observability.EndSpan(span, err)
		r.metrics.ObserveResolution(observability.OutcomeError, "database", time.Since(start))
		observability.FromContext(ctx).WithError(err).WithField("subject", userID.String()).Error("Permission resolution failed")
		return PermissionSet{}, err
	}

	res := v.(result)
	span.SetAttributes(
		attribute.String("resolve.outcome", res.outcome),
		attribute.Int("permissions.count", res.set.Len()),
	)
	observability.EndSpan(span, nil)
	r.metrics.ObserveResolution(res.outcome, "database", time.Since(start))
	return res.set, nil
}

func (r *Resolver) load(ctx context.Context, userID uuid.UUID) (result, error) {
	logger := observability.FromContext(ctx).WithField("subject", userID.String())

	code, err := r.users.RoleOf(ctx, userID)
	if apperr.IsNotFound(err) {
		logger.Warn("Unknown user resolves to no permissions")
		return failClosed(), nil
	}
	if err != nil {
		return result{}, err
	}

	role, err := r.roles.Lookup(ctx, code)
	if apperr.IsNotFound(err) {
		logger.WithField("role", code).Warn("Unknown role resolves to no permissions")
		return failClosed(), nil
	}
	if err != nil {
		return result{}, err
	}
	if !role.Resolvable() {
		logger.WithField("role", code).Warn("Inactive role resolves to no permissions")
		return failClosed(), nil
	}

	var (
		granted []string
		active  []overrides.Override
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		granted, err = r.grants.GrantedPermissions(gctx, code)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = r.overrides.ActiveForUser(gctx, userID, r.now())
		return err
	})
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	return result{
		set:     apply(granted, active),
		outcome: observability.OutcomeResolved,
		until:   firstExpiry(active),
	}, nil
}

// firstExpiry returns the earliest expires_at in active, or the zero time.
func firstExpiry(active []overrides.Override) time.Time {
	var first time.Time
	for _, o := range active {
		if o.ExpiresAt != nil && (first.IsZero() || o.ExpiresAt.Before(first)) {
			first = *o.ExpiresAt
		}
	}
	return first
}

// apply seeds a set with the role's grants, then adds or removes each
// override's permission. active must hold at most one override per permission.
func apply(granted []string, active []overrides.Override) PermissionSet {
	set := NewPermissionSet(granted...)
	for _, o := range active {
		if o.Granted {
			set.names[o.PermissionName] = struct{}{}
		} else {
			delete(set.names, o.PermissionName)
		}
	}
	return set
}

func failClosed() result {
	return result{set: NewPermissionSet(), outcome: observability.OutcomeFailClosed}
}

// Has reports whether userID effectively holds permission.
func (r *Resolver) Has(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

// Invalidate drops the cached set of one user.
func (r *Resolver) Invalidate(ctx context.Context, userID uuid.UUID) {
	atomic.AddUint64(&r.epoch, 1)
	r.group.Forget(userID.String())
	if r.cache != nil {
		r.cache.InvalidateUser(ctx, userID)
	}
	r.metrics.CacheInvalidated("user")
}

// InvalidateAll drops every cached set.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	atomic.AddUint64(&r.epoch, 1)
	if r.cache != nil {
		r.cache.InvalidateAll(ctx)
	}
	r.metrics.CacheInvalidated("all")
}
