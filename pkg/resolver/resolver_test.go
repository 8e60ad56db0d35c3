package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/curator/pkg/apperr"
	"github.com/platinummonkey/curator/pkg/grants"
	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/roles"
	"github.com/platinummonkey/curator/pkg/storage/postgres"
	"github.com/platinummonkey/curator/pkg/testutil"
	"github.com/platinummonkey/curator/pkg/users"
)

type fixture struct {
	resolver  *Resolver
	registry  *roles.Registry
	grants    *grants.Store
	overrides *overrides.Store
	users     *users.Store
	perms     map[string]int64
	now       time.Time
	admin     uuid.UUID
}

func newFixture(t *testing.T, cache Cache) *fixture {
	t.Helper()
	db := testutil.NewSQLite(t)

	f := &fixture{
		now:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		admin: uuid.New(),
		perms: map[string]int64{},
	}
	clock := func() time.Time { return f.now }

	for _, p := range []struct{ name, category string }{
		{"collections.view", "collections"},
		{"collections.edit", "collections"},
		{"manuscripts.view", "manuscripts"},
		{"payments.refund", "payments"},
	} {
		f.perms[p.name] = testutil.InsertPermission(t, db, p.name, p.category)
	}

	f.registry = roles.NewRegistry(db, roles.WithClock(clock))
	f.grants = grants.NewStore(db, f.registry)
	f.overrides = overrides.NewStore(db).WithClock(clock)
	f.users = users.NewStore(db, f.registry)
	f.resolver = New(Config{
		Users:     f.users,
		Roles:     f.registry,
		Grants:    f.grants,
		Overrides: f.overrides,
		Cache:     cache,
		Clock:     clock,
	})
	return f
}

func (f *fixture) grant(t *testing.T, role, perm string, granted bool) {
	t.Helper()
	_, err := f.grants.SetGrant(context.Background(), role, f.perms[perm], granted)
	require.NoError(t, err)
}

func (f *fixture) user(t *testing.T, role string) uuid.UUID {
	t.Helper()
	u, err := f.users.Create(context.Background(), uuid.NewString()+"@example.org", "", role)
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) override(t *testing.T, userID uuid.UUID, perm string, granted bool, expiresAt *time.Time) *overrides.Override {
	t.Helper()
	o, err := f.overrides.GrantOverride(context.Background(), overrides.GrantInput{
		UserID:       userID,
		PermissionID: f.perms[perm],
		Granted:      granted,
		GrantedBy:    f.admin,
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) resolve(t *testing.T, userID uuid.UUID) []string {
	t.Helper()
	set, err := f.resolver.Resolve(context.Background(), userID)
	require.NoError(t, err)
	return set.Names()
}

func TestResolve_WithoutOverridesEqualsRoleGrants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.grant(t, roles.RoleLibrarian, "collections.view", true)
	f.grant(t, roles.RoleLibrarian, "collections.edit", true)
	f.grant(t, roles.RoleLibrarian, "payments.refund", false)
	f.grant(t, roles.RoleVisitor, "collections.view", true)

	for _, role := range roles.EnumCodes() {
		t.Run(role, func(t *testing.T) {
			userID := f.user(t, role)

			expected, err := f.grants.GrantedPermissions(ctx, role)
			require.NoError(t, err)
			assert.Equal(t, expected, f.resolve(t, userID))
		})
	}
}

func TestResolve_FalseOverrideRemoves(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, roles.RoleLibrarian, "collections.edit", true)
	f.grant(t, roles.RoleLibrarian, "collections.view", true)
	userID := f.user(t, roles.RoleLibrarian)

	f.override(t, userID, "collections.edit", false, nil)

	assert.Equal(t, []string{"collections.view"}, f.resolve(t, userID))
}

func TestResolve_TrueOverrideAdds(t *testing.T) {
	f := newFixture(t, nil)
	f.grant(t, roles.RoleVisitor, "collections.view", true)
	userID := f.user(t, roles.RoleVisitor)

	expires := f.now.Add(48 * time.Hour)
	f.override(t, userID, "manuscripts.view", true, &expires)

	assert.Equal(t, []string{"collections.view", "manuscripts.view"}, f.resolve(t, userID))
}

func TestResolve_ExpiredOverrideHasNoEffect(t *testing.T) {
	redisCache := func(t *testing.T) *RedisCache {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewRedisCache(postgres.NewRedisClientFrom(client), 5*time.Minute, nil, nil)
	}

	tests := []struct {
		name  string
		cache func(t *testing.T, f *fixture) Cache
	}{
		{"no cache", func(*testing.T, *fixture) Cache { return nil }},
		{"lru", func(*testing.T, *fixture) Cache { return NewLRUCache(100, 30*time.Second, nil) }},
		{"redis", func(t *testing.T, f *fixture) Cache {
			c := redisCache(t)
			c.now = func() time.Time { return f.now }
			return c
		}},
		{"tiered", func(t *testing.T, f *fixture) Cache {
			c := redisCache(t)
			c.now = func() time.Time { return f.now }
			return NewTieredCache(NewLRUCache(100, time.Hour, nil), c)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.resolver.cache = tt.cache(t, f)
			f.grant(t, roles.RoleResearcher, "manuscripts.view", true)
			userID := f.user(t, roles.RoleResearcher)

			expires := f.now.Add(time.Minute)
			f.override(t, userID, "manuscripts.view", false, &expires)
			f.override(t, userID, "payments.refund", true, &expires)
			assert.Equal(t, []string{"payments.refund"}, f.resolve(t, userID))
			assert.Equal(t, []string{"payments.refund"}, f.resolve(t, userID))

			// no mutation happens; the overrides simply run out
			f.now = expires
			assert.Equal(t, []string{"manuscripts.view"}, f.resolve(t, userID))

			f.now = expires.Add(2 * time.Minute)
			assert.Equal(t, []string{"manuscripts.view"}, f.resolve(t, userID))
		})
	}
}

func TestResolve_NewestOverrideWins(t *testing.T) {
	f := newFixture(t, nil)
	userID := f.user(t, roles.RoleVisitor)

	f.override(t, userID, "collections.edit", true, nil)
	f.now = f.now.Add(time.Minute)
	f.override(t, userID, "collections.edit", false, nil)
	assert.Empty(t, f.resolve(t, userID))

	f.now = f.now.Add(time.Minute)
	f.override(t, userID, "collections.edit", true, nil)
	assert.Equal(t, []string{"collections.edit"}, f.resolve(t, userID))
}

func TestResolve_LibrarianOverrideScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.grant(t, roles.RoleLibrarian, "collections.edit", true)
	x := f.user(t, roles.RoleLibrarian)

	has, err := f.resolver.Has(ctx, x, "collections.edit")
	require.NoError(t, err)
	assert.True(t, has)

	o := f.override(t, x, "collections.edit", false, nil)
	has, err = f.resolver.Has(ctx, x, "collections.edit")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = f.overrides.RevokeOverride(ctx, o.ID)
	require.NoError(t, err)
	has, err = f.resolver.Has(ctx, x, "collections.edit")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestResolve_DynamicRoleWithoutGrantsIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	role, err := f.registry.CreateDynamicRole(ctx, roles.CreateRoleInput{Name: "Content manager", Code: "content_manager"})
	require.NoError(t, err)
	_, err = f.registry.PublishDynamicRole(ctx, role.ID.String())
	require.NoError(t, err)

	userID := f.user(t, "content_manager")
	assert.Empty(t, f.resolve(t, userID))
}

func TestResolve_FailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		assert.Empty(t, f.resolve(t, uuid.New()))
	})

	t.Run("inactive dynamic role", func(t *testing.T) {
		role, err := f.registry.CreateDynamicRole(ctx, roles.CreateRoleInput{Name: "Intern", Code: "intern"})
		require.NoError(t, err)
		f.grant(t, "intern", "collections.view", true)
		userID := f.user(t, "intern")
		f.override(t, userID, "manuscripts.view", true, nil)

		assert.Empty(t, f.resolve(t, userID))

		_, err = f.registry.PublishDynamicRole(ctx, role.ID.String())
		require.NoError(t, err)
		assert.Equal(t, []string{"collections.view", "manuscripts.view"}, f.resolve(t, userID))

		_, err = f.registry.DeactivateDynamicRole(ctx, "intern")
		require.NoError(t, err)
		assert.Empty(t, f.resolve(t, userID))
	})

	t.Run("unknown role code", func(t *testing.T) {
		r := New(Config{
			Users:     staticUsers{code: "ghost"},
			Roles:     f.registry,
			Grants:    f.grants,
			Overrides: f.overrides,
		})
		set, err := r.Resolve(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})
}

type staticUsers struct {
	code string
	err  error
}

func (s staticUsers) RoleOf(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.code, s.err
}

func TestResolve_TransportErrorsAreReturned(t *testing.T) {
	f := newFixture(t, nil)
	r := New(Config{
		Users:     staticUsers{err: apperr.Transport("get user role", errors.New("connection refused"))},
		Roles:     f.registry,
		Grants:    f.grants,
		Overrides: f.overrides,
	})

	_, err := r.Resolve(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
}

func TestResolve_CacheAndInvalidate(t *testing.T) {
	cache := NewLRUCache(100, time.Minute, nil)
	f := newFixture(t, cache)
	ctx := context.Background()

	f.grant(t, roles.RoleLibrarian, "collections.view", true)
	userID := f.user(t, roles.RoleLibrarian)
	assert.Equal(t, []string{"collections.view"}, f.resolve(t, userID))
	assert.Equal(t, 1, cache.Len())

	f.grant(t, roles.RoleLibrarian, "collections.edit", true)
	assert.Equal(t, []string{"collections.view"}, f.resolve(t, userID), "served from cache until invalidated")

	f.resolver.InvalidateAll(ctx)
	assert.Equal(t, []string{"collections.edit", "collections.view"}, f.resolve(t, userID))

	f.override(t, userID, "collections.view", false, nil)
	f.resolver.Invalidate(ctx, userID)
	assert.Equal(t, []string{"collections.edit"}, f.resolve(t, userID))
}

func TestResolve_Concurrent(t *testing.T) {
	f := newFixture(t, NewLRUCache(100, time.Minute, nil))
	f.grant(t, roles.RoleArchivist, "manuscripts.view", true)
	userID := f.user(t, roles.RoleArchivist)

	var wg sync.WaitGroup
	results := make([][]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := f.resolver.Resolve(context.Background(), userID)
			if err == nil {
				results[i] = set.Names()
			}
		}(i)
	}
	wg.Wait()

	for _, names := range results {
		assert.Equal(t, []string{"manuscripts.view"}, names)
	}
}

func TestResolve_InvalidationAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newCache := func() Cache {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		l2 := NewRedisCache(postgres.NewRedisClientFrom(client), 5*time.Minute, nil, nil)
		return NewTieredCache(NewLRUCache(100, 30*time.Second, nil), l2)
	}

	f := newFixture(t, newCache())
	other := New(Config{
		Users:     f.users,
		Roles:     f.registry,
		Grants:    f.grants,
		Overrides: f.overrides,
		Cache:     newCache(),
	})
	ctx := context.Background()

	f.grant(t, roles.RoleLibrarian, "collections.edit", true)
	userID := f.user(t, roles.RoleLibrarian)

	has := func(r *Resolver) bool {
		ok, err := r.Has(ctx, userID, "collections.edit")
		require.NoError(t, err)
		return ok
	}
	require.True(t, has(f.resolver))
	require.True(t, has(other), "both instances now hold a cached set")

	o := f.override(t, userID, "collections.edit", false, nil)
	f.resolver.Invalidate(ctx, userID)
	assert.False(t, has(other))

	_, err := f.overrides.RevokeOverride(ctx, o.ID)
	require.NoError(t, err)
	other.Invalidate(ctx, userID)
	assert.True(t, has(f.resolver))

	f.grant(t, roles.RoleLibrarian, "collections.edit", false)
	other.InvalidateAll(ctx)
	assert.False(t, has(f.resolver))
}
