package overrides

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/curator/pkg/apperr"
	"github.com/platinummonkey/curator/pkg/testutil"
)

type fixture struct {
	store *Store
	now   time.Time
	edit  int64
	view  int64
	admin uuid.UUID
	user  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLite(t)
	f := &fixture{
		now:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		edit:  testutil.InsertPermission(t, db, "collections.edit", "collections"),
		view:  testutil.InsertPermission(t, db, "collections.view", "collections"),
		admin: uuid.New(),
		user:  uuid.New(),
	}
	f.store = NewStore(db).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) grant(t *testing.T, permissionID int64, granted bool, expiresAt *time.Time) *Override {
	t.Helper()
	o, err := f.store.GrantOverride(context.Background(), GrantInput{
		UserID:       f.user,
		PermissionID: permissionID,
		Granted:      granted,
		GrantedBy:    f.admin,
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)
	return o
}

func ptr(t time.Time) *time.Time { return &t }

func TestGrantOverride_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		input   GrantInput
		field   string
		missing bool
	}{
		{"nil user", GrantInput{PermissionID: f.edit, GrantedBy: f.admin}, "user_id", false},
		{"nil grantor", GrantInput{UserID: f.user, PermissionID: f.edit}, "granted_by", false},
		{"expiry in the past", GrantInput{UserID: f.user, PermissionID: f.edit, GrantedBy: f.admin, ExpiresAt: ptr(f.now.Add(-time.Minute))}, "expires_at", false},
		{"expiry now", GrantInput{UserID: f.user, PermissionID: f.edit, GrantedBy: f.admin, ExpiresAt: ptr(f.now)}, "expires_at", false},
		{"unknown permission", GrantInput{UserID: f.user, PermissionID: 4242, GrantedBy: f.admin}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.GrantOverride(context.Background(), tt.input)
			require.Error(t, err)
			if tt.missing {
				assert.True(t, apperr.IsNotFound(err), "expected not found error, got %v", err)
				return
			}
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGrantOverride_AlwaysInserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.store.GrantOverride(ctx, GrantInput{
		UserID:       f.user,
		PermissionID: f.edit,
		Granted:      false,
		GrantedBy:    f.admin,
		Reason:       "  under investigation ",
		ExpiresAt:    ptr(f.now.Add(24 * time.Hour)),
	})
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	require.NotNil(t, o.Reason)
	assert.Equal(t, "under investigation", *o.Reason)
	assert.Equal(t, "collections.edit", o.PermissionName)

	f.grant(t, f.edit, true, nil)

	list, err := f.store.ListOverrides(ctx, Filter{}.ForUser(f.user))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Granted, "newest override first")
	assert.Equal(t, "collections", list[1].PermissionCategory)
	assert.Equal(t, "test permission collections.edit", list[1].PermissionDescription)
	require.NotNil(t, list[1].ExpiresAt)
	assert.True(t, list[1].ExpiresAt.Equal(f.now.Add(24*time.Hour)))
	assert.Nil(t, list[0].Reason)
}

func TestActiveForUser_NewestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.edit, true, nil)
	f.now = f.now.Add(time.Minute)
	newest := f.grant(t, f.edit, false, nil)

	active, err := f.store.ActiveForUser(ctx, f.user, f.now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, newest.ID, active[0].ID)
	assert.False(t, active[0].Granted)
}

func TestActiveForUser_TieGoesToHighestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.grant(t, f.view, false, nil)
	second := f.grant(t, f.view, true, nil)
	require.Greater(t, second.ID, first.ID)

	active, err := f.store.ActiveForUser(ctx, f.user, f.now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestActiveForUser_ExpiredIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.edit, true, nil)
	f.now = f.now.Add(time.Minute)
	f.grant(t, f.edit, false, ptr(f.now.Add(time.Hour)))

	active, err := f.store.ActiveForUser(ctx, f.user, f.now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].Granted)

	// once the newer override expires the older one applies again
	later := f.now.Add(2 * time.Hour)
	active, err = f.store.ActiveForUser(ctx, f.user, later)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Granted)

	f.now = later
	all, err := f.store.ListOverrides(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	live, err := f.store.ListOverrides(ctx, Filter{}.Active())
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestRevokeOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.grant(t, f.edit, false, nil)

	revoked, err := f.store.RevokeOverride(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, f.user, revoked.UserID)

	_, err = f.store.Get(ctx, o.ID)
	assert.True(t, apperr.IsNotFound(err), "expected not found error, got %v", err)

	_, err = f.store.RevokeOverride(ctx, o.ID)
	assert.True(t, apperr.IsNotFound(err), "expected not found error, got %v", err)
}

func TestListOverrides_FilterByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.edit, true, nil)
	other := uuid.New()
	_, err := f.store.GrantOverride(ctx, GrantInput{UserID: other, PermissionID: f.view, Granted: true, GrantedBy: f.admin})
	require.NoError(t, err)

	mine, err := f.store.ListOverrides(ctx, Filter{}.ForUser(f.user))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.user, mine[0].UserID)

	all, err := f.store.ListOverrides(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExpiringWithin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	later := f.grant(t, f.view, true, ptr(f.now.Add(24*time.Hour+time.Minute)))
	soon := f.grant(t, f.edit, true, ptr(f.now.Add(2*time.Hour)))
	f.grant(t, f.view, true, ptr(f.now.Add(72*time.Hour)))
	f.grant(t, f.view, false, nil)
	f.grant(t, f.edit, false, ptr(f.now.Add(time.Minute)))

	// a minute later the last override has expired and drops out
	expiring, err := f.store.ExpiringWithin(ctx, f.now.Add(time.Minute), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	assert.Equal(t, soon.ID, expiring[0].ID, "soonest first")
	assert.Equal(t, later.ID, expiring[1].ID, "window end is inclusive")
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.grant(t, f.edit, true, ptr(f.now.Add(time.Hour)))
	f.grant(t, f.view, false, ptr(f.now.Add(2*time.Hour)))
	keep := f.grant(t, f.view, true, ptr(f.now.Add(48*time.Hour)))
	permanent := f.grant(t, f.view, false, nil)

	other := f.user
	f.user = uuid.New()
	f.grant(t, f.edit, true, ptr(f.now.Add(time.Hour)))

	users, err := f.store.PurgeExpired(ctx, f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{other, f.user}, users)

	all, err := f.store.ListOverrides(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []int64{keep.ID, permanent.ID}, []int64{all[0].ID, all[1].ID})

	users, err = f.store.PurgeExpired(ctx, f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPurgeExpired_SingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 5, 4, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	user := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM user_permissions WHERE expires_at < $1 RETURNING user_id`)).
		WithArgs(cutoff.UTC()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(user.String()).AddRow(user.String()))

	users, err := NewStore(db).PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{user}, users)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery("DELETE FROM user_permissions").WillReturnError(errors.New("connection refused"))
	_, err = NewStore(db).PurgeExpired(context.Background(), cutoff)
	assert.True(t, apperr.IsTransport(err), "expected transport error, got %v", err)
}

func TestListOverrides_TransportError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT up.id").WillReturnError(errors.New("connection refused"))

	_, err = NewStore(db).ListOverrides(context.Background(), Filter{})
	assert.True(t, apperr.IsTransport(err), "expected transport error, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
