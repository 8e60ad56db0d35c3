//go:build integration

package rbac

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/curator/pkg/audit"
	"github.com/platinummonkey/curator/pkg/testutil"
)

// TestPostgres_MigrateAndServe runs the migrations against TEST_POSTGRES_PRIMARY
// and drives the admin API over the real schema.
func TestPostgres_MigrateAndServe(t *testing.T) {
	db := testutil.RequirePostgres(t)
	ctx := context.Background()

	dbLogger, err := audit.NewDBLogger(db)
	require.NoError(t, err)
	manager := NewManager(db, dbLogger, Config{AuditSearch: dbLogger, Logger: quietLogger()})

	require.NoError(t, manager.Initialize(ctx))
	require.NoError(t, manager.Initialize(ctx), "migrations are idempotent")

	manage, err := manager.Catalog().GetByName(ctx, PermissionManage)
	require.NoError(t, err)
	_, err = manager.Grants().SetGrant(ctx, "admin", manage.ID, true)
	require.NoError(t, err)

	admin, err := manager.Users().Create(ctx, uuid.NewString()+"@example.org", "Admin", "admin")
	require.NoError(t, err)
	reader, err := manager.Users().Create(ctx, uuid.NewString()+"@example.org", "Reader", "public_user")
	require.NoError(t, err)

	env := &testEnv{manager: manager}
	router := newTestRouter(env)

	view, err := manager.Catalog().GetByName(ctx, "collections.view")
	require.NoError(t, err)

	w := do(t, router, http.MethodPut, fmt.Sprintf("/roles/public_user/grants/%d", view.ID), admin.ID, SetGrantRequest{Granted: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, "/overrides", admin.ID, map[string]interface{}{
		"user_id":       reader.ID,
		"permission_id": view.ID,
		"granted":       false,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/me/permissions", reader.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "collections.view")

	w = do(t, router, http.MethodGet, "/audit/events?event_type=grant.set,override.grant&actor_id="+admin.ID.String(), admin.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "override.grant")
}
