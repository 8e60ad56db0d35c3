// Package rbac wires curator's permission model into a running service.
//
// # Overview
//
// A user's effective permissions come from three layers:
//
//  1. the single role the user holds, enum or dynamic (pkg/roles)
//  2. the permissions granted to that role (pkg/grants)
//  3. the user's unexpired overrides, newest first (pkg/overrides)
//
// pkg/resolver combines them. This package holds the Manager that owns those
// stores, the admin HTTP API built on top of it, the middleware guarding
// that API and the PostgreSQL migrations.
//
// # Manager
//
// Every mutation goes through the Manager. After the store call succeeds it
// drops the affected cached permission sets, counts the mutation and writes
// an audit event:
//
//	manager := rbac.NewManager(db, auditLogger, rbac.Config{Cache: cache})
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//
//	// grant changes affect every holder of the role
//	manager.SetGrant(ctx, "librarian", permID, true)
//
//	// override changes affect one user
//	manager.GrantOverride(ctx, overrides.GrantInput{
//		UserID:       userID,
//		PermissionID: permID,
//		Granted:      false,
//		Reason:       "on leave",
//	})
//
// # Access control
//
// The admin API is itself guarded by the model it administers: callers need
// permissions.manage, resolved like any other permission.
//
//	router.Use(authMiddleware.Handler)
//	manager.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())
//
// Denied requests get 403 and an authz.access_denied audit event.
//
// # Migrations
//
// RunMigrations applies the numbered migrations in GetMigrations, each in its
// own transaction, and records them in curator_migrations. SeedCatalog
// inserts the embedded permission catalog; existing entries are never
// changed.
package rbac
