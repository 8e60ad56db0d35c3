// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema mirrors the PostgreSQL migrations in pkg/rbac closely enough for
// the stores' queries to run unchanged.
const sqliteSchema = `
	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE dynamic_roles (
		id TEXT PRIMARY KEY,
		role_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE role_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_code TEXT NOT NULL,
		permission_id INTEGER NOT NULL REFERENCES permissions(id),
		granted BOOLEAN NOT NULL DEFAULT 0,
		updated_at TIMESTAMP,
		UNIQUE(role_code, permission_id)
	);

	CREATE TABLE user_permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		permission_id INTEGER NOT NULL REFERENCES permissions(id),
		granted BOOLEAN NOT NULL,
		granted_by TEXT NOT NULL,
		reason TEXT,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		role_code TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		actor_id TEXT,
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		changes TEXT
	);
`

// NewSQLite opens an in-memory SQLite database with the curator schema.
// The database is closed when the test ends.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// every new connection to :memory: is a fresh database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// InsertPermission adds a catalog row and returns its id.
func InsertPermission(t testing.TB, db *sql.DB, name, category string) int64 {
	t.Helper()

	res, err := db.Exec(`INSERT INTO permissions (name, category, description) VALUES (?, ?, ?)`,
		name, category, "test permission "+name)
	if err != nil {
		t.Fatalf("Failed to insert permission %s: %v", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read permission id: %v", err)
	}
	return id
}

// InsertUser adds a user with the given role and returns the new id.
func InsertUser(t testing.TB, db *sql.DB, email, roleCode string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO users (id, email, display_name, role_code, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, email, roleCode, now, now)
	if err != nil {
		t.Fatalf("Failed to insert user %s: %v", email, err)
	}
	return id
}

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
func SkipIfNoDatabase(t testing.TB) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}
	return dbURL
}

// RequirePostgres connects to TEST_POSTGRES_PRIMARY or skips the test.
func RequirePostgres(t testing.TB) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
