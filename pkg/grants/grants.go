// Package grants stores the boolean flag attached to each (role, permission)
// pair. A pair without a row is not granted; rows are only ever flipped,
// never deleted, so a deactivated role keeps its grants.
package grants

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// Grant is a catalog entry annotated with a role's flag for it.
type Grant struct {
	PermissionID int64  `json:"permission_id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Granted      bool   `json:"granted"`
}

// RoleChecker reports whether a role code exists, enum or dynamic, active or not.
type RoleChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Store handles the role_permissions table
type Store struct {
	db    *sql.DB
	roles RoleChecker
	now   func() time.Time
}

// NewStore creates a new grant store
func NewStore(db *sql.DB, roles RoleChecker) *Store {
	return &Store{db: db, roles: roles, now: time.Now}
}

// WithClock overrides the time source used for updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// GetGrants returns the whole catalog with the role's flag on each entry.
func (s *Store) GetGrants(ctx context.Context, roleCode string) ([]Grant, error) {
	query := `
		SELECT p.id, p.name, p.category, p.description, COALESCE(rp.granted, FALSE)
		FROM permissions p
		LEFT JOIN role_permissions rp ON rp.permission_id = p.id AND rp.role_code = $1
		ORDER BY p.category, p.name
	`
	rows, err := s.db.QueryContext(ctx, query, roleCode)
	if err != nil {
		return nil, apperr.Transport("get grants", err)
	}
	defer rows.Close()

	grants := []Grant{}
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.PermissionID, &g.Name, &g.Category, &g.Description, &g.Granted); err != nil {
			return nil, apperr.Transport("scan grant", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("get grants", err)
	}
	return grants, nil
}

const upsertGrant = `
	INSERT INTO role_permissions (role_code, permission_id, granted, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (role_code, permission_id) DO UPDATE
	SET granted = excluded.granted, updated_at = excluded.updated_at
`

// SetGrant sets the flag for one (role, permission) pair. Setting the same
// value twice leaves a single row.
func (s *Store) SetGrant(ctx context.Context, roleCode string, permissionID int64, granted bool) (*Grant, error) {
	if err := s.requireRole(ctx, roleCode); err != nil {
		return nil, err
	}

	g := Grant{PermissionID: permissionID, Granted: granted}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, category, description FROM permissions WHERE id = $1`, permissionID,
	).Scan(&g.Name, &g.Category, &g.Description)
	if err != nil {
		return nil, apperr.FromSQL("get permission", "permission", strconv.FormatInt(permissionID, 10), "permission_id", err)
	}

	if _, err := s.db.ExecContext(ctx, upsertGrant, roleCode, permissionID, granted, s.now().UTC()); err != nil {
		return nil, apperr.Transport("set grant", err)
	}
	return &g, nil
}

// SetCategoryGrants sets the flag for every permission of category in a single
// transaction and returns how many permissions were written.
func (s *Store) SetCategoryGrants(ctx context.Context, roleCode, category string, granted bool) (int, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return 0, apperr.Validation("category", "is required")
	}
	if err := s.requireRole(ctx, roleCode); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Transport("start transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM permissions WHERE category = $1 ORDER BY id`, category)
	if err != nil {
		return 0, apperr.Transport("list category permissions", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperr.Transport("scan permission id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Transport("list category permissions", err)
	}
	if len(ids) == 0 {
		return 0, apperr.NotFound("permission category", category)
	}

	now := s.now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, upsertGrant, roleCode, id, granted, now); err != nil {
			return 0, apperr.Transport("set category grant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Transport("commit category grants", err)
	}
	return len(ids), nil
}

// GrantedPermissions returns the names of the permissions granted to a role.
func (s *Store) GrantedPermissions(ctx context.Context, roleCode string) ([]string, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_code = $1 AND rp.granted = $2
		ORDER BY p.name
	`
	rows, err := s.db.QueryContext(ctx, query, roleCode, true)
	if err != nil {
		return nil, apperr.Transport("list granted permissions", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Transport("scan granted permission", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("list granted permissions", err)
	}
	return names, nil
}

// GrantedByRole returns granted permission names keyed by role code.
func (s *Store) GrantedByRole(ctx context.Context) (map[string][]string, error) {
	query := `
		SELECT rp.role_code, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.granted = $1
		ORDER BY rp.role_code, p.name
	`
	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, apperr.Transport("list grants by role", err)
	}
	defer rows.Close()

	byRole := make(map[string][]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, apperr.Transport("scan grant", err)
		}
		byRole[code] = append(byRole[code], name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("list grants by role", err)
	}
	return byRole, nil
}

func (s *Store) requireRole(ctx context.Context, roleCode string) error {
	ok, err := s.roles.Exists(ctx, roleCode)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("role", roleCode)
	}
	return nil
}
