package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// Store reads the permissions table.
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectPermission = `SELECT id, name, category, description FROM permissions`

// ListAll returns every permission ordered by category then name.
func (s *Store) ListAll(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, selectPermission+` ORDER BY category, name`)
	if err != nil {
		return nil, apperr.Transport("list permissions", err)
	}
	return scanPermissions(rows)
}

// ListByCategory returns the permissions of one category ordered by name.
func (s *Store) ListByCategory(ctx context.Context, category string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, selectPermission+` WHERE category = $1 ORDER BY name`, category)
	if err != nil {
		return nil, apperr.Transport("list permissions by category", err)
	}
	return scanPermissions(rows)
}

// Get returns a permission by id.
func (s *Store) Get(ctx context.Context, id int64) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx, selectPermission+` WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Category, &p.Description)
	if err != nil {
		return nil, apperr.FromSQL("get permission", "permission", strconv.FormatInt(id, 10), "id", err)
	}
	return &p, nil
}

// GetByName returns a permission by its symbolic name.
func (s *Store) GetByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx, selectPermission+` WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Category, &p.Description)
	if err != nil {
		return nil, apperr.FromSQL("get permission", "permission", name, "name", err)
	}
	return &p, nil
}

// Categories returns the distinct categories in use.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM permissions ORDER BY category`)
	if err != nil {
		return nil, apperr.Transport("list permission categories", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, apperr.Transport("scan permission category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("iterate permission categories", err)
	}
	return categories, nil
}

// Seed inserts permissions that do not exist yet. Existing rows are left
// untouched so catalog entries stay immutable once created.
func (s *Store) Seed(ctx context.Context, permissions []Permission) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Transport("begin catalog seed", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range permissions {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (name, category, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, p.Name, p.Category, p.Description)
		if err != nil {
			return 0, apperr.Transport(fmt.Sprintf("seed permission %s", p.Name), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Transport("commit catalog seed", err)
	}
	return inserted, nil
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	defer rows.Close()

	permissions := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description); err != nil {
			return nil, apperr.Transport("scan permission", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("iterate permissions", err)
	}
	return permissions, nil
}
