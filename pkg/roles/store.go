package roles

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// Store handles persistence of dynamic roles
type Store struct {
	db *sql.DB
}

// NewStore creates a new dynamic role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectDynamicRole = `SELECT id, role_code, name, description, category, is_active, created_by, created_at, updated_at FROM dynamic_roles`

// Create inserts a dynamic role row. The row is stored inactive.
func (s *Store) Create(ctx context.Context, rec *DynamicRecord) error {
	query := `
		INSERT INTO dynamic_roles (id, role_code, name, description, category, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Code, rec.Name, rec.Description, rec.Category,
		false, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return apperr.FromSQL("create dynamic role", "role", rec.Code, "code", err)
	}
	rec.Active = false
	return nil
}

// Get retrieves a dynamic role by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*DynamicRecord, error) {
	row := s.db.QueryRowContext(ctx, selectDynamicRole+` WHERE id = $1`, id)
	rec, err := scanDynamicRole(row)
	if err != nil {
		return nil, apperr.FromSQL("get dynamic role", "role", id.String(), "id", err)
	}
	return rec, nil
}

// GetByCode retrieves a dynamic role by code
func (s *Store) GetByCode(ctx context.Context, code string) (*DynamicRecord, error) {
	row := s.db.QueryRowContext(ctx, selectDynamicRole+` WHERE role_code = $1`, code)
	rec, err := scanDynamicRole(row)
	if err != nil {
		return nil, apperr.FromSQL("get dynamic role", "role", code, "code", err)
	}
	return rec, nil
}

// List returns dynamic roles, optionally only the active ones.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]*DynamicRecord, error) {
	query := selectDynamicRole
	var args []interface{}
	if activeOnly {
		query += ` WHERE is_active = $1`
		args = append(args, true)
	}
	query += ` ORDER BY role_code`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transport("list dynamic roles", err)
	}
	defer rows.Close()

	records := []*DynamicRecord{}
	for rows.Next() {
		rec, err := scanDynamicRole(rows)
		if err != nil {
			return nil, apperr.Transport("scan dynamic role", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("list dynamic roles", err)
	}
	return records, nil
}

// Update writes the mutable fields of a dynamic role.
func (s *Store) Update(ctx context.Context, rec *DynamicRecord) error {
	query := `
		UPDATE dynamic_roles
		SET name = $1, description = $2, category = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query, rec.Name, rec.Description, rec.Category, rec.UpdatedAt, rec.ID)
	if err != nil {
		return apperr.Transport("update dynamic role", err)
	}
	return requireOne(res, "update dynamic role", rec.ID)
}

// SetActive publishes or deactivates a dynamic role.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dynamic_roles SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, at, id,
	)
	if err != nil {
		return apperr.Transport("set dynamic role state", err)
	}
	return requireOne(res, "set dynamic role state", id)
}

func requireOne(res sql.Result, op string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Transport(op, err)
	}
	if n == 0 {
		return apperr.NotFound("role", id.String())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDynamicRole(row rowScanner) (*DynamicRecord, error) {
	var rec DynamicRecord
	err := row.Scan(
		&rec.ID,
		&rec.Code,
		&rec.Name,
		&rec.Description,
		&rec.Category,
		&rec.Active,
		&rec.CreatedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
