// Package users is the identity directory: each user holds exactly one role.
package users

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// User is a directory entry.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	RoleCode    string    `json:"role_code"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleChecker reports whether a role code exists.
type RoleChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Store handles the users table
type Store struct {
	db    *sql.DB
	roles RoleChecker
	now   func() time.Time
}

// NewStore creates a new user store
func NewStore(db *sql.DB, roles RoleChecker) *Store {
	return &Store{db: db, roles: roles, now: time.Now}
}

const selectUser = `SELECT id, email, display_name, role_code, created_at, updated_at FROM users`

// Create adds a user holding roleCode.
func (s *Store) Create(ctx context.Context, email, displayName, roleCode string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Validation("email", "is required")
	}
	if err := s.requireRole(ctx, roleCode); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		RoleCode:    roleCode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, role_code, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.DisplayName, u.RoleCode, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.FromSQL("create user", "user", email, "email", err)
	}
	return u, nil
}

// Get retrieves a user by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleCode, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, apperr.FromSQL("get user", "user", id.String(), "id", err)
	}
	return &u, nil
}

// RoleOf returns the role code held by a user.
func (s *Store) RoleOf(ctx context.Context, id uuid.UUID) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT role_code FROM users WHERE id = $1`, id).Scan(&code)
	if err != nil {
		return "", apperr.FromSQL("get user role", "user", id.String(), "id", err)
	}
	return code, nil
}

// SetRole assigns a role to a user and returns the previous role code.
func (s *Store) SetRole(ctx context.Context, id uuid.UUID, roleCode string) (string, error) {
	if err := s.requireRole(ctx, roleCode); err != nil {
		return "", err
	}
	previous, err := s.RoleOf(ctx, id)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET role_code = $1, updated_at = $2 WHERE id = $3`,
		roleCode, s.now().UTC(), id,
	)
	if err != nil {
		return "", apperr.Transport("set user role", err)
	}
	return previous, nil
}

// List returns all users ordered by email.
func (s *Store) List(ctx context.Context) ([]User, error) {
	return s.list(ctx, selectUser+` ORDER BY email`)
}

// ListByRole returns the users holding roleCode.
func (s *Store) ListByRole(ctx context.Context, roleCode string) ([]User, error) {
	return s.list(ctx, selectUser+` WHERE role_code = $1 ORDER BY email`, roleCode)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transport("list users", err)
	}
	defer rows.Close()

	list := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleCode, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, apperr.Transport("scan user", err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("list users", err)
	}
	return list, nil
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
