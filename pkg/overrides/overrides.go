// Package overrides stores per-user permission exceptions. An override grants
// or revokes one permission for one user, optionally until an expiry instant.
// Expiry is evaluated when overrides are read; expired rows stay in the table
// until revoked or purged.
package overrides

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// Override is a user_permissions row joined with its permission.
type Override struct {
	ID                    int64      `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	PermissionID          int64      `json:"permission_id"`
	PermissionName        string     `json:"permission_name"`
	PermissionCategory    string     `json:"permission_category"`
	PermissionDescription string     `json:"permission_description"`
	Granted               bool       `json:"granted"`
	GrantedBy             uuid.UUID  `json:"granted_by"`
	Reason                *string    `json:"reason,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Expired reports whether the override no longer applies at now.
func (o Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// GrantInput carries a new override.
type GrantInput struct {
	UserID       uuid.UUID  `json:"user_id"`
	PermissionID int64      `json:"permission_id"`
	Granted      bool       `json:"granted"`
	GrantedBy    uuid.UUID  `json:"-"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Filter selects overrides for ListOverrides. The zero value lists everything.
type Filter struct {
	UserID     *uuid.UUID
	ActiveOnly bool
}

// ForUser returns a copy of f restricted to one user.
func (f Filter) ForUser(id uuid.UUID) Filter {
	f.UserID = &id
	return f
}

// Active returns a copy of f that skips expired overrides.
func (f Filter) Active() Filter {
	f.ActiveOnly = true
	return f
}

// Store handles the user_permissions table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new override store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the time source used to evaluate expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Timestamps are written and compared in UTC, which keeps text-encoded
// timestamps in chronological order.
const selectOverride = `
	SELECT up.id, up.user_id, up.permission_id, p.name, p.category, p.description,
	       up.granted, up.granted_by, up.reason, up.expires_at, up.created_at
	FROM user_permissions up
	JOIN permissions p ON p.id = up.permission_id
`

const newestFirst = ` ORDER BY up.created_at DESC, up.id DESC`

// GrantOverride inserts a new override. Earlier overrides for the same user
// and permission are kept; the newest one takes effect.
func (s *Store) GrantOverride(ctx context.Context, in GrantInput) (*Override, error) {
	now := s.now().UTC()

	if in.UserID == uuid.Nil {
		return nil, apperr.Validation("user_id", "is required")
	}
	if in.GrantedBy == uuid.Nil {
		return nil, apperr.Validation("granted_by", "is required")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, apperr.Validation("expires_at", "must be in the future")
	}

	o := Override{
		UserID:       in.UserID,
		PermissionID: in.PermissionID,
		Granted:      in.Granted,
		GrantedBy:    in.GrantedBy,
		CreatedAt:    now,
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, category, description FROM permissions WHERE id = $1`, in.PermissionID,
	).Scan(&o.PermissionName, &o.PermissionCategory, &o.PermissionDescription)
	if err != nil {
		return nil, apperr.FromSQL("get permission", "permission", strconv.FormatInt(in.PermissionID, 10), "permission_id", err)
	}

	var reason sql.NullString
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason = sql.NullString{String: r, Valid: true}
		o.Reason = &r
	}
	var expiresAt sql.NullTime
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC()
		expiresAt = sql.NullTime{Time: exp, Valid: true}
		o.ExpiresAt = &exp
	}

	query := `
		INSERT INTO user_permissions (user_id, permission_id, granted, granted_by, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		o.UserID, o.PermissionID, o.Granted, o.GrantedBy, reason, expiresAt, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return nil, apperr.Transport("grant override", err)
	}
	return &o, nil
}

// Get retrieves an override by id
func (s *Store) Get(ctx context.Context, id int64) (*Override, error) {
	o, err := scanOverride(s.db.QueryRowContext(ctx, selectOverride+` WHERE up.id = $1`, id))
	if err != nil {
		return nil, apperr.FromSQL("get override", "override", strconv.FormatInt(id, 10), "id", err)
	}
	return o, nil
}

// RevokeOverride deletes an override and returns the deleted row.
func (s *Store) RevokeOverride(ctx context.Context, id int64) (*Override, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE id = $1`, id)
	if err != nil {
		return nil, apperr.Transport("revoke override", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apperr.Transport("revoke override", err)
	}
	if n == 0 {
		return nil, apperr.NotFound("override", strconv.FormatInt(id, 10))
	}
	return o, nil
}

// ListOverrides returns overrides newest first.
func (s *Store) ListOverrides(ctx context.Context, f Filter) ([]Override, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, `up.user_id = $`+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		args = append(args, s.now().UTC())
		where = append(where, `(up.expires_at IS NULL OR up.expires_at > $`+strconv.Itoa(len(args))+`)`)
	}

	query := selectOverride
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	return s.query(ctx, "list overrides", query+newestFirst, args...)
}

// ActiveForUser returns, per permission, the newest override of userID that
// has not expired at now. Ties on created_at go to the highest id.
func (s *Store) ActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]Override, error) {
	list, err := s.query(ctx, "list user overrides",
		selectOverride+` WHERE up.user_id = $1 AND (up.expires_at IS NULL OR up.expires_at > $2)`+newestFirst,
		userID, now.UTC())
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(list))
	effective := []Override{}
	for _, o := range list {
		if seen[o.PermissionID] {
			continue
		}
		seen[o.PermissionID] = true
		effective = append(effective, o)
	}
	return effective, nil
}

// ExpiringWithin returns unexpired overrides whose expiry falls in (now, now+window],
// soonest first.
func (s *Store) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]Override, error) {
	return s.query(ctx, "list expiring overrides",
		selectOverride+` WHERE up.expires_at > $1 AND up.expires_at <= $2 ORDER BY up.expires_at, up.id`,
		now.UTC(), now.Add(window).UTC())
}

// PurgeExpired deletes overrides that expired before cutoff and returns the
// users whose overrides were removed.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM user_permissions WHERE expires_at < $1 RETURNING user_id`, cutoff.UTC())
	if err != nil {
		return nil, apperr.Transport("purge expired overrides", err)
	}
	defer rows.Close()

	users := []uuid.UUID{}
	seen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transport("scan purged override", err)
		}
		if !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("purge expired overrides", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users, nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) ([]Override, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	defer rows.Close()

	list := []Override{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, apperr.Transport("scan override", err)
		}
		list = append(list, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport(op, err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOverride(row rowScanner) (*Override, error) {
	var (
		o         Override
		reason    sql.NullString
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PermissionID,
		&o.PermissionName,
		&o.PermissionCategory,
		&o.PermissionDescription,
		&o.Granted,
		&o.GrantedBy,
		&reason,
		&expiresAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		o.Reason = &reason.String
	}
	if expiresAt.Valid {
		exp := expiresAt.Time
		o.ExpiresAt = &exp
	}
	return &o, nil
}
