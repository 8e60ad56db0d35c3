package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBLogger implements audit logging to the audit_logs table. The table is
// created by the migrations in pkg/rbac.
type DBLogger struct {
	db     *sql.DB
	reader func() *sql.DB
}

// DBLoggerOption configures a DBLogger.
type DBLoggerOption func(*DBLogger)

// WithReader sends searches to the database reader returns, called once per
// search. Writes always use the primary.
func WithReader(reader func() *sql.DB) DBLoggerOption {
	return func(l *DBLogger) { l.reader = reader }
}

// NewDBLogger creates an audit logger writing to db.
func NewDBLogger(db *sql.DB, opts ...DBLoggerOption) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	l := &DBLogger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *DBLogger) readDB() *sql.DB {
	if l.reader != nil {
		if db := l.reader(); db != nil {
			return db
		}
	}
	return l.db
}

func jsonColumn(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		metadata = event.Metadata
	}
	metadataJSON, err := jsonColumn(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var changes interface{}
	if event.Changes != nil {
		changes = event.Changes
	}
	changesJSON, err := jsonColumn(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status, actor_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status), event.ActorID,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, event.ErrorMessage, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns matching events, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, status, actor_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1
	add := func(clause string, arg interface{}) {
		query += fmt.Sprintf(clause, argCount)
		args = append(args, arg)
		argCount++
	}

	if filter.StartTime != nil {
		add(" AND timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add(" AND timestamp <= $%d", *filter.EndTime)
	}
	if filter.ActorID != nil {
		add(" AND actor_id = $%d", *filter.ActorID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		add(" AND event_type = ANY($%d)", pq.Array(types))
	}
	if filter.ResourceType != "" {
		add(" AND resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add(" AND resource_id = $%d", filter.ResourceID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	query += " ORDER BY timestamp DESC, id DESC"
	add(" LIMIT $%d", limit)
	if filter.Offset > 0 {
		add(" OFFSET $%d", filter.Offset)
	}

	rows, err := l.readDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var (
			actor                     uuid.NullUUID
			metadataJSON, changesJSON sql.NullString
		)
		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status, &actor,
			&event.ResourceType, &event.ResourceID, &event.RequestID,
			&event.Message, &event.ErrorMessage, &metadataJSON, &changesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if actor.Valid {
			event.ActorID = &actor.UUID
		}
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if changesJSON.Valid {
			event.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changesJSON.String), event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Close is a no-op; the database connection is shared.
func (l *DBLogger) Close() error {
	return nil
}
