package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/permit/pkg/storage"
)

const eventColumns = "id, occurred_at, event_type, status, actor_id, target_user_id, role_id, permission, request_id, message, metadata"

// DBLogger implements audit logging to the authz_audit_log table
type DBLogger struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db:      db,
		dialect: dialect,
	}

	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_audit_log table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the authz_audit_log table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	timestamp := "TIMESTAMPTZ"
	if l.dialect == storage.DialectSQLite {
		timestamp = "TIMESTAMP"
	}

	query := `
	CREATE TABLE IF NOT EXISTS authz_audit_log (
		id VARCHAR(36) PRIMARY KEY,
		occurred_at ` + timestamp + ` NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id BIGINT,
		target_user_id BIGINT,
		role_id BIGINT,
		permission VARCHAR(255),
		request_id VARCHAR(100),
		message TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_occurred_at ON authz_audit_log(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_event_type ON authz_audit_log(event_type);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_actor_id ON authz_audit_log(actor_id);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_target_user_id ON authz_audit_log(target_user_id);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" || event.Timestamp.IsZero() {
		fresh := NewEvent(ctx, event.EventType)
		if event.ID == "" {
			event.ID = fresh.ID
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = fresh.Timestamp
		}
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO authz_audit_log (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		event.ID, event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		nullInt(event.ActorID), nullInt(event.TargetUserID), nullInt(event.RoleID),
		event.Permission, event.RequestID, event.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Query returns the events matching the filter, oldest first
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*AuditEvent, error) {
	where, args := buildWhere(filter)

	query := "SELECT " + eventColumns + " FROM authz_audit_log" + where + " ORDER BY occurred_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT
		if filter.Limit <= 0 && l.dialect == storage.DialectSQLite {
			query += " LIMIT -1"
		}
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Purge deletes events older than the retention window and returns how many
// were removed. A non-positive window keeps everything.
func (l *DBLogger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := l.db.ExecContext(ctx, "DELETE FROM authz_audit_log WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Close is a no-op; the connection pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

func buildWhere(filter Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if filter.TargetUserID != nil {
		add("target_user_id = $%d", *filter.TargetUserID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Since != nil {
		add("occurred_at >= $%d", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("occurred_at < $%d", filter.Until.UTC())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var event AuditEvent
	var eventType, status string
	var actorID, targetUserID, roleID sql.NullInt64
	var permission, requestID, message, metadata sql.NullString

	if err := rows.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&actorID, &targetUserID, &roleID,
		&permission, &requestID, &message, &metadata,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ActorID = int64Ptr(actorID)
	event.TargetUserID = int64Ptr(targetUserID)
	event.RoleID = int64Ptr(roleID)
	event.Permission = permission.String
	event.RequestID = requestID.String
	event.Message = message.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &event, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
