package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ecoworks/retrofit/pkg/model"
)

// DBLogger persists audit events to a SQL table. The schema is created
// on construction when missing; the placeholder style is Postgres ($N),
// which sqlite accepts too.
type DBLogger struct {
	db *sql.DB
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id                  TEXT PRIMARY KEY,
	ts                  TIMESTAMP NOT NULL,
	event_type          TEXT NOT NULL,
	status              TEXT NOT NULL,
	principal_id        TEXT,
	resource_kind       TEXT,
	resource_id         TEXT,
	target_principal_id TEXT,
	reason_code         TEXT,
	message             TEXT,
	metadata            TEXT
)`

// NewDBLogger creates the audit table if needed and returns a logger
// over db. The logger does not own the handle; Close is a no-op.
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return nil, fmt.Errorf("creating audit_events table: %w", err)
	}
	return &DBLogger{db: db}, nil
}

func (l *DBLogger) Log(ctx context.Context, e *Event) error {
	Stamp(e)

	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encoding audit metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, ts, event_type, status, principal_id, resource_kind,
			 resource_id, target_principal_id, reason_code, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Timestamp, string(e.Type), string(e.Status), e.PrincipalID,
		string(e.ResourceKind), e.ResourceID, e.TargetPrincipalID,
		string(e.ReasonCode), e.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func (l *DBLogger) Close() error { return nil }

// Recent returns the newest events, newest first.
func (l *DBLogger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, event_type, status, principal_id, resource_kind,
		       resource_id, target_principal_id, reason_code, message, metadata
		FROM audit_events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var eventType, status, kind, code string
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &status,
			&e.PrincipalID, &kind, &e.ResourceID, &e.TargetPrincipalID,
			&code, &e.Message, &metadata); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Status = EventStatus(status)
		e.ResourceKind = model.ResourceKind(kind)
		e.ReasonCode = model.ReasonCode(code)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding audit metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
