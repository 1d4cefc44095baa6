package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verifyflow/pkg/domain"
	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/tx"
)

// Schema creates the audit table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         UUID PRIMARY KEY,
	category   TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	session_id UUID,
	action     TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	kinds      TEXT[] NOT NULL DEFAULT '{}',
	outcome    TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_session_idx ON audit_events (session_id, timestamp);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Append inserts an event. Re-inserting an event id is a no-op, so replays
// from a queue are idempotent.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, session_id, action,
			stage, kinds, outcome, reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	var sessionID *uuid.UUID
	if !event.SessionID.IsNil() {
		sid := uuid.UUID(event.SessionID)
		sessionID = &sid
	}
	kinds := event.Kinds
	if kinds == nil {
		kinds = []string{}
	}

	_, err := tx.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Timestamp,
		sessionID,
		event.Action,
		event.Stage,
		pq.Array(kinds),
		event.Outcome,
		event.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendBatch inserts events in one transaction; either all are stored or
// none are.
func (s *Store) AppendBatch(ctx context.Context, events []audit.Event) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		for _, e := range events {
			if err := s.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBySession returns events for one session, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, session_id, action,
			   stage, kinds, outcome, reason
		FROM audit_events
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListRecent returns the limit most recent events, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, session_id, action,
			   stage, kinds, outcome, reason
		FROM (
			SELECT * FROM audit_events
			ORDER BY timestamp DESC
			LIMIT $1
		) recent
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// scanEvents scans multiple rows into audit.Event slice.
func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category          string
			event             audit.Event
			sessionIDNullable *uuid.UUID
			kinds             pq.StringArray
		)

		err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&sessionIDNullable,
			&event.Action,
			&event.Stage,
			&kinds,
			&event.Outcome,
			&event.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		if sessionIDNullable != nil {
			event.SessionID = domain.SessionID(*sessionIDNullable)
		}
		if len(kinds) > 0 {
			event.Kinds = []string(kinds)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
