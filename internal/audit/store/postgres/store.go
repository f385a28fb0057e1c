// Package postgres backs the audit trail with the audit_events table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taxtrail/internal/audit"
)

// Store implements audit.Store on PostgreSQL. Inserts only; the table has no
// update path by design.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, entity, entity_id, action, actor_id, payload_digest, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Entity,
		event.EntityID,
		string(event.Action),
		event.ActorID,
		event.PayloadDigest,
		event.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByActor returns an actor's trail, newest first.
func (s *Store) ListByActor(ctx context.Context, actorID string, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, entity, entity_id, action, actor_id, payload_digest, recorded_at
		FROM audit_events
		WHERE actor_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var event audit.Event
		var action string
		if err := rows.Scan(
			&event.ID,
			&event.Entity,
			&event.EntityID,
			&action,
			&event.ActorID,
			&event.PayloadDigest,
			&event.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		events = append(events, event)
	}
	return events, rows.Err()
}

// PurgeOlderThan deletes events recorded before the cutoff. Only the
// retention worker calls this; application flow never deletes.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return result.RowsAffected()
}
