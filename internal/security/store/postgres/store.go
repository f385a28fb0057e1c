// Package postgres backs the security event store with the security_events
// and actors tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"taxtrail/internal/security"
)

// Store implements security.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append materializes a classified event. Idempotent on event ID so replayed
// deliveries do not duplicate rows.
func (s *Store) Append(ctx context.Context, event security.Event) error {
	query := `
		INSERT INTO security_events (id, entity, action, event_type, severity, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Entity,
		event.Action,
		string(event.EventType),
		string(event.Severity),
		event.Actor.ID,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// List returns events newest first with actor details resolved from the
// directory. Ordering includes the ID as tiebreaker so pages are stable.
func (s *Store) List(ctx context.Context, limit, offset int) ([]security.Event, error) {
	query := `
		SELECT e.id, e.entity, e.action, e.event_type, e.severity, e.actor_id,
		       COALESCE(a.display_name, ''), COALESCE(a.email, ''), e.occurred_at
		FROM security_events e
		LEFT JOIN actors a ON a.id = e.actor_id
		ORDER BY e.occurred_at DESC, e.id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	events := make([]security.Event, 0, limit)
	for rows.Next() {
		var event security.Event
		var eventType, severity string
		if err := rows.Scan(
			&event.ID,
			&event.Entity,
			&event.Action,
			&eventType,
			&severity,
			&event.Actor.ID,
			&event.Actor.DisplayName,
			&event.Actor.Email,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		event.EventType = security.EventType(eventType)
		event.Severity = security.Severity(severity)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Summarize runs the window aggregates as parallel queries sharing one
// cancellation scope.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*security.Summary, error) {
	summary := &security.Summary{}

	g, ctx := errgroup.WithContext(ctx)

	count := func(dest *int, query string, args ...any) {
		g.Go(func() error {
			return s.db.QueryRowContext(ctx, query, args...).Scan(dest)
		})
	}

	count(&summary.TotalEvents,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1`, since)
	count(&summary.HighSeverityEvents,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1 AND severity IN ('high', 'critical')`, since)
	count(&summary.UniqueActors,
		`SELECT COUNT(DISTINCT actor_id) FROM security_events WHERE occurred_at >= $1`, since)
	count(&summary.FailedRateLimitCount,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1 AND event_type = $2`, since, string(security.EventTypeRateLimitExceeded))
	count(&summary.SensitiveFieldAccessCount,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1 AND event_type = $2`, since, string(security.EventTypeTINAccess))
	count(&summary.ExportCount,
		`SELECT COUNT(*) FROM security_events WHERE occurred_at >= $1 AND event_type = $2`, since, string(security.EventTypeDataExport))

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("summarize security events: %w", err)
	}
	return summary, nil
}

// UpsertActor maintains the directory row used for display resolution.
func (s *Store) UpsertActor(ctx context.Context, actor security.Actor) error {
	query := `
		INSERT INTO actors (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = $2, email = $3
	`
	if _, err := s.db.ExecContext(ctx, query, actor.ID, actor.DisplayName, actor.Email); err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	return nil
}
