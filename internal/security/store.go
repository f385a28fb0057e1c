package security

import (
	"context"
	"time"
)

// Store persists classified events and serves the monitor's read side.
type Store interface {
	// Append records a classified event.
	Append(ctx context.Context, event Event) error

	// List returns events ordered by occurred_at descending, with actor
	// details resolved. Paging is restartable: the same limit/offset over
	// unchanged data returns the same page.
	List(ctx context.Context, limit, offset int) ([]Event, error)

	// Summarize aggregates events with occurred_at >= since. Must be
	// side-effect-free.
	Summarize(ctx context.Context, since time.Time) (*Summary, error)
}
