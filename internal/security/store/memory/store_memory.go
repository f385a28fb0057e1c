// Package memory provides an in-memory security event store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"taxtrail/internal/security"
)

// InMemorySecurityStore keeps classified events in a slice. Reads sort by
// occurred_at descending with the event ID as a tiebreaker so paging is
// stable.
type InMemorySecurityStore struct {
	mu     sync.RWMutex
	events []security.Event
	actors map[string]security.Actor
}

func New() *InMemorySecurityStore {
	return &InMemorySecurityStore{actors: make(map[string]security.Actor)}
}

// RegisterActor seeds directory details used to resolve actor display info.
func (s *InMemorySecurityStore) RegisterActor(actor security.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actor.ID] = actor
}

func (s *InMemorySecurityStore) Append(ctx context.Context, event security.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemorySecurityStore) List(ctx context.Context, limit, offset int) ([]security.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]security.Event, len(s.events))
	copy(sorted, s.events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].ID.String() > sorted[j].ID.String()
		}
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	if offset >= len(sorted) {
		return []security.Event{}, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}

	page := make([]security.Event, 0, end-offset)
	for _, event := range sorted[offset:end] {
		page = append(page, s.resolve(event))
	}
	return page, nil
}

func (s *InMemorySecurityStore) Summarize(ctx context.Context, since time.Time) (*security.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &security.Summary{}
	actors := make(map[string]struct{})
	for _, event := range s.events {
		if event.OccurredAt.Before(since) {
			continue
		}
		summary.TotalEvents++
		actors[event.Actor.ID] = struct{}{}
		if event.Severity.AtLeast(security.SeverityHigh) {
			summary.HighSeverityEvents++
		}
		switch event.EventType {
		case security.EventTypeRateLimitExceeded:
			summary.FailedRateLimitCount++
		case security.EventTypeTINAccess:
			summary.SensitiveFieldAccessCount++
		case security.EventTypeDataExport:
			summary.ExportCount++
		}
	}
	summary.UniqueActors = len(actors)
	return summary, nil
}

func (s *InMemorySecurityStore) resolve(event security.Event) security.Event {
	if actor, ok := s.actors[event.Actor.ID]; ok {
		event.Actor.DisplayName = actor.DisplayName
		event.Actor.Email = actor.Email
	}
	return event
}
