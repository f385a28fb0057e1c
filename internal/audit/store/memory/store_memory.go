// Package memory provides an in-memory audit store for tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"taxtrail/internal/audit"
)

// InMemoryAuditStore keeps appended events in order. It can be switched into
// a failing mode to exercise the recorder's drop-on-failure semantics.
type InMemoryAuditStore struct {
	mu      sync.RWMutex
	events  []audit.Event
	failing bool
}

func New() *InMemoryAuditStore {
	return &InMemoryAuditStore{}
}

// SetFailing makes subsequent appends fail, simulating a storage outage.
func (s *InMemoryAuditStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *InMemoryAuditStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("audit store unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *InMemoryAuditStore) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// CountByActorAction counts events for one actor and action.
func (s *InMemoryAuditStore) CountByActorAction(actorID string, action audit.Action) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, event := range s.events {
		if event.ActorID == actorID && event.Action == action {
			count++
		}
	}
	return count
}

// PurgeOlderThan removes events recorded before the cutoff.
func (s *InMemoryAuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var purged int64
	for _, event := range s.events {
		if event.RecordedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return purged, nil
}
