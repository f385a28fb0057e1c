package ledger

import (
	"context"
	"sync"
	"time"

	"taxtrail/internal/ratelimit/models"
)

// InMemoryLedgerStore implements LedgerStore with a mutex-guarded fixed
// window counter. Used in tests and as the circuit breaker fallback; it is
// not shared across instances, so use the Redis or Postgres store in
// production.
type InMemoryLedgerStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewInMemoryLedgerStore creates an empty in-memory ledger.
func NewInMemoryLedgerStore() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{windows: make(map[string]*window)}
}

// CheckAndIncrement consumes one slot for the key under a single lock, so
// concurrent callers can never both take the last slot.
func (s *InMemoryLedgerStore) CheckAndIncrement(ctx context.Context, subject string, action models.Action, maxRequests int, windowDur time.Duration) (*models.RateLimitResult, error) {
	now := time.Now()
	key := models.LedgerKey(subject, action)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || now.Sub(w.start) >= windowDur {
		if maxRequests < 1 {
			return denied(now, windowDur, maxRequests), nil
		}
		s.windows[key] = &window{start: now, count: 1}
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: maxRequests - 1,
			ResetAt:   now.Add(windowDur),
		}, nil
	}

	if w.count < maxRequests {
		w.count++
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: maxRequests - w.count,
			ResetAt:   w.start.Add(windowDur),
		}, nil
	}

	// Clamped: the count stays at the ceiling.
	resetAt := w.start.Add(windowDur)
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      maxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(now, resetAt),
	}, nil
}

// Reset clears the counter for a key.
func (s *InMemoryLedgerStore) Reset(ctx context.Context, subject string, action models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, models.LedgerKey(subject, action))
	return nil
}

func denied(now time.Time, windowDur time.Duration, limit int) *models.RateLimitResult {
	resetAt := now.Add(windowDur)
	if limit < 0 {
		limit = 0
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(now, resetAt),
	}
}

func retryAfterSeconds(now, resetAt time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
