// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid
// duplication.
package ports

import (
	"context"
	"time"

	"taxtrail/internal/ratelimit/models"
)

// LedgerStore is the durable per-(subject, action) window counter.
type LedgerStore interface {
	// CheckAndIncrement atomically consumes one slot for the key. A fresh or
	// expired window starts at count=1 and allows; an open window below the
	// limit increments and allows; otherwise it denies without incrementing.
	// Implementations must perform the check and increment as one atomic
	// operation, never a separate read followed by a write.
	CheckAndIncrement(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration) (*models.RateLimitResult, error)
}

// SecurityEmitter records a denied check as a security event. Implementations
// must be best-effort and non-blocking.
type SecurityEmitter interface {
	RateLimitExceeded(ctx context.Context, subject string, action string)
}
