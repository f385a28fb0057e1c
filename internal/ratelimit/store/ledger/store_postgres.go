package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taxtrail/internal/ratelimit/models"
	dErrors "taxtrail/pkg/domain-errors"
)

// PostgresLedgerStore backs the ledger with the rate_limit_ledger table for
// deployments without Redis. The conditional upsert below is a single
// statement, so the check and increment cannot race with concurrent callers.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore constructs a Postgres-backed ledger.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

// The DO UPDATE only fires when the window expired or slots remain; a clamped
// row matches neither branch of the WHERE, so the statement returns no row
// and the count never grows past the limit.
const checkAndIncrementQuery = `
	INSERT INTO rate_limit_ledger (subject, action, window_start, count)
	VALUES ($1, $2, now(), 1)
	ON CONFLICT (subject, action) DO UPDATE SET
		count = CASE
			WHEN now() - rate_limit_ledger.window_start >= make_interval(secs => $3) THEN 1
			ELSE rate_limit_ledger.count + 1
		END,
		window_start = CASE
			WHEN now() - rate_limit_ledger.window_start >= make_interval(secs => $3) THEN now()
			ELSE rate_limit_ledger.window_start
		END
	WHERE now() - rate_limit_ledger.window_start >= make_interval(secs => $3)
	   OR rate_limit_ledger.count < $4
	RETURNING count, window_start
`

const windowStartQuery = `
	SELECT window_start FROM rate_limit_ledger WHERE subject = $1 AND action = $2
`

// CheckAndIncrement consumes one slot via a conditional upsert. No returned
// row means the window is full.
func (s *PostgresLedgerStore) CheckAndIncrement(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration) (*models.RateLimitResult, error) {
	now := time.Now()
	if maxRequests < 1 {
		return denied(now, window, maxRequests), nil
	}

	windowSecs := window.Seconds()

	var count int
	var windowStart time.Time
	err := s.db.QueryRowContext(ctx, checkAndIncrementQuery,
		subject, string(action), windowSecs, maxRequests,
	).Scan(&count, &windowStart)

	if errors.Is(err, sql.ErrNoRows) {
		// Denied. Fetch the window start for an accurate Retry-After; if the
		// read fails we fall back to a full window which only over-reports.
		resetAt := now.Add(window)
		var start time.Time
		if readErr := s.db.QueryRowContext(ctx, windowStartQuery, subject, string(action)).Scan(&start); readErr == nil {
			resetAt = start.Add(window)
		}
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      maxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(now, resetAt),
		}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}

	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: max(maxRequests-count, 0),
		ResetAt:   windowStart.Add(window),
	}, nil
}
