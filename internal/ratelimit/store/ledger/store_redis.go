package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taxtrail/internal/ratelimit/models"
	dErrors "taxtrail/pkg/domain-errors"
)

// checkAndIncrScript performs the window check, increment and expiry as one
// atomic server-side operation. KEYS[1] is the ledger key, ARGV[1] the limit,
// ARGV[2] the window in milliseconds. Returns {allowed, count, pttl}.
var checkAndIncrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
    return {0, current, redis.call('PTTL', KEYS[1])}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count, redis.call('PTTL', KEYS[1])}
`)

// RedisLedgerStore is the production ledger. The key TTL is the counting
// window, so expired windows reset themselves without cleanup jobs.
type RedisLedgerStore struct {
	client *redis.Client
}

// NewRedisLedgerStore constructs a Redis-backed ledger.
func NewRedisLedgerStore(client *redis.Client) *RedisLedgerStore {
	return &RedisLedgerStore{client: client}
}

// CheckAndIncrement runs the Lua script; check and increment happen inside a
// single EVAL, so concurrent callers for the same key serialize on the server.
func (s *RedisLedgerStore) CheckAndIncrement(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration) (*models.RateLimitResult, error) {
	if maxRequests < 1 {
		now := time.Now()
		return denied(now, window, maxRequests), nil
	}

	key := models.LedgerKey(subject, action)
	raw, err := checkAndIncrScript.Run(ctx, s.client, []string{key},
		maxRequests, window.Milliseconds()).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}

	vals, ok := raw.([]any)
	if !ok || len(vals) != 3 {
		return nil, dErrors.Newf(dErrors.CodeInternal, "unexpected script reply %T", raw)
	}
	allowed := toInt64(vals[0]) == 1
	count := int(toInt64(vals[1]))
	pttl := time.Duration(toInt64(vals[2])) * time.Millisecond
	if pttl < 0 {
		pttl = window
	}

	now := time.Now()
	result := &models.RateLimitResult{
		Allowed:   allowed,
		Limit:     maxRequests,
		Remaining: max(maxRequests-count, 0),
		ResetAt:   now.Add(pttl),
	}
	if !allowed {
		result.RetryAfter = retryAfterSeconds(now, result.ResetAt)
	}
	return result, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		var parsed int64
		_, _ = fmt.Sscan(n, &parsed)
		return parsed
	default:
		return 0
	}
}
