//go:build integration

package ledger_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"taxtrail/internal/ratelimit/models"
	"taxtrail/internal/ratelimit/store/ledger"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/testutil/containers"
)

type RedisLedgerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ledger.RedisLedgerStore
}

func TestRedisLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLedgerSuite))
}

func (s *RedisLedgerSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = ledger.NewRedisLedgerStore(s.redis.Client)
}

func (s *RedisLedgerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLedgerSuite) TestCheckAndIncrement() {
	ctx := context.Background()

	s.Run("allows up to the limit then denies", func() {
		for i := range 5 {
			result, err := s.store.CheckAndIncrement(ctx, "user-1", models.ActionDataExport, 5, time.Hour)
			s.Require().NoError(err)
			s.True(result.Allowed, "request %d should be allowed", i+1)
			s.Equal(5-i-1, result.Remaining)
		}

		result, err := s.store.CheckAndIncrement(ctx, "user-1", models.ActionDataExport, 5, time.Hour)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Positive(result.RetryAfter)
	})

	s.Run("the key expires with the window", func() {
		_, err := s.store.CheckAndIncrement(ctx, "user-2", models.ActionAPICall, 5, time.Second)
		s.Require().NoError(err)

		ttl, err := s.redis.Client.PTTL(ctx, models.LedgerKey("user-2", models.ActionAPICall)).Result()
		s.Require().NoError(err)
		s.Positive(ttl)
		s.LessOrEqual(ttl, time.Second)
	})

	s.Run("a denied check does not grow the count", func() {
		for range 8 {
			_, err := s.store.CheckAndIncrement(ctx, "user-3", models.ActionAPICall, 5, time.Hour)
			s.Require().NoError(err)
		}
		count, err := s.redis.Client.Get(ctx, models.LedgerKey("user-3", models.ActionAPICall)).Int()
		s.Require().NoError(err)
		s.Equal(5, count)
	})

	s.Run("zero limit always denies", func() {
		result, err := s.store.CheckAndIncrement(ctx, "user-4", models.ActionAPICall, 0, time.Hour)
		s.Require().NoError(err)
		s.False(result.Allowed)
	})
}

// TestConcurrentCheckAndIncrement verifies the Lua script is atomic: with 50
// goroutines against a budget of 10, exactly 10 pass.
func (s *RedisLedgerSuite) TestConcurrentCheckAndIncrement() {
	ctx := context.Background()
	const goroutines = 50
	const limit = 10

	var wg sync.WaitGroup
	var allowed atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.CheckAndIncrement(ctx, "user-conc", models.ActionAPICall, limit, time.Minute)
			s.Require().NoError(err)
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
}

// TestUnreachableLedger verifies errors surface as unavailable so the
// limiter's fail-open path can take over.
func (s *RedisLedgerSuite) TestUnreachableLedger() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.store.CheckAndIncrement(ctx, "user-5", models.ActionAPICall, 5, time.Hour)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}
