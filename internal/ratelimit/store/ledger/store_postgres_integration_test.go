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
	"taxtrail/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledger.PostgresLedgerStore
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = ledger.NewPostgresLedgerStore(s.postgres.DB)
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresLedgerSuite) TestCheckAndIncrement() {
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

	s.Run("count stays clamped at the limit", func() {
		for range 8 {
			_, err := s.store.CheckAndIncrement(ctx, "user-2", models.ActionAPICall, 5, time.Hour)
			s.Require().NoError(err)
		}

		var count int
		err := s.postgres.DB.QueryRowContext(ctx,
			`SELECT count FROM rate_limit_ledger WHERE subject = $1 AND action = $2`,
			"user-2", string(models.ActionAPICall)).Scan(&count)
		s.Require().NoError(err)
		s.Equal(5, count)
	})

	s.Run("an expired window resets the counter", func() {
		for range 5 {
			_, err := s.store.CheckAndIncrement(ctx, "user-3", models.ActionAPICall, 5, time.Hour)
			s.Require().NoError(err)
		}

		_, err := s.postgres.DB.ExecContext(ctx,
			`UPDATE rate_limit_ledger SET window_start = window_start - interval '2 hours'
			 WHERE subject = $1 AND action = $2`,
			"user-3", string(models.ActionAPICall))
		s.Require().NoError(err)

		result, err := s.store.CheckAndIncrement(ctx, "user-3", models.ActionAPICall, 5, time.Hour)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(4, result.Remaining)
	})

	s.Run("zero limit always denies", func() {
		result, err := s.store.CheckAndIncrement(ctx, "user-4", models.ActionAPICall, 0, time.Hour)
		s.Require().NoError(err)
		s.False(result.Allowed)
	})
}

// TestConcurrentCheckAndIncrement verifies the upsert is atomic under
// concurrency: with 50 goroutines against a budget of 10, exactly 10 pass.
func (s *PostgresLedgerSuite) TestConcurrentCheckAndIncrement() {
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
