//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"taxtrail/internal/security"
	"taxtrail/internal/security/store/postgres"
	"taxtrail/pkg/testutil/containers"
)

type SecurityStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestSecurityStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SecurityStoreSuite))
}

func (s *SecurityStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *SecurityStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *SecurityStoreSuite) seed(action string, actorID string, occurredAt time.Time, opts ...func(*security.Input)) security.Event {
	in := security.Input{
		Entity:     "tax_return",
		Action:     action,
		ActorID:    actorID,
		OccurredAt: occurredAt,
	}
	for _, opt := range opts {
		opt(&in)
	}
	event := security.Classify(in)
	s.Require().NoError(s.store.Append(context.Background(), event))
	return event
}

func (s *SecurityStoreSuite) TestAppendIsIdempotent() {
	ctx := context.Background()
	event := s.seed("delete", "user-1", time.Now())

	// Replayed delivery of the same event must not duplicate the row.
	s.Require().NoError(s.store.Append(ctx, event))

	events, err := s.store.List(ctx, 10, 0)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *SecurityStoreSuite) TestListNewestFirstWithActorResolution() {
	ctx := context.Background()
	now := time.Now()

	oldest := s.seed("create", "user-1", now.Add(-3*time.Minute))
	newest := s.seed("delete", "user-2", now.Add(-time.Minute))

	s.Require().NoError(s.store.UpsertActor(ctx, security.Actor{
		ID:          "user-2",
		DisplayName: "Ada Example",
		Email:       "ada@example.com",
	}))

	events, err := s.store.List(ctx, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(newest.ID, events[0].ID)
	s.Equal("Ada Example", events[0].Actor.DisplayName)
	s.Equal("ada@example.com", events[0].Actor.Email)
	s.Equal(oldest.ID, events[1].ID)
	s.Empty(events[1].Actor.DisplayName, "unknown actors resolve to blank directory fields")

	page, err := s.store.List(ctx, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(oldest.ID, page[0].ID)
}

func (s *SecurityStoreSuite) TestSummarize() {
	now := time.Now()

	s.seed("export", "user-1", now.Add(-time.Hour), func(in *security.Input) { in.RecordCount = 500 })
	s.seed("export", "user-2", now.Add(-time.Hour))
	s.seed("update", "user-1", now.Add(-time.Hour), func(in *security.Input) { in.SensitiveField = true })
	s.seed("delete", "user-3", now.Add(-48*time.Hour))
	s.seed("update", "user-1", now.Add(-time.Hour), func(in *security.Input) { in.RateLimited = true })

	summary, err := s.store.Summarize(context.Background(), now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(4, summary.TotalEvents)
	s.Equal(2, summary.HighSeverityEvents)
	s.Equal(2, summary.UniqueActors)
	s.Equal(1, summary.FailedRateLimitCount)
	s.Equal(1, summary.SensitiveFieldAccessCount)
	s.Equal(2, summary.ExportCount)
}
