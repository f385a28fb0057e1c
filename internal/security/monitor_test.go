package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"taxtrail/internal/security"
	"taxtrail/internal/security/store/memory"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/testutil"
)

type MonitorSuite struct {
	suite.Suite
	store   *memory.InMemorySecurityStore
	monitor *security.Monitor
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

func (s *MonitorSuite) SetupTest() {
	s.store = memory.New()
	monitor, err := security.NewMonitor(s.store)
	s.Require().NoError(err)
	s.monitor = monitor
}

func (s *MonitorSuite) seed(action string, actorID string, occurredAt time.Time, opts ...func(*security.Input)) security.Event {
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

func (s *MonitorSuite) TestGetSummary() {
	now := time.Now()

	s.seed("export", "user-1", now.Add(-time.Hour), func(in *security.Input) { in.RecordCount = 500 })
	s.seed("export", "user-2", now.Add(-2*time.Hour))
	s.seed("update", "user-1", now.Add(-3*time.Hour), func(in *security.Input) { in.SensitiveField = true })
	s.seed("delete", "user-2", now.Add(-4*time.Hour))
	s.seed("update", "user-3", now.Add(-30*24*time.Hour))

	s.Run("counts events inside the window", func() {
		summary, err := s.monitor.GetSummary(testutil.AdminContext("admin-1"), 7)
		s.Require().NoError(err)
		s.Equal(4, summary.TotalEvents)
		s.Equal(1, summary.HighSeverityEvents)
		s.Equal(2, summary.ExportCount)
		s.Equal(1, summary.SensitiveFieldAccessCount)
		s.Equal(0, summary.FailedRateLimitCount)
		s.Equal(2, summary.UniqueActors)
		s.Equal(7, summary.DaysBack)
	})

	s.Run("wider window includes older events", func() {
		summary, err := s.monitor.GetSummary(testutil.AdminContext("admin-1"), 60)
		s.Require().NoError(err)
		s.Equal(5, summary.TotalEvents)
		s.Equal(3, summary.UniqueActors)
	})

	s.Run("is idempotent over unchanged data", func() {
		first, err := s.monitor.GetSummary(testutil.AdminContext("admin-1"), 7)
		s.Require().NoError(err)
		second, err := s.monitor.GetSummary(testutil.AdminContext("admin-1"), 7)
		s.Require().NoError(err)
		s.Equal(first, second)
	})

	s.Run("rejects non-admin callers", func() {
		_, err := s.monitor.GetSummary(testutil.MemberContext("user-1"), 7)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects out-of-range windows", func() {
		_, err := s.monitor.GetSummary(testutil.AdminContext("admin-1"), 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, err = s.monitor.GetSummary(testutil.AdminContext("admin-1"), 366)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *MonitorSuite) TestListEvents() {
	now := time.Now()
	newest := s.seed("delete", "user-1", now.Add(-time.Minute))
	middle := s.seed("export", "user-1", now.Add(-2*time.Minute))
	oldest := s.seed("create", "user-2", now.Add(-3*time.Minute))

	s.Run("returns events newest first", func() {
		events, err := s.monitor.ListEvents(testutil.AdminContext("admin-1"), 10, 0)
		s.Require().NoError(err)
		s.Require().Len(events, 3)
		s.Equal(newest.ID, events[0].ID)
		s.Equal(middle.ID, events[1].ID)
		s.Equal(oldest.ID, events[2].ID)
	})

	s.Run("pages with limit and offset", func() {
		events, err := s.monitor.ListEvents(testutil.AdminContext("admin-1"), 2, 0)
		s.Require().NoError(err)
		s.Len(events, 2)

		events, err = s.monitor.ListEvents(testutil.AdminContext("admin-1"), 2, 2)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(oldest.ID, events[0].ID)
	})

	s.Run("resolves actor directory details", func() {
		s.store.RegisterActor(security.Actor{ID: "user-1", DisplayName: "Ada Example", Email: "ada@example.com"})
		events, err := s.monitor.ListEvents(testutil.AdminContext("admin-1"), 1, 0)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal("Ada Example", events[0].Actor.DisplayName)
		s.Equal("ada@example.com", events[0].Actor.Email)
	})

	s.Run("rejects non-admin callers", func() {
		_, err := s.monitor.ListEvents(testutil.MemberContext("user-1"), 10, 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects negative offsets", func() {
		_, err := s.monitor.ListEvents(testutil.AdminContext("admin-1"), 10, -1)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
