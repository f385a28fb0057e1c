package audit_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"taxtrail/internal/audit"
	auditmemory "taxtrail/internal/audit/store/memory"
	"taxtrail/internal/platform/kafka/producer"
	"taxtrail/internal/security"
	securitymemory "taxtrail/internal/security/store/memory"
)

// capturingPublisher records produced messages for assertions.
type capturingPublisher struct {
	mu       sync.Mutex
	messages []*producer.Message
}

func (p *capturingPublisher) ProduceAsync(msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturingPublisher) Messages() []*producer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*producer.Message(nil), p.messages...)
}

type RecorderSuite struct {
	suite.Suite
	ctx           context.Context
	auditStore    *auditmemory.InMemoryAuditStore
	securityStore *securitymemory.InMemorySecurityStore
	publisher     *capturingPublisher
	recorder      *audit.Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.ctx = context.Background()
	s.auditStore = auditmemory.New()
	s.securityStore = securitymemory.New()
	s.publisher = &capturingPublisher{}
	s.recorder = audit.NewRecorder(s.auditStore, s.securityStore,
		audit.WithPublisher(s.publisher, "test.security.events"),
	)
}

func (s *RecorderSuite) TestRecord() {
	s.Run("appends the audit event with a payload digest", func() {
		s.recorder.Record(s.ctx, audit.RecordInput{
			Entity:   "tax_return",
			EntityID: "tr-1",
			Action:   audit.ActionUpdate,
			ActorID:  "user-1",
			Payload:  map[string]any{"field": "income", "value": 50000},
		})

		events := s.auditStore.Events()
		s.Require().Len(events, 1)
		s.Equal("tax_return", events[0].Entity)
		s.Equal("tr-1", events[0].EntityID)
		s.Equal(audit.ActionUpdate, events[0].Action)
		s.Equal("user-1", events[0].ActorID)
		s.Len(events[0].PayloadDigest, 16)
		s.False(events[0].RecordedAt.IsZero())
	})

	s.Run("derives a classified security event sharing the audit event ID", func() {
		s.recorder.Record(s.ctx, audit.RecordInput{
			Entity:      "tax_return",
			EntityID:    "tr-2",
			Action:      audit.ActionExport,
			ActorID:     "user-2",
			RecordCount: 500,
		})

		auditEvents := s.auditStore.Events()
		s.Require().NotEmpty(auditEvents)
		last := auditEvents[len(auditEvents)-1]

		secEvents, err := s.securityStore.List(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Require().NotEmpty(secEvents)
		s.Equal(last.ID, secEvents[0].ID)
		s.Equal(security.EventTypeDataExport, secEvents[0].EventType)
		s.Equal(security.SeverityHigh, secEvents[0].Severity)
	})

	s.Run("publishes the classified event for live delivery", func() {
		s.recorder.Record(s.ctx, audit.RecordInput{
			Entity:   "tax_return",
			EntityID: "tr-3",
			Action:   audit.ActionDelete,
			ActorID:  "user-3",
		})

		messages := s.publisher.Messages()
		s.Require().NotEmpty(messages)
		last := messages[len(messages)-1]
		s.Equal("test.security.events", last.Topic)

		var event security.Event
		s.Require().NoError(json.Unmarshal(last.Value, &event))
		s.Equal(security.EventTypeRecordDeleted, event.EventType)
		s.Equal(event.ID.String(), string(last.Key))
	})
}

// TestRecordStoreOutage verifies the fire-and-forget contract: a storage
// outage is absorbed, the event is dropped, and the caller is never delayed
// past the recorder timeout.
func (s *RecorderSuite) TestRecordStoreOutage() {
	s.auditStore.SetFailing(true)

	start := time.Now()
	s.recorder.Record(s.ctx, audit.RecordInput{
		Entity:   "tax_return",
		EntityID: "tr-4",
		Action:   audit.ActionCreate,
		ActorID:  "user-4",
	})
	s.Less(time.Since(start), 3*time.Second)

	s.Empty(s.auditStore.Events())

	secEvents, err := s.securityStore.List(s.ctx, 10, 0)
	s.Require().NoError(err)
	s.Empty(secEvents, "no classification when the audit append failed")
	s.Empty(s.publisher.Messages())

	// The store recovering makes subsequent records flow again.
	s.auditStore.SetFailing(false)
	s.recorder.Record(s.ctx, audit.RecordInput{
		Entity:   "tax_return",
		EntityID: "tr-5",
		Action:   audit.ActionCreate,
		ActorID:  "user-4",
	})
	s.Len(s.auditStore.Events(), 1)
}

// TestRecordSurvivesCancelledCaller verifies the append is detached from the
// caller's context: the audited operation finishing first must not abort it.
func (s *RecorderSuite) TestRecordSurvivesCancelledCaller() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.recorder.Record(ctx, audit.RecordInput{
		Entity:   "tax_return",
		EntityID: "tr-6",
		Action:   audit.ActionSubmit,
		ActorID:  "user-5",
	})

	s.Len(s.auditStore.Events(), 1)
}

func (s *RecorderSuite) TestRateLimitExceeded() {
	s.recorder.RateLimitExceeded(s.ctx, "user-6", "data_export")

	s.Empty(s.auditStore.Events(), "denied attempts never reach the audit trail")

	secEvents, err := s.securityStore.List(s.ctx, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(secEvents, 1)
	s.Equal(security.EventTypeRateLimitExceeded, secEvents[0].EventType)
	s.Equal(security.SeverityHigh, secEvents[0].Severity)
	s.Equal("user-6", secEvents[0].Actor.ID)
}
