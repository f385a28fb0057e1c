package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taxtrail/internal/platform/kafka/producer"
	"taxtrail/internal/security"
	secmetrics "taxtrail/internal/security/metrics"
)

var auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "taxtrail_audit_write_failures_total",
	Help: "Total audit appends that failed and were dropped",
})

// Store is the append-only sink for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// EventPublisher pushes classified events onto the live alert transport.
type EventPublisher interface {
	ProduceAsync(msg *producer.Message) error
}

const defaultTimeout = 3 * time.Second

// Recorder writes the audit trail and feeds the security event pipeline.
//
// Recording is best-effort: failures are logged and counted but never
// surface to the business operation being observed. Completeness of the
// trail is secondary to operation availability.
type Recorder struct {
	store    Store
	security security.Store
	pub      EventPublisher
	topic    string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *secmetrics.Metrics
}

type RecorderOption func(*Recorder)

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithPublisher wires classified events onto the alert topic.
func WithPublisher(pub EventPublisher, topic string) RecorderOption {
	return func(r *Recorder) {
		r.pub = pub
		r.topic = topic
	}
}

func WithTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = timeout }
}

func WithSecurityMetrics(m *secmetrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates a recorder appending to store and materializing
// classified events into securityStore.
func NewRecorder(store Store, securityStore security.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:    store,
		security: securityStore,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RecordInput carries optional context signals alongside the audit fields.
type RecordInput struct {
	Entity   string
	EntityID string
	Action   Action
	ActorID  string
	Payload  any

	// SensitiveField marks access to a protected field (e.g. a TIN).
	SensitiveField bool
	// RecordCount is the number of records touched, for export
	// classification.
	RecordCount int
}

// Record appends an audit event and derives its security classification.
// Fire-and-forget: the call is bounded by the recorder timeout and never
// returns an error.
func (r *Recorder) Record(ctx context.Context, in RecordInput) {
	// Detach from the caller's cancellation but keep request-scoped values;
	// the audited operation finishing must not abort the append.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	now := time.Now()
	event := Event{
		ID:            uuid.New(),
		Entity:        in.Entity,
		EntityID:      in.EntityID,
		Action:        in.Action,
		ActorID:       in.ActorID,
		PayloadDigest: PayloadDigest(in.Payload),
		RecordedAt:    now,
	}

	if err := r.store.Append(ctx, event); err != nil {
		auditWriteFailures.Inc()
		r.logger.ErrorContext(ctx, "audit append failed, dropping event",
			"entity", in.Entity,
			"entity_id", in.EntityID,
			"action", in.Action,
			"error", err,
		)
		return
	}

	classified := security.Classify(security.Input{
		Entity:         in.Entity,
		Action:         string(in.Action),
		ActorID:        in.ActorID,
		OccurredAt:     now,
		SensitiveField: in.SensitiveField,
		RecordCount:    in.RecordCount,
	})
	classified.ID = event.ID
	r.emit(ctx, classified)
}

// RateLimitExceeded records a denied rate limit check as a security event.
// Denied attempts never reach the audit trail (the operation did not
// happen), but they are security-relevant. Implements the limiter's
// SecurityEmitter port.
func (r *Recorder) RateLimitExceeded(ctx context.Context, subject string, action string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	classified := security.Classify(security.Input{
		Entity:      "rate_limit",
		Action:      action,
		ActorID:     subject,
		OccurredAt:  time.Now(),
		RateLimited: true,
	})
	r.emit(ctx, classified)
}

// emit materializes a classified event and publishes it for live alerting.
// Both paths are best-effort.
func (r *Recorder) emit(ctx context.Context, event security.Event) {
	if r.metrics != nil {
		r.metrics.IncrementClassified(string(event.Severity))
	}

	if err := r.security.Append(ctx, event); err != nil {
		auditWriteFailures.Inc()
		r.logger.ErrorContext(ctx, "security event append failed, dropping event",
			"event_type", event.EventType,
			"severity", event.Severity,
			"error", err,
		)
	}

	if r.pub == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to marshal security event", "error", err)
		return
	}
	msg := &producer.Message{
		Topic: r.topic,
		Key:   []byte(event.ID.String()),
		Value: value,
	}
	if err := r.pub.ProduceAsync(msg); err != nil {
		r.logger.WarnContext(ctx, "failed to enqueue security event for delivery", "error", err)
	}
}
