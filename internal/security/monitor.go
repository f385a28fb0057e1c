package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taxtrail/internal/security/metrics"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/requestcontext"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxSummaryDays   = 365
)

// Monitor is the read-side service behind the admin security dashboard.
// Every operation requires an administrative caller; security visibility is
// never fail-open.
type Monitor struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type MonitorOption func(*Monitor)

func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

func WithMetrics(mx *metrics.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = mx }
}

func NewMonitor(store Store, opts ...MonitorOption) (*Monitor, error) {
	if store == nil {
		return nil, fmt.Errorf("security store is required")
	}
	m := &Monitor{
		store:  store,
		tracer: otel.Tracer("taxtrail/security"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// GetSummary aggregates events over the trailing daysBack window. Idempotent:
// repeated calls over unchanged data return identical results.
func (m *Monitor) GetSummary(ctx context.Context, daysBack int) (*Summary, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if daysBack < 1 || daysBack > maxSummaryDays {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "days_back must be between 1 and %d", maxSummaryDays)
	}

	ctx, span := m.tracer.Start(ctx, "security.GetSummary",
		trace.WithAttributes(attribute.Int("days_back", daysBack)))
	defer span.End()

	since := time.Now().AddDate(0, 0, -daysBack)
	summary, err := m.store.Summarize(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to summarize security events")
	}
	summary.DaysBack = daysBack

	if m.metrics != nil {
		m.metrics.SummaryQueries.Inc()
	}
	return summary, nil
}

// ListEvents pages through classified events, newest first.
func (m *Monitor) ListEvents(ctx context.Context, limit, offset int) ([]Event, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "offset must not be negative")
	}

	ctx, span := m.tracer.Start(ctx, "security.ListEvents",
		trace.WithAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset)))
	defer span.End()

	events, err := m.store.List(ctx, limit, offset)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list security events")
	}
	return events, nil
}

func requireAdmin(ctx context.Context) error {
	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeUnauthorized, "administrative privilege required")
	}
	return nil
}
