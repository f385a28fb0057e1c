// Package alerts pushes newly recorded high-severity security events to
// subscribed observers without polling.
package alerts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taxtrail/internal/security"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/requestcontext"
)

var (
	alertsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxtrail_alerts_delivered_total",
		Help: "Total alert callbacks dispatched to subscribers",
	})
	alertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxtrail_alerts_dropped_total",
		Help: "Total alerts dropped because a subscriber buffer was full",
	})
	alertSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxtrail_alert_subscribers",
		Help: "Current number of active alert subscribers",
	})
)

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// alerts are dropped for it. Delivery is at-least-once while subscribed, not
// durable; disconnected subscribers get no backfill.
const subscriberBuffer = 64

// Hub fans qualifying events out to subscriber callbacks. Publishing never
// blocks on any subscriber: each subscriber gets a buffered channel drained
// by its own dispatch goroutine.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan security.Event
	nextID uint64
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[uint64]chan security.Event),
		logger: logger,
	}
}

// SubscribeHighSeverity registers cb for every new high or critical severity
// event, in record order. Requires an administrative caller. The returned
// unsubscribe is idempotent; an event already handed to the dispatch
// goroutine when unsubscribe is called may still be delivered.
func (h *Hub) SubscribeHighSeverity(ctx context.Context, cb func(security.Event)) (func(), error) {
	if !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "administrative privilege required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeUnavailable, "alert hub is shut down")
	}
	id := h.nextID
	h.nextID++
	ch := make(chan security.Event, subscriberBuffer)
	h.subs[id] = ch
	h.mu.Unlock()

	alertSubscribers.Inc()

	go func() {
		for event := range ch {
			cb(event)
			alertsDelivered.Inc()
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			// Close may already have removed the subscription and adjusted
			// the gauge.
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
				alertSubscribers.Dec()
			}
		})
	}
	return unsubscribe, nil
}

// Publish fans an event out to all subscribers if it qualifies. Never blocks:
// a subscriber with a full buffer loses the event (counted, logged).
func (h *Hub) Publish(event security.Event) {
	if !event.Severity.AtLeast(security.SeverityHigh) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			alertsDropped.Inc()
			h.logger.Warn("alert dropped for slow subscriber",
				"subscriber", id,
				"event_type", event.EventType,
			)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close terminates all subscriptions. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
		alertSubscribers.Dec()
	}
}
