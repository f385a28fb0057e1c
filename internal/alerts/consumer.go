package alerts

import (
	"context"
	"encoding/json"
	"log/slog"

	"taxtrail/internal/platform/kafka/consumer"
	"taxtrail/internal/security"
)

// Handler feeds the hub from the security event topic. Event production and
// delivery stay decoupled: the request path that recorded the event never
// waits on any subscriber.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// Handle decodes a classified event and publishes it to the hub. Malformed
// messages are skipped, not retried; alerting is best-effort and a poison
// message must not wedge the consumer group.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var event security.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Warn("failed to unmarshal security event, skipping",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if !event.Severity.IsValid() {
		h.logger.Warn("security event with unknown severity, skipping",
			"severity", event.Severity,
			"offset", msg.Offset,
		)
		return nil
	}

	h.hub.Publish(event)
	return nil
}
