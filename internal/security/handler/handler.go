// Package handler exposes the security dashboard endpoints. All routes here
// are mounted behind admin authentication.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taxtrail/internal/alerts"
	"taxtrail/internal/security"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/platform/httputil"
	"taxtrail/pkg/requestcontext"
)

const defaultSummaryDays = 7

// Handler serves the monitor's read operations and the live alert stream.
type Handler struct {
	monitor *security.Monitor
	hub     *alerts.Hub
	logger  *slog.Logger
}

func New(monitor *security.Monitor, hub *alerts.Hub, logger *slog.Logger) *Handler {
	return &Handler{monitor: monitor, hub: hub, logger: logger}
}

// Register mounts the security endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/security/summary", h.HandleSummary)
	r.Get("/v1/security/events", h.HandleListEvents)
	r.Get("/v1/security/alerts/stream", h.HandleAlertStream)
}

// HandleSummary returns aggregate counts over the trailing window.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := defaultSummaryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "days must be an integer"))
			return
		}
		days = parsed
	}

	summary, err := h.monitor.GetSummary(ctx, days)
	if err != nil {
		h.logger.ErrorContext(ctx, "security summary failed",
			"request_id", requestcontext.RequestID(ctx),
			"days", days,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandleListEvents pages through classified events, newest first.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.monitor.ListEvents(ctx, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "security event listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []security.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// HandleAlertStream streams high-severity events to the caller as server-sent
// events, one JSON event per message, until the client disconnects.
func (h *Handler) HandleAlertStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming not supported"))
		return
	}

	// Serialize writes through a channel owned by this handler goroutine;
	// hub callbacks run on the subscriber's dispatch goroutine.
	stream := make(chan security.Event, 16)
	unsubscribe, err := h.hub.SubscribeHighSeverity(ctx, func(event security.Event) {
		select {
		case stream <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.InfoContext(ctx, "alert stream opened",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", requestcontext.ActorID(ctx),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-stream:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.ErrorContext(ctx, "failed to marshal alert", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: security_alert\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be an integer", name)
	}
	return value, nil
}
