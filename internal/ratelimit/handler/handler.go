// Package handler exposes the limiter to the surrounding application over
// HTTP so out-of-process callers can guard their own operations.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taxtrail/internal/ratelimit/models"
	"taxtrail/internal/ratelimit/service"
	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/platform/httputil"
	"taxtrail/pkg/requestcontext"
)

// Handler wires the check endpoint to the limiter service.
type Handler struct {
	limiter *service.Service
	logger  *slog.Logger
}

func New(limiter *service.Service, logger *slog.Logger) *Handler {
	return &Handler{limiter: limiter, logger: logger}
}

// Register mounts rate limit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/ratelimit/check", h.HandleCheck)
}

// CheckRequest is the body of POST /v1/ratelimit/check. Subject defaults to
// the authenticated caller; only admins may check on behalf of others.
type CheckRequest struct {
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
}

// HandleCheck runs a rate limit check and reports the decision.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeJSON[CheckRequest](w, r, h.logger)
	if !ok {
		return
	}

	action, err := models.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = actor
	}
	if subject != actor && !requestcontext.IsAdmin(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "cannot check rate limits for another subject"))
		return
	}

	result, err := h.limiter.Check(ctx, subject, action)
	if err != nil {
		h.logger.ErrorContext(ctx, "rate limit check failed",
			"request_id", requestcontext.RequestID(ctx),
			"action", req.Action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
