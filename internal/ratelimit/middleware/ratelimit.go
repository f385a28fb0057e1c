// Package middleware guards HTTP routes behind the rate limiter.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"taxtrail/internal/ratelimit/models"
	"taxtrail/internal/ratelimit/service"
	"taxtrail/pkg/platform/httputil"
	"taxtrail/pkg/requestcontext"
)

// Middleware translates limiter decisions into HTTP outcomes.
type Middleware struct {
	limiter  *service.Service
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func New(limiter *service.Service, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit throttles the wrapped handler under the given action budget. The
// subject is the authenticated actor, falling back to the client IP for
// anonymous traffic.
func (m *Middleware) RateLimit(action models.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			subject := requestcontext.ActorID(ctx)
			if subject == "" {
				subject = "ip:" + requestcontext.ClientIP(ctx)
			}

			result, err := m.limiter.Check(ctx, subject, action)
			if err != nil {
				// Misconfiguration, not a ledger outage; the limiter already
				// absorbs those. Let the request through rather than block.
				m.logger.ErrorContext(ctx, "rate limit check failed", "action", action, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests for this operation. Please try again later.",
		"retry_after": result.RetryAfter,
	})
}
