// Package httpapi composes the HTTP surface. Handlers stay thin and delegate
// to domain services; transport concerns live here.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ratelimithandler "taxtrail/internal/ratelimit/handler"
	ratelimitmiddleware "taxtrail/internal/ratelimit/middleware"
	"taxtrail/internal/ratelimit/models"
	securityhandler "taxtrail/internal/security/handler"
	"taxtrail/pkg/platform/httputil"
	"taxtrail/pkg/platform/middleware/auth"
	"taxtrail/pkg/platform/middleware/request"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Deps collects everything the router needs.
type Deps struct {
	Auth      *auth.Middleware
	Limiter   *ratelimitmiddleware.Middleware
	RateLimit *ratelimithandler.Handler
	Security  *securityhandler.Handler
	Health    map[string]HealthChecker
	Logger    *slog.Logger
}

// NewRouter wires all endpoints. The security dashboard is admin-only and
// throttled under the admin_operation budget; the rate limit check endpoint
// requires any authenticated caller and is throttled as an api_call.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(request.Annotate)

	r.Get("/healthz", healthHandler(deps.Health, deps.Logger))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(deps.Limiter.RateLimit(models.ActionAPICall))
			deps.RateLimit.Register(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireAdmin)
			r.Use(deps.Limiter.RateLimit(models.ActionAdminOperation))
			deps.Security.Register(r)
		})
	})

	return r
}

func healthHandler(checks map[string]HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				report[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, report)
	}
}
