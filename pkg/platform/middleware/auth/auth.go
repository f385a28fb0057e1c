// Package auth authenticates bearer tokens and exposes caller identity to
// downstream handlers through the request context.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "taxtrail/pkg/domain-errors"
	"taxtrail/pkg/platform/httputil"
	"taxtrail/pkg/requestcontext"
)

// Claims are the JWT claims issued by the surrounding platform.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware validates HS256 bearer tokens.
type Middleware struct {
	signingKey []byte
	logger     *slog.Logger
}

func New(signingKey string, logger *slog.Logger) *Middleware {
	return &Middleware{signingKey: []byte(signingKey), logger: logger}
}

// Authenticate rejects requests without a valid bearer token and injects the
// actor identity and role into the context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.parse(r)
		if err != nil {
			m.logger.WarnContext(r.Context(), "rejected request with invalid token",
				"request_id", requestcontext.RequestID(r.Context()),
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}

		ctx := requestcontext.WithActorID(r.Context(), claims.Subject)
		ctx = requestcontext.WithRole(ctx, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated callers without the admin role. Must be
// mounted after Authenticate.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requestcontext.IsAdmin(r.Context()) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "administrative privilege required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) parse(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "bearer token required")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return m.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
