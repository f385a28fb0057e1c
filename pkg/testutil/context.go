// Package testutil provides common test utilities for handler and
// integration tests.
package testutil

import (
	"context"
	"net/http"

	"taxtrail/pkg/requestcontext"
)

// AdminContext returns a context carrying an administrative actor, as the
// auth middleware would populate it.
func AdminContext(actorID string) context.Context {
	ctx := requestcontext.WithActorID(context.Background(), actorID)
	return requestcontext.WithRole(ctx, requestcontext.RoleAdmin)
}

// MemberContext returns a context carrying a non-administrative actor.
func MemberContext(actorID string) context.Context {
	ctx := requestcontext.WithActorID(context.Background(), actorID)
	return requestcontext.WithRole(ctx, requestcontext.RoleMember)
}

// AsAdmin stamps the request with an administrative actor identity.
func AsAdmin(req *http.Request, actorID string) *http.Request {
	ctx := requestcontext.WithActorID(req.Context(), actorID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleAdmin)
	return req.WithContext(ctx)
}

// AsMember stamps the request with a non-administrative actor identity.
func AsMember(req *http.Request, actorID string) *http.Request {
	ctx := requestcontext.WithActorID(req.Context(), actorID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleMember)
	return req.WithContext(ctx)
}
