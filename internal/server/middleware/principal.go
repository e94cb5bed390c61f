package middleware

import (
	"context"

	"github.com/leetstack/keygate/internal/service"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p service.Principal) context.Context {
	if info := requestInfoFrom(ctx); info != nil {
		info.setUserID(p.UserID())
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// ok is false for unauthenticated requests.
func GetPrincipal(ctx context.Context) (service.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(service.Principal)
	if !ok || p.IsZero() {
		return service.Principal{}, false
	}
	return p, true
}
