package auth

import "context"

type contextKey struct{}

// WithPrincipal returns a copy of ctx carrying the principal ID.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, contextKey{}, principalID)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
