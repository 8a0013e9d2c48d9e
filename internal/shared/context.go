package shared

import (
	"context"
	"strings"
)

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal attaches the authenticated principal id.
func ContextWithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalContextKey{}, strings.TrimSpace(principalID))
}

// PrincipalFromContext returns the principal id attached to ctx.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(principalContextKey{}).(string)
	return id, id != ""
}
