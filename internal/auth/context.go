package auth

import (
	"context"
)

type contextKey string

const (
	sessionKey     contextKey = "session"
	principalKey   contextKey = "principal"
	requestMetaKey contextKey = "requestMeta"
)

// Session is the key/value state of an active session.
type Session map[string]any

// Principal is an authenticated caller established by a guard.
type Principal struct {
	// Key is the principal's primary identifier.
	Key string
	// Claims holds any additional attributes the guard extracted.
	Claims map[string]any
}

// RequestMeta captures ambient request metadata recorded on revisions.
type RequestMeta struct {
	IP        string
	Forwarded string
	RequestID string
}

// ContextWithSession returns a new context that carries the active session.
func ContextWithSession(ctx context.Context, session Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext retrieves the active session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionKey).(Session)
	if !ok || session == nil {
		return nil, false
	}
	return session, true
}

// ContextWithPrincipal returns a new context that carries the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(principalKey).(Principal)
	if !ok || principal.Key == "" {
		return Principal{}, false
	}
	return principal, true
}

// ContextWithRequestMeta returns a new context that carries request metadata.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestMetaKey, meta)
}

// RequestMetaFromContext retrieves request metadata. It reports false outside of a
// request, e.g. in CLI or background contexts.
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	if ctx == nil {
		return RequestMeta{}, false
	}
	meta, ok := ctx.Value(requestMetaKey).(RequestMeta)
	return meta, ok
}
