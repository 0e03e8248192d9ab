package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Provider names accepted by the user_provider option.
const (
	ProviderSession = "session"
	ProviderGuard   = "guard"
)

// UserResolver identifies the actor behind the current operation.
type UserResolver interface {
	// CurrentUserID returns the actor's id, or false when none can be resolved.
	CurrentUserID(ctx context.Context) (int64, bool)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context) (int64, bool)

// CurrentUserID implements UserResolver.
func (f UserResolverFunc) CurrentUserID(ctx context.Context) (int64, bool) {
	return f(ctx)
}

// SessionResolver reads the actor id from a field of the active session.
type SessionResolver struct {
	// Field is the session key holding the id; "id" when empty.
	Field string
}

// CurrentUserID implements UserResolver.
func (r SessionResolver) CurrentUserID(ctx context.Context) (int64, bool) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return 0, false
	}
	field := r.Field
	if field == "" {
		field = "id"
	}
	return toUserID(session[field])
}

// GuardResolver reads the actor id from the authenticated principal.
type GuardResolver struct {
	// Field selects a claim instead of the principal key when set.
	Field string
}

// CurrentUserID implements UserResolver.
func (r GuardResolver) CurrentUserID(ctx context.Context) (int64, bool) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return 0, false
	}
	if r.Field != "" {
		return toUserID(principal.Claims[r.Field])
	}
	return toUserID(principal.Key)
}

// NewUserResolver binds the resolver named by provider. An empty provider selects the guard.
func NewUserResolver(provider, field string) (UserResolver, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderSession:
		return SessionResolver{Field: field}, nil
	case ProviderGuard, "":
		return GuardResolver{Field: field}, nil
	default:
		return nil, fmt.Errorf("unknown user provider %q", provider)
	}
}

func toUserID(value any) (int64, bool) {
	if value == nil {
		return 0, false
	}
	id, err := cast.ToInt64E(value)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
