package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"github.com/rpattn/revisionable/internal/auth"
)

// JWTMiddleware establishes the guard principal from an HS256 bearer token and exposes
// its claims as the session. Requests without a token pass through anonymously;
// invalid tokens are rejected.
func JWTMiddleware(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "unsupported authorization scheme", http.StatusUnauthorized)
				return
			}

			principal, err := parsePrincipal(strings.TrimSpace(token), secret)
			if err != nil {
				logger.Warn("rejected bearer token", "error", err, "remote", r.RemoteAddr)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			ctx = auth.ContextWithSession(ctx, auth.Session(principal.Claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parsePrincipal(token string, secret []byte) (auth.Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return auth.Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		// Fall back to a numeric "sub" claim, which GetSubject rejects.
		subject, err = cast.ToStringE(claims["sub"])
		if err != nil || subject == "" {
			return auth.Principal{}, fmt.Errorf("token has no subject")
		}
	}
	return auth.Principal{Key: subject, Claims: claims}, nil
}

// SignToken issues an HS256 token for subject with extra claims. It is used by revctl
// and tests.
func SignToken(secret []byte, subject string, extra map[string]any) (string, error) {
	claims := jwt.MapClaims{"sub": subject}
	for key, value := range extra {
		claims[key] = value
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
