package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/revisionable/internal/auth"
)

func TestRequestMetaMiddleware(t *testing.T) {
	var meta auth.RequestMeta
	handler := RequestMetaMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ = auth.RequestMetaFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "192.0.2.10", meta.IP)
	assert.Equal(t, "198.51.100.7, 10.0.0.1", meta.Forwarded)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, meta.RequestID, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc-123", meta.RequestID)
}

func TestJWTMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	var principal auth.Principal
	var authenticated bool
	handler := JWTMiddleware(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, authenticated = auth.PrincipalFromContext(r.Context())
	}))

	token, err := SignToken(secret, "42", map[string]any{"uid": 7})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, authenticated)
	assert.Equal(t, "42", principal.Key)

	id, ok := auth.GuardResolver{Field: "uid"}.CurrentUserID(auth.ContextWithPrincipal(req.Context(), principal))
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	authenticated = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, authenticated, "anonymous requests pass through")

	forged, err := SignToken([]byte("other-secret"), "42", nil)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/records/post/1", nil))

	line := buf.String()
	assert.True(t, strings.Contains(line, "status=418"), line)
	assert.True(t, strings.Contains(line, "path=/records/post/1"), line)
	assert.True(t, strings.Contains(line, "method=DELETE"), line)
}
