package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/revisionable/internal/auth"
)

const (
	RequestIDHeader    = "X-Request-ID"
	forwardedForHeader = "X-Forwarded-For"
)

// RequestMetaMiddleware records the caller's address, forwarded-for chain and a
// request id on the context.
func RequestMetaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		meta := auth.RequestMeta{
			IP:        remoteIP(r.RemoteAddr),
			Forwarded: strings.TrimSpace(r.Header.Get(forwardedForHeader)),
			RequestID: requestID,
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithRequestMeta(r.Context(), meta)))
	})
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
