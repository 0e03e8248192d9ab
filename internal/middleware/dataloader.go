package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/revisionable/internal/revisionloader"
)

type ctxKey string

const revisionLoaderKey ctxKey = "revisionLoader"

// DataLoaderMiddleware attaches a per-request revision loader to the context
func DataLoaderMiddleware(source revisionloader.LatestSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := revisionloader.NewRevisionLoader(source)
			ctx := context.WithValue(r.Context(), revisionLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RevisionLoaderFromContext retrieves the loader from context
func RevisionLoaderFromContext(ctx context.Context) *revisionloader.RevisionLoader {
	if l, ok := ctx.Value(revisionLoaderKey).(*revisionloader.RevisionLoader); ok {
		return l
	}
	return nil
}
