// Package api exposes revision history, rollback and the reference record stores over
// HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/export"
	"github.com/rpattn/revisionable/internal/middleware"
	"github.com/rpattn/revisionable/internal/repository"
	"github.com/rpattn/revisionable/internal/revision"
)

// Options configures the outer middleware stack.
type Options struct {
	CORSOrigins []string
	JWTSecret   []byte
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server routes API requests to the revision engine and record stores.
type Server struct {
	engine  *revision.Engine
	records map[string]repository.RecordRepository
	logger  *slog.Logger
}

// NewServer creates a server. records maps registered type tags to their host store.
func NewServer(engine *revision.Engine, records map[string]repository.RecordRepository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, records: records, logger: logger}
}

// Routes returns the bare route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /revisions/latest", s.handleLatestBatch)
	mux.HandleFunc("GET /revisions/{type}/{id}", s.handleList)
	mux.HandleFunc("GET /revisions/{type}/{id}/latest", s.handleLatest)
	mux.HandleFunc("GET /revisions/{type}/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /revisions/{type}/{id}/step/{n}", s.handleStep)
	mux.HandleFunc("GET /revisions/{type}/{id}/has-history", s.handleHasHistory)
	mux.HandleFunc("POST /revisions/{type}/{id}/rollback", s.handleRollback)
	mux.Handle("GET /revisions/{type}/{id}/export.xlsx", export.NewHTTPHandler(export.NewService(s.engine.History, s.logger)))
	mux.HandleFunc("GET /users/{id}/actions", s.handleActions)

	mux.HandleFunc("GET /records/{type}/{id}", s.handleGetRecord)
	mux.HandleFunc("POST /records/{type}", s.handleCreateRecord)
	mux.HandleFunc("PUT /records/{type}/{id}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /records/{type}/{id}", s.handleDeleteRecord)
	mux.HandleFunc("POST /records/{type}/{id}/restore", s.handleRestoreRecord)

	return mux
}

// Handler returns the routes wrapped in CORS, access logging, request metadata,
// bearer authentication and the per-request revision loader.
func (s *Server) Handler(opts Options) http.Handler {
	mux := s.Routes()
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
	})

	var handler http.Handler = mux
	handler = middleware.DataLoaderMiddleware(s.engine.History)(handler)
	handler = middleware.JWTMiddleware(opts.JWTSecret, s.logger)(handler)
	handler = middleware.RequestMetaMiddleware(handler)
	handler = middleware.LoggingMiddleware(s.logger)(handler)
	return corsHandler.Handler(handler)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSubjectNotFound), errors.Is(err, domain.ErrUnknownRecordType):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConfigInvalid):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}
