package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/middleware"
	"github.com/rpattn/revisionable/internal/revision"
	"github.com/rpattn/revisionable/internal/revisionloader"
)

type rollbackPayload struct {
	At    *string `json:"at"`
	Steps *int    `json:"steps"`
}

type rollbackResponse struct {
	Record    *domain.Record    `json:"record"`
	Target    domain.Revision   `json:"target"`
	Revisions []domain.Revision `json:"revisions"`
}

type latestEntry struct {
	Subject  string           `json:"subject"`
	Revision *domain.Revision `json:"revision"`
}

func subjectFromPath(r *http.Request) (domain.SubjectRef, error) {
	recordType := strings.TrimSpace(r.PathValue("type"))
	if recordType == "" {
		return domain.SubjectRef{}, fmt.Errorf("missing record type")
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return domain.SubjectRef{}, fmt.Errorf("invalid record id: %w", err)
	}
	return domain.SubjectRef{Type: recordType, ID: id}, nil
}

// parseTimestamp accepts RFC 3339 or the stored "2006-01-02 15:04:05" UTC form.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(domain.DateTimeFormat, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return ts, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	revisions, err := s.engine.History.Revisions(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	revision, err := s.engine.History.LatestRevision(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRevision(w, revision)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := parseTimestamp(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	revision, err := s.engine.History.Snapshot(r.Context(), subject, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRevision(w, revision)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		http.Error(w, "step must be a non-negative integer", http.StatusBadRequest)
		return
	}
	revision, err := s.engine.History.HistoryStep(r.Context(), subject, n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRevision(w, revision)
}

func (s *Server) handleHasHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var at *time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		at = &ts
	}
	has, err := s.engine.History.HasHistory(r.Context(), subject, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_history": has})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload rollbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	switch {
	case payload.At != nil && payload.Steps != nil:
		http.Error(w, "specify either at or steps, not both", http.StatusBadRequest)
		return
	case payload.At != nil:
		at, err := parseTimestamp(*payload.At)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := s.engine.Rollback.ToTimestamp(r.Context(), subject, at)
		s.writeRollback(w, r, result, err)
	case payload.Steps != nil:
		if *payload.Steps < 0 {
			http.Error(w, "steps must be non-negative", http.StatusBadRequest)
			return
		}
		result, err := s.engine.Rollback.Steps(r.Context(), subject, *payload.Steps)
		s.writeRollback(w, r, result, err)
	default:
		http.Error(w, "at or steps is required", http.StatusBadRequest)
	}
}

func (s *Server) handleLatestBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["subject"]
	if len(raw) == 0 {
		http.Error(w, "at least one subject is required", http.StatusBadRequest)
		return
	}
	subjects := make([]domain.SubjectRef, len(raw))
	for i, value := range raw {
		subject, err := domain.ParseSubjectRef(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		subjects[i] = subject
	}

	loader := middleware.RevisionLoaderFromContext(r.Context())
	if loader == nil {
		loader = revisionloader.NewRevisionLoader(s.engine.History)
	}
	revisions, err := loader.LoadMany(r.Context(), subjects)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries := make([]latestEntry, len(subjects))
	for i, subject := range subjects {
		entries[i] = latestEntry{Subject: subject.String(), Revision: revisions[i]}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	revisions, err := s.engine.History.Actions(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (s *Server) writeRevision(w http.ResponseWriter, revision *domain.Revision) {
	if revision == nil {
		http.Error(w, "no matching revision", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, revision)
}

func (s *Server) writeRollback(w http.ResponseWriter, r *http.Request, result *revision.Result, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{
		Record:    result.Record,
		Target:    result.Target,
		Revisions: result.Revisions,
	})
}
