package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/repository"
)

type recordPayload struct {
	Attributes map[string]any `json:"attributes"`
}

func (s *Server) recordStore(recordType string) (repository.RecordRepository, error) {
	store, ok := s.records[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRecordType, recordType)
	}
	return store, nil
}

func decodeRecordPayload(r *http.Request) (map[string]any, error) {
	var payload recordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if payload.Attributes == nil {
		return nil, fmt.Errorf("attributes are required")
	}
	return payload.Attributes, nil
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	store, err := s.recordStore(subject.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := store.Find(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	recordType := strings.TrimSpace(r.PathValue("type"))
	store, err := s.recordStore(recordType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attributes, err := decodeRecordPayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record := domain.NewRecord(recordType, attributes)
	if err := store.Create(r.Context(), record); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	store, err := s.recordStore(subject.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	attributes, err := decodeRecordPayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := store.Find(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for key, value := range attributes {
		record.Attributes[key] = value
	}
	if err := store.Save(r.Context(), record); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	store, err := s.recordStore(subject.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := store.Find(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := store.Delete(r.Context(), record); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreRecord(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	store, err := s.recordStore(subject.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := store.Restore(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
