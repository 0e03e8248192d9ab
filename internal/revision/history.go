package revision

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/repository"
)

// History answers read-only questions about a subject's revisions.
type History struct {
	revisions repository.RevisionRepository
}

// NewHistory creates a history reader.
func NewHistory(revisions repository.RevisionRepository) *History {
	return &History{revisions: revisions}
}

// Revisions lists the subject's revisions newest-first.
func (h *History) Revisions(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error) {
	revisions, err := h.revisions.Query(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revisions, nil
}

// LatestRevision returns the newest revision, or nil when there is none.
func (h *History) LatestRevision(ctx context.Context, subject domain.SubjectRef) (*domain.Revision, error) {
	return h.HistoryStep(ctx, subject, 0)
}

// Snapshot returns the newest revision created at or before ts, or nil.
func (h *History) Snapshot(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*domain.Revision, error) {
	revision, err := h.revisions.AtOrBefore(ctx, subject, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return revision, nil
}

// HistoryStep returns the revision n steps back from the latest, or nil.
func (h *History) HistoryStep(ctx context.Context, subject domain.SubjectRef, n int) (*domain.Revision, error) {
	if n < 0 {
		return nil, nil
	}
	revision, err := h.revisions.NthFromLatest(ctx, subject, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load history step: %w", err)
	}
	return revision, nil
}

// HasHistory reports whether any revision exists, or, when at is set, whether one
// exists at or before it.
func (h *History) HasHistory(ctx context.Context, subject domain.SubjectRef, at *time.Time) (bool, error) {
	if at != nil {
		revision, err := h.Snapshot(ctx, subject, *at)
		if err != nil {
			return false, err
		}
		return revision != nil, nil
	}
	count, err := h.revisions.Count(ctx, subject)
	if err != nil {
		return false, fmt.Errorf("failed to count revisions: %w", err)
	}
	return count > 0, nil
}

// Actions lists the revisions recorded for an actor, newest-first.
func (h *History) Actions(ctx context.Context, userID int64) ([]domain.Revision, error) {
	revisions, err := h.revisions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return revisions, nil
}

// LatestRevisions returns the newest revision of each subject that has one.
func (h *History) LatestRevisions(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error) {
	latest, err := h.revisions.LatestBySubjects(ctx, subjects)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest revisions: %w", err)
	}
	return latest, nil
}
