package revision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
)

// Retention prunes the oldest revisions of a subject beyond a count limit.
//
// Enforce is not serialized per subject. The excess and the id bound come from one
// read, so a pass racing another can only delete ids below the limit-th newest it
// observed, never more.
type Retention struct {
	revisions repository.RevisionRepository
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewRetention creates a retention policy over the given repository.
func NewRetention(revisions repository.RevisionRepository, logger *slog.Logger, recorder *metrics.Recorder) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{revisions: revisions, logger: logger, metrics: recorder}
}

// Enforce deletes all but the newest limit revisions (lowest id first) and returns
// how many were removed. It is a no-op when limit <= 0 or the subject is within the limit.
func (p *Retention) Enforce(ctx context.Context, subject domain.SubjectRef, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	revisions, err := p.revisions.Query(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("failed to load revisions for pruning: %w", err)
	}
	excess := len(revisions) - limit
	if excess <= 0 {
		return 0, nil
	}

	ids := make([]int64, len(revisions))
	for i, revision := range revisions {
		ids[i] = revision.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	deleted, err := p.revisions.DeleteRange(ctx, subject, domain.RevisionRange{MaxID: ids[excess-1]})
	if err != nil {
		return 0, fmt.Errorf("failed to prune revisions: %w", err)
	}

	p.metrics.Pruned(subject.Type, "retention", deleted)
	p.logger.Debug("pruned revisions",
		"subject_type", subject.Type,
		"subject_id", subject.ID,
		"limit", limit,
		"deleted", deleted,
	)
	return deleted, nil
}
