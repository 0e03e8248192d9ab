package revision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
)

// Result is the outcome of a rollback: the refreshed record and its revisions,
// newest-first.
type Result struct {
	Record    *domain.Record
	Target    domain.Revision
	Revisions []domain.Revision
}

// Rollback restores records to the state captured in a prior revision.
type Rollback struct {
	revisions repository.RevisionRepository
	registry  *Registry
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewRollback creates a rollback engine. publisher receives the rollingback
// notification and may be nil.
func NewRollback(
	revisions repository.RevisionRepository,
	registry *Registry,
	publisher events.Publisher,
	logger *slog.Logger,
	recorder *metrics.Recorder,
) *Rollback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rollback{
		revisions: revisions,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		metrics:   recorder,
	}
}

// ToTimestamp rolls the subject back to the newest revision created at or before ts.
func (r *Rollback) ToTimestamp(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*Result, error) {
	target, err := r.revisions.AtOrBefore(ctx, subject, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to find revision at %s: %w", ts.Format(time.RFC3339), err)
	}
	return r.ToRevision(ctx, target)
}

// Steps rolls the subject back to the revision n steps from the latest; 0 is the
// most recent revision.
func (r *Rollback) Steps(ctx context.Context, subject domain.SubjectRef, n int) (*Result, error) {
	target, err := r.revisions.NthFromLatest(ctx, subject, n)
	if err != nil {
		return nil, fmt.Errorf("failed to find revision %d steps back: %w", n, err)
	}
	return r.ToRevision(ctx, target)
}

// ToRevision restores the revision's subject to revision.Old. A nil revision is a
// no-op returning nil; a revision without a stored id is rejected.
func (r *Rollback) ToRevision(ctx context.Context, revision *domain.Revision) (*Result, error) {
	if revision == nil {
		return nil, nil
	}
	subject := revision.Subject
	if revision.ID <= 0 {
		return nil, fmt.Errorf("cannot roll back %s to unsaved revision", subject)
	}

	policy, err := r.registry.Policy(subject.Type)
	if err != nil {
		return nil, err
	}
	record, err := r.registry.Resolve(ctx, subject)
	if err != nil {
		r.metrics.Rollback(subject.Type, "not_found")
		return nil, fmt.Errorf("failed to resolve rollback subject: %w", err)
	}

	if policy.RollbackCleanup {
		deleted, err := r.revisions.DeleteRange(ctx, subject, domain.RevisionRange{MinID: revision.ID})
		if err != nil {
			r.metrics.StoreFailure("rollback_cleanup")
			r.metrics.Rollback(subject.Type, "failed")
			return nil, fmt.Errorf("failed to clean up superseded revisions: %w", err)
		}
		r.metrics.Pruned(subject.Type, "rollback", deleted)
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, events.RollingBack, record.Clone()); err != nil {
			r.logger.Warn("rollingback observer failed",
				"subject_type", subject.Type,
				"subject_id", subject.ID,
				"revision_id", revision.ID,
				"error", err,
			)
		}
	}

	saveCtx := ctx
	if !policy.LogRollback {
		saveCtx = WithoutRevisions(ctx)
	}
	record.Fill(revision.Old)
	if err := r.registry.Save(saveCtx, record); err != nil {
		r.metrics.Rollback(subject.Type, "failed")
		return nil, fmt.Errorf("failed to save rolled back record: %w", err)
	}

	revisions, err := r.revisions.Query(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to reload revisions: %w", err)
	}

	r.metrics.Rollback(subject.Type, "restored")
	r.logger.Info("rolled back record",
		"subject_type", subject.Type,
		"subject_id", subject.ID,
		"revision_id", revision.ID,
	)
	return &Result{Record: record, Target: *revision, Revisions: revisions}, nil
}
