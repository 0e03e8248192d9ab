package repository

import (
	"context"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
)

// RevisionRepository defines the persistence operations for revision entries.
// Implementations wrap driver failures with domain.ErrStoreUnavailable.
type RevisionRepository interface {
	// Append assigns the next id and persists the revision atomically.
	Append(ctx context.Context, revision domain.Revision) (domain.Revision, error)
	// Query returns the subject's revisions newest-first (created_at, then id).
	Query(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error)
	// AtOrBefore returns the newest revision created at or before ts, or nil.
	AtOrBefore(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*domain.Revision, error)
	// NthFromLatest returns the revision at zero-based offset n in newest-first order, or nil.
	NthFromLatest(ctx context.Context, subject domain.SubjectRef, n int) (*domain.Revision, error)
	Count(ctx context.Context, subject domain.SubjectRef) (int, error)
	// DeleteRange removes the subject's revisions whose id falls in the range.
	DeleteRange(ctx context.Context, subject domain.SubjectRef, rng domain.RevisionRange) (int, error)

	// ListByUser returns the revisions recorded for an actor, newest-first.
	ListByUser(ctx context.Context, userID int64) ([]domain.Revision, error)
	// LatestBySubjects returns the newest revision of each subject that has one.
	LatestBySubjects(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error)
}

// RecordRepository is a host data layer for generic attribute records that fires
// lifecycle notifications after each mutation.
type RecordRepository interface {
	Find(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error)
	Create(ctx context.Context, record *domain.Record) error
	Save(ctx context.Context, record *domain.Record) error
	Delete(ctx context.Context, record *domain.Record) error
	Restore(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error)
}
