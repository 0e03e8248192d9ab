package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
)

// MemoryRevisionRepository keeps revisions in process memory. It is used by tests and
// by deployments that do not need durable history.
type MemoryRevisionRepository struct {
	mu        sync.RWMutex
	nextID    int64
	revisions []domain.Revision
	now       func() time.Time
}

// NewMemoryRevisionRepository creates an empty in-memory repository.
func NewMemoryRevisionRepository() *MemoryRevisionRepository {
	return &MemoryRevisionRepository{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the timestamp source used for revisions without created_at.
func (r *MemoryRevisionRepository) WithClock(now func() time.Time) *MemoryRevisionRepository {
	r.now = now
	return r
}

func (r *MemoryRevisionRepository) Append(ctx context.Context, revision domain.Revision) (domain.Revision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Revision{}, unavailable("append revision", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	revision = stampRevision(revision, r.now())
	revision.ID = r.nextID
	revision.Old = cloneStrings(revision.Old)
	revision.New = cloneStrings(revision.New)
	r.revisions = append(r.revisions, revision)
	return copyRevision(revision), nil
}

func (r *MemoryRevisionRepository) Query(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("query revisions", err)
	}
	return r.subjectRevisions(subject), nil
}

func (r *MemoryRevisionRepository) AtOrBefore(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*domain.Revision, error) {
	revisions, err := r.Query(ctx, subject)
	if err != nil {
		return nil, err
	}
	for _, revision := range revisions {
		if !revision.CreatedAt.After(ts) {
			found := revision
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRevisionRepository) NthFromLatest(ctx context.Context, subject domain.SubjectRef, n int) (*domain.Revision, error) {
	revisions, err := r.Query(ctx, subject)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(revisions) {
		return nil, nil
	}
	found := revisions[n]
	return &found, nil
}

func (r *MemoryRevisionRepository) Count(ctx context.Context, subject domain.SubjectRef) (int, error) {
	revisions, err := r.Query(ctx, subject)
	if err != nil {
		return 0, err
	}
	return len(revisions), nil
}

func (r *MemoryRevisionRepository) DeleteRange(ctx context.Context, subject domain.SubjectRef, rng domain.RevisionRange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("delete revisions", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.revisions[:0]
	deleted := 0
	for _, revision := range r.revisions {
		if revision.Subject == subject && rng.Contains(revision.ID) {
			deleted++
			continue
		}
		kept = append(kept, revision)
	}
	r.revisions = kept
	return deleted, nil
}

func (r *MemoryRevisionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list revisions by user", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Revision{}
	for _, revision := range r.revisions {
		if revision.UserID != nil && *revision.UserID == userID {
			out = append(out, copyRevision(revision))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRevisionRepository) LatestBySubjects(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error) {
	latest := make(map[domain.SubjectRef]domain.Revision, len(subjects))
	for _, subject := range subjects {
		revision, err := r.NthFromLatest(ctx, subject, 0)
		if err != nil {
			return nil, err
		}
		if revision != nil {
			latest[subject] = *revision
		}
	}
	return latest, nil
}

func (r *MemoryRevisionRepository) subjectRevisions(subject domain.SubjectRef) []domain.Revision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Revision{}
	for _, revision := range r.revisions {
		if revision.Subject == subject {
			out = append(out, copyRevision(revision))
		}
	}
	sortNewestFirst(out)
	return out
}

func copyRevision(revision domain.Revision) domain.Revision {
	revision.Old = cloneStrings(revision.Old)
	revision.New = cloneStrings(revision.New)
	return revision
}

func cloneStrings(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
