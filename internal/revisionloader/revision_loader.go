// Package revisionloader batches latest-revision lookups across many subjects.
package revisionloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/revisionable/internal/domain"
)

// LatestSource answers batched latest-revision queries.
type LatestSource interface {
	LatestRevisions(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error)
}

type RevisionLoader struct {
	Loader *dataloader.Loader
}

func NewRevisionLoader(source LatestSource) *RevisionLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		// Parse keys, keeping per-key errors
		subjects := make([]domain.SubjectRef, 0, len(keys))
		parsed := make([]*domain.SubjectRef, len(keys))
		for i, k := range keys {
			subject, err := domain.ParseSubjectRef(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid subject key: %w", err)}
				continue
			}
			parsed[i] = &subject
			subjects = append(subjects, subject)
		}

		latest, err := source.LatestRevisions(ctx, subjects)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		// Build results in the same order as keys
		for i, subject := range parsed {
			if subject == nil {
				continue
			}
			if revision, ok := latest[*subject]; ok {
				found := revision
				results[i] = &dataloader.Result{Data: &found}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.Revision)(nil)}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &RevisionLoader{Loader: loader}
}

// Load returns the newest revision of subject, or nil when it has none.
func (l *RevisionLoader) Load(ctx context.Context, subject domain.SubjectRef) (*domain.Revision, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(subject.String()))()
	if err != nil {
		return nil, err
	}
	revision, _ := data.(*domain.Revision)
	return revision, nil
}

// LoadMany returns the newest revision of each subject, in order. Subjects without
// history map to nil.
func (l *RevisionLoader) LoadMany(ctx context.Context, subjects []domain.SubjectRef) ([]*domain.Revision, error) {
	keys := make(dataloader.Keys, len(subjects))
	for i, subject := range subjects {
		keys[i] = dataloader.StringKey(subject.String())
	}

	data, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	revisions := make([]*domain.Revision, len(data))
	for i, item := range data {
		revisions[i], _ = item.(*domain.Revision)
	}
	return revisions, nil
}
