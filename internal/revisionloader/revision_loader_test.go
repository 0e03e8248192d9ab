package revisionloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/revisionable/internal/domain"
)

type countingSource struct {
	mu      sync.Mutex
	calls   int
	latest  map[domain.SubjectRef]domain.Revision
	failure error
}

func (s *countingSource) LatestRevisions(_ context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failure != nil {
		return nil, s.failure
	}
	out := map[domain.SubjectRef]domain.Revision{}
	for _, subject := range subjects {
		if revision, ok := s.latest[subject]; ok {
			out[subject] = revision
		}
	}
	return out, nil
}

func TestLoadManyBatchesAndPreservesOrder(t *testing.T) {
	post1 := domain.SubjectRef{Type: "post", ID: 1}
	post2 := domain.SubjectRef{Type: "post", ID: 2}
	user9 := domain.SubjectRef{Type: "user", ID: 9}
	source := &countingSource{latest: map[domain.SubjectRef]domain.Revision{
		post1: {ID: 10, Subject: post1},
		user9: {ID: 11, Subject: user9},
	}}

	loader := NewRevisionLoader(source)
	revisions, err := loader.LoadMany(context.Background(), []domain.SubjectRef{user9, post2, post1})
	require.NoError(t, err)
	require.Len(t, revisions, 3)

	assert.Equal(t, int64(11), revisions[0].ID)
	assert.Nil(t, revisions[1])
	assert.Equal(t, int64(10), revisions[2].ID)
	assert.Equal(t, 1, source.calls)
}

func TestLoadUsesCache(t *testing.T) {
	post1 := domain.SubjectRef{Type: "post", ID: 1}
	source := &countingSource{latest: map[domain.SubjectRef]domain.Revision{post1: {ID: 3, Subject: post1}}}
	loader := NewRevisionLoader(source)

	for i := 0; i < 3; i++ {
		revision, err := loader.Load(context.Background(), post1)
		require.NoError(t, err)
		require.NotNil(t, revision)
		assert.Equal(t, int64(3), revision.ID)
	}
	assert.Equal(t, 1, source.calls)
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	source := &countingSource{failure: domain.ErrStoreUnavailable}
	loader := NewRevisionLoader(source)

	_, err := loader.Load(context.Background(), domain.SubjectRef{Type: "post", ID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}
