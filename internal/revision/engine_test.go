package revision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/revisionable/internal/auth"
	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	engine    *Engine
	revisions repository.RevisionRepository
	posts     *repository.MemoryRecordRepository
	metrics   *metrics.Recorder
}

func newFixture(t *testing.T, defaults domain.Defaults, config domain.RevisionConfig, opts ...func(*Options)) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryRevisionRepository(), defaults, config, opts...)
}

func newFixtureWithStore(t *testing.T, revisions repository.RevisionRepository, defaults domain.Defaults, config domain.RevisionConfig, opts ...func(*Options)) *fixture {
	t.Helper()

	clock := &tickingClock{now: epoch}
	recorder := metrics.NewRecorder()
	options := Options{Defaults: defaults, Now: clock.Now, Metrics: recorder}
	for _, opt := range opts {
		opt(&options)
	}

	bus := events.NewBus()
	engine := NewEngine(revisions, bus, options)
	posts := repository.NewMemoryRecordRepository("posts", bus).WithClock(clock.Now)
	require.NoError(t, engine.Register(Registration{
		Type:   "post",
		Table:  "posts",
		Store:  posts,
		Config: config,
	}))

	return &fixture{engine: engine, revisions: revisions, posts: posts, metrics: recorder}
}

func (f *fixture) create(t *testing.T, attributes map[string]any) *domain.Record {
	t.Helper()
	record := domain.NewRecord("post", attributes)
	require.NoError(t, f.posts.Create(context.Background(), record))
	return record
}

func (f *fixture) update(t *testing.T, record *domain.Record, key string, value any) {
	t.Helper()
	record.Attributes[key] = value
	require.NoError(t, f.posts.Save(context.Background(), record))
}

func (f *fixture) history(t *testing.T, record *domain.Record) []domain.Revision {
	t.Helper()
	revisions, err := f.engine.History.Revisions(context.Background(), record.Subject())
	require.NoError(t, err)
	return revisions
}

func TestCreateUpdateRollbackScenario(t *testing.T) {
	f := newFixture(t, domain.Defaults{RollbackCleanup: true, LogRollback: true}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	revisions := f.history(t, post)
	require.Len(t, revisions, 1)
	assert.Equal(t, domain.ActionCreated, revisions[0].Action)
	assert.Empty(t, revisions[0].Old)
	assert.Equal(t, map[string]string{"name": "A"}, revisions[0].New)
	assert.Equal(t, "posts", revisions[0].TableName)

	f.update(t, post, "name", "B")
	revisions = f.history(t, post)
	require.Len(t, revisions, 2)
	updated := revisions[0]
	assert.Equal(t, domain.ActionUpdated, updated.Action)
	assert.Equal(t, map[string]string{"name": "A"}, updated.Old)
	assert.Equal(t, map[string]string{"name": "B"}, updated.New)

	result, err := f.engine.Rollback.Steps(ctx, post.Subject(), 0)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, updated.ID, result.Target.ID)
	assert.Equal(t, "A", result.Record.Attributes["name"])

	stored, err := f.posts.Find(ctx, post.Subject())
	require.NoError(t, err)
	assert.Equal(t, "A", stored.Attributes["name"])

	// The superseded update is gone and the rollback save is recorded in its place.
	require.Len(t, result.Revisions, 2)
	assert.Equal(t, domain.ActionUpdated, result.Revisions[0].Action)
	assert.Greater(t, result.Revisions[0].ID, updated.ID)
	assert.Equal(t, map[string]string{"name": "B"}, result.Revisions[0].Old)
	assert.Equal(t, map[string]string{"name": "A"}, result.Revisions[0].New)
	assert.Equal(t, domain.ActionCreated, result.Revisions[1].Action)
}

func TestRollbackWithoutLoggingLeavesNoRevision(t *testing.T) {
	f := newFixture(t, domain.Defaults{RollbackCleanup: true, LogRollback: false}, domain.RevisionConfig{})

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")

	result, err := f.engine.Rollback.Steps(context.Background(), post.Subject(), 0)
	require.NoError(t, err)
	require.Len(t, result.Revisions, 1)
	assert.Equal(t, domain.ActionCreated, result.Revisions[0].Action)
	assert.Equal(t, "A", result.Record.Attributes["name"])
}

func TestRollbackRoundTripKeepsHistoryWithoutCleanup(t *testing.T) {
	f := newFixture(t, domain.Defaults{LogRollback: true}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A", "body": "first"})
	f.update(t, post, "name", "B")
	f.update(t, post, "body", "second")

	target, err := f.engine.History.HistoryStep(ctx, post.Subject(), 1)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, map[string]string{"name": "A", "body": "first"}, target.Old)

	result, err := f.engine.Rollback.ToRevision(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "A", result.Record.Attributes["name"])
	assert.Equal(t, "first", result.Record.Attributes["body"])
	assert.Len(t, result.Revisions, 4)

	snapshot, err := f.engine.History.Snapshot(ctx, post.Subject(), target.CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, target.ID, snapshot.ID)
	assert.Equal(t, "A", snapshot.Old["name"])
}

func TestRollbackToTimestamp(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	revisions := f.history(t, post)
	require.Len(t, revisions, 2)

	result, err := f.engine.Rollback.ToTimestamp(ctx, post.Subject(), revisions[0].CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, revisions[0].ID, result.Target.ID)
	assert.Equal(t, "A", result.Record.Attributes["name"])

	none, err := f.engine.Rollback.ToTimestamp(ctx, post.Subject(), epoch)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRollbackStepsBounds(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	f.update(t, post, "name", "C")

	count, err := f.revisions.Count(ctx, post.Subject())
	require.NoError(t, err)

	oldest, err := f.engine.Rollback.Steps(ctx, post.Subject(), count-1)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, domain.ActionCreated, oldest.Target.Action)

	beyond, err := f.engine.Rollback.Steps(ctx, post.Subject(), count+5)
	require.NoError(t, err)
	assert.Nil(t, beyond)

	nilTarget, err := f.engine.Rollback.ToRevision(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, nilTarget)
}

func TestRollbackMissingSubject(t *testing.T) {
	f := newFixture(t, domain.Defaults{RollbackCleanup: true}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	require.NoError(t, f.posts.Delete(ctx, post))
	before := f.history(t, post)

	_, err := f.engine.Rollback.Steps(ctx, post.Subject(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSubjectNotFound))
	assert.Equal(t, before, f.history(t, post), "a failed rollback must not clean up history")
}

func TestRollbackRejectsUnsavedRevision(t *testing.T) {
	f := newFixture(t, domain.Defaults{RollbackCleanup: true, LogRollback: true}, domain.RevisionConfig{})
	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	before := f.history(t, post)

	result, err := f.engine.Rollback.ToRevision(context.Background(), &domain.Revision{
		Action:  domain.ActionUpdated,
		Subject: post.Subject(),
		Old:     map[string]string{"name": "Z"},
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, before, f.history(t, post))

	found, err := f.posts.Find(context.Background(), post.Subject())
	require.NoError(t, err)
	assert.Equal(t, "B", found.Attributes["name"])
}

func TestRollingBackNotification(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")

	var seen []string
	f.engine.Bus.Subscribe("post", events.RollingBack, func(_ context.Context, record *domain.Record) error {
		seen = append(seen, fmt.Sprint(record.Attributes["name"]))
		return errors.New("observer failures do not abort")
	})

	result, err := f.engine.Rollback.Steps(context.Background(), post.Subject(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, seen)
	assert.Equal(t, "A", result.Record.Attributes["name"])
}

func TestDeleteAndHasHistory(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	require.NoError(t, f.posts.Delete(ctx, post))

	latest, err := f.engine.History.LatestRevision(ctx, post.Subject())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, domain.ActionDeleted, latest.Action)
	assert.Equal(t, map[string]string{"name": "B"}, latest.Old)
	assert.Empty(t, latest.New)

	has, err := f.engine.History.HasHistory(ctx, post.Subject(), nil)
	require.NoError(t, err)
	assert.True(t, has)

	beforeCreation := epoch
	has, err = f.engine.History.HasHistory(ctx, post.Subject(), &beforeCreation)
	require.NoError(t, err)
	assert.False(t, has)

	restored, err := f.posts.Restore(ctx, post.Subject())
	require.NoError(t, err)
	latest, err = f.engine.History.LatestRevision(ctx, restored.Subject())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRestored, latest.Action)
	assert.Equal(t, map[string]string{"name": "B"}, latest.Old)
	assert.Equal(t, map[string]string{"name": "B"}, latest.New)
}

func TestDisabledTypeRecordsNothing(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{Enabled: domain.Bool(false)})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "A"})
	f.update(t, post, "name", "B")
	require.NoError(t, f.posts.Delete(ctx, post))
	_, err := f.posts.Restore(ctx, post.Subject())
	require.NoError(t, err)

	assert.Empty(t, f.history(t, post))
}

func TestUnchangedUpdateIsSkipped(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	post := f.create(t, map[string]any{"name": "A"})

	// Only updated_at changes, and it is excluded by the default deny-list.
	require.NoError(t, f.posts.Save(context.Background(), post))
	f.update(t, post, "name", "A")

	assert.Len(t, f.history(t, post), 1)
}

func TestAllowListRestrictsCapturedAttributes(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{
		Revisionable:    []string{"name"},
		NonRevisionable: []string{"name", "body"},
	})

	post := f.create(t, map[string]any{"name": "A", "body": "text"})
	f.update(t, post, "body", "changed")
	f.update(t, post, "name", "B")

	revisions := f.history(t, post)
	require.Len(t, revisions, 2, "a body-only change is not a tracked diff")
	assert.Equal(t, map[string]string{"name": "A"}, revisions[1].New)
	assert.Equal(t, map[string]string{"name": "B"}, revisions[0].New)
}

func TestDenyListExcludesAttributes(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{NonRevisionable: []string{"created_at"}})

	post := f.create(t, map[string]any{"name": "A"})
	revisions := f.history(t, post)
	require.Len(t, revisions, 1)
	assert.Contains(t, revisions[0].New, "name")
	assert.Contains(t, revisions[0].New, "updated_at")
	assert.NotContains(t, revisions[0].New, "created_at")
}

func TestRetentionDeletesOldest(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "v0"})
	for i := 1; i < 5; i++ {
		f.update(t, post, "name", fmt.Sprintf("v%d", i))
	}
	all := f.history(t, post)
	require.Len(t, all, 5)

	deleted, err := f.engine.Retention.Enforce(ctx, post.Subject(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	kept := f.history(t, post)
	require.Len(t, kept, 3)
	for i, revision := range kept {
		assert.Equal(t, all[i].ID, revision.ID)
	}

	deleted, err = f.engine.Retention.Enforce(ctx, post.Subject(), 3)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = f.engine.Retention.Enforce(ctx, post.Subject(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "limit 0 is unlimited")
}

// interleavedQueries runs afterQuery once, between the first Query and its caller's
// delete.
type interleavedQueries struct {
	*repository.MemoryRevisionRepository
	once       sync.Once
	afterQuery func()
}

func (s *interleavedQueries) Query(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error) {
	revisions, err := s.MemoryRevisionRepository.Query(ctx, subject)
	s.once.Do(s.afterQuery)
	return revisions, err
}

func TestRetentionInterleavedPassesKeepLimit(t *testing.T) {
	store := repository.NewMemoryRevisionRepository()
	f := newFixtureWithStore(t, store, domain.Defaults{}, domain.RevisionConfig{})
	ctx := context.Background()

	post := f.create(t, map[string]any{"name": "v0"})
	for i := 1; i < 5; i++ {
		f.update(t, post, "name", fmt.Sprintf("v%d", i))
	}
	all := f.history(t, post)
	require.Len(t, all, 5)

	var concurrent int
	racing := &interleavedQueries{MemoryRevisionRepository: store}
	racing.afterQuery = func() {
		var err error
		concurrent, err = NewRetention(store, nil, nil).Enforce(ctx, post.Subject(), 3)
		require.NoError(t, err)
	}

	deleted, err := NewRetention(racing, nil, nil).Enforce(ctx, post.Subject(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, concurrent)
	assert.Zero(t, deleted)

	kept := f.history(t, post)
	require.Len(t, kept, 3)
	assert.Equal(t, all[:3], kept)
}

func TestListenerEnforcesLimitWhenCleanupEnabled(t *testing.T) {
	f := newFixture(t, domain.Defaults{Limit: 100}, domain.RevisionConfig{
		Limit:        domain.Int(2),
		LimitCleanup: domain.Bool(true),
	})

	post := f.create(t, map[string]any{"name": "v0"})
	for i := 1; i < 4; i++ {
		f.update(t, post, "name", fmt.Sprintf("v%d", i))
	}

	revisions := f.history(t, post)
	require.Len(t, revisions, 2)
	assert.Equal(t, "v3", revisions[0].New["name"])
	assert.Equal(t, "v2", revisions[1].New["name"])
}

func TestEnginePruneUsesPolicyLimit(t *testing.T) {
	f := newFixture(t, domain.Defaults{Limit: 1}, domain.RevisionConfig{})
	post := f.create(t, map[string]any{"name": "v0"})
	f.update(t, post, "name", "v1")

	deleted, err := f.engine.Prune(context.Background(), post.Subject())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = f.engine.Prune(context.Background(), domain.SubjectRef{Type: "comment", ID: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownRecordType)
}

func TestActorAndRequestMetadata(t *testing.T) {
	users := auth.UserResolverFunc(func(ctx context.Context) (int64, bool) {
		return auth.GuardResolver{}.CurrentUserID(ctx)
	})
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{}, func(o *Options) { o.Users = users })

	ctx := auth.ContextWithPrincipal(context.Background(), auth.Principal{Key: "42"})
	ctx = auth.ContextWithRequestMeta(ctx, auth.RequestMeta{IP: "10.0.0.1", Forwarded: "203.0.113.9"})
	record := domain.NewRecord("post", map[string]any{"name": "A"})
	require.NoError(t, f.posts.Create(ctx, record))

	anonymous := f.create(t, map[string]any{"name": "B"})

	revisions := f.history(t, record)
	require.Len(t, revisions, 1)
	require.NotNil(t, revisions[0].UserID)
	assert.Equal(t, int64(42), *revisions[0].UserID)
	require.NotNil(t, revisions[0].IP)
	assert.Equal(t, "10.0.0.1", *revisions[0].IP)
	require.NotNil(t, revisions[0].IPForwarded)
	assert.Equal(t, "203.0.113.9", *revisions[0].IPForwarded)

	other := f.history(t, anonymous)
	require.Len(t, other, 1)
	assert.Nil(t, other[0].UserID)
	assert.Nil(t, other[0].IP)

	actions, err := f.engine.History.Actions(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, record.Subject(), actions[0].Subject)
}

func TestWithoutRevisionsSuppressesCapture(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	record := domain.NewRecord("post", map[string]any{"name": "A"})
	require.NoError(t, f.posts.Create(WithoutRevisions(context.Background()), record))
	assert.Empty(t, f.history(t, record))
}

type failingAppends struct {
	*repository.MemoryRevisionRepository
}

func (failingAppends) Append(context.Context, domain.Revision) (domain.Revision, error) {
	return domain.Revision{}, fmt.Errorf("failed to append revision: %w: connection refused", domain.ErrStoreUnavailable)
}

func TestStoreFailuresAreSwallowedUnlessStrict(t *testing.T) {
	store := failingAppends{repository.NewMemoryRevisionRepository()}

	lenient := newFixtureWithStore(t, store, domain.Defaults{}, domain.RevisionConfig{})
	record := domain.NewRecord("post", map[string]any{"name": "A"})
	require.NoError(t, lenient.posts.Create(context.Background(), record))
	assert.NotZero(t, record.ID, "the record mutation still succeeds")

	strict := newFixtureWithStore(t, store, domain.Defaults{}, domain.RevisionConfig{}, func(o *Options) { o.Strict = true })
	err := strict.posts.Create(context.Background(), domain.NewRecord("post", map[string]any{"name": "B"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRegisterTwiceDoesNotDuplicateRevisions(t *testing.T) {
	f := newFixture(t, domain.Defaults{}, domain.RevisionConfig{})
	require.NoError(t, f.engine.Register(Registration{Type: "post", Table: "posts", Store: f.posts}))

	post := f.create(t, map[string]any{"name": "A"})
	assert.Len(t, f.history(t, post), 1)
}

func TestRegisterValidation(t *testing.T) {
	registry := NewRegistry(domain.Defaults{}, nil)
	err := registry.Register(Registration{Type: "post", Table: "posts"})
	require.Error(t, err)

	err = registry.Register(Registration{Type: " ", Table: "posts", Store: repository.NewMemoryRecordRepository("posts", nil)})
	require.Error(t, err)
}

func TestRegistryInvalidLimitFallsBack(t *testing.T) {
	registry := NewRegistry(domain.Defaults{Limit: 50}, nil)
	require.NoError(t, registry.Register(Registration{
		Type:   "post",
		Table:  "posts",
		Store:  repository.NewMemoryRecordRepository("posts", nil),
		Config: domain.RevisionConfig{Limit: domain.Int(-3)},
	}))

	policy, err := registry.Policy("post")
	require.NoError(t, err)
	assert.Equal(t, 50, policy.Limit)
	assert.Equal(t, []string{"limit"}, policy.Invalid)

	registry.SetDefaults(domain.Defaults{Limit: 10})
	policy, err = registry.Policy("post")
	require.NoError(t, err)
	assert.Equal(t, 10, policy.Limit)
	assert.Equal(t, []string{"post"}, registry.Types())
}
