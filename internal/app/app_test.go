package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/revisionable/internal/config"
	"github.com/rpattn/revisionable/internal/domain"
)

func TestNewSQLiteBackendRecordsRevisions(t *testing.T) {
	opts := config.DefaultOptions()
	opts.SQLitePath = ":memory:"
	opts.Types = map[string]config.TypeOptions{
		"post":    {Table: "posts"},
		"comment": {Table: "comments", Config: domain.RevisionConfig{Enabled: domain.Bool(false)}},
	}

	a, err := New(context.Background(), Settings{Backend: config.BackendSQLite}, opts, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	post := domain.NewRecord("post", map[string]any{"name": "A"})
	require.NoError(t, a.Records["post"].Create(ctx, post))
	comment := domain.NewRecord("comment", map[string]any{"body": "hi"})
	require.NoError(t, a.Records["comment"].Create(ctx, comment))

	revisions, err := a.Engine.History.Revisions(ctx, post.Subject())
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	assert.Equal(t, "posts", revisions[0].TableName)

	revisions, err = a.Engine.History.Revisions(ctx, comment.Subject())
	require.NoError(t, err)
	assert.Empty(t, revisions)

	assert.Equal(t, []string{"comment", "post"}, a.Engine.Registry.Types())
}

func TestReloadUpdatesDefaults(t *testing.T) {
	a, err := New(context.Background(), Settings{Backend: config.BackendMemory}, config.DefaultOptions(), nil)
	require.NoError(t, err)
	defer a.Close()

	opts := config.DefaultOptions()
	opts.Revisions.Limit = 7
	a.Reload(opts)

	policy, err := a.Engine.Registry.Policy("post")
	require.NoError(t, err)
	assert.Equal(t, 7, policy.Limit)
}

func TestNewRejectsUnknownBackendAndProvider(t *testing.T) {
	_, err := New(context.Background(), Settings{Backend: "redis"}, config.DefaultOptions(), nil)
	assert.Error(t, err)

	opts := config.DefaultOptions()
	opts.UserProvider = "sentry"
	_, err = New(context.Background(), Settings{Backend: config.BackendMemory}, opts, nil)
	assert.Error(t, err)

	assert.NoError(t, Migrate(context.Background(), config.BackendMemory, opts))
}
