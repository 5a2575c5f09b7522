package storage_test

import (
	"context"
	"testing"

	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewBuffersUntilCommit(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	ctx := context.Background()

	view := storage.NewView(env.Store)
	view.Put([]byte("k"), []byte("v"))

	got, err := env.Store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got, "buffered write must not be visible on the base store before Commit")

	got, err = view.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got, "a view must see its own uncommitted writes")

	require.NoError(t, view.Commit(ctx))

	got, err = env.Store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestViewDiscardDropsWrites(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	ctx := context.Background()

	view := storage.NewView(env.Store)
	view.Put([]byte("k"), []byte("v"))
	view.Discard()

	require.NoError(t, view.Commit(ctx))

	got, err := env.Store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestViewDeleteOverridesBaseStore(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	ctx := context.Background()

	require.NoError(t, env.Store.Set(ctx, []byte("k"), []byte("v")))

	view := storage.NewView(env.Store)
	has, err := view.Has(ctx, []byte("k"))
	require.NoError(t, err)
	assert.True(t, has)

	view.Delete([]byte("k"))

	has, err = view.Has(ctx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, has, "a buffered delete must shadow the base store before Commit")

	require.NoError(t, view.Commit(ctx))

	got, err := env.Store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestViewIteratePrefixMergesBaseAndBufferedInOrder(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	ctx := context.Background()

	require.NoError(t, env.Store.Set(ctx, []byte("p/a"), []byte("1")))
	require.NoError(t, env.Store.Set(ctx, []byte("p/c"), []byte("3")))
	require.NoError(t, env.Store.Set(ctx, []byte("other/z"), []byte("9")))

	view := storage.NewView(env.Store)
	view.Put([]byte("p/b"), []byte("2"))
	view.Delete([]byte("p/c"))

	var keys []string
	var values []string
	err := view.Iterate(ctx, []byte("p/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		values = append(values, string(value))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p/a", "p/b"}, keys, "deleted key must be excluded and ordering must be deterministic")
	assert.Equal(t, []string{"1", "2"}, values)
}
