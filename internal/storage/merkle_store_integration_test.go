package storage_test

import (
	"context"
	"testing"

	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerkleStore_Integration(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()

	ms := env.WithMerkleStore()
	ctx := context.Background()

	key1 := []byte("test-key-1")
	value1 := []byte("test-value-1")
	key2 := []byte("test-key-2")
	value2 := []byte("test-value-2")

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, ms.Set(ctx, key1, value1))

		gotValue, err := ms.Get(ctx, key1)
		require.NoError(t, err)
		assert.Equal(t, value1, gotValue)

		gotValue, err = env.Store.Get(ctx, key1)
		require.NoError(t, err)
		assert.Equal(t, value1, gotValue)
	})

	t.Run("Merkle Proof", func(t *testing.T) {
		require.NoError(t, ms.Set(ctx, key2, value2))

		proof, err := ms.GetProof(key1)
		require.NoError(t, err)
		require.NotNil(t, proof)

		root := ms.RootHash()
		assert.True(t, storage.VerifyProof(root, key1, value1, proof), "merkle proof verification failed")
		assert.False(t, storage.VerifyProof(root, key1, []byte("wrong-value"), proof), "merkle proof verification should fail with wrong value")
	})

	t.Run("Commit and Load State", func(t *testing.T) {
		root1, err := ms.Commit(ctx, 1)
		require.NoError(t, err)
		require.NotEmpty(t, root1)

		newValue1 := []byte("new-test-value-1")
		require.NoError(t, ms.Set(ctx, key1, newValue1))

		root2, err := ms.Commit(ctx, 2)
		require.NoError(t, err)
		require.NotEmpty(t, root2)

		assert.NotEqual(t, root1, root2, "root hashes should be different after modification")

		loadedRoot1, err := ms.LoadState(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, root1, loadedRoot1)

		loadedRoot2, err := ms.LoadState(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, root2, loadedRoot2)

		gotValue, err := ms.Get(ctx, key1)
		require.NoError(t, err)
		assert.Equal(t, newValue1, gotValue, "store reflects the latest write, not the state at the loaded height")
	})
}
