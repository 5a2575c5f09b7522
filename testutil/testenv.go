package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rechain/configchain/internal/storage"
	"github.com/rechain/configchain/pkg/config"
	"github.com/rechain/configchain/pkg/crypto"
)

// TestEnvironment manages the test environment for integration tests.
type TestEnvironment struct {
	T       *testing.T
	TempDir string
	Config  *config.Config
	Store   storage.Store
}

// NewTestEnvironment creates a new test environment backed by a real
// on-disk Badger store under a temp directory.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "configchain-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Node.DataDir = tempDir
	cfg.Storage.Path = filepath.Join(tempDir, "data")

	db, err := storage.NewBadgerStore(cfg.Storage.Path)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create BadgerDB store: %v", err)
	}

	return &TestEnvironment{
		T:       t,
		TempDir: tempDir,
		Config:  cfg,
		Store:   db,
	}
}

// Close cleans up the test environment.
func (env *TestEnvironment) Close() {
	env.T.Helper()

	if env.Store != nil {
		if err := env.Store.Close(); err != nil {
			env.T.Logf("error closing store: %v", err)
		}
	}

	if env.TempDir != "" {
		if err := os.RemoveAll(env.TempDir); err != nil {
			env.T.Logf("error removing temp dir: %v", err)
		}
	}
}

// WithMerkleStore wraps env.Store in a MerkleStore for testing.
func (env *TestEnvironment) WithMerkleStore() *storage.MerkleStore {
	env.T.Helper()

	ms, err := storage.NewMerkleStore(env.Store)
	if err != nil {
		env.T.Fatalf("failed to create MerkleStore: %v", err)
	}

	return ms
}

// NewView opens a buffered View over env.Store, the unit of work handed
// to configuration transaction handlers.
func (env *TestEnvironment) NewView() *storage.View {
	return storage.NewView(env.Store)
}

// MustSet sets a key-value pair in the store, failing the test on error.
func (env *TestEnvironment) MustSet(ctx context.Context, key, value []byte) {
	env.T.Helper()

	if err := env.Store.Set(ctx, key, value); err != nil {
		env.T.Fatalf("failed to set key %q: %v", key, err)
	}
}

// MustGet gets a value from the store, failing the test on error.
func (env *TestEnvironment) MustGet(ctx context.Context, key []byte) []byte {
	env.T.Helper()

	value, err := env.Store.Get(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to get key %q: %v", key, err)
	}

	return value
}

// MustNotExist verifies that a key does not exist in the store.
func (env *TestEnvironment) MustNotExist(ctx context.Context, key []byte) {
	env.T.Helper()

	has, err := env.Store.Has(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to check key %q: %v", key, err)
	}

	if has {
		env.T.Fatalf("key %q exists but should not", key)
	}
}

// MustCommit commits a MerkleStore at height and returns the root hash.
func (env *TestEnvironment) MustCommit(ms *storage.MerkleStore, height uint64) string {
	env.T.Helper()

	root, err := ms.Commit(context.Background(), height)
	if err != nil {
		env.T.Fatalf("failed to commit at height %d: %v", height, err)
	}

	return root
}

// MustLoadState loads a previously committed root hash.
func (env *TestEnvironment) MustLoadState(ms *storage.MerkleStore, height uint64) string {
	env.T.Helper()

	root, err := ms.LoadState(context.Background(), height)
	if err != nil {
		env.T.Fatalf("failed to load state at height %d: %v", height, err)
	}

	return root
}

// GenerateValidators creates n Ed25519 key pairs for use as a sandbox
// validator set, along with their public keys in generation order (the
// order StoredConfiguration.Validators is expected to preserve).
func GenerateValidators(t *testing.T, n int) ([]*crypto.KeyPair, []crypto.PublicKey) {
	t.Helper()

	keys := make([]*crypto.KeyPair, n)
	pubs := make([]crypto.PublicKey, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("failed to generate validator key pair %d: %v", i, err)
		}
		keys[i] = kp
		pubs[i] = kp.Public
	}
	return keys, pubs
}
