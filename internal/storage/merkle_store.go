package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rechain/configchain/pkg/merkle"
)

// MerkleStore wraps a Store and maintains a Merkle tree over its key
// space, so every replica can compare root hashes after applying the
// same block instead of trusting byte-for-byte key/value comparison.
type MerkleStore struct {
	base   Store
	tree   *merkle.Tree
	mu     sync.RWMutex
	height uint64
}

// NewMerkleStore wraps base and builds the initial tree from whatever is
// already persisted.
func NewMerkleStore(base Store) (*MerkleStore, error) {
	ms := &MerkleStore{base: base}
	if err := ms.rebuildTree(); err != nil {
		return nil, fmt.Errorf("rebuild merkle tree: %w", err)
	}
	return ms, nil
}

func (ms *MerkleStore) rebuildTree() error {
	data := make(map[string][]byte)
	err := ms.base.Iterate(context.Background(), nil, func(key, value []byte) error {
		if isInternalKey(key) {
			return nil
		}
		data[string(key)] = value
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterate base store: %w", err)
	}

	if len(data) == 0 {
		ms.tree = nil
		return nil
	}

	tree, err := merkle.NewTree(data)
	if err != nil {
		return err
	}
	ms.tree = tree
	return nil
}

// Get retrieves a value by key.
func (ms *MerkleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	return ms.base.Get(ctx, key)
}

// Set writes a key-value pair and rebuilds the tree to reflect it.
func (ms *MerkleStore) Set(ctx context.Context, key, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.base.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set key in base store: %w", err)
	}
	return ms.rebuildTree()
}

// Has checks if a key exists.
func (ms *MerkleStore) Has(ctx context.Context, key []byte) (bool, error) {
	return ms.base.Has(ctx, key)
}

// Iterate iterates over all keys with the given prefix.
func (ms *MerkleStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return ms.base.Iterate(ctx, prefix, fn)
}

// Close closes the underlying store.
func (ms *MerkleStore) Close() error {
	return ms.base.Close()
}

// RootHash returns the current Merkle root hash, or the empty string if
// the store holds no keys yet.
func (ms *MerkleStore) RootHash() string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.tree == nil {
		return ""
	}
	return ms.tree.RootHash()
}

// GetProof returns a Merkle proof for key.
func (ms *MerkleStore) GetProof(key []byte) ([][]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.tree == nil {
		return nil, fmt.Errorf("key not found in tree")
	}
	return ms.tree.GetProof(key)
}

// VerifyProof verifies a Merkle proof against the hex-encoded rootHash
// returned by RootHash.
func VerifyProof(rootHash string, key, value []byte, proof [][]byte) bool {
	raw, err := hex.DecodeString(rootHash)
	if err != nil {
		return false
	}
	return merkle.VerifyProof(raw, key, value, proof)
}

// Commit rebuilds the tree from the base store's current contents,
// records the resulting root hash under the given height, so it can be
// recovered later for cross-replica comparison, and advances height.
func (ms *MerkleStore) Commit(ctx context.Context, height uint64) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.rebuildTree(); err != nil {
		return "", fmt.Errorf("rebuild merkle tree: %w", err)
	}
	root := ""
	if ms.tree != nil {
		root = ms.tree.RootHash()
	}
	if err := ms.base.Set(ctx, rootKey(height), []byte(root)); err != nil {
		return "", fmt.Errorf("store root hash: %w", err)
	}
	ms.height = height
	return root, nil
}

// LoadState returns the root hash committed at the given height.
func (ms *MerkleStore) LoadState(ctx context.Context, height uint64) (string, error) {
	root, err := ms.base.Get(ctx, rootKey(height))
	if err != nil {
		return "", fmt.Errorf("load root hash for height %d: %w", height, err)
	}
	return string(root), nil
}

func rootKey(height uint64) []byte {
	return []byte(fmt.Sprintf("_root/%d", height))
}

func isInternalKey(key []byte) bool {
	return len(key) >= 6 && string(key[:6]) == "_root/"
}
