package storage

import "context"

// Store is the raw, unbuffered key-value interface every persistence
// backend implements. It is never handed directly to a transaction
// handler: the consensus engine wraps it in a View for the duration of
// one block's application, and internal/configuration's Schema wraps the
// View again to expose typed accessors over configurations, proposals
// and votes. Store itself knows nothing about either layer — it is just
// bytes in, bytes out.
type Store interface {
	// Get retrieves the value stored under key, or a nil slice with a nil
	// error if key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set writes value under key, replacing whatever was there before.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Has reports whether key is present, without paying for a value copy.
	Has(ctx context.Context, key []byte) (bool, error)

	// Iterate calls fn for every key carrying the given prefix. Schema's
	// vote and proposal listings are built on top of this; implementations
	// are not required to return keys in any particular order, which is
	// why View.Iterate sorts before handing keys to callers that need
	// deterministic tallies.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Close releases whatever resources the backend holds.
	Close() error
}
