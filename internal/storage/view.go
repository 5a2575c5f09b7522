package storage

import (
	"context"
	"sort"
	"sync"
)

// View is a short-lived, atomically committed snapshot of a Store handed
// to transaction handlers during block application. Writes made through
// a View are buffered in memory; they reach the underlying Store on
// Commit, or are thrown away entirely on Discard. Commit writes them one
// key at a time through Store.Delete/Store.Set, so the flush is not a
// single atomic write: an error part-way leaves the keys already written
// in place.
// Reads fall through to the underlying Store for keys not yet written in
// this View, so a handler sees its own writes plus everything already
// committed.
//
// A View's mutex only guards its own write/delete buffers; ordering of
// mutations is left to the engine that owns it, which guarantees
// exclusive access for the duration of one block's application, per the
// single-threaded block-apply loop described in internal/consensus.
type View struct {
	base    Store
	writes  map[string][]byte
	deletes map[string]bool
	mu      sync.Mutex // guards writes/deletes against concurrent test access only
}

// NewView opens a new buffered view over base.
func NewView(base Store) *View {
	return &View{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

// Get returns the value for key, checking buffered writes before falling
// through to the underlying store.
func (v *View) Get(ctx context.Context, key []byte) ([]byte, error) {
	v.mu.Lock()
	k := string(key)
	if v.deletes[k] {
		v.mu.Unlock()
		return nil, nil
	}
	if val, ok := v.writes[k]; ok {
		v.mu.Unlock()
		return val, nil
	}
	v.mu.Unlock()
	return v.base.Get(ctx, key)
}

// Has reports whether key exists, accounting for buffered writes and
// deletes that have not yet been committed.
func (v *View) Has(ctx context.Context, key []byte) (bool, error) {
	v.mu.Lock()
	k := string(key)
	if v.deletes[k] {
		v.mu.Unlock()
		return false, nil
	}
	if _, ok := v.writes[k]; ok {
		v.mu.Unlock()
		return true, nil
	}
	v.mu.Unlock()
	return v.base.Has(ctx, key)
}

// Put buffers a write. It is not visible outside the View until Commit.
func (v *View) Put(key, value []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := string(key)
	delete(v.deletes, k)
	v.writes[k] = append([]byte{}, value...)
}

// Delete buffers a deletion. It is not visible outside the View until
// Commit.
func (v *View) Delete(key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := string(key)
	delete(v.writes, k)
	v.deletes[k] = true
}

// Iterate walks every key with the given prefix, merging buffered writes
// over the underlying store's committed state, in sorted key order so
// that callers building a deterministic tally never depend on map
// iteration order.
func (v *View) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	v.mu.Lock()
	merged := make(map[string][]byte)
	seen := make(map[string]bool)
	for k, val := range v.writes {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			merged[k] = val
			seen[k] = true
		}
	}
	deleted := make(map[string]bool, len(v.deletes))
	for k := range v.deletes {
		deleted[k] = true
	}
	v.mu.Unlock()

	err := v.base.Iterate(ctx, prefix, func(key, value []byte) error {
		k := string(key)
		if deleted[k] || seen[k] {
			return nil
		}
		merged[k] = value
		return nil
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Commit flushes every buffered write and delete to the underlying store
// as a single pass. Returns the first I/O error encountered; per
// spec.md section 7, storage I/O failures are fatal to block application
// and must be surfaced to the engine, not swallowed.
func (v *View) Commit(ctx context.Context) error {
	v.mu.Lock()
	writes := v.writes
	deletes := v.deletes
	v.mu.Unlock()

	for k := range deletes {
		if err := v.base.Delete(ctx, []byte(k)); err != nil {
			return err
		}
	}
	for k, val := range writes {
		if err := v.base.Set(ctx, []byte(k), val); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every buffered mutation without touching the underlying
// store.
func (v *View) Discard() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writes = make(map[string][]byte)
	v.deletes = make(map[string]bool)
}
