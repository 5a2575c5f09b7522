package storage

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the Store backend every configd node runs against: an
// embedded, crash-safe LSM tree that survives a node restart without an
// external database process. A single BadgerStore backs both the
// consensus engine's View (transaction state) and MerkleStore (the
// per-block root hash index) over the same on-disk path.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB at path. Badger's own
// logger is disabled: configd already logs block-apply and admission
// events through the standard logger, and Badger's default info-level
// chatter about compaction and value-log GC would otherwise double up
// against it.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %s: %w", path, err)
	}

	return &BadgerStore{db: db}, nil
}

// Get satisfies Store.
func (s *BadgerStore) Get(_ context.Context, key []byte) ([]byte, error) {
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			valCopy = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return valCopy, err
}

// Set satisfies Store. Every configuration, proposal and vote record
// this service persists goes through here, one key at a time, inside
// View.Commit's own per-key loop rather than a single Badger
// transaction — keeping the commit path symmetric with Delete below.
func (s *BadgerStore) Set(_ context.Context, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete satisfies Store.
func (s *BadgerStore) Delete(_ context.Context, key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has satisfies Store.
func (s *BadgerStore) Has(_ context.Context, key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Iterate satisfies Store, scanning a key prefix such as
// "configuration/proposal/" or "configuration/vote/<hash>" under one
// read-only Badger transaction.
func (s *BadgerStore) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				key := item.KeyCopy(nil)
				valCopy := append([]byte{}, val...)
				return fn(key, valCopy)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes and releases the underlying Badger handle. configd calls
// this via defer immediately after opening the store, so a signal-driven
// shutdown releases the directory lock.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
