// Package storage provides the Pebble-backed durability layer shared by
// the balance ledger and the trade history.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store wraps a single Pebble database. The ledger and trade history
// share it under distinct key prefixes (see keys.go).
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:          32 << 20,                  // 32MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set writes a key durably (fsynced).
func (s *Store) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

// SetNoSync writes a key without waiting for fsync. Used for trade
// history, where a tail loss on crash is acceptable.
func (s *Store) SetNoSync(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Get returns a copy of the value for key, or false if absent.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Delete removes a key durably.
func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

// Scan visits every key under prefix in ascending key order, stopping
// early when fn returns false. Values passed to fn are only valid for
// the duration of the call.
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// ScanReverse visits keys under prefix in descending key order.
func (s *Store) ScanReverse(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	for iter.Last(); iter.Valid(); iter.Prev() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// Batch collects writes that commit atomically.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates an atomic write batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// Set adds a write to the batch.
func (b *Batch) Set(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

// Commit writes the batch atomically, fsynced.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
