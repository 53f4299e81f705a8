// Package noncefile implements the append-only block_hash -> nonce map
// spec.md §6 calls the "Nonce file", used by a downstream seed-nonce
// revelation scheduler (explicitly out of scope, spec.md §1). The store is
// bbolt-backed, following the same single-file, single-writer, locked
// pattern the teacher used for its identity-gateway key/value store
// (bolt.Open with a dial timeout, CreateBucketIfNotExists, Update/View).
package noncefile

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"bakerd/internal/model"
)

var nonceBucket = []byte("nonces")

// Store is the durable block_hash -> nonce map.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt file at path. The one-second
// open timeout matches the teacher's identity-gateway store, which treats a
// still-held file lock as a startup failure rather than blocking forever.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("noncefile: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nonceBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("noncefile: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file lock.
func (s *Store) Close() error { return s.db.Close() }

// Record associates blockHash with nonce. Baked blocks with a seed-nonce
// commitment call this once injection succeeds; it is append-only in
// practice since a given block hash is only baked once, but a repeat call
// with the same nonce is harmless (idempotent overwrite).
func (s *Store) Record(blockHash model.Hash, nonce []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nonceBucket)
		return b.Put(blockHash[:], append([]byte(nil), nonce...))
	})
}

// Lookup returns the nonce recorded for blockHash, if any.
func (s *Store) Lookup(blockHash model.Hash) ([]byte, bool, error) {
	var nonce []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nonceBucket)
		v := b.Get(blockHash[:])
		if v != nil {
			nonce = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return nonce, nonce != nil, nil
}

// Count returns the number of recorded nonces. Only tests call it; no
// automaton logic reads it.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nonceBucket)
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
