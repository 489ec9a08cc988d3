// Package pebble implements storage.Store on top of a pebble database.
package pebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/storage"
)

// Store is a durable storage.Store.
type Store struct {
	db *pebble.DB
}

// Open opens or creates a pebble database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) NewBatch() storage.Batch {
	return &batch{b: s.db.NewBatch()}
}

func (s *Store) Close() error { return s.db.Close() }

type batch struct {
	b   *pebble.Batch
	err error // first failed write
}

func (b *batch) Put(key, value []byte) {
	if b.err == nil {
		b.err = b.b.Set(key, value, nil)
	}
}

func (b *batch) Delete(key []byte) {
	if b.err == nil {
		b.err = b.b.Delete(key, nil)
	}
}

func (b *batch) Len() int { return int(b.b.Count()) }

// Commit writes the batch with fsync. A batch with a failed write is
// discarded.
func (b *batch) Commit() error {
	defer b.b.Close()
	if b.err != nil {
		return errors.Wrap(b.err, "batch write")
	}
	return b.b.Commit(pebble.Sync)
}
