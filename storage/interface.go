// Package storage defines the key-value backend the chain database is built on.
package storage

import "github.com/pkg/errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Reader reads committed data. Readers never observe a partially applied batch.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Batch collects writes that are applied atomically by Commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Len() int
	Commit() error
}

// Store is a key-value store with atomic batches.
type Store interface {
	Reader
	NewBatch() Batch
	Close() error
}
