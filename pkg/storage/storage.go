// Package storage defines the random-access byte store the bitfield
// persists pages to, and ships three implementations: an in-memory one
// for tests, a flock-guarded flat file for single-process durability, and
// a badger-backed one for deployments that want one shared embedded store
// keyed by logical name instead of many small files.
package storage

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Stat when the storage has never been
// written to — Bitfield.Open treats this as "start empty", not an error.
var ErrNotExist = errors.New("storage: does not exist")

// Storage is a random-access byte store keyed by byte offset, scoped to
// one logical name (one per core's bitfield).
type Storage interface {
	// Stat reports the current length in bytes, or ErrNotExist if the
	// storage has never been written to.
	Stat(ctx context.Context) (length int64, err error)

	// Read returns exactly length bytes starting at offset. Reading
	// past a never-written region returns zero bytes (sparse reads),
	// matching a sparse file's semantics.
	Read(ctx context.Context, offset int64, length int) ([]byte, error)

	// Write stores data at offset, growing the backing store as needed.
	Write(ctx context.Context, offset int64, data []byte) error

	// Del zeroes the byte range [offset, offset+length). The shipped
	// backends write zeros; none of them punches a hole in a sparse file.
	Del(ctx context.Context, offset int64, length int) error

	// Close releases any handle held by this Storage without deleting
	// its contents.
	Close() error

	// Unlink deletes all persisted contents for this storage's name.
	Unlink(ctx context.Context) error
}

// Factory opens (creating if necessary) the Storage for a logical name —
// one call per core's discovery path.
type Factory func(name string) (Storage, error)
