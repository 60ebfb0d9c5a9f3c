// Package storage provides the pluggable record store used for histories,
// profiles, and instruction records.
//
// A Store holds one opaque record per key. Keys are slash-separated paths
// such as "users/42/profile" or "groups/-100123/history". Implementations
// must make Save atomic: a crash mid-write never leaves a truncated record
// behind.
//
// Two implementations are provided: FileStore (one JSON file per record,
// write-temp-then-rename, cross-process exclusion via flock) and
// SQLiteStore (a single embedded database, for deployments that prefer one
// file over a directory tree).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// Info describes a stored record.
type Info struct {
	// ModTime is the time the record was last saved.
	ModTime time.Time

	// Size is the record size in bytes.
	Size int64
}

// Store is the record persistence contract. All implementations must be
// safe for concurrent use.
type Store interface {
	// Load returns the record stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save atomically replaces the record stored under key.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes the record stored under key. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, key string) error

	// Stat returns metadata for the record stored under key, or
	// ErrNotFound.
	Stat(ctx context.Context, key string) (Info, error)
}
