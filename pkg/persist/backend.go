package persist

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Backend.Get when nothing is stored under a key.
	ErrNotFound = errors.New("persisted value not found")

	// ErrCorrupt is returned when a stored value fails its checksum or cannot be parsed.
	ErrCorrupt = errors.New("persisted value corrupt")

	// ErrStopped is returned by operations on a stopped persistor.
	ErrStopped = errors.New("persistor stopped")
)

// Backend is a key/value store for serialized slices.
// Implementations must be safe for concurrent use by several persistors.
type Backend interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists stored keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
