package stores

import (
	"context"
	"fmt"

	"github.com/statekeep/statekeep/pkg/persist"
)

// Driver names a backend implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverFile   Driver = "file"
)

// Backend is a persist.Backend that owns resources.
type Backend interface {
	persist.Backend
	Close() error
}

// Open creates, initializes and migrates the backend for driver.
// path is the database file for sqlite and the directory for file.
func Open(ctx context.Context, driver Driver, path string) (Backend, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryBackend(), nil
	case DriverSQLite:
		b, err := NewSQLiteBackend(Config{Path: path})
		if err != nil {
			return nil, err
		}
		if err := b.Init(ctx); err != nil {
			return nil, err
		}
		if err := b.Migrate(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case DriverFile:
		return NewFileBackend(path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
