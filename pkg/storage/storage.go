package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the path was never written or has
// been deleted.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage is the device sandbox everything persistent goes through: the
// session, the language preference, archived evidence and the event journal.
// Paths are slash separated and relative to the sandbox root.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the files directly under prefix, without descending.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}
