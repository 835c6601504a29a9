package cerr

import (
	"fmt"

	"github.com/kazz187/fieldguild/pkg/storage"
)

// Storage wrappers name the target the way a worker would recognise it
// ("session token", "language preference") and keep the storage path in the
// wrapped error for logs.

func WrapStorageReadError(target string, err error) error {
	if storage.IsNotFound(err) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, fmt.Sprintf("could not read saved %s", target), err)
}

func WrapStorageWriteError(target string, err error) error {
	return NewError(Internal, fmt.Sprintf("could not save %s", target), err)
}

func WrapStorageDeleteError(target string, err error) error {
	if storage.IsNotFound(err) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, fmt.Sprintf("could not remove saved %s", target), err)
}

// WrapCorruptError reports persisted data that exists but cannot be decoded.
// Callers treat it as absent state rather than a failure.
func WrapCorruptError(target string, err error) error {
	return NewError(DataLoss, fmt.Sprintf("%s is corrupt", target), err)
}
