package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a document id absent from the collection.
	ErrNotFound = errors.New("document not found")
	// ErrPersistence indicates a durable write failed.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidSettings indicates a settings value outside the allowed shape.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrUnsupportedBackend indicates a storage DSN scheme with no backend.
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
)

// PersistenceError reports a failed write of one storage key. The in-memory
// state that triggered the write is kept.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
