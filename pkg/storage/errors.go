package storage

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned when an event does not fit the directory
// ceiling or the maximum event size. The event is dropped and counted.
var ErrCapacityExceeded = errors.New("storage capacity exceeded")

// ErrClosed is returned by writers whose orchestrator has been closed.
var ErrClosed = errors.New("storage closed")

// EncodingError reports an event that could not be serialized or
// encrypted. The caller's data is at fault; the event is dropped.
type EncodingError struct {
	Feature string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s event: %v", e.Feature, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// StorageError reports a failed disk operation. The event is lost.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
