package store

import (
	"errors"
	"fmt"
	"time"
)

// Config configures the known-item store.
//
// Driver values:
//   - "file": single JSON document, atomic replace via temp file + rename
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// PersistError wraps any failure to durably record a batch. A failed
// append never partially applies: callers may assume the known set on
// disk and in memory is exactly what it was before the call.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err wraps a PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
