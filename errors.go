package kvlite

import (
	"errors"
	"fmt"
)

// Sentinel errors from the taxonomy in spec.md §6/§7. Validation and
// lifecycle failures are returned by the operations that return an error
// (the Add* methods, GetOrAddTimed, Vacuum, CacheSize); the operations that
// return no error record them in Cache.LastError instead. Storage failures
// are swallowed by Cache's read/write operations and surface only through
// Cache.LastError/Cache.Stats; deserialization failures are swallowed,
// logged, and the offending row removed.
var (
	// ErrInvalidArgument marks a caller programming error: an empty key,
	// a nil value passed to an Add* method, too many parent keys, or the
	// reserved internal partition name.
	ErrInvalidArgument = errors.New("kvlite: invalid argument")

	// ErrObjectDisposed marks use of a Cache after Close.
	ErrObjectDisposed = errors.New("kvlite: cache is closed")

	// ErrNotSupported marks a backend that cannot perform an optional
	// operation (e.g. Vacuum/CacheSize on a dialect with no probe).
	ErrNotSupported = errors.New("kvlite: not supported by this backend")
)

// storageError wraps an underlying driver/backend error for logging and
// Cache.LastError without ever escaping a read or write operation to the
// caller (spec.md §7 "Storage ... swallowed, operation returns neutral
// value, lastError set, warning logged").
type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("kvlite: %s: %v", e.op, e.err)
}

func (e *storageError) Unwrap() error { return e.err }

func wrapStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}
