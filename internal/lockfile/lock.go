// Package lockfile provides cross-platform advisory file locking used to
// guard first-time schema bootstrap on file-backed dialects so that two
// processes opening the same cache file for the first time don't race on
// CREATE TABLE.
package lockfile

import "errors"

// ErrLockBusy is returned when a non-blocking lock cannot be acquired
// because another process holds a conflicting lock.
var ErrLockBusy = errors.New("lockfile: busy, held by another process")

// IsBusy reports whether err indicates the lock is held elsewhere.
func IsBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}
