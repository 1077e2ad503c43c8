//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// ExclusiveNonBlocking attempts to acquire an exclusive lock without waiting.
// Returns ErrLockBusy if the lock is already held.
func ExclusiveNonBlocking(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// ExclusiveBlocking acquires an exclusive lock, waiting until it is available.
func ExclusiveBlocking(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// SharedNonBlocking attempts to acquire a shared lock without waiting.
// Multiple readers may hold a shared lock concurrently.
func SharedNonBlocking(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

// Unlock releases any lock held on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
