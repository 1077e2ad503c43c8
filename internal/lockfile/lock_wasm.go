//go:build js && wasm

package lockfile

import "os"

// WASM runs single-process, so all locking primitives are no-ops.

func ExclusiveNonBlocking(f *os.File) error { return nil }
func ExclusiveBlocking(f *os.File) error    { return nil }
func SharedNonBlocking(f *os.File) error    { return nil }
func Unlock(f *os.File) error               { return nil }
