//go:build unix

package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExclusiveLockExcludesSecondHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f1, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f1.Close()
	require.NoError(t, ExclusiveNonBlocking(f1))
	defer Unlock(f1)

	f2, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f2.Close()

	err = ExclusiveNonBlocking(f2)
	require.ErrorIs(t, err, ErrLockBusy)
	require.True(t, IsBusy(err))
}

func TestUnlockReleasesForNextAcquirer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f1, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f1.Close()
	require.NoError(t, ExclusiveNonBlocking(f1))
	require.NoError(t, Unlock(f1))

	f2, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f2.Close()
	require.NoError(t, ExclusiveNonBlocking(f2))
	require.NoError(t, Unlock(f2))
}
