package engine_test

import (
	"context"
	"testing"

	"github.com/ilkerhalil/kvlite/internal/codec"
	"github.com/ilkerhalil/kvlite/internal/dialect/memsqlite"
	"github.com/ilkerhalil/kvlite/internal/engine"
	"github.com/ilkerhalil/kvlite/internal/pool"
	"github.com/stretchr/testify/require"
)

// fakeClock gives tests deterministic control over NowUnixSeconds.
type fakeClock struct{ now int64 }

func (c *fakeClock) NowUnixSeconds() int64 { return c.now }

func newTestEngine(t *testing.T) (*engine.Engine, *fakeClock) {
	t.Helper()
	ctx := context.Background()
	d := memsqlite.New(0)
	p, err := pool.Open(ctx, d, memsqlite.ConnString(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	clock := &fakeClock{now: 1000}
	c := codec.New(codec.MsgpackSerializer{}, codec.ZstdCompressor{}, codec.DefaultMinCompressionLength)
	e := engine.New(engine.Config{
		Pool:                          p,
		Codec:                         c,
		Clock:                         clock,
		InsertionCountBeforeAutoClean: 1000,
	})
	return e, clock
}

func TestAddThenGetReturnsValue(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "k", "hello", 2000, 0, nil))

	var out string
	ok, err := e.Get(ctx, "p", "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", out)
}

func TestSlidingGetExtendsExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "k", 42, clock.now+10, 10, nil))

	clock.now += 5
	var out int
	ok, err := e.Get(ctx, "p", "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, out)

	item, ok, err := e.PeekItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, clock.now+10, item.UTCExpiry)
}

func TestTimedGetDoesNotExtendExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	expiry := clock.now + 2
	require.NoError(t, e.Add(ctx, "p", "k", "v", expiry, 0, nil))

	clock.now += 1
	var out string
	ok, err := e.Get(ctx, "p", "k", &out)
	require.NoError(t, err)
	require.True(t, ok)

	item, ok, err := e.PeekItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, expiry, item.UTCExpiry)
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "k", "v", clock.now+2, 0, nil))
	clock.now += 3

	var out string
	ok, err := e.Get(ctx, "p", "k", &out)
	require.NoError(t, err)
	require.False(t, ok)

	contains, err := e.Contains(ctx, "p", "k")
	require.NoError(t, err)
	require.False(t, contains)

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestParentRemovalCascades(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "root", "R", clock.now+1000, 1000, nil))
	require.NoError(t, e.Add(ctx, "p", "leaf", "L", clock.now+1000, 1000, []string{"root"}))

	require.NoError(t, e.Remove(ctx, "p", "root"))

	var out string
	ok, err := e.Get(ctx, "p", "leaf", &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddIsIdempotent(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "k", "v1", clock.now+100, 0, nil))
	require.NoError(t, e.Add(ctx, "p", "k", "v1", clock.now+100, 0, nil))

	count, err := e.Count(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestAddRejectsTooManyParentKeys(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	parents := make([]string, entry_MaxParentKeys()+1)
	for i := range parents {
		parents[i] = "p"
	}
	err := e.Add(ctx, "p", "k", "v", clock.now+100, 0, parents)
	require.Error(t, err)
}

func TestCorruptValueRecovery(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, "p", "k", "v", clock.now+1000, 1000, nil))

	// The row is present before the failing read.
	item, ok, err := e.PeekItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	_ = item

	var out string
	// Decoding the stored string into an incompatible struct target forces
	// a decode error, which must remove the row and report it absent.
	var badTarget struct{ Unrelated chan int }
	ok, err = e.Get(ctx, "p", "k", &badTarget)
	require.NoError(t, err)
	require.False(t, ok)

	contains, err := e.Contains(ctx, "p", "k")
	require.NoError(t, err)
	require.False(t, contains)

	require.NoError(t, e.Add(ctx, "p", "k", "v2", clock.now+1000, 1000, nil))
	ok, err = e.Get(ctx, "p", "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", out)
}

func TestEvictionTriggerAtThreshold(t *testing.T) {
	ctx := context.Background()
	d := memsqlite.New(0)
	p, err := pool.Open(ctx, d, memsqlite.ConnString(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	clock := &fakeClock{now: 1000}
	c := codec.New(codec.MsgpackSerializer{}, codec.ZstdCompressor{}, codec.DefaultMinCompressionLength)
	e := engine.New(engine.Config{
		Pool:                          p,
		Codec:                         c,
		Clock:                         clock,
		InsertionCountBeforeAutoClean: 4,
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Add(ctx, "p", fmt_Sprintf(i), "v", clock.now-1, 0, nil))
	}

	count, err := e.Clear(ctx, "", engine.IgnoreExpiry)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func entry_MaxParentKeys() int { return 5 }

func fmt_Sprintf(i int) string {
	const letters = "0123456789"
	return string(letters[i%10])
}
