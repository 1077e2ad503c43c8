package kvlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ilkerhalil/kvlite"
	"github.com/ilkerhalil/kvlite/internal/codec"
)

type testClock struct{ now int64 }

func (c *testClock) NowUnixSeconds() int64 { return c.now }

func newTestCache(t *testing.T, clock codec.Clock) *kvlite.Cache {
	t.Helper()
	settings := &kvlite.Settings{
		Backend:                       kvlite.BackendMemory,
		CacheName:                     t.Name(),
		DefaultPartition:              "default",
		InsertionCountBeforeAutoClean: 1000,
		Clock:                         clock,
	}
	c, err := kvlite.Open(context.Background(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Scenario A — sliding refresh (spec.md §8).
func TestScenarioSlidingRefresh(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.AddSliding(ctx, "p", "k", 42, 10))

	clock.now += 5
	v, ok := kvlite.Get[int](ctx, c, "p", "k")
	require.True(t, ok)
	require.Equal(t, 42, v)

	item, ok := kvlite.PeekItem[int](ctx, c, "p", "k")
	require.True(t, ok)
	require.Equal(t, clock.now+10, item.UTCExpiry)

	clock.now += 8
	v, ok = kvlite.Get[int](ctx, c, "p", "k")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

// Scenario B — timed expiry.
func TestScenarioTimedExpiry(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.AddTimed(ctx, "p", "k", "v", clock.now+2))

	clock.now += 1
	v, ok := kvlite.Get[string](ctx, c, "p", "k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	clock.now += 2
	_, ok = kvlite.Get[string](ctx, c, "p", "k")
	require.False(t, ok)
	require.Equal(t, int64(0), c.Count(ctx, "p"))
}

// Scenario C — parent cascade.
func TestScenarioParentCascade(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.AddStatic(ctx, "p", "root", "R"))
	require.NoError(t, c.AddStatic(ctx, "p", "leaf", "L", "root"))

	c.Remove(ctx, "p", "root")

	_, ok := kvlite.Get[string](ctx, c, "p", "leaf")
	require.False(t, ok)
}

// Scenario D — compression threshold.
func TestScenarioCompressionThreshold(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	small := make([]byte, 4095)
	large := make([]byte, 16*1024)
	for i := range small {
		small[i] = byte(i)
	}
	for i := range large {
		large[i] = byte(i)
	}

	require.NoError(t, c.AddTimed(ctx, "p", "small", small, clock.now+1000))
	require.NoError(t, c.AddTimed(ctx, "p", "large", large, clock.now+1000))

	smallItem, ok := kvlite.PeekItem[[]byte](ctx, c, "p", "small")
	require.True(t, ok)
	require.Equal(t, small, smallItem.Value)

	largeItem, ok := kvlite.PeekItem[[]byte](ctx, c, "p", "large")
	require.True(t, ok)
	require.Equal(t, large, largeItem.Value)
}

// Scenario E — corrupt value recovery.
func TestScenarioCorruptValueRecovery(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.AddTimed(ctx, "p", "k", "v", clock.now+1000))

	// Decoding into an incompatible type forces a decode failure, which
	// removes the row (spec.md §4.4 "On decode failure, remove the row").
	type incompatible struct{ Ch chan int }
	_, ok := kvlite.Get[incompatible](ctx, c, "p", "k")
	require.False(t, ok)
	require.False(t, c.Contains(ctx, "p", "k"))

	require.NoError(t, c.AddTimed(ctx, "p", "k", "v2", clock.now+1000))
	v, ok := kvlite.Get[string](ctx, c, "p", "k")
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

// Scenario F — eviction trigger.
func TestScenarioEvictionTrigger(t *testing.T) {
	clock := &testClock{now: 1000}
	settings := &kvlite.Settings{
		Backend:                       kvlite.BackendMemory,
		CacheName:                     t.Name(),
		DefaultPartition:              "default",
		InsertionCountBeforeAutoClean: 4,
		Clock:                         clock,
	}
	ctx := context.Background()
	c, err := kvlite.Open(ctx, settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 4; i++ {
		key := string(rune('a' + i))
		require.NoError(t, c.AddTimed(ctx, "p", key, "v", clock.now-1))
	}

	require.Equal(t, int64(0), c.Clear(ctx, "", kvlite.IgnoreExpiry))
}

func TestInvalidArgumentsAreRaised(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	err := c.AddSliding(ctx, "p", "", "v", 10)
	require.ErrorIs(t, err, kvlite.ErrInvalidArgument)

	tooMany := make([]string, 6)
	for i := range tooMany {
		tooMany[i] = "x"
	}
	err = c.AddSliding(ctx, "p", "k", "v", 10, tooMany...)
	require.ErrorIs(t, err, kvlite.ErrInvalidArgument)
}

func TestCloseDisposesTheCache(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.Close())
	err := c.AddSliding(ctx, "p", "k", "v", 10)
	require.ErrorIs(t, err, kvlite.ErrObjectDisposed)
}

func TestGetOrAddTimedInvokesGetterOnlyOnMiss(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	calls := 0
	getter := func(context.Context) (string, error) {
		calls++
		return "computed", nil
	}

	v, err := kvlite.GetOrAddTimed(ctx, c, "p", "k", clock.now+1000, getter)
	require.NoError(t, err)
	require.Equal(t, "computed", v)
	require.Equal(t, 1, calls)

	v, err = kvlite.GetOrAddTimed(ctx, c, "p", "k", clock.now+1000, getter)
	require.NoError(t, err)
	require.Equal(t, "computed", v)
	require.Equal(t, 1, calls) // second call is a hit, getter not invoked again
}

func TestStatsReportsEntryCount(t *testing.T) {
	clock := &testClock{now: 0}
	c := newTestCache(t, clock)
	ctx := context.Background()

	require.NoError(t, c.AddTimed(ctx, "p", "a", "v", clock.now+1000))
	require.NoError(t, c.AddTimed(ctx, "p", "b", "v", clock.now+1000))

	stats := c.Stats(ctx)
	require.Equal(t, int64(2), stats.EntryCount)
	require.NoError(t, stats.LastError)
}
