package engine

import "sync/atomic"

// atomicCounter is the per-process insertion counter driving the
// eviction trigger (spec.md §4.4 point 5). Per spec.md §4.5
// "Concurrency", resets racing with increments are acceptable: counter
// jitter is tolerated, not a correctness bug.
type atomicCounter struct {
	n int64
}

func (c *atomicCounter) increment() int64 {
	return atomic.AddInt64(&c.n, 1)
}

func (c *atomicCounter) reset() {
	atomic.StoreInt64(&c.n, 0)
}

func (c *atomicCounter) load() int64 {
	return atomic.LoadInt64(&c.n)
}
