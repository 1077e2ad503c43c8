// Package hash computes the stable 64-bit row identifier used as the
// primary key of a cache entry.
package hash

import "github.com/cespare/xxhash/v2"

// Of returns a stable 64-bit hash of partition and key, computed over the
// UTF-8 bytes of partition || '\x00' || key so that distinct (partition,
// key) pairs never collide solely through concatenation ambiguity. The
// (partition, key) unique index is the real collision resolver; this hash
// only needs to be stable across processes, not collision-free.
func Of(partition, key string) int64 {
	d := xxhash.New()
	_, _ = d.WriteString(partition)
	_, _ = d.Write(separator)
	_, _ = d.WriteString(key)
	return int64(d.Sum64())
}

var separator = []byte{0}
