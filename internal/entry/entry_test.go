package entry_test

import (
	"strings"
	"testing"

	"github.com/ilkerhalil/kvlite/internal/entry"
	"github.com/stretchr/testify/assert"
)

func TestLifetimeClassification(t *testing.T) {
	sliding := &entry.Entry{Interval: 10}
	timed := &entry.Entry{Interval: 0}
	assert.Equal(t, entry.Sliding, sliding.Lifetime())
	assert.Equal(t, entry.Timed, timed.Lifetime())
}

func TestExpired(t *testing.T) {
	e := &entry.Entry{UTCExpiry: 100}
	assert.True(t, e.Expired(101))
	assert.False(t, e.Expired(100))
	assert.False(t, e.Expired(99))
}

func TestNormalizeClampsNegativeInterval(t *testing.T) {
	_, _, interval := entry.Normalize("p", "k", -5)
	assert.Equal(t, int64(0), interval)
}

func TestNormalizeTruncatesLongPartitionAndKey(t *testing.T) {
	long := strings.Repeat("x", entry.MaxPartitionKeyLength+50)
	p, k, _ := entry.Normalize(long, long, 5)
	assert.Len(t, []rune(p), entry.MaxPartitionKeyLength)
	assert.Len(t, []rune(k), entry.MaxPartitionKeyLength)
}

func TestNormalizeLeavesShortValuesUntouched(t *testing.T) {
	p, k, interval := entry.Normalize("p", "k", 5)
	assert.Equal(t, "p", p)
	assert.Equal(t, "k", k)
	assert.Equal(t, int64(5), interval)
}
