package hash_test

import (
	"testing"

	"github.com/ilkerhalil/kvlite/internal/hash"
	"github.com/stretchr/testify/assert"
)

func TestOfIsStableAndDeterministic(t *testing.T) {
	h1 := hash.Of("p", "k")
	h2 := hash.Of("p", "k")
	assert.Equal(t, h1, h2)
}

func TestOfDistinguishesConcatenationAmbiguity(t *testing.T) {
	a := hash.Of("ab", "c")
	b := hash.Of("a", "bc")
	assert.NotEqual(t, a, b)
}

func TestOfDistinguishesPartition(t *testing.T) {
	a := hash.Of("p1", "k")
	b := hash.Of("p2", "k")
	assert.NotEqual(t, a, b)
}
