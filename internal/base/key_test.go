package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyCompare(t *testing.T) {
	assert.Equal(t, -1, Key("a").Compare(Key("b")))
	assert.Equal(t, 0, Key("a").Compare(Key("a")))
	assert.Equal(t, 1, Key("b").Compare(Key("a")))
}

func TestKeyEqual(t *testing.T) {
	assert.True(t, Key("abc").Equal(Key("abc")))
	assert.False(t, Key("abc").Equal(Key("abd")))
}

func TestKeyCloneIsolation(t *testing.T) {
	orig := Key("hello")
	clone := orig.Clone()
	clone[0] = 'X'
	assert.Equal(t, Key("hello"), orig, "mutating the clone must not affect the original")
	assert.Equal(t, Key("Xello"), clone)

	assert.Nil(t, Key(nil).Clone())
}

func TestSuccessorOrdering(t *testing.T) {
	t.Run("successor sorts strictly after its key", func(t *testing.T) {
		k := Key("foo")
		s := Successor(k)
		assert.Equal(t, 1, s.Compare(k), "successor must sort after k")
	})

	t.Run("successor of POS_MIN is the immediate next key", func(t *testing.T) {
		s := Successor(POS_MIN)
		assert.True(t, s.Compare(POS_MIN) > 0)
	})

	t.Run("no key sorts strictly between a key and its successor", func(t *testing.T) {
		// successor appends a single zero byte, which is the
		// lexicographically smallest possible extension of k.
		k := Key("bar")
		s := Successor(k)
		probe := append(append(Key{}, k...), 0x00)
		assert.True(t, s.Equal(probe))
	})
}

func TestPosMinIsMin(t *testing.T) {
	assert.True(t, POS_MIN.IsMin())
	assert.False(t, POS_MAX.IsMin())
	assert.True(t, POS_MIN.Compare(POS_MAX) < 0)
}
