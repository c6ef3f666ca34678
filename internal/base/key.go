package base

import "bytes"

// Key is a totally ordered btree position, compared byte-lexicographically.
type Key []byte

// POS_MIN and POS_MAX bound the key space of a whole btree.
//
//goland:noinspection GoSnakeCaseUsage
var (
	POS_MIN = Key{}
	POS_MAX = Key{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// Compare orders two keys; matches bytes.Compare semantics.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Clone returns a deep copy, since Keys are frequently retained past the
// lifetime of the buffer they were read from.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// Successor returns the immediate next key in the total order over
// positions. Used to assert that adjacent children meet with no gap:
// successor(prev.max_key) == next.min_key.
func Successor(k Key) Key {
	s := make(Key, len(k)+1)
	copy(s, k)
	return s
}

// IsMin reports whether k is the minimum key in the space.
func (k Key) IsMin() bool {
	return len(k) == 0
}
