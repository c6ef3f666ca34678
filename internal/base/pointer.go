package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Ptr is one on-disk extent replica: a device, a generation number (for
// bucket-reuse detection), and a sector offset on that device.
type Ptr struct {
	Dev    uint8
	Gen    uint8
	Offset uint64
}

// PointerVersion distinguishes the two btree-key variants from §3.
type PointerVersion uint8

const (
	PointerV1 PointerVersion = 1
	PointerV2 PointerVersion = 2
)

// Pointer is a node's btree key: the metadata identifying it on disk.
// V1 carries only the replica list; V2 additionally carries the node's
// min_key, seq, and written/allocated sector counts so that recovery and
// the format planner can inspect a node's identity without reading it.
// The allocator builds every node's pointer as V1; the filesystem's
// V2Pointers option is recorded on the Filesystem but does not change the
// version of the pointers it allocates.
type Pointer struct {
	Version PointerVersion
	Ptrs    []Ptr

	// V2-only fields; zero for V1.
	MinKey         Key
	Seq            uint64
	SectorsWritten uint32
	Sectors        uint32
}

// Hash returns a stable hash of the pointer's replica set, used as the
// node cache's lookup key (bch2_btree_node_hash_insert hashes the same way).
func (p Pointer) Hash() uint64 {
	buf := make([]byte, 0, 10*len(p.Ptrs))
	for _, ptr := range p.Ptrs {
		var b [10]byte
		b[0] = ptr.Dev
		b[1] = ptr.Gen
		binary.LittleEndian.PutUint64(b[2:], ptr.Offset)
		buf = append(buf, b[:]...)
	}
	return xxhash.Sum64(buf)
}

// Clone deep-copies a pointer so mutating the original (e.g. during a
// replica change in update-key) never aliases a cached copy.
func (p Pointer) Clone() Pointer {
	c := p
	c.Ptrs = append([]Ptr(nil), p.Ptrs...)
	c.MinKey = p.MinKey.Clone()
	return c
}

// Equal compares two pointers by their replica sets and, for V2, identity
// fields. Used by update-key to detect whether the new pointer hashes
// differently from the old one.
func (p Pointer) Equal(other Pointer) bool {
	if p.Version != other.Version || len(p.Ptrs) != len(other.Ptrs) {
		return false
	}
	for i := range p.Ptrs {
		if p.Ptrs[i] != other.Ptrs[i] {
			return false
		}
	}
	if p.Version == PointerV2 {
		return p.Seq == other.Seq && p.MinKey.Equal(other.MinKey)
	}
	return true
}
