package btreeops

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/cache"
)

// rootsLess orders roots by btree id, the key google/btree's BTreeG needs
// for Ascend to visit them in a fixed, non-map-random order.
func rootsLess(a, b *base.Node) bool { return a.BtreeID < b.BtreeID }

// rootSnapshot is one immutable view of the root registry: per-btree-id
// pointer to the current root node, plus a btree-id-ordered index used to
// walk every tracked root in a deterministic order at journal-commit time —
// grounded on internal/pager/pager.go's Commit, which Ascends a
// btree.BTreeG[*base.Node] to visit pending pages in a fixed order rather
// than a map's randomized one.
type rootSnapshot struct {
	byID  map[base.BtreeID]*base.Node
	order *btree.BTreeG[*base.Node]
}

// Roots is the root registry from §4.8, kept as an atomically-swapped
// immutable snapshot the way the teacher keeps its dual meta0/meta1 pages
// (internal/pager/pager.go's active atomic.Pointer[Snapshot]) — generalized
// here from one root to a map[BtreeID]*base.Node so readers never observe
// a partially-updated registry.
type Roots struct {
	active atomic.Pointer[rootSnapshot]
	mu     sync.Mutex
	cache  *cache.NodeCache
}

func NewRoots(nc *cache.NodeCache) *Roots {
	r := &Roots{cache: nc}
	r.active.Store(&rootSnapshot{
		byID:  make(map[base.BtreeID]*base.Node),
		order: btree.NewG[*base.Node](32, rootsLess),
	})
	return r
}

func (r *Roots) Get(id base.BtreeID) *base.Node {
	return r.active.Load().byID[id]
}

func (r *Roots) IsRoot(n *base.Node) bool {
	return r.Get(n.BtreeID) == n
}

// Set implements set_root_inmem(b): remove b from the cache LRU (roots
// cannot be reaped), assert b.level >= old_root.level unless old is
// dying, then publish a new snapshot.
func (r *Roots) Set(id base.BtreeID, b *base.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.active.Load().byID[id]
	if old != nil && b.Level < old.Level && !old.HasFlag(base.FlagDying) {
		panic("btreeops: root level decreased without old root dying")
	}

	r.cache.PinAsRoot(b)
	if old != nil {
		r.cache.UnpinRoot(old)
	}

	cur := r.active.Load()
	next := &rootSnapshot{
		byID:  make(map[base.BtreeID]*base.Node, len(cur.byID)),
		order: cur.order.Clone(),
	}
	for k, v := range cur.byID {
		next.byID[k] = v
	}
	next.byID[id] = b
	next.order.ReplaceOrInsert(b)
	r.active.Store(next)
}

// EncodeRootEntry serializes one btree_root(btree_id, level, pointer_bkey)
// journal entry per §4.8/§6: the byte layout mirrors Pointer.Hash's own
// little-endian dev/gen/offset encoding so the journal and the node cache
// agree on how a replica list is laid out on the wire.
func EncodeRootEntry(id base.BtreeID, level int, ptr base.Pointer) []byte {
	buf := make([]byte, 0, 4+10*len(ptr.Ptrs))
	buf = append(buf, byte(id), byte(level), byte(ptr.Version), byte(len(ptr.Ptrs)))
	for _, p := range ptr.Ptrs {
		var b [10]byte
		b[0] = p.Dev
		b[1] = p.Gen
		binary.LittleEndian.PutUint64(b[2:], p.Offset)
		buf = append(buf, b[:]...)
	}
	return buf
}

// RootJournalEntries builds the btree_root journal entries for every
// tracked btree id, the btree_roots_to_journal_entries half of §4.8's
// "move roots across the journal boundary at every commit" rule.
func (r *Roots) RootJournalEntries(encode func(base.BtreeID, int, base.Pointer) []byte) [][]byte {
	snap := r.active.Load()
	entries := make([][]byte, 0, snap.order.Len())
	snap.order.Ascend(func(n *base.Node) bool {
		entries = append(entries, encode(n.BtreeID, n.Level, n.Pointer))
		return true
	})
	return entries
}
