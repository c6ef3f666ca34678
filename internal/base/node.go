package base

import "sync"

// NodeFlags is a bitset of the per-node flags from §3.
type NodeFlags uint32

const (
	FlagDirty NodeFlags = 1 << iota
	FlagNeedsWrite
	FlagDying
	FlagFake
	FlagAccessed
	FlagNeedRewrite
	FlagWillMakeReachable
)

// BtreeID identifies which btree (extents, inodes, dirents, ...) a node
// belongs to. The update engine treats it as an opaque key into the root
// registry; it never interprets the value.
type BtreeID uint8

// Node is the in-memory descriptor for one interior (or leaf) btree node.
// It never holds leaf-level key/value payloads — just enough of the bset
// to drive splits, merges, and pointer management; the leaf KV contents
// are outside this engine's scope.
//
// Nodes are pooled: Reset clears a descriptor for reuse by the node cache
// instead of letting it go to true garbage, the way the teacher's Node
// pool avoids an allocation per lookup.
type Node struct {
	Level   int
	BtreeID BtreeID

	MinKey Key
	MaxKey Key

	Format Format
	Keys   []Key

	Seq uint64

	// OpenBuckets are the allocator reservations backing this node's
	// on-disk extent(s); transferred into an Update's open_buckets on
	// publish so they're released only once the node is durable.
	OpenBuckets []OpenBucketRef

	// Pointer is this node's own btree key — how its parent (or the root
	// registry) refers to it on disk.
	Pointer Pointer

	Lock *NodeLock

	Flags NodeFlags

	// UpdateID is 0 when no update targets this node for completion, else
	// the id of the Update that set FlagWillMakeReachable. Kept as an id
	// rather than a pointer to avoid the Node<->Update reference cycle
	// (resolved through a process-wide lookup table).
	UpdateID uint64

	// Children holds child pointers for interior nodes (Level > 0); nil
	// for leaves.
	Children []Pointer

	// writeBlocked is b.write_blocked from §3: the ids of every Update
	// currently in UPDATING_NODE against this node, kept as ids rather
	// than *Update for the same reference-cycle reason as UpdateID.
	// Invariant (§8): for any U in UPDATING_NODE, U.id is in U.b.writeBlocked.
	writeBlocked []uint64

	mu sync.Mutex
}

// OpenBucketRef names one reservation this node's extent is pinned against.
type OpenBucketRef struct {
	Dev    uint8
	Bucket uint64
}

var nodePool = sync.Pool{
	New: func() any {
		return &Node{Lock: NewNodeLock()}
	},
}

// AcquireNode returns a zeroed Node from the pool, locked neither way.
func AcquireNode() *Node {
	n := nodePool.Get().(*Node)
	return n
}

// Release returns n to the pool after Reset.
func (n *Node) Release() {
	n.Reset()
	nodePool.Put(n)
}

// Reset clears all fields but keeps the allocated Lock, Keys, Children,
// and OpenBuckets backing arrays for reuse.
func (n *Node) Reset() {
	n.Level = 0
	n.BtreeID = 0
	n.MinKey = nil
	n.MaxKey = nil
	n.Format = Format{}
	n.Keys = n.Keys[:0]
	n.Seq = 0
	n.OpenBuckets = n.OpenBuckets[:0]
	n.Pointer = Pointer{}
	n.Flags = 0
	n.UpdateID = 0
	n.Children = n.Children[:0]
	n.writeBlocked = n.writeBlocked[:0]
}

func (n *Node) IsLeaf() bool {
	return n.Level == 0
}

// HasFlag reports whether every bit in want is set.
func (n *Node) HasFlag(want NodeFlags) bool {
	return n.Flags&want == want
}

func (n *Node) SetFlag(f NodeFlags) {
	n.mu.Lock()
	n.Flags |= f
	n.mu.Unlock()
}

func (n *Node) ClearFlag(f NodeFlags) {
	n.mu.Lock()
	n.Flags &^= f
	n.mu.Unlock()
}

// AddWriteBlocked appends updateID to n's write-blocked queue, per the
// NO_UPDATE -> UPDATING_NODE transition in §4.3.
func (n *Node) AddWriteBlocked(updateID uint64) {
	n.mu.Lock()
	n.writeBlocked = append(n.writeBlocked, updateID)
	n.mu.Unlock()
}

// RemoveWriteBlocked drops updateID from n's write-blocked queue.
func (n *Node) RemoveWriteBlocked(updateID uint64) {
	n.mu.Lock()
	for i, id := range n.writeBlocked {
		if id == updateID {
			n.writeBlocked = append(n.writeBlocked[:i], n.writeBlocked[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
}

// WriteBlocked returns a snapshot of the update ids currently blocked on
// n's write.
func (n *Node) WriteBlocked() []uint64 {
	n.mu.Lock()
	ids := append([]uint64(nil), n.writeBlocked...)
	n.mu.Unlock()
	return ids
}

// DrainWriteBlocked returns every update id blocked on n's write and
// empties the queue, used by WillFreeNode so n's dependents are
// reparented exactly once when n is freed.
func (n *Node) DrainWriteBlocked() []uint64 {
	n.mu.Lock()
	ids := n.writeBlocked
	n.writeBlocked = nil
	n.mu.Unlock()
	return ids
}

// Clone makes a deep copy for copy-on-write mutation: the original stays
// reachable under its old pointer while the clone is built up under
// write lock and eventually republished.
func (n *Node) Clone() *Node {
	c := AcquireNode()
	c.Level = n.Level
	c.BtreeID = n.BtreeID
	c.MinKey = n.MinKey.Clone()
	c.MaxKey = n.MaxKey.Clone()
	c.Format = n.Format
	c.Keys = append([]Key(nil), n.Keys...)
	c.Seq = n.Seq
	c.OpenBuckets = append([]OpenBucketRef(nil), n.OpenBuckets...)
	c.Pointer = n.Pointer.Clone()
	c.Children = append([]Pointer(nil), n.Children...)
	return c
}

// Size estimates the on-disk bset size this node would serialize to,
// used by the allocator and split/merge to test against btree_bytes
// before committing to a topology change.
func (n *Node) Size() int {
	sz := len(n.MinKey) + len(n.MaxKey)
	for _, k := range n.Keys {
		sz += len(k)
	}
	for _, p := range n.Children {
		sz += 10 * len(p.Ptrs)
	}
	return sz
}
