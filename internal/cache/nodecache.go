// Package cache implements the node cache collaborator from §6: mem_alloc,
// hash_insert/hash_remove, a cannibalize lock serializing bursts of node
// allocation, and root pinning that takes roots out of the evictable LRU.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/elastic/go-freelru"

	"github.com/kode54/bcachefs-tools/internal/base"
)

const (
	MinCacheSize = 16
)

// NodeCache is the process-wide lookup table from pointer-hash to live
// Node, backed by github.com/elastic/go-freelru for its sharded eviction
// (the cannibalize lock below needs to serialize bursts of contention on
// the same shard, which a single container/list LRU would force through
// one global mutex).
type NodeCache struct {
	lru *freelru.LRU[uint64, *base.Node]

	// cannibalize is held exclusively for the duration of filling a
	// reserve by evicting cold entries; held read-locked by ordinary
	// lookups so they aren't starved by a reserve fill in progress. This
	// is the rwsem the spec calls "cache_cannibalize_lock" in §5.
	cannibalize sync.RWMutex

	// roots are pinned against eviction; set_root_inmem removes a node
	// from the LRU and records it here instead.
	rootsMu sync.Mutex
	roots   map[uint64]*base.Node

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func hashUint64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return uint32(k)
}

func NewNodeCache(maxSize int) (*NodeCache, error) {
	if maxSize < MinCacheSize {
		maxSize = MinCacheSize
	}
	lru, err := freelru.New[uint64, *base.Node](uint32(maxSize), hashUint64)
	if err != nil {
		return nil, err
	}
	nc := &NodeCache{
		lru:   lru,
		roots: make(map[uint64]*base.Node),
	}
	lru.SetOnEvict(func(key uint64, _ *base.Node) {
		nc.evictions.Add(1)
	})
	return nc, nil
}

// MemAlloc returns a fresh Node locked intent+write, the mem_alloc()
// contract from §6. The caller is responsible for HashInsert once the
// node's pointer key is known.
func (nc *NodeCache) MemAlloc() *base.Node {
	n := base.AcquireNode()
	n.Lock.Lock(base.LockIntent)
	n.Lock.Lock(base.LockWrite)
	return n
}

// HashInsert publishes n into the cache under its current pointer's hash.
func (nc *NodeCache) HashInsert(n *base.Node) {
	nc.lru.Add(n.Pointer.Hash(), n)
}

// HashRemove removes n's current hash entry, used when update-key
// installs a node under a new hash and the old one must stop resolving.
func (nc *NodeCache) HashRemove(n *base.Node) {
	nc.lru.Remove(n.Pointer.Hash())
}

// Lookup resolves a pointer to its cached node.
func (nc *NodeCache) Lookup(ptr base.Pointer) (*base.Node, bool) {
	nc.cannibalize.RLock()
	defer nc.cannibalize.RUnlock()

	nc.rootsMu.Lock()
	if n, ok := nc.roots[ptr.Hash()]; ok {
		nc.rootsMu.Unlock()
		nc.hits.Add(1)
		return n, true
	}
	nc.rootsMu.Unlock()

	n, ok := nc.lru.Get(ptr.Hash())
	if ok {
		nc.hits.Add(1)
	} else {
		nc.misses.Add(1)
	}
	return n, ok
}

// PinAsRoot removes n from the evictable LRU and pins it, per §4.8's
// set_root_inmem: "remove b from the cache LRU (roots cannot be reaped)".
func (nc *NodeCache) PinAsRoot(n *base.Node) {
	h := n.Pointer.Hash()
	nc.lru.Remove(h)
	nc.rootsMu.Lock()
	nc.roots[h] = n
	nc.rootsMu.Unlock()
}

// UnpinRoot returns a former root to the ordinary evictable LRU, used when
// a btree's root is replaced and the old one becomes an ordinary freeable
// node (or is dropped entirely by the caller).
func (nc *NodeCache) UnpinRoot(n *base.Node) {
	h := n.Pointer.Hash()
	nc.rootsMu.Lock()
	delete(nc.roots, h)
	nc.rootsMu.Unlock()
	nc.lru.Add(h, n)
}

// Cannibalize acquires the cannibalize lock for the duration of a reserve
// fill, blocking ordinary lookups from racing eviction decisions with it.
func (nc *NodeCache) Cannibalize() {
	nc.cannibalize.Lock()
}

func (nc *NodeCache) CannibalizeUnlock() {
	nc.cannibalize.Unlock()
}

// RLock/RUnlock let ordinary lookups participate in the same rwsem without
// blocking each other, only a concurrent Cannibalize.
func (nc *NodeCache) RLock()   { nc.cannibalize.RLock() }
func (nc *NodeCache) RUnlock() { nc.cannibalize.RUnlock() }

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Len       int
}

func (nc *NodeCache) Stats() Stats {
	return Stats{
		Hits:      nc.hits.Load(),
		Misses:    nc.misses.Load(),
		Evictions: nc.evictions.Load(),
		Len:       nc.lru.Len(),
	}
}
