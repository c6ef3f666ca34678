package journal

import (
	"math"
	"sync"
	"sync/atomic"
)

// PinSet tracks the set of live journal pins and their minimum seq with
// O(1) reads, the same cached-min pattern as
// internal/lifecycle/readslots.go's ReaderSlots — adapted from reader
// transaction ids to journal pin sequence numbers, and from a fixed slot
// array to a map since the number of live pins (one per in-flight update)
// isn't bounded the way concurrent readers are.
type PinSet struct {
	mu      sync.Mutex
	refs    map[uint64]int
	minSeq  atomic.Uint64
}

func NewPinSet() *PinSet {
	ps := &PinSet{refs: make(map[uint64]int)}
	ps.minSeq.Store(math.MaxUint64)
	return ps
}

// Add registers a pin at seq (reference-counted: the same seq may be
// pinned by more than one update).
func (ps *PinSet) Add(seq uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refs[seq]++
	for {
		cur := ps.minSeq.Load()
		if seq >= cur {
			break
		}
		if ps.minSeq.CompareAndSwap(cur, seq) {
			break
		}
	}
}

// Remove releases one reference to the pin at seq, rescanning for a new
// minimum if the removed pin was the cached min and its refcount reached
// zero.
func (ps *PinSet) Remove(seq uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.refs[seq]--
	if ps.refs[seq] > 0 {
		return
	}
	delete(ps.refs, seq)

	if len(ps.refs) == 0 {
		ps.minSeq.Store(math.MaxUint64)
		return
	}
	if seq == ps.minSeq.Load() {
		min := uint64(math.MaxUint64)
		for s := range ps.refs {
			if s < min {
				min = s
			}
		}
		ps.minSeq.Store(min)
	}
}

// Min returns the cached minimum live pin seq (0 if none), O(1) lookup.
func (ps *PinSet) Min() uint64 {
	v := ps.minSeq.Load()
	if v == math.MaxUint64 {
		return 0
	}
	return v
}
