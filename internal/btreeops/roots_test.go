package btreeops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode54/bcachefs-tools/internal/base"
)

func TestEncodeRootEntryCarriesIdentityAndReplicas(t *testing.T) {
	ptr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 3, Gen: 1, Offset: 42}}}
	entry := EncodeRootEntry(7, 2, ptr)

	require.Len(t, entry, 4+10)
	assert.Equal(t, byte(7), entry[0], "btree id")
	assert.Equal(t, byte(2), entry[1], "level")
	assert.Equal(t, byte(base.PointerV1), entry[2], "pointer version")
	assert.Equal(t, byte(1), entry[3], "replica count")
}

func TestRootsGetIsRootRoundTrip(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	assert.Nil(t, roots.Get(1))

	b := base.AcquireNode()
	b.BtreeID = 1
	b.Level = 0
	b.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}

	roots.Set(1, b)

	assert.Same(t, b, roots.Get(1))
	assert.True(t, roots.IsRoot(b))

	other := base.AcquireNode()
	other.BtreeID = 1
	assert.False(t, roots.IsRoot(other))
}

func TestRootsSetPinsNewRootAndUnpinsOld(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	old := base.AcquireNode()
	old.BtreeID = 2
	old.Level = 1
	old.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}
	roots.Set(2, old)
	nc.HashInsert(old) // simulate old being reachable before it was a root

	next := base.AcquireNode()
	next.BtreeID = 2
	next.Level = 1 // same level: no panic
	next.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}

	roots.Set(2, next)

	assert.Same(t, next, roots.Get(2))
	_, evictable := nc.Lookup(old.Pointer)
	assert.True(t, evictable, "the old root must be returned to the ordinary evictable LRU")
}

func TestRootsSetAllowsLevelIncrease(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	old := base.AcquireNode()
	old.BtreeID = 3
	old.Level = 0
	old.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}
	roots.Set(3, old)

	next := base.AcquireNode()
	next.BtreeID = 3
	next.Level = 1
	next.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}

	assert.NotPanics(t, func() { roots.Set(3, next) })
}

func TestRootsSetPanicsOnLevelDecreaseWithoutDying(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	old := base.AcquireNode()
	old.BtreeID = 4
	old.Level = 2
	old.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}
	roots.Set(4, old)

	next := base.AcquireNode()
	next.BtreeID = 4
	next.Level = 1
	next.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}

	assert.Panics(t, func() { roots.Set(4, next) })
}

func TestRootsSetAllowsLevelDecreaseWhenOldIsDying(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	old := base.AcquireNode()
	old.BtreeID = 5
	old.Level = 2
	old.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}
	roots.Set(5, old)
	old.SetFlag(base.FlagDying)

	next := base.AcquireNode()
	next.BtreeID = 5
	next.Level = 0
	next.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}

	assert.NotPanics(t, func() { roots.Set(5, next) })
	assert.Same(t, next, roots.Get(5))
}

func TestRootJournalEntriesCoversEveryTrackedBtree(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	a := base.AcquireNode()
	a.BtreeID = 1
	a.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}
	roots.Set(1, a)

	b := base.AcquireNode()
	b.BtreeID = 2
	b.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}
	roots.Set(2, b)

	var encoded []base.BtreeID
	entries := roots.RootJournalEntries(func(id base.BtreeID, level int, p base.Pointer) []byte {
		encoded = append(encoded, id)
		return EncodeRootEntry(id, level, p)
	})

	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []base.BtreeID{1, 2}, encoded)
	for _, e := range entries {
		assert.NotEmpty(t, e, "a root journal entry must carry the root's pointer, not nil data")
	}
}
