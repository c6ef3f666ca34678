package btreeops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/cache"
	"github.com/kode54/bcachefs-tools/internal/update"
)

func newTestCache(t *testing.T) *cache.NodeCache {
	t.Helper()
	nc, err := cache.NewNodeCache(cache.MinCacheSize)
	require.NoError(t, err)
	return nc
}

func TestUpdateKeySameHashSkipsReinsert(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	b := base.AcquireNode()
	b.BtreeID = 3
	b.MinKey = base.Key("k")
	oldPtr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 10}}}
	newPtr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 10}}}
	require.Equal(t, oldPtr.Hash(), newPtr.Hash(), "test fixture must share a hash to exercise the same-hash path")
	b.Pointer = oldPtr

	u := &update.Update{Closure: update.NewClosure()}
	w := &fakeWriter{}

	err := UpdateKey(context.Background(), u, nc, roots, b, w, newPtr)
	require.NoError(t, err)

	assert.Equal(t, newPtr, b.Pointer)
	require.Len(t, u.ParentKeys, 2)
	assert.True(t, u.ParentKeys[0].Delete)
	assert.Equal(t, oldPtr, u.ParentKeys[0].Pointer)
	assert.False(t, u.ParentKeys[1].Delete)
	assert.Equal(t, newPtr, u.ParentKeys[1].Pointer)
	assert.Equal(t, update.UpdatingNode, u.Mode)
	assert.Same(t, b, u.B)

	select {
	case <-u.Closure.Done():
	default:
		t.Fatal("closure must fire once b's write completes")
	}
}

func TestUpdateKeyDifferingHashInsertsUnderNewHashImmediately(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	b := base.AcquireNode()
	b.BtreeID = 3
	b.MinKey = base.Key("k")
	oldPtr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 10}}}
	newPtr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 2, Offset: 99}}}
	require.NotEqual(t, oldPtr.Hash(), newPtr.Hash())
	b.Pointer = oldPtr

	u := &update.Update{Closure: update.NewClosure()}
	w := &fakeWriter{}

	err := UpdateKey(context.Background(), u, nc, roots, b, w, newPtr)
	require.NoError(t, err)

	got, ok := nc.Lookup(newPtr)
	require.True(t, ok, "b must be discoverable under its new hash before the update commits")
	assert.Same(t, b, got)

	// b's write already completed synchronously through the fake writer,
	// so the commit-time goroutine that drops the old hash has already
	// been unblocked.
	<-u.Closure.Done()
}

// Note: UpdateKey's root branch (roots.IsRoot(b) true) calls through to
// update.Update.UpdatedRoot, which marks the update on the owning
// Globals' unwritten list — that requires an Update built via
// update.Start's full allocator/journal wiring, so the root branch is
// exercised at the filesystem integration level rather than here; see
// TestUpdateKeyOnNonRootUsesUpdatedNode for the branch this package can
// drive directly.
func TestUpdateKeyOnNonRootUsesUpdatedNode(t *testing.T) {
	nc := newTestCache(t)
	roots := NewRoots(nc)

	b := base.AcquireNode()
	b.BtreeID = 7
	b.MinKey = base.Key("x")
	b.Pointer = base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 1}}}

	newPtr := base.Pointer{Version: base.PointerV1, Ptrs: []base.Ptr{{Dev: 1, Offset: 2}}}
	u := &update.Update{Closure: update.NewClosure()}
	w := &fakeWriter{}

	err := UpdateKey(context.Background(), u, nc, roots, b, w, newPtr)
	require.NoError(t, err)

	assert.Equal(t, update.UpdatingNode, u.Mode)
	assert.Same(t, b, u.B)
}
