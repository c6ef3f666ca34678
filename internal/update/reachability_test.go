package update

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/journal"
)

func newTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.New(filepath.Join(t.TempDir(), "journal"), journal.SyncOff, 0, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestAddNewNodeTracksClosureAndOpenBuckets covers §4.4 step 1-2: a new
// node is marked will_make_reachable, pins the update's closure, and its
// open buckets are transferred to the update.
func TestAddNewNodeTracksClosureAndOpenBuckets(t *testing.T) {
	g := NewGlobals()
	u := &Update{Closure: NewClosure()}
	g.Register(u)

	n := base.AcquireNode()
	n.OpenBuckets = []base.OpenBucketRef{{Dev: 0, Bucket: 7}}

	u.AddNewNode(n)

	assert.Equal(t, u.id, n.UpdateID)
	assert.True(t, n.HasFlag(base.FlagWillMakeReachable))
	assert.Contains(t, u.NewNodes, n)
	assert.Contains(t, u.OpenBuckets, base.OpenBucketRef{Dev: 0, Bucket: 7})

	select {
	case <-u.Closure.Done():
		t.Fatal("closure must not fire until the new node's write completes")
	default:
	}
}

// TestBtreeCompleteWriteClearsReachabilityBit covers §4.4 step 3.
func TestBtreeCompleteWriteClearsReachabilityBit(t *testing.T) {
	g := NewGlobals()
	u := &Update{Closure: NewClosure()}
	g.Register(u)

	n := base.AcquireNode()
	u.AddNewNode(n)
	u.BtreeCompleteWrite(n)

	assert.False(t, n.HasFlag(base.FlagWillMakeReachable))
	assert.Equal(t, uint64(0), n.UpdateID)

	select {
	case <-u.Closure.Done():
	default:
		t.Fatal("closure must fire once every new node's write has completed")
	}
}

// TestReparentOnFree implements §8 boundary scenario 3: Update U1 is
// UPDATING_NODE on parent P with new child c1; before c1 finishes writing,
// P is split by U2 which wills-free P. U1 must end up reparented onto U2.
func TestReparentOnFree(t *testing.T) {
	g := NewGlobals()
	j := newTestJournal(t)

	u1 := &Update{Closure: NewClosure()}
	g.Register(u1)
	u1.JournalPin = j.NextSeq()
	j.PinCopy(u1.JournalPin)

	p := base.AcquireNode()
	u1.UpdatedNode(p)
	require.Equal(t, UpdatingNode, u1.Mode)
	require.Same(t, p, u1.B)

	c1 := base.AcquireNode()
	u1.AddNewNode(c1)

	u2 := &Update{Closure: NewClosure()}
	g.Register(u2)
	u2.JournalPin = j.NextSeq()
	j.PinCopy(u2.JournalPin)
	require.Greater(t, u2.JournalPin, u1.JournalPin)

	require.Contains(t, p.WriteBlocked(), u1.id, "UpdatedNode must have registered u1 on p's write-blocked queue")
	WillFreeNode(u2, p, g, j)

	assert.Nil(t, u1.B)
	assert.Equal(t, UpdatingAS, u1.Mode)
	assert.Equal(t, u2.JournalPin, u1.JournalPin, "U1's pin must be transferred onto U2's")
	assert.True(t, p.HasFlag(base.FlagDying))
	assert.False(t, p.HasFlag(base.FlagDirty))

	// c1 is still pending reachability under u1, untouched by the
	// reparent of its owning update (only p itself was freed here).
	assert.Contains(t, u1.NewNodes, c1)

	// U2 now holds the older of the two pins, so reclaim stays behind
	// U1's original dependency.
	assert.Equal(t, u2.JournalPin, j.PinFlush())
}

// TestWillFreeNodeRemovesPendingNewNode covers the case where the node
// being freed was itself still pending reachability under some other
// update's new_nodes list: it must be removed and that update's closure
// reference dropped so the update doesn't wait forever.
func TestWillFreeNodeRemovesPendingNewNode(t *testing.T) {
	g := NewGlobals()
	j := newTestJournal(t)

	owner := &Update{Closure: NewClosure()}
	g.Register(owner)

	b := base.AcquireNode()
	owner.AddNewNode(b)

	freer := &Update{Closure: NewClosure()}
	g.Register(freer)
	freer.JournalPin = j.NextSeq()
	j.PinCopy(freer.JournalPin)

	WillFreeNode(freer, b, g, j)

	assert.NotContains(t, owner.NewNodes, b)
	select {
	case <-owner.Closure.Done():
	default:
		t.Fatal("owner's closure must fire once its pending new node is freed instead of written")
	}
}
