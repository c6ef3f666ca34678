package btreeops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/update"
)

// TestMaybeMergePrevCombinesSiblings implements §8 boundary scenario 2:
// two sibling leaves whose joint size is comfortably under threshold are
// merged into one node, and the parent insertion deletes the old boundary
// key and inserts a pointer to the merged node.
func TestMaybeMergePrevCombinesSiblings(t *testing.T) {
	a := leafWithKeys("k1", "k2") // prev: covers [0, 5)
	a.MinKey = base.Key{0}
	a.MaxKey = base.Key{5}

	b := leafWithKeys("k3", "k4") // next: covers [5, 10)
	b.MinKey = base.Key{5}
	b.MaxKey = base.Key{10}

	u := newTestUpdate(1)
	parent := base.AcquireNode()
	parent.Level = 1
	iter := &fakeIterator{parent: parent}
	w := &fakeWriter{}
	sibU64s := map[*base.Node]int{}

	fetchCalled := false
	fetchSibling := func() (*base.Node, int) {
		fetchCalled = true
		return a, 0
	}

	err := MaybeMerge(context.Background(), u, b, iter, w, nil, nil, SiblingPrev, fetchSibling, sibU64s, 1<<20)
	require.NoError(t, err)
	assert.True(t, fetchCalled)

	require.Len(t, w.written, 1, "a joint size under threshold must produce exactly one merged node")
	n := w.written[0]
	assert.True(t, n.MinKey.Equal(a.MinKey), "merged node must start at prev's min key")
	assert.True(t, n.MaxKey.Equal(b.MaxKey), "merged node must end at next's max key")
	assert.Len(t, n.Keys, 4, "merged node must carry every live key from both siblings")

	require.Len(t, u.ParentKeys, 2)
	assert.True(t, u.ParentKeys[0].Delete)
	assert.True(t, u.ParentKeys[0].Key.Equal(a.MaxKey), "parent insertion must delete the old boundary key")
	assert.False(t, u.ParentKeys[1].Delete)
	assert.True(t, u.ParentKeys[1].Key.Equal(n.MaxKey))

	assert.True(t, a.HasFlag(base.FlagDying))
	assert.True(t, b.HasFlag(base.FlagDying))
	assert.Equal(t, update.UpdatingNode, u.Mode)
}

// TestMaybeMergeSkipsWhenSiblingAlreadyOverThreshold covers §4.6 step 1's
// hysteresis: a sibling already recorded above the threshold is skipped
// without even fetching its current sibling.
func TestMaybeMergeSkipsWhenSiblingAlreadyOverThreshold(t *testing.T) {
	b := leafWithKeys("k1")
	u := newTestUpdate(1)
	iter := &fakeIterator{}
	w := &fakeWriter{}
	sibU64s := map[*base.Node]int{b: ForegroundMergeThreshold + 1}

	fetchCalled := false
	fetchSibling := func() (*base.Node, int) {
		fetchCalled = true
		return nil, 0
	}

	err := MaybeMerge(context.Background(), u, b, iter, w, nil, nil, SiblingNext, fetchSibling, sibU64s, 1<<20)
	require.NoError(t, err)
	assert.False(t, fetchCalled, "hysteresis must skip before even fetching the sibling")
	assert.Empty(t, w.written)
}

// TestMaybeMergeNoSiblingRecordsEdgeOfTree covers §4.6 step 2: fetching a
// nil sibling (edge of the tree) records u16Max rather than merging.
func TestMaybeMergeNoSiblingRecordsEdgeOfTree(t *testing.T) {
	b := leafWithKeys("k1")
	u := newTestUpdate(1)
	iter := &fakeIterator{}
	w := &fakeWriter{}
	sibU64s := map[*base.Node]int{}

	err := MaybeMerge(context.Background(), u, b, iter, w, nil, nil, SiblingNext, func() (*base.Node, int) { return nil, 0 }, sibU64s, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, u16Max, sibU64s[b])
	assert.Empty(t, w.written)
}
