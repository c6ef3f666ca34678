package btreeops

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/format"
	"github.com/kode54/bcachefs-tools/internal/journal"
	"github.com/kode54/bcachefs-tools/internal/update"
)

// ForegroundMergeThreshold is the hysteresis ceiling from §4.6 step 1: a
// sibling whose tracked size already exceeds this is skipped rather than
// merged, so repeated merge/split doesn't oscillate at the boundary.
var ForegroundMergeThreshold = SplitThreshold / 2

const u16Max = 1<<16 - 1

// Sibling names which side maybeMerge considers.
type Sibling int

const (
	SiblingPrev Sibling = iota
	SiblingNext
)

// MaybeMerge implements §4.6: maybe_merge(U, iter, level, sibling).
// fetchSibling returns the sibling node and its previously recorded
// sib_u64s (u16Max if there is no sibling, i.e. the edge of the tree).
func MaybeMerge(ctx context.Context, u *update.Update, b *base.Node, iter Iterator, w Writer, g *update.Globals, j *journal.Journal, sib Sibling, fetchSibling func() (*base.Node, int), sibU64s map[*base.Node]int, maxBytes int) error {
	if cur, ok := sibU64s[b]; ok && cur > ForegroundMergeThreshold {
		return nil
	}

	m, recorded := fetchSibling()
	if m == nil {
		sibU64s[b] = u16Max
		return nil
	}

	joint := base.Format{}
	if b.Format.KeyU64s > m.Format.KeyU64s {
		joint = b.Format
	} else {
		joint = m.Format
	}

	jointSize := b.Size() + m.Size()
	hyst := recorded
	if hyst > 0 {
		hyst = (hyst-ForegroundMergeThreshold)/2 + ForegroundMergeThreshold
	}
	if hyst > jointSize {
		jointSize = hyst
	}
	if jointSize > maxBytes {
		sibU64s[b] = jointSize
		return nil
	}

	var prev, next *base.Node
	if sib == SiblingPrev {
		prev, next = m, b
	} else {
		prev, next = b, m
	}

	update.WillFreeNode(u, b, g, j)
	update.WillFreeNode(u, m, g, j)

	n := popPrealloc(u)
	n.Level = b.Level
	n.BtreeID = b.BtreeID
	n.MinKey = prev.MinKey.Clone()
	n.MaxKey = next.MaxKey.Clone()
	n.Keys = append(append([]base.Key{}, prev.Keys...), next.Keys...)
	if !b.IsLeaf() {
		n.Children = append(append([]base.Pointer{}, prev.Children...), next.Children...)
	}
	n.Format = format.Plan(n.Keys, n.MinKey, joint, maxBytes)

	u.AddNewNode(n)
	if err := w.IssueWrite(ctx, u, n); err != nil {
		return err
	}

	// Parent insertion: {delete(prev.max_key), insert(ptr(n))}.
	u.ParentKeys = append(u.ParentKeys,
		update.KeyDelta{Key: prev.MaxKey.Clone(), Delete: true},
		update.KeyDelta{Key: n.MaxKey.Clone(), Pointer: n.Pointer},
	)

	if parent := iter.Parent(); parent != nil {
		u.UpdatedNode(parent)
	}
	iter.ReplaceNode(prev, n)
	iter.ReplaceNode(next)
	iter.Reinit()
	delete(sibU64s, b)
	return nil
}
