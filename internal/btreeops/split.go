package btreeops

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/format"
	"github.com/kode54/bcachefs-tools/internal/journal"
	"github.com/kode54/bcachefs-tools/internal/update"
)

// SplitThreshold is the live-u64s ceiling past which a replacement node is
// split rather than just rewritten in place (§4.5 step 4).
var SplitThreshold = 1 << 12 // bytes, stands in for live_u64s at this layer

// Iterator is the minimal view split/merge/rewrite need from a caller's
// positioned cursor: enough to splice new nodes in and know whether the
// node being operated on is the root.
type Iterator interface {
	ReplaceNode(old *base.Node, replacements ...*base.Node)
	Reinit()
	HoldsIntentToRoot() bool
	Parent() *base.Node
}

// Writer issues a node's write and reports back through u once durable;
// the concrete implementation lives above this package (it needs the
// sector store and checksum layer both of which are wired at the
// Filesystem level).
type Writer interface {
	IssueWrite(ctx context.Context, u *update.Update, n *base.Node) error
}

// Split implements §4.5: split(U, b, iter, keys?).
func Split(ctx context.Context, u *update.Update, b *base.Node, iter Iterator, w Writer, roots *Roots, g *update.Globals, j *journal.Journal, insertKeys []base.Key, maxBytes int) error {
	// Step 1: will-free-node b — marks it dying, reparents any update
	// still write-blocked on it, and queues its pointer-delete.
	update.WillFreeNode(u, b, g, j)

	// Step 2: n1 := alloc_replacement(b).
	n1 := allocReplacement(u, b)
	n1.Format = format.Plan(n1.Keys, n1.MinKey, b.Format, maxBytes)

	// Step 3: fix up the triggering insert before any pivot decision.
	for _, k := range insertKeys {
		idx := FindInsertPosition(n1, k)
		InsertKeyAt(n1, idx, k, base.Pointer{})
	}

	if n1.Size() <= SplitThreshold {
		// Step 5: compact instead of split. n1 must be registered as
		// pending reachability before its write is dispatched, so the
		// write-completion race can never fire before the closure has
		// been bumped for it.
		u.AddNewNode(n1)
		if err := w.IssueWrite(ctx, u, n1); err != nil {
			return err
		}
		return publish(u, b, iter, roots, n1, nil, nil, maxBytes)
	}

	// Step 4: split n1.
	sp := CalculateSplitPoint(n1)
	rightKeys, rightChildren := ExtractRightPortion(n1, sp)

	n1.MaxKey = sp.Prev.Clone()
	n1.Keys = n1.Keys[:sp.Pivot]
	if !n1.IsLeaf() {
		n1.Children = n1.Children[:sp.Pivot]
	}

	n2 := allocReplacementEmpty(u, n1.Level, n1.BtreeID)
	n2.MinKey = sp.SeparatorKey.Clone()
	n2.MaxKey = b.MaxKey.Clone()
	n2.Keys = rightKeys
	n2.Children = rightChildren
	n2.Format = format.Plan(n2.Keys, n2.MinKey, b.Format, maxBytes)

	var n3 *base.Node
	if !iter.HoldsIntentToRoot() || iter.Parent() == nil {
		n3 = allocReplacementEmpty(u, n1.Level+1, n1.BtreeID)
		n3.MinKey = base.POS_MIN
		n3.MaxKey = base.POS_MAX.Clone()
		InsertKeyAt(n3, 0, n1.MaxKey, n1.Pointer)
		InsertKeyAt(n3, 1, n2.MaxKey, n2.Pointer)
	}

	// Every sibling must be registered (closure_get'd) before any of their
	// writes are dispatched: otherwise a writer that completes
	// synchronously could drop the closure to zero after the first write
	// and fire the finalizer while siblings are still unregistered.
	u.AddNewNode(n2)
	u.AddNewNode(n1)
	if n3 != nil {
		u.AddNewNode(n3)
	}

	if err := w.IssueWrite(ctx, u, n2); err != nil {
		return err
	}
	if err := w.IssueWrite(ctx, u, n1); err != nil {
		return err
	}
	if n3 != nil {
		if err := w.IssueWrite(ctx, u, n3); err != nil {
			return err
		}
	}

	return publish(u, b, iter, roots, n1, n2, n3, maxBytes)
}

func allocReplacement(u *update.Update, b *base.Node) *base.Node {
	n := popPrealloc(u)
	n.Level = b.Level
	n.BtreeID = b.BtreeID
	n.MinKey = b.MinKey.Clone()
	n.MaxKey = b.MaxKey.Clone()
	n.Keys = append(n.Keys[:0], b.Keys...)
	if !b.IsLeaf() {
		n.Children = append(n.Children[:0], b.Children...)
	}
	n.Format = b.Format
	return n
}

func allocReplacementEmpty(u *update.Update, level int, btreeID base.BtreeID) *base.Node {
	n := popPrealloc(u)
	n.Level = level
	n.BtreeID = btreeID
	return n
}

func popPrealloc(u *update.Update) *base.Node {
	n := u.PreallocNodes[len(u.PreallocNodes)-1]
	u.PreallocNodes = u.PreallocNodes[:len(u.PreallocNodes)-1]
	return n
}

// publish implements §4.5 steps 6-8: insert into the parent (or set the
// new root), transfer open buckets, and splice the iterator. Each of
// n1/n2/n3 was already registered via AddNewNode before its write was
// issued, so only the parent/root linkage remains here.
func publish(u *update.Update, b *base.Node, iter Iterator, roots *Roots, n1, n2, n3 *base.Node, maxBytes int) error {
	switch {
	case n3 != nil:
		// The tree grew a level: n3 is the new root.
		roots.Set(n3.BtreeID, n3)
		u.UpdatedRoot(EncodeRootEntry(n3.BtreeID, n3.Level, n3.Pointer))
	case iter.Parent() != nil:
		u.UpdatedNode(iter.Parent())
	default:
		// b had no parent and fit after compaction without growing a
		// level (root-compact, §8.1): n1 itself becomes the new root.
		roots.Set(n1.BtreeID, n1)
		u.UpdatedRoot(EncodeRootEntry(n1.BtreeID, n1.Level, n1.Pointer))
	}

	replacements := []*base.Node{n1}
	if n2 != nil {
		replacements = append(replacements, n2)
	}
	if n3 != nil {
		replacements = append(replacements, n3)
	}
	iter.ReplaceNode(b, replacements...)
	iter.Reinit()
	return nil
}
