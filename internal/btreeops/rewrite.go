package btreeops

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/format"
	"github.com/kode54/bcachefs-tools/internal/journal"
	"github.com/kode54/bcachefs-tools/internal/update"
)

// Rewrite implements §4.7: replace b with n carrying identical keys but
// potentially a new format/location. Identical to split with no pivot —
// used by GC to defragment, and to service a node with must_rewrite set
// even when it has room (§8 boundary scenario "Rewrite under GC").
//
// When iter has no parent, n itself becomes the update's target through
// UpdatedNode (UPDATING_NODE); unlike Split, Rewrite does not update the
// root registry or queue a btree_root journal entry.
func Rewrite(ctx context.Context, u *update.Update, b *base.Node, iter Iterator, w Writer, g *update.Globals, j *journal.Journal, maxBytes int) error {
	update.WillFreeNode(u, b, g, j)

	n := allocReplacement(u, b)
	n.Format = format.Plan(n.Keys, n.MinKey, b.Format, maxBytes)

	u.AddNewNode(n)
	if err := w.IssueWrite(ctx, u, n); err != nil {
		return err
	}

	if parent := iter.Parent(); parent != nil {
		u.UpdatedNode(parent)
	} else {
		u.UpdatedNode(n)
	}

	iter.ReplaceNode(b, n)
	iter.Reinit()
	return nil
}
