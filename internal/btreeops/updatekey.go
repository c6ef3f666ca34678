package btreeops

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/cache"
	"github.com/kode54/bcachefs-tools/internal/update"

	"github.com/kode54/bcachefs-tools/internal/base"
)

// UpdateKey implements §4.7's update-key: change only b's pointer (e.g. a
// replica change). If the new pointer hashes differently from the old
// one, b itself is inserted under the new hash (no separate descriptor is
// allocated) so concurrent lookups find the node by either key during the
// window; the old hash entry is removed once the update's closure fires.
func UpdateKey(ctx context.Context, u *update.Update, nc *cache.NodeCache, roots *Roots, b *base.Node, w Writer, newPtr base.Pointer) error {
	oldPtr := b.Pointer
	sameHash := oldPtr.Hash() == newPtr.Hash()

	b.Pointer = newPtr
	if !sameHash {
		// Install under the new hash immediately so concurrent lookups
		// can find b by either key during the transition window; the old
		// hash entry (still pointing at b, now under a stale key) is
		// dropped once the update's closure fires, below.
		nc.HashInsert(b)
	}

	u.ParentKeys = append(u.ParentKeys,
		update.KeyDelta{Key: b.MinKey.Clone(), Pointer: oldPtr, Delete: true},
		update.KeyDelta{Key: b.MinKey.Clone(), Pointer: newPtr},
	)

	if roots.IsRoot(b) {
		roots.Set(b.BtreeID, b)
		u.UpdatedRoot(EncodeRootEntry(b.BtreeID, b.Level, b.Pointer))
	} else {
		u.UpdatedNode(b)
	}

	// b's pointer changed in place, but the update's closure must still
	// wait on its write reaching durable storage before the old hash entry
	// is dropped and the update can finalize.
	u.AddNewNode(b)
	if err := w.IssueWrite(ctx, u, b); err != nil {
		return err
	}
	if !sameHash {
		go func() {
			<-u.Closure.Done()
			tmp := &base.Node{Pointer: oldPtr}
			nc.HashRemove(tmp)
		}()
	}
	return nil
}
