package update

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/alloc"
	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/journal"
)

// KeyDelta is one entry in an update's old_keys/new_keys/parent_keys
// scratch lists — the topology deltas used for allocator accounting at
// commit and for building the parent's insertion.
type KeyDelta struct {
	Key     base.Key
	Pointer base.Pointer
	Delete  bool
}

// JournalEntry is one queued entry in an update's journal payload (a
// parent insert or a new-root snapshot), written at finalize time.
type JournalEntry struct {
	Kind    journal.EntryKind
	BtreeID base.BtreeID
	Data    []byte
}

// Update is the long-lived object tracking one topology change, per §3.
type Update struct {
	id      uint64
	BtreeID base.BtreeID
	Mode    Mode

	DiskRes       int // reserved sectors
	JournalPreres int // reserved journal bytes
	JournalPin    uint64

	PreallocNodes []*base.Node
	NewNodes      []*base.Node

	OpenBuckets []base.OpenBucketRef

	OldKeys    []KeyDelta
	NewKeys    []KeyDelta
	ParentKeys []KeyDelta

	JournalEntries []JournalEntry

	// B is the parent node (or new root) this update will finally
	// mutate; nil once reparented onto another update.
	B *base.Node

	NodesWritten bool
	Closure      *Closure

	alloc   *alloc.Allocator
	jrnl    *journal.Journal
	globals *Globals
}

// Start performs §4.3's start() sequence: check journal health, allocate
// the Update, acquire journal preres, record the disk reservation, then
// reserve_get nrNodes. The disk reservation is only recorded in DiskRes
// (nrNodes * nodeSectors); no sectors are set aside by that step.
// Failure at any step releases all earlier acquisitions.
func Start(ctx context.Context, g *Globals, a *alloc.Allocator, j *journal.Journal, btreeID base.BtreeID, nrNodes int, flags alloc.Flags, nodeSectors int) (*Update, error) {
	if err := j.Error(); err != nil {
		return nil, err
	}

	u := &Update{
		BtreeID: btreeID,
		Mode:    NoUpdate,
		Closure: NewClosure(),
		alloc:   a,
		jrnl:    j,
		globals: g,
	}
	g.Register(u)

	journalBytes := nrNodes * 64
	nonblock := flags&alloc.FlagNowait != 0
	if err := j.PreresGet(journalBytes, nonblock); err != nil {
		g.Forget(u)
		return nil, err
	}
	u.JournalPreres = journalBytes

	u.DiskRes = nrNodes * nodeSectors

	nodes, err := a.ReserveGet(ctx, nrNodes, flags)
	if err != nil {
		j.PreresPut(u.JournalPreres)
		g.Forget(u)
		return nil, err
	}
	u.PreallocNodes = nodes

	u.JournalPin = j.NextSeq()
	j.PinCopy(u.JournalPin)

	return u, nil
}

// Done returns the unused prealloc reserve, then schedules completion: a
// continuation on the closure marks nodes_written = true and kicks the
// finalizer worker (via the caller's finalizer pool — see reachability.go).
func (u *Update) Done() {
	unused := u.PreallocNodes
	u.PreallocNodes = nil
	u.alloc.ReservePut(unused)
	u.jrnl.PreresPut(u.JournalPreres)
}

// UpdatedNode is the NO_UPDATE -> UPDATING_NODE transition from §4.3:
// append this update to b's write-blocked queue and target b.
func (u *Update) UpdatedNode(b *base.Node) {
	b.SetFlag(base.FlagDirty)
	u.B = b
	u.Mode = UpdatingNode
	b.AddWriteBlocked(u.id)
}

// UpdatedRoot is the NO_UPDATE -> UPDATING_ROOT transition: append a
// btree_root journal entry and list this update on the global unwritten
// list.
func (u *Update) UpdatedRoot(rootEntry []byte) {
	u.JournalEntries = append(u.JournalEntries, JournalEntry{
		Kind:    journal.EntryBtreeRoot,
		BtreeID: u.BtreeID,
		Data:    rootEntry,
	})
	u.Mode = UpdatingRoot
	u.globals.MarkUnwritten(u)
}

// Reparent implements the {UPDATING_NODE|UPDATING_ROOT} -> UPDATING_AS
// transition from §4.3: the child is detached from its node, takes a
// reference on the pin at parentPin, and drops its own pin. WillFreeNode
// first moves the parent onto the child's pin when the child's is older,
// so after Reparent the parent holds the older of the two seqs.
func Reparent(child *Update, parentPin uint64, j *journal.Journal) {
	j.PinCopy(parentPin)
	j.PinDrop(child.JournalPin)
	child.JournalPin = parentPin
	child.B = nil
	child.Mode = UpdatingAS
}

// ID returns the update's process-wide id, used as a Node's UpdateID.
func (u *Update) ID() uint64 {
	return u.id
}
