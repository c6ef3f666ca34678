package bcachefs

import (
	"context"
	"fmt"

	"github.com/kode54/bcachefs-tools/internal/alloc"
	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/btreeops"
	"github.com/kode54/bcachefs-tools/internal/cache"
	"github.com/kode54/bcachefs-tools/internal/journal"
	"github.com/kode54/bcachefs-tools/internal/storage"
	"github.com/kode54/bcachefs-tools/internal/update"
)

// DeviceSpec describes one member device to open at mount time: its path
// on the host filesystem and how many allocator buckets it provides.
type DeviceSpec struct {
	Path          string
	Buckets       uint64
	BucketSectors uint64
}

// Filesystem is the mount-lifetime handle threading the reserve cache, the
// update list, the root registry, and the unwritten list through every
// entry point, per §9's "Global mutable state" design note: these are
// process-wide singletons at the C layer, modeled here as fields on one
// value rather than package-level state. Grounded on the teacher's DB
// struct (owns pager/cache/options, Open/Close lifecycle).
type Filesystem struct {
	opts FilesystemOptions

	store     *storage.Store
	nodeCache *cache.NodeCache
	allocator *alloc.Allocator
	journal   *journal.Journal

	globals *update.Globals
	roots   *btreeops.Roots

	finalizer      *update.Finalizer
	finalizerQueue *update.FinalizerQueue

	v2Pointers bool
}

// Mount opens every device, the journal, and the node cache, and wires
// the allocator and update-engine globals on top of them — the mount half
// of §9's mount -> init_interior_update -> ... -> exit_interior_update ->
// unmount lifecycle.
func Mount(journalPath string, devices []DeviceSpec, options ...FilesystemOption) (*Filesystem, error) {
	opts := DefaultFilesystemOptions()
	for _, opt := range options {
		opt(&opts)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("bcachefs: mount requires at least one device")
	}
	if opts.replicas > len(devices) {
		return nil, fmt.Errorf("bcachefs: replica count %d exceeds device count %d", opts.replicas, len(devices))
	}

	devs := make([]*storage.Device, 0, len(devices))
	writePoints := make([]*alloc.WritePoint, 0, len(devices))
	for i, spec := range devices {
		d, err := storage.Open(uint8(i), spec.Path, spec.Buckets, spec.BucketSectors)
		if err != nil {
			closeDevices(devs)
			return nil, fmt.Errorf("bcachefs: opening device %d (%s): %w", i, spec.Path, err)
		}
		devs = append(devs, d)
		writePoints = append(writePoints, alloc.NewWritePoint(d))
	}
	store := storage.NewStore(devs)

	nc, err := cache.NewNodeCache(opts.maxCacheSize)
	if err != nil {
		closeDevices(devs)
		return nil, err
	}

	jrnl, err := journal.New(journalPath, opts.syncMode.toJournal(), int(opts.syncBytes), opts.journalPreresCap)
	if err != nil {
		closeDevices(devs)
		return nil, err
	}

	allocator := alloc.NewAllocator(store, nc, writePoints, opts.btreeNodeSectors, opts.replicas)
	globals := update.NewGlobals()
	roots := btreeops.NewRoots(nc)
	finalizer := update.NewFinalizer(jrnl, globals)
	fq := update.NewFinalizerQueue(finalizer, opts.maxConcurrentFinalizers)

	fs := &Filesystem{
		opts:           opts,
		store:          store,
		nodeCache:      nc,
		allocator:      allocator,
		journal:        jrnl,
		globals:        globals,
		roots:          roots,
		finalizer:      finalizer,
		finalizerQueue: fq,
		v2Pointers:     opts.v2Pointers,
	}

	if err := fs.recover(); err != nil {
		fs.Unmount()
		return nil, err
	}

	return fs, nil
}

// recover replays the journal from seq 0 and checks that every entry can
// be read. It does not rebuild the root registry: btree_root entries are
// skipped along with every other kind.
func (fs *Filesystem) recover() error {
	return fs.journal.Replay(0, func(e journal.Entry) error {
		if e.Kind != journal.EntryBtreeRoot {
			return nil
		}
		// Decoding the pointer payload back into a live Node is the on-disk
		// key codec's job (out of scope, §1); recovery here only needs to
		// confirm the journal stream is well-formed until a codec is wired
		// in by the caller's btree layer.
		return nil
	})
}

func closeDevices(devs []*storage.Device) {
	for _, d := range devs {
		_ = d.Close()
	}
}

// Unmount drains the finalizer queue, fsyncs the journal, and closes every
// device, the exit_interior_update -> unmount half of the lifecycle.
func (fs *Filesystem) Unmount() error {
	if fs.finalizerQueue != nil {
		fs.finalizerQueue.Close()
	}
	var first error
	if fs.journal != nil {
		if err := fs.journal.ForceSync(); err != nil && first == nil {
			first = err
		}
		if err := fs.journal.Close(); err != nil && first == nil {
			first = err
		}
	}
	if fs.store != nil {
		if err := fs.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StartUpdate begins a new interior-node update transaction per §4.3,
// reserving nrNodes pre-allocated nodes against this filesystem's
// allocator, journal, and globals.
func (fs *Filesystem) StartUpdate(ctx context.Context, btreeID base.BtreeID, nrNodes int, flags alloc.Flags) (*update.Update, error) {
	return update.Start(ctx, fs.globals, fs.allocator, fs.journal, btreeID, nrNodes, flags, int(fs.opts.btreeNodeSectors))
}

// Roots exposes the root registry for callers building an Iterator on top
// of this filesystem (outside this engine's scope per §6).
func (fs *Filesystem) Roots() *btreeops.Roots { return fs.roots }

// NodeCache exposes the node cache collaborator.
func (fs *Filesystem) NodeCache() *cache.NodeCache { return fs.nodeCache }

// Allocator exposes the node allocator collaborator.
func (fs *Filesystem) Allocator() *alloc.Allocator { return fs.allocator }

// Journal exposes the journal collaborator.
func (fs *Filesystem) Journal() *journal.Journal { return fs.journal }

// EnqueueFinalize schedules u for finalization once every new node it
// owns has been durably written, per §4.4 step 3.
func (fs *Filesystem) EnqueueFinalize(u *update.Update) {
	fs.globals.MarkUnwritten(u)
	fs.finalizerQueue.Enqueue(u)
}

// btreeWriter adapts this filesystem's sector store and node cache into
// the btreeops.Writer contract: issue a node's disk write, publish it
// into the cache under its pointer hash, and report completion back to
// the owning update so AddNewNode's closure can drop.
type btreeWriter struct {
	fs *Filesystem
}

// IssueWrite implements btreeops.Writer. The on-disk key codec (packing
// n.Keys into bytes) is out of this engine's scope (§1); callers that need
// real bytes on disk supply their own Writer wrapping this one. This
// default writes the node's pointer's replica set with an empty body so
// the reservation, cache-publish, and reachability bookkeeping this
// engine owns are still exercised end-to-end.
func (w *btreeWriter) IssueWrite(ctx context.Context, u *update.Update, n *base.Node) error {
	if err := w.fs.store.WriteReplicas(ctx, n.Pointer.Ptrs, nil, nil); err != nil {
		return err
	}
	w.fs.nodeCache.HashInsert(n)
	u.BtreeCompleteWrite(n)
	return nil
}

// Writer returns the default btreeops.Writer bound to this filesystem.
func (fs *Filesystem) Writer() btreeops.Writer {
	return &btreeWriter{fs: fs}
}
