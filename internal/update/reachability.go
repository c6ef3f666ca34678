package update

import (
	"context"

	"github.com/kode54/bcachefs-tools/internal/base"
	"github.com/kode54/bcachefs-tools/internal/journal"
)

// AddNewNode implements §4.4 step 1: mark n as pending reachability under
// u and bump the closure so u's finalizer can't run until n's write
// completes.
func (u *Update) AddNewNode(n *base.Node) {
	n.UpdateID = u.id
	n.SetFlag(base.FlagWillMakeReachable)
	u.Closure.Get()
	u.NewNodes = append(u.NewNodes, n)
	// §4.4 step 2: pin n's open buckets against reuse until u commits.
	u.OpenBuckets = append(u.OpenBuckets, n.OpenBuckets...)
}

// BtreeCompleteWrite implements §4.4 step 3: called when the last block of
// n's write completes. Clears will_make_reachable and drops the closure
// reference; when the count reaches zero, the caller's FinalizerQueue
// picks up u for finalization.
func (u *Update) BtreeCompleteWrite(n *base.Node) {
	n.ClearFlag(base.FlagWillMakeReachable)
	n.UpdateID = 0
	u.Closure.Put()
}

// WillFreeNode implements the free-before-reachable protocol: b is being
// freed while possibly still pending reachability. Its dependent updates
// (everything in b.write_blocked, per §3/§8) are reparented onto u, their
// journal pins transferred to u.JournalPin, and a pointer-delete for b's
// key is queued on u.OldKeys.
func WillFreeNode(u *Update, b *base.Node, g *Globals, j *journal.Journal) {
	b.SetFlag(base.FlagDying)

	for _, id := range b.DrainWriteBlocked() {
		if id == u.id {
			continue
		}
		if dep := g.Lookup(id); dep != nil {
			if dep.JournalPin < u.JournalPin {
				// Keep the older dependency pinned: u moves onto dep's seq.
				j.PinCopy(dep.JournalPin)
				j.PinDrop(u.JournalPin)
				u.JournalPin = dep.JournalPin
			}
			Reparent(dep, u.JournalPin, j)
		}
	}

	b.ClearFlag(base.FlagDirty)

	if owner := g.Lookup(b.UpdateID); owner != nil && b.HasFlag(base.FlagWillMakeReachable) {
		owner.removeNewNode(b)
		owner.Closure.Put()
	}
	b.ClearFlag(base.FlagWillMakeReachable)
	b.UpdateID = 0

	u.OldKeys = append(u.OldKeys, KeyDelta{Key: b.MinKey, Pointer: b.Pointer, Delete: true})
}

func (u *Update) removeNewNode(b *base.Node) {
	for i, n := range u.NewNodes {
		if n == b {
			u.NewNodes = append(u.NewNodes[:i], u.NewNodes[i+1:]...)
			return
		}
	}
}

// Finalizer runs the §4.4 step 4-6 sequence for one update once all its
// new nodes are durable: journal U.journal_entries, mark replica/extent
// triggers, unlink from the parent's write-blocked queue, advance the
// bset's journal seq, drop the journal pin, return the unused reserve
// (Update.Done), and forget u. The open buckets collected in
// u.OpenBuckets are not released by the finalizer.
type Finalizer struct {
	j *journal.Journal
	g *Globals
	// ApplyTriggers is invoked for each new/old pointer at finalize time,
	// implementing TRIGGER_INSERT/TRIGGER_OVERWRITE via the replica/extent
	// accounting layer; nil is a valid no-op for callers without one.
	ApplyTriggers func(u *Update)
}

func NewFinalizer(j *journal.Journal, g *Globals) *Finalizer {
	return &Finalizer{j: j, g: g}
}

// skipReclaimKey is the context key gating journal reclaim re-entrancy:
// the finalizer's inner transaction must never call into journal reclaim,
// since reclaim may itself be the caller that queued this finalizer. A
// context value rather than a package global, so only the goroutine
// actually running inside a finalizer is affected.
type skipReclaimKey struct{}

func withSkipReclaim(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipReclaimKey{}, true)
}

// SkipsReclaim reports whether ctx is running inside a finalizer's inner
// transaction and must not invoke journal reclaim.
func SkipsReclaim(ctx context.Context) bool {
	v, _ := ctx.Value(skipReclaimKey{}).(bool)
	return v
}

// Run executes the finalizer sequence for u. Callers invoke this from a
// bounded worker pool (see FinalizerQueue) once u.Closure.Done() fires.
func (f *Finalizer) Run(ctx context.Context, u *Update) error {
	ctx = withSkipReclaim(ctx)

	for _, entry := range u.JournalEntries {
		seq := f.j.NextSeq()
		if err := f.j.AppendEntry(entry.Kind, seq, entry.BtreeID, entry.Data); err != nil {
			return err
		}
	}

	if f.ApplyTriggers != nil {
		f.ApplyTriggers(u)
	}

	if u.B != nil {
		u.B.Lock.Lock(base.LockIntent)
		u.B.Lock.Lock(base.LockWrite)
		u.B.Seq = f.j.NextSeq()
		u.B.SetFlag(base.FlagNeedsWrite)
		u.B.Lock.Unlock(base.LockWrite)
		u.B.Lock.Unlock(base.LockIntent)
		u.B.RemoveWriteBlocked(u.id)
	}

	f.j.PinDrop(u.JournalPin)
	u.Done()
	u.NodesWritten = true
	f.g.MarkWritten(u)
	f.g.Forget(u)
	return nil
}

// FinalizerQueue is the bounded worker pool draining completed updates,
// grounded on internal/pager/pager.go's Commit use of a sync.WaitGroup-
// gated goroutine-per-contiguous-run fan-out — generalized here to a
// persistent pool since the finalizer is long-lived, not one-shot.
type FinalizerQueue struct {
	f     *Finalizer
	queue chan *Update
	done  chan struct{}
}

func NewFinalizerQueue(f *Finalizer, workers int) *FinalizerQueue {
	fq := &FinalizerQueue{
		f:     f,
		queue: make(chan *Update, 256),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go fq.worker()
	}
	return fq
}

func (fq *FinalizerQueue) worker() {
	for u := range fq.queue {
		_ = fq.f.Run(context.Background(), u)
	}
}

// Enqueue schedules u for finalization once its closure fires, per §4.4
// step 3's "closure count drops to zero ... finalizer is queued".
func (fq *FinalizerQueue) Enqueue(u *Update) {
	go func() {
		<-u.Closure.Done()
		fq.queue <- u
	}()
}

func (fq *FinalizerQueue) Close() {
	close(fq.queue)
}
