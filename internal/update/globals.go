package update

import "sync"

// Mode is the Update Transaction's state, per §3/§4.3.
type Mode int

const (
	NoUpdate Mode = iota
	UpdatingNode
	UpdatingRoot
	UpdatingAS
)

// Globals holds the mutex-guarded global lists and the update-id lookup
// table from §5: "Global lists ... are each protected by a single
// mutex." Grounded on internal/coordinator/coordinator.go's single-
// mutex-per-shared-resource style (c.mu guarding freedPages/pendingPages).
// Threaded through every entry point as a field on the Filesystem handle
// rather than a package-level singleton, per the §9 design note on global
// mutable state.
type Globals struct {
	mu sync.Mutex

	// unwritten is every Update whose nodes haven't all been confirmed
	// durable yet.
	unwritten map[uint64]*Update
	// list is every Update that exists at all, written or not, used for
	// debugging/introspection (btree_interior_update_list).
	list map[uint64]*Update

	nextID uint64
	// byID breaks the Node<->Update reference cycle: a Node stores an
	// UpdateID rather than a pointer, looking the Update up here when it
	// needs to signal completion (§9's "Cyclic references" note).
	byID map[uint64]*Update
}

func NewGlobals() *Globals {
	return &Globals{
		unwritten: make(map[uint64]*Update),
		list:      make(map[uint64]*Update),
		byID:      make(map[uint64]*Update),
	}
}

// Register assigns a fresh id to u and adds it to the tracking lists.
func (g *Globals) Register(u *Update) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	u.id = id
	g.list[id] = u
	g.byID[id] = u
	return id
}

func (g *Globals) MarkUnwritten(u *Update) {
	g.mu.Lock()
	g.unwritten[u.id] = u
	g.mu.Unlock()
}

func (g *Globals) MarkWritten(u *Update) {
	g.mu.Lock()
	delete(g.unwritten, u.id)
	g.mu.Unlock()
}

// Forget removes a completed, freed update from every list.
func (g *Globals) Forget(u *Update) {
	g.mu.Lock()
	delete(g.list, u.id)
	delete(g.byID, u.id)
	delete(g.unwritten, u.id)
	g.mu.Unlock()
}

// Lookup resolves an UpdateID back to its *Update, or nil if it has
// already completed and been forgotten.
func (g *Globals) Lookup(id uint64) *Update {
	if id == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byID[id]
}

// UnwrittenCount reports how many updates are still waiting on node
// writes, used by tests and introspection.
func (g *Globals) UnwrittenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.unwritten)
}
