// Package txn implements the single process-wide transaction coordinator
// spec §4.E describes: the only component that opens journal handles,
// brokering unified transactions that may touch inode records, directory
// entries, allocation bitmap bits, vector payload extents, and HNSW graph
// nodes in one atomic unit. It is a thin layer over pkg/journal — begin
// opens a journal handle with a lifetime deadline, commit delegates to
// journal commit and then runs post-commit notification hooks, abort
// discards the handle — grounded on the teacher's own preference for small
// coordinating types that wrap a lower-level primitive rather than
// reimplement it (pkg/vconvert's fileGenerator wraps its image builder the
// same way).
package txn

import (
	"sync"
	"time"

	"github.com/lspecian/vexfs-sub002/pkg/journal"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Isolation is one of the levels spec §4.E names. Only ReadCommitted's
// guarantee is actually enforced today: the journal's per-block shadow
// locking gives every transaction repeatable reads of blocks it has itself
// written, and nothing else reads a transaction's uncommitted writes.
// RepeatableRead and Serializable are accepted and recorded as the journal
// transaction's tag (tag() below) but Begin/Commit take no additional locks
// for them, so a transaction at either level can still see a block it only
// read change underneath it once a concurrent writer commits.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

// Txn is a live transaction handed to callers by Coordinator.Begin.
type Txn struct {
	handle    *journal.Handle
	isolation Isolation
	deadline  time.Time
}

// Handle returns the underlying journal handle, for pkg/inode, pkg/vector,
// and pkg/hnsw calls that need GetWriteAccess/Dirty.
func (t *Txn) Handle() *journal.Handle { return t.handle }

func (t *Txn) Isolation() Isolation { return t.isolation }

func (t *Txn) expired() bool { return time.Now().After(t.deadline) }

// Coordinator brokers begin/commit/abort over a single journal, enforcing
// the configured max transaction lifetime and running post-commit
// notification hooks (spec §4.E: "on success emits post-commit
// notifications to caches/indexes").
type Coordinator struct {
	jrn         *journal.Journal
	maxLifetime time.Duration

	mu    sync.Mutex
	hooks []func([]int64)
}

// New builds a coordinator over jrn with the given default transaction
// lifetime (spec §6.3 txn_max_lifetime_ms, default 30s).
func New(jrn *journal.Journal, maxLifetime time.Duration) *Coordinator {
	if maxLifetime <= 0 {
		maxLifetime = 30 * time.Second
	}
	return &Coordinator{jrn: jrn, maxLifetime: maxLifetime}
}

// OnCommit registers a hook invoked with the set of block numbers a
// transaction wrote, once after every successful commit. Used to wire
// pkg/cache invalidation and any in-memory index refresh without the
// coordinator needing to know their shapes.
func (c *Coordinator) OnCommit(fn func(dirtyBlocks []int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Begin opens a new transaction. estimatedBlocks sizes the journal
// handle's reservation; isolation selects the level described above.
func (c *Coordinator) Begin(isolation Isolation, estimatedBlocks int64) (*Txn, error) {
	h, err := c.jrn.Begin(estimatedBlocks, isolation.tag())
	if err != nil {
		return nil, err
	}
	return &Txn{handle: h, isolation: isolation, deadline: time.Now().Add(c.maxLifetime)}, nil
}

func (i Isolation) tag() string {
	switch i {
	case RepeatableRead:
		return "repeatable-read"
	case Serializable:
		return "serializable"
	default:
		return "read-committed"
	}
}

// Commit delegates to the journal and, on success, invokes every
// registered post-commit hook with the blocks the transaction wrote.
func (c *Coordinator) Commit(t *Txn) error {
	if t.expired() {
		c.jrn.Abort(t.handle)
		return vexfserr.Wrap(vexfserr.Timeout, "txn.Commit", "transaction %d exceeded its lifetime", t.handle.ID())
	}
	dirty := t.handle.DirtyBlocks()
	if err := c.jrn.Commit(t.handle); err != nil {
		return err
	}
	c.mu.Lock()
	hooks := append([]func([]int64){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(dirty)
	}
	return nil
}

// Abort discards t's shadowed writes; none become visible.
func (c *Coordinator) Abort(t *Txn) {
	c.jrn.Abort(t.handle)
}
