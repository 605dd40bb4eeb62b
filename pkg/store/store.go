// Package store ties every lower layer together into the top-level API
// spec §6.2 names: Store.open/Store.format, Store.begin/Transaction.commit,
// Transaction.create_inode/write, Store.read, Transaction.store_vector,
// Store.load_vector, and Store.search. Grounded on the teacher's own
// top-level compiler type (pkg/vconvert's Converter, which wires a parsed
// config, a disk-image builder, and a logger into one entry point) — Store
// plays the same role here, wiring pkg/block, pkg/superblock, pkg/alloc,
// pkg/journal, pkg/inode, pkg/vector, pkg/hnsw, pkg/cache, pkg/txn, and
// pkg/recovery into one mountable container.
package store

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/lspecian/vexfs-sub002/pkg/alloc"
	"github.com/lspecian/vexfs-sub002/pkg/block"
	"github.com/lspecian/vexfs-sub002/pkg/cache"
	"github.com/lspecian/vexfs-sub002/pkg/config"
	"github.com/lspecian/vexfs-sub002/pkg/distance"
	"github.com/lspecian/vexfs-sub002/pkg/elog"
	"github.com/lspecian/vexfs-sub002/pkg/hnsw"
	"github.com/lspecian/vexfs-sub002/pkg/inode"
	"github.com/lspecian/vexfs-sub002/pkg/journal"
	"github.com/lspecian/vexfs-sub002/pkg/recovery"
	"github.com/lspecian/vexfs-sub002/pkg/superblock"
	"github.com/lspecian/vexfs-sub002/pkg/txn"
	"github.com/lspecian/vexfs-sub002/pkg/vector"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// bitmapBytesPerBlock is how many bitmap bytes one block carries once its
// trailing CRC32 is reserved (spec §4.A: every block is checksummed).
const bitmapBytesPerBlock = block.ChecksumOffset

// defaultEstimatedBlocks sizes a transaction's journal reservation when the
// caller doesn't know its write set size up front.
const defaultEstimatedBlocks = 64

// FormatParams is Store.format's params argument (spec §6.2): the
// container's fixed geometry plus the tunable options spec §6.3 names.
type FormatParams struct {
	TotalBlocks int64
	TotalInodes int64
	Options     config.Options
	View        elog.View // nil means elog.Discard
}

// Store is a mounted container: every subsystem handle a request might
// touch, plus the transaction coordinator that serializes access to them.
type Store struct {
	mu     sync.RWMutex
	closed bool

	dev   *block.Device
	sb    *superblock.Superblock
	al    *alloc.Allocator
	jrn   *journal.Journal
	coord *txn.Coordinator

	table  *inode.Table
	mapper *inode.BlockMapper
	dirs   *inode.Store

	vectors *vector.Store
	graph   *hnsw.Store
	caches  *cache.Pair

	opts     config.Options
	recovery *recovery.Report
	view     elog.View
}

type layout struct {
	bitmapStart       int64
	blockBitmapBlocks int64
	inodeBitmapBlocks int64
	inodeTableStart   int64
	inodeTableBlocks  int64
	journalStart      int64
	journalBlocks     int64
	dataPoolStart     int64
}

func bitmapBlocksNeeded(nBits int64) int64 {
	bytesNeeded := (nBits + 7) / 8
	return (bytesNeeded + bitmapBytesPerBlock - 1) / bitmapBytesPerBlock
}

// planLayout lays out the container the way the teacher's image compiler
// lays out ext4 regions (pkg/ext4/compiler.go's fixed-order planner),
// generalized to this store's superblock/bitmap/inode-table/journal/data
// sequence (spec §3.1, §6.1). The vector area and HNSW area are not fixed
// contiguous regions: both live in the shared general data pool, addressed
// through their own reserved inodes (pkg/inode's VectorAreaInode etc.), so
// VectorAreaStart and HNSWAreaStart both just record dataPoolStart.
func planLayout(totalBlocks, totalInodes, journalBlocks int64) layout {
	const bitmapStart = int64(2) // block 0/1 hold the primary/backup superblock
	blockBitmapBlocks := bitmapBlocksNeeded(totalBlocks)
	inodeBitmapBlocks := bitmapBlocksNeeded(totalInodes)
	inodeTableStart := bitmapStart + blockBitmapBlocks + inodeBitmapBlocks
	inodeTableBlocks := (totalInodes*int64(inode.Size) + block.Size - 1) / block.Size
	journalStart := inodeTableStart + inodeTableBlocks
	dataPoolStart := journalStart + journalBlocks
	return layout{
		bitmapStart:       bitmapStart,
		blockBitmapBlocks: blockBitmapBlocks,
		inodeBitmapBlocks: inodeBitmapBlocks,
		inodeTableStart:   inodeTableStart,
		inodeTableBlocks:  inodeTableBlocks,
		journalStart:      journalStart,
		journalBlocks:     journalBlocks,
		dataPoolStart:     dataPoolStart,
	}
}

func writeBitmapRegion(dev *block.Device, startBlock int64, raw []byte) error {
	nBlocks := (int64(len(raw)) + bitmapBytesPerBlock - 1) / bitmapBytesPerBlock
	for i := int64(0); i < nBlocks; i++ {
		buf := block.NewZeroBlock()
		lo := i * bitmapBytesPerBlock
		hi := lo + bitmapBytesPerBlock
		if hi > int64(len(raw)) {
			hi = int64(len(raw))
		}
		copy(buf, raw[lo:hi])
		block.StampChecksum(buf)
		if err := dev.WriteBlock(startBlock+i, buf); err != nil {
			return err
		}
	}
	return nil
}

func readBitmapRegion(dev *block.Device, startBlock, nBlocks, nBits int64) (*alloc.Bitmap, error) {
	raw := make([]byte, 0, nBlocks*bitmapBytesPerBlock)
	for i := int64(0); i < nBlocks; i++ {
		buf, err := dev.ReadChecked(startBlock + i)
		if err != nil {
			return nil, err
		}
		raw = append(raw, buf[:bitmapBytesPerBlock]...)
	}
	return alloc.LoadBitmap(raw, nBits), nil
}

// Format lays out a fresh container at containerPath, writes its superblock,
// and bootstraps the reserved inodes (spec §6.2 Store.format).
func Format(containerPath string, params FormatParams) (*Store, error) {
	view := params.View
	if view == nil {
		view = elog.Discard
	}
	opts := params.Options
	if err := config.Validate(opts); err != nil {
		return nil, err
	}
	view.Infof("formatting %s: %d blocks, %d inodes", containerPath, params.TotalBlocks, params.TotalInodes)
	if params.TotalBlocks <= 0 {
		return nil, vexfserr.Wrap(vexfserr.InvalidArgument, "store.Format", "total_blocks must be positive")
	}
	if params.TotalInodes <= 0 {
		return nil, vexfserr.Wrap(vexfserr.InvalidArgument, "store.Format", "total_inodes must be positive")
	}

	dev, err := block.Create(containerPath, params.TotalBlocks)
	if err != nil {
		return nil, err
	}

	lay := planLayout(params.TotalBlocks, params.TotalInodes, int64(opts.JournalSizeBlocks))
	if lay.dataPoolStart >= params.TotalBlocks {
		dev.Close()
		return nil, vexfserr.Wrap(vexfserr.NoSpace, "store.Format", "total_blocks %d too small for bitmap+inode-table+journal layout (needs at least %d)", params.TotalBlocks, lay.dataPoolStart)
	}

	// every inode-table block must carry a valid checksum before a Read
	// through pkg/inode's Table ever touches it, even for slots nothing has
	// allocated yet.
	zeroInode := block.NewZeroBlock()
	block.StampChecksum(zeroInode)
	for b := lay.inodeTableStart; b < lay.inodeTableStart+lay.inodeTableBlocks; b++ {
		if err := dev.WriteBlock(b, zeroInode); err != nil {
			dev.Close()
			return nil, err
		}
	}

	blockBM := alloc.NewBitmap(params.TotalBlocks)
	inodeBM := alloc.NewBitmap(params.TotalInodes)
	al := alloc.New(blockBM, inodeBM)

	// reserve blocks [0, dataPoolStart) for superblock/bitmap/inode-table/
	// journal in one shot: FirstFit on an all-free bitmap starting at cursor
	// 0 picks exactly the lowest dataPoolStart bits, in order.
	if _, err := al.AllocBlocks(lay.dataPoolStart, 0, alloc.FirstFit); err != nil {
		dev.Close()
		return nil, err
	}

	// reserve inode 0 as a permanent null sentinel (CreateInode treats
	// parent==0 as "no parent", so inode number 0 itself must never be
	// handed out to a real file), then the five reserved inodes in the
	// fixed order pkg/inode's constants name.
	reserved := []int64{0, inode.RootInode, inode.VectorAreaInode, inode.VectorIndexInode, inode.HNSWAreaInode, inode.HNSWIndexInode}
	for _, want := range reserved {
		got, err := al.AllocInode()
		if err != nil {
			dev.Close()
			return nil, err
		}
		if got != want {
			dev.Close()
			return nil, vexfserr.Wrap(vexfserr.FSCorruption, "store.Format", "reserved inode allocation out of order: wanted %d, got %d", want, got)
		}
	}

	groupWindow := time.Duration(opts.GroupCommitWindowUS) * time.Microsecond
	jrn := journal.Open(dev, lay.journalStart, int64(opts.JournalSizeBlocks), groupWindow)

	table := inode.NewTable(dev, jrn, lay.inodeTableStart)
	mapper := inode.NewBlockMapper(dev, jrn, al)
	dirs := inode.NewStore(table, mapper, dev, jrn, al)

	h, err := jrn.Begin(defaultEstimatedBlocks, "format")
	if err != nil {
		dev.Close()
		return nil, err
	}
	now := inode.Now()
	root := &inode.Inode{Mode: inode.ModeDir, Links: 2, Atime: now, Ctime: now, Mtime: now}
	if err := table.Write(h, inode.RootInode, root); err != nil {
		jrn.Abort(h)
		dev.Close()
		return nil, err
	}
	for _, ino := range []int64{inode.VectorAreaInode, inode.VectorIndexInode, inode.HNSWAreaInode, inode.HNSWIndexInode} {
		rec := &inode.Inode{Mode: inode.ModeRegular, Links: 1, Flags: inode.FlagImmutable, Atime: now, Ctime: now, Mtime: now}
		if err := table.Write(h, ino, rec); err != nil {
			jrn.Abort(h)
			dev.Close()
			return nil, err
		}
	}
	if err := dirs.InitRoot(h, inode.RootInode); err != nil {
		jrn.Abort(h)
		dev.Close()
		return nil, err
	}
	if err := jrn.Commit(h); err != nil {
		dev.Close()
		return nil, err
	}

	if err := writeBitmapRegion(dev, lay.bitmapStart, blockBM.Bytes()); err != nil {
		dev.Close()
		return nil, err
	}
	if err := writeBitmapRegion(dev, lay.bitmapStart+lay.blockBitmapBlocks, inodeBM.Bytes()); err != nil {
		dev.Close()
		return nil, err
	}

	tail, head, err := jrn.Checkpoint()
	if err != nil {
		dev.Close()
		return nil, err
	}

	sb := superblock.New(
		uint64(params.TotalBlocks), uint64(params.TotalInodes),
		uint64(lay.bitmapStart), uint64(lay.inodeTableStart), uint64(lay.journalStart), uint64(opts.JournalSizeBlocks),
		uint64(lay.dataPoolStart), uint64(lay.dataPoolStart),
	)
	sb.FreeBlocks = uint64(al.FreeBlockCount())
	sb.FreeInodes = uint64(al.FreeInodeCount())
	sb.JournalTail = uint64(tail)
	sb.JournalHead = uint64(head)
	if err := superblock.WriteBoth(dev, sb); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.Sync(); err != nil {
		dev.Close()
		return nil, err
	}
	view.Infof("format complete: %s", containerPath)

	return openSubsystems(dev, sb, al, jrn, table, mapper, dirs, opts, nil, view)
}

// Open mounts an existing container (spec §6.2 Store.open), replaying the
// journal and reconciling the allocator before serving any request. view
// receives mount-time progress (replay, HNSW validate); pass nil for
// elog.Discard.
func Open(containerPath string, opts config.Options, view elog.View) (*Store, error) {
	if view == nil {
		view = elog.Discard
	}
	if err := config.Validate(opts); err != nil {
		return nil, err
	}
	dev, err := block.Open(containerPath)
	if err != nil {
		return nil, err
	}
	view.Infof("mounting %s", containerPath)

	sb, repaired, err := superblock.Read(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if repaired {
		_ = superblock.RepairPrimary(dev, sb)
	}

	lay := planLayout(int64(sb.TotalBlocks), int64(sb.TotalInodes), int64(sb.JournalBlocks))
	blockBM, err := readBitmapRegion(dev, lay.bitmapStart, lay.blockBitmapBlocks, int64(sb.TotalBlocks))
	if err != nil {
		dev.Close()
		return nil, err
	}
	inodeBM, err := readBitmapRegion(dev, lay.bitmapStart+lay.blockBitmapBlocks, lay.inodeBitmapBlocks, int64(sb.TotalInodes))
	if err != nil {
		dev.Close()
		return nil, err
	}
	al := alloc.New(blockBM, inodeBM)

	groupWindow := time.Duration(opts.GroupCommitWindowUS) * time.Microsecond
	jrn := journal.Open(dev, int64(sb.JournalStart), int64(sb.JournalBlocks), groupWindow)
	jrn.SetTail(int64(sb.JournalTail))
	jrn.SetHead(int64(sb.JournalHead))

	table := inode.NewTable(dev, jrn, int64(sb.InodeTableStart))
	mapper := inode.NewBlockMapper(dev, jrn, al)
	dirs := inode.NewStore(table, mapper, dev, jrn, al)

	vectors, graph, caches, err := openIndexes(table, mapper, al, dev, jrn, opts)
	if err != nil {
		dev.Close()
		return nil, err
	}

	report, err := recovery.Run(dev, jrn, al, int64(sb.JournalTail), graph, caches, view)
	if err != nil {
		dev.Close()
		return nil, err
	}
	view.Infof("recovery: %d applied, %d discarded, needs_rebuild=%v", report.TransactionsApplied, report.TransactionsDiscarded, report.NeedsRebuild)

	tail, head, err := jrn.Checkpoint()
	if err != nil {
		dev.Close()
		return nil, err
	}
	sb.JournalTail = uint64(tail)
	sb.JournalHead = uint64(head)
	sb.FreeBlocks = uint64(al.FreeBlockCount())
	sb.FreeInodes = uint64(al.FreeInodeCount())
	sb.MountGeneration++
	sb.LastMountTime = time.Now().Unix()
	sb.ErrorState = superblock.ErrorStateDirty
	if err := superblock.WriteBoth(dev, sb); err != nil {
		dev.Close()
		return nil, err
	}

	s := &Store{
		dev: dev, sb: sb, al: al, jrn: jrn,
		table: table, mapper: mapper, dirs: dirs,
		vectors: vectors, graph: graph, caches: caches,
		opts: opts, recovery: report, view: view,
	}
	s.coord = txn.New(jrn, time.Duration(opts.TxnMaxLifetimeMS)*time.Millisecond)
	s.coord.OnCommit(s.invalidateCaches)
	return s, nil
}

// openSubsystems finishes Format's bootstrap by constructing the same
// vector/HNSW/cache/coordinator stack Open builds, against the freshly
// empty reserved-inode streams.
func openSubsystems(dev *block.Device, sb *superblock.Superblock, al *alloc.Allocator, jrn *journal.Journal, table *inode.Table, mapper *inode.BlockMapper, dirs *inode.Store, opts config.Options, report *recovery.Report, view elog.View) (*Store, error) {
	vectors, graph, caches, err := openIndexes(table, mapper, al, dev, jrn, opts)
	if err != nil {
		dev.Close()
		return nil, err
	}
	s := &Store{
		dev: dev, sb: sb, al: al, jrn: jrn,
		table: table, mapper: mapper, dirs: dirs,
		vectors: vectors, graph: graph, caches: caches,
		opts: opts, recovery: report, view: view,
	}
	s.coord = txn.New(jrn, time.Duration(opts.TxnMaxLifetimeMS)*time.Millisecond)
	s.coord.OnCommit(s.invalidateCaches)
	return s, nil
}

func openIndexes(table *inode.Table, mapper *inode.BlockMapper, al *alloc.Allocator, dev *block.Device, jrn *journal.Journal, opts config.Options) (*vector.Store, *hnsw.Store, *cache.Pair, error) {
	vecPayload := inode.NewStream(inode.VectorAreaInode, table, mapper, al)
	vecIndex := inode.NewStream(inode.VectorIndexInode, table, mapper, al)
	vectors, err := vector.Open(vecPayload, vecIndex)
	if err != nil {
		return nil, nil, nil, err
	}

	metric, err := distance.ParseMetric(opts.DistanceMetricDefault)
	if err != nil {
		return nil, nil, nil, err
	}
	distFn, err := distance.Get(metric)
	if err != nil {
		return nil, nil, nil, err
	}

	hnode := inode.NewStream(inode.HNSWAreaInode, table, mapper, al)
	hindex := inode.NewStream(inode.HNSWIndexInode, table, mapper, al)
	hcfg := hnsw.Config{
		M:               opts.HNSWM,
		EfConstruction:  opts.HNSWEfConstruction,
		DefaultEfSearch: opts.DefaultEfSearch,
		MaxLevel:        opts.HNSWMaxLevel,
		Seed:            time.Now().UnixNano(),
	}
	graph, err := hnsw.Open(hcfg, distFn, hnode, hindex, vectors)
	if err != nil {
		return nil, nil, nil, err
	}

	caches, err := cache.New(opts.CacheBlockMiB, opts.CacheMetadataMiB)
	if err != nil {
		return nil, nil, nil, err
	}
	table.SetMetadataCache(caches.Metadata)
	mapper.SetBlockCache(caches.Blocks)
	return vectors, graph, caches, nil
}

func (s *Store) invalidateCaches(dirtyBlocks []int64) {
	for _, b := range dirtyBlocks {
		s.caches.Blocks.Invalidate(b)
	}
	s.caches.Metadata.Bump()
}

// Close checkpoints the journal, marks the superblock clean, and releases
// the underlying container file (spec §6.2's format/open pairing implies a
// matching clean-shutdown path; supplemented beyond the distilled spec, see
// SPEC_FULL.md supplement 2a).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	tail, head, err := s.jrn.Checkpoint()
	if err != nil {
		return err
	}
	s.sb.JournalTail = uint64(tail)
	s.sb.JournalHead = uint64(head)
	s.sb.FreeBlocks = uint64(s.al.FreeBlockCount())
	s.sb.FreeInodes = uint64(s.al.FreeInodeCount())
	s.sb.ErrorState = superblock.ErrorStateClean
	if err := superblock.WriteBoth(s.dev, s.sb); err != nil {
		return err
	}
	if err := writeBitmapRegion(s.dev, int64(s.sb.BitmapStart), s.al.BlockBitmapBytes()); err != nil {
		return err
	}
	if err := writeBitmapRegion(s.dev, int64(s.sb.BitmapStart)+bitmapBlocksNeeded(int64(s.sb.TotalBlocks)), s.al.InodeBitmapBytes()); err != nil {
		return err
	}
	s.closed = true
	if s.view != nil {
		s.view.Infof("unmounted cleanly")
	}
	return s.dev.Close()
}

// Stat is the supplemented introspection surface (spec §6.2 leaves
// Store.stat undescribed but names it implicitly through the superblock's
// own fields); it surfaces enough for an operator CLI's status command.
type Stat struct {
	TotalBlocks, FreeBlocks int64
	TotalInodes, FreeInodes int64
	JournalOccupancy        float64
	VectorCount             int
	HNSWNodeCount           int
	HNSWNeedsRebuild        bool
	HNSWStats               hnsw.Stats
	CacheStats              cache.Stats
	Recovery                *recovery.Report
	ErrorState              uint32
}

func (s *Store) Stat() Stat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stat{
		TotalBlocks:      int64(s.sb.TotalBlocks),
		FreeBlocks:       s.al.FreeBlockCount(),
		TotalInodes:      int64(s.sb.TotalInodes),
		FreeInodes:       s.al.FreeInodeCount(),
		JournalOccupancy: s.jrn.Occupancy(),
		VectorCount:      s.vectors.Count(),
		HNSWNodeCount:    s.graph.NodeCount(),
		HNSWNeedsRebuild: s.graph.NeedsRebuild(),
		HNSWStats:        s.graph.Stats(),
		CacheStats:       s.caches.Stats(),
		Recovery:         s.recovery,
		ErrorState:       s.sb.ErrorState,
	}
}

// Read serves spec §6.2's Store.read outside any transaction: it observes
// only already-committed home-block contents (read-committed by
// construction, since only a commit's write-back ever changes them).
func (s *Store) Read(inodeID int64, offset uint64, length int) ([]byte, error) {
	st := inode.NewStream(inodeID, s.table, s.mapper, s.al)
	buf := make([]byte, length)
	if err := st.ReadAt(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// LoadVector is spec §6.2's Store.load_vector.
func (s *Store) LoadVector(vectorID uint64) (vector.Descriptor, []float32, error) {
	d, raw, _, err := s.vectors.LoadVector(vectorID)
	if err != nil {
		return vector.Descriptor{}, nil, err
	}
	return d, bytesToFloats(raw), nil
}

// searchOversampleFactor is how much larger a candidate pool Search requests from
// the HNSW graph when a caller filters by owner_inode, since the graph
// itself has no notion of inode ownership (spec §4.H's candidate list is
// pure vector-space; filtering by owner is a post-pass here).
const searchOversampleFactor = 8

// Search is spec §6.2's Store.search. ownerInode, when non-nil, restricts
// results to vectors whose descriptor names that owning inode; nil means
// "any" (spec: "owner_inode_filter_or_any").
func (s *Store) Search(ownerInode *int64, query []float32, k, efSearch int) ([]hnsw.Result, error) {
	pool := efSearch
	if ownerInode != nil {
		pool = efSearch * searchOversampleFactor
		if pool < k*searchOversampleFactor {
			pool = k * searchOversampleFactor
		}
	}
	want := k
	if ownerInode != nil {
		want = pool
	}
	results, err := s.graph.Search(query, want, pool)
	if err != nil {
		return nil, err
	}
	if ownerInode == nil {
		return results, nil
	}
	out := make([]hnsw.Result, 0, k)
	for _, r := range results {
		d, _, _, err := s.vectors.LoadVector(r.VectorID)
		if err != nil {
			continue
		}
		if d.OwnerInode == *ownerInode {
			out = append(out, r)
			if len(out) == k {
				break
			}
		}
	}
	return out, nil
}

// Transaction wraps a single coordinated unit of work (spec §6.2
// Store.begin/Transaction.commit/abort), exposing the write-side operations
// that must be staged through the journal.
type Transaction struct {
	t *txn.Txn
	s *Store
}

// Begin opens a new transaction at the given isolation level.
func (s *Store) Begin(isolation txn.Isolation) (*Transaction, error) {
	t, err := s.coord.Begin(isolation, defaultEstimatedBlocks)
	if err != nil {
		return nil, err
	}
	return &Transaction{t: t, s: s}, nil
}

// Commit delegates to the coordinator; on success every registered
// post-commit hook (cache invalidation) has already run.
func (tx *Transaction) Commit() error { return tx.s.coord.Commit(tx.t) }

// Abort discards the transaction's shadowed writes.
func (tx *Transaction) Abort() { tx.s.coord.Abort(tx.t) }

// CreateInode is spec §6.2's Transaction.create_inode.
func (tx *Transaction) CreateInode(parent int64, name string, mode uint16) (int64, error) {
	return tx.s.dirs.CreateInode(tx.t.Handle(), parent, name, mode)
}

// Unlink, Link, and Rename round out the directory operations spec §4.D
// names alongside create_inode.
func (tx *Transaction) Unlink(parent int64, name string) error {
	return tx.s.dirs.Unlink(tx.t.Handle(), parent, name)
}

func (tx *Transaction) Link(parent int64, name string, ino int64) error {
	return tx.s.dirs.Link(tx.t.Handle(), parent, name, ino)
}

func (tx *Transaction) Rename(srcParent int64, srcName string, dstParent int64, dstName string) error {
	return tx.s.dirs.Rename(tx.t.Handle(), srcParent, srcName, dstParent, dstName)
}

// Lookup and Readdir are read operations but only meaningful against a
// consistent view of a directory also being modified in the same
// transaction, so they hang off Transaction rather than Store.
func (tx *Transaction) Lookup(parent int64, name string) (int64, error) {
	return tx.s.dirs.Lookup(tx.t.Handle(), parent, name)
}

func (tx *Transaction) Readdir(dirIno int64) ([]inode.Entry, error) {
	return tx.s.dirs.Readdir(tx.t.Handle(), dirIno)
}

// Write is spec §6.2's Transaction.write.
func (tx *Transaction) Write(inodeID int64, offset uint64, data []byte) error {
	st := inode.NewStream(inodeID, tx.s.table, tx.s.mapper, tx.s.al)
	return st.WriteAt(tx.t.Handle(), offset, data)
}

// StoreVector is spec §6.2's Transaction.store_vector.
func (tx *Transaction) StoreVector(ownerInode int64, d vector.Descriptor, payload []float32) (uint64, error) {
	d.OwnerInode = ownerInode
	raw := floatsToBytes(payload)
	vectorID, err := tx.s.vectors.StoreVector(tx.t.Handle(), d, raw, nil)
	if err != nil {
		return 0, err
	}
	if err := tx.s.graph.Insert(tx.t.Handle(), vectorID, payload); err != nil {
		return 0, err
	}
	return vectorID, nil
}

// DeleteVector removes a vector and tombstones its HNSW node in the same
// transaction (described as a supplemented feature in DESIGN.md's pkg/store
// section).
func (tx *Transaction) DeleteVector(vectorID uint64) error {
	if err := tx.s.vectors.DeleteVector(tx.t.Handle(), vectorID); err != nil {
		return err
	}
	return tx.s.graph.Delete(tx.t.Handle(), vectorID)
}

func floatsToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
