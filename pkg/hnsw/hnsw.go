// Package hnsw implements the layered proximity graph ANN index (spec
// §4.H, "the hardest part"): iterative (never recursive) insert and search,
// heap-allocated candidate/visited/result state, level assignment via a
// seeded PRNG, bidirectional edges with pruning, and an integrity-checking
// validate() with a fallback linear scan for the needs-rebuild state (spec
// §4.I step 4). Node adjacency and its index are themselves reserved-inode
// byte streams (pkg/inode.Stream), the same technique pkg/vector uses,
// grounded in the teacher's reserved-inode idiom (pkg/ext4/reserved.go).
//
// Graph state lives in memory for operation; every mutation appends a full
// node record to the node stream and an index entry pointing at it (the
// append-and-reindex pattern already used by pkg/vector's tombstoning),
// which is how crash consistency is obtained: a node's on-disk state is
// only as current as the last transaction that appended it, and appends
// only become visible through the same journal-commit path as every other
// mutation in the store.
package hnsw

import (
	"container/heap"
	"encoding/binary"
	"hash/crc32"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/lspecian/vexfs-sub002/pkg/distance"
	"github.com/lspecian/vexfs-sub002/pkg/inode"
	"github.com/lspecian/vexfs-sub002/pkg/journal"
	"github.com/lspecian/vexfs-sub002/pkg/vector"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// mL is the standard HNSW level-assignment scale (spec §4.H).
var mL = 1 / math.Ln2

// Config holds the tunables spec §6.3 names for HNSW.
type Config struct {
	M               int // neighbor cap per layer >= 1; layer 0 cap is 2*M
	EfConstruction  int
	DefaultEfSearch int
	MaxLevel        int // hard cap, default 16
	Seed            int64
}

func (c Config) m0() int { return 2 * c.M }

// Stats are the construction counters spec §4.H names "exposed for
// testing".
type Stats struct {
	NodesInserted     uint64
	EdgesCreated      uint64
	EntryPointUpdates uint64
	PruneEvents       uint64
}

// Result is one search hit.
type Result struct {
	VectorID uint64
	Distance float32
}

const (
	nodeHeaderSize    = 32
	nodeFlagTombstone = uint8(1)
	hnswIndexRecSize  = 24
)

type node struct {
	VectorID   uint64
	Level      int
	Neighbors  [][]uint64 // len Level+1; Neighbors[l] holds layer l's neighbor ids
	Tombstoned bool
}

func encodeNodeRecord(n *node) []byte {
	buf := make([]byte, nodeHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], n.VectorID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.Level))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(n.Neighbors)))
	var flags uint8
	if n.Tombstoned {
		flags |= nodeFlagTombstone
	}
	buf[16] = flags

	for _, layer := range n.Neighbors {
		lbuf := make([]byte, 4+len(layer)*8)
		binary.LittleEndian.PutUint32(lbuf[0:4], uint32(len(layer)))
		for i, id := range layer {
			binary.LittleEndian.PutUint64(lbuf[4+i*8:4+i*8+8], id)
		}
		buf = append(buf, lbuf...)
	}

	crc := crc32.ChecksumIEEE(buf[nodeHeaderSize:])
	binary.LittleEndian.PutUint32(buf[20:24], crc)
	return buf
}

func decodeNodeHeader(buf []byte) (id uint64, level int, layerCount int, tombstoned bool) {
	id = binary.LittleEndian.Uint64(buf[0:8])
	level = int(binary.LittleEndian.Uint32(buf[8:12]))
	layerCount = int(binary.LittleEndian.Uint32(buf[12:16]))
	tombstoned = buf[16]&nodeFlagTombstone != 0
	return
}

type hnswIndexRecord struct {
	VectorID uint64
	Pos      uint64
}

func encodeHNSWIndexRecord(r hnswIndexRecord) []byte {
	buf := make([]byte, hnswIndexRecSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.VectorID)
	binary.LittleEndian.PutUint64(buf[8:16], r.Pos)
	binary.LittleEndian.PutUint32(buf[16:20], crc32.ChecksumIEEE(buf[:16]))
	return buf
}

func decodeHNSWIndexRecord(buf []byte) (hnswIndexRecord, bool) {
	if crc32.ChecksumIEEE(buf[:16]) != binary.LittleEndian.Uint32(buf[16:20]) {
		return hnswIndexRecord{}, false
	}
	return hnswIndexRecord{
		VectorID: binary.LittleEndian.Uint64(buf[0:8]),
		Pos:      binary.LittleEndian.Uint64(buf[8:16]),
	}, true
}

// Store is the HNSW graph, its persistence streams, and its distance
// dependency on the vector store.
type Store struct {
	cfg    Config
	metric distance.Func

	nodeStream  *inode.Stream
	indexStream *inode.Stream
	vectors     *vector.Store

	mu sync.RWMutex // graph-wide rw lock (spec §5)

	nodesMu sync.Mutex
	nodes   map[uint64]*node

	headerMu      sync.Mutex
	entryPoint    uint64
	hasEntryPoint bool
	maxLevelSeen  int

	nodeLocksMu sync.Mutex
	nodeLocks   map[uint64]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	statsMu sync.Mutex
	stats   Stats

	needsRebuild bool
}

// Open rebuilds the in-memory graph by scanning the node index (spec §4.I
// step 4's precondition: the graph must reflect every committed mutation
// before validate() runs).
func Open(cfg Config, metric distance.Func, nodeStream, indexStream *inode.Stream, vectors *vector.Store) (*Store, error) {
	s := &Store{
		cfg:         cfg,
		metric:      metric,
		nodeStream:  nodeStream,
		indexStream: indexStream,
		vectors:     vectors,
		nodes:       make(map[uint64]*node),
		nodeLocks:   make(map[uint64]*sync.Mutex),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuild() error {
	size, err := s.indexStream.Size()
	if err != nil {
		return err
	}
	idxBuf := make([]byte, hnswIndexRecSize)
	latest := make(map[uint64]uint64) // vector_id -> latest node record pos
	for pos := uint64(0); pos+hnswIndexRecSize <= size; pos += hnswIndexRecSize {
		if err := s.indexStream.ReadAt(pos, idxBuf); err != nil {
			return err
		}
		rec, ok := decodeHNSWIndexRecord(idxBuf)
		if !ok {
			continue
		}
		latest[rec.VectorID] = rec.Pos
	}

	for vectorID, pos := range latest {
		n, err := s.readNode(pos)
		if err != nil {
			continue // a torn record from an interrupted append; its transaction was never committed
		}
		if n.VectorID != vectorID {
			continue
		}
		s.nodes[vectorID] = n
		if !n.Tombstoned && (!s.hasEntryPoint || n.Level > s.maxLevelSeen) {
			s.hasEntryPoint = true
			s.entryPoint = vectorID
			s.maxLevelSeen = n.Level
		}
	}
	return nil
}

func (s *Store) readNode(pos uint64) (*node, error) {
	hdrBuf := make([]byte, nodeHeaderSize)
	if err := s.nodeStream.ReadAt(pos, hdrBuf); err != nil {
		return nil, err
	}
	id, level, layerCount, tombstoned := decodeNodeHeader(hdrBuf)

	off := pos + nodeHeaderSize
	neighbors := make([][]uint64, layerCount)
	bodyHash := crc32.NewIEEE()
	for l := 0; l < layerCount; l++ {
		cbuf := make([]byte, 4)
		if err := s.nodeStream.ReadAt(off, cbuf); err != nil {
			return nil, err
		}
		bodyHash.Write(cbuf)
		count := binary.LittleEndian.Uint32(cbuf)
		off += 4
		ids := make([]uint64, count)
		if count > 0 {
			ibuf := make([]byte, count*8)
			if err := s.nodeStream.ReadAt(off, ibuf); err != nil {
				return nil, err
			}
			bodyHash.Write(ibuf)
			for i := range ids {
				ids[i] = binary.LittleEndian.Uint64(ibuf[i*8 : i*8+8])
			}
			off += uint64(count) * 8
		}
		neighbors[l] = ids
	}
	storedCRCBuf := make([]byte, 4)
	if err := s.nodeStream.ReadAt(pos+20, storedCRCBuf); err != nil {
		return nil, err
	}
	if bodyHash.Sum32() != binary.LittleEndian.Uint32(storedCRCBuf) {
		return nil, vexfserr.New(vexfserr.ChecksumMismatch, "hnsw.readNode", nil)
	}

	return &node{VectorID: id, Level: level, Neighbors: neighbors, Tombstoned: tombstoned}, nil
}

func (s *Store) persist(h *journal.Handle, n *node) error {
	pos, err := s.nodeStream.AppendAt()
	if err != nil {
		return err
	}
	if err := s.nodeStream.WriteAt(h, pos, encodeNodeRecord(n)); err != nil {
		return err
	}
	idxPos, err := s.indexStream.AppendAt()
	if err != nil {
		return err
	}
	return s.indexStream.WriteAt(h, idxPos, encodeHNSWIndexRecord(hnswIndexRecord{VectorID: n.VectorID, Pos: pos}))
}

func (s *Store) getNode(id uint64) *node {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()
	return s.nodes[id]
}

func (s *Store) setNode(n *node) {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()
	cp := *n
	cp.Neighbors = append([][]uint64(nil), n.Neighbors...)
	s.nodes[n.VectorID] = &cp
}

func (s *Store) isLive(id uint64) bool {
	n := s.getNode(id)
	return n != nil && !n.Tombstoned
}

func (s *Store) nodeLock(id uint64) *sync.Mutex {
	s.nodeLocksMu.Lock()
	defer s.nodeLocksMu.Unlock()
	l, ok := s.nodeLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.nodeLocks[id] = l
	}
	return l
}

// lockAscending acquires the given nodes' write locks sorted by vector_id
// ascending, the deadlock-prevention order spec §5 mandates for HNSW
// inserts.
func (s *Store) lockAscending(ids []uint64) func() {
	seen := make(map[uint64]bool, len(ids))
	uniq := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	for _, id := range uniq {
		s.nodeLock(id).Lock()
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			s.nodeLock(uniq[i]).Unlock()
		}
	}
}

func (s *Store) assignLevel() int {
	s.rngMu.Lock()
	u := s.rng.Float64()
	s.rngMu.Unlock()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	lvl := int(math.Floor(-math.Log(u) * mL))
	if lvl > s.cfg.MaxLevel {
		lvl = s.cfg.MaxLevel
	}
	if lvl < 0 {
		lvl = 0
	}
	return lvl
}

func (s *Store) distanceTo(id uint64, query []float32) (float32, error) {
	_, raw, _, err := s.vectors.LoadVector(id)
	if err != nil {
		return 0, err
	}
	payload := floatsFromBytes(raw)
	return s.metric(payload, query)
}

func floatsFromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}

// searchLayer runs the candidate-list search spec §4.H describes step by
// step: a min-heap of candidates and a max-heap of results, both seeded
// from entry, expanded iteratively (never recursively) until candidates is
// exhausted or the closest remaining candidate cannot improve the result
// set. Returns results ascending by distance.
func (s *Store) searchLayer(entry []uint64, query []float32, ef int, layer int) ([]item, error) {
	visited := make(map[uint64]bool)
	candidates := newMinHeap()
	results := newMaxHeap()

	consider := func(id uint64) error {
		if visited[id] || !s.isLive(id) {
			return nil
		}
		visited[id] = true
		d, err := s.distanceTo(id, query)
		if err != nil {
			return err
		}
		it := item{id: id, dist: d}
		if results.Len() < ef {
			heap.Push(candidates, it)
			heap.Push(results, it)
		} else if less(it, results.Peek()) {
			heap.Push(candidates, it)
			heap.Push(results, it)
			heap.Pop(results)
		}
		return nil
	}

	for _, id := range entry {
		if err := consider(id); err != nil {
			return nil, err
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(item)
		if results.Len() >= ef && less(results.Peek(), c) {
			break
		}
		n := s.getNode(c.id)
		if n == nil || layer >= len(n.Neighbors) {
			continue
		}
		for _, nb := range n.Neighbors[layer] {
			if err := consider(nb); err != nil {
				return nil, err
			}
		}
	}

	out := make([]item, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(item)
	}
	return out, nil
}

func simpleSelect(cands []item, cap int) []uint64 {
	if len(cands) > cap {
		cands = cands[:cap]
	}
	out := make([]uint64, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

func addNeighbor(list []uint64, id uint64) []uint64 {
	for _, x := range list {
		if x == id {
			return list
		}
	}
	return append(append([]uint64(nil), list...), id)
}

// prune keeps the cap-closest neighbors of owner's payload and returns the
// ones dropped, so the caller can also remove owner from each dropped
// neighbor's adjacency (spec §4.H step 3.c: "also removing the reverse
// edges").
func (s *Store) prune(owner uint64, list []uint64, cap int) (kept, removed []uint64, err error) {
	_, raw, _, err := s.vectors.LoadVector(owner)
	if err != nil {
		return nil, nil, err
	}
	query := floatsFromBytes(raw)

	scored := make([]item, 0, len(list))
	for _, id := range list {
		d, err := s.distanceTo(id, query)
		if err != nil {
			return nil, nil, err
		}
		scored = append(scored, item{id: id, dist: d})
	}
	sort.Slice(scored, func(i, j int) bool { return less(scored[i], scored[j]) })

	if len(scored) <= cap {
		for _, it := range scored {
			kept = append(kept, it.id)
		}
		return kept, nil, nil
	}
	for _, it := range scored[:cap] {
		kept = append(kept, it.id)
	}
	for _, it := range scored[cap:] {
		removed = append(removed, it.id)
	}
	return kept, removed, nil
}

// Insert assigns a level, connects the new node to its nearest neighbors at
// every layer it participates in, and maintains bidirectionality with
// pruning (spec §4.H "Insertion algorithm"). Idempotent on vector_id:
// inserting an id already present replaces its node.
func (s *Store) Insert(h *journal.Handle, vectorID uint64, payload []float32) error {
	level := s.assignLevel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.headerMu.Lock()
	hasEP, ep, maxSeen := s.hasEntryPoint, s.entryPoint, s.maxLevelSeen
	s.headerMu.Unlock()

	if !hasEP {
		unlock := s.lockAscending([]uint64{vectorID})
		defer unlock()
		n := &node{VectorID: vectorID, Level: level, Neighbors: make([][]uint64, level+1)}
		if err := s.persist(h, n); err != nil {
			return err
		}
		s.setNode(n)
		s.headerMu.Lock()
		s.entryPoint, s.hasEntryPoint, s.maxLevelSeen = vectorID, true, level
		s.headerMu.Unlock()
		s.statsMu.Lock()
		s.stats.NodesInserted++
		s.stats.EntryPointUpdates++
		s.statsMu.Unlock()
		return nil
	}

	seed := ep
	for l := maxSeen; l > level; l-- {
		res, err := s.searchLayer([]uint64{seed}, payload, 1, l)
		if err != nil {
			return err
		}
		if len(res) > 0 {
			seed = res[0].id
		}
	}

	startLayer := level
	if maxSeen < startLayer {
		startLayer = maxSeen
	}
	neighborsByLayer := make([][]uint64, level+1)
	curSeed := seed
	for l := startLayer; l >= 0; l-- {
		cands, err := s.searchLayer([]uint64{curSeed}, payload, s.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		cap := s.cfg.M
		if l == 0 {
			cap = s.cfg.m0()
		}
		neighborsByLayer[l] = simpleSelect(cands, cap)
		if len(cands) > 0 {
			curSeed = cands[0].id
		}
	}

	touched := []uint64{vectorID}
	for _, layer := range neighborsByLayer {
		touched = append(touched, layer...)
	}
	unlock := s.lockAscending(touched)
	defer unlock()

	n := &node{VectorID: vectorID, Level: level, Neighbors: neighborsByLayer}
	if err := s.persist(h, n); err != nil {
		return err
	}

	for l := 0; l <= level; l++ {
		cap := s.cfg.M
		if l == 0 {
			cap = s.cfg.m0()
		}
		for _, nb := range neighborsByLayer[l] {
			nbNode := s.getNode(nb)
			if nbNode == nil || l >= len(nbNode.Neighbors) {
				continue
			}
			updated := addNeighbor(nbNode.Neighbors[l], vectorID)
			var dropped []uint64
			if len(updated) > cap {
				kept, removed, err := s.prune(nb, updated, cap)
				if err != nil {
					return err
				}
				updated, dropped = kept, removed
				s.statsMu.Lock()
				s.stats.PruneEvents++
				s.statsMu.Unlock()
			}
			nbNode.Neighbors[l] = updated
			if err := s.persist(h, nbNode); err != nil {
				return err
			}
			s.setNode(nbNode)
			s.statsMu.Lock()
			s.stats.EdgesCreated++
			s.statsMu.Unlock()

			for _, d := range dropped {
				dNode := s.getNode(d)
				if dNode == nil || l >= len(dNode.Neighbors) {
					continue
				}
				dNode.Neighbors[l] = removeNeighbor(dNode.Neighbors[l], nb)
				if err := s.persist(h, dNode); err != nil {
					return err
				}
				s.setNode(dNode)
			}
		}
	}

	s.setNode(n)
	s.statsMu.Lock()
	s.stats.NodesInserted++
	s.statsMu.Unlock()

	if level > maxSeen {
		s.headerMu.Lock()
		s.entryPoint, s.maxLevelSeen = vectorID, level
		s.headerMu.Unlock()
		s.statsMu.Lock()
		s.stats.EntryPointUpdates++
		s.statsMu.Unlock()
	}

	return nil
}

func removeNeighbor(list []uint64, id uint64) []uint64 {
	out := make([]uint64, 0, len(list))
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Search performs the two-phase iterative descent spec §4.H describes:
// greedy ef=1 from the entry point down to layer 1, then a full ef=efSearch
// candidate search at layer 0. Returns at most k results ascending by
// distance (spec §4.H "Search algorithm").
func (s *Store) Search(query []float32, k, efSearch int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.needsRebuild {
		return s.linearScan(query, k)
	}

	s.headerMu.Lock()
	hasEP, ep, maxSeen := s.hasEntryPoint, s.entryPoint, s.maxLevelSeen
	s.headerMu.Unlock()
	if !hasEP {
		return nil, nil
	}

	seed := ep
	for l := maxSeen; l > 0; l-- {
		res, err := s.searchLayer([]uint64{seed}, query, 1, l)
		if err != nil {
			return nil, err
		}
		if len(res) > 0 {
			seed = res[0].id
		}
	}

	if efSearch < k {
		efSearch = k
	}
	res, err := s.searchLayer([]uint64{seed}, query, efSearch, 0)
	if err != nil {
		return nil, err
	}
	if len(res) > k {
		res = res[:k]
	}
	out := make([]Result, len(res))
	for i, it := range res {
		out[i] = Result{VectorID: it.id, Distance: it.dist}
	}
	return out, nil
}

// Delete tombstones vectorID in layer 0 and persists the flagged node.
// Edges that point at the node stay in place: neither later inserts nor
// checkpoint remove them or reconnect its neighbours. Search skips
// tombstoned nodes when collecting results.
func (s *Store) Delete(h *journal.Handle, vectorID uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock := s.lockAscending([]uint64{vectorID})
	defer unlock()

	n := s.getNode(vectorID)
	if n == nil {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "hnsw.Delete", "unknown vector_id %d", vectorID)
	}
	cp := *n
	cp.Tombstoned = true
	if err := s.persist(h, &cp); err != nil {
		return err
	}
	s.setNode(&cp)
	return nil
}

// Report is the result of Validate (spec §4.H "validation checks" / §4.I
// background integrity check). A non-empty report means the graph should be
// marked needs-rebuild until repaired.
type Report struct {
	EntryPointValid     bool
	Bidirectional       []string
	DegreeViolations    []string
	TombstoneReferenced []string
	MissingLayer0       []string
}

func (r *Report) OK() bool {
	return r.EntryPointValid && len(r.Bidirectional) == 0 && len(r.DegreeViolations) == 0 &&
		len(r.TombstoneReferenced) == 0 && len(r.MissingLayer0) == 0
}

// Validate runs the five integrity checks spec §4.H names: the entry point
// exists (or the graph is empty), every edge is bidirectional, no node
// exceeds its layer's degree cap, no live node's adjacency references a
// tombstoned node, and every live node appears in layer 0.
func (s *Store) Validate() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Report{}

	s.nodesMu.Lock()
	nodes := make(map[uint64]*node, len(s.nodes))
	for id, n := range s.nodes {
		nodes[id] = n
	}
	s.nodesMu.Unlock()

	s.headerMu.Lock()
	hasEP, ep := s.hasEntryPoint, s.entryPoint
	s.headerMu.Unlock()

	liveCount := 0
	for _, n := range nodes {
		if !n.Tombstoned {
			liveCount++
		}
	}
	if liveCount == 0 {
		r.EntryPointValid = !hasEP
	} else {
		epNode, ok := nodes[ep]
		r.EntryPointValid = hasEP && ok && epNode != nil && !epNode.Tombstoned
	}

	for id, n := range nodes {
		if n.Tombstoned {
			continue
		}
		if len(n.Neighbors) == 0 {
			r.MissingLayer0 = append(r.MissingLayer0, idStr(id))
		}
		for l, layer := range n.Neighbors {
			cap := s.cfg.M
			if l == 0 {
				cap = s.cfg.m0()
			}
			if len(layer) > cap {
				r.DegreeViolations = append(r.DegreeViolations, idStr(id))
			}
			for _, nb := range layer {
				nbNode, ok := nodes[nb]
				if !ok {
					continue
				}
				if nbNode.Tombstoned {
					r.TombstoneReferenced = append(r.TombstoneReferenced, idStr(id))
					continue
				}
				if l >= len(nbNode.Neighbors) || !containsID(nbNode.Neighbors[l], id) {
					r.Bidirectional = append(r.Bidirectional, idStr(id))
				}
			}
		}
	}

	return r
}

func containsID(list []uint64, id uint64) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}

func idStr(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// NodeCount, Stats, NeedsRebuild, SetNeedsRebuild expose graph introspection
// for Store.Stat and pkg/recovery.
func (s *Store) NodeCount() int {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()
	n := 0
	for _, nd := range s.nodes {
		if !nd.Tombstoned {
			n++
		}
	}
	return n
}

func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// linearScan computes an exact nearest-k by brute force over every live
// vector, the fallback spec §4.I step 4 requires while needsRebuild is set
// (a corrupt or unvalidated graph must not be trusted for search).
func (s *Store) linearScan(query []float32, k int) ([]Result, error) {
	ids := s.vectors.AllLive()
	scored := make([]item, 0, len(ids))
	for _, id := range ids {
		d, err := s.distanceTo(id, query)
		if err != nil {
			return nil, err
		}
		scored = append(scored, item{id: id, dist: d})
	}
	sort.Slice(scored, func(i, j int) bool { return less(scored[i], scored[j]) })
	if len(scored) > k {
		scored = scored[:k]
	}
	out := make([]Result, len(scored))
	for i, it := range scored {
		out[i] = Result{VectorID: it.id, Distance: it.dist}
	}
	return out, nil
}

func (s *Store) NeedsRebuild() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsRebuild
}

func (s *Store) SetNeedsRebuild(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needsRebuild = v
}
