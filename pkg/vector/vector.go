// Package vector implements the vector store (spec §4.F): append-only
// payload extents addressed through a vector index, tombstone-based
// deletion, and the 64-byte-aligned extent header (spec §6.1). Grounded on
// the teacher's fixed-header-plus-payload block encoding (pkg/ext4/inode.go
// extent records) and its reserved-inode idiom (pkg/ext4/reserved.go),
// adapted here so both the payload area and its index are themselves
// ordinary reserved-inode byte streams (pkg/inode.Stream) rather than a
// bespoke segment format.
package vector

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/lspecian/vexfs-sub002/pkg/inode"
	"github.com/lspecian/vexfs-sub002/pkg/journal"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// ElementType enumerates the vector element encodings (spec §3.1).
type ElementType uint8

const (
	Float32 ElementType = iota
	Float16
	BFloat16
	Float64
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Binary
	Sparse
)

// Flags on a vector record (spec §3.1).
const (
	FlagNormalized uint8 = 1 << iota
	FlagQuantized
	FlagCompressed
	FlagImmutable
)

const (
	extentHeaderSize  = 64
	extentAlignment   = 64
	indexRecordSize   = 32
	indexTombstoneBit = uint8(1)
)

// Descriptor is a vector's type metadata, independent of its payload bytes.
type Descriptor struct {
	OwnerInode  int64
	ElementType ElementType
	Dimension   uint32
	Flags       uint8
}

// extentHeader is the fixed 64-byte record preceding every payload extent.
type extentHeader struct {
	VectorID       uint64
	OwnerInode     uint64
	Dimension      uint32
	ElementType    uint8
	Flags          uint8
	_              uint16
	ByteLength     uint32
	MetadataLength uint32
	CRC            uint32
}

func encodeExtentHeader(h extentHeader, payload, metadata []byte) []byte {
	buf := make([]byte, extentHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.VectorID)
	binary.LittleEndian.PutUint64(buf[8:16], h.OwnerInode)
	binary.LittleEndian.PutUint32(buf[16:20], h.Dimension)
	buf[20] = h.ElementType
	buf[21] = h.Flags
	binary.LittleEndian.PutUint32(buf[24:28], h.ByteLength)
	binary.LittleEndian.PutUint32(buf[28:32], h.MetadataLength)
	crc := crc32.NewIEEE()
	crc.Write(payload)
	crc.Write(metadata)
	binary.LittleEndian.PutUint32(buf[32:36], crc.Sum32())
	return buf
}

func decodeExtentHeader(buf []byte) extentHeader {
	return extentHeader{
		VectorID:       binary.LittleEndian.Uint64(buf[0:8]),
		OwnerInode:     binary.LittleEndian.Uint64(buf[8:16]),
		Dimension:      binary.LittleEndian.Uint32(buf[16:20]),
		ElementType:    buf[20],
		Flags:          buf[21],
		ByteLength:     binary.LittleEndian.Uint32(buf[24:28]),
		MetadataLength: binary.LittleEndian.Uint32(buf[28:32]),
		CRC:            binary.LittleEndian.Uint32(buf[32:36]),
	}
}

func alignUp(n uint64, align uint64) uint64 {
	return ((n + align - 1) / align) * align
}

// indexRecord maps a vector_id to its extent's byte position in the payload
// stream, appended to the index stream once per store_vector/update_vector/
// delete_vector call (spec §4.F "separate vector index block").
type indexRecord struct {
	VectorID   uint64
	PayloadPos uint64
	Flags      uint8
}

func encodeIndexRecord(r indexRecord) []byte {
	buf := make([]byte, indexRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.VectorID)
	binary.LittleEndian.PutUint64(buf[8:16], r.PayloadPos)
	buf[16] = r.Flags
	crc := crc32.ChecksumIEEE(buf[:24])
	binary.LittleEndian.PutUint32(buf[24:28], crc)
	return buf
}

func decodeIndexRecord(buf []byte) (indexRecord, bool) {
	crc := crc32.ChecksumIEEE(buf[:24])
	if crc != binary.LittleEndian.Uint32(buf[24:28]) {
		return indexRecord{}, false
	}
	return indexRecord{
		VectorID:   binary.LittleEndian.Uint64(buf[0:8]),
		PayloadPos: binary.LittleEndian.Uint64(buf[8:16]),
		Flags:      buf[16],
	}, true
}

// Store implements store_vector/load_vector/delete_vector/update_vector.
type Store struct {
	payload *inode.Stream
	index   *inode.Stream

	mu     sync.RWMutex
	loc    map[uint64]indexRecord // vector_id -> latest index record (live or tombstoned)
	nextID uint64
}

// Open rebuilds the in-memory vector_id index by scanning the index stream
// linearly (spec §4.I mount-time reconciliation, generalized from the
// bitmap to this store's own index). Call after mount, before serving any
// vector operation.
func Open(payload, index *inode.Stream) (*Store, error) {
	s := &Store{payload: payload, index: index, loc: make(map[uint64]indexRecord)}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	size, err := s.index.Size()
	if err != nil {
		return err
	}
	buf := make([]byte, indexRecordSize)
	for pos := uint64(0); pos+indexRecordSize <= size; pos += indexRecordSize {
		if err := s.index.ReadAt(pos, buf); err != nil {
			return err
		}
		rec, ok := decodeIndexRecord(buf)
		if !ok {
			continue // torn trailing record from an interrupted append; recovery will have discarded its transaction
		}
		s.loc[rec.VectorID] = rec
		if rec.VectorID >= s.nextID {
			s.nextID = rec.VectorID + 1
		}
	}
	return nil
}

func (s *Store) appendIndex(h *journal.Handle, rec indexRecord) error {
	size, err := s.index.Size()
	if err != nil {
		return err
	}
	if err := s.index.WriteAt(h, size, encodeIndexRecord(rec)); err != nil {
		return err
	}
	return nil
}

// StoreVector appends payload (and optional metadata) as a new extent and
// records it in the index, returning a freshly minted, never-reused
// vector_id (spec §4.F `store_vector`).
func (s *Store) StoreVector(h *journal.Handle, d Descriptor, payload, metadata []byte) (uint64, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	if d.Flags&FlagCompressed != 0 {
		compressed, err := Compress(payload)
		if err != nil {
			return 0, err
		}
		payload = compressed
	}

	pos, err := s.payload.AppendAt()
	if err != nil {
		return 0, err
	}

	hdr := extentHeader{
		VectorID:       id,
		OwnerInode:     uint64(d.OwnerInode),
		Dimension:      d.Dimension,
		ElementType:    uint8(d.ElementType),
		Flags:          d.Flags,
		ByteLength:     uint32(len(payload)),
		MetadataLength: uint32(len(metadata)),
	}
	record := append(encodeExtentHeader(hdr, payload, metadata), payload...)
	record = append(record, metadata...)
	total := alignUp(uint64(len(record)), extentAlignment)
	if pad := total - uint64(len(record)); pad > 0 {
		record = append(record, make([]byte, pad)...)
	}

	if err := s.payload.WriteAt(h, pos, record); err != nil {
		return 0, err
	}

	rec := indexRecord{VectorID: id, PayloadPos: pos}
	if err := s.appendIndex(h, rec); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.loc[id] = rec
	s.mu.Unlock()
	return id, nil
}

// LoadVector returns a vector's descriptor, payload, and metadata bytes
// (spec §4.F `load_vector`).
func (s *Store) LoadVector(vectorID uint64) (Descriptor, []byte, []byte, error) {
	s.mu.RLock()
	rec, ok := s.loc[vectorID]
	s.mu.RUnlock()
	if !ok || rec.Flags&indexTombstoneBit != 0 {
		return Descriptor{}, nil, nil, vexfserr.Wrap(vexfserr.InvalidArgument, "vector.LoadVector", "unknown vector_id %d", vectorID)
	}

	hdrBuf := make([]byte, extentHeaderSize)
	if err := s.payload.ReadAt(rec.PayloadPos, hdrBuf); err != nil {
		return Descriptor{}, nil, nil, err
	}
	hdr := decodeExtentHeader(hdrBuf)
	if hdr.VectorID != vectorID {
		return Descriptor{}, nil, nil, vexfserr.Wrap(vexfserr.FSCorruption, "vector.LoadVector", "index points at vector_id %d, extent holds %d", vectorID, hdr.VectorID)
	}

	body := make([]byte, hdr.ByteLength+hdr.MetadataLength)
	if len(body) > 0 {
		if err := s.payload.ReadAt(rec.PayloadPos+extentHeaderSize, body); err != nil {
			return Descriptor{}, nil, nil, err
		}
	}
	payload := body[:hdr.ByteLength]
	metadata := body[hdr.ByteLength:]

	crc := crc32.NewIEEE()
	crc.Write(payload)
	crc.Write(metadata)
	if crc.Sum32() != hdr.CRC {
		return Descriptor{}, nil, nil, vexfserr.New(vexfserr.ChecksumMismatch, "vector.LoadVector", nil)
	}

	if hdr.Flags&FlagCompressed != 0 {
		decompressed, err := Decompress(payload)
		if err != nil {
			return Descriptor{}, nil, nil, err
		}
		payload = decompressed
	}

	d := Descriptor{
		OwnerInode:  int64(hdr.OwnerInode),
		ElementType: ElementType(hdr.ElementType),
		Dimension:   hdr.Dimension,
		Flags:       hdr.Flags,
	}
	return d, payload, metadata, nil
}

// DeleteVector tombstones vectorID (spec §4.F `delete_vector`); its extent
// stays in the payload stream, and nothing, checkpoint included, reclaims
// that space. Idempotent: deleting an already-
// tombstoned or unknown id is a no-op, matching this store's choice on the
// spec's open idempotence question (§8 property 9).
func (s *Store) DeleteVector(h *journal.Handle, vectorID uint64) error {
	s.mu.RLock()
	rec, ok := s.loc[vectorID]
	s.mu.RUnlock()
	if !ok || rec.Flags&indexTombstoneBit != 0 {
		return nil
	}

	tomb := indexRecord{VectorID: vectorID, PayloadPos: rec.PayloadPos, Flags: rec.Flags | indexTombstoneBit}
	if err := s.appendIndex(h, tomb); err != nil {
		return err
	}
	s.mu.Lock()
	s.loc[vectorID] = tomb
	s.mu.Unlock()
	return nil
}

// UpdateVector appends newPayload as a fresh extent under the same
// vector_id and appends an index record pointing at it, which supersedes
// the old record so the old extent is no longer reachable; no separate
// tombstone record is written. Appending rather than updating in place is
// chosen for crash safety (spec §9 open question, resolved explicitly there).
func (s *Store) UpdateVector(h *journal.Handle, vectorID uint64, d Descriptor, newPayload, metadata []byte) error {
	s.mu.RLock()
	_, ok := s.loc[vectorID]
	s.mu.RUnlock()
	if !ok {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "vector.UpdateVector", "unknown vector_id %d", vectorID)
	}

	if d.Flags&FlagCompressed != 0 {
		compressed, err := Compress(newPayload)
		if err != nil {
			return err
		}
		newPayload = compressed
	}

	pos, err := s.payload.AppendAt()
	if err != nil {
		return err
	}
	hdr := extentHeader{
		VectorID:       vectorID,
		OwnerInode:     uint64(d.OwnerInode),
		Dimension:      d.Dimension,
		ElementType:    uint8(d.ElementType),
		Flags:          d.Flags,
		ByteLength:     uint32(len(newPayload)),
		MetadataLength: uint32(len(metadata)),
	}
	record := append(encodeExtentHeader(hdr, newPayload, metadata), newPayload...)
	record = append(record, metadata...)
	total := alignUp(uint64(len(record)), extentAlignment)
	if pad := total - uint64(len(record)); pad > 0 {
		record = append(record, make([]byte, pad)...)
	}
	if err := s.payload.WriteAt(h, pos, record); err != nil {
		return err
	}

	rec := indexRecord{VectorID: vectorID, PayloadPos: pos}
	if err := s.appendIndex(h, rec); err != nil {
		return err
	}
	s.mu.Lock()
	s.loc[vectorID] = rec
	s.mu.Unlock()
	return nil
}

// Exists reports whether vectorID currently resolves to a live (non-
// tombstoned) vector, used by pkg/hnsw to validate graph entries.
func (s *Store) Exists(vectorID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.loc[vectorID]
	return ok && rec.Flags&indexTombstoneBit == 0
}

// Count returns the number of live vectors, used by Store.Stat.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.loc {
		if rec.Flags&indexTombstoneBit == 0 {
			n++
		}
	}
	return n
}

// AllLive returns every live vector_id, for the HNSW linear-scan fallback
// used while an index is in the needs-rebuild state (spec §4.I step 4).
func (s *Store) AllLive() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.loc))
	for id, rec := range s.loc {
		if rec.Flags&indexTombstoneBit == 0 {
			out = append(out, id)
		}
	}
	return out
}
