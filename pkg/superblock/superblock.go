// Package superblock implements the store's singleton superblock (spec
// §3.1, §6.1): two on-disk copies, written at format time, read at mount,
// updated at unmount and checkpoint boundaries. Grounded on the teacher's
// fixed-layout struct-with-binary.Write encoding (pkg/ext4/super.go) and its
// struct-offset test style (pkg/ext4/super_test.go), generalized from a
// read-only compiled image to a mutable, twice-replicated superblock.
package superblock

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/lspecian/vexfs-sub002/pkg/block"
	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Magic identifies a formatted container.
const Magic uint64 = 0x76657866735f3032 // "vexfs_02"

// VersionMajor/VersionMinor are this build's on-disk format version (spec
// §6.1: "major breaks compatibility; minor is additive").
const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0
)

// Block numbers 0 and 1 hold the primary and backup superblock copies.
const (
	PrimaryBlock = 0
	BackupBlock  = 1
)

// Compat flags (closed set; spec leaves the bit layout to the implementation).
const (
	CompatNone = 0
)

// Error states recorded in the superblock, surfaced by Store.Stat.
const (
	ErrorStateClean uint32 = iota
	ErrorStateDirty
	ErrorStateCorrupt
)

// Superblock is the in-memory mirror of the fixed on-disk record (spec
// §3.1). Field order matches the on-disk layout; Encode/Decode are the only
// places that layout is expressed.
type Superblock struct {
	Magic    uint64
	VerMajor uint16
	VerMinor uint16
	_        uint32

	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64

	BitmapStart     uint64
	InodeTableStart uint64
	JournalStart    uint64
	VectorAreaStart uint64
	HNSWAreaStart   uint64
	JournalBlocks   uint64
	JournalTail     uint64 // logical tail offset within the journal region (spec §4.C)
	JournalHead     uint64 // logical head (write cursor) offset, persisted at checkpoint/unmount

	CompatFlags uint32
	ErrorState  uint32

	UUID [16]byte

	MountGeneration uint64
	FormatTime      int64
	LastMountTime   int64

	// Checksum is recomputed by Encode and verified by Decode; it is not
	// part of the logical superblock a caller inspects.
	Checksum uint32
}

// New constructs a fresh superblock for Store.Format with the given layout.
func New(totalBlocks, totalInodes, bitmapStart, inodeTableStart, journalStart, journalBlocks, vectorAreaStart, hnswAreaStart uint64) *Superblock {
	id, _ := uuid.NewRandom()
	var raw [16]byte
	copy(raw[:], id[:])
	now := time.Now().Unix()
	return &Superblock{
		Magic:           Magic,
		VerMajor:        VersionMajor,
		VerMinor:        VersionMinor,
		BlockSize:       block.Size,
		TotalBlocks:     totalBlocks,
		FreeBlocks:      totalBlocks,
		TotalInodes:     totalInodes,
		FreeInodes:      totalInodes,
		BitmapStart:     bitmapStart,
		InodeTableStart: inodeTableStart,
		JournalStart:    journalStart,
		JournalBlocks:   journalBlocks,
		JournalTail:     0,
		JournalHead:     0,
		VectorAreaStart: vectorAreaStart,
		HNSWAreaStart:   hnswAreaStart,
		CompatFlags:     CompatNone,
		ErrorState:      ErrorStateClean,
		UUID:            raw,
		MountGeneration: 0,
		FormatTime:      now,
		LastMountTime:   now,
	}
}

// fields is the exact sequence of fixed-width fields written to disk,
// matching struct field order above (minus Checksum; the reserved pad is
// written as a zero uint32).
func (s *Superblock) fields() []interface{} {
	return []interface{}{
		s.Magic, s.VerMajor, s.VerMinor, uint32(0),
		s.BlockSize, s.TotalBlocks, s.FreeBlocks, s.TotalInodes, s.FreeInodes,
		s.BitmapStart, s.InodeTableStart, s.JournalStart, s.VectorAreaStart, s.HNSWAreaStart, s.JournalBlocks,
		s.JournalTail, s.JournalHead,
		s.CompatFlags, s.ErrorState,
		s.UUID,
		s.MountGeneration, s.FormatTime, s.LastMountTime,
	}
}

// Encode serializes the superblock into a checksummed 4 KiB block.
func (s *Superblock) Encode() []byte {
	buf := new(bytes.Buffer)
	for _, f := range s.fields() {
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	out := block.NewZeroBlock()
	copy(out, buf.Bytes())
	block.StampChecksum(out)
	return out
}

// Decode parses a 4 KiB block into a Superblock, verifying its checksum
// first. Mismatch returns checksum-mismatch and never returns a value (spec
// §4.A).
func Decode(raw []byte) (*Superblock, error) {
	if !block.VerifyChecksum(raw) {
		return nil, vexfserr.New(vexfserr.ChecksumMismatch, "superblock.Decode", nil)
	}

	r := bytes.NewReader(raw)
	s := &Superblock{}
	fields := []interface{}{
		&s.Magic, &s.VerMajor, &s.VerMinor, new(uint32),
		&s.BlockSize, &s.TotalBlocks, &s.FreeBlocks, &s.TotalInodes, &s.FreeInodes,
		&s.BitmapStart, &s.InodeTableStart, &s.JournalStart, &s.VectorAreaStart, &s.HNSWAreaStart, &s.JournalBlocks,
		&s.JournalTail, &s.JournalHead,
		&s.CompatFlags, &s.ErrorState,
		&s.UUID,
		&s.MountGeneration, &s.FormatTime, &s.LastMountTime,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, vexfserr.New(vexfserr.FSCorruption, "superblock.Decode", err)
		}
	}

	if s.Magic != Magic {
		return nil, vexfserr.Wrap(vexfserr.FSCorruption, "superblock.Decode", "bad magic %x", s.Magic)
	}
	if s.VerMajor > VersionMajor {
		return nil, vexfserr.Wrap(vexfserr.IncompatibleVersion, "superblock.Decode", "on-disk major version %d unsupported (understand up to %d)", s.VerMajor, VersionMajor)
	}
	if s.FreeBlocks > s.TotalBlocks {
		return nil, vexfserr.Wrap(vexfserr.FSCorruption, "superblock.Decode", "free_blocks %d exceeds total_blocks %d", s.FreeBlocks, s.TotalBlocks)
	}

	return s, nil
}

// WriteBoth persists the superblock to both the primary and backup blocks.
func WriteBoth(dev *block.Device, s *Superblock) error {
	enc := s.Encode()
	if err := dev.WriteBlock(PrimaryBlock, enc); err != nil {
		return err
	}
	// both copies hold the same encoded bytes, written by separate block
	// writes so a torn write to one copy leaves the other intact.
	if err := dev.WriteBlock(BackupBlock, enc); err != nil {
		return err
	}
	return nil
}

// Read loads the superblock, preferring the primary copy. If the primary's
// checksum fails, it falls back to the backup (spec §4.I step 1). If both
// fail, it returns fs-corruption so the caller can mount read-only.
//
// Repaired reports whether the primary was bad and the backup was used; the
// caller can then rewrite the primary with RepairPrimary, which Store.Open
// does right after this call returns (a supplemented feature beyond the
// distilled spec, see SPEC_FULL.md §1).
func Read(dev *block.Device) (sb *Superblock, repaired bool, err error) {
	primary, perr := dev.ReadBlock(PrimaryBlock)
	if perr == nil {
		if sb, derr := Decode(primary); derr == nil {
			return sb, false, nil
		}
	}

	backup, berr := dev.ReadBlock(BackupBlock)
	if berr != nil {
		return nil, false, vexfserr.New(vexfserr.FSCorruption, "superblock.Read", berr)
	}
	sb, derr := Decode(backup)
	if derr != nil {
		return nil, false, vexfserr.New(vexfserr.FSCorruption, "superblock.Read", derr)
	}
	return sb, true, nil
}

// RepairPrimary rewrites the primary copy from the in-memory (backup-derived)
// superblock. Called after a successful Read with repaired=true.
func RepairPrimary(dev *block.Device, sb *Superblock) error {
	return dev.WriteBlock(PrimaryBlock, sb.Encode())
}
