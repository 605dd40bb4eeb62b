// Package block implements the lowest layer of the store (spec §4.A): fixed
// 4 KiB block reads and writes against a container file, each metadata block
// trailed by a CRC32 checksum that is verified on every read. Grounded on the
// teacher's fixed-layout, offset-driven struct encoding (pkg/ext4/super.go)
// generalized from a write-once image compiler to a read/write block device.
package block

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Size is the fixed block size in bytes (spec §6.1: "Block size is 4096
// bytes"). block_size is reserved for future use in Options but fixed at
// format time per spec §6.3.
const Size = 4096

// ChecksumOffset is where the trailing CRC32 lives within a block that
// carries one (spec §6.1: superblock "trailing CRC32 at offset 4092").
const ChecksumOffset = Size - 4

// Device is the minimal container abstraction: a fixed-size, block-addressed
// random-access file or block-device region. No retries happen at this layer
// (spec §4.A) — a read or write either succeeds or returns io-error.
type Device struct {
	mu   sync.RWMutex
	f    *os.File
	size int64 // total blocks
}

// Open opens an existing container file for block I/O. It does not interpret
// superblock contents; pkg/superblock does that on top of Device.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "block.Open", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vexfserr.New(vexfserr.IOError, "block.Open", err)
	}
	return &Device{f: f, size: fi.Size() / Size}, nil
}

// Create truncates (or creates) path to hold totalBlocks blocks, for use by
// Store.Format.
func Create(path string, totalBlocks int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, vexfserr.New(vexfserr.IOError, "block.Create", err)
	}
	if err := f.Truncate(totalBlocks * Size); err != nil {
		f.Close()
		return nil, vexfserr.New(vexfserr.IOError, "block.Create", err)
	}
	return &Device{f: f, size: totalBlocks}, nil
}

// TotalBlocks returns the container's fixed block count.
func (d *Device) TotalBlocks() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

// Close flushes and releases the underlying file handle.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return vexfserr.New(vexfserr.IOError, "block.Close", err)
	}
	return d.f.Close()
}

// Sync forces pending writes to stable storage; callers use this to
// implement the journal's commit fence and checkpoint in-place writes.
func (d *Device) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.f.Sync(); err != nil {
		return vexfserr.New(vexfserr.IOError, "block.Sync", err)
	}
	return nil
}

// ReadBlock reads block number no into a fresh Size-byte buffer, 4 KiB
// aligned (spec §4.A). It does not verify checksums — callers that expect a
// checksummed block call ReadChecked.
func (d *Device) ReadBlock(no int64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	buf := make([]byte, Size)
	n, err := d.f.ReadAt(buf, no*Size)
	if err != nil && err != io.EOF {
		return nil, vexfserr.New(vexfserr.IOError, "block.ReadBlock", err)
	}
	if n < Size {
		// short read past the formatted region is a corruption, not a hole.
		return nil, vexfserr.Wrap(vexfserr.IOError, "block.ReadBlock", "short read at block %d: got %d bytes", no, n)
	}
	return buf, nil
}

// ReadChecked reads block no and verifies the trailing CRC32 covers all
// preceding bytes. On mismatch it returns checksum-mismatch and never hands
// back the bytes (spec §4.A, invariant 2 in §8).
func (d *Device) ReadChecked(no int64) ([]byte, error) {
	buf, err := d.ReadBlock(no)
	if err != nil {
		return nil, err
	}
	if !VerifyChecksum(buf) {
		return nil, vexfserr.Wrap(vexfserr.ChecksumMismatch, "block.ReadChecked", "block %d failed CRC32 verification", no)
	}
	return buf, nil
}

// WriteBlock writes buf (must be exactly Size bytes) to block no. Journaled
// writers stage through the journal; only checkpoint in-place writes and
// format call this directly (spec §4.A).
func (d *Device) WriteBlock(no int64, buf []byte) error {
	if len(buf) != Size {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "block.WriteBlock", "buffer must be exactly %d bytes, got %d", Size, len(buf))
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, err := d.f.WriteAt(buf, no*Size); err != nil {
		return vexfserr.New(vexfserr.IOError, "block.WriteBlock", err)
	}
	return nil
}

// WriteChecksummed stamps buf's trailing CRC32 and writes it.
func (d *Device) WriteChecksummed(no int64, buf []byte) error {
	StampChecksum(buf)
	return d.WriteBlock(no, buf)
}

// StampChecksum computes the CRC32 (IEEE) over buf[:ChecksumOffset] and
// writes it little-endian at buf[ChecksumOffset:].
func StampChecksum(buf []byte) {
	sum := crc32.ChecksumIEEE(buf[:ChecksumOffset])
	binary.LittleEndian.PutUint32(buf[ChecksumOffset:], sum)
}

// VerifyChecksum returns whether buf's trailing CRC32 matches its contents.
func VerifyChecksum(buf []byte) bool {
	if len(buf) != Size {
		return false
	}
	want := binary.LittleEndian.Uint32(buf[ChecksumOffset:])
	got := crc32.ChecksumIEEE(buf[:ChecksumOffset])
	return want == got
}

// NewZeroBlock returns a freshly zeroed block-sized buffer.
func NewZeroBlock() []byte {
	return make([]byte, Size)
}
