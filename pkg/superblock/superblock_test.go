package superblock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/block"
)

func newDevice(t *testing.T, blocks int64) *block.Device {
	t.Helper()
	d, err := block.Create(filepath.Join(t.TempDir(), "container.img"), blocks)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sb := New(1024, 256, 2, 10, 20, 64, 100, 100)
	enc := sb.Encode()

	decoded, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, sb.Magic, decoded.Magic)
	assert.Equal(t, sb.TotalBlocks, decoded.TotalBlocks)
	assert.Equal(t, sb.UUID, decoded.UUID)
	assert.Equal(t, sb.VectorAreaStart, decoded.VectorAreaStart)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	sb := New(1024, 256, 2, 10, 20, 64, 100, 100)
	enc := sb.Encode()
	enc[0] ^= 0xFF

	_, err := Decode(enc)
	assert.Error(t, err)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	sb := New(1024, 256, 2, 10, 20, 64, 100, 100)
	enc := sb.Encode()
	enc[0] ^= 0xFF
	block.StampChecksum(enc)

	_, err := Decode(enc)
	assert.Error(t, err)
}

func TestDecodeRejectsFreeExceedingTotal(t *testing.T) {
	sb := New(1024, 256, 2, 10, 20, 64, 100, 100)
	sb.FreeBlocks = sb.TotalBlocks + 1
	enc := sb.Encode()

	_, err := Decode(enc)
	assert.Error(t, err)
}

func TestReadFallsBackToBackupOnCorruptPrimary(t *testing.T) {
	dev := newDevice(t, 4)
	sb := New(4, 16, 2, 3, 4, 1, 4, 4)
	require.NoError(t, WriteBoth(dev, sb))

	corrupt, err := dev.ReadBlock(PrimaryBlock)
	require.NoError(t, err)
	corrupt[0] ^= 0xFF
	require.NoError(t, dev.WriteBlock(PrimaryBlock, corrupt))

	read, repaired, err := Read(dev)
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, sb.UUID, read.UUID)
}

func TestReadPreferssPrimaryWhenClean(t *testing.T) {
	dev := newDevice(t, 4)
	sb := New(4, 16, 2, 3, 4, 1, 4, 4)
	require.NoError(t, WriteBoth(dev, sb))

	read, repaired, err := Read(dev)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, sb.UUID, read.UUID)
}

func TestRepairPrimaryRestoresBackupContents(t *testing.T) {
	dev := newDevice(t, 4)
	sb := New(4, 16, 2, 3, 4, 1, 4, 4)
	require.NoError(t, WriteBoth(dev, sb))

	require.NoError(t, RepairPrimary(dev, sb))
	read, repaired, err := Read(dev)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, sb.UUID, read.UUID)
}
