package block

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevice(t *testing.T, blocks int64) *Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.img")
	d, err := Create(path, blocks)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateReportsTotalBlocks(t *testing.T) {
	d := newDevice(t, 16)
	assert.Equal(t, int64(16), d.TotalBlocks())
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := newDevice(t, 4)
	buf := NewZeroBlock()
	copy(buf, []byte("hello vexfs"))
	require.NoError(t, d.WriteBlock(2, buf))

	got, err := d.ReadBlock(2)
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestWriteBlockRejectsWrongSize(t *testing.T) {
	d := newDevice(t, 4)
	err := d.WriteBlock(0, make([]byte, Size-1))
	assert.Error(t, err)
}

func TestChecksumRoundTrip(t *testing.T) {
	d := newDevice(t, 4)
	buf := NewZeroBlock()
	copy(buf, []byte("superblock payload"))
	StampChecksum(buf)
	require.NoError(t, d.WriteBlock(0, buf))

	got, err := d.ReadChecked(0)
	require.NoError(t, err)
	assert.True(t, VerifyChecksum(got))
}

func TestReadCheckedDetectsCorruption(t *testing.T) {
	d := newDevice(t, 4)
	buf := NewZeroBlock()
	copy(buf, []byte("superblock payload"))
	StampChecksum(buf)
	require.NoError(t, d.WriteBlock(1, buf))

	corrupt, err := d.ReadBlock(1)
	require.NoError(t, err)
	corrupt[0] ^= 0xFF
	require.NoError(t, d.WriteBlock(1, corrupt))

	_, err = d.ReadChecked(1)
	assert.Error(t, err)
}

func TestWriteChecksummedStampsBeforeWrite(t *testing.T) {
	d := newDevice(t, 4)
	buf := NewZeroBlock()
	copy(buf, []byte("data"))
	require.NoError(t, d.WriteChecksummed(0, buf))

	got, err := d.ReadChecked(0)
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestOpenExistingContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	d, err := Create(path, 8)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(8), reopened.TotalBlocks())
}
