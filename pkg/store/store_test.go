package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/config"
	"github.com/lspecian/vexfs-sub002/pkg/inode"
	"github.com/lspecian/vexfs-sub002/pkg/superblock"
	"github.com/lspecian/vexfs-sub002/pkg/txn"
	"github.com/lspecian/vexfs-sub002/pkg/vector"
)

func testOptions() config.Options {
	o := config.Defaults()
	o.JournalSizeBlocks = 64
	o.CacheBlockMiB = 1
	o.CacheMetadataMiB = 1
	return o
}

func formatTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "container.img")
	s, err := Format(path, FormatParams{TotalBlocks: 2048, TotalInodes: 256, Options: testOptions()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestFormatProducesMountableContainer(t *testing.T) {
	s, _ := formatTemp(t)
	stat := s.Stat()
	assert.Equal(t, int64(2048), stat.TotalBlocks)
	assert.Equal(t, int64(256), stat.TotalInodes)
	assert.Less(t, stat.FreeBlocks, stat.TotalBlocks)
}

func TestFormatRejectsNonPositiveSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	_, err := Format(path, FormatParams{TotalBlocks: 0, TotalInodes: 64, Options: testOptions()})
	assert.Error(t, err)

	path2 := filepath.Join(t.TempDir(), "container2.img")
	_, err = Format(path2, FormatParams{TotalBlocks: 64, TotalInodes: 0, Options: testOptions()})
	assert.Error(t, err)
}

func TestFormatRejectsUndersizedContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	_, err := Format(path, FormatParams{TotalBlocks: 8, TotalInodes: 256, Options: testOptions()})
	assert.Error(t, err)
}

func TestCloseThenOpenReplaysCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")
	s, err := Format(path, FormatParams{TotalBlocks: 2048, TotalInodes: 256, Options: testOptions()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, testOptions(), nil)
	require.NoError(t, err)
	defer reopened.Close()

	stat := reopened.Stat()
	assert.Equal(t, int64(2048), stat.TotalBlocks)
	// a mounted container stays marked dirty until Close marks it clean.
	assert.Equal(t, superblock.ErrorStateDirty, stat.ErrorState)
}

func TestCreateInodeThenLookupAndReaddir(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	ino, err := tx.CreateInode(inode.RootInode, "greeting.txt", inode.ModeRegular)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	got, err := tx2.Lookup(inode.RootInode, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, ino, got)

	entries, err := tx2.Readdir(inode.RootInode)
	require.NoError(t, err)
	tx2.Abort()

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "greeting.txt")
}

func TestWriteThenRead(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	ino, err := tx.CreateInode(inode.RootInode, "data.bin", inode.ModeRegular)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ino, 0, []byte("payload bytes")))
	require.NoError(t, tx.Commit())

	got, err := s.Read(ino, 0, len("payload bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), got)
}

func TestStoreVectorThenLoadVector(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	ino, err := tx.CreateInode(inode.RootInode, "owner", inode.ModeRegular)
	require.NoError(t, err)
	vecID, err := tx.StoreVector(ino, vector.Descriptor{ElementType: vector.Float32, Dimension: 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	d, payload, err := s.LoadVector(vecID)
	require.NoError(t, err)
	assert.Equal(t, ino, d.OwnerInode)
	assert.Equal(t, []float32{1, 2, 3}, payload)
}

func TestDeleteVectorRemovesItFromIndex(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	vecID, err := tx.StoreVector(inode.RootInode, vector.Descriptor{ElementType: vector.Float32, Dimension: 2}, []float32{9, 9})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteVector(vecID))
	require.NoError(t, tx2.Commit())

	_, _, err = s.LoadVector(vecID)
	assert.Error(t, err)
}

func TestSearchReturnsNearestVectorsFirst(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	near, err := tx.StoreVector(inode.RootInode, vector.Descriptor{ElementType: vector.Float32, Dimension: 2}, []float32{0, 0})
	require.NoError(t, err)
	_, err = tx.StoreVector(inode.RootInode, vector.Descriptor{ElementType: vector.Float32, Dimension: 2}, []float32{100, 100})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	results, err := s.Search(nil, []float32{1, 1}, 1, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near, results[0].VectorID)
}

func TestSearchFiltersByOwnerInode(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	ownerA, err := tx.CreateInode(inode.RootInode, "a", inode.ModeRegular)
	require.NoError(t, err)
	ownerB, err := tx.CreateInode(inode.RootInode, "b", inode.ModeRegular)
	require.NoError(t, err)
	wanted, err := tx.StoreVector(ownerA, vector.Descriptor{ElementType: vector.Float32, Dimension: 2}, []float32{0, 0})
	require.NoError(t, err)
	_, err = tx.StoreVector(ownerB, vector.Descriptor{ElementType: vector.Float32, Dimension: 2}, []float32{0.1, 0.1})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	results, err := s.Search(&ownerA, []float32{0, 0}, 5, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, wanted, results[0].VectorID)
}

func TestAbortDiscardsCreatedInode(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	_, err = tx.CreateInode(inode.RootInode, "throwaway", inode.ModeRegular)
	require.NoError(t, err)
	tx.Abort()

	tx2, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	gone, err := tx2.Lookup(inode.RootInode, "throwaway")
	require.NoError(t, err)
	assert.Zero(t, gone)
	tx2.Abort()
}

func TestRenameAndUnlink(t *testing.T) {
	s, _ := formatTemp(t)

	tx, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	dstDir, err := tx.CreateInode(inode.RootInode, "dst", inode.ModeDir)
	require.NoError(t, err)
	_, err = tx.CreateInode(inode.RootInode, "file", inode.ModeRegular)
	require.NoError(t, err)
	require.NoError(t, tx.Rename(inode.RootInode, "file", dstDir, "file"))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	old, err := tx2.Lookup(inode.RootInode, "file")
	require.NoError(t, err)
	assert.Zero(t, old)
	got, err := tx2.Lookup(dstDir, "file")
	require.NoError(t, err)

	require.NoError(t, tx2.Unlink(dstDir, "file"))
	require.NoError(t, tx2.Commit())

	tx3, err := s.Begin(txn.ReadCommitted)
	require.NoError(t, err)
	unlinked, err := tx3.Lookup(dstDir, "file")
	require.NoError(t, err)
	assert.Zero(t, unlinked)
	tx3.Abort()
	_ = got
}
