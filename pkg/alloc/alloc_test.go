package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(blocks, inodes int64) *Allocator {
	return New(NewBitmap(blocks), NewBitmap(inodes))
}

func TestAllocBlocksFirstFit(t *testing.T) {
	a := newAllocator(16, 4)
	got, err := a.AllocBlocks(3, 0, FirstFit)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, got)
	assert.Equal(t, int64(13), a.FreeBlockCount())
}

func TestAllocBlocksExhaustion(t *testing.T) {
	a := newAllocator(4, 4)
	_, err := a.AllocBlocks(4, 0, FirstFit)
	require.NoError(t, err)

	_, err = a.AllocBlocks(1, 0, FirstFit)
	assert.Error(t, err)
}

func TestFreeBlocksIsIdempotent(t *testing.T) {
	a := newAllocator(8, 4)
	picked, err := a.AllocBlocks(2, 0, FirstFit)
	require.NoError(t, err)

	a.FreeBlocks(picked)
	assert.Equal(t, int64(8), a.FreeBlockCount())

	a.FreeBlocks(picked) // freeing again must not double-count
	assert.Equal(t, int64(8), a.FreeBlockCount())
}

func TestAllocInodeSequential(t *testing.T) {
	a := newAllocator(8, 8)
	for i := int64(0); i < 8; i++ {
		got, err := a.AllocInode()
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	_, err := a.AllocInode()
	assert.Error(t, err)
}

func TestFreeInodeAllowsReuse(t *testing.T) {
	a := newAllocator(8, 2)
	ino, err := a.AllocInode()
	require.NoError(t, err)
	a.FreeInode(ino)
	assert.Equal(t, int64(2), a.FreeInodeCount())

	_, err = a.AllocInode()
	require.NoError(t, err)
}

func TestBestFitPrefersTightestRun(t *testing.T) {
	a := newAllocator(16, 4)
	// carve out a 2-block hole at [4,5] and an 8-block run at [8,15].
	_, err := a.AllocBlocks(4, 0, FirstFit) // 0-3 allocated
	require.NoError(t, err)
	_, err = a.AllocBlocks(2, 6, Locality) // 6-7 allocated, leaving 4-5 free
	require.NoError(t, err)

	got, err := a.AllocBlocks(2, 0, BestFit)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, got)
}

func TestReconcileRepairsStaleCounters(t *testing.T) {
	blocks := NewBitmap(8)
	inodes := NewBitmap(4)
	a := New(blocks, inodes)
	_, err := a.AllocBlocks(3, 0, FirstFit)
	require.NoError(t, err)

	// simulate a crash between a bitmap write and a counter update by
	// rebuilding the allocator from raw bytes with a deliberately wrong cache.
	rebuilt := New(LoadBitmap(blocks.Bytes(), 8), LoadBitmap(inodes.Bytes(), 4))
	rebuilt.freeBlocks = 999 // force a mismatch

	blockRepair, inodeRepair := rebuilt.Reconcile()
	assert.Equal(t, 1, blockRepair)
	assert.Equal(t, 0, inodeRepair)
	assert.Equal(t, int64(5), rebuilt.FreeBlockCount())
}

func TestBitmapBytesRoundTrip(t *testing.T) {
	bm := NewBitmap(100)
	bm.set(5, true)
	bm.set(99, true)

	loaded := LoadBitmap(bm.Bytes(), 100)
	assert.True(t, loaded.get(5))
	assert.True(t, loaded.get(99))
	assert.False(t, loaded.get(6))
}

func TestPopcountFreeHandlesPartialLastWord(t *testing.T) {
	bm := NewBitmap(5)
	bm.set(0, true)
	bm.set(1, true)
	assert.Equal(t, int64(3), bm.PopcountFree())
}
