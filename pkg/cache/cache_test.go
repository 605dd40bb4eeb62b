package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCachePutGet(t *testing.T) {
	c, err := NewBlockCache(4)
	require.NoError(t, err)

	c.Put(1, []byte("hello"))
	data, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestBlockCacheGenerationBumpInvalidatesStaleEntries(t *testing.T) {
	c, err := NewBlockCache(4)
	require.NoError(t, err)

	c.Put(1, []byte("old"))
	c.Bump()

	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestBlockCacheInvalidateDropsEntry(t *testing.T) {
	c, err := NewBlockCache(4)
	require.NoError(t, err)

	c.Put(1, []byte("x"))
	c.Invalidate(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestMetadataCacheMultiplexesByKind(t *testing.T) {
	c, err := NewMetadataCache(4)
	require.NoError(t, err)

	c.Put(KindInode, 1, "inode-record")
	c.Put(KindVector, 1, "vector-record")

	v1, ok := c.Get(KindInode, 1)
	require.True(t, ok)
	assert.Equal(t, "inode-record", v1)

	v2, ok := c.Get(KindVector, 1)
	require.True(t, ok)
	assert.Equal(t, "vector-record", v2)
}

func TestPairInvalidateAllBumpsBoth(t *testing.T) {
	p, err := New(1, 1)
	require.NoError(t, err)

	p.Blocks.Put(1, []byte("x"))
	p.Metadata.Put(KindInode, 1, "y")

	p.InvalidateAll()

	_, ok1 := p.Blocks.Get(1)
	_, ok2 := p.Metadata.Get(KindInode, 1)
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestStatsReportsOccupancy(t *testing.T) {
	p, err := New(1, 1)
	require.NoError(t, err)
	p.Blocks.Put(1, []byte("x"))
	p.Metadata.Put(KindInode, 1, "y")

	stats := p.Stats()
	assert.Equal(t, 1, stats.BlockEntries)
	assert.Equal(t, 1, stats.MetadataEntries)
}
