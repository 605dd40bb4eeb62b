package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/journal"
)

func TestStreamWriteAtThenReadAt(t *testing.T) {
	f := newFixture(t)
	f.commit(t, func(h *journal.Handle) error {
		return f.table.Write(h, VectorAreaInode, &Inode{Mode: ModeRegular})
	})
	stream := NewStream(VectorAreaInode, f.table, f.mapper, f.al)

	payload := []byte("vector payload bytes")
	f.commit(t, func(h *journal.Handle) error {
		return stream.WriteAt(h, 0, payload)
	})

	got := make([]byte, len(payload))
	require.NoError(t, stream.ReadAt(0, got))
	assert.Equal(t, payload, got)
}

func TestStreamReadAtReturnsZerosForHoles(t *testing.T) {
	f := newFixture(t)
	f.commit(t, func(h *journal.Handle) error {
		return f.table.Write(h, VectorAreaInode, &Inode{Mode: ModeRegular})
	})
	stream := NewStream(VectorAreaInode, f.table, f.mapper, f.al)

	f.commit(t, func(h *journal.Handle) error {
		return stream.WriteAt(h, 0, []byte("abc"))
	})

	got := make([]byte, 3)
	require.NoError(t, stream.ReadAt(10000, got))
	assert.Equal(t, []byte{0, 0, 0}, got)
}

func TestStreamSizeGrowsWithWrite(t *testing.T) {
	f := newFixture(t)
	f.commit(t, func(h *journal.Handle) error {
		return f.table.Write(h, VectorAreaInode, &Inode{Mode: ModeRegular})
	})
	stream := NewStream(VectorAreaInode, f.table, f.mapper, f.al)

	f.commit(t, func(h *journal.Handle) error {
		return stream.WriteAt(h, 100, []byte("tail"))
	})

	size, err := stream.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(104), size)
}

func TestStreamWriteSpanningMultipleBlocks(t *testing.T) {
	f := newFixture(t)
	f.commit(t, func(h *journal.Handle) error {
		return f.table.Write(h, VectorAreaInode, &Inode{Mode: ModeRegular})
	})
	stream := NewStream(VectorAreaInode, f.table, f.mapper, f.al)

	payload := make([]byte, usablePerBlock*2+50)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	f.commit(t, func(h *journal.Handle) error {
		return stream.WriteAt(h, 0, payload)
	})

	got := make([]byte, len(payload))
	require.NoError(t, stream.ReadAt(0, got))
	assert.Equal(t, payload, got)
}
