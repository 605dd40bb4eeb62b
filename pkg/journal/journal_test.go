package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/block"
)

func newTestJournal(t *testing.T, journalBlocks int64) (*block.Device, *Journal) {
	t.Helper()
	dev, err := block.Create(filepath.Join(t.TempDir(), "container.img"), 4+journalBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, Open(dev, 4, journalBlocks, time.Millisecond)
}

func TestCommitWritesBackToHomeBlock(t *testing.T) {
	dev, jrn := newTestJournal(t, 32)

	h, err := jrn.Begin(4, "test")
	require.NoError(t, err)
	shadow, err := jrn.GetWriteAccess(h, 0)
	require.NoError(t, err)
	copy(shadow, []byte("hello"))
	h.Dirty(0)

	require.NoError(t, jrn.Commit(h))

	got, err := dev.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, byte('h'), got[0])
}

func TestGetWriteAccessConflictsAcrossTransactions(t *testing.T) {
	_, jrn := newTestJournal(t, 32)

	h1, err := jrn.Begin(4, "first")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h1, 5)
	require.NoError(t, err)

	h2, err := jrn.Begin(4, "second")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h2, 5)
	assert.Error(t, err)
}

func TestAbortDiscardsShadowsAndReleasesLocks(t *testing.T) {
	_, jrn := newTestJournal(t, 32)

	h1, err := jrn.Begin(4, "first")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h1, 5)
	require.NoError(t, err)
	jrn.Abort(h1)

	h2, err := jrn.Begin(4, "second")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h2, 5) // should succeed now that h1 released it
	assert.NoError(t, err)
}

func TestBeginRejectsOversizedTransaction(t *testing.T) {
	_, jrn := newTestJournal(t, 8)
	_, err := jrn.Begin(100, "too-big")
	assert.Error(t, err)
}

func TestScanFindsCommittedRecords(t *testing.T) {
	_, jrn := newTestJournal(t, 32)

	h, err := jrn.Begin(4, "test")
	require.NoError(t, err)
	shadow, err := jrn.GetWriteAccess(h, 1)
	require.NoError(t, err)
	copy(shadow, []byte("data"))
	h.Dirty(1)
	require.NoError(t, jrn.Commit(h))

	records, err := jrn.Scan(0)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	var sawCommit bool
	for _, r := range records {
		if r.Type == RecordCommit {
			sawCommit = true
		}
	}
	assert.True(t, sawCommit)
}

func TestCheckpointAdvancesTail(t *testing.T) {
	_, jrn := newTestJournal(t, 32)

	h, err := jrn.Begin(4, "test")
	require.NoError(t, err)
	shadow, err := jrn.GetWriteAccess(h, 2)
	require.NoError(t, err)
	copy(shadow, []byte("x"))
	h.Dirty(2)
	require.NoError(t, jrn.Commit(h))

	tail, head, err := jrn.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, head, tail)
	assert.Equal(t, jrn.Tail(), tail)
}

func TestDirtyBlocksReflectsWhatWasWritten(t *testing.T) {
	_, jrn := newTestJournal(t, 32)

	h, err := jrn.Begin(4, "test")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h, 3)
	require.NoError(t, err)
	h.Dirty(3)
	require.NoError(t, jrn.Commit(h))

	assert.Equal(t, []int64{3}, h.DirtyBlocks())
}

func TestOccupancyReflectsHeadMinusTail(t *testing.T) {
	_, jrn := newTestJournal(t, 32)
	assert.Equal(t, float64(0), jrn.Occupancy())

	h, err := jrn.Begin(4, "test")
	require.NoError(t, err)
	_, err = jrn.GetWriteAccess(h, 0)
	require.NoError(t, err)
	h.Dirty(0)
	require.NoError(t, jrn.Commit(h))

	assert.Greater(t, jrn.Occupancy(), float64(0))
}
