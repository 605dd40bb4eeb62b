package txn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/block"
	"github.com/lspecian/vexfs-sub002/pkg/journal"
)

func newCoordinator(t *testing.T, maxLifetime time.Duration) (*block.Device, *Coordinator) {
	t.Helper()
	dev, err := block.Create(filepath.Join(t.TempDir(), "container.img"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	jrn := journal.Open(dev, 16, 32, time.Millisecond)
	return dev, New(jrn, maxLifetime)
}

func TestBeginCommitWritesThrough(t *testing.T) {
	_, c := newCoordinator(t, time.Minute)
	tx, err := c.Begin(ReadCommitted, 4)
	require.NoError(t, err)
	require.NoError(t, c.Commit(tx))
}

func TestOnCommitHookReceivesDirtyBlocks(t *testing.T) {
	_, c := newCoordinator(t, time.Minute)

	var got []int64
	c.OnCommit(func(dirty []int64) { got = dirty })

	tx, err := c.Begin(ReadCommitted, 4)
	require.NoError(t, err)
	shadow, err := c.jrn.GetWriteAccess(tx.handle, 0)
	require.NoError(t, err)
	copy(shadow, []byte("x"))
	tx.handle.Dirty(0)

	require.NoError(t, c.Commit(tx))
	assert.Equal(t, []int64{0}, got)
}

func TestCommitRejectsExpiredTransaction(t *testing.T) {
	_, c := newCoordinator(t, time.Nanosecond)
	tx, err := c.Begin(ReadCommitted, 4)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	err = c.Commit(tx)
	assert.Error(t, err)
}

func TestAbortDiscardsTransaction(t *testing.T) {
	_, c := newCoordinator(t, time.Minute)
	tx, err := c.Begin(ReadCommitted, 4)
	require.NoError(t, err)
	_, err = c.jrn.GetWriteAccess(tx.handle, 0)
	require.NoError(t, err)

	c.Abort(tx)
	// a second transaction should be able to take the same block immediately.
	tx2, err := c.Begin(ReadCommitted, 4)
	require.NoError(t, err)
	_, err = c.jrn.GetWriteAccess(tx2.handle, 0)
	assert.NoError(t, err)
}

func TestIsolationTagging(t *testing.T) {
	assert.Equal(t, "read-committed", ReadCommitted.tag())
	assert.Equal(t, "repeatable-read", RepeatableRead.tag())
	assert.Equal(t, "serializable", Serializable.tag())
}
