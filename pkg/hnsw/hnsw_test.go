package hnsw

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspecian/vexfs-sub002/pkg/alloc"
	"github.com/lspecian/vexfs-sub002/pkg/block"
	"github.com/lspecian/vexfs-sub002/pkg/distance"
	"github.com/lspecian/vexfs-sub002/pkg/inode"
	"github.com/lspecian/vexfs-sub002/pkg/journal"
	"github.com/lspecian/vexfs-sub002/pkg/vector"
)

func floatsToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(f))
	}
	return out
}

type fixture struct {
	jrn     *journal.Journal
	vectors *vector.Store
	graph   *Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dev, err := block.Create(filepath.Join(t.TempDir(), "container.img"), 1024)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	jrn := journal.Open(dev, 64, 128, time.Millisecond)
	table := inode.NewTable(dev, jrn, 4)
	al := alloc.New(alloc.NewBitmap(1024), alloc.NewBitmap(64))
	_, err = al.AllocBlocks(192, 0, alloc.FirstFit)
	require.NoError(t, err)
	mapper := inode.NewBlockMapper(dev, jrn, al)

	h, err := jrn.Begin(16, "bootstrap")
	require.NoError(t, err)
	require.NoError(t, table.Write(h, inode.VectorAreaInode, &inode.Inode{Mode: inode.ModeRegular}))
	require.NoError(t, table.Write(h, inode.VectorIndexInode, &inode.Inode{Mode: inode.ModeRegular}))
	require.NoError(t, table.Write(h, inode.HNSWAreaInode, &inode.Inode{Mode: inode.ModeRegular}))
	require.NoError(t, table.Write(h, inode.HNSWIndexInode, &inode.Inode{Mode: inode.ModeRegular}))
	require.NoError(t, jrn.Commit(h))

	vecPayload := inode.NewStream(inode.VectorAreaInode, table, mapper, al)
	vecIndex := inode.NewStream(inode.VectorIndexInode, table, mapper, al)
	vectors, err := vector.Open(vecPayload, vecIndex)
	require.NoError(t, err)

	nodeStream := inode.NewStream(inode.HNSWAreaInode, table, mapper, al)
	idxStream := inode.NewStream(inode.HNSWIndexInode, table, mapper, al)
	metric, err := distance.Get(distance.L2)
	require.NoError(t, err)
	graph, err := Open(cfg, metric, nodeStream, idxStream, vectors)
	require.NoError(t, err)

	f := &fixture{jrn: jrn, vectors: vectors, graph: graph}
	return f
}

func (f *fixture) commit(t *testing.T, fn func(h *journal.Handle) error) {
	t.Helper()
	h, err := f.jrn.Begin(16, "test")
	require.NoError(t, err)
	require.NoError(t, fn(h))
	require.NoError(t, f.jrn.Commit(h))
}

func (f *fixture) insertVector(t *testing.T, v []float32) uint64 {
	t.Helper()
	var id uint64
	f.commit(t, func(h *journal.Handle) error {
		var err error
		id, err = f.vectors.StoreVector(h, vector.Descriptor{ElementType: vector.Float32, Dimension: uint32(len(v))}, floatsToBytes(v), nil)
		if err != nil {
			return err
		}
		return f.graph.Insert(h, id, v)
	})
	return id
}

func defaultConfig() Config {
	return Config{M: 4, EfConstruction: 16, DefaultEfSearch: 16, MaxLevel: 8, Seed: 42}
}

func TestInsertFirstNodeBecomesEntryPoint(t *testing.T) {
	f := newFixture(t, defaultConfig())
	id := f.insertVector(t, []float32{1, 2, 3})
	assert.Equal(t, 1, f.graph.NodeCount())
	assert.Equal(t, uint64(1), f.graph.Stats().NodesInserted)
	_ = id
}

func TestSearchReturnsClosestFirst(t *testing.T) {
	f := newFixture(t, defaultConfig())
	idNear := f.insertVector(t, []float32{0, 0})
	idFar := f.insertVector(t, []float32{100, 100})

	results, err := f.graph.Search([]float32{1, 1}, 2, 16)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, idNear, results[0].VectorID)
	assert.Equal(t, idFar, results[1].VectorID)
}

func TestSearchRespectsK(t *testing.T) {
	f := newFixture(t, defaultConfig())
	for i := 0; i < 10; i++ {
		f.insertVector(t, []float32{float32(i), float32(i)})
	}

	results, err := f.graph.Search([]float32{0, 0}, 3, 16)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestDeleteTombstonesNode(t *testing.T) {
	f := newFixture(t, defaultConfig())
	id := f.insertVector(t, []float32{5, 5})

	f.commit(t, func(h *journal.Handle) error {
		return f.graph.Delete(h, id)
	})

	assert.Equal(t, 0, f.graph.NodeCount())
}

func TestValidatePassesOnHealthyGraph(t *testing.T) {
	f := newFixture(t, defaultConfig())
	for i := 0; i < 5; i++ {
		f.insertVector(t, []float32{float32(i), float32(i * 2)})
	}

	report := f.graph.Validate()
	assert.True(t, report.OK())
}

func TestSearchOnEmptyGraphReturnsNil(t *testing.T) {
	f := newFixture(t, defaultConfig())
	results, err := f.graph.Search([]float32{1, 1}, 5, 16)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestNeedsRebuildForcesLinearScan(t *testing.T) {
	f := newFixture(t, defaultConfig())
	idNear := f.insertVector(t, []float32{0, 0})
	f.insertVector(t, []float32{50, 50})

	f.graph.SetNeedsRebuild(true)
	results, err := f.graph.Search([]float32{1, 1}, 1, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, idNear, results[0].VectorID)
}
