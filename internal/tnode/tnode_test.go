package tnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFindSimple(t *testing.T) {
	tr := NewTree(DefaultConfig())
	require.NoError(t, tr.AddFind(0, 100))
	require.NoError(t, tr.AddFind(1, 101))
	require.NoError(t, tr.AddFind(20, 120))

	v, ok := tr.Find(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(100), v)

	v, ok = tr.Find(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(101), v)

	v, ok = tr.Find(20)
	assert.True(t, ok)
	assert.Equal(t, uint32(120), v)

	_, ok = tr.Find(5)
	assert.False(t, ok)
}

func TestTreeGrowsDepthAsNeeded(t *testing.T) {
	tr := NewTree(DefaultConfig())
	bigID := uint32(1) << 20
	require.NoError(t, tr.AddFind(bigID, 555))
	v, ok := tr.Find(bigID)
	assert.True(t, ok)
	assert.Equal(t, uint32(555), v)
	assert.True(t, tr.topLevel > 0)
}

func TestRejectsOutOfRangeChunkID(t *testing.T) {
	tr := NewTree(DefaultConfig())
	err := tr.AddFind(MaxChunkID+1, 1)
	assert.Error(t, err)
}

func TestWalkVisitsAllPopulatedSlotsInOrder(t *testing.T) {
	tr := NewTree(DefaultConfig())
	ids := []uint32{0, 3, 16, 17, 300, 1 << 15}
	for _, id := range ids {
		require.NoError(t, tr.AddFind(id, id+1000))
	}

	var seen []uint32
	tr.Walk(func(chunkID, phys uint32) {
		seen = append(seen, chunkID)
		assert.Equal(t, chunkID+1000, phys)
	})

	assert.Len(t, seen, len(ids))
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
}

func TestPrunePreservesLiveData(t *testing.T) {
	tr := NewTree(DefaultConfig())
	require.NoError(t, tr.AddFind(5, 55))
	tr.Prune()
	v, ok := tr.Find(5)
	assert.True(t, ok)
	assert.Equal(t, uint32(55), v)
}

func TestNarrowModeWithoutScannerReturnsGroupBase(t *testing.T) {
	cfg := Config{Wide: false, TnodeWidth: 8, ChunkGrpBits: 4, ChunkGrpSize: 16}
	tr := NewTree(cfg)
	require.NoError(t, tr.AddFind(0, 0x1F3))
	v, ok := tr.Find(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x1F0), v)
}

func TestNarrowModeResolvesViaGroupScanner(t *testing.T) {
	cfg := Config{Wide: false, TnodeWidth: 20, ChunkGrpBits: 4, ChunkGrpSize: 16}
	tr := NewTree(cfg)
	const objID = 42
	tr.SetGroupScanner(objID, func(gotObjID, gotChunkID, groupBase, groupSize uint32) (uint32, bool) {
		assert.Equal(t, uint32(objID), gotObjID)
		assert.Equal(t, uint32(7), gotChunkID)
		for i := uint32(0); i < groupSize; i++ {
			if groupBase+i == 0x1FF3 {
				return groupBase + i, true
			}
		}
		return 0, false
	})
	require.NoError(t, tr.AddFind(7, 0x1FF3))
	v, ok := tr.Find(7)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x1FF3), v)
}

func TestConfigForGeometrySizesToBlockCount(t *testing.T) {
	cfg := ConfigForGeometry(false, 64, 1000)
	assert.False(t, cfg.Wide)
	assert.Equal(t, uint32(6), cfg.ChunkGrpBits)
	assert.Equal(t, uint32(64), cfg.ChunkGrpSize)
	assert.GreaterOrEqual(t, uint32(1)<<cfg.TnodeWidth, uint32(1000))
}

func TestConfigForGeometryWideIsUnconditional(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigForGeometry(true, 64, 1000))
}
