package gc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/nand/filedriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunksPerBlock = 4

func newTestDevice(t *testing.T, numBlocks uint32) *nand.Device {
	t.Helper()
	drv, err := filedriver.New(filepath.Join(t.TempDir(), "nand.img"), 2048, 64, testChunksPerBlock, numBlocks)
	require.NoError(t, err)
	dev, err := nand.NewDevice(drv, nand.Geometry{
		TotalBytesPerChunk: 2048,
		ChunksPerBlock:     testChunksPerBlock,
		SpareBytesPerChunk: 64,
		StartBlock:         0,
		EndBlock:           numBlocks - 1,
		NReservedBlocks:    1,
		InstanceID:         uuid.New(),
	})
	require.NoError(t, err)
	return dev
}

func fillBlock(tbl *block.Table, b uint32, seq uint32, state block.State, pagesLive int) {
	info := tbl.Info(b)
	info.State = state
	info.SeqNumber = seq
	start := b * testChunksPerBlock
	for i := 0; i < pagesLive; i++ {
		tbl.MarkLive(start + uint32(i))
	}
}

func TestSelectVictimPrefersForcedOverEverything(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 100, block.StateDirty, 0)
	fillBlock(tbl, 1, 200, block.StateFull, 1)
	tbl.Info(1).GCPrioritise = true

	c := NewCollector(tbl, dev, 2, 0, nil)
	b, policy, ok := c.SelectVictim()
	require.True(t, ok)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, PolicyForced, policy)
}

func TestSelectVictimOldestDirtyBeforePassive(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 50, block.StateDirty, 0)
	fillBlock(tbl, 1, 10, block.StateDirty, 0)
	fillBlock(tbl, 2, 5, block.StateFull, 1)

	c := NewCollector(tbl, dev, 2, 0, nil)
	b, policy, ok := c.SelectVictim()
	require.True(t, ok)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, PolicyOldestDirty, policy)
}

func TestSelectVictimPassivePicksFewestLivePages(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateFull, 2)
	fillBlock(tbl, 1, 20, block.StateFull, 1)

	c := NewCollector(tbl, dev, 2, 0, nil)
	b, policy, ok := c.SelectVictim()
	require.True(t, ok)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, PolicyPassive, policy)
}

func TestSelectVictimRefreshAfterSkipCount(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateFull, testChunksPerBlock)
	fillBlock(tbl, 1, 20, block.StateFull, testChunksPerBlock)

	c := NewCollector(tbl, dev, 0, 3, nil)
	_, _, ok := c.SelectVictim()
	assert.False(t, ok)

	c.NoteWrite()
	c.NoteWrite()
	c.NoteWrite()
	b, policy, ok := c.SelectVictim()
	require.True(t, ok)
	assert.Equal(t, uint32(0), b)
	assert.Equal(t, PolicyRefresh, policy)
}

func TestCollectRewritesOnlyLiveChunksAndSkipsDeleted(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateFull, 2)

	var visited []uint32
	c := NewCollector(tbl, dev, 2, 0, nil)
	err := c.Collect(0, func(chunk uint32) (bool, error) {
		visited = append(visited, chunk)
		return false, nil
	})
	require.NoError(t, err)
	assert.Len(t, visited, 2)
	assert.Equal(t, block.StateDirty, tbl.Info(0).State)
	assert.Equal(t, uint16(0), tbl.Info(0).PagesInUse)
}

func TestEraseDoneResetsBlockOnSuccess(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateDirty, 0)
	tbl.Info(0).ChunkErrorStrikes = 2

	c := NewCollector(tbl, dev, 2, 0, nil)
	require.NoError(t, c.EraseDone(0, nand.ResultOK))
	assert.Equal(t, block.StateEmpty, tbl.Info(0).State)
	assert.Equal(t, uint8(0), tbl.Info(0).ChunkErrorStrikes)
}

func TestEraseDoneRetiresBlockAfterThreeStrikes(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateDirty, 0)

	c := NewCollector(tbl, dev, 2, 0, nil)
	require.Error(t, c.EraseDone(0, nand.ResultFail))
	require.Error(t, c.EraseDone(0, nand.ResultFail))
	require.Error(t, c.EraseDone(0, nand.ResultFail))
	assert.Equal(t, block.StateDead, tbl.Info(0).State)
	assert.True(t, tbl.Info(0).NeedsRetiring)
}

func TestRunDefersAtUrgencyZeroUnlessForced(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	fillBlock(tbl, 0, 10, block.StateFull, 1)

	c := NewCollector(tbl, dev, 2, 0, nil)
	called := false
	err := c.Run(context.Background(), 0, func(uint32) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, called)

	err = c.Run(context.Background(), 3, func(uint32) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDeletionQueueEnqueueAndDrain(t *testing.T) {
	q := NewDeletionQueue(2)
	require.NoError(t, q.Enqueue(7))
	require.NoError(t, q.Enqueue(8))
	require.Error(t, q.Enqueue(9))

	id, ok := q.DrainOne()
	require.True(t, ok)
	assert.Equal(t, uint32(7), id)
	assert.EqualValues(t, 1, q.Drained())

	_, ok = q.DrainOne()
	require.True(t, ok)
	_, ok = q.DrainOne()
	assert.False(t, ok)
}
