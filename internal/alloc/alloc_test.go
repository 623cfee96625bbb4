package alloc

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/nand/filedriver"
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

func TestAllocChunkFillsBlockThenRolls(t *testing.T) {
	dev := newTestDevice(t, 4)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	cur := NewCursor(tbl, dev, 1, nil)

	var chunks []uint32
	for i := 0; i < testChunksPerBlock+1; i++ {
		c, _, err := cur.AllocChunk()
		require.NoError(t, err)
		chunks = append(chunks, c)
		tbl.MarkLive(c)
	}

	firstBlock := dev.BlockOf(chunks[0])
	for _, c := range chunks[:testChunksPerBlock] {
		require.Equal(t, firstBlock, dev.BlockOf(c))
	}
	require.NotEqual(t, firstBlock, dev.BlockOf(chunks[testChunksPerBlock]))
}

func TestAllocChunkAssignsIncreasingSeqPerBlock(t *testing.T) {
	dev := newTestDevice(t, 4)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	cur := NewCursor(tbl, dev, 1, nil)

	_, seq1, err := cur.AllocChunk()
	require.NoError(t, err)
	for i := 0; i < testChunksPerBlock; i++ {
		_, _, err := cur.AllocChunk()
		require.NoError(t, err)
	}
	_, seq2, err := cur.AllocChunk()
	require.NoError(t, err)
	require.Greater(t, seq2, seq1)
}

func TestAllocRespectsReservedBlocks(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	cur := NewCursor(tbl, dev, 1, nil)

	for i := 0; i < testChunksPerBlock; i++ {
		_, _, err := cur.AllocChunk()
		require.NoError(t, err)
	}

	_, _, err := cur.AllocChunk()
	require.Error(t, err)
}

func TestCheckAllocAvailableReflectsReserve(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	cur := NewCursor(tbl, dev, 1, nil)

	require.True(t, cur.CheckAllocAvailable(testChunksPerBlock))
	require.False(t, cur.CheckAllocAvailable(testChunksPerBlock+1))
}
