// Package alloc implements the forward block/chunk allocation cursor
// (§4.G): picking the next writable chunk, rolling onto a fresh block when
// the current one fills up, and refusing to open a new block once only the
// reserved number of Empty blocks is left.
package alloc

import (
	"fmt"
	"log/slog"

	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// BlockFinder scans the block table for the next usable Empty block,
// starting its search after lastBlock. Implemented here directly against
// internal/block rather than injected, since the search is pure
// bookkeeping with no flash I/O (§4.G alloc_block_finder).
type BlockFinder func(tbl *block.Table, startBlock, numBlocks uint32) (uint32, bool)

// DefaultBlockFinder performs a circular forward scan for the next Empty
// block after startBlock, matching §4.G's "sequentially scans forward from
// the last allocated block, wrapping to the start".
func DefaultBlockFinder(tbl *block.Table, startBlock, numBlocks uint32) (uint32, bool) {
	for i := uint32(0); i < numBlocks; i++ {
		b := (startBlock + 1 + i) % numBlocks
		if tbl.Info(b).State == block.StateEmpty {
			return b, true
		}
	}
	return 0, false
}

// Cursor is the single forward-writing allocation position: a current
// block and the next free page offset within it.
type Cursor struct {
	log *slog.Logger

	tbl    *block.Table
	dev    *nand.Device
	finder BlockFinder

	reservedBlocks uint32

	curBlock  uint32
	curPage   uint32
	haveBlock bool
}

// NewCursor creates an allocation cursor over tbl/dev, holding
// reservedBlocks worth of empty blocks in reserve (§4.G reserve invariant,
// §8.8). No caller is exempt from the reserve: chunks that garbage
// collection relocates go through the same AllocChunk check.
func NewCursor(tbl *block.Table, dev *nand.Device, reservedBlocks uint32, logger *slog.Logger) *Cursor {
	return &Cursor{
		log:            logging.Scoped(logger, "alloc"),
		tbl:            tbl,
		dev:            dev,
		finder:         DefaultBlockFinder,
		reservedBlocks: reservedBlocks,
	}
}

// countEmpty returns how many blocks are currently Empty.
func (c *Cursor) countEmpty() uint32 {
	var n uint32
	for b := uint32(0); b < c.tbl.NumBlocks(); b++ {
		if c.tbl.Info(b).State == block.StateEmpty {
			n++
		}
	}
	return n
}

// CheckAllocAvailable reports whether at least n chunks' worth of space can
// be allocated without dipping into the reserve (§8.8): the chunks left in
// the current block plus every Empty block beyond the reserved count.
func (c *Cursor) CheckAllocAvailable(n uint32) bool {
	chunksPerBlock := c.dev.Geometry.ChunksPerBlock
	empty := c.countEmpty()

	remainingInCurrent := uint32(0)
	if c.haveBlock && c.curPage < chunksPerBlock {
		remainingInCurrent = chunksPerBlock - c.curPage
	}
	if empty <= c.reservedBlocks {
		return remainingInCurrent >= n
	}
	usableBlocks := empty - c.reservedBlocks
	capacity := remainingInCurrent + usableBlocks*chunksPerBlock
	return capacity >= n
}

// allocNewBlock finds the next Empty block, transitions it to Allocating,
// and assigns it a fresh sequence number.
func (c *Cursor) allocNewBlock() error {
	b, ok := c.finder(c.tbl, c.curBlock, c.tbl.NumBlocks())
	if !ok {
		return fmt.Errorf("alloc: %w", yerrors.ErrNoSpace)
	}
	info := c.tbl.Info(b)
	info.State = block.StateAllocating
	info.SeqNumber = c.tbl.NextSeqNumber()
	info.PagesInUse = 0
	info.SoftDelPages = 0
	c.curBlock = b
	c.curPage = 0
	c.haveBlock = true
	c.log.Debug("allocated new block", "block", b, "seq", info.SeqNumber)
	return nil
}

// AllocChunk reserves the next writable chunk number, rolling onto a new
// block first if the current one is full or none is allocated yet. It does
// not itself perform the NAND write; the caller (internal/fs) writes the
// payload and tags, then the caller is responsible for calling
// block.Table.MarkLive on success.
func (c *Cursor) AllocChunk() (chunkNum uint32, seqNumber uint32, err error) {
	chunksPerBlock := c.dev.Geometry.ChunksPerBlock

	if !c.haveBlock || c.curPage >= chunksPerBlock {
		if c.haveBlock {
			c.tbl.Info(c.curBlock).State = block.StateFull
		}
		if !c.CheckAllocAvailable(1) {
			return 0, 0, fmt.Errorf("alloc: %w", yerrors.ErrNoSpace)
		}
		if err := c.allocNewBlock(); err != nil {
			return 0, 0, err
		}
	}

	chunk := c.dev.ChunkOf(c.curBlock, c.curPage)
	seq := c.tbl.Info(c.curBlock).SeqNumber
	c.curPage++
	return chunk, seq, nil
}

// CurrentBlock reports the block currently being written to, and whether
// any block has been allocated yet.
func (c *Cursor) CurrentBlock() (uint32, bool) { return c.curBlock, c.haveBlock }
