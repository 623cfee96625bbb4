// Package gc implements the garbage collector (§4.H): victim block
// selection across four priority policies, copy-forward collection of
// still-live chunks, soft-delete reaping, and strike-based block
// retirement.
package gc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/nand"
	"golang.org/x/sync/errgroup"
)

// Policy names the victim-selection strategy that chose a block, in the
// priority order §4.H specifies.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyForced
	PolicyOldestDirty
	PolicyPassive
	PolicyRefresh
)

func (p Policy) String() string {
	switch p {
	case PolicyForced:
		return "forced"
	case PolicyOldestDirty:
		return "oldest-dirty"
	case PolicyPassive:
		return "passive"
	case PolicyRefresh:
		return "refresh"
	default:
		return "none"
	}
}

const maxChunkErrorStrikes = 3

// ChunkVisitor is invoked once per physically-ordered chunk in the victim
// block. It must report whether the chunk is still live and, if so,
// rewrite it through the normal allocator/write path (updating the owning
// object's tnode slot or header pointer as a side effect) before
// returning. The GC loop itself never touches the tnode tree or the
// allocator directly; internal/fs supplies this, since only it has the
// full object graph and write path in scope.
type ChunkVisitor func(chunk uint32) (live bool, err error)

// Collector drives victim selection and the collection loop over a
// device's block table.
type Collector struct {
	log *slog.Logger

	tbl                *block.Table
	dev                *nand.Device
	passiveThreshold   uint16
	refreshPeriod      uint32
	writesSinceRefresh uint32

	disabled bool
}

// NewCollector creates a collector over tbl/dev. passiveThreshold is the
// `gc_pages_in_use` cutoff at or below which a dirty block is eligible for the
// Passive policy; refreshPeriod is the `refresh_period` write count that
// triggers the Refresh policy.
func NewCollector(tbl *block.Table, dev *nand.Device, passiveThreshold uint16, refreshPeriod uint32, logger *slog.Logger) *Collector {
	return &Collector{
		log:              logging.Scoped(logger, "gc"),
		tbl:              tbl,
		dev:              dev,
		passiveThreshold: passiveThreshold,
		refreshPeriod:    refreshPeriod,
	}
}

// NoteWrite advances the refresh skip-counter, called once per chunk
// written through the normal path (§4.H: "every refresh_period writes a
// skip-counter triggers").
func (c *Collector) NoteWrite() { c.writesSinceRefresh++ }

// Disable guards against re-entrant collection (`gc_disable`).
func (c *Collector) Disable()  { c.disabled = true }
func (c *Collector) Enable()   { c.disabled = false }
func (c *Collector) Disabled() bool { return c.disabled }

// SelectVictim picks the next block to collect using the four policies in
// priority order, returning ok=false if nothing currently needs collecting.
func (c *Collector) SelectVictim() (blockNum uint32, policy Policy, ok bool) {
	if b, found := c.selectForced(); found {
		return b, PolicyForced, true
	}
	if b, found := c.selectOldestDirty(); found {
		return b, PolicyOldestDirty, true
	}
	if b, found := c.selectPassive(); found {
		return b, PolicyPassive, true
	}
	if c.refreshPeriod > 0 && c.writesSinceRefresh >= c.refreshPeriod {
		if b, found := c.selectRefresh(); found {
			c.writesSinceRefresh = 0
			return b, PolicyRefresh, true
		}
	}
	return 0, PolicyNone, false
}

func (c *Collector) selectForced() (uint32, bool) {
	for b := uint32(0); b < c.tbl.NumBlocks(); b++ {
		info := c.tbl.Info(b)
		if info.GCPrioritise && (info.State == block.StateFull || info.State == block.StateDirty) {
			return b, true
		}
	}
	return 0, false
}

// selectOldestDirty picks the Dirty block with the lowest sequence number,
// the block whose collection frees the oldest still-referenced sequence
// range and so enables checkpoint compaction.
func (c *Collector) selectOldestDirty() (uint32, bool) {
	var best uint32
	var bestSeq uint32
	found := false
	for b := uint32(0); b < c.tbl.NumBlocks(); b++ {
		info := c.tbl.Info(b)
		if info.State != block.StateDirty {
			continue
		}
		if !found || info.SeqNumber < bestSeq {
			best, bestSeq, found = b, info.SeqNumber, true
		}
	}
	return best, found
}

// selectPassive picks the Full block with the fewest live pages, provided
// it is at or below passiveThreshold.
func (c *Collector) selectPassive() (uint32, bool) {
	var best uint32
	var bestPages uint16
	found := false
	for b := uint32(0); b < c.tbl.NumBlocks(); b++ {
		info := c.tbl.Info(b)
		if info.State != block.StateFull {
			continue
		}
		if info.PagesInUse > c.passiveThreshold {
			continue
		}
		if !found || info.PagesInUse < bestPages {
			best, bestPages, found = b, info.PagesInUse, true
		}
	}
	return best, found
}

// selectRefresh picks the Full block with the lowest sequence number,
// regardless of how many live pages it holds.
func (c *Collector) selectRefresh() (uint32, bool) {
	var best uint32
	var bestSeq uint32
	found := false
	for b := uint32(0); b < c.tbl.NumBlocks(); b++ {
		info := c.tbl.Info(b)
		if info.State != block.StateFull {
			continue
		}
		if !found || info.SeqNumber < bestSeq {
			best, bestSeq, found = b, info.SeqNumber, true
		}
	}
	return best, found
}

// Collect drains a victim block: for every chunk in physical order it asks
// visit whether the chunk is still reachable, relying on visit to rewrite
// live chunks through the normal write path. After the last chunk, the
// block is marked Dirty (if anything was rewritten away from it, its
// pages_in_use will already have reached 0 via the caller's bookkeeping)
// and the caller is expected to erase it; EraseDone reports the outcome.
func (c *Collector) Collect(blockNum uint32, visit ChunkVisitor) error {
	info := c.tbl.Info(blockNum)
	info.State = block.StateCollecting

	start := blockNum * c.dev.Geometry.ChunksPerBlock
	end := start + c.dev.Geometry.ChunksPerBlock
	for chunk := start; chunk < end; chunk++ {
		if !c.tbl.IsLive(chunk) {
			continue
		}
		live, err := visit(chunk)
		if err != nil {
			return fmt.Errorf("gc: collecting block %d chunk %d: %w", blockNum, chunk, err)
		}
		if !live {
			c.tbl.MarkDeleted(chunk)
		}
	}
	if info.PagesInUse == 0 {
		info.State = block.StateDirty
	}
	return nil
}

// EraseDone records the outcome of erasing a collected block: on success it
// resets the block to Empty; on failure it increments the strike counter
// and retires the block to Dead (and marks it bad) once the counter
// reaches maxChunkErrorStrikes (§4.H: "after three strikes").
func (c *Collector) EraseDone(blockNum uint32, result nand.Result) error {
	info := c.tbl.Info(blockNum)
	if result == nand.ResultOK {
		c.tbl.Reset(blockNum)
		info.ChunkErrorStrikes = 0
		return nil
	}
	info.ChunkErrorStrikes++
	if info.ChunkErrorStrikes >= maxChunkErrorStrikes {
		info.State = block.StateDead
		info.NeedsRetiring = true
		if err := c.dev.Driver.MarkBad(blockNum); err != nil {
			c.log.Warn("failed to mark block bad after retirement", "block", blockNum, "error", err)
			info.SeqNumber = block.BadBlockSeq
		}
		c.log.Warn("block retired after repeated erase failures", "block", blockNum)
		return fmt.Errorf("gc: block %d retired after %d erase failures", blockNum, info.ChunkErrorStrikes)
	}
	return fmt.Errorf("gc: erase of block %d failed, strike %d/%d", blockNum, info.ChunkErrorStrikes, maxChunkErrorStrikes)
}

// Run performs one bounded slice of background collection at the given
// urgency (0 idle .. 3 forced), matching §4.H's background worker contract.
// urgency 0 defers entirely unless a Forced victim exists. The single
// victim is run under an errgroup so ctx cancellation propagates the same
// way a multi-victim slice's would; collectOne itself still relocates
// chunks sequentially (Collect), since each rewrite goes through the
// device's single gross-locked write path (§5) and gains nothing from
// running concurrently with its neighbors.
func (c *Collector) Run(ctx context.Context, urgency int, collectOne func(blockNum uint32) error) error {
	if c.disabled {
		return nil
	}
	blockNum, policy, ok := c.SelectVictim()
	if !ok {
		return nil
	}
	if urgency == 0 && policy != PolicyForced {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		default:
			return collectOne(blockNum)
		}
	})
	return g.Wait()
}
