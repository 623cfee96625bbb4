// Package fs implements the top-level device API (§4.K): file I/O,
// directory operations, link operations, and lifecycle (mount/format/
// unmount), driving every other package in the engine behind one coarse
// "gross lock" matching the single-writer concurrency model of §5.
package fs

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nandfs/yaffs2go/internal/alloc"
	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/cache"
	"github.com/nandfs/yaffs2go/internal/checkpoint"
	"github.com/nandfs/yaffs2go/internal/gc"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/scan"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// Options gathers the mount options enumerated in §6 into one struct, bound
// by internal/config from cobra/viper flags.
type Options struct {
	InbandTags         bool
	TagsECC            bool
	NarrowTnodes       bool
	SkipCheckpointRead bool
	SkipCheckpointWrite bool
	LazyLoad           bool
	EmptyLostNFound    bool
	DisableSummary     bool
	DisableBadBlockMark bool
	StoredEndian       binary.ByteOrder
	MaxObjects         int
	CacheBypassAligned bool
	CheckpointCompress bool
	ReservedBlocks     uint32
	CacheCapacity      int
	GCPassiveThreshold uint16
	GCRefreshPeriod    uint32
}

// DefaultOptions returns the always-safe configuration.
func DefaultOptions() Options {
	return Options{
		TagsECC:            true,
		StoredEndian:       binary.LittleEndian,
		MaxObjects:         0,
		ReservedBlocks:     2,
		CacheCapacity:      32,
		GCPassiveThreshold: 4,
		GCRefreshPeriod:    0,
	}
}

// Device orchestrates every subsystem behind one mutex, the "gross lock"
// of §5.
type Device struct {
	mu sync.Mutex

	log *slog.Logger
	opt Options

	nand *nand.Device
	tbl  *block.Table
	tags *tags.Codec
	reg  *object.Registry
	cur  *alloc.Cursor
	gcol *gc.Collector
	cac  *cache.Manager
	delq *gc.DeletionQueue

	tnodeCfg tnode.Config

	checkpointValid bool
	stats           Stats
}

// Stats exposes the runtime counters named across §4 and §9.
type Stats struct {
	Reads             uint64
	Writes            uint64
	BackgroundDeletes uint64
	GCRuns            uint64
	ScanCount         uint64
	CheckpointSaves   uint64
	CheckpointLoads   uint64
}

// New wires a fresh Device around dev, ready for Format or Mount.
func New(dev *nand.Device, opt Options, logger *slog.Logger) *Device {
	log := logging.Scoped(logger, "fs")
	tbl := block.NewTable(dev.Geometry.NumBlocks(), dev.Geometry.ChunksPerBlock)
	mode := tags.ModeOOB
	if opt.InbandTags {
		mode = tags.ModeInband
	}
	tnodeCfg := tnode.ConfigForGeometry(!opt.NarrowTnodes, dev.Geometry.ChunksPerBlock, dev.Geometry.NumBlocks())
	d := &Device{
		log:      log,
		opt:      opt,
		nand:     dev,
		tbl:      tbl,
		tags:     tags.NewCodec(mode, opt.TagsECC, opt.StoredEndian, false),
		reg:      object.NewRegistry(opt.MaxObjects, tnodeCfg),
		delq:     gc.NewDeletionQueue(256),
		tnodeCfg: tnodeCfg,
	}
	d.cur = alloc.NewCursor(tbl, dev, opt.ReservedBlocks, logger)
	d.gcol = gc.NewCollector(tbl, dev, opt.GCPassiveThreshold, opt.GCRefreshPeriod, logger)
	d.cac = cache.NewManager(opt.CacheCapacity, opt.CacheBypassAligned, d.flushCacheEntry, logger)
	return d
}

// Stats returns a snapshot of the runtime counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Format initializes a fresh device: erases every block and seeds the
// reserved root/lost+found/unlinked/deleted objects.
func (d *Device) Format(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for b := uint32(0); b < d.tbl.NumBlocks(); b++ {
		if _, err := d.nand.Driver.Erase(b); err != nil {
			return fmt.Errorf("fs: format: erase block %d: %w", b, err)
		}
		d.tbl.Reset(b)
	}

	d.reg = object.NewRegistry(d.opt.MaxObjects, d.tnodeCfg)
	root := object.NewObject(object.IDRoot, tags.ObjTypeDirectory, 0, "")
	d.reg.Insert(root)
	lnf := object.NewObject(object.IDLostNFound, tags.ObjTypeDirectory, object.IDRoot, "lost+found")
	d.reg.Insert(lnf)
	d.reg.AddToDir(root, lnf)
	unlinked := object.NewObject(object.IDUnlinked, tags.ObjTypeDirectory, object.IDRoot, "unlinked")
	d.reg.Insert(unlinked)
	deleted := object.NewObject(object.IDDeleted, tags.ObjTypeDirectory, object.IDRoot, "deleted")
	d.reg.Insert(deleted)

	if err := d.writeHeaderLocked(root); err != nil {
		return err
	}
	if err := d.writeHeaderLocked(lnf); err != nil {
		return err
	}
	if err := d.writeHeaderLocked(unlinked); err != nil {
		return err
	}
	if err := d.writeHeaderLocked(deleted); err != nil {
		return err
	}
	d.wireTnodeScanners()
	d.checkpointValid = false
	return nil
}

// readChunkTags implements scan.TagReader against the real device and tag
// codec, the glue the scanner needs but has no business owning itself.
func (d *Device) readChunkTags(chunk uint32) (tags.ExtTags, []byte, error) {
	data := make([]byte, d.nand.Geometry.TotalBytesPerChunk)
	oob := make([]byte, d.nand.Geometry.SpareBytesPerChunk)
	_, eccResult, err := d.nand.ReadChunk(chunk, data, oob)
	if err != nil {
		return tags.ExtTags{}, nil, err
	}
	packed := oob
	if d.opt.InbandTags {
		// Every inband record, header or data, is packed with
		// ExtraAvailable forced true (see allocAndProgram) so this length
		// is the same for all of them.
		tagLen := d.tags.PackedLen(true)
		if tagLen > len(data) {
			return tags.ExtTags{}, nil, fmt.Errorf("fs: inband tag length exceeds chunk size")
		}
		packed = data[len(data)-tagLen:]
		data = data[:len(data)-tagLen]
	}
	t, err := d.tags.Unpack(packed)
	if err != nil {
		return tags.ExtTags{}, nil, nil // unreadable tags means "unused chunk" to the scanner
	}
	t.ECCResult = eccResult
	return t, data, nil
}

// Mount performs startup by a full backward scan (§4.I). The checkpoint
// hook it consults first, tryRestoreCheckpointLocked, never finds a
// checkpoint, so Mount does not restore one by itself; a saved checkpoint
// is applied only by a later explicit LoadCheckpoint, which replaces the
// scanned state.
func (d *Device) Mount(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opt.SkipCheckpointRead {
		if d.tryRestoreCheckpointLocked() {
			d.stats.CheckpointLoads++
			return nil
		}
	}
	return d.fullScanLocked(ctx)
}

func (d *Device) fullScanLocked(ctx context.Context) error {
	scanner := scan.NewScanner(d.nand, d.tbl, d.readChunkTags, scan.Options{
		EmptyLostNFound: d.opt.EmptyLostNFound,
		MaxObjects:      d.opt.MaxObjects,
		TnodeConfig:     d.tnodeCfg,
	}, d.log)
	result, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("fs: mount scan: %w", err)
	}
	d.reg = result.Registry
	d.wireTnodeScanners()
	d.stats.ScanCount++
	d.checkpointValid = false
	return nil
}

// tnodeScanner resolves a narrow-mode tnode group by reading back tags for
// every chunk in [groupBase, groupBase+groupSize) until it finds the one
// tagged with objID's logicalChunkID (§4.E).
func (d *Device) tnodeScanner(objID, logicalChunkID, groupBase, groupSize uint32) (uint32, bool) {
	for i := uint32(0); i < groupSize; i++ {
		chunk := groupBase + i
		t, _, err := d.readChunkTags(chunk)
		if err != nil || !t.ChunkUsed || t.IsHeader() {
			continue
		}
		if t.ObjID == objID && t.LogicalChunkID() == logicalChunkID {
			return chunk, true
		}
	}
	return 0, false
}

// wireTnodeScanner installs the narrow-mode group scanner on obj; a no-op
// in wide mode since Tree.Find never calls it then.
func (d *Device) wireTnodeScanner(obj *object.Object) {
	if obj.File != nil {
		obj.File.Tnodes.SetGroupScanner(obj.ObjID, d.tnodeScanner)
	}
}

// wireTnodeScanners re-attaches the scanner to every file object after a
// wholesale registry replacement (Format, full scan, checkpoint restore).
func (d *Device) wireTnodeScanners() {
	d.reg.Walk(func(o *object.Object) { d.wireTnodeScanner(o) })
}

// tryRestoreCheckpointLocked always reports false: the device has no
// checkpoint location of its own to read from. Checkpoints are restored
// only from a caller-supplied stream, by LoadCheckpoint below.
func (d *Device) tryRestoreCheckpointLocked() bool {
	return false
}

// SaveCheckpoint serializes the current state to w (§4.J); a no-op
// returning nil when no-checkpoint-write is set.
func (d *Device) SaveCheckpoint(w checkpointWriter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opt.SkipCheckpointWrite {
		return nil
	}
	writer := checkpoint.NewWriter(d.opt.CheckpointCompress, d.log)
	summary := checkpoint.Summary{
		FreeChunks:           d.freeChunksLocked(),
		NBackgroundDeletions: d.delq.Drained(),
	}
	if err := writer.Save(w, d.reg, d.tbl, summary); err != nil {
		return fmt.Errorf("fs: checkpoint save: %w", err)
	}
	d.stats.CheckpointSaves++
	d.checkpointValid = true
	return nil
}

// LoadCheckpoint restores state from r, replacing the in-memory registry
// and block table on success. On any validation failure it leaves the
// device state untouched and returns ErrCheckpointInvalid so the caller
// can fall back to a full scan.
func (d *Device) LoadCheckpoint(r checkpointReader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reader := checkpoint.NewReader(d.opt.CheckpointCompress, d.log)
	reg, tbl, _, err := reader.Restore(r, d.opt.MaxObjects, d.nand.Geometry.ChunksPerBlock, d.tnodeCfg)
	if err != nil {
		return fmt.Errorf("fs: %w", yerrors.ErrCheckpointInvalid)
	}
	d.reg = reg
	d.tbl = tbl
	d.cur = alloc.NewCursor(tbl, d.nand, d.opt.ReservedBlocks, d.log)
	d.gcol = gc.NewCollector(tbl, d.nand, d.opt.GCPassiveThreshold, d.opt.GCRefreshPeriod, d.log)
	d.wireTnodeScanners()
	d.checkpointValid = true
	d.stats.CheckpointLoads++
	return nil
}

type checkpointWriter interface {
	Write(p []byte) (int, error)
}

type checkpointReader interface {
	Read(p []byte) (int, error)
}

func (d *Device) freeChunksLocked() uint32 {
	var free uint32
	for b := uint32(0); b < d.tbl.NumBlocks(); b++ {
		if d.tbl.Info(b).State == block.StateEmpty {
			free += d.nand.Geometry.ChunksPerBlock
		}
	}
	return free
}

// Deinitialise flushes the cache and, unless skipped, saves a checkpoint,
// matching §5's shutdown sequence ("acquires the lock and performs final
// flush + checkpoint").
func (d *Device) Deinitialise(w checkpointWriter) error {
	d.mu.Lock()
	if err := d.cac.Flush(); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("fs: deinitialise: flush cache: %w", err)
	}
	d.mu.Unlock()
	if w != nil {
		return d.SaveCheckpoint(w)
	}
	return nil
}

// RunGC performs one bounded slice of background collection at the given
// urgency (§5, §4.H).
func (d *Device) RunGC(ctx context.Context, urgency int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gcol.Run(ctx, urgency, d.collectVictimLocked)
	if err == nil {
		d.stats.GCRuns++
	}
	return err
}
