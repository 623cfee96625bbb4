package fs

import (
	"fmt"

	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/cache"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// writeRetries bounds how many times a failed program is retried before the
// block is condemned (§6 "WR_ATTEMPTS=320 NAND write retry policy").
const writeRetries = 320

// allocAndProgram allocates a chunk and programs data+tags onto it. A
// failed program is retried on the next chunk the cursor hands out, which
// rolls onto a fresh block once the current one fills, for up to
// writeRetries attempts in all. Each ResultFail adds a strike to the
// failing block (retireBlock); three strikes mark it Dead, and bad unless
// bad-block marking is disabled. The cursor is not moved off a block when
// it is retired.
func (d *Device) allocAndProgram(data []byte, t tags.ExtTags) (chunk uint32, err error) {
	if d.opt.InbandTags {
		// Inband storage carves a fixed-size tail off the chunk payload, so
		// every record (header or data) must pack to the same length; force
		// the extra fields present (zero-valued on a data record) rather
		// than size the tail per-record.
		t.ExtraAvailable = true
	}
	for attempt := 0; attempt < writeRetries; attempt++ {
		chunkNum, seq, aerr := d.cur.AllocChunk()
		if aerr != nil {
			return 0, fmt.Errorf("fs: allocate chunk: %w", aerr)
		}
		t.SeqNumber = seq

		packed, perr := d.tags.Pack(t)
		if perr != nil {
			return 0, fmt.Errorf("fs: pack tags: %w", perr)
		}

		payload, oob := d.splitPayload(data, packed)
		result, werr := d.nand.ProgramChunk(chunkNum, payload, oob)
		blockNum := d.nand.BlockOf(chunkNum)
		if werr == nil && result == nand.ResultOK {
			d.tbl.MarkLive(chunkNum)
			info := d.tbl.Info(blockNum)
			if uint32(info.PagesInUse) >= d.nand.Geometry.ChunksPerBlock {
				info.State = block.StateFull
			} else {
				info.State = block.StateAllocating
			}
			d.gcol.NoteWrite()
			d.stats.Writes++
			return chunkNum, nil
		}

		if result == nand.ResultFail {
			d.retireBlock(blockNum)
			continue
		}
	}
	return 0, fmt.Errorf("fs: program chunk after %d attempts: %w", writeRetries, yerrors.ErrNandProgramFail)
}

// splitPayload lays out the packed tag bytes either inband (tail of the
// data payload) or in the OOB spare area, mirroring readChunkTags' inverse.
func (d *Device) splitPayload(data, packed []byte) (payload, oob []byte) {
	if !d.opt.InbandTags {
		return data, packed
	}
	buf := make([]byte, d.nand.Geometry.TotalBytesPerChunk)
	copy(buf, data)
	copy(buf[len(buf)-len(packed):], packed)
	return buf, nil
}

func (d *Device) retireBlock(blockNum uint32) {
	info := d.tbl.Info(blockNum)
	info.ChunkErrorStrikes++
	if info.ChunkErrorStrikes >= 3 {
		info.State = block.StateDead
		if !d.opt.DisableBadBlockMark {
			_ = d.nand.Driver.MarkBad(blockNum)
		}
	}
}

// writeHeaderLocked programs a fresh header chunk for obj and updates its
// HdrChunk pointer, the one mutation every create/rename/resize/xattr
// operation performs at its tail (§4.K: "every mutating call ends by
// programming a new header").
func (d *Device) writeHeaderLocked(obj *object.Object) error {
	h := obj.ToHeader()
	payload, err := object.PackHeader(h)
	if err != nil {
		return fmt.Errorf("fs: write header: %w", err)
	}
	buf := make([]byte, d.nand.Geometry.TotalBytesPerChunk)
	copy(buf, payload)

	extra := tags.Extra{
		ParentID: obj.ParentID,
		ObjType:  obj.Type,
	}
	if obj.Type == tags.ObjTypeFile {
		extra.FileSize = obj.File.FileSize
	}
	if obj.Type == tags.ObjTypeHardlink {
		extra.EquivID = obj.Hardlink.EquivID
	}

	t := tags.NewHeaderTags(obj.ObjID, 0, extra)
	chunk, err := d.allocAndProgram(buf, t)
	if err != nil {
		return err
	}
	if obj.HdrChunk != 0 {
		d.tbl.MarkDeleted(obj.HdrChunk)
	}
	obj.HdrChunk = chunk
	obj.Dirty = false
	return nil
}

// writeDataChunkLocked programs one logical data chunk of obj, superseding
// whatever chunk previously held that logical position.
func (d *Device) writeDataChunkLocked(obj *object.Object, logicalChunkID uint32, data []byte) error {
	t := tags.NewDataTags(obj.ObjID, logicalChunkID, uint32(len(data)), 0)
	chunk, err := d.allocAndProgram(data, t)
	if err != nil {
		return err
	}
	if old, ok := obj.File.Tnodes.Find(logicalChunkID); ok {
		d.tbl.MarkDeleted(old)
	} else {
		obj.File.NDataChunks++
	}
	if err := obj.File.Tnodes.AddFind(logicalChunkID, chunk); err != nil {
		return fmt.Errorf("fs: index data chunk: %w", err)
	}
	return nil
}

// flushCacheEntry is the cache.Flusher callback: it writes a dirty page
// cache entry's bytes down to its owning file's logical chunk.
func (d *Device) flushCacheEntry(e *cache.Entry) error {
	obj, ok := d.reg.FindByNumber(e.ObjID)
	if !ok || obj.File == nil {
		return fmt.Errorf("fs: flush cache entry: %w", yerrors.ErrNoSuchObject)
	}
	return d.writeDataChunkLocked(obj, e.ChunkID, e.Data[:e.NBytes])
}

// collectVictimLocked performs one GC copy-forward pass over a single
// victim block chosen by gcol.SelectVictim, relocating every live chunk
// and erasing the block once clean (§4.H).
func (d *Device) collectVictimLocked(blockNum uint32) error {
	visitor := func(chunk uint32) (bool, error) {
		t, data, err := d.readChunkTags(chunk)
		if err != nil || !t.ChunkUsed {
			return false, nil
		}
		if t.ECCResult == nand.ECCUnfixed {
			return false, nil
		}
		return d.relocateChunk(t, data, chunk)
	}
	if err := d.gcol.Collect(blockNum, visitor); err != nil {
		return err
	}
	result, err := d.nand.Driver.Erase(blockNum)
	if err := d.gcol.EraseDone(blockNum, result); err != nil {
		return err
	}
	if err != nil {
		return fmt.Errorf("fs: erase block %d: %w", blockNum, err)
	}
	if result == nand.ResultOK {
		d.tbl.Reset(blockNum)
	}
	return nil
}

// relocateChunk copies one still-live chunk forward during GC, reporting
// liveness back to gc.Collector.Collect.
func (d *Device) relocateChunk(t tags.ExtTags, data []byte, oldChunk uint32) (live bool, err error) {
	obj, ok := d.reg.FindByNumber(t.ObjID)
	if !ok || obj.Deleted {
		return false, nil
	}
	if t.IsHeader() {
		if obj.HdrChunk != oldChunk {
			return false, nil
		}
		if err := d.writeHeaderLocked(obj); err != nil {
			return false, err
		}
		return true, nil
	}
	if obj.File == nil {
		return false, nil
	}
	logical := t.LogicalChunkID()
	cur, ok := obj.File.Tnodes.Find(logical)
	if !ok || cur != oldChunk {
		return false, nil
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	newTags := tags.NewDataTags(t.ObjID, logical, t.NBytes, 0)
	newChunk, err := d.allocAndProgram(payload, newTags)
	if err != nil {
		return false, err
	}
	if err := obj.File.Tnodes.AddFind(logical, newChunk); err != nil {
		return false, err
	}
	d.tbl.MarkDeleted(oldChunk)
	return true, nil
}
