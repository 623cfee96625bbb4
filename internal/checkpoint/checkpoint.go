// Package checkpoint implements the mount-skipping snapshot mechanism
// (§4.J): a validity-enveloped, checksummed serialization of the device's
// runtime state, written to a caller-supplied io.Writer on unmount (or
// explicit checkpoint_save) and validated strictly on restore from a
// caller-supplied io.Reader. It is not written into the device's own
// blocks, and a failed restore leaves the choice of a full scan to the
// caller.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// Magic and Version identify a checkpoint stream; Version mirrors the
// original's CHECKPOINT_VERSION constant.
const (
	Magic   uint32 = 0x59414646 // "YAFF"
	Version uint32 = 8
)

// Summary is the device-wide snapshot of allocator/GC state (§4.J device
// summary).
type Summary struct {
	ErasedBlocks        uint32
	AllocBlock          uint32
	AllocPage           uint32
	FreeChunks          uint32
	NBackgroundDeletions uint64
	SeqNumber           uint32
}

// objectRecord is one live object's checkpt_obj record.
type objectRecord struct {
	ObjID       uint32
	Type        tags.ObjType
	ParentID    uint32
	HdrChunk    uint32
	Flags       uint32
	NDataChunks uint32
	FileSize    uint64
	EquivID     uint32
	Name        string
	Chunks      []chunkMapping
}

// chunkMapping is one (logical chunk id, physical chunk number) pair from a
// file's tnode tree, serialized so LoadCheckpoint doesn't have to re-derive
// chunk mappings from the restored bitmap via a fresh full scan.
type chunkMapping struct {
	ChunkID   uint32
	PhysChunk uint32
}

const (
	flagDeleted = 1 << iota
	flagUnlinked
	flagSoftDel
)

func flagsOf(o *object.Object) uint32 {
	var f uint32
	if o.Deleted {
		f |= flagDeleted
	}
	if o.Unlinked {
		f |= flagUnlinked
	}
	if o.SoftDel {
		f |= flagSoftDel
	}
	return f
}

func applyFlags(o *object.Object, f uint32) {
	o.Deleted = f&flagDeleted != 0
	o.Unlinked = f&flagUnlinked != 0
	o.SoftDel = f&flagSoftDel != 0
}

// Writer serializes checkpoint streams, optionally through a zstd encoder
// when the `checkpoint-compress` mount option is set (§3 Domain stack:
// klauspost/compress).
type Writer struct {
	log      *slog.Logger
	compress bool
}

// NewWriter creates a checkpoint Writer.
func NewWriter(compress bool, logger *slog.Logger) *Writer {
	return &Writer{log: logging.Scoped(logger, "checkpoint"), compress: compress}
}

// Save writes a full checkpoint of reg and tbl, plus summary, to w.
func (cw *Writer) Save(w io.Writer, reg *object.Registry, tbl *block.Table, summary Summary) error {
	var body bytes.Buffer
	if err := writeValidity(&body, true); err != nil {
		return err
	}
	if err := writeSummary(&body, summary); err != nil {
		return err
	}
	if err := writeObjects(&body, reg); err != nil {
		return err
	}
	if err := writeBlocks(&body, tbl); err != nil {
		return err
	}
	if err := writeBitmap(&body, tbl); err != nil {
		return err
	}
	if err := writeValidity(&body, false); err != nil {
		return err
	}

	checksum := rollingChecksum(body.Bytes())

	var out io.Writer = w
	var enc *zstd.Encoder
	if cw.compress {
		var err error
		enc, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("checkpoint: zstd writer: %w", err)
		}
		out = enc
	}
	if _, err := out.Write(body.Bytes()); err != nil {
		return fmt.Errorf("checkpoint: write body: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("checkpoint: write checksum: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("checkpoint: close zstd writer: %w", err)
		}
	}
	cw.log.Info("checkpoint saved", "objects", reg.Count(), "blocks", tbl.NumBlocks(), "compressed", cw.compress)
	return nil
}

// Reader restores checkpoint streams written by Writer.
type Reader struct {
	log      *slog.Logger
	compress bool
}

// NewReader creates a checkpoint Reader.
func NewReader(compress bool, logger *slog.Logger) *Reader {
	return &Reader{log: logging.Scoped(logger, "checkpoint"), compress: compress}
}

// Restore reads a checkpoint stream from r into a fresh Registry and
// Table. Any structural or checksum failure returns ErrCheckpointInvalid,
// which the caller (internal/fs) treats as "fall back to full scan", never
// as a mount failure (§7 propagation policy).
func (cr *Reader) Restore(r io.Reader, maxObjects int, chunksPerBlock uint32, tnodeCfg tnode.Config) (*object.Registry, *block.Table, Summary, error) {
	var in io.Reader = r
	if cr.compress {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, Summary{}, fmt.Errorf("checkpoint: %w: zstd reader: %v", yerrors.ErrCheckpointInvalid, err)
		}
		defer dec.Close()
		in = dec
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return nil, nil, Summary{}, fmt.Errorf("checkpoint: %w: read: %v", yerrors.ErrCheckpointInvalid, err)
	}
	if len(raw) < 4 {
		return nil, nil, Summary{}, fmt.Errorf("checkpoint: %w: truncated stream", yerrors.ErrCheckpointInvalid)
	}
	body, wantChecksum := raw[:len(raw)-4], binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if rollingChecksum(body) != wantChecksum {
		return nil, nil, Summary{}, fmt.Errorf("checkpoint: %w: checksum mismatch", yerrors.ErrCheckpointInvalid)
	}

	br := bytes.NewReader(body)
	if err := readValidity(br, true); err != nil {
		return nil, nil, Summary{}, err
	}
	summary, err := readSummary(br)
	if err != nil {
		return nil, nil, Summary{}, err
	}
	reg, err := readObjects(br, maxObjects, tnodeCfg)
	if err != nil {
		return nil, nil, Summary{}, err
	}
	tbl, err := readBlocks(br, chunksPerBlock)
	if err != nil {
		return nil, nil, Summary{}, err
	}
	if err := readBitmap(br, tbl); err != nil {
		return nil, nil, Summary{}, err
	}
	if err := readValidity(br, false); err != nil {
		return nil, nil, Summary{}, err
	}
	cr.log.Info("checkpoint restored", "objects", reg.Count(), "blocks", tbl.NumBlocks())
	return reg, tbl, summary, nil
}

// rollingChecksum is a simple sum+xor rolling checksum over the body
// bytes, per §4.J ("a rolling sum+xor checksum"). It is not
// cryptographic; its only job is to catch torn or truncated writes before
// the strict struct decode below would otherwise panic.
func rollingChecksum(data []byte) uint32 {
	var sum, xor uint32
	for i, b := range data {
		sum += uint32(b) * uint32(i+1)
		xor ^= uint32(b)
	}
	return sum ^ (xor << 16)
}

func writeValidity(w io.Writer, head bool) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("checkpoint: write validity: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, Version); err != nil {
		return fmt.Errorf("checkpoint: write validity: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, head)
}

func readValidity(r io.Reader, wantHead bool) error {
	var magic, version uint32
	var head bool
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil || magic != Magic {
		return fmt.Errorf("checkpoint: %w: bad magic", yerrors.ErrCheckpointInvalid)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil || version != Version {
		return fmt.Errorf("checkpoint: %w: version mismatch", yerrors.ErrCheckpointInvalid)
	}
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil || head != wantHead {
		return fmt.Errorf("checkpoint: %w: head marker mismatch", yerrors.ErrCheckpointInvalid)
	}
	return nil
}

func writeSummary(w io.Writer, s Summary) error {
	fields := []any{s.ErasedBlocks, s.AllocBlock, s.AllocPage, s.FreeChunks, s.NBackgroundDeletions, s.SeqNumber}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("checkpoint: write summary: %w", err)
		}
	}
	return nil
}

func readSummary(r io.Reader) (Summary, error) {
	var s Summary
	fields := []any{&s.ErasedBlocks, &s.AllocBlock, &s.AllocPage, &s.FreeChunks, &s.NBackgroundDeletions, &s.SeqNumber}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Summary{}, fmt.Errorf("checkpoint: %w: read summary: %v", yerrors.ErrCheckpointInvalid, err)
		}
	}
	return s, nil
}

func writeObjects(w io.Writer, reg *object.Registry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(reg.Count())); err != nil {
		return fmt.Errorf("checkpoint: write object count: %w", err)
	}
	var writeErr error
	reg.Walk(func(o *object.Object) {
		if writeErr != nil {
			return
		}
		rec := objectRecord{
			ObjID:    o.ObjID,
			Type:     o.Type,
			ParentID: o.ParentID,
			HdrChunk: o.HdrChunk,
			Flags:    flagsOf(o),
			Name:     o.Name,
		}
		switch o.Type {
		case tags.ObjTypeFile:
			rec.FileSize = o.File.FileSize
			rec.NDataChunks = uint32(o.File.NDataChunks)
			o.File.Tnodes.Walk(func(chunkID, physChunk uint32) {
				rec.Chunks = append(rec.Chunks, chunkMapping{ChunkID: chunkID, PhysChunk: physChunk})
			})
		case tags.ObjTypeHardlink:
			rec.EquivID = o.Hardlink.EquivID
		}
		writeErr = writeObjectRecord(w, rec)
	})
	return writeErr
}

func writeObjectRecord(w io.Writer, rec objectRecord) error {
	fields := []any{rec.ObjID, uint32(rec.Type), rec.ParentID, rec.HdrChunk, rec.Flags, rec.NDataChunks, rec.FileSize, rec.EquivID}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("checkpoint: write object record: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(rec.Name))); err != nil {
		return fmt.Errorf("checkpoint: write object name length: %w", err)
	}
	if _, err := io.WriteString(w, rec.Name); err != nil {
		return fmt.Errorf("checkpoint: write object name: %w", err)
	}
	if rec.Type != tags.ObjTypeFile {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(rec.Chunks))); err != nil {
		return fmt.Errorf("checkpoint: write chunk mapping count: %w", err)
	}
	for _, c := range rec.Chunks {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return fmt.Errorf("checkpoint: write chunk mapping: %w", err)
		}
	}
	return nil
}

func readObjects(r io.Reader, maxObjects int, tnodeCfg tnode.Config) (*object.Registry, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("checkpoint: %w: read object count: %v", yerrors.ErrCheckpointInvalid, err)
	}
	reg := object.NewRegistry(maxObjects, tnodeCfg)
	for i := uint32(0); i < count; i++ {
		rec, err := readObjectRecord(r)
		if err != nil {
			return nil, err
		}
		obj := object.NewObjectWithConfig(rec.ObjID, rec.Type, rec.ParentID, rec.Name, tnodeCfg)
		obj.HdrChunk = rec.HdrChunk
		applyFlags(obj, rec.Flags)
		switch rec.Type {
		case tags.ObjTypeFile:
			obj.File.FileSize = rec.FileSize
			obj.File.NDataChunks = int(rec.NDataChunks)
			for _, c := range rec.Chunks {
				if err := obj.File.Tnodes.AddFind(c.ChunkID, c.PhysChunk); err != nil {
					return nil, fmt.Errorf("checkpoint: %w: restore chunk mapping for obj_id %d: %v", yerrors.ErrCheckpointInvalid, rec.ObjID, err)
				}
			}
		case tags.ObjTypeHardlink:
			obj.Hardlink.EquivID = rec.EquivID
		}
		reg.Insert(obj)
	}
	reg.Walk(func(o *object.Object) {
		if o.ObjID == object.IDRoot {
			return
		}
		if parent, ok := reg.FindByNumber(o.ParentID); ok && parent.Dir != nil {
			parent.Dir.Children = append(parent.Dir.Children, o.ObjID)
		}
	})
	return reg, nil
}

func readObjectRecord(r io.Reader) (objectRecord, error) {
	var rec objectRecord
	var objType uint32
	fields := []any{&rec.ObjID, &objType, &rec.ParentID, &rec.HdrChunk, &rec.Flags, &rec.NDataChunks, &rec.FileSize, &rec.EquivID}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return objectRecord{}, fmt.Errorf("checkpoint: %w: read object record: %v", yerrors.ErrCheckpointInvalid, err)
		}
	}
	rec.Type = tags.ObjType(objType)
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return objectRecord{}, fmt.Errorf("checkpoint: %w: read object name length: %v", yerrors.ErrCheckpointInvalid, err)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return objectRecord{}, fmt.Errorf("checkpoint: %w: read object name: %v", yerrors.ErrCheckpointInvalid, err)
	}
	rec.Name = string(nameBytes)
	if rec.Type != tags.ObjTypeFile {
		return rec, nil
	}
	var chunkCount uint32
	if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
		return objectRecord{}, fmt.Errorf("checkpoint: %w: read chunk mapping count: %v", yerrors.ErrCheckpointInvalid, err)
	}
	rec.Chunks = make([]chunkMapping, chunkCount)
	for i := range rec.Chunks {
		if err := binary.Read(r, binary.LittleEndian, &rec.Chunks[i]); err != nil {
			return objectRecord{}, fmt.Errorf("checkpoint: %w: read chunk mapping: %v", yerrors.ErrCheckpointInvalid, err)
		}
	}
	return rec, nil
}

func writeBlocks(w io.Writer, tbl *block.Table) error {
	n := tbl.NumBlocks()
	if err := binary.Write(w, binary.LittleEndian, n); err != nil {
		return fmt.Errorf("checkpoint: write block count: %w", err)
	}
	for b := uint32(0); b < n; b++ {
		info := tbl.Info(b)
		fields := []any{
			info.PagesInUse, info.SoftDelPages, int32(info.State),
			info.NeedsRetiring, info.SkipErasedCheck, info.GCPrioritise,
			info.HasSummary, info.HasShrinkHdr, info.ChunkErrorStrikes, info.SeqNumber,
		}
		for _, f := range fields {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return fmt.Errorf("checkpoint: write block info: %w", err)
			}
		}
	}
	return nil
}

func readBlocks(r io.Reader, chunksPerBlock uint32) (*block.Table, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("checkpoint: %w: read block count: %v", yerrors.ErrCheckpointInvalid, err)
	}
	tbl := block.NewTable(n, chunksPerBlock)
	for b := uint32(0); b < n; b++ {
		info := tbl.Info(b)
		var state int32
		fields := []any{
			&info.PagesInUse, &info.SoftDelPages, &state,
			&info.NeedsRetiring, &info.SkipErasedCheck, &info.GCPrioritise,
			&info.HasSummary, &info.HasShrinkHdr, &info.ChunkErrorStrikes, &info.SeqNumber,
		}
		for _, f := range fields {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return nil, fmt.Errorf("checkpoint: %w: read block info: %v", yerrors.ErrCheckpointInvalid, err)
			}
		}
		info.State = block.State(state)
	}
	return tbl, nil
}

func writeBitmap(w io.Writer, tbl *block.Table) error {
	bitmap := tbl.Bitmap()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bitmap))); err != nil {
		return fmt.Errorf("checkpoint: write bitmap length: %w", err)
	}
	if _, err := w.Write(bitmap); err != nil {
		return fmt.Errorf("checkpoint: write bitmap: %w", err)
	}
	return nil
}

func readBitmap(r io.Reader, tbl *block.Table) error {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("checkpoint: %w: read bitmap length: %v", yerrors.ErrCheckpointInvalid, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("checkpoint: %w: read bitmap: %v", yerrors.ErrCheckpointInvalid, err)
	}
	tbl.RestoreBitmap(buf)
	return nil
}
