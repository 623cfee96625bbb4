// Package scan implements the mount-time backward scan (§4.I):
// reconstructing the object graph by traversing every block's chunk tags,
// ordering blocks by descending sequence number, and applying header/data
// chunks on a first-seen-wins basis so the most recently written state for
// every object and every logical chunk always supersedes older log
// entries.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"golang.org/x/sync/errgroup"
)

// ChunkRecord is one chunk's decoded tags as read during the query pass.
type ChunkRecord struct {
	Chunk uint32
	Tags  tags.ExtTags
}

// TagReader reads back the tags (and, for header chunks, the header
// payload bytes) for a single physical chunk. Supplied by internal/fs,
// which owns the tag codec and knows whether tags live OOB or inband.
type TagReader func(chunk uint32) (tags.ExtTags, []byte, error)

// blockQuery is one block's read-only scan result, produced by the
// parallel query pass (§4.I step 1, "query_block").
type blockQuery struct {
	block     uint32
	seq       uint32
	hasData   bool
	chunks    []ChunkRecord
	payloads  map[uint32][]byte
}

// Options controls scan-time policy knobs that are otherwise pure mount
// options (§6 enumeration).
type Options struct {
	EmptyLostNFound bool
	MaxObjects      int
	TnodeConfig     tnode.Config
}

// Scanner reconstructs a Registry and block.Table from a raw device.
type Scanner struct {
	log *slog.Logger

	dev    *nand.Device
	tbl    *block.Table
	reader TagReader
	opts   Options
}

// NewScanner creates a scanner over dev/tbl, reading tags via reader.
func NewScanner(dev *nand.Device, tbl *block.Table, reader TagReader, opts Options, logger *slog.Logger) *Scanner {
	return &Scanner{
		log:    logging.Scoped(logger, "scan"),
		dev:    dev,
		tbl:    tbl,
		reader: reader,
		opts:   opts,
	}
}

// queryBlock reads every chunk's tags in one block, in ascending page
// order. Its only write to shared state is the GCPrioritise flag of its own
// block, so queries of different blocks can run concurrently.
func (s *Scanner) queryBlock(b uint32) blockQuery {
	q := blockQuery{block: b, payloads: make(map[uint32][]byte)}
	start := b * s.dev.Geometry.ChunksPerBlock
	end := start + s.dev.Geometry.ChunksPerBlock
	for chunk := start; chunk < end; chunk++ {
		t, payload, err := s.reader(chunk)
		if err != nil {
			s.log.Warn("chunk read failed during scan, treating as absent", "chunk", chunk, "error", err)
			continue
		}
		if !t.ChunkUsed {
			continue
		}
		if t.ECCResult == nand.ECCUnfixed {
			s.tbl.Info(b).GCPrioritise = true
			s.log.Warn("unfixable ECC error, block flagged for priority collection", "block", b, "chunk", chunk)
			continue
		}
		q.chunks = append(q.chunks, ChunkRecord{Chunk: chunk, Tags: t})
		if t.IsHeader() {
			q.payloads[chunk] = payload
		}
		if t.SeqNumber > q.seq {
			q.seq = t.SeqNumber
		}
		q.hasData = true
	}
	return q
}

// queryAllBlocks runs the read-only query pass over every block
// concurrently (§3 Domain stack: golang.org/x/sync/errgroup bounds and
// parallelizes this first pass).
func (s *Scanner) queryAllBlocks(ctx context.Context) ([]blockQuery, error) {
	n := s.tbl.NumBlocks()
	results := make([]blockQuery, n)
	g, gctx := errgroup.WithContext(ctx)
	for b := uint32(0); b < n; b++ {
		b := b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[b] = s.queryBlock(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan: query pass: %w", err)
	}
	return results, nil
}

// Result is the reconstructed state handed back to the caller after Scan.
type Result struct {
	Registry *object.Registry
}

// Scan performs the full mount-time reconstruction: query, sort by
// descending sequence number, then apply strictly sequentially (§4.I steps
// 1-4), followed by dropping unresolved placeholders, rebuilding directory
// listings and relinking orphans. Hardlinks keep the EquivID read from
// their headers; Scan does not resolve or check their chains.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	queries, err := s.queryAllBlocks(ctx)
	if err != nil {
		return nil, err
	}

	ordered := make([]blockQuery, 0, len(queries))
	for _, q := range queries {
		if q.hasData {
			ordered = append(ordered, q)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq > ordered[j].seq })

	reg := object.NewRegistry(s.opts.MaxObjects, s.opts.TnodeConfig)
	seenHeader := make(map[uint32]bool)
	seenData := make(map[[2]uint32]bool)
	discarded := make(map[uint32]bool)

	for _, q := range ordered {
		s.tbl.Info(q.block).SeqNumber = q.seq
		s.tbl.Info(q.block).State = block.StateFull
		for _, rec := range q.chunks {
			if rec.Tags.IsHeader() {
				s.applyHeader(reg, q, rec, seenHeader, discarded)
			} else {
				s.applyData(reg, rec, seenData)
			}
		}
	}

	s.dropUnresolvedPlaceholders(reg)
	s.rebuildDirListings(reg)
	s.relinkOrphans(reg)
	return &Result{Registry: reg}, nil
}

// dropUnresolvedPlaceholders discards any object that applyData created via
// Registry.FindOrCreatePlaceholder but whose header chunk never turned up
// anywhere in the log: its data chunks are orphaned fragments with no name
// or parent to reattach, so there is nothing left to keep.
func (s *Scanner) dropUnresolvedPlaceholders(reg *object.Registry) {
	var stale []uint32
	reg.Walk(func(o *object.Object) {
		if o.Fake {
			stale = append(stale, o.ObjID)
		}
	})
	for _, id := range stale {
		s.log.Warn("data chunks found with no matching header, discarding object", "obj_id", id)
		reg.Remove(id)
	}
}

// rebuildDirListings populates every directory's Children slice from each
// object's own ParentObjID, since header chunks only record a child's
// parent, never a parent's full child list (§4.D).
func (s *Scanner) rebuildDirListings(reg *object.Registry) {
	reg.Walk(func(o *object.Object) {
		if o.ObjID == object.IDRoot {
			return
		}
		parent, ok := reg.FindByNumber(o.ParentID)
		if !ok || parent.Dir == nil {
			return
		}
		parent.Dir.Children = append(parent.Dir.Children, o.ObjID)
	})
}

func (s *Scanner) applyHeader(reg *object.Registry, q blockQuery, rec ChunkRecord, seen map[uint32]bool, discarded map[uint32]bool) {
	objID := rec.Tags.ObjID
	if seen[objID] || discarded[objID] {
		return
	}
	seen[objID] = true

	payload := q.payloads[rec.Chunk]
	hdr, err := object.UnpackHeader(payload)
	if err != nil {
		s.log.Warn("corrupt header payload, skipping object", "obj_id", objID, "error", err)
		return
	}

	obj, existed := reg.FindByNumber(objID)
	if existed {
		// A data chunk for this object was already scanned (it was sitting
		// in a newer block than this header); fill the placeholder in
		// place so its indexed tnode mappings survive.
		obj.Fill(hdr.Type, hdr.ParentObjID, hdr.Name, s.opts.TnodeConfig)
	} else {
		obj = object.NewObjectWithConfig(objID, hdr.Type, hdr.ParentObjID, hdr.Name, s.opts.TnodeConfig)
		reg.Insert(obj)
	}
	obj.Mode, obj.UID, obj.GID = hdr.Mode, hdr.UID, hdr.GID
	obj.ATime, obj.MTime, obj.CTime = hdr.ATime, hdr.MTime, hdr.CTime
	obj.HdrChunk = rec.Chunk
	switch hdr.Type {
	case tags.ObjTypeFile:
		obj.File.FileSize = hdr.FileSize()
	case tags.ObjTypeHardlink:
		obj.Hardlink.EquivID = uint32(hdr.EquivID)
	case tags.ObjTypeSymlink:
		obj.Symlink.Alias = hdr.Alias
	case tags.ObjTypeSpecial:
		obj.Special.RDev = hdr.RDev
	}
	if rec.Tags.ExtraAvailable && rec.Tags.Extra.Shadows != 0 {
		discarded[rec.Tags.Extra.Shadows] = true
		reg.Remove(rec.Tags.Extra.Shadows)
	}
	s.tbl.MarkLive(rec.Chunk)
}

func (s *Scanner) applyData(reg *object.Registry, rec ChunkRecord, seen map[[2]uint32]bool) {
	key := [2]uint32{rec.Tags.ObjID, rec.Tags.ChunkID}
	if seen[key] {
		return
	}
	// The owning object's header may not have been scanned yet: headers are
	// written once at low sequence numbers while a file's data keeps
	// rolling into newer blocks, so a multi-block file's later chunks are
	// routinely seen before its header. FindOrCreatePlaceholder lets this
	// chunk be indexed regardless, and applyHeader fills the placeholder in
	// once it's reached.
	obj := reg.FindOrCreatePlaceholder(rec.Tags.ObjID)
	if obj.File == nil {
		// Already resolved to a non-file type; a data chunk tagged against
		// it is inconsistent with the header found for this obj_id.
		return
	}
	seen[key] = true
	if err := obj.File.Tnodes.AddFind(rec.Tags.LogicalChunkID(), rec.Chunk); err != nil {
		s.log.Warn("failed to index data chunk", "obj_id", rec.Tags.ObjID, "error", err)
		return
	}
	obj.File.NDataChunks++
	s.tbl.MarkLive(rec.Chunk)
}

// relinkOrphans reattaches any object whose parent directory was never
// reconstructed to lost+found, creating it if necessary, unless
// empty-lost-and-found is set, in which case orphans are dropped instead
// (§6 mount options; §4 supplemented short-name/lost+found behavior).
func (s *Scanner) relinkOrphans(reg *object.Registry) {
	lostNFound, ok := reg.FindByNumber(object.IDLostNFound)
	if !ok {
		lostNFound = object.NewObject(object.IDLostNFound, tags.ObjTypeDirectory, object.IDRoot, "lost+found")
		reg.Insert(lostNFound)
		if root, ok := reg.FindByNumber(object.IDRoot); ok {
			reg.AddToDir(root, lostNFound)
		}
	}

	var orphans []*object.Object
	reg.Walk(func(o *object.Object) {
		if o.ObjID == object.IDRoot || o.ObjID == lostNFound.ObjID {
			return
		}
		if _, ok := reg.FindByNumber(o.ParentID); !ok {
			orphans = append(orphans, o)
		}
	})

	for _, o := range orphans {
		if s.opts.EmptyLostNFound {
			reg.Remove(o.ObjID)
			continue
		}
		reg.AddToDir(lostNFound, o)
	}
}
