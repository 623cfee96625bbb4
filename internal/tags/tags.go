// Package tags implements the per-chunk tag codec: packing and unpacking
// the metadata record ("tags") that identifies a chunk's owning object,
// logical position, byte count and sequence number, either into the NAND
// spare area (OOB) or inline in the chunk payload (inband).
package tags

import (
	"github.com/nandfs/yaffs2go/internal/nand"
)

// ObjType enumerates the kinds of filesystem object a header chunk can
// describe. Stored on flash as a u32 to avoid compiler-variant alignment
// issues, mirrored here as a sized Go type for the same reason.
type ObjType uint32

const (
	ObjTypeUnknown ObjType = iota
	ObjTypeFile
	ObjTypeSymlink
	ObjTypeDirectory
	ObjTypeHardlink
	ObjTypeSpecial
)

func (t ObjType) String() string {
	switch t {
	case ObjTypeFile:
		return "file"
	case ObjTypeSymlink:
		return "symlink"
	case ObjTypeDirectory:
		return "directory"
	case ObjTypeHardlink:
		return "hardlink"
	case ObjTypeSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// StorageMode selects where tags live relative to chunk payload.
type StorageMode int

const (
	// ModeOOB places tags in the NAND spare area, alongside the payload.
	ModeOOB StorageMode = iota
	// ModeInband places tags inline at the tail of the chunk payload,
	// shrinking the usable data bytes by the packed tag length.
	ModeInband
)

// Extra carries the header-only fields of a tag record. Valid only when
// ExtTags.ExtraAvailable is true (i.e. this chunk is a header chunk).
type Extra struct {
	ParentID uint32
	IsShrink bool
	Shadows  uint32 // 0 = does not shadow another object
	ObjType  ObjType
	FileSize uint64
	EquivID  uint32
}

// ExtTags is the in-RAM, decoded form of a chunk's tag record.
type ExtTags struct {
	ChunkUsed bool
	ObjID     uint32
	// ChunkID is 0 for a header chunk, or (logical chunk index + 1) for a
	// data chunk.
	ChunkID   uint32
	NBytes    uint32
	SeqNumber uint32

	ECCResult nand.ECCResult
	BlockBad  bool

	ExtraAvailable bool
	Extra          Extra
}

// IsHeader reports whether this tag describes an object header chunk.
func (t ExtTags) IsHeader() bool { return t.ChunkID == 0 }

// LogicalChunkID returns the file-relative logical chunk index for a data
// chunk. Only meaningful when !IsHeader().
func (t ExtTags) LogicalChunkID() uint32 {
	if t.ChunkID == 0 {
		return 0
	}
	return t.ChunkID - 1
}

// NewDataTags builds a tag record for a data chunk at logicalChunkID.
func NewDataTags(objID, logicalChunkID uint32, nBytes, seq uint32) ExtTags {
	return ExtTags{
		ChunkUsed: true,
		ObjID:     objID,
		ChunkID:   logicalChunkID + 1,
		NBytes:    nBytes,
		SeqNumber: seq,
		ECCResult: nand.ECCNoError,
	}
}

// NewHeaderTags builds a tag record for an object header chunk.
func NewHeaderTags(objID, seq uint32, extra Extra) ExtTags {
	return ExtTags{
		ChunkUsed:      true,
		ObjID:          objID,
		ChunkID:        0,
		SeqNumber:      seq,
		ECCResult:      nand.ECCNoError,
		ExtraAvailable: true,
		Extra:          extra,
	}
}
