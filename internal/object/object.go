// Package object implements the in-RAM entities for files, directories,
// symlinks, hardlinks and special nodes, indexed by object id in a
// fixed-size hash bucket table (§3 Object, §4.D Object model).
package object

import (
	"fmt"

	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/nandfs/yaffs2go/internal/yerrors"
	"golang.org/x/sys/unix"
)

// Reserved object ids (§3 Object).
const (
	IDRoot             uint32 = 1
	IDLostNFound       uint32 = 2
	IDUnlinked         uint32 = 3
	IDDeleted          uint32 = 4
	IDSummary          uint32 = 0x10
	IDCheckpointData   uint32 = 0x20
	IDCheckpointSeqNum uint32 = 0x21

	// ObjectSpace bounds obj_id to 19 bits: [1, ObjectSpace).
	ObjectSpace  uint32 = 0x40000
	MaxObjectID  uint32 = ObjectSpace - 1
	NumBuckets   int    = 256
	MaxNameLen          = 255
	MaxAliasLen         = 159
	ShortNameLen        = 15
)

// Header mirrors the on-flash object header record (§3 Object header, §6).
type Header struct {
	Type           tags.ObjType
	ParentObjID    uint32
	Name           string
	Mode           uint32
	UID            uint32
	GID            uint32
	ATime          uint32
	MTime          uint32
	CTime          uint32
	FileSizeLow    uint32
	FileSizeHigh   uint32
	EquivID        int32
	Alias          string
	RDev           uint32
	InbandShadowed uint32
	InbandIsShrink uint32
	ShadowsObj     int32
	IsShrink       bool
	// XAttr holds the object's extended attributes, packed name/value pairs
	// (§4.K xattr set/get/list/remove), piggybacked on the same header
	// chunk rather than a separate chunk type.
	XAttr map[string][]byte
}

// FileSize combines the low/high halves into a single 64-bit size.
func (h Header) FileSize() uint64 {
	return uint64(h.FileSizeHigh)<<32 | uint64(h.FileSizeLow)
}

// SetFileSize splits a 64-bit size into the on-flash low/high halves.
func (h *Header) SetFileSize(size uint64) {
	h.FileSizeLow = uint32(size & 0xFFFFFFFF)
	h.FileSizeHigh = uint32(size >> 32)
}

// Validate enforces the name/alias length limits (§3, §7 ErrNameTooLong).
func (h Header) Validate() error {
	if len(h.Name) > MaxNameLen {
		return fmt.Errorf("object: name %q exceeds %d bytes: %w", h.Name, MaxNameLen, yerrors.ErrNameTooLong)
	}
	if len(h.Alias) > MaxAliasLen {
		return fmt.Errorf("object: alias %q exceeds %d bytes: %w", h.Alias, MaxAliasLen, yerrors.ErrNameTooLong)
	}
	return nil
}

// MakeRdev and DecodeRdev bridge the header's packed rdev field and
// major/minor device numbers for special nodes, using the same
// unix.Mkdev/Major/Minor helpers the pack's squashfs writer uses when it
// composes device-node inodes.
func MakeRdev(major, minor uint32) uint32 {
	return uint32(unix.Mkdev(major, minor))
}

func DecodeRdev(rdev uint32) (major, minor uint32) {
	dev := uint64(rdev)
	return uint32(unix.Major(dev)), uint32(unix.Minor(dev))
}

// FileVariant holds the per-file chunk index and size bookkeeping (§3
// Tnode tree, §4.E).
type FileVariant struct {
	Tnodes      *tnode.Tree
	FileSize    uint64
	NDataChunks int
}

// DirVariant holds a directory's sibling list of children object ids.
type DirVariant struct {
	Children []uint32
}

// SymlinkVariant holds a symlink's target path text.
type SymlinkVariant struct {
	Alias string
}

// HardlinkVariant holds the id of the object this hardlink resolves to.
type HardlinkVariant struct {
	EquivID uint32
}

// SpecialVariant holds a special node's device number.
type SpecialVariant struct {
	RDev uint32
}

// Object is the in-RAM representation of one filesystem entity (§3
// Object). Variant is a tagged sum (§9 DESIGN NOTES: "Tagged variants over
// union"): exactly one of the *Variant fields is valid, selected by Type.
type Object struct {
	ObjID     uint32
	Type      tags.ObjType
	ParentID  uint32
	Name      string
	ShortName string
	Mode      uint32
	UID       uint32
	GID       uint32
	ATime     uint32
	MTime     uint32
	CTime     uint32
	HdrChunk  uint32

	Deleted      bool
	SoftDel      bool
	Unlinked     bool
	Fake         bool
	Dirty        bool
	Valid        bool
	LazyLoaded   bool
	DeferredFree bool
	IsShadowed   bool

	XAttr map[string][]byte

	File      *FileVariant
	Dir       *DirVariant
	Symlink   *SymlinkVariant
	Hardlink  *HardlinkVariant
	Special   *SpecialVariant
}

// truncateShortName mirrors the on-flash short_name cache (§4 Supplemented
// features): a bounded prefix kept on the in-RAM object for fast readdir
// without a full header read.
func truncateShortName(name string) string {
	if len(name) <= ShortNameLen {
		return name
	}
	return name[:ShortNameLen]
}

// NewObject constructs an Object of the given type with its variant
// pre-populated, ready to be linked into a Registry and a parent directory.
// File variants get a wide-mode tnode tree; use NewObjectWithConfig to honor
// a device's narrow_tnodes mount option.
func NewObject(objID uint32, t tags.ObjType, parentID uint32, name string) *Object {
	return NewObjectWithConfig(objID, t, parentID, name, tnode.DefaultConfig())
}

// NewObjectWithConfig is NewObject, sizing a file variant's tnode tree per
// cfg (ignored for non-file types) so it matches the device's configured
// wide/narrow tnode mode (§4.E, §6 narrow_tnodes).
func NewObjectWithConfig(objID uint32, t tags.ObjType, parentID uint32, name string, cfg tnode.Config) *Object {
	o := &Object{
		ObjID:     objID,
		Type:      t,
		ParentID:  parentID,
		Name:      name,
		ShortName: truncateShortName(name),
		Valid:     true,
	}
	switch t {
	case tags.ObjTypeFile:
		o.File = &FileVariant{Tnodes: tnode.NewTree(cfg)}
	case tags.ObjTypeDirectory:
		o.Dir = &DirVariant{}
	case tags.ObjTypeSymlink:
		o.Symlink = &SymlinkVariant{}
	case tags.ObjTypeHardlink:
		o.Hardlink = &HardlinkVariant{}
	case tags.ObjTypeSpecial:
		o.Special = &SpecialVariant{}
	}
	return o
}

// IsDir reports whether this object is a directory.
func (o *Object) IsDir() bool { return o.Type == tags.ObjTypeDirectory }

// Fill promotes a placeholder object (Registry.FindOrCreatePlaceholder)
// into a fully known object once its header chunk is located, preserving
// any data already indexed into o.File.Tnodes rather than discarding it
// (internal/scan: a file's data chunks can land in blocks newer than the
// block holding its own header).
func (o *Object) Fill(t tags.ObjType, parentID uint32, name string, cfg tnode.Config) {
	o.Type = t
	o.ParentID = parentID
	o.Name = name
	o.ShortName = truncateShortName(name)
	o.Valid = true
	o.Fake = false
	if t == tags.ObjTypeFile {
		if o.File == nil {
			o.File = &FileVariant{Tnodes: tnode.NewTree(cfg)}
		}
		return
	}
	o.File = nil
	switch t {
	case tags.ObjTypeDirectory:
		o.Dir = &DirVariant{}
	case tags.ObjTypeSymlink:
		o.Symlink = &SymlinkVariant{}
	case tags.ObjTypeHardlink:
		o.Hardlink = &HardlinkVariant{}
	case tags.ObjTypeSpecial:
		o.Special = &SpecialVariant{}
	}
}

// ToHeader renders the in-RAM object into its on-flash header form, the
// record a caller writes to a fresh chunk on every mutation (§4.D: "writes
// a new object header to the log; the previous header is superseded purely
// by sequence order").
func (o *Object) ToHeader() Header {
	h := Header{
		Type:        o.Type,
		ParentObjID: o.ParentID,
		Name:        o.Name,
		Mode:        o.Mode,
		UID:         o.UID,
		GID:         o.GID,
		ATime:       o.ATime,
		MTime:       o.MTime,
		CTime:       o.CTime,
		XAttr:       o.XAttr,
	}
	switch o.Type {
	case tags.ObjTypeFile:
		h.SetFileSize(o.File.FileSize)
	case tags.ObjTypeHardlink:
		h.EquivID = int32(o.Hardlink.EquivID)
	case tags.ObjTypeSymlink:
		h.Alias = o.Symlink.Alias
	case tags.ObjTypeSpecial:
		h.RDev = o.Special.RDev
	}
	return h
}
