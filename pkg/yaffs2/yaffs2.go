// Package yaffs2 is the public, ergonomic facade over the engine in
// internal/fs, internal/nand and internal/config: a small surface a CLI
// or embedding program can drive without reaching into internal/ itself.
package yaffs2

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nandfs/yaffs2go/internal/config"
	"github.com/nandfs/yaffs2go/internal/fs"
	"github.com/nandfs/yaffs2go/internal/logging"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/nand/filedriver"
	"github.com/nandfs/yaffs2go/internal/object"
)

// Node is the public handle for a filesystem entity returned by every
// lookup/create call. Callers pass it back into FileSystem methods; it is
// the engine's live in-memory object, not a copy, so its fields change in
// place as later operations mutate the object, mirroring the
// VolumeTarget/ProgressUpdate "plain data struct" style of pkg/app/types.go
// rather than an opaque id.
type Node = object.Object

// FileSystem is a mounted (or freshly formatted) yaffs2 device, guarding
// every operation behind internal/fs.Device's gross lock. It is the
// package's equivalent of pkg/services.ServiceFactory: one long-lived
// handle constructed once and shared by callers.
type FileSystem struct {
	dev *fs.Device
	nd  *nand.Device
}

// OpenFileImage opens (creating if absent) a flat-file NAND image at path
// sized by the given geometry, and mounts or formats a FileSystem over it.
// This is the convenience path every CLI subcommand except `format` uses
// (via cmd's openFileSystem); embedders wiring a real MTD device should use Open directly with their
// own nand.Driver.
func OpenFileImage(path string, chunkSize, spareSize, chunksPerBlock, numBlocks uint32, opt fs.Options, logger *slog.Logger) (*FileSystem, error) {
	drv, err := filedriver.New(path, chunkSize, spareSize, chunksPerBlock, numBlocks)
	if err != nil {
		return nil, fmt.Errorf("yaffs2: open image %s: %w", path, err)
	}
	geom := nand.Geometry{
		TotalBytesPerChunk: chunkSize,
		ChunksPerBlock:     chunksPerBlock,
		SpareBytesPerChunk: spareSize,
		StartBlock:         0,
		EndBlock:           numBlocks - 1,
		NReservedBlocks:    opt.ReservedBlocks,
	}
	return Open(drv, geom, opt, logger)
}

// Open wraps an already-constructed nand.Driver and geometry into a mounted
// FileSystem, calling Initialise (mount, falling back to format on a blank
// device) before returning.
func Open(drv nand.Driver, geom nand.Geometry, opt fs.Options, logger *slog.Logger) (*FileSystem, error) {
	log := logging.Scoped(logger, "yaffs2")
	nd, err := nand.NewDevice(drv, geom)
	if err != nil {
		return nil, fmt.Errorf("yaffs2: device geometry: %w", err)
	}
	if err := nd.Driver.Init(); err != nil {
		return nil, fmt.Errorf("yaffs2: driver init: %w", err)
	}
	dev := fs.New(nd, opt, log)
	if err := dev.Initialise(context.Background()); err != nil {
		return nil, fmt.Errorf("yaffs2: initialise: %w", err)
	}
	return &FileSystem{dev: dev, nd: nd}, nil
}

// FormatFileImage opens (creating if absent) a flat-file NAND image and
// unconditionally formats it, discarding any prior contents — the explicit
// counterpart to OpenFileImage's mount-or-format-if-blank behavior, used by
// the `yaffs2 format` command.
func FormatFileImage(path string, chunkSize, spareSize, chunksPerBlock, numBlocks uint32, opt fs.Options, logger *slog.Logger) (*FileSystem, error) {
	drv, err := filedriver.New(path, chunkSize, spareSize, chunksPerBlock, numBlocks)
	if err != nil {
		return nil, fmt.Errorf("yaffs2: open image %s: %w", path, err)
	}
	geom := nand.Geometry{
		TotalBytesPerChunk: chunkSize,
		ChunksPerBlock:     chunksPerBlock,
		SpareBytesPerChunk: spareSize,
		StartBlock:         0,
		EndBlock:           numBlocks - 1,
		NReservedBlocks:    opt.ReservedBlocks,
	}
	log := logging.Scoped(logger, "yaffs2")
	nd, err := nand.NewDevice(drv, geom)
	if err != nil {
		return nil, fmt.Errorf("yaffs2: device geometry: %w", err)
	}
	if err := nd.Driver.Init(); err != nil {
		return nil, fmt.Errorf("yaffs2: driver init: %w", err)
	}
	dev := fs.New(nd, opt, log)
	if err := dev.Format(context.Background()); err != nil {
		return nil, fmt.Errorf("yaffs2: format: %w", err)
	}
	return &FileSystem{dev: dev, nd: nd}, nil
}

// LoadOptions reads mount options the way a CLI flag set would: from an
// optional YAML file, environment variables, and built-in defaults, via
// internal/config.
func LoadOptions(configPath string) (fs.Options, error) {
	mo, err := config.Load(configPath)
	if err != nil {
		return fs.Options{}, err
	}
	return mo.ToDeviceOptions()
}

// Close flushes the cache, saves a checkpoint to w if non-nil, and
// releases the underlying driver. Pass nil to skip the checkpoint save
// (equivalent to NoCheckpointWrite).
func (f *FileSystem) Close(w CheckpointWriter) error {
	return f.dev.Cleanup(w)
}

// CheckpointWriter is anything a checkpoint can be streamed to — typically
// an *os.File opened alongside the NAND image.
type CheckpointWriter = interface {
	Write(p []byte) (int, error)
}

// CheckpointReader is the read-side counterpart, used to restore a
// checkpoint saved by a prior Close.
type CheckpointReader = interface {
	Read(p []byte) (int, error)
}

// SaveCheckpoint serializes the current mount state to w without closing
// the device, for callers that checkpoint on a timer rather than at exit.
func (f *FileSystem) SaveCheckpoint(w CheckpointWriter) error {
	return f.dev.SaveCheckpoint(w)
}

// LoadCheckpoint restores mount state from a stream saved by a prior
// SaveCheckpoint/Close, replacing the in-memory registry and block table
// built by Open's initial mount/format.
func (f *FileSystem) LoadCheckpoint(r CheckpointReader) error {
	return f.dev.LoadCheckpoint(r)
}

// Stats returns the running counters (§4/§9 operational counters).
func (f *FileSystem) Stats() fs.Stats {
	return f.dev.Stats()
}

// RunGC drives one garbage-collection pass at the given urgency (0 =
// passive/background, higher = more aggressive, per §4.G).
func (f *FileSystem) RunGC(ctx context.Context, urgency int) error {
	return f.dev.RunGC(ctx, urgency)
}

// DrainOneDeletion processes one queued background deletion; callers
// typically call this from an idle-time ticker rather than inline with
// foreground I/O (§4.H).
func (f *FileSystem) DrainOneDeletion() (bool, error) {
	return f.dev.DrainOneDeletion()
}

// Root returns the filesystem root directory.
func (f *FileSystem) Root() *Node {
	return f.dev.Root()
}

// Lookup resolves name under dir (§4.K find_by_name).
func (f *FileSystem) Lookup(dir *Node, name string) (*Node, bool) {
	return f.dev.FindByName(dir, name)
}

// Readdir lists dir's children (§4.K readdir).
func (f *FileSystem) Readdir(dir *Node) ([]*Node, error) {
	return f.dev.Readdir(dir)
}

// CreateFile, CreateDir, CreateSymlink and CreateSpecial add a new entry
// under parent (§4.K create/create_dir/create_symlink/create_special).
func (f *FileSystem) CreateFile(parent *Node, name string, mode uint32) (*Node, error) {
	return f.dev.CreateFile(parent, name, mode)
}

func (f *FileSystem) CreateDir(parent *Node, name string, mode uint32) (*Node, error) {
	return f.dev.CreateDir(parent, name, mode)
}

func (f *FileSystem) CreateSymlink(parent *Node, name, target string) (*Node, error) {
	return f.dev.CreateSymlink(parent, name, target)
}

func (f *FileSystem) CreateSpecial(parent *Node, name string, mode, rdev uint32) (*Node, error) {
	return f.dev.CreateSpecial(parent, name, mode, rdev)
}

// Link creates a hardlink under parent resolving to equiv (§4.K link).
func (f *FileSystem) Link(parent *Node, name string, equiv *Node) (*Node, error) {
	return f.dev.Link(parent, name, equiv)
}

// Unlink removes obj's entry from parent (§4.K unlink).
func (f *FileSystem) Unlink(parent, obj *Node) error {
	return f.dev.Unlink(parent, obj)
}

// Rename moves obj from oldParent to newParent under newName (§4.K
// rename).
func (f *FileSystem) Rename(obj, oldParent, newParent *Node, newName string) error {
	return f.dev.Rename(obj, oldParent, newParent, newName)
}

// Read, Write, Resize and Flush are the file-content operations (§4.K
// read/write/resize/flush).
func (f *FileSystem) Read(obj *Node, offset int64, p []byte) (int, error) {
	return f.dev.Read(obj, offset, p)
}

func (f *FileSystem) Write(obj *Node, offset int64, p []byte) (int, error) {
	return f.dev.Write(obj, offset, p)
}

func (f *FileSystem) Resize(obj *Node, newSize uint64) error {
	return f.dev.Resize(obj, newSize)
}

func (f *FileSystem) Flush() error {
	return f.dev.Flush()
}

// SetXAttr, GetXAttr, ListXAttr and RemoveXAttr manage extended attributes
// piggybacked on obj's header chunk (§4.K xattr set/get/list/remove).
func (f *FileSystem) SetXAttr(obj *Node, name string, value []byte) error {
	return f.dev.SetXAttr(obj, name, value)
}

func (f *FileSystem) GetXAttr(obj *Node, name string) ([]byte, bool) {
	return f.dev.GetXAttr(obj, name)
}

func (f *FileSystem) ListXAttr(obj *Node) []string {
	return f.dev.ListXAttr(obj)
}

func (f *FileSystem) RemoveXAttr(obj *Node, name string) error {
	return f.dev.RemoveXAttr(obj, name)
}

// OpenCheckpointFile is a small convenience for the common case of
// checkpointing to a plain file alongside the NAND image, so CLI code
// doesn't need to import os itself just to call Close/SaveCheckpoint.
func OpenCheckpointFile(path string, forWrite bool) (*os.File, error) {
	if forWrite {
		return os.Create(path)
	}
	return os.Open(path)
}
