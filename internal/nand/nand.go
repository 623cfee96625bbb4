// Package nand defines the uniform NAND abstraction every higher layer
// programs against: {program, read, erase, mark_bad, query_bad} over a
// driver callback set, plus the fixed-at-mount device geometry.
package nand

import (
	"fmt"

	"github.com/google/uuid"
)

// Result is the synchronous outcome of a driver operation.
type Result int

const (
	// ResultOK means the operation completed successfully.
	ResultOK Result = iota
	// ResultRetry means the operation failed but is eligible for retry
	// (e.g. on a fresh block), per the WR_ATTEMPTS retry policy.
	ResultRetry
	// ResultFail means the operation failed permanently.
	ResultFail
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultRetry:
		return "retry"
	case ResultFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ECCResult is the outcome of a data-ECC pass over a chunk read.
type ECCResult int

const (
	ECCUnknown ECCResult = iota
	ECCNoError
	ECCFixed
	ECCUnfixed
)

func (r ECCResult) String() string {
	switch r {
	case ECCNoError:
		return "no-error"
	case ECCFixed:
		return "fixed"
	case ECCUnfixed:
		return "unfixed"
	default:
		return "unknown"
	}
}

// Geometry is fixed at mount time and never changes for the life of a
// mounted device.
type Geometry struct {
	// TotalBytesPerChunk is the full page payload size.
	TotalBytesPerChunk uint32
	// ChunksPerBlock is the number of chunks in one erase unit.
	ChunksPerBlock uint32
	// SpareBytesPerChunk is the OOB/spare area size, if any.
	SpareBytesPerChunk uint32
	// StartBlock and EndBlock bound the usable block range (inclusive).
	StartBlock uint32
	EndBlock   uint32
	// NReservedBlocks is held aside so GC can always make forward progress.
	NReservedBlocks uint32
	// InstanceID optionally tags this device instance for diagnostics; the
	// package tests fill it with uuid.New() so their device images get
	// distinct ids, while pkg/yaffs2's image helpers leave it zero. It is
	// the same role google/uuid plays in tagging discovered containers.
	InstanceID uuid.UUID
}

// NumBlocks returns the count of usable blocks.
func (g Geometry) NumBlocks() uint32 {
	return g.EndBlock - g.StartBlock + 1
}

// Validate checks that the geometry is internally consistent.
func (g Geometry) Validate() error {
	if g.TotalBytesPerChunk == 0 {
		return fmt.Errorf("nand: total_bytes_per_chunk must be > 0")
	}
	if g.ChunksPerBlock == 0 {
		return fmt.Errorf("nand: chunks_per_block must be > 0")
	}
	if g.EndBlock < g.StartBlock {
		return fmt.Errorf("nand: end_block %d precedes start_block %d", g.EndBlock, g.StartBlock)
	}
	if g.NReservedBlocks >= g.NumBlocks() {
		return fmt.Errorf("nand: n_reserved_blocks %d leaves no usable blocks", g.NReservedBlocks)
	}
	return nil
}

// Driver is the five-callback contract a concrete NAND (or NAND-emulating
// file/device) backend must implement. All operations are synchronous.
type Driver interface {
	// Program writes one chunk's data and OOB bytes. Pages within a block
	// must be programmed in ascending page order by the caller.
	Program(block, page uint32, data, oob []byte) (Result, error)
	// Read reads one chunk's data and OOB bytes, reporting the ECC outcome.
	Read(block, page uint32, dataOut, oobOut []byte) (Result, ECCResult, error)
	// Erase erases an entire block.
	Erase(block uint32) (Result, error)
	// MarkBad records a block as permanently bad.
	MarkBad(block uint32) error
	// CheckBad reports whether a block is already marked bad.
	CheckBad(block uint32) (bool, error)
	// Init prepares the driver for use; called once at mount.
	Init() error
	// Deinit releases driver resources; called once at unmount.
	Deinit() error
}

// Device couples a Driver with its Geometry and provides chunk<->block/page
// addressing used throughout the rest of the engine.
type Device struct {
	Driver   Driver
	Geometry Geometry
}

// NewDevice validates geometry and wraps a driver.
func NewDevice(drv Driver, geom Geometry) (*Device, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return &Device{Driver: drv, Geometry: geom}, nil
}

// ChunkOf converts a (block, page) pair into a flat chunk number.
func (d *Device) ChunkOf(block, page uint32) uint32 {
	return block*d.Geometry.ChunksPerBlock + page
}

// BlockOf returns the block containing a flat chunk number.
func (d *Device) BlockOf(chunk uint32) uint32 {
	return chunk / d.Geometry.ChunksPerBlock
}

// PageOf returns the in-block page offset of a flat chunk number.
func (d *Device) PageOf(chunk uint32) uint32 {
	return chunk % d.Geometry.ChunksPerBlock
}

// ProgramChunk programs the chunk identified by a flat chunk number.
func (d *Device) ProgramChunk(chunk uint32, data, oob []byte) (Result, error) {
	return d.Driver.Program(d.BlockOf(chunk), d.PageOf(chunk), data, oob)
}

// ReadChunk reads the chunk identified by a flat chunk number.
func (d *Device) ReadChunk(chunk uint32, dataOut, oobOut []byte) (Result, ECCResult, error) {
	return d.Driver.Read(d.BlockOf(chunk), d.PageOf(chunk), dataOut, oobOut)
}
