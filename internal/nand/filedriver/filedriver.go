// Package filedriver implements nand.Driver over a regular file, standing
// in for a raw MTD character device so the engine can be exercised and
// fsck'd without real NAND hardware.
package filedriver

import (
	"fmt"
	"os"

	"github.com/nandfs/yaffs2go/internal/nand"
)

// Driver is a nand.Driver backed by a single flat file. Each chunk occupies
// dataSize+spareSize contiguous bytes; each block occupies chunksPerBlock
// such chunks back to back. Erase fills the block's region with 0xFF, the
// empty-NAND fill value.
type Driver struct {
	f              *os.File
	dataSize       uint32
	spareSize      uint32
	chunksPerBlock uint32
	badBlocks      map[uint32]bool
}

// New opens or creates path sized to hold numBlocks blocks of the given
// geometry, and returns a ready-to-use Driver.
func New(path string, dataSize, spareSize, chunksPerBlock, numBlocks uint32) (*Driver, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filedriver: open %s: %w", path, err)
	}
	blockBytes := int64(dataSize+spareSize) * int64(chunksPerBlock)
	total := blockBytes * int64(numBlocks)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filedriver: stat: %w", err)
	}
	if info.Size() < total {
		if err := f.Truncate(total); err != nil {
			f.Close()
			return nil, fmt.Errorf("filedriver: truncate: %w", err)
		}
		if err := fillErased(f, info.Size(), total); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Driver{
		f:              f,
		dataSize:       dataSize,
		spareSize:      spareSize,
		chunksPerBlock: chunksPerBlock,
		badBlocks:      make(map[uint32]bool),
	}, nil
}

func fillErased(f *os.File, from, to int64) error {
	const chunkBuf = 64 * 1024
	buf := make([]byte, chunkBuf)
	for i := range buf {
		buf[i] = 0xFF
	}
	for off := from; off < to; {
		n := int64(len(buf))
		if off+n > to {
			n = to - off
		}
		if _, err := f.WriteAt(buf[:n], off); err != nil {
			return fmt.Errorf("filedriver: erase-fill: %w", err)
		}
		off += n
	}
	return nil
}

func (d *Driver) chunkOffset(block, page uint32) int64 {
	blockBytes := int64(d.dataSize+d.spareSize) * int64(d.chunksPerBlock)
	return int64(block)*blockBytes + int64(page)*int64(d.dataSize+d.spareSize)
}

// Program writes data immediately followed by oob at the chunk's offset.
func (d *Driver) Program(block, page uint32, data, oob []byte) (nand.Result, error) {
	if d.badBlocks[block] {
		return nand.ResultFail, fmt.Errorf("filedriver: block %d is bad", block)
	}
	off := d.chunkOffset(block, page)
	if _, err := d.f.WriteAt(data, off); err != nil {
		return nand.ResultFail, fmt.Errorf("filedriver: program data: %w", err)
	}
	if len(oob) > 0 {
		if _, err := d.f.WriteAt(oob, off+int64(d.dataSize)); err != nil {
			return nand.ResultFail, fmt.Errorf("filedriver: program oob: %w", err)
		}
	}
	return nand.ResultOK, nil
}

// Read reads data and oob back into the caller's buffers. The file backend
// never injects bit errors, so ECC always reports no-error.
func (d *Driver) Read(block, page uint32, dataOut, oobOut []byte) (nand.Result, nand.ECCResult, error) {
	if d.badBlocks[block] {
		return nand.ResultFail, nand.ECCUnknown, fmt.Errorf("filedriver: block %d is bad", block)
	}
	off := d.chunkOffset(block, page)
	if _, err := d.f.ReadAt(dataOut, off); err != nil {
		return nand.ResultFail, nand.ECCUnknown, fmt.Errorf("filedriver: read data: %w", err)
	}
	if len(oobOut) > 0 {
		if _, err := d.f.ReadAt(oobOut, off+int64(d.dataSize)); err != nil {
			return nand.ResultFail, nand.ECCUnknown, fmt.Errorf("filedriver: read oob: %w", err)
		}
	}
	return nand.ResultOK, nand.ECCNoError, nil
}

// Erase fills the block's region back to the NAND-erased 0xFF value.
func (d *Driver) Erase(block uint32) (nand.Result, error) {
	if d.badBlocks[block] {
		return nand.ResultFail, fmt.Errorf("filedriver: block %d is bad", block)
	}
	off := d.chunkOffset(block, 0)
	end := off + int64(d.dataSize+d.spareSize)*int64(d.chunksPerBlock)
	if err := fillErased(d.f, off, end); err != nil {
		return nand.ResultFail, err
	}
	return nand.ResultOK, nil
}

// MarkBad records block as permanently bad.
func (d *Driver) MarkBad(block uint32) error {
	d.badBlocks[block] = true
	return nil
}

// CheckBad reports whether block was previously marked bad.
func (d *Driver) CheckBad(block uint32) (bool, error) {
	return d.badBlocks[block], nil
}

// Init is a no-op for the file backend; the file is already open.
func (d *Driver) Init() error { return nil }

// Deinit closes the backing file.
func (d *Driver) Deinit() error {
	return d.f.Close()
}
