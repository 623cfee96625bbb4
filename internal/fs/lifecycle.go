package fs

import (
	"context"

	"github.com/nandfs/yaffs2go/internal/object"
)

// Initialise brings up the device: mounts existing state, or formats a
// fresh one if mount finds nothing usable to scan (an empty device has no
// blocks in any non-Empty state, so the scanner's backward pass finds
// zero headers and Mount still succeeds with just the reserved objects
// missing) — callers that need a guaranteed-blank device should call
// Format directly instead (§4.K initialise/format).
func (d *Device) Initialise(ctx context.Context) error {
	if err := d.Mount(ctx); err != nil {
		return err
	}
	if _, ok := d.reg.FindByNumber(object.IDRoot); !ok {
		return d.Format(ctx)
	}
	return nil
}

// Cleanup is the deinitialise/unmount path: flush the cache, save a
// checkpoint if configured to, and release the driver (§4.K
// deinitialise/cleanup, §5 shutdown sequence).
func (d *Device) Cleanup(w checkpointWriter) error {
	if err := d.Deinitialise(w); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nand.Driver.Deinit()
}
