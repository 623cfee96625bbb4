// Package yerrors defines the sentinel error kinds shared across the
// filesystem engine. Callers use errors.Is against these values; internal
// packages wrap them with fmt.Errorf("...: %w", err) to add context.
package yerrors

import "errors"

var (
	// ErrNandProgramFail indicates a NAND page program operation failed.
	ErrNandProgramFail = errors.New("nand: program failed")
	// ErrNandReadFail indicates a NAND page read operation failed.
	ErrNandReadFail = errors.New("nand: read failed")
	// ErrNandEraseFail indicates a block erase operation failed.
	ErrNandEraseFail = errors.New("nand: erase failed")
	// ErrECCUnfixable indicates data ECC could not correct a read.
	ErrECCUnfixable = errors.New("nand: uncorrectable ECC error")
	// ErrBadBlock indicates an operation targeted a retired block.
	ErrBadBlock = errors.New("nand: block is bad")
	// ErrNoSpace indicates the allocator has reached its reserve line.
	ErrNoSpace = errors.New("fs: no space left on device")
	// ErrNoSuchObject indicates a lookup by id or name found nothing.
	ErrNoSuchObject = errors.New("fs: no such object")
	// ErrNameTooLong indicates a name exceeds the on-flash name field.
	ErrNameTooLong = errors.New("fs: name too long")
	// ErrNotADirectory indicates a directory-only operation hit a non-dir.
	ErrNotADirectory = errors.New("fs: not a directory")
	// ErrDirectoryNotEmpty indicates an unlink/rmdir on a non-empty dir.
	ErrDirectoryNotEmpty = errors.New("fs: directory not empty")
	// ErrCrossDevice indicates an operation spanned two devices.
	ErrCrossDevice = errors.New("fs: cross-device link")
	// ErrCheckpointInvalid indicates the checkpoint stream failed validation.
	ErrCheckpointInvalid = errors.New("checkpoint: invalid or corrupt stream")
	// ErrTagInvalid indicates a chunk's tag record failed to decode.
	ErrTagInvalid = errors.New("tags: invalid tag record")
	// ErrOutOfMemory indicates an allocation-side failure in the runtime.
	ErrOutOfMemory = errors.New("fs: out of memory")
	// ErrReadOnly indicates a mutating call against a read-only mount.
	ErrReadOnly = errors.New("fs: read-only device")
)
