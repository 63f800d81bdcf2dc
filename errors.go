package gofat

import (
	"fmt"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

// DriverError is a wrapper around a POSIX errno code with a customizable
// error message. It is the error type returned by every exported operation
// in this package.
type DriverError struct {
	ErrnoCode syscall.Errno
	message   string
}

// Error implements the `error` interface.
func (e DriverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.ErrnoCode.Error()
}

// Errno returns the underlying POSIX error code for this error.
func (e DriverError) Errno() syscall.Errno {
	return e.ErrnoCode
}

// Is lets callers use errors.Is(err, gofat.ErrNotFound) and friends.
func (e DriverError) Is(target error) bool {
	other, ok := target.(DriverError)
	if !ok {
		return false
	}
	return e.ErrnoCode == other.ErrnoCode
}

// NewDriverError creates a new DriverError with a default message derived
// from the system's error code.
func NewDriverError(errnoCode syscall.Errno) DriverError {
	return DriverError{ErrnoCode: errnoCode, message: errnoCode.Error()}
}

// NewDriverErrorWithMessage creates a new DriverError from a system error
// code with a custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) DriverError {
	return DriverError{
		ErrnoCode: errnoCode,
		message:   fmt.Sprintf("%s: %s", errnoCode.Error(), message),
	}
}

// NewDriverErrorFromError wraps an arbitrary error under a POSIX errno code,
// for surfacing block-device I/O failures (spec's Io(E) kind) without losing
// the original error text.
func NewDriverErrorFromError(errnoCode syscall.Errno, err error) DriverError {
	if err == nil {
		return NewDriverError(errnoCode)
	}
	return NewDriverErrorWithMessage(errnoCode, err.Error())
}

// The error taxonomy from spec.md section 7. Each sentinel is a DriverError
// so callers can compare with errors.Is/errors.As as well as inspect Errno().
var (
	// ErrCorruptedFileSystem indicates an on-disk invariant violation: a bad
	// BPB, a cyclic cluster chain, a bad LFN checksum, or a free-count
	// mismatch beyond tolerance.
	ErrCorruptedFileSystem = NewDriverError(syscall.EUCLEAN)
	// ErrNotFound indicates a directory lookup failed.
	ErrNotFound = NewDriverError(syscall.ENOENT)
	// ErrAlreadyExists indicates a create was attempted for an existing name.
	ErrAlreadyExists = NewDriverError(syscall.EEXIST)
	// ErrNotEmpty indicates a remove was attempted on a non-empty directory.
	ErrNotEmpty = NewDriverError(syscall.ENOTEMPTY)
	// ErrInvalidInput covers names that are too long, invalid characters,
	// negative seek offsets, and impossible truncation sizes.
	ErrInvalidInput = NewDriverError(syscall.EINVAL)
	// ErrNoSpace indicates allocation exhausted the volume.
	ErrNoSpace = NewDriverError(syscall.ENOSPC)
	// ErrReadOnly indicates a write was attempted on a read-only mount, or a
	// read-only attribute was violated.
	ErrReadOnly = NewDriverError(syscall.EROFS)
	// ErrFileLocked indicates a lock acquisition failed (section 4.8).
	ErrFileLocked = NewDriverError(syscall.EWOULDBLOCK)
	// ErrNotDirectory indicates an operation that requires a directory was
	// given a file.
	ErrNotDirectory = NewDriverError(syscall.ENOTDIR)
	// ErrIsDirectory indicates an operation that requires a file was given a
	// directory.
	ErrIsDirectory = NewDriverError(syscall.EISDIR)
	// ErrDirtyOnDrop indicates a file handle was abandoned without a flush.
	ErrDirtyOnDrop = NewDriverError(syscall.EBADF)
)

// NewIOError wraps an underlying block-device error as the spec's Io(E) kind.
func NewIOError(err error) DriverError {
	return NewDriverErrorFromError(syscall.EIO, err)
}

// AppendCorruption accumulates one or more corruption-class errors observed
// while scanning a structure (e.g. verifying every mirrored FAT, or replaying
// a transaction log across several sectors) so the caller can report all of
// them instead of stopping at the first.
//
// Mirrors the aggregation idiom the teacher pulls in via go-multierror but
// never has occasion to call in the retrieved slice; the transaction log and
// FAT-mirror flush are where this spec actually needs it.
func AppendCorruption(existing error, next error) error {
	if next == nil {
		return existing
	}
	return multierror.Append(existing, next)
}
