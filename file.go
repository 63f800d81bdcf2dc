package gofat

import (
	"github.com/kelvindash/gofat/internal/directory"
	"github.com/kelvindash/gofat/internal/fileio"
	"github.com/kelvindash/gofat/internal/filelock"
)

// File is a handle to an open file within a mounted Volume, positioned at a
// cursor that Read/Write/Seek move and Truncate can shrink or grow past.
// Closing releases the lock filelock.Table granted when it was opened;
// using a File after Close is undefined.
type File struct {
	vol    *Volume
	dir    *Dir
	loc    directory.Location
	key    filelock.Key
	writer bool
	cursor *fileio.File
	closed bool
}

// Size returns the file's current logical length in bytes.
func (f *File) Size() int64 {
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()
	return f.cursor.Size()
}

// Seek moves the cursor to an absolute byte offset.
func (f *File) Seek(offset int64) error {
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()
	if err := f.cursor.Seek(offset); err != nil {
		return NewDriverErrorFromError(ErrInvalidInput.Errno(), err)
	}
	return nil
}

// Read fills buf from the current cursor position, returning the number of
// bytes actually read (fewer than len(buf) only at EOF).
func (f *File) Read(buf []byte) (int, error) {
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()
	n, err := f.cursor.Read(buf)
	if err != nil {
		return n, NewIOError(err)
	}
	return n, nil
}

// Write writes buf at the current cursor position, growing the file's
// cluster chain as needed, and refreshes the directory entry in place so
// size and first-cluster stay coherent with what List() reports. Only
// handles opened via CreateFile hold the writer lock; a handle from
// OpenFile returns ErrReadOnly.
func (f *File) Write(buf []byte) (int, error) {
	if !f.writer {
		return 0, ErrReadOnly
	}
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()

	n, err := f.cursor.Write(buf)
	if err != nil {
		return n, NewDriverErrorFromError(ErrNoSpace.Errno(), err)
	}

	now := f.vol.now()
	if uerr := f.vol.dirs.UpdateInPlace(f.dir.firstCluster, f.loc, f.cursor.FirstCluster(), uint32(f.cursor.Size()), now); uerr != nil {
		return n, NewIOError(uerr)
	}
	f.vol.markDirty()
	return n, nil
}

// Truncate changes the file's logical length, releasing clusters beyond the
// new size back to the FAT and bitmap, and refreshes the directory entry.
func (f *File) Truncate(newSize int64) error {
	if !f.writer {
		return ErrReadOnly
	}
	f.vol.mu.Lock()
	defer f.vol.mu.Unlock()

	if err := f.cursor.Truncate(newSize); err != nil {
		return NewDriverErrorFromError(ErrInvalidInput.Errno(), err)
	}
	now := f.vol.now()
	if uerr := f.vol.dirs.UpdateInPlace(f.dir.firstCluster, f.loc, f.cursor.FirstCluster(), uint32(f.cursor.Size()), now); uerr != nil {
		return NewIOError(uerr)
	}
	f.vol.markDirty()
	return nil
}

// Flush persists the volume's FAT cache and FSInfo hint, so this file's
// writes survive an unmount. It does not release the handle's lock; call
// Close for that.
func (f *File) Flush() error {
	return f.vol.Flush()
}

// Close releases the reader or writer lock this handle holds. A File must
// not be used after Close.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.writer {
		f.vol.locks.WriteUnlock(f.key)
	} else {
		f.vol.locks.ReadUnlock(f.key)
	}
	return nil
}
