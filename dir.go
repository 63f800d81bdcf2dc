package gofat

import (
	"strings"

	"github.com/kelvindash/gofat/internal/dirent"
	"github.com/kelvindash/gofat/internal/directory"
	"github.com/kelvindash/gofat/internal/fattable"
	"github.com/kelvindash/gofat/internal/fileio"
	"github.com/kelvindash/gofat/internal/filelock"
)

// Dir is a handle onto one directory within a mounted Volume. It borrows the
// Volume's subcomponents; using a Dir after its Volume has been unmounted is
// undefined.
type Dir struct {
	vol          *Volume
	firstCluster fattable.ClusterID
}

// DirEntry is the public, read-only view of one directory entry.
type DirEntry struct {
	Name         string
	IsDir        bool
	Size         uint32
	Created      Timestamp
	LastModified Timestamp
	LastAccessed Timestamp
}

func toPublicTimestamp(t dirent.Timestamp) Timestamp {
	return Timestamp{
		Year: t.Year, Month: t.Month, Day: t.Day,
		Hour: t.Hour, Minute: t.Minute, Second: t.Second, Millis: t.Millis,
	}
}

// List returns every live entry in this directory, in on-disk order.
func (d *Dir) List() ([]DirEntry, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	entries, err := d.vol.dirs.List(d.firstCluster)
	if err != nil {
		return nil, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if d.vol.options.IgnoreHidden && e.Attributes&dirent.AttrHidden != 0 {
			continue
		}
		out = append(out, DirEntry{
			Name:         e.Name,
			IsDir:        e.IsDir(),
			Size:         e.Size,
			Created:      toPublicTimestamp(e.Created),
			LastModified: toPublicTimestamp(e.LastModified),
			LastAccessed: toPublicTimestamp(e.LastAccessed),
		})
	}
	return out, nil
}

func (d *Dir) find(name string) (directory.Entry, error) {
	entry, ok, err := d.vol.dirs.Find(d.firstCluster, name)
	if err != nil {
		return directory.Entry{}, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
	}
	if !ok {
		return directory.Entry{}, ErrNotFound
	}
	return entry, nil
}

// OpenDir resolves `name` within this directory and returns a handle to it.
func (d *Dir) OpenDir(name string) (*Dir, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	entry, err := d.find(name)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		return nil, ErrNotDirectory
	}
	return &Dir{vol: d.vol, firstCluster: entry.FirstCluster}, nil
}

// OpenFile resolves `name` within this directory and returns a read-only
// handle to the underlying file, ready for Read/Seek; Write and Truncate on
// it return ErrReadOnly.
func (d *Dir) OpenFile(name string) (*File, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	entry, err := d.find(name)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, ErrIsDirectory
	}

	key := filelockKey(entry)
	if !d.vol.locks.TryReadLock(key) {
		return nil, ErrFileLocked
	}

	cursor, err := fileio.Open(d.vol.accessor, d.vol.table, d.vol.bitmap, entry.FirstCluster, int64(entry.Size), d.vol.boot.TotalClusters+2)
	if err != nil {
		d.vol.locks.ReadUnlock(key)
		return nil, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
	}

	return &File{
		vol:    d.vol,
		dir:    d,
		loc:    entry.Loc,
		key:    key,
		writer: false,
		cursor: cursor,
	}, nil
}

// CreateFile creates a new, empty file named `name` in this directory and
// returns a writable handle to it. It fails with ErrAlreadyExists if the
// name is already taken.
func (d *Dir) CreateFile(name string) (*File, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()
	return d.createLocked(name, 0)
}

// CreateDir creates a new, empty subdirectory named `name` in this directory.
func (d *Dir) CreateDir(name string) (*Dir, error) {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	if _, err := d.find(name); err == nil {
		return nil, ErrAlreadyExists
	}

	var next fattable.ClusterID
	var err error
	if d.vol.bitmap != nil {
		next, err = d.vol.bitmap.Allocate()
	} else {
		next, err = d.vol.scanForFreeClusterLocked()
	}
	if err != nil {
		return nil, NewDriverErrorFromError(ErrNoSpace.Errno(), err)
	}
	if err := d.vol.table.Extend(0, next); err != nil {
		return nil, NewIOError(err)
	}
	if d.vol.bitmap != nil {
		d.vol.bitmap.MarkAllocated(next)
	}
	zeroed := make([]byte, d.vol.boot.BytesPerCluster)
	if err := d.vol.accessor.WriteCluster(next, zeroed); err != nil {
		return nil, NewIOError(err)
	}

	now := d.vol.now()
	short, serr := directory.GenerateShortName(name, mustListLocked(d), d.vol.options.OEMCodepage.encoding())
	if serr != nil {
		return nil, NewDriverErrorFromError(ErrInvalidInput.Errno(), serr)
	}
	if _, cerr := d.vol.dirs.Create(d.firstCluster, name, short, dirent.AttrDirectory, next, 0, now); cerr != nil {
		return nil, NewDriverErrorFromError(ErrNoSpace.Errno(), cerr)
	}

	child := &Dir{vol: d.vol, firstCluster: next}
	if _, cerr := d.vol.dirs.Create(next, ".", dirent.ShortName{Base: "."}, dirent.AttrDirectory, next, 0, now); cerr != nil {
		return nil, NewDriverErrorFromError(ErrNoSpace.Errno(), cerr)
	}
	parentRef := d.firstCluster
	if _, cerr := d.vol.dirs.Create(next, "..", dirent.ShortName{Base: ".."}, dirent.AttrDirectory, parentRef, 0, now); cerr != nil {
		return nil, NewDriverErrorFromError(ErrNoSpace.Errno(), cerr)
	}

	d.vol.markDirty()
	return child, nil
}

func mustListLocked(d *Dir) []directory.Entry {
	entries, err := d.vol.dirs.List(d.firstCluster)
	if err != nil {
		return nil
	}
	return entries
}

func (d *Dir) createLocked(name string, attrs uint8) (*File, error) {
	if _, err := d.find(name); err == nil {
		return nil, ErrAlreadyExists
	}

	now := d.vol.now()
	entries, err := d.vol.dirs.List(d.firstCluster)
	if err != nil {
		return nil, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
	}
	short, serr := directory.GenerateShortName(name, entries, d.vol.options.OEMCodepage.encoding())
	if serr != nil {
		return nil, NewDriverErrorFromError(ErrInvalidInput.Errno(), serr)
	}

	entry, cerr := d.vol.dirs.Create(d.firstCluster, name, short, attrs, 0, 0, now)
	if cerr != nil {
		return nil, NewDriverErrorFromError(ErrNoSpace.Errno(), cerr)
	}

	key := filelockKey(entry)
	if !d.vol.locks.TryWriteLock(key) {
		return nil, ErrFileLocked
	}
	cursor, oerr := fileio.Open(d.vol.accessor, d.vol.table, d.vol.bitmap, 0, 0, d.vol.boot.TotalClusters+2)
	if oerr != nil {
		d.vol.locks.WriteUnlock(key)
		return nil, NewIOError(oerr)
	}

	d.vol.markDirty()
	return &File{vol: d.vol, dir: d, loc: entry.Loc, key: key, writer: true, cursor: cursor}, nil
}

// Remove deletes the entry named `name`: its directory slot(s) are marked
// free and, for a file, its cluster chain is released back to the FAT and
// bitmap. Removing a non-empty directory fails with ErrNotEmpty.
func (d *Dir) Remove(name string) error {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	entry, err := d.find(name)
	if err != nil {
		return err
	}

	if entry.IsDir() {
		children, lerr := d.vol.dirs.List(entry.FirstCluster)
		if lerr != nil {
			return NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), lerr)
		}
		for _, c := range children {
			if c.Name != "." && c.Name != ".." {
				return ErrNotEmpty
			}
		}
	}

	if entry.FirstCluster != 0 {
		chain, werr := d.vol.table.Walk(entry.FirstCluster, d.vol.boot.TotalClusters+2)
		if werr != nil {
			return NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), werr)
		}
		if terr := d.vol.table.Truncate(chain); terr != nil {
			return NewIOError(terr)
		}
		if d.vol.bitmap != nil {
			for _, c := range chain {
				d.vol.bitmap.MarkFree(c)
			}
		}
	}

	if rerr := d.vol.dirs.Remove(d.firstCluster, entry.Loc); rerr != nil {
		return NewIOError(rerr)
	}
	d.vol.locks.Prune(filelockKey(entry))
	d.vol.markDirty()
	return nil
}

// Rename moves the entry named `oldName` to `newName` within this same
// directory.
func (d *Dir) Rename(oldName, newName string) error {
	return d.MoveTo(d, oldName, newName)
}

// MoveTo moves the entry named `oldName` in this directory to `newName` in
// target, which may be this same directory or a different one. Per spec.md
// section 4.5, a cross-directory move creates the new logical entry in the
// target pointing at the same chain and delete-marks the old entry; the two
// writes are journaled and committed as a single transaction so a crash
// between them never orphans the chain (old entry gone, new one missing)
// nor double-references it (both entries alive for the same chain at once).
func (d *Dir) MoveTo(target *Dir, oldName, newName string) error {
	d.vol.mu.Lock()
	defer d.vol.mu.Unlock()

	sameDir := d.firstCluster == target.firstCluster
	if sameDir && strings.EqualFold(oldName, newName) {
		return nil
	}

	entry, err := d.find(oldName)
	if err != nil {
		return err
	}
	if _, derr := target.find(newName); derr == nil {
		return ErrAlreadyExists
	}

	entries, lerr := d.vol.dirs.List(target.firstCluster)
	if lerr != nil {
		return NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), lerr)
	}
	short, serr := directory.GenerateShortName(newName, entries, d.vol.options.OEMCodepage.encoding())
	if serr != nil {
		return NewDriverErrorFromError(ErrInvalidInput.Errno(), serr)
	}

	if _, merr := d.vol.dirs.Move(d.firstCluster, entry.Loc, target.firstCluster, newName, short, entry.Attributes, entry.FirstCluster, entry.Size, entry.LastModified); merr != nil {
		return NewDriverErrorFromError(ErrNoSpace.Errno(), merr)
	}
	d.vol.markDirty()
	return nil
}

// filelockKey derives a filelock.Key for an entry. A still-empty file (no
// data clusters yet) has first cluster 0, which would collide across every
// brand-new file; its directory slot index is folded in to disambiguate.
func filelockKey(e directory.Entry) filelock.Key {
	if e.FirstCluster != 0 {
		return filelock.Key(e.FirstCluster)
	}
	return filelock.Key(0x80000000 | uint32(e.Loc.SlotIndex))
}
