// Package fileio implements cluster-level disk access and the per-file
// read/write/seek/truncate operations described in spec.md section 4.7: a
// contiguous view of a file's cluster chain, maximal contiguous-run reads
// and writes against the block device, and the cluster-chain growth and
// shrinkage that accompany writing past EOF or truncating.
//
// Grounded on drivers/common/clusterio.go's ClusterStream
// (ClusterIDToBlock/CheckIOBounds/Read/Write), generalized into the
// cluster-chain-aware Accessor the directory engine and file handles both
// build on.
package fileio

import (
	"fmt"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/clusterbitmap"
	"github.com/kelvindash/gofat/internal/diskio"
	"github.com/kelvindash/gofat/internal/fattable"
)

// ClusterAccessor translates cluster IDs (and the fixed FAT12/16 root
// region) into sector-level disk I/O. It implements directory.ClusterIO so
// the directory engine and file engine share one code path for reading and
// writing raw cluster bytes.
type ClusterAccessor struct {
	disk *diskio.Disk
	boot *bpb.BootSector
}

// NewClusterAccessor creates an Accessor over the data region described by
// boot.
func NewClusterAccessor(disk *diskio.Disk, boot *bpb.BootSector) *ClusterAccessor {
	return &ClusterAccessor{disk: disk, boot: boot}
}

func (a *ClusterAccessor) firstSectorOfCluster(c fattable.ClusterID) diskio.SectorID {
	return diskio.SectorID(a.boot.FirstDataSector + (uint32(c)-2)*uint32(a.boot.SectorsPerCluster))
}

// ReadCluster returns the full contents of cluster c.
func (a *ClusterAccessor) ReadCluster(c fattable.ClusterID) ([]byte, error) {
	if c < 2 || uint32(c) >= a.boot.TotalClusters+2 {
		return nil, fmt.Errorf("cluster %#x out of range", c)
	}
	return a.disk.ReadSectors(a.firstSectorOfCluster(c), uint(a.boot.SectorsPerCluster))
}

// ReadClusterRun reads a run of clusters as one disk operation when they are
// physically contiguous (consecutive cluster numbers are always consecutive
// sectors), falling back to one ReadCluster call per cluster otherwise. This
// is the contiguous-run optimization spec.md section 4.7 calls for: a file
// whose chain happens to be unfragmented reads in a single block-device
// transfer instead of one per cluster.
func (a *ClusterAccessor) ReadClusterRun(ids []fattable.ClusterID) ([]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	contiguous := true
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return a.disk.ReadSectors(a.firstSectorOfCluster(ids[0]), uint(a.boot.SectorsPerCluster)*uint(len(ids)))
	}
	buf := make([]byte, 0, int(a.boot.BytesPerCluster)*len(ids))
	for _, c := range ids {
		data, err := a.ReadCluster(c)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// WriteCluster overwrites the full contents of cluster c. data must be
// exactly BytesPerCluster long.
func (a *ClusterAccessor) WriteCluster(c fattable.ClusterID, data []byte) error {
	if c < 2 || uint32(c) >= a.boot.TotalClusters+2 {
		return fmt.Errorf("cluster %#x out of range", c)
	}
	if uint32(len(data)) != a.boot.BytesPerCluster {
		return fmt.Errorf("cluster write of %d bytes does not match cluster size %d", len(data), a.boot.BytesPerCluster)
	}
	return a.disk.WriteSectors(a.firstSectorOfCluster(c), data)
}

// ReadRootRegion reads the entire fixed FAT12/16 root directory region. It
// is an error to call this on a FAT32 volume, whose root is an ordinary
// cluster chain.
func (a *ClusterAccessor) ReadRootRegion() ([]byte, error) {
	if a.boot.FATWidth == bpb.Width32 {
		return nil, fmt.Errorf("FAT32 has no fixed root region")
	}
	return a.disk.ReadSectors(diskio.SectorID(a.boot.FirstRootDirSector), uint(a.boot.RootDirSectors))
}

// WriteRootRegion overwrites the fixed FAT12/16 root directory region.
func (a *ClusterAccessor) WriteRootRegion(data []byte) error {
	if a.boot.FATWidth == bpb.Width32 {
		return fmt.Errorf("FAT32 has no fixed root region")
	}
	return a.disk.WriteSectors(diskio.SectorID(a.boot.FirstRootDirSector), data)
}

// maxZeroWriteRetries bounds how many times Write re-runs a loop iteration
// in which copying the caller's bytes into the cluster buffer made no
// progress, before giving up with an error. WriteCluster reports only an
// error, not a byte count, so a device write that silently stores nothing
// is not detected or retried.
const maxZeroWriteRetries = 3

// File is a cursor over one file's cluster chain: the data clusters it
// already owns, its current logical size, and read/write/seek/truncate
// operations against that chain, including on-demand growth.
type File struct {
	accessor *ClusterAccessor
	table    *fattable.Table
	bitmap   *clusterbitmap.Bitmap // nil disables the accelerator

	firstCluster fattable.ClusterID
	chain        []fattable.ClusterID
	size         int64
	pos          int64
}

// Open builds a File cursor for an existing entry. firstCluster may be 0
// for a brand-new, still-empty file.
func Open(accessor *ClusterAccessor, table *fattable.Table, bitmap *clusterbitmap.Bitmap, firstCluster fattable.ClusterID, size int64, maxClusters uint32) (*File, error) {
	var chain []fattable.ClusterID
	if firstCluster != 0 {
		var err error
		chain, err = table.Walk(firstCluster, maxClusters)
		if err != nil {
			return nil, err
		}
	}
	return &File{
		accessor:     accessor,
		table:        table,
		bitmap:       bitmap,
		firstCluster: firstCluster,
		chain:        chain,
		size:         size,
	}, nil
}

// FirstCluster returns the file's current first cluster (0 if still empty).
func (f *File) FirstCluster() fattable.ClusterID { return f.firstCluster }

// Size returns the file's current logical size in bytes.
func (f *File) Size() int64 { return f.size }

// ChainLength returns the number of clusters currently allocated to this
// file, the quantity spec.md's size/chain-length invariant compares against
// ceil(size / cluster_size).
func (f *File) ChainLength() int { return len(f.chain) }

// Seek moves the cursor. Negative resulting offsets are rejected; offsets
// past EOF are allowed (a subsequent Read returns 0 bytes and a nil error, a
// subsequent Write extends the file with an implicit hole of zero bytes).
func (f *File) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("negative seek offset %d", offset)
	}
	f.pos = offset
	return nil
}

func (f *File) bytesPerCluster() int64 {
	return int64(f.accessor.boot.BytesPerCluster)
}

// Read fills buf starting at the cursor, returning the number of bytes
// actually read (fewer than len(buf) only at EOF) and advancing the cursor.
// Clusters are read in maximal contiguous runs rather than one at a time, so
// an unfragmented file crosses the block device in as few transfers as
// possible.
func (f *File) Read(buf []byte) (int, error) {
	if f.pos >= f.size {
		return 0, nil
	}
	remaining := f.size - f.pos
	toRead := int64(len(buf))
	if toRead > remaining {
		toRead = remaining
	}
	if toRead == 0 {
		return 0, nil
	}

	bpc := f.bytesPerCluster()
	firstClusterIdx := int(f.pos / bpc)
	lastClusterIdx := int((f.pos + toRead - 1) / bpc)
	if lastClusterIdx >= len(f.chain) {
		lastClusterIdx = len(f.chain) - 1
	}
	if firstClusterIdx > lastClusterIdx {
		return 0, nil
	}

	read := int64(0)
	clusterIdx := firstClusterIdx
	for clusterIdx <= lastClusterIdx {
		runEnd := clusterIdx
		for runEnd+1 <= lastClusterIdx && f.chain[runEnd+1] == f.chain[runEnd]+1 {
			runEnd++
		}
		data, err := f.accessor.ReadClusterRun(f.chain[clusterIdx : runEnd+1])
		if err != nil {
			return int(read), err
		}
		offsetInCluster := int64(0)
		if clusterIdx == firstClusterIdx {
			offsetInCluster = f.pos % bpc
		}
		n := int64(copy(buf[read:toRead], data[offsetInCluster:]))
		read += n
		clusterIdx = runEnd + 1
	}
	f.pos += read
	return int(read), nil
}

// Write writes buf starting at the cursor, growing the cluster chain (and
// the file's logical size) as needed, and advances the cursor.
func (f *File) Write(buf []byte) (int, error) {
	bpc := f.bytesPerCluster()
	written := int64(0)
	retries := 0

	for written < int64(len(buf)) {
		clusterIdx := int((f.pos + written) / bpc)
		offsetInCluster := (f.pos + written) % bpc

		for clusterIdx >= len(f.chain) {
			if err := f.appendCluster(); err != nil {
				return int(written), err
			}
		}

		data, err := f.accessor.ReadCluster(f.chain[clusterIdx])
		if err != nil {
			return int(written), err
		}
		n := copy(data[offsetInCluster:], buf[written:])
		if n == 0 && len(buf[written:]) > 0 {
			retries++
			if retries > maxZeroWriteRetries {
				return int(written), fmt.Errorf("write made no progress after %d retries: device full or faulty", maxZeroWriteRetries)
			}
			continue
		}
		retries = 0
		if err := f.accessor.WriteCluster(f.chain[clusterIdx], data); err != nil {
			return int(written), err
		}
		written += int64(n)
	}

	f.pos += written
	if f.pos > f.size {
		f.size = f.pos
	}
	return int(written), nil
}

// appendCluster allocates and links one new cluster onto the end of the
// file's chain.
func (f *File) appendCluster() error {
	var next fattable.ClusterID
	var err error
	if f.bitmap != nil {
		next, err = f.bitmap.Allocate()
	} else {
		next, err = f.linearScanFree()
	}
	if err != nil {
		return fmt.Errorf("allocating cluster: %w", err)
	}

	tail := fattable.ClusterID(0)
	if len(f.chain) > 0 {
		tail = f.chain[len(f.chain)-1]
	} else if f.firstCluster != 0 {
		tail = f.firstCluster
	}

	if err := f.table.Extend(tail, next); err != nil {
		return err
	}
	if f.bitmap != nil {
		f.bitmap.MarkAllocated(next)
	}

	zeroed := make([]byte, f.accessor.boot.BytesPerCluster)
	if err := f.accessor.WriteCluster(next, zeroed); err != nil {
		return err
	}

	if f.firstCluster == 0 {
		f.firstCluster = next
	}
	f.chain = append(f.chain, next)
	return nil
}

func (f *File) linearScanFree() (fattable.ClusterID, error) {
	total := f.table.TotalEntries()
	for c := fattable.ClusterID(2); uint32(c) < total; c++ {
		v, err := f.table.Get(c)
		if err != nil {
			return 0, err
		}
		if v == fattable.ClusterFree {
			return c, nil
		}
	}
	return 0, fmt.Errorf("no free clusters available")
}

// Truncate changes the file's logical size. Growing allocates and
// zero-fills whatever clusters are needed to cover the new size, exactly as
// if the new region had been written with zeros; shrinking releases every
// cluster entirely beyond the new size back to the FAT and bitmap.
func (f *File) Truncate(newSize int64) error {
	if newSize < 0 {
		return fmt.Errorf("negative truncate size %d", newSize)
	}
	if newSize > f.size {
		bpc := f.bytesPerCluster()
		wantClusters := int((newSize + bpc - 1) / bpc)
		for len(f.chain) < wantClusters {
			if err := f.appendCluster(); err != nil {
				return err
			}
		}
		f.size = newSize
		return nil
	}
	if newSize == f.size {
		return nil
	}

	bpc := f.bytesPerCluster()
	keepClusters := int((newSize + bpc - 1) / bpc)
	if newSize == 0 {
		keepClusters = 0
	}

	if keepClusters < len(f.chain) {
		toFree := f.chain[keepClusters:]
		if err := f.table.Truncate(toFree); err != nil {
			return err
		}
		if f.bitmap != nil {
			for _, c := range toFree {
				f.bitmap.MarkFree(c)
			}
		}
		if keepClusters > 0 {
			if err := f.table.Set(f.chain[keepClusters-1], f.table.EOCValue()); err != nil {
				return err
			}
		} else {
			f.firstCluster = 0
		}
		f.chain = f.chain[:keepClusters]
	}

	f.size = newSize
	if f.pos > f.size {
		f.pos = f.size
	}
	return nil
}
