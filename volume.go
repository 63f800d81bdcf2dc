package gofat

import (
	"fmt"
	"sync"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/clusterbitmap"
	"github.com/kelvindash/gofat/internal/dircache"
	"github.com/kelvindash/gofat/internal/diskio"
	"github.com/kelvindash/gofat/internal/dirent"
	"github.com/kelvindash/gofat/internal/directory"
	"github.com/kelvindash/gofat/internal/fatcache"
	"github.com/kelvindash/gofat/internal/fattable"
	"github.com/kelvindash/gofat/internal/fileio"
	"github.com/kelvindash/gofat/internal/filelock"
	"github.com/kelvindash/gofat/internal/txlog"
)

// dirCacheCapacity bounds the per-directory lookup cache (spec.md sections
// 3/4.5): a small, fixed number of recently resolved (parent, name) lookups
// kept in memory, not sized off volume geometry the way the FAT sector
// cache is.
const dirCacheCapacity = 64

// Volume is a mounted FAT12/16/32 filesystem. It exclusively owns every
// subcomponent listed in spec.md section 3 (Disk, BPB/FSInfo, FatTable
// [optionally behind a FatCache], ClusterBitmap, TransactionLog, the
// directory engine with its DirCache lookup accelerator, and the file lock
// table); directory and file handles borrow these for the Volume's
// lifetime.
//
// Lock acquisition order, when more than one mutex must be held at once,
// is Disk -> FatCache -> Bitmap -> DirCache -> LockTable -> TransactionLog,
// matching spec.md section 5. In practice this implementation rarely needs
// to hold more than one at a time; `mu` below is the Volume-wide mutex that
// serializes metadata-mutating operations in the absence of a parallel
// executor, since the retrieved pack shows no async runtime to build on.
type Volume struct {
	mu sync.Mutex

	options Options
	logger  Logger

	disk      *diskio.Disk
	boot      *bpb.BootSector
	fsInfo    bpb.FSInfo
	hasFSInfo bool

	cache    *fatcache.Cache // nil if disabled
	table    *fattable.Table
	bitmap   *clusterbitmap.Bitmap // nil if disabled
	accessor *fileio.ClusterAccessor
	dirs     *directory.Engine
	locks    *filelock.Table
	log      *txlog.Log

	dirty bool
}

// Mount reads the boot sector from dev, validates it, and brings up every
// configured subcomponent: the FAT sector cache if FATCacheBytes > 0, the
// free-cluster bitmap if EnableBitmap, and transaction log replay if the
// image reserves a log region and EnableTransactionLog is set.
func Mount(dev diskio.BlockDevice, options Options) (*Volume, error) {
	disk := diskio.New(dev)
	data, err := disk.ReadSectors(0, 1)
	if err != nil {
		return nil, NewIOError(err)
	}
	boot, err := bpb.Parse(&sliceSeeker{data: data})
	if err != nil {
		return nil, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
	}
	if boot.BytesPerSector != uint16(dev.BlockSize()) {
		return nil, NewDriverErrorWithMessage(ErrCorruptedFileSystem.Errno(),
			fmt.Sprintf("BPB declares %d bytes/sector but device reports %d", boot.BytesPerSector, dev.BlockSize()))
	}

	v := &Volume{
		options: options,
		logger:  loggerOrNoop(options.Logger),
		disk:    disk,
		boot:    boot,
		locks:   filelock.New(),
	}

	if boot.FATWidth == bpb.Width32 {
		fsSectorData, err := disk.ReadSectors(diskio.SectorID(boot.FAT32.FSInfoSector), 1)
		if err == nil {
			if info, perr := bpb.ParseFSInfo(fsSectorData); perr == nil {
				v.fsInfo = info
				v.hasFSInfo = true
			} else {
				v.logger.Warningf("FSInfo hint unusable, ignoring: %s", perr)
			}
		}
	}

	var tableIO fattable.SectorIO = disk
	if options.FATCacheBytes != FATCacheDisabled {
		v.cache = fatcache.New(disk, uint32(boot.BytesPerSector), uint(options.FATCacheBytes))
		tableIO = v.cache
	}
	v.table = fattable.New(tableIO, boot)

	if options.EnableBitmap {
		bm, err := clusterbitmap.Rebuild(v.table, boot.TotalClusters)
		if err != nil {
			return nil, NewDriverErrorFromError(ErrCorruptedFileSystem.Errno(), err)
		}
		if v.hasFSInfo {
			bm.SeedCursor(fattable.ClusterID(v.fsInfo.NextFreeCluster))
		}
		v.bitmap = bm
	}

	v.accessor = fileio.NewClusterAccessor(disk, boot)
	v.dirs = directory.New(v.accessor, boot, v.table, v.bitmap, options.OEMCodepage.encoding())
	if options.EnableDirCache {
		v.dirs.SetCache(dircache.New[directory.Entry](dirCacheCapacity))
	}

	if boot.TxLogSectorCount > 0 {
		v.log = txlog.New(disk, diskio.SectorID(boot.TxLogFirstSector), boot.TxLogSectorCount, uint32(boot.BytesPerSector))
		if options.EnableTransactionLog {
			committed, discarded, rerr := v.log.Replay()
			if rerr != nil {
				v.logger.Errorf("transaction log replay encountered errors: %s", rerr)
			}
			if discarded > 0 {
				v.logger.Warningf("discarded %d prepared-but-uncommitted transaction log records", discarded)
			}
			for i, rec := range committed {
				if aerr := v.log.Apply(rec); aerr != nil {
					v.logger.Errorf("replaying committed transaction log record for sector %d: %s", rec.Target, aerr)
					continue
				}
				v.logger.Debugf("replayed committed transaction log record %d for sector %d", i, rec.Target)
			}
			v.table.SetLog(v.log)
			v.dirs.SetLog(v.log)
		}
	}

	return v, nil
}

// Format writes a fresh boot sector, clears every FAT copy, and creates an
// empty root directory on dev, per spec.md's format() contract. The
// geometry it writes is what a subsequent Mount parses back.
func Format(dev diskio.BlockDevice, spec FormatSpec) error {
	disk := diskio.New(dev)
	boot, err := buildBootSector(spec, dev)
	if err != nil {
		return err
	}

	sector0 := make([]byte, dev.BlockSize())
	writeBootSectorFields(sector0, boot)
	if err := disk.WriteSectors(0, sector0); err != nil {
		return NewIOError(err)
	}

	if boot.FATWidth == bpb.Width32 {
		fsInfoSector := bpb.EncodeFSInfo(bpb.FSInfo{
			FreeClusterCount: boot.TotalClusters - 1,
			NextFreeCluster:  3,
		}, uint(dev.BlockSize()))
		if err := disk.WriteSectors(diskio.SectorID(boot.FAT32.FSInfoSector), fsInfoSector); err != nil {
			return NewIOError(err)
		}
	}

	zeroFATs := make([]byte, uint32(boot.NumFATs)*boot.SectorsPerFAT*uint32(boot.BytesPerSector))
	if err := disk.WriteSectors(diskio.SectorID(boot.FirstFATSector), zeroFATs); err != nil {
		return NewIOError(err)
	}

	table := fattable.New(disk, boot)
	if err := table.Set(0, fattable.ClusterID(0xFFFFFF00|uint32(spec.MediaDescriptor))); err != nil {
		return NewIOError(err)
	}
	if err := table.Set(1, table.EOCValue()); err != nil {
		return NewIOError(err)
	}

	if boot.FATWidth == bpb.Width32 {
		if err := table.Set(fattable.ClusterID(boot.RootDirCluster), table.EOCValue()); err != nil {
			return NewIOError(err)
		}
		accessor := fileio.NewClusterAccessor(disk, boot)
		if err := accessor.WriteCluster(fattable.ClusterID(boot.RootDirCluster), make([]byte, boot.BytesPerCluster)); err != nil {
			return NewIOError(err)
		}
	} else {
		empty := make([]byte, uint32(boot.RootDirSectors)*uint32(boot.BytesPerSector))
		if err := disk.WriteSectors(diskio.SectorID(boot.FirstRootDirSector), empty); err != nil {
			return NewIOError(err)
		}
	}

	return nil
}

// sliceSeeker adapts a byte slice already in memory to the io.ReadSeeker
// bpb.Parse expects, since the boot sector is always read as one whole
// sector up front.
type sliceSeeker struct {
	data []byte
	pos  int
}

func (s *sliceSeeker) Read(p []byte) (int, error) {
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = int(offset)
	case 1:
		s.pos += int(offset)
	case 2:
		s.pos = len(s.data) + int(offset)
	}
	return int64(s.pos), nil
}

// Flush writes back every dirty FAT cache sector, refreshes FSInfo (FAT32
// only) from the live free count (the bitmap's, or a FAT scan when the
// bitmap is disabled), and clears the dirty bit. Spec.md's universal
// invariant 4 (FAT copies byte-identical) and invariant 6 (FSInfo accuracy)
// both hold once Flush returns without error.
func (v *Volume) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushLocked()
}

func (v *Volume) flushLocked() error {
	if v.cache != nil {
		if _, err := v.cache.FlushAll(); err != nil {
			return NewIOError(err)
		}
	}
	if v.boot.FATWidth == bpb.Width32 {
		free, err := v.freeClusterCountLocked()
		if err != nil {
			return NewIOError(err)
		}
		info := bpb.FSInfo{FreeClusterCount: free, NextFreeCluster: 0xFFFFFFFF}
		sector := bpb.EncodeFSInfo(info, uint(v.boot.BytesPerSector))
		if err := v.disk.WriteSectors(diskio.SectorID(v.boot.FAT32.FSInfoSector), sector); err != nil {
			return NewIOError(err)
		}
	}
	v.dirty = false
	return nil
}

// Unmount flushes and releases the volume. Using it afterward is undefined,
// matching every other handle-based resource in this package.
func (v *Volume) Unmount() error {
	return v.Flush()
}

// RootDir returns a Dir handle for the volume's root directory: the fixed
// region on FAT12/16, or the RootCluster chain on FAT32.
func (v *Volume) RootDir() *Dir {
	var first fattable.ClusterID
	if v.boot.FATWidth == bpb.Width32 {
		first = fattable.ClusterID(v.boot.RootDirCluster)
	}
	return &Dir{vol: v, firstCluster: first}
}

func (v *Volume) now() dirent.Timestamp {
	t := v.options.clock().Now()
	return dirent.Timestamp{
		Year: t.Year, Month: t.Month, Day: t.Day,
		Hour: t.Hour, Minute: t.Minute, Second: t.Second, Millis: t.Millis,
	}
}

func (v *Volume) markDirty() { v.dirty = true }

// IsDirty reports whether the volume has unflushed metadata changes.
func (v *Volume) IsDirty() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dirty
}

// scanForFreeClusterLocked linearly searches the FAT for a free cluster when
// the bitmap accelerator is disabled. Callers must hold v.mu.
func (v *Volume) scanForFreeClusterLocked() (fattable.ClusterID, error) {
	total := v.table.TotalEntries()
	for c := fattable.ClusterID(2); uint32(c) < total; c++ {
		val, err := v.table.Get(c)
		if err != nil {
			return 0, err
		}
		if val == fattable.ClusterFree {
			return c, nil
		}
	}
	return 0, fmt.Errorf("no free clusters available")
}

// FreeClusters returns the current free-cluster count, from the bitmap
// accelerator if enabled, otherwise by a direct FAT scan.
func (v *Volume) FreeClusters() (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	free, err := v.freeClusterCountLocked()
	if err != nil {
		return 0, NewIOError(err)
	}
	return free, nil
}

// freeClusterCountLocked returns the current free-cluster count, from the
// bitmap accelerator if enabled, otherwise by a direct FAT scan. Callers
// must already hold v.mu; this exists separately from FreeClusters so
// flushLocked (called with v.mu already held) can reuse the scan without
// deadlocking on a second lock acquisition.
func (v *Volume) freeClusterCountLocked() (uint32, error) {
	if v.bitmap != nil {
		return v.bitmap.FreeCount(), nil
	}
	var free uint32
	total := v.table.TotalEntries()
	for c := fattable.ClusterID(2); uint32(c) < total; c++ {
		val, err := v.table.Get(c)
		if err != nil {
			return 0, err
		}
		if val == fattable.ClusterFree {
			free++
		}
	}
	return free, nil
}
