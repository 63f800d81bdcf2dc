// Package directory implements the directory engine described in spec.md
// section 4.6: iterating a directory's entries (root or subdirectory,
// FAT12/16's fixed root region or FAT32's cluster-chained root), resolving
// a name to an entry, and creating/removing/renaming entries including
// their VFAT long-name fragments.
//
// Grounded on drivers/fat/driverbase.go's readClusterOfDirent/
// ReadDirFromDirent/clusterToDirentSlice for the iteration shape and
// drivers/common/basedriver/driver.go for the path-walking idiom, adapted
// from a generic multi-filesystem VFS into a FAT-only directory engine.
// Slot buffer composition uses github.com/noxer/bytewriter; name and slot
// scans use golang.org/x/exp/slices.
package directory

import (
	"fmt"
	"strings"

	"github.com/noxer/bytewriter"
	"golang.org/x/exp/slices"
	"golang.org/x/text/encoding/charmap"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/clusterbitmap"
	"github.com/kelvindash/gofat/internal/dircache"
	"github.com/kelvindash/gofat/internal/diskio"
	"github.com/kelvindash/gofat/internal/dirent"
	"github.com/kelvindash/gofat/internal/fattable"
	"github.com/kelvindash/gofat/internal/txlog"
)

// Location pins a decoded Entry to the exact on-disk slot range its
// short-name entry (and any LFN fragments immediately preceding it) occupy,
// so the engine can rewrite it in place without re-resolving the name.
type Location struct {
	// InRootRegion is true for a FAT12/16 fixed root directory entry.
	InRootRegion bool
	// Cluster is the directory cluster holding the short-name slot, or 0 in
	// the fixed root region.
	Cluster fattable.ClusterID
	// SlotIndex is the short-name slot's index within its cluster (or
	// within the fixed root region).
	SlotIndex int
	// FragmentCount is how many LFN slots immediately precede SlotIndex.
	FragmentCount int
}

// Entry is a fully resolved directory entry: its name, attributes,
// timestamps, and storage location.
type Entry struct {
	Name           string
	Attributes     uint8
	FirstCluster   fattable.ClusterID
	Size           uint32
	Created        dirent.Timestamp
	LastModified   dirent.Timestamp
	LastAccessed   dirent.Timestamp
	NTReserved     uint8
	Loc            Location
}

// IsDir reports whether this entry's directory attribute bit is set.
func (e Entry) IsDir() bool { return e.Attributes&dirent.AttrDirectory != 0 }

// ClusterIO is the minimal cluster-level read/write contract the directory
// engine needs; internal/fileio's cluster accessor satisfies it, avoiding a
// second, parallel cluster-I/O implementation.
type ClusterIO interface {
	ReadCluster(c fattable.ClusterID) ([]byte, error)
	WriteCluster(c fattable.ClusterID, data []byte) error
	ReadRootRegion() ([]byte, error)   // FAT12/16 only
	WriteRootRegion(data []byte) error // FAT12/16 only
}

// Engine resolves names within one volume's directories.
type Engine struct {
	io       ClusterIO
	boot     *bpb.BootSector
	table    *fattable.Table
	bitmap   *clusterbitmap.Bitmap // nil if the bitmap accelerator is disabled
	codepage *charmap.Charmap
	log      *txlog.Log             // nil, or disabled, means slot writes aren't journaled
	cache    *dircache.Cache[Entry] // nil if the lookup cache is disabled
}

// New creates a directory Engine. bitmap may be nil, in which case
// allocation falls back to a linear FAT scan.
func New(io ClusterIO, boot *bpb.BootSector, table *fattable.Table, bitmap *clusterbitmap.Bitmap, codepage *charmap.Charmap) *Engine {
	return &Engine{io: io, boot: boot, table: table, bitmap: bitmap, codepage: codepage}
}

// SetLog attaches a transaction log: Create, Remove, UpdateInPlace and Move
// journal every slot they modify as a PREPARED record before calling
// saveDirectory, and mark those records COMMITTED once the write lands. A
// nil or disabled log leaves these operations unjournaled.
func (e *Engine) SetLog(log *txlog.Log) {
	e.log = log
}

// SetCache attaches the per-directory lookup cache described in spec.md
// sections 3/4.5. A nil cache (the default) leaves Find always re-reading
// the directory from disk; capacity bounds how many (parent, name)
// resolutions are kept at once.
func (e *Engine) SetCache(cache *dircache.Cache[Entry]) {
	e.cache = cache
}

func (e *Engine) invalidateCache(dirFirstCluster fattable.ClusterID) {
	if e.cache != nil {
		e.cache.InvalidateDir(uint32(dirFirstCluster))
	}
}

// slotSector returns the absolute sector and within-sector byte offset of
// slot index `slotIndex` within the directory starting at dirFirstCluster.
func (e *Engine) slotSector(dirFirstCluster fattable.ClusterID, buf *slotBuffer, slotIndex int) (diskio.SectorID, uint32) {
	bps := uint32(e.boot.BytesPerSector)
	if dirFirstCluster == 0 && e.boot.FATWidth != bpb.Width32 {
		byteOffset := uint32(slotIndex) * dirent.DirentSize
		absolute := e.boot.FirstRootDirSector*bps + byteOffset
		return diskio.SectorID(absolute / bps), absolute % bps
	}
	direntsPerCluster := e.boot.DirentsPerCluster
	cluster := clusterOfSlot(buf, slotIndex, int(e.boot.BytesPerCluster))
	firstSectorOfCluster := e.boot.FirstDataSector + (uint32(cluster)-2)*uint32(e.boot.SectorsPerCluster)
	withinCluster := uint32(slotIndex%direntsPerCluster) * dirent.DirentSize
	return diskio.SectorID(firstSectorOfCluster) + diskio.SectorID(withinCluster/bps), withinCluster % bps
}

// journalSlots stages PREPARED records for every slot in [first, last]
// (inclusive) and returns their log slot indices for a later Commit once
// saveDirectory's write has landed. Returns nil if no log is attached.
func (e *Engine) journalSlots(dirFirstCluster fattable.ClusterID, buf *slotBuffer, first, last int) []uint32 {
	if e.log == nil || !e.log.Enabled() {
		return nil
	}
	slots := make([]uint32, 0, last-first+1)
	for i := first; i <= last; i++ {
		sector, offset := e.slotSector(dirFirstCluster, buf, i)
		payload := make([]byte, dirent.DirentSize)
		copy(payload, buf.raw[i*dirent.DirentSize:(i+1)*dirent.DirentSize])
		slot, err := e.log.Prepare(txlog.ApplyDirSlot(sector, offset, payload))
		if err != nil {
			continue
		}
		slots = append(slots, slot)
	}
	return slots
}

func (e *Engine) commitSlots(slots []uint32) {
	for _, s := range slots {
		_ = e.log.Commit(s)
	}
}

// slotBuffer is the decoded, mutable contents of one directory's full set of
// 32-byte slots, whether backed by the fixed root region or a cluster chain.
type slotBuffer struct {
	raw      []byte
	clusters []fattable.ClusterID // empty for the fixed root region
}

func (e *Engine) loadDirectory(firstCluster fattable.ClusterID) (*slotBuffer, error) {
	if firstCluster == 0 && e.boot.FATWidth != bpb.Width32 {
		data, err := e.io.ReadRootRegion()
		if err != nil {
			return nil, err
		}
		return &slotBuffer{raw: data}, nil
	}

	chain, err := e.table.Walk(firstCluster, e.boot.TotalClusters+2)
	if err != nil {
		return nil, fmt.Errorf("walking directory cluster chain: %w", err)
	}
	w := bytewriter.New(make([]byte, 0, int(e.boot.BytesPerCluster)*len(chain)))
	for _, c := range chain {
		data, err := e.io.ReadCluster(c)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	return &slotBuffer{raw: w.Bytes(), clusters: chain}, nil
}

func (e *Engine) saveDirectory(firstCluster fattable.ClusterID, buf *slotBuffer) error {
	if firstCluster == 0 && e.boot.FATWidth != bpb.Width32 {
		return e.io.WriteRootRegion(buf.raw)
	}
	bpc := int(e.boot.BytesPerCluster)
	for i, c := range buf.clusters {
		start := i * bpc
		end := start + bpc
		if start >= len(buf.raw) {
			break
		}
		if end > len(buf.raw) {
			end = len(buf.raw)
		}
		chunk := make([]byte, bpc)
		copy(chunk, buf.raw[start:end])
		if err := e.io.WriteCluster(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

// decodedSlot is an intermediate result while scanning a slotBuffer: either
// a resolved Entry, or a run of LFN fragments still awaiting their
// short-name entry.
type decodedSlot struct {
	entry   Entry
	isEntry bool
}

// List decodes every live entry in the directory starting at firstCluster
// (firstCluster == 0 on FAT12/16 means the fixed root region). "." and ".."
// are included exactly as stored, matching spec.md section 4.6.
func (e *Engine) List(firstCluster fattable.ClusterID) ([]Entry, error) {
	buf, err := e.loadDirectory(firstCluster)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	var pendingLFN []dirent.LongNameFragment

	slotCount := len(buf.raw) / dirent.DirentSize
	for i := 0; i < slotCount; i++ {
		slot := buf.raw[i*dirent.DirentSize : (i+1)*dirent.DirentSize]
		attr := slot[11]

		if dirent.IsLongNameFragment(attr) {
			frag, ferr := dirent.DecodeLongNameFragment(slot)
			if ferr != nil {
				return nil, fmt.Errorf("decoding LFN fragment at slot %d: %w", i, ferr)
			}
			pendingLFN = append(pendingLFN, frag)
			continue
		}

		raw, rerr := dirent.DecodeRaw(slot)
		if rerr != nil {
			return nil, rerr
		}
		switch raw.State() {
		case dirent.SlotFree:
			// A free slot terminates the directory: everything after it is
			// also free in a well-formed FAT directory.
			pendingLFN = nil
			goto doneScanning
		case dirent.SlotDeleted:
			pendingLFN = nil
			continue
		}

		short, derr := dirent.DecodeShortName(raw, e.codepage)
		if derr != nil {
			return nil, derr
		}

		name := short.String()
		fragCount := 0
		if len(pendingLFN) > 0 {
			checksum := dirent.ShortNameChecksum(raw.Name, raw.Extension)
			longName, jerr := dirent.JoinLongName(pendingLFN, checksum)
			if jerr == nil {
				name = longName
				fragCount = len(pendingLFN)
			}
			// A checksum mismatch means the LFN fragments belong to some
			// other (corrupted or partially overwritten) entry; fall back
			// to the short name rather than failing the whole listing.
		}
		pendingLFN = nil

		entries = append(entries, Entry{
			Name:         name,
			Attributes:   raw.AttributeFlags,
			FirstCluster: fattable.ClusterID(raw.FirstCluster()),
			Size:         raw.FileSize,
			Created:      dirent.TimestampFromParts(raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeMillis),
			LastModified: dirent.TimestampFromParts(raw.LastModifiedDate, raw.LastModifiedTime, 0),
			LastAccessed: func() dirent.Timestamp {
				y, m, d := dirent.DateFromInt(raw.LastAccessedDate)
				return dirent.Timestamp{Year: y, Month: m, Day: d}
			}(),
			NTReserved: raw.NTReserved,
			Loc: Location{
				InRootRegion:  firstCluster == 0 && e.boot.FATWidth != bpb.Width32,
				Cluster:       clusterOfSlot(buf, i, int(e.boot.BytesPerCluster)),
				SlotIndex:     i,
				FragmentCount: fragCount,
			},
		})
	}
doneScanning:
	return entries, nil
}

func clusterOfSlot(buf *slotBuffer, slotIndex int, bytesPerCluster int) fattable.ClusterID {
	if len(buf.clusters) == 0 {
		return 0
	}
	direntsPerCluster := bytesPerCluster / dirent.DirentSize
	idx := slotIndex / direntsPerCluster
	if idx >= len(buf.clusters) {
		return 0
	}
	return buf.clusters[idx]
}

// Find resolves `name` (case-insensitively, matching FAT semantics) within
// the directory starting at firstCluster. When a lookup cache is attached
// (SetCache), a hit skips re-reading and re-decoding the directory entirely.
func (e *Engine) Find(firstCluster fattable.ClusterID, name string) (Entry, bool, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(dircache.NewKey(uint32(firstCluster), name)); ok {
			return cached, true, nil
		}
	}

	entries, err := e.List(firstCluster)
	if err != nil {
		return Entry{}, false, err
	}
	idx := slices.IndexFunc(entries, func(en Entry) bool {
		return strings.EqualFold(en.Name, name)
	})
	if idx < 0 {
		return Entry{}, false, nil
	}
	if e.cache != nil {
		e.cache.Put(dircache.NewKey(uint32(firstCluster), name), entries[idx])
	}
	return entries[idx], true, nil
}

// slotsNeeded returns how many 32-byte slots (LFN fragments plus one
// short-name entry) must be reserved to store `name`.
func slotsNeeded(name string, needsLFN bool) int {
	if !needsLFN {
		return 1
	}
	return dirent.FragmentsNeeded(name) + 1
}

// findFreeRun scans buf for `count` consecutive free-or-deleted slots,
// returning the starting slot index, or -1 if none exists within the
// current size of buf.
func findFreeRun(buf *slotBuffer, count int) int {
	slotCount := len(buf.raw) / dirent.DirentSize
	run := 0
	for i := 0; i < slotCount; i++ {
		slot := buf.raw[i*dirent.DirentSize : (i+1)*dirent.DirentSize]
		if slot[0] == 0x00 || slot[0] == 0xE5 {
			run++
			if run == count {
				return i - count + 1
			}
			if slot[0] == 0x00 {
				// Every slot after a free (0x00) marker is also free in a
				// well-formed directory, so this run can keep extending.
				continue
			}
		} else {
			run = 0
		}
	}
	return -1
}

// Create reserves slots for a new entry named `name` with the given
// attributes and first cluster, growing the directory by one cluster if no
// run of free slots is available. shortName must already be a unique,
// validated 8.3 name (directory.GenerateShortName produces one).
func (e *Engine) Create(dirFirstCluster fattable.ClusterID, name string, short dirent.ShortName, attrs uint8, firstCluster fattable.ClusterID, size uint32, now dirent.Timestamp) (Entry, error) {
	buf, err := e.loadDirectory(dirFirstCluster)
	if err != nil {
		return Entry{}, err
	}

	useLFN := !strings.EqualFold(short.String(), name)
	needed := slotsNeeded(name, useLFN)

	start := findFreeRun(buf, needed)
	if start < 0 {
		if dirFirstCluster == 0 && e.boot.FATWidth != bpb.Width32 {
			return Entry{}, fmt.Errorf("fixed root directory is full")
		}
		if err := e.growDirectory(dirFirstCluster, buf); err != nil {
			return Entry{}, err
		}
		start = findFreeRun(buf, needed)
		if start < 0 {
			return Entry{}, fmt.Errorf("directory grew but still has no room for %d slots", needed)
		}
	}

	nameField, extField, err := dirent.EncodeShortName8_3(short, e.codepage)
	if err != nil {
		return Entry{}, err
	}
	raw := dirent.RawDirent{
		Name: nameField, Extension: extField,
		AttributeFlags:    attrs,
		CreatedTimeMillis: uint8(now.Millis / 10),
		CreatedTime:       dirent.TimeToInt(now.Hour, now.Minute, now.Second),
		CreatedDate:       dirent.DateToInt(now.Year, now.Month, now.Day),
		LastAccessedDate:  dirent.DateToInt(now.Year, now.Month, now.Day),
		LastModifiedTime:  dirent.TimeToInt(now.Hour, now.Minute, now.Second),
		LastModifiedDate:  dirent.DateToInt(now.Year, now.Month, now.Day),
		FileSize:          size,
	}
	raw.SetFirstCluster(uint32(firstCluster))

	slotIdx := start
	if useLFN {
		checksum := dirent.ShortNameChecksum(nameField, extField)
		fragments := dirent.SplitLongName(name, checksum)
		for _, f := range fragments {
			copy(buf.raw[slotIdx*dirent.DirentSize:(slotIdx+1)*dirent.DirentSize], dirent.EncodeLongNameFragment(f))
			slotIdx++
		}
	}
	copy(buf.raw[slotIdx*dirent.DirentSize:(slotIdx+1)*dirent.DirentSize], dirent.EncodeRaw(raw))

	journaled := e.journalSlots(dirFirstCluster, buf, start, slotIdx)
	if err := e.saveDirectory(dirFirstCluster, buf); err != nil {
		return Entry{}, err
	}
	e.commitSlots(journaled)
	e.invalidateCache(dirFirstCluster)

	return Entry{
		Name: name, Attributes: attrs, FirstCluster: firstCluster, Size: size,
		Created: now, LastModified: now, LastAccessed: now,
		Loc: Location{
			InRootRegion:  dirFirstCluster == 0 && e.boot.FATWidth != bpb.Width32,
			Cluster:       clusterOfSlot(buf, slotIdx, int(e.boot.BytesPerCluster)),
			SlotIndex:     slotIdx,
			FragmentCount: slotIdx - start,
		},
	}, nil
}

// growDirectory extends a cluster-chain directory (never the fixed root
// region, which cannot grow) by one cluster, zero-filling it so every new
// slot reads as free.
func (e *Engine) growDirectory(dirFirstCluster fattable.ClusterID, buf *slotBuffer) error {
	var next fattable.ClusterID
	var err error
	if e.bitmap != nil {
		next, err = e.bitmap.Allocate()
	} else {
		next, err = e.scanForFreeCluster()
	}
	if err != nil {
		return fmt.Errorf("growing directory: %w", err)
	}

	tail := fattable.ClusterID(0)
	if len(buf.clusters) > 0 {
		tail = buf.clusters[len(buf.clusters)-1]
	}
	if err := e.table.Extend(tail, next); err != nil {
		return err
	}
	if e.bitmap != nil {
		e.bitmap.MarkAllocated(next)
	}

	zeroed := make([]byte, e.boot.BytesPerCluster)
	if err := e.io.WriteCluster(next, zeroed); err != nil {
		return err
	}
	buf.raw = append(buf.raw, zeroed...)
	buf.clusters = append(buf.clusters, next)
	return nil
}

func (e *Engine) scanForFreeCluster() (fattable.ClusterID, error) {
	total := e.table.TotalEntries()
	for c := fattable.ClusterID(2); uint32(c) < total; c++ {
		v, err := e.table.Get(c)
		if err != nil {
			return 0, err
		}
		if v == fattable.ClusterFree {
			return c, nil
		}
	}
	return 0, fmt.Errorf("no free clusters available")
}

// Remove marks the slots at loc as deleted (0xE5), freeing any LFN
// fragments that precede the short-name slot. It does not free the entry's
// data clusters; callers do that via the FAT/bitmap once they've decided
// the entry really is unreferenced (spec.md section 4.6's two-step delete).
func (e *Engine) Remove(dirFirstCluster fattable.ClusterID, loc Location) error {
	buf, err := e.loadDirectory(dirFirstCluster)
	if err != nil {
		return err
	}
	first := loc.SlotIndex - loc.FragmentCount
	for i := first; i <= loc.SlotIndex; i++ {
		buf.raw[i*dirent.DirentSize] = 0xE5
	}
	journaled := e.journalSlots(dirFirstCluster, buf, first, loc.SlotIndex)
	if err := e.saveDirectory(dirFirstCluster, buf); err != nil {
		return err
	}
	e.commitSlots(journaled)
	e.invalidateCache(dirFirstCluster)
	return nil
}

// UpdateInPlace rewrites the short-name slot at loc with new size/cluster/
// timestamp fields, used after a write or truncate changes a file's length
// or allocation without changing its name.
func (e *Engine) UpdateInPlace(dirFirstCluster fattable.ClusterID, loc Location, firstCluster fattable.ClusterID, size uint32, modified dirent.Timestamp) error {
	buf, err := e.loadDirectory(dirFirstCluster)
	if err != nil {
		return err
	}
	slot := buf.raw[loc.SlotIndex*dirent.DirentSize : (loc.SlotIndex+1)*dirent.DirentSize]
	raw, err := dirent.DecodeRaw(slot)
	if err != nil {
		return err
	}
	raw.SetFirstCluster(uint32(firstCluster))
	raw.FileSize = size
	raw.LastModifiedDate = dirent.DateToInt(modified.Year, modified.Month, modified.Day)
	raw.LastModifiedTime = dirent.TimeToInt(modified.Hour, modified.Minute, modified.Second)
	copy(slot, dirent.EncodeRaw(raw))
	journaled := e.journalSlots(dirFirstCluster, buf, loc.SlotIndex, loc.SlotIndex)
	if err := e.saveDirectory(dirFirstCluster, buf); err != nil {
		return err
	}
	e.commitSlots(journaled)
	e.invalidateCache(dirFirstCluster)
	return nil
}

// Move relocates the entry at srcLoc within srcDirFirstCluster to a fresh
// slot named newName within dstDirFirstCluster, which may be the same
// directory or a different one. The delete-mark of the old slots and the
// write of the new slots are journaled together and committed as one
// transaction (a single call to commitSlots), so a crash between the two
// writes can never surface on replay as the chain orphaned (old entry gone,
// new one missing) nor double-referenced (both entries alive for the same
// chain at once), per spec.md section 4.5.
func (e *Engine) Move(srcDirFirstCluster fattable.ClusterID, srcLoc Location, dstDirFirstCluster fattable.ClusterID, newName string, short dirent.ShortName, attrs uint8, firstCluster fattable.ClusterID, size uint32, modified dirent.Timestamp) (Entry, error) {
	sameDir := srcDirFirstCluster == dstDirFirstCluster

	srcBuf, err := e.loadDirectory(srcDirFirstCluster)
	if err != nil {
		return Entry{}, err
	}
	dstBuf := srcBuf
	if !sameDir {
		dstBuf, err = e.loadDirectory(dstDirFirstCluster)
		if err != nil {
			return Entry{}, err
		}
	}

	first := srcLoc.SlotIndex - srcLoc.FragmentCount
	for i := first; i <= srcLoc.SlotIndex; i++ {
		srcBuf.raw[i*dirent.DirentSize] = 0xE5
	}

	useLFN := !strings.EqualFold(short.String(), newName)
	needed := slotsNeeded(newName, useLFN)

	start := findFreeRun(dstBuf, needed)
	if start < 0 {
		if dstDirFirstCluster == 0 && e.boot.FATWidth != bpb.Width32 {
			return Entry{}, fmt.Errorf("fixed root directory is full")
		}
		if err := e.growDirectory(dstDirFirstCluster, dstBuf); err != nil {
			return Entry{}, err
		}
		start = findFreeRun(dstBuf, needed)
		if start < 0 {
			return Entry{}, fmt.Errorf("directory grew but still has no room for %d slots", needed)
		}
	}

	nameField, extField, err := dirent.EncodeShortName8_3(short, e.codepage)
	if err != nil {
		return Entry{}, err
	}
	raw := dirent.RawDirent{
		Name: nameField, Extension: extField,
		AttributeFlags:    attrs,
		CreatedTimeMillis: uint8(modified.Millis / 10),
		CreatedTime:       dirent.TimeToInt(modified.Hour, modified.Minute, modified.Second),
		CreatedDate:       dirent.DateToInt(modified.Year, modified.Month, modified.Day),
		LastAccessedDate:  dirent.DateToInt(modified.Year, modified.Month, modified.Day),
		LastModifiedTime:  dirent.TimeToInt(modified.Hour, modified.Minute, modified.Second),
		LastModifiedDate:  dirent.DateToInt(modified.Year, modified.Month, modified.Day),
		FileSize:          size,
	}
	raw.SetFirstCluster(uint32(firstCluster))

	slotIdx := start
	if useLFN {
		checksum := dirent.ShortNameChecksum(nameField, extField)
		fragments := dirent.SplitLongName(newName, checksum)
		for _, f := range fragments {
			copy(dstBuf.raw[slotIdx*dirent.DirentSize:(slotIdx+1)*dirent.DirentSize], dirent.EncodeLongNameFragment(f))
			slotIdx++
		}
	}
	copy(dstBuf.raw[slotIdx*dirent.DirentSize:(slotIdx+1)*dirent.DirentSize], dirent.EncodeRaw(raw))

	journaled := e.journalSlots(srcDirFirstCluster, srcBuf, first, srcLoc.SlotIndex)
	journaled = append(journaled, e.journalSlots(dstDirFirstCluster, dstBuf, start, slotIdx)...)

	if err := e.saveDirectory(srcDirFirstCluster, srcBuf); err != nil {
		return Entry{}, err
	}
	if !sameDir {
		if err := e.saveDirectory(dstDirFirstCluster, dstBuf); err != nil {
			return Entry{}, err
		}
	}
	e.commitSlots(journaled)
	e.invalidateCache(srcDirFirstCluster)
	if !sameDir {
		e.invalidateCache(dstDirFirstCluster)
	}

	return Entry{
		Name: newName, Attributes: attrs, FirstCluster: firstCluster, Size: size,
		Created: modified, LastModified: modified, LastAccessed: modified,
		Loc: Location{
			InRootRegion:  dstDirFirstCluster == 0 && e.boot.FATWidth != bpb.Width32,
			Cluster:       clusterOfSlot(dstBuf, slotIdx, int(e.boot.BytesPerCluster)),
			SlotIndex:     slotIdx,
			FragmentCount: slotIdx - start,
		},
	}, nil
}

// GenerateShortName derives a unique 8.3 short name for `longName` within a
// directory whose existing entries are `existing`, using the classic
// "first six chars + ~N" numeric-tail algorithm.
func GenerateShortName(longName string, existing []Entry, cp *charmap.Charmap) (dirent.ShortName, error) {
	base, ext := splitExt(longName)
	base = sanitizeForShortName(base)
	ext = sanitizeForShortName(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	isUnique := func(candidate dirent.ShortName) bool {
		for _, en := range existing {
			short, err := shortOf(en.Name, cp)
			if err == nil && strings.EqualFold(short.String(), candidate.String()) {
				return false
			}
		}
		return true
	}

	if len(base) <= 8 {
		candidate := dirent.ShortName{Base: base, Ext: ext}
		if isUnique(candidate) {
			return candidate, nil
		}
	}

	prefixLen := len(base)
	if prefixLen > 6 {
		prefixLen = 6
	}
	prefix := base
	if len(prefix) > prefixLen {
		prefix = prefix[:prefixLen]
	}
	for n := 1; n < 1000000; n++ {
		tail := fmt.Sprintf("~%d", n)
		p := prefix
		if len(p)+len(tail) > 8 {
			p = p[:8-len(tail)]
		}
		candidate := dirent.ShortName{Base: p + tail, Ext: ext}
		if isUnique(candidate) {
			return candidate, nil
		}
	}
	return dirent.ShortName{}, fmt.Errorf("could not generate a unique short name for %q", longName)
}

func shortOf(name string, cp *charmap.Charmap) (dirent.ShortName, error) {
	base, ext := splitExt(name)
	return dirent.ShortName{Base: strings.ToUpper(base), Ext: strings.ToUpper(ext)}, nil
}

func splitExt(name string) (base, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func sanitizeForShortName(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ', r == '.':
			continue
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
