// Package fattable implements the FAT entry codec and cluster-chain walking
// described in spec.md section 4.2: reading and writing individual entries
// at any width, following and extending chains, and keeping every FAT copy
// (NumFATs mirrors) in sync.
//
// Grounded on drivers/fat/driverbase.go's listClusters/getClusterInChain for
// the chain-walking shape, and other_examples' diskfs-go-diskfs FAT32 table
// code for the exact FAT12 straddling-nibble bit math (getFAT12Entry/
// setFat12Entry) and the end-of-chain marker bands.
package fattable

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/diskio"
	"github.com/kelvindash/gofat/internal/txlog"
)

// ClusterID identifies a data cluster. Valid data clusters start at 2;
// ClusterFree (0) and the reserved/bad/EOC bands below are never valid data
// cluster numbers.
type ClusterID uint32

const (
	ClusterFree ClusterID = 0
	ClusterBad            = 0x0FFFFFF7
	// ClusterEOCMin is the lowest value in any width's end-of-chain band,
	// after widening to 32 bits. Callers compare against IsEOC instead of
	// this constant directly, since the band's width depends on FAT size.
	ClusterEOCMin = 0x0FFFFFF8
)

// SectorIO is the sector-level read/write contract Table needs. diskio.Disk
// satisfies it directly; internal/fatcache.Cache also satisfies it, so a
// mounted volume can point Table at either one depending on whether the FAT
// sector cache accelerator is enabled (spec.md section 4.3).
type SectorIO interface {
	ReadSectors(start diskio.SectorID, count uint) ([]byte, error)
	WriteSectors(start diskio.SectorID, data []byte) error
}

// Table is a mounted FAT's in-memory entry accessor. Every Get/Set reads or
// writes through `io` immediately; whether that hits the disk directly or a
// cache in front of it is the caller's choice via the SectorIO it supplies.
type Table struct {
	disk        SectorIO
	boot        *bpb.BootSector
	width       bpb.Width
	numFATs     uint
	bytesPerFAT uint32
	firstFAT    diskio.SectorID
	bytesPerSec uint32
	log         *txlog.Log // nil, or disabled, means entry writes aren't journaled
}

// SetLog attaches a transaction log: every subsequent Set() journals the
// modified bytes of FAT copy 0 as a PREPARED record before writing, and
// marks it COMMITTED once every mirror has been written. A nil or disabled
// log makes Set behave exactly as before.
func (t *Table) SetLog(log *txlog.Log) {
	t.log = log
}

// New creates a Table over the FAT region(s) described by boot.
func New(disk SectorIO, boot *bpb.BootSector) *Table {
	return &Table{
		disk:        disk,
		boot:        boot,
		width:       boot.FATWidth,
		numFATs:     uint(boot.NumFATs),
		bytesPerFAT: boot.SectorsPerFAT * uint32(boot.BytesPerSector),
		firstFAT:    diskio.SectorID(boot.FirstFATSector),
		bytesPerSec: uint32(boot.BytesPerSector),
	}
}

// entryByteRange returns the byte offset of cluster `c`'s entry within a
// single FAT copy and the number of bytes it touches (2 for FAT12, whose
// 12-bit entry shares a byte with its neighbour).
func (t *Table) entryByteRange(c ClusterID) (start uint32, length uint32) {
	switch t.width {
	case bpb.Width12:
		return (uint32(c) * 3) / 2, 2
	case bpb.Width16:
		return uint32(c) * 2, 2
	default:
		return uint32(c) * 4, 4
	}
}

// sectorsForFATCopy returns the first sector and sector count of FAT copy
// `index` (0-based).
func (t *Table) sectorsForFATCopy(index uint) (diskio.SectorID, uint32) {
	sectorsPerFAT := t.bytesPerFAT / t.bytesPerSec
	return t.firstFAT + diskio.SectorID(index)*diskio.SectorID(sectorsPerFAT), sectorsPerFAT
}

// readFATCopy reads all of FAT copy `index` into memory. Entries are read a
// whole FAT at a time because the FAT12 nibble-straddle makes single-entry
// sector-aligned reads awkward; internal/fatcache is the layer that actually
// avoids doing this on every call.
func (t *Table) readFATCopy(index uint) ([]byte, error) {
	start, count := t.sectorsForFATCopy(index)
	return t.disk.ReadSectors(start, uint(count))
}

// Get reads cluster c's entry from the first FAT copy.
func (t *Table) Get(c ClusterID) (ClusterID, error) {
	data, err := t.readFATCopy(0)
	if err != nil {
		return 0, err
	}
	return t.decodeEntry(data, c), nil
}

func (t *Table) decodeEntry(data []byte, c ClusterID) ClusterID {
	off, _ := t.entryByteRange(c)
	switch t.width {
	case bpb.Width12:
		return ClusterID(getFAT12Entry(data, uint32(c)))
	case bpb.Width16:
		if int(off)+2 > len(data) {
			return ClusterEOCMin
		}
		return ClusterID(uint16(data[off]) | uint16(data[off+1])<<8)
	default:
		if int(off)+4 > len(data) {
			return ClusterEOCMin
		}
		v := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
		return ClusterID(v & 0x0FFFFFFF)
	}
}

// Set writes cluster c's entry to every FAT copy, keeping the mirrors in
// sync as spec.md section 4.2 requires. FAT32's top 4 reserved bits of each
// 32-bit entry are always preserved across the read-modify-write.
//
// When a transaction log is attached, the entry's new bytes within FAT copy
// 0 are staged as a PREPARED record before any copy is written, and marked
// COMMITTED once every copy has landed -- so a crash mid-write leaves a
// replayable record of what the entry should become, per spec.md section
// 4.8. An entry that straddles a sector boundary is journaled against the
// sector its first byte falls in; Replay rewrites starting at that same
// offset, so the record is still self-consistent even though it spans two
// physical sectors on disk.
func (t *Table) Set(c ClusterID, value ClusterID) error {
	var slot uint32
	var journaled bool
	if t.log != nil && t.log.Enabled() {
		if data, err := t.readFATCopy(0); err == nil {
			t.encodeEntry(data, c, value)
			off, length := t.entryByteRange(c)
			sector := t.firstFAT + diskio.SectorID(off/t.bytesPerSec)
			offsetInSector := off % t.bytesPerSec
			payload := make([]byte, length)
			copy(payload, data[off:off+length])
			if s, perr := t.log.Prepare(txlog.ApplyFATEntry(sector, offsetInSector, payload)); perr == nil {
				slot, journaled = s, true
			}
		}
	}

	var agg error
	for i := uint(0); i < t.numFATs; i++ {
		data, err := t.readFATCopy(i)
		if err != nil {
			agg = multierror.Append(agg, fmt.Errorf("reading FAT copy %d: %w", i, err))
			continue
		}
		t.encodeEntry(data, c, value)
		start, _ := t.sectorsForFATCopy(i)
		if err := t.disk.WriteSectors(start, data); err != nil {
			agg = multierror.Append(agg, fmt.Errorf("writing FAT copy %d: %w", i, err))
		}
	}
	if journaled && agg == nil {
		if err := t.log.Commit(slot); err != nil {
			agg = multierror.Append(agg, fmt.Errorf("committing transaction log slot %d: %w", slot, err))
		}
	}
	return agg
}

func (t *Table) encodeEntry(data []byte, c ClusterID, value ClusterID) {
	off, _ := t.entryByteRange(c)
	switch t.width {
	case bpb.Width12:
		setFAT12Entry(data, uint32(c), uint16(value)&0x0FFF)
	case bpb.Width16:
		if int(off)+2 > len(data) {
			return
		}
		data[off] = byte(value)
		data[off+1] = byte(value >> 8)
	default:
		if int(off)+4 > len(data) {
			return
		}
		// Preserve the reserved top 4 bits already on disk.
		existing := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
		merged := (existing & 0xF0000000) | (uint32(value) & 0x0FFFFFFF)
		data[off] = byte(merged)
		data[off+1] = byte(merged >> 8)
		data[off+2] = byte(merged >> 16)
		data[off+3] = byte(merged >> 24)
	}
}

func getFAT12Entry(b []byte, cluster uint32) uint16 {
	bytePos := (cluster * 3) / 2
	if bytePos+1 >= uint32(len(b)) {
		return 0
	}
	if cluster%2 == 0 {
		return uint16(b[bytePos]) | ((uint16(b[bytePos+1]) & 0x0F) << 8)
	}
	return uint16(b[bytePos]>>4) | (uint16(b[bytePos+1]) << 4)
}

func setFAT12Entry(b []byte, cluster uint32, value uint16) {
	bytePos := (cluster * 3) / 2
	if bytePos+1 >= uint32(len(b)) {
		return
	}
	if cluster%2 == 0 {
		b[bytePos] = byte(value & 0xFF)
		b[bytePos+1] = (b[bytePos+1] & 0xF0) | byte((value>>8)&0x0F)
	} else {
		b[bytePos] = (b[bytePos] & 0x0F) | byte((value&0x0F)<<4)
		b[bytePos+1] = byte(value >> 4)
	}
}

// IsEOC reports whether `c` is an end-of-chain marker for this table's
// width. Any value in the top band is treated as EOC, not just the all-ones
// maximum, matching real-world FAT implementations' leniency.
func (t *Table) IsEOC(c ClusterID) bool {
	switch t.width {
	case bpb.Width12:
		return c&0xFF8 == 0xFF8
	case bpb.Width16:
		return c&0xFFF8 == 0xFFF8
	default:
		return c&0x0FFFFFF8 == 0x0FFFFFF8
	}
}

// IsBad reports whether c marks a cluster the formatter flagged as
// physically unusable.
func (t *Table) IsBad(c ClusterID) bool {
	switch t.width {
	case bpb.Width12:
		return c == 0xFF7
	case bpb.Width16:
		return c == 0xFFF7
	default:
		return c == ClusterBad
	}
}

// EOCValue returns the canonical end-of-chain marker value to write when
// terminating a chain.
func (t *Table) EOCValue() ClusterID {
	switch t.width {
	case bpb.Width12:
		return 0x0FFF
	case bpb.Width16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// Walk returns the full cluster chain starting at `start`, in order,
// stopping at the first EOC marker. It detects cycles by bounding the walk
// to the table's maximum possible chain length and returns
// ErrCyclicChain-shaped errors (as a plain error; gofat wraps it in
// ErrCorruptedFileSystem at the API boundary) if that bound is exceeded.
func (t *Table) Walk(start ClusterID, maxClusters uint32) ([]ClusterID, error) {
	if start == ClusterFree {
		return nil, nil
	}
	chain := make([]ClusterID, 0, 16)
	seen := make(map[ClusterID]bool)
	cur := start
	for {
		if cur < 2 || t.IsBad(cur) {
			return nil, fmt.Errorf("invalid cluster %#x encountered while walking chain", cur)
		}
		if seen[cur] {
			return nil, fmt.Errorf("cyclic cluster chain detected at cluster %#x", cur)
		}
		seen[cur] = true
		chain = append(chain, cur)
		if uint32(len(chain)) > maxClusters {
			return nil, fmt.Errorf("cluster chain exceeds volume capacity (%d clusters): corrupt", maxClusters)
		}
		next, err := t.Get(cur)
		if err != nil {
			return nil, err
		}
		if t.IsEOC(next) {
			break
		}
		cur = next
	}
	return chain, nil
}

// TotalEntries returns the number of addressable cluster entries in this
// FAT, including the two reserved entries at index 0 and 1.
func (t *Table) TotalEntries() uint32 {
	return t.boot.TotalClusters + 2
}

// Extend appends `newCluster` onto the end of a chain whose current tail is
// `tail`, writing the EOC marker into newCluster and linking tail -> new.
// If tail is ClusterFree, this is the first cluster of a fresh chain and no
// link is written, only the EOC marker on newCluster itself.
func (t *Table) Extend(tail ClusterID, newCluster ClusterID) error {
	if err := t.Set(newCluster, t.EOCValue()); err != nil {
		return err
	}
	if tail == ClusterFree {
		return nil
	}
	return t.Set(tail, newCluster)
}

// Truncate marks every cluster in `toFree` as free (entry value 0). Callers
// are expected to have already walked the chain and decided the split point;
// Truncate does no chain walking of its own.
func (t *Table) Truncate(toFree []ClusterID) error {
	var agg error
	for _, c := range toFree {
		if err := t.Set(c, ClusterFree); err != nil {
			agg = multierror.Append(agg, err)
		}
	}
	return agg
}
