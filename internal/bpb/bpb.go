// Package bpb parses and validates the BIOS Parameter Block and, for FAT32,
// the FSInfo sector, per spec.md section 4.1.
//
// Grounded on drivers/fat/common.go's RawFATBootSectorWithBPB and
// NewFATBootSectorFromStream, including the exact Microsoft cluster-count
// thresholds used to classify FAT12/16/32.
package bpb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Width identifies the FAT entry width.
type Width int

const (
	Width12 Width = 12
	Width16 Width = 16
	Width32 Width = 32
)

// Raw is the on-disk layout of the common portion of the boot sector shared
// by FAT12/16/32, laid out exactly as Microsoft's BPB documents it.
type Raw struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// RawFAT32Extension is the portion of the boot sector that only exists on
// FAT32, immediately following Raw.
type RawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
	// TxLogReservedSectors is a reserved field this spec repurposes: the
	// number of sectors set aside at format time for the optional write-
	// ahead transaction log (section 4.7). Zero means no log region exists.
	TxLogReservedSectors uint16
}

// BootSector is the fully parsed, validated, and derived boot sector: the
// raw fields plus every computed geometry value the rest of the engine
// needs (FAT width, sector numbers for each region, bytes per cluster).
type BootSector struct {
	Raw
	FAT32 RawFAT32Extension // zero value if FATWidth != Width32

	FATWidth          Width
	SectorsPerFAT     uint32
	TotalFATSectors    uint32
	RootDirSectors     uint32
	BytesPerCluster    uint32
	TotalClusters      uint32
	TotalDataSectors   uint32
	FirstDataSector    uint32
	FirstFATSector     uint32
	FirstRootDirSector uint32 // FAT12/16 only
	RootDirCluster     uint32 // FAT32 only
	DirentsPerCluster  int
	TxLogFirstSector   uint32
	TxLogSectorCount   uint32
}

// ClassifyWidth determines the FAT width from the cluster count using
// Microsoft's thresholds. This is the only correct way to classify a FAT
// volume -- no heuristics, no extension sniffing.
func ClassifyWidth(totalClusters uint32) Width {
	// From Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return Width12
	}
	if totalClusters < 65525 {
		return Width16
	}
	return Width32
}

const direntSize = 32

// Parse reads and validates the boot sector (and, for FAT32, its extension
// fields) from `reader`, which must be positioned at the start of the
// volume. The FSInfo sector is not read here; see ParseFSInfo. On success the stream position is unspecified.
func Parse(reader io.ReadSeeker) (*BootSector, error) {
	raw := Raw{}
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("failed to read boot sector: %w", err)
	}

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf(
			"corrupted: BytesPerSector must be 512/1024/2048/4096, got %d",
			raw.BytesPerSector)
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, fmt.Errorf(
			"corrupted: SectorsPerCluster must be a power of 2 in [1, 128], got %d",
			raw.SectorsPerCluster)
	}

	rootDirSectors := (uint32(raw.RootEntryCount)*direntSize + uint32(raw.BytesPerSector) - 1) /
		uint32(raw.BytesPerSector)

	var sectorsPerFAT uint32
	var fat32Ext RawFAT32Extension
	if raw.SectorsPerFAT16 != 0 {
		sectorsPerFAT = uint32(raw.SectorsPerFAT16)
	} else {
		if err := binary.Read(reader, binary.LittleEndian, &fat32Ext); err != nil {
			return nil, fmt.Errorf("failed to read FAT32 extension: %w", err)
		}
		sectorsPerFAT = fat32Ext.SectorsPerFAT32
	}

	var totalSectors uint32
	if raw.TotalSectors16 != 0 {
		totalSectors = uint32(raw.TotalSectors16)
	} else {
		totalSectors = raw.TotalSectors32
	}

	totalFATSectors := uint32(raw.NumFATs) * sectorsPerFAT
	reservedPlusFATsPlusRoot := uint32(raw.ReservedSectors) + totalFATSectors + rootDirSectors
	if totalSectors <= reservedPlusFATsPlusRoot {
		return nil, fmt.Errorf(
			"corrupted: total sectors (%d) does not exceed reserved+FAT+root (%d): no data region",
			totalSectors, reservedPlusFATsPlusRoot)
	}

	totalDataSectors := totalSectors - reservedPlusFATsPlusRoot
	totalClusters := totalDataSectors / uint32(raw.SectorsPerCluster)
	if totalClusters == 0 {
		return nil, fmt.Errorf("corrupted: derived cluster count is zero")
	}

	width := ClassifyWidth(totalClusters)
	if width == Width32 && rootDirSectors != 0 {
		return nil, fmt.Errorf(
			"corrupted: RootEntryCount is nonzero (%d) on a FAT32 volume", raw.RootEntryCount)
	}
	if width != Width32 && raw.SectorsPerFAT16 == 0 {
		return nil, fmt.Errorf("corrupted: SectorsPerFAT16 is zero on a FAT%d volume", width)
	}

	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return nil, fmt.Errorf(
			"corrupted: bytes per cluster cannot exceed 32768, got %d", bytesPerCluster)
	}

	firstFATSector := uint32(raw.ReservedSectors)
	firstRootDirSector := firstFATSector + totalFATSectors
	firstDataSector := firstRootDirSector + rootDirSectors

	bs := &BootSector{
		Raw:                raw,
		FAT32:              fat32Ext,
		FATWidth:           width,
		SectorsPerFAT:      sectorsPerFAT,
		TotalFATSectors:    totalFATSectors,
		RootDirSectors:     rootDirSectors,
		BytesPerCluster:    bytesPerCluster,
		TotalClusters:      totalClusters,
		TotalDataSectors:   totalDataSectors,
		FirstDataSector:    firstDataSector,
		FirstFATSector:     firstFATSector,
		FirstRootDirSector: firstRootDirSector,
		DirentsPerCluster:  int(bytesPerCluster) / direntSize,
	}
	if width == Width32 {
		bs.RootDirCluster = fat32Ext.RootCluster
	}
	if fat32Ext.TxLogReservedSectors != 0 {
		bs.TxLogSectorCount = uint32(fat32Ext.TxLogReservedSectors)
		bs.TxLogFirstSector = firstFATSector - bs.TxLogSectorCount
	}

	return bs, nil
}

// FSInfo is the FAT32 advisory free-cluster/next-free hint record. It is
// never authoritative -- the engine always recomputes truth from the FAT or
// bitmap -- but is a useful mount-time starting point and is refreshed on
// flush.
type FSInfo struct {
	FreeClusterCount uint32 // 0xFFFFFFFF means unknown
	NextFreeCluster  uint32 // 0xFFFFFFFF means unknown
}

const (
	fsInfoLeadSignature uint32 = 0x41615252
	fsInfoStructSig     uint32 = 0x61417272
	fsInfoTrailSig      uint32 = 0xAA550000
)

type rawFSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// ParseFSInfo reads and validates the FSInfo sector. Callers should treat a
// validation failure as "no hint available" rather than as corruption: the
// hint is advisory only, per spec.md section 3.
func ParseFSInfo(sector []byte) (FSInfo, error) {
	if len(sector) < 512 {
		return FSInfo{}, fmt.Errorf("FSInfo sector too short: %d bytes", len(sector))
	}
	var raw rawFSInfo
	if err := binary.Read(sliceReader{sector}, binary.LittleEndian, &raw); err != nil {
		return FSInfo{}, err
	}
	if raw.LeadSignature != fsInfoLeadSignature ||
		raw.StructSignature != fsInfoStructSig ||
		raw.TrailSignature != fsInfoTrailSig {
		return FSInfo{}, fmt.Errorf("FSInfo signatures do not match, treating hint as stale")
	}
	return FSInfo{FreeClusterCount: raw.FreeCount, NextFreeCluster: raw.NextFree}, nil
}

// EncodeFSInfo serializes an FSInfo record back into a full 512-byte sector
// (padding the buffer out if the sector size is larger).
func EncodeFSInfo(info FSInfo, sectorSize uint) []byte {
	raw := rawFSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSig,
		FreeCount:       info.FreeClusterCount,
		NextFree:        info.NextFreeCluster,
		TrailSignature:  fsInfoTrailSig,
	}
	buf := make([]byte, sectorSize)
	w := &sliceWriter{buf: buf}
	_ = binary.Write(w, binary.LittleEndian, &raw)
	return buf
}

type sliceReader struct{ b []byte }

func (r sliceReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

type sliceWriter struct {
	buf []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}
