package gofat

import (
	"encoding/binary"
	"fmt"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/diskio"
)

// FormatSpec describes the geometry to lay out when formatting a fresh
// volume. Unlike Options (which configures how an already-formatted volume
// is mounted), FormatSpec fixes facts that become permanent once written:
// sectors per cluster, FAT count, and so on.
type FormatSpec struct {
	// SectorsPerCluster must be a power of two in [1, 128].
	SectorsPerCluster uint8
	// NumFATs is the number of mirrored FAT copies; 2 is conventional.
	NumFATs uint8
	// ReservedSectors is the count of sectors (including the boot sector
	// itself) before the first FAT copy begins. Must be at least 1; FAT32
	// needs at least 32 to leave room for FSInfo and its backup boot sector.
	ReservedSectors uint16
	// RootEntryCount is the number of 32-byte slots in the fixed root
	// directory region. Ignored (forced to 0) for FAT32.
	RootEntryCount uint16
	// MediaDescriptor is the historical media type byte (0xF8 for a fixed
	// disk is the conventional default).
	MediaDescriptor uint8
	// TxLogSectors reserves this many sectors immediately before the first
	// FAT copy for the optional write-ahead transaction log. Zero means no
	// log region is created. The count is recorded only in the FAT32
	// extension, so on FAT12/16 the sectors are reserved but Mount finds no
	// log region there.
	TxLogSectors uint16
	// VolumeLabel is an up-to-11-character label written into the FAT32
	// extension (ignored on FAT12/16, which keeps its label in the root
	// directory instead -- out of scope here).
	VolumeLabel string
}

// DefaultFormatSpec returns a conventional geometry: 2 FATs, media
// descriptor 0xF8 (fixed disk), no transaction log, reserved sectors and
// root-entry count chosen per FAT12/16/32 convention once the device's
// total size is known (see buildBootSector).
func DefaultFormatSpec() FormatSpec {
	return FormatSpec{
		SectorsPerCluster: 4,
		NumFATs:           2,
		RootEntryCount:    512,
		MediaDescriptor:   0xF8,
	}
}

func buildBootSector(spec FormatSpec, dev diskio.BlockDevice) (*bpb.BootSector, error) {
	if spec.SectorsPerCluster == 0 {
		spec = DefaultFormatSpec()
	}
	bytesPerSector := uint16(dev.BlockSize())
	totalSectors := uint32(dev.TotalBlocks())

	reserved := spec.ReservedSectors
	if reserved == 0 {
		reserved = 1
	}

	rootEntryCount := spec.RootEntryCount
	rootDirSectors := (uint32(rootEntryCount)*32 + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)

	dataSectorsEstimate := totalSectors - uint32(reserved) - rootDirSectors - uint32(spec.TxLogSectors)
	approxClusters := dataSectorsEstimate / uint32(spec.SectorsPerCluster)
	width := bpb.ClassifyWidth(approxClusters)

	var sectorsPerFAT uint32
	if width == bpb.Width32 {
		rootEntryCount = 0
		rootDirSectors = 0
		if reserved < 32 {
			reserved = 32
		}
		entrySize := uint32(4)
		numerator := totalSectors - uint32(reserved) - uint32(spec.TxLogSectors)
		denom := uint32(spec.SectorsPerCluster)*uint32(bytesPerSector)/entrySize + uint32(spec.NumFATs)
		sectorsPerFAT = (numerator + denom - 1) / denom
	} else {
		entrySize := uint32(2)
		if width == bpb.Width12 {
			entrySize = 0 // computed below with the 1.5 factor
		}
		dataSectors := totalSectors - uint32(reserved) - rootDirSectors - uint32(spec.TxLogSectors)
		clusters := dataSectors / uint32(spec.SectorsPerCluster)
		var fatBytes uint32
		if width == bpb.Width12 {
			fatBytes = (clusters + 2) * 3 / 2
		} else {
			fatBytes = (clusters + 2) * entrySize
		}
		sectorsPerFAT = (fatBytes + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)
	}

	raw := bpb.Raw{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: spec.SectorsPerCluster,
		ReservedSectors:   reserved + spec.TxLogSectors,
		NumFATs:           spec.NumFATs,
		RootEntryCount:    rootEntryCount,
		Media:             spec.MediaDescriptor,
		SectorsPerTrack:   63,
		NumHeads:          255,
	}
	if totalSectors < 0x10000 {
		raw.TotalSectors16 = uint16(totalSectors)
	} else {
		raw.TotalSectors32 = totalSectors
	}
	if width != bpb.Width32 {
		raw.SectorsPerFAT16 = uint16(sectorsPerFAT)
	}

	boot := &bpb.BootSector{Raw: raw}
	if width == bpb.Width32 {
		boot.FAT32 = bpb.RawFAT32Extension{
			SectorsPerFAT32:      sectorsPerFAT,
			RootCluster:          2,
			FSInfoSector:         1,
			BackupBootSector:     6,
			TxLogReservedSectors: spec.TxLogSectors,
		}
		copy(boot.FAT32.VolumeLabel[:], spec.VolumeLabel)
	}

	reparsed, err := bpb.Parse(&sliceSeeker{data: encodeBootSectorForParse(boot, int(bytesPerSector))})
	if err != nil {
		return nil, fmt.Errorf("internal error: freshly built boot sector failed to parse back: %w", err)
	}
	return reparsed, nil
}

// encodeBootSectorForParse renders a BootSector's Raw+FAT32 fields as bytes
// so buildBootSector can round-trip through bpb.Parse and reuse its derived
// geometry computation instead of duplicating it.
func encodeBootSectorForParse(boot *bpb.BootSector, sectorSize int) []byte {
	buf := make([]byte, sectorSize)
	writeBootSectorFields(buf, boot)
	return buf
}

// writeBootSectorFields serializes a BootSector's Raw (and, for FAT32, its
// extension) fields into the first bytes of `sector`, leaving the rest
// (boot code, signature) untouched/zero. The 0x55AA signature is written at
// the conventional offset 510-511.
func writeBootSectorFields(sector []byte, boot *bpb.BootSector) {
	copy(sector[3:11], boot.OEMName[:])
	binary.LittleEndian.PutUint16(sector[11:13], boot.BytesPerSector)
	sector[13] = boot.SectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:16], boot.ReservedSectors)
	sector[16] = boot.NumFATs
	binary.LittleEndian.PutUint16(sector[17:19], boot.RootEntryCount)
	binary.LittleEndian.PutUint16(sector[19:21], boot.TotalSectors16)
	sector[21] = boot.Media
	binary.LittleEndian.PutUint16(sector[22:24], boot.SectorsPerFAT16)
	binary.LittleEndian.PutUint16(sector[24:26], boot.SectorsPerTrack)
	binary.LittleEndian.PutUint16(sector[26:28], boot.NumHeads)
	binary.LittleEndian.PutUint32(sector[28:32], boot.HiddenSectors)
	binary.LittleEndian.PutUint32(sector[32:36], boot.TotalSectors32)

	if boot.SectorsPerFAT16 == 0 {
		ext := boot.FAT32
		binary.LittleEndian.PutUint32(sector[36:40], ext.SectorsPerFAT32)
		binary.LittleEndian.PutUint16(sector[40:42], ext.ExtFlags)
		sector[42] = ext.FSVersionMinor
		sector[43] = ext.FSVersionMajor
		binary.LittleEndian.PutUint32(sector[44:48], ext.RootCluster)
		binary.LittleEndian.PutUint16(sector[48:50], ext.FSInfoSector)
		binary.LittleEndian.PutUint16(sector[50:52], ext.BackupBootSector)
		sector[64] = ext.DriveNumber
		sector[65] = ext.NTReserved
		sector[66] = ext.ExBootSignature
		binary.LittleEndian.PutUint32(sector[67:71], ext.VolumeID)
		copy(sector[71:82], ext.VolumeLabel[:])
		copy(sector[82:90], ext.FileSystemType[:])
		binary.LittleEndian.PutUint16(sector[90:92], ext.TxLogReservedSectors)
	}

	sector[510] = 0x55
	sector[511] = 0xAA
}
