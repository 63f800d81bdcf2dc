package bpb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyWidthBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		clusters uint32
		want     Width
	}{
		{"just below FAT12 ceiling", 4084, Width12},
		{"FAT16 floor", 4085, Width16},
		{"just below FAT16 ceiling", 65524, Width16},
		{"FAT32 floor", 65525, Width32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyWidth(tc.clusters))
		})
	}
}

// buildFAT16Sector assembles a minimal valid boot sector for a FAT16 volume
// with 5000 data clusters, mirroring the geometry format.go's FormatSpec
// would produce for a volume this size.
func buildFAT16Sector(t *testing.T) []byte {
	t.Helper()
	raw := Raw{
		BytesPerSector:    512,
		SectorsPerCluster: 8,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntryCount:    512,
		Media:             0xF8,
		SectorsPerFAT16:   20,
		TotalSectors32:    40073,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &raw))

	sector := make([]byte, 512)
	copy(sector, buf.Bytes())
	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}

func TestParseFAT16Geometry(t *testing.T) {
	boot, err := Parse(&sliceSeeker{data: buildFAT16Sector(t)})
	require.NoError(t, err)

	require.Equal(t, Width16, boot.FATWidth)
	require.EqualValues(t, 20, boot.SectorsPerFAT)
	require.EqualValues(t, 40, boot.TotalFATSectors)
	require.EqualValues(t, 32, boot.RootDirSectors)
	require.EqualValues(t, 4096, boot.BytesPerCluster)
	require.EqualValues(t, 5000, boot.TotalClusters)
	require.EqualValues(t, 1, boot.FirstFATSector)
	require.EqualValues(t, 41, boot.FirstRootDirSector)
	require.EqualValues(t, 73, boot.FirstDataSector)
	require.EqualValues(t, 0, boot.TxLogSectorCount)
}

func TestParseRejectsBadBytesPerSector(t *testing.T) {
	sector := buildFAT16Sector(t)
	binary.LittleEndian.PutUint16(sector[11:13], 777)
	_, err := Parse(&sliceSeeker{data: sector})
	require.Error(t, err)
}

func TestParseRejectsFAT32RootEntryCount(t *testing.T) {
	// RootEntryCount stays nonzero (512) while TotalSectors32 is pushed high
	// enough to classify as FAT32 by cluster count -- an inconsistent boot
	// sector that must be rejected rather than silently misparsed.
	sector := buildFAT16Sector(t)
	binary.LittleEndian.PutUint32(sector[32:36], 524300)

	_, err := Parse(&sliceSeeker{data: sector})
	require.Error(t, err)
}

func TestEncodeFSInfoRoundTrip(t *testing.T) {
	info := FSInfo{FreeClusterCount: 1234, NextFreeCluster: 9}
	encoded := EncodeFSInfo(info, 512)
	decoded, err := ParseFSInfo(encoded)
	require.NoError(t, err)
	require.Equal(t, info, decoded)
}

func TestParseFSInfoRejectsBadSignature(t *testing.T) {
	encoded := make([]byte, 512)
	_, err := ParseFSInfo(encoded)
	require.Error(t, err)
}

// sliceSeeker adapts an in-memory byte slice to io.ReadSeeker for Parse,
// mirroring gofat's Mount-time boot sector reader.
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
