package fattable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/diskio"
)

func newTestTable(t *testing.T, width bpb.Width, numFATs uint8, sectorsPerFAT uint32) (*Table, *diskio.Disk) {
	t.Helper()
	dev, err := diskio.NewBlankMemoryDevice(512, 16)
	require.NoError(t, err)
	disk := diskio.New(dev)

	boot := &bpb.BootSector{
		FATWidth:       width,
		SectorsPerFAT:  sectorsPerFAT,
		TotalClusters:  20,
		FirstFATSector: 0,
	}
	boot.NumFATs = numFATs
	boot.BytesPerSector = 512

	return New(disk, boot), disk
}

func TestSetGetRoundTripFAT16(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 2, 1)

	require.NoError(t, table.Set(5, 9))
	val, err := table.Get(5)
	require.NoError(t, err)
	require.EqualValues(t, 9, val)
}

func TestSetGetRoundTripFAT12Straddling(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width12, 1, 1)

	// Adjacent odd/even cluster numbers straddle the same byte, so both
	// directions of the nibble math need exercising.
	require.NoError(t, table.Set(4, 0x123))
	require.NoError(t, table.Set(5, 0x456))

	v4, err := table.Get(4)
	require.NoError(t, err)
	require.EqualValues(t, 0x123, v4)

	v5, err := table.Get(5)
	require.NoError(t, err)
	require.EqualValues(t, 0x456, v5)
}

func TestSetPreservesFAT32ReservedBits(t *testing.T) {
	table, disk := newTestTable(t, bpb.Width32, 1, 1)

	off, _ := table.entryByteRange(10)
	sector, _ := table.sectorsForFATCopy(0)
	data, err := disk.ReadSectors(sector, 1)
	require.NoError(t, err)
	data[off+3] |= 0xF0 // set the reserved top nibble directly
	require.NoError(t, disk.WriteSectors(sector, data))

	require.NoError(t, table.Set(10, 0x1234567))
	val, err := table.Get(10)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234567, val)

	data, err = disk.ReadSectors(sector, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0xF0), data[off+3]&0xF0, "reserved bits must survive the read-modify-write")
}

func TestSetMirrorsAcrossAllFATCopies(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 2, 1)
	require.NoError(t, table.Set(3, 42))

	start0, _ := table.sectorsForFATCopy(0)
	start1, _ := table.sectorsForFATCopy(1)
	require.NotEqual(t, start0, start1)

	copy0, err := table.readFATCopy(0)
	require.NoError(t, err)
	copy1, err := table.readFATCopy(1)
	require.NoError(t, err)
	require.Equal(t, copy0, copy1)
}

func TestWalkFollowsChainToEOC(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 1, 1)
	require.NoError(t, table.Set(2, 3))
	require.NoError(t, table.Set(3, 4))
	require.NoError(t, table.Set(4, table.EOCValue()))

	chain, err := table.Walk(2, 20)
	require.NoError(t, err)
	require.Equal(t, []ClusterID{2, 3, 4}, chain)
}

func TestWalkDetectsCycles(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 1, 1)
	require.NoError(t, table.Set(2, 3))
	require.NoError(t, table.Set(3, 2)) // cycle back to 2

	_, err := table.Walk(2, 20)
	require.Error(t, err)
}

func TestExtendLinksTailAndTerminatesNew(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 1, 1)
	require.NoError(t, table.Set(2, table.EOCValue()))

	require.NoError(t, table.Extend(2, 3))
	next, err := table.Get(2)
	require.NoError(t, err)
	require.EqualValues(t, 3, next)

	tail, err := table.Get(3)
	require.NoError(t, err)
	require.True(t, table.IsEOC(tail))
}

func TestTruncateFreesEveryListedCluster(t *testing.T) {
	table, _ := newTestTable(t, bpb.Width16, 1, 1)
	require.NoError(t, table.Set(5, 6))
	require.NoError(t, table.Set(6, 7))

	require.NoError(t, table.Truncate([]ClusterID{5, 6}))

	v5, err := table.Get(5)
	require.NoError(t, err)
	require.EqualValues(t, ClusterFree, v5)
	v6, err := table.Get(6)
	require.NoError(t, err)
	require.EqualValues(t, ClusterFree, v6)
}

func TestIsEOCAndIsBadBandsPerWidth(t *testing.T) {
	fat12, _ := newTestTable(t, bpb.Width12, 1, 1)
	require.True(t, fat12.IsEOC(0xFF8))
	require.True(t, fat12.IsBad(0xFF7))
	require.False(t, fat12.IsEOC(0x005))

	fat32, _ := newTestTable(t, bpb.Width32, 1, 1)
	require.True(t, fat32.IsEOC(0x0FFFFFF8))
	require.True(t, fat32.IsBad(ClusterBad))
}
