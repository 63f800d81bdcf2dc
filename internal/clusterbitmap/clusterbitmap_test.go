package clusterbitmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/diskio"
	"github.com/kelvindash/gofat/internal/fattable"
)

func TestNewStartsWithEveryClusterFree(t *testing.T) {
	b := New(10)
	require.EqualValues(t, 10, b.FreeCount())
}

func TestMarkAllocatedThenMarkFreeRoundTrips(t *testing.T) {
	b := New(10)
	b.MarkAllocated(2)
	require.EqualValues(t, 9, b.FreeCount())

	b.MarkFree(2)
	require.EqualValues(t, 10, b.FreeCount())
}

func TestMarkAllocatedIgnoresOutOfRangeCluster(t *testing.T) {
	b := New(4)
	b.MarkAllocated(999)
	require.EqualValues(t, 4, b.FreeCount())
}

func TestAllocateReturnsDistinctClustersAndDecrementsFreeCount(t *testing.T) {
	b := New(4)
	first, err := b.Allocate()
	require.NoError(t, err)
	second, err := b.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.EqualValues(t, 2, b.FreeCount())
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	b := New(2)
	_, err := b.Allocate()
	require.NoError(t, err)
	_, err = b.Allocate()
	require.NoError(t, err)

	_, err = b.Allocate()
	require.Error(t, err)
}

func TestAllocateWrapsAroundAfterCursorSeed(t *testing.T) {
	b := New(4)
	// Take the last index and seed the cursor there, so the first pass (from
	// index 3 to the end) finds nothing and the second pass (starting back at
	// 0) must succeed.
	b.MarkAllocated(toCluster(3))
	b.SeedCursor(toCluster(3))

	c, err := b.Allocate()
	require.NoError(t, err)
	require.Equal(t, toCluster(0), c)
}

func TestSeedCursorIgnoresOutOfRangeHint(t *testing.T) {
	b := New(4)
	b.SeedCursor(toCluster(4))
	c, err := b.Allocate()
	require.NoError(t, err)
	require.Equal(t, toCluster(0), c)
}

func TestAllocateRunFindsContiguousFreeSpan(t *testing.T) {
	b := New(8)
	b.MarkAllocated(toCluster(0))
	b.MarkAllocated(toCluster(1))

	start, err := b.AllocateRun(3)
	require.NoError(t, err)
	require.Equal(t, toCluster(2), start)
	require.EqualValues(t, 3, b.FreeCount())
}

func TestAllocateRunFailsWhenNoSpanLongEnough(t *testing.T) {
	b := New(4)
	b.MarkAllocated(toCluster(1))

	_, err := b.AllocateRun(3)
	require.Error(t, err)
}

func TestAllocateRunRejectsZeroCount(t *testing.T) {
	b := New(4)
	_, err := b.AllocateRun(0)
	require.Error(t, err)
}

func TestRebuildMirrorsFATAllocationState(t *testing.T) {
	const totalClusters = 8
	dev, err := diskio.NewBlankMemoryDevice(512, 4)
	require.NoError(t, err)
	disk := diskio.New(dev)

	boot := &bpb.BootSector{
		FATWidth:      bpb.Width16,
		SectorsPerFAT: 1,
		TotalClusters: totalClusters,
	}
	boot.NumFATs = 1
	boot.BytesPerSector = 512
	boot.FirstFATSector = 0

	table := fattable.New(disk, boot)
	require.NoError(t, table.Set(3, fattable.ClusterEOCMin))
	require.NoError(t, table.Set(5, 6))
	require.NoError(t, table.Set(6, fattable.ClusterEOCMin))

	b, err := Rebuild(table, totalClusters)
	require.NoError(t, err)
	require.EqualValues(t, totalClusters-3, b.FreeCount())
}
