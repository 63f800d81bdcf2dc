package fatcache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelvindash/gofat/internal/diskio"
)

func newTestCache(t *testing.T, capacitySectors int) (*Cache, *diskio.Disk) {
	t.Helper()
	dev, err := diskio.NewBlankMemoryDevice(512, 32)
	require.NoError(t, err)
	disk := diskio.New(dev)
	return New(disk, 512, uint(capacitySectors)*512), disk
}

func TestReadMissLoadsFromDisk(t *testing.T) {
	cache, disk := newTestCache(t, 4)
	payload := bytes.Repeat([]byte{0x11}, 512)
	require.NoError(t, disk.WriteSectors(0, payload))

	got, err := cache.Read(0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, 1, cache.Resident())
}

func TestWriteIsNotVisibleOnDiskUntilFlush(t *testing.T) {
	cache, disk := newTestCache(t, 4)
	payload := bytes.Repeat([]byte{0x22}, 512)
	require.NoError(t, cache.Write(0, payload))

	onDisk, err := disk.ReadSectors(0, 1)
	require.NoError(t, err)
	require.NotEqual(t, payload, onDisk, "write must stay cache-resident until flush")

	n, err := cache.FlushAll()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	onDisk, err = disk.ReadSectors(0, 1)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
}

func TestEvictionWritesBackDirtySector(t *testing.T) {
	cache, disk := newTestCache(t, 2)
	payload := bytes.Repeat([]byte{0x33}, 512)

	require.NoError(t, cache.Write(0, payload))
	require.NoError(t, cache.Write(1, bytes.Repeat([]byte{0x44}, 512)))
	// A third distinct sector forces eviction of the LRU entry (sector 0),
	// which must be written back to disk first since it's still dirty.
	require.NoError(t, cache.Write(2, bytes.Repeat([]byte{0x55}, 512)))

	onDisk, err := disk.ReadSectors(0, 1)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk, "evicted dirty sector must have been flushed to disk")
	require.Equal(t, 2, cache.Resident())
}

func TestReadRefreshesLRURecency(t *testing.T) {
	cache, _ := newTestCache(t, 2)
	require.NoError(t, cache.Write(0, bytes.Repeat([]byte{0x01}, 512)))
	require.NoError(t, cache.Write(1, bytes.Repeat([]byte{0x02}, 512)))

	// Touch sector 0 so it becomes most-recently-used; sector 1 should be
	// evicted instead when a third sector is brought in.
	_, err := cache.Read(0)
	require.NoError(t, err)
	require.NoError(t, cache.Write(2, bytes.Repeat([]byte{0x03}, 512)))

	_, err = cache.Read(0)
	require.NoError(t, err)
	got, err := cache.Read(2)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x03}, 512), got)
}

func TestFlushSingleSectorClearsDirtyBit(t *testing.T) {
	cache, disk := newTestCache(t, 4)
	require.NoError(t, cache.Write(0, bytes.Repeat([]byte{0x66}, 512)))
	require.NoError(t, cache.Flush(0))

	n, err := cache.FlushAll()
	require.NoError(t, err)
	require.Equal(t, 0, n, "sector should no longer be dirty after an explicit Flush")

	onDisk, err := disk.ReadSectors(0, 1)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x66}, 512), onDisk)
}

func TestCapacityIsAtLeastOneSector(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	require.Equal(t, 1, cache.Capacity())
}

func TestReadWriteSectorsMultiSector(t *testing.T) {
	cache, _ := newTestCache(t, 8)
	payload := bytes.Repeat([]byte{0x77}, 512*3)
	require.NoError(t, cache.WriteSectors(4, payload))

	got, err := cache.ReadSectors(4, 3)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
