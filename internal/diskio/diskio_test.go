package diskio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskReadWriteSectorsRoundTrip(t *testing.T) {
	dev, err := NewBlankMemoryDevice(512, 16)
	require.NoError(t, err)
	disk := New(dev)

	payload := bytes.Repeat([]byte{0xAB}, 512*3)
	require.NoError(t, disk.WriteSectors(2, payload))

	got, err := disk.ReadSectors(2, 3)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDiskCheckBoundsRejectsOutOfRange(t *testing.T) {
	dev, err := NewBlankMemoryDevice(512, 4)
	require.NoError(t, err)
	disk := New(dev)

	_, err = disk.ReadSectors(3, 2)
	require.Error(t, err)
}

func TestCompressedMemoryDeviceRoundTrip(t *testing.T) {
	raw := make([]byte, 512*8)
	for i := range raw[512:1024] {
		raw[512+i] = byte(i)
	}

	compressed, err := CompressImageBytes(raw)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(raw), "a mostly-zero image should compress smaller")

	dev, err := NewCompressedMemoryDevice(bytes.NewReader(compressed), 512)
	require.NoError(t, err)
	require.EqualValues(t, 8, dev.TotalBlocks())

	disk := New(dev)
	got, err := disk.ReadSectors(0, 8)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}
