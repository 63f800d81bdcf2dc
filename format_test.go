package gofat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelvindash/gofat/internal/bpb"
	"github.com/kelvindash/gofat/internal/diskio"
)

func TestDefaultFormatSpecHasSaneDefaults(t *testing.T) {
	spec := DefaultFormatSpec()
	require.EqualValues(t, 4, spec.SectorsPerCluster)
	require.EqualValues(t, 2, spec.NumFATs)
	require.EqualValues(t, 0xF8, spec.MediaDescriptor)
}

func TestBuildBootSectorClassifiesSmallImageAsFAT12(t *testing.T) {
	dev, err := diskio.NewBlankMemoryDevice(512, 2000)
	require.NoError(t, err)

	boot, err := buildBootSector(DefaultFormatSpec(), dev)
	require.NoError(t, err)
	require.Equal(t, bpb.Width12, boot.FATWidth)
	require.EqualValues(t, 2, boot.NumFATs)
}

func TestBuildBootSectorFallsBackToDefaultSpecWhenZeroValue(t *testing.T) {
	dev, err := diskio.NewBlankMemoryDevice(512, 2000)
	require.NoError(t, err)

	boot, err := buildBootSector(FormatSpec{}, dev)
	require.NoError(t, err)
	require.EqualValues(t, 4, boot.SectorsPerCluster)
}

func TestFormatLaysOutEmptyRootDirectory(t *testing.T) {
	dev, err := diskio.NewBlankMemoryDevice(512, 2000)
	require.NoError(t, err)
	require.NoError(t, Format(dev, DefaultFormatSpec()))

	disk := diskio.New(dev)
	data, err := disk.ReadSectors(0, 1)
	require.NoError(t, err)
	boot, err := bpb.Parse(&sliceSeeker{data: data})
	require.NoError(t, err)

	rootSectors, err := disk.ReadSectors(diskio.SectorID(boot.FirstRootDirSector), uint(boot.RootDirSectors))
	require.NoError(t, err)
	for _, b := range rootSectors {
		require.Zero(t, b)
	}
}

func TestFormatRejectsNothingOnFAT32Geometry(t *testing.T) {
	dev, err := diskio.NewBlankMemoryDevice(512, 70000)
	require.NoError(t, err)
	spec := DefaultFormatSpec()
	spec.SectorsPerCluster = 1
	require.NoError(t, Format(dev, spec))

	vol, err := Mount(dev, DefaultOptions())
	require.NoError(t, err)
	defer vol.Unmount()
	require.Equal(t, bpb.Width32, vol.boot.FATWidth)
}
