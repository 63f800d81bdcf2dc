package gofat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDumpDirectoryListingWritesCSVHeaderAndRows(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("REPORT.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("contents"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var buf strings.Builder
	require.NoError(t, DumpDirectoryListing(root, &buf))

	out := buf.String()
	require.Contains(t, out, "name,type,size_bytes,size_human,last_modified")
	require.Contains(t, out, "REPORT.TXT")
	require.Contains(t, out, "file")
}

func TestDumpDirectoryListingOnEmptyDirStillWritesHeader(t *testing.T) {
	vol := mountFreshVolume(t)
	var buf strings.Builder
	require.NoError(t, DumpDirectoryListing(vol.RootDir(), &buf))
	require.Contains(t, buf.String(), "name,type,size_bytes,size_human,last_modified")
}

func TestDumpFreeSpaceReportReflectsAllocation(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("EAT.BIN")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, vol.boot.BytesPerCluster*3))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var buf strings.Builder
	require.NoError(t, DumpFreeSpaceReport(vol, &buf))

	out := buf.String()
	require.Contains(t, out, "total_clusters,free_clusters,bytes_per_cluster,free_bytes,free_bytes_human")

	free, err := vol.FreeClusters()
	require.NoError(t, err)
	require.Less(t, free, vol.boot.TotalClusters)
	require.Contains(t, out, fmt.Sprintf("%d,%d,%d,", vol.boot.TotalClusters, free, vol.boot.BytesPerCluster))
}
