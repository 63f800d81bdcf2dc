package gofat

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
)

// directoryReportRow is one line of a DumpDirectoryListing CSV export.
type directoryReportRow struct {
	Name         string `csv:"name"`
	Type         string `csv:"type"`
	SizeBytes    uint32 `csv:"size_bytes"`
	SizeHuman    string `csv:"size_human"`
	LastModified string `csv:"last_modified"`
}

// DumpDirectoryListing writes a CSV snapshot of dir's entries to w: name,
// file/dir, size in bytes, a humanized size, and last-modified timestamp.
// Intended for diagnostics and scenario fixtures, not for round-tripping
// back into the filesystem.
func DumpDirectoryListing(dir *Dir, w io.Writer) error {
	entries, err := dir.List()
	if err != nil {
		return err
	}
	rows := make([]directoryReportRow, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		rows = append(rows, directoryReportRow{
			Name:      e.Name,
			Type:      kind,
			SizeBytes: e.Size,
			SizeHuman: humanize.Bytes(uint64(e.Size)),
			LastModified: fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
				e.LastModified.Year, e.LastModified.Month, e.LastModified.Day,
				e.LastModified.Hour, e.LastModified.Minute, e.LastModified.Second),
		})
	}
	return gocsv.Marshal(&rows, w)
}

// freeSpaceReportRow is the single-row CSV export produced by
// DumpFreeSpaceReport.
type freeSpaceReportRow struct {
	TotalClusters   uint32 `csv:"total_clusters"`
	FreeClusters    uint32 `csv:"free_clusters"`
	BytesPerCluster uint32 `csv:"bytes_per_cluster"`
	FreeBytes       uint64 `csv:"free_bytes"`
	FreeBytesHuman  string `csv:"free_bytes_human"`
}

// DumpFreeSpaceReport writes a one-row CSV summary of v's free-space state
// to w, using the bitmap accelerator if enabled, otherwise a direct FAT
// scan (see Volume.FreeClusters).
func DumpFreeSpaceReport(v *Volume, w io.Writer) error {
	free, err := v.FreeClusters()
	if err != nil {
		return err
	}
	freeBytes := uint64(free) * uint64(v.boot.BytesPerCluster)
	rows := []freeSpaceReportRow{{
		TotalClusters:   v.boot.TotalClusters,
		FreeClusters:    free,
		BytesPerCluster: v.boot.BytesPerCluster,
		FreeBytes:       freeBytes,
		FreeBytesHuman:  humanize.Bytes(freeBytes),
	}}
	return gocsv.Marshal(&rows, w)
}
