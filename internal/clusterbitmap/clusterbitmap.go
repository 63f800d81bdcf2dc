// Package clusterbitmap is the free-cluster accelerator described in
// spec.md section 4.4: an in-memory bitmap mirroring "is this cluster free"
// for every data cluster, searched with a wraparound cursor seeded from the
// FAT32 FSInfo hint, so allocation does not have to linearly rescan the FAT
// from cluster 2 on every call.
//
// Grounded on drivers/common/allocatormap.go's Allocator (AllocateBlock,
// FreeBlock, findRun, AllocateContiguousBlocks), generalized from a flat
// unit allocator to a cluster allocator with a persistent search cursor.
package clusterbitmap

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"

	"github.com/kelvindash/gofat/internal/fattable"
)

// Bitmap tracks free/allocated state for every data cluster (index 0 of the
// bitmap corresponds to cluster 2, the first valid data cluster). It is
// purely an accelerator: the FAT itself remains the source of truth, and
// Rebuild can always reconstruct the bitmap by walking it.
type Bitmap struct {
	mu         sync.Mutex
	bits       bitmap.Bitmap
	total      uint32 // number of data clusters tracked
	cursor     uint32 // next index to probe from, wraps around
	freeCount  uint32
}

// New creates a Bitmap with every cluster initially marked free. Callers
// must call Rebuild (or MarkAllocated individually) before trusting it
// against a real FAT.
func New(totalDataClusters uint32) *Bitmap {
	return &Bitmap{
		bits:      bitmap.New(int(totalDataClusters)),
		total:     totalDataClusters,
		freeCount: totalDataClusters,
	}
}

func toIndex(c fattable.ClusterID) int {
	return int(c) - 2
}

func toCluster(i int) fattable.ClusterID {
	return fattable.ClusterID(i + 2)
}

// SeedCursor sets the next-search starting point, typically from the FAT32
// FSInfo NextFreeCluster hint at mount time. An out-of-range hint is ignored.
func (b *Bitmap) SeedCursor(hint fattable.ClusterID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := toIndex(hint)
	if idx >= 0 && uint32(idx) < b.total {
		b.cursor = uint32(idx)
	}
}

// MarkAllocated records that cluster c is in use, without affecting the
// search cursor.
func (b *Bitmap) MarkAllocated(c fattable.ClusterID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(c, true)
}

// MarkFree records that cluster c is available for allocation.
func (b *Bitmap) MarkFree(c fattable.ClusterID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(c, false)
}

func (b *Bitmap) setLocked(c fattable.ClusterID, allocated bool) {
	idx := toIndex(c)
	if idx < 0 || uint32(idx) >= b.total {
		return
	}
	was := b.bits.Get(idx)
	b.bits.Set(idx, allocated)
	if was && !allocated {
		b.freeCount++
	} else if !was && allocated {
		b.freeCount--
	}
}

// FreeCount returns the number of clusters currently marked free.
func (b *Bitmap) FreeCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freeCount
}

// Allocate finds and reserves a single free cluster, starting the search at
// the cursor and wrapping around once. The cursor advances past whatever it
// returns so the next call does not retry the same cluster immediately.
func (b *Bitmap) Allocate() (fattable.ClusterID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.freeCount == 0 || b.total == 0 {
		return 0, fmt.Errorf("no free clusters available")
	}

	for pass := 0; pass < 2; pass++ {
		start := b.cursor
		for i := start; i < b.total; i++ {
			if !b.bits.Get(int(i)) {
				b.bits.Set(int(i), true)
				b.freeCount--
				b.cursor = (i + 1) % b.total
				return toCluster(int(i)), nil
			}
		}
		b.cursor = 0
	}
	return 0, fmt.Errorf("no free clusters available")
}

// AllocateRun finds `count` contiguous free clusters in a first-fit manner
// and reserves all of them, for pre-extending a file by more than one
// cluster at a time.
func (b *Bitmap) AllocateRun(count uint32) (fattable.ClusterID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if count == 0 {
		return 0, fmt.Errorf("count must be positive")
	}

	runStart, found := b.findRunLocked(count)
	if !found {
		return 0, fmt.Errorf("no contiguous run of %d free clusters available", count)
	}
	for i := uint32(0); i < count; i++ {
		b.bits.Set(int(runStart+i), true)
	}
	b.freeCount -= count
	b.cursor = (runStart + count) % b.total
	return toCluster(int(runStart)), nil
}

func (b *Bitmap) findRunLocked(count uint32) (uint32, bool) {
	runSize := uint32(0)
	var runStart uint32
	for i := uint32(0); i < b.total; i++ {
		if b.bits.Get(int(i)) {
			runSize = 0
			continue
		}
		if runSize == 0 {
			runStart = i
		}
		runSize++
		if runSize == count {
			return runStart, true
		}
	}
	return 0, false
}

// Rebuild replaces the bitmap's contents by walking every entry of `table`,
// used at mount time when no persisted bitmap snapshot is trusted (the
// common case, since the FAT itself is always authoritative). The returned
// bitmap's search cursor starts at the first data cluster.
func Rebuild(table *fattable.Table, totalDataClusters uint32) (*Bitmap, error) {
	b := New(totalDataClusters)
	total := table.TotalEntries()
	for i := uint32(2); i < total; i++ {
		entry, err := table.Get(fattable.ClusterID(i))
		if err != nil {
			return nil, fmt.Errorf("reading FAT entry %d during bitmap rebuild: %w", i, err)
		}
		if entry != fattable.ClusterFree {
			b.MarkAllocated(fattable.ClusterID(i))
		}
	}
	return b, nil
}
