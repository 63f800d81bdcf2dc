// Package diskio adapts the spec's external BlockDevice contract (aligned,
// fixed-size block reads/writes at a byte address) into the sector-indexed
// reads and writes the rest of the engine issues. It is the one place that
// knows how to turn a SectorID into bytes on the wire.
//
// Grounded on drivers/common/blockstream.go and blockdevice.go from the
// teacher repo (BlockStream.Read/Write, CheckIOBounds, seekToBlock),
// generalized to wrap an externally supplied block device instead of
// assuming direct access to a seekable stream.
package diskio

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// SectorID identifies a sector by its absolute index from the start of the
// volume.
type SectorID uint32

// BlockDevice is the contract consumed from the host, per spec.md section 6.
// Implementations must only accept aligned, block-sized I/O.
type BlockDevice interface {
	// ReadBlocks fills buf with `count` consecutive blocks starting at
	// sector `start`. len(buf) must equal count*BlockSize().
	ReadBlocks(start SectorID, count uint, buf []byte) error
	// WriteBlocks writes len(data)/BlockSize() consecutive blocks starting
	// at sector `start`. len(data) must be a multiple of BlockSize().
	WriteBlocks(start SectorID, data []byte) error
	// BlockSize returns the device's fixed block size in bytes. Must be one
	// of 512, 1024, 2048, 4096.
	BlockSize() uint
	// TotalBlocks returns the total number of addressable blocks.
	TotalBlocks() uint
}

// Disk wraps a BlockDevice with the bounds checking and byte-slicing
// bookkeeping every caller in the engine needs, mirroring BlockStream's
// role in the teacher repo.
type Disk struct {
	dev BlockDevice
}

// New wraps a BlockDevice for use by the engine.
func New(dev BlockDevice) *Disk {
	return &Disk{dev: dev}
}

// BytesPerSector returns the device's block size.
func (d *Disk) BytesPerSector() uint { return d.dev.BlockSize() }

// TotalSectors returns the device's total block count.
func (d *Disk) TotalSectors() uint { return d.dev.TotalBlocks() }

// CheckBounds verifies that `count` sectors starting at `start` lie within
// the device.
func (d *Disk) CheckBounds(start SectorID, count uint) error {
	total := d.dev.TotalBlocks()
	if uint(start) >= total {
		return fmt.Errorf("sector %d not in range [0, %d)", start, total)
	}
	if uint(start)+count > total {
		return fmt.Errorf(
			"sector %d plus %d sectors extends past end of device (%d sectors total)",
			start, count, total)
	}
	return nil
}

// ReadSectors reads `count` whole sectors starting at `start`.
func (d *Disk) ReadSectors(start SectorID, count uint) ([]byte, error) {
	if err := d.CheckBounds(start, count); err != nil {
		return nil, err
	}
	buf := make([]byte, count*d.dev.BlockSize())
	if err := d.dev.ReadBlocks(start, count, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteSectors writes data, which must be an exact multiple of the sector
// size, starting at sector `start`.
func (d *Disk) WriteSectors(start SectorID, data []byte) error {
	bps := d.dev.BlockSize()
	if uint(len(data))%bps != 0 {
		return fmt.Errorf(
			"data length %d is not a multiple of the sector size (%d)", len(data), bps)
	}
	if err := d.CheckBounds(start, uint(len(data))/bps); err != nil {
		return err
	}
	return d.dev.WriteBlocks(start, data)
}

// memoryDevice is an in-memory BlockDevice over a byte slice, for format(),
// tests, and scenario fixtures. Grounded on testing/images.go's use of
// xaionaro-go/bytesextra to present a []byte as an io.ReadWriteSeeker.
type memoryDevice struct {
	stream    io.ReadWriteSeeker
	blockSize uint
	blocks    uint
}

// NewMemoryDevice creates a BlockDevice backed entirely by `image`, which
// must already be exactly blockSize*totalBlocks bytes long.
func NewMemoryDevice(image []byte, blockSize uint, totalBlocks uint) (BlockDevice, error) {
	if uint(len(image)) != blockSize*totalBlocks {
		return nil, fmt.Errorf(
			"image is %d bytes, expected %d (%d blocks of %d bytes)",
			len(image), blockSize*totalBlocks, totalBlocks, blockSize)
	}
	return &memoryDevice{
		stream:    bytesextra.NewReadWriteSeeker(image),
		blockSize: blockSize,
		blocks:    totalBlocks,
	}, nil
}

// NewBlankMemoryDevice allocates a zero-filled image of the given geometry,
// suitable for Format().
func NewBlankMemoryDevice(blockSize uint, totalBlocks uint) (BlockDevice, error) {
	return NewMemoryDevice(make([]byte, blockSize*totalBlocks), blockSize, totalBlocks)
}

// NewCompressedMemoryDevice decompresses a gzipped disk image (the format
// bundled test fixtures ship in, since a raw 64 MiB FAT16 image is wasteful
// to store byte-for-byte) and wraps the result as an in-memory BlockDevice
// with the given block size.
func NewCompressedMemoryDevice(compressed io.Reader, blockSize uint) (BlockDevice, error) {
	gz, err := gzip.NewReader(compressed)
	if err != nil {
		return nil, fmt.Errorf("opening gzip disk image: %w", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompressing disk image: %w", err)
	}
	if blockSize == 0 || uint(len(data))%blockSize != 0 {
		return nil, fmt.Errorf(
			"decompressed image is %d bytes, not a multiple of block size %d", len(data), blockSize)
	}
	return NewMemoryDevice(data, blockSize, uint(len(data))/blockSize)
}

// CompressImageBytes is the inverse of NewCompressedMemoryDevice's input
// format: it compresses a raw image (e.g. one built by Format against a
// blank memory device) for storage as a test fixture.
func CompressImageBytes(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	gz, err := gzip.NewWriterLevel(&out, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing disk image: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return out.Bytes(), nil
}

func (m *memoryDevice) BlockSize() uint   { return m.blockSize }
func (m *memoryDevice) TotalBlocks() uint { return m.blocks }

func (m *memoryDevice) ReadBlocks(start SectorID, count uint, buf []byte) error {
	if uint(len(buf)) != count*m.blockSize {
		return fmt.Errorf("buffer is %d bytes, expected %d", len(buf), count*m.blockSize)
	}
	if _, err := m.stream.Seek(int64(start)*int64(m.blockSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(m.stream, buf)
	return err
}

func (m *memoryDevice) WriteBlocks(start SectorID, data []byte) error {
	if _, err := m.stream.Seek(int64(start)*int64(m.blockSize), io.SeekStart); err != nil {
		return err
	}
	_, err := m.stream.Write(data)
	return err
}
