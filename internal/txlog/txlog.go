// Package txlog implements the optional write-ahead transaction log
// described in spec.md section 4.8: metadata mutations (FAT entry changes,
// directory slot writes) are staged as PREPARED records with a CRC32 digest
// before being applied, then marked COMMITTED once every mirror write
// lands, so a crash between prepare and commit can be detected and replayed
// or rolled back at the next mount.
//
// This subsystem has no direct analogue in the teacher repo; it follows the
// teacher's error-aggregation idiom (github.com/hashicorp/go-multierror,
// as errors.go's AppendCorruption already does) for replay, and uses the
// standard library's hash/crc32 for record integrity, since the pack has no
// checksum library beyond CRC32's own stdlib implementation.
package txlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/hashicorp/go-multierror"

	"github.com/kelvindash/gofat/internal/diskio"
)

// RecordKind distinguishes the two mutation shapes the log carries.
type RecordKind uint8

const (
	KindFATEntry RecordKind = iota + 1
	KindDirSlot
)

// Status is a record's lifecycle state.
type Status uint8

const (
	StatusPrepared Status = iota + 1
	StatusCommitted
	StatusEmpty Status = 0
)

// recordSize is fixed so the log is a flat array of slots: 1 status byte +
// 1 kind byte + 4 target sector + 4 offset + 2 payload length + 64 payload +
// 4 CRC32 = 80 bytes, rounded up to 128 for alignment headroom.
const recordSize = 128
const payloadSize = 64

// Record is one staged mutation: a write of `Length` bytes (<= payloadSize)
// at `Offset` within sector `Target`.
type Record struct {
	Status  Status
	Kind    RecordKind
	Target  uint32
	Offset  uint32
	Length  uint16
	Payload []byte // exactly Length bytes once decoded
}

func (r Record) encode() []byte {
	buf := make([]byte, recordSize)
	buf[0] = byte(r.Status)
	buf[1] = byte(r.Kind)
	binary.LittleEndian.PutUint32(buf[2:6], r.Target)
	binary.LittleEndian.PutUint32(buf[6:10], r.Offset)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(r.Payload)))
	copy(buf[12:12+payloadSize], r.Payload)
	crc := crc32.ChecksumIEEE(buf[:12+payloadSize])
	binary.LittleEndian.PutUint32(buf[12+payloadSize:16+payloadSize], crc)
	return buf
}

func decodeRecord(buf []byte) (Record, bool) {
	if len(buf) < recordSize {
		return Record{}, false
	}
	status := Status(buf[0])
	if status == StatusEmpty {
		return Record{}, false
	}
	crc := binary.LittleEndian.Uint32(buf[12+payloadSize : 16+payloadSize])
	if crc32.ChecksumIEEE(buf[:12+payloadSize]) != crc {
		return Record{}, false
	}
	length := binary.LittleEndian.Uint16(buf[10:12])
	if length > payloadSize {
		return Record{}, false
	}
	payload := make([]byte, length)
	copy(payload, buf[12:12+int(length)])
	return Record{
		Status:  status,
		Kind:    RecordKind(buf[1]),
		Target:  binary.LittleEndian.Uint32(buf[2:6]),
		Offset:  binary.LittleEndian.Uint32(buf[6:10]),
		Length:  length,
		Payload: payload,
	}, true
}

// Log manages a fixed, reserved region of sectors used as a ring of
// fixed-size records, per spec.md section 4.8. It is a no-op (always
// reports as disabled) if no sectors were reserved for it at format time.
type Log struct {
	disk           *diskio.Disk
	firstSector    diskio.SectorID
	sectorCount    uint32
	bytesPerSector uint32
	slotsPerSector uint32
	totalSlots     uint32
	cursor         uint32
}

// New creates a Log over the reserved region [firstSector, firstSector+
// sectorCount). A sectorCount of 0 means no log region exists; Enabled()
// reports false and every operation is a no-op.
func New(disk *diskio.Disk, firstSector diskio.SectorID, sectorCount uint32, bytesPerSector uint32) *Log {
	slotsPerSector := bytesPerSector / recordSize
	return &Log{
		disk:           disk,
		firstSector:    firstSector,
		sectorCount:    sectorCount,
		bytesPerSector: bytesPerSector,
		slotsPerSector: slotsPerSector,
		totalSlots:     slotsPerSector * sectorCount,
	}
}

// Enabled reports whether a transaction log region actually exists.
func (l *Log) Enabled() bool {
	return l.sectorCount > 0 && l.totalSlots > 0
}

func (l *Log) slotLocation(slot uint32) (diskio.SectorID, uint32) {
	sectorOffset := slot / l.slotsPerSector
	withinSector := (slot % l.slotsPerSector) * recordSize
	return l.firstSector + diskio.SectorID(sectorOffset), withinSector
}

func (l *Log) readSlot(slot uint32) ([]byte, error) {
	sector, offset := l.slotLocation(slot)
	data, err := l.disk.ReadSectors(sector, 1)
	if err != nil {
		return nil, err
	}
	return data[offset : offset+recordSize], nil
}

func (l *Log) writeSlot(slot uint32, recordBytes []byte) error {
	sector, offset := l.slotLocation(slot)
	data, err := l.disk.ReadSectors(sector, 1)
	if err != nil {
		return err
	}
	copy(data[offset:offset+recordSize], recordBytes)
	return l.disk.WriteSectors(sector, data)
}

// Prepare stages `rec` at the next ring slot with StatusPrepared and
// returns the slot index, which the caller passes back to Commit once the
// real mutation has been applied to every FAT mirror / directory copy.
func (l *Log) Prepare(rec Record) (uint32, error) {
	if !l.Enabled() {
		return 0, nil
	}
	if len(rec.Payload) > payloadSize {
		return 0, fmt.Errorf("transaction log payload of %d bytes exceeds the %d-byte limit", len(rec.Payload), payloadSize)
	}
	rec.Status = StatusPrepared
	slot := l.cursor
	l.cursor = (l.cursor + 1) % l.totalSlots
	return slot, l.writeSlot(slot, rec.encode())
}

// Commit marks a previously prepared slot as committed.
func (l *Log) Commit(slot uint32) error {
	if !l.Enabled() {
		return nil
	}
	raw, err := l.readSlot(slot)
	if err != nil {
		return err
	}
	rec, ok := decodeRecord(raw)
	if !ok {
		return fmt.Errorf("transaction log slot %d is not a valid prepared record", slot)
	}
	rec.Status = StatusCommitted
	return l.writeSlot(slot, rec.encode())
}

// Clear resets a slot to empty once its effect is durably reflected
// elsewhere (e.g. after a full flush), freeing the slot for reuse.
func (l *Log) Clear(slot uint32) error {
	if !l.Enabled() {
		return nil
	}
	empty := make([]byte, recordSize)
	return l.writeSlot(slot, empty)
}

// Replay scans every slot and returns the committed records found, which
// the caller re-applies (they are idempotent by construction: each just
// rewrites a fixed offset with a fixed payload), and reports prepared
// (never-committed) records it discarded, which represent a mutation that
// was interrupted before taking effect and must be rolled back by simply
// ignoring it.
func (l *Log) Replay() (committed []Record, discarded int, err error) {
	if !l.Enabled() {
		return nil, 0, nil
	}
	var agg error
	for slot := uint32(0); slot < l.totalSlots; slot++ {
		raw, rerr := l.readSlot(slot)
		if rerr != nil {
			agg = multierror.Append(agg, fmt.Errorf("reading slot %d: %w", slot, rerr))
			continue
		}
		rec, ok := decodeRecord(raw)
		if !ok {
			continue
		}
		switch rec.Status {
		case StatusCommitted:
			committed = append(committed, rec)
		case StatusPrepared:
			discarded++
		}
	}
	return committed, discarded, agg
}

// Apply rewrites rec.Payload at rec.Offset within sector rec.Target,
// re-applying a committed record found during Replay. It is idempotent:
// applying the same record twice leaves the sector in the same state.
func (l *Log) Apply(rec Record) error {
	sector := diskio.SectorID(rec.Target)
	end := rec.Offset + uint32(len(rec.Payload))
	// A FAT12 entry can straddle a sector boundary, so read every sector the
	// payload touches.
	count := uint(1)
	if l.bytesPerSector > 0 && end > l.bytesPerSector {
		count = uint((end + l.bytesPerSector - 1) / l.bytesPerSector)
	}
	data, err := l.disk.ReadSectors(sector, count)
	if err != nil {
		return fmt.Errorf("reading target sector %d to replay record: %w", sector, err)
	}
	if end > uint32(len(data)) {
		return fmt.Errorf("replayed record would write past sector %d's end", sector)
	}
	copy(data[rec.Offset:end], rec.Payload)
	return l.disk.WriteSectors(sector, data)
}

// ApplyFATEntry and ApplyDirSlot are convenience constructors for the two
// record kinds the engine actually produces: a FAT-entry overwrite (Target
// is the absolute sector, Offset the byte offset of the entry within it)
// and a directory-slot overwrite (Target is the absolute sector, Offset the
// byte offset of the 32-byte slot within it).
func ApplyFATEntry(sector diskio.SectorID, offsetInSector uint32, newBytes []byte) Record {
	return Record{Kind: KindFATEntry, Target: uint32(sector), Offset: offsetInSector, Payload: newBytes}
}

func ApplyDirSlot(sector diskio.SectorID, offsetInSector uint32, newBytes []byte) Record {
	return Record{Kind: KindDirSlot, Target: uint32(sector), Offset: offsetInSector, Payload: newBytes}
}
