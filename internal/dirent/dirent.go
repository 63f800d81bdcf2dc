// Package dirent implements the FAT directory entry codec described in
// spec.md section 4.5: the 32-byte short-name (8.3) entry format, its
// deleted/free sentinel handling, and the VFAT long-file-name (LFN)
// extension with its UCS-2 fragments and checksum.
//
// Grounded on drivers/fat/dirent.go (RawDirent, NewRawDirentFromBytes,
// NewDirentFromRaw's 0xE5/0x05 deleted-name handling, DateFromInt/
// TimestampFromParts) for the short-name entry, and on soypat-fat's
// internal/utf16x package for the UCS-2 <-> UTF-8 conversion approach (here
// built directly on the standard library's unicode/utf16, which utf16x
// itself only wraps).
package dirent

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DirentSize is the on-disk size of a single directory entry slot, whether
// it holds a short-name entry or one fragment of a long name.
const DirentSize = 32

// Attribute flags, from the FAT/VFAT specification.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	// AttrLongName marks a slot as an LFN fragment rather than a short-name
	// entry: AttrReadOnly|AttrHidden|AttrSystem|AttrVolumeID all set.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// Sentinel first-byte values for the Name field.
const (
	nameFreeSlot    = 0x00 // this slot and all following are unused
	nameDeletedSlot = 0xE5 // this slot held an entry that has been deleted
	nameEscapedE5   = 0x05 // real first byte of the name is 0xE5
)

// Timestamp is the broken-down FAT on-disk time representation. The packed
// time field has 2-second granularity; Millis holds milliseconds (0-990),
// which for entries carrying CreatedTimeMillis are decoded from its 0-199
// hundredths byte, with any whole second it contains added to Second.
type Timestamp struct {
	Year, Month, Day    int
	Hour, Minute, Second int
	Millis              int
}

// RawDirent is the exact 32-byte on-disk layout of a short-name directory
// entry.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// FirstCluster reassembles the split cluster number.
func (r RawDirent) FirstCluster() uint32 {
	return uint32(r.FirstClusterHigh)<<16 | uint32(r.FirstClusterLow)
}

// SetFirstCluster splits a cluster number across the high/low fields.
func (r *RawDirent) SetFirstCluster(cluster uint32) {
	r.FirstClusterHigh = uint16(cluster >> 16)
	r.FirstClusterLow = uint16(cluster & 0xFFFF)
}

// DecodeRaw parses exactly DirentSize bytes into a RawDirent.
func DecodeRaw(data []byte) (RawDirent, error) {
	if len(data) < DirentSize {
		return RawDirent{}, fmt.Errorf("dirent slot is %d bytes, need %d", len(data), DirentSize)
	}
	var r RawDirent
	copy(r.Name[:], data[0:8])
	copy(r.Extension[:], data[8:11])
	r.AttributeFlags = data[11]
	r.NTReserved = data[12]
	r.CreatedTimeMillis = data[13]
	r.CreatedTime = binary.LittleEndian.Uint16(data[14:16])
	r.CreatedDate = binary.LittleEndian.Uint16(data[16:18])
	r.LastAccessedDate = binary.LittleEndian.Uint16(data[18:20])
	r.FirstClusterHigh = binary.LittleEndian.Uint16(data[20:22])
	r.LastModifiedTime = binary.LittleEndian.Uint16(data[22:24])
	r.LastModifiedDate = binary.LittleEndian.Uint16(data[24:26])
	r.FirstClusterLow = binary.LittleEndian.Uint16(data[26:28])
	r.FileSize = binary.LittleEndian.Uint32(data[28:32])
	return r, nil
}

// EncodeRaw serializes a RawDirent back into a 32-byte slot.
func EncodeRaw(r RawDirent) []byte {
	data := make([]byte, DirentSize)
	copy(data[0:8], r.Name[:])
	copy(data[8:11], r.Extension[:])
	data[11] = r.AttributeFlags
	data[12] = r.NTReserved
	data[13] = r.CreatedTimeMillis
	binary.LittleEndian.PutUint16(data[14:16], r.CreatedTime)
	binary.LittleEndian.PutUint16(data[16:18], r.CreatedDate)
	binary.LittleEndian.PutUint16(data[18:20], r.LastAccessedDate)
	binary.LittleEndian.PutUint16(data[20:22], r.FirstClusterHigh)
	binary.LittleEndian.PutUint16(data[22:24], r.LastModifiedTime)
	binary.LittleEndian.PutUint16(data[24:26], r.LastModifiedDate)
	binary.LittleEndian.PutUint16(data[26:28], r.FirstClusterLow)
	binary.LittleEndian.PutUint32(data[28:32], r.FileSize)
	return data
}

// SlotState describes what DecodeRaw's Name[0] sentinel means for this slot.
type SlotState int

const (
	SlotInUse SlotState = iota
	SlotDeleted
	SlotFree // this slot and every slot after it (in this directory) are free
)

// State classifies a raw slot by its first name byte.
func (r RawDirent) State() SlotState {
	switch r.Name[0] {
	case nameFreeSlot:
		return SlotFree
	case nameDeletedSlot:
		return SlotDeleted
	default:
		return SlotInUse
	}
}

// DateToInt packs a date into the FAT 16-bit date field.
func DateToInt(year, month, day int) uint16 {
	y := year - 1980
	if y < 0 {
		y = 0
	}
	return uint16(y<<9) | uint16((month&0x0f)<<5) | uint16(day&0x1f)
}

// DateFromInt unpacks the FAT 16-bit date field.
func DateFromInt(value uint16) (year, month, day int) {
	day = int(value & 0x001f)
	month = int((value >> 5) & 0x000f)
	year = 1980 + int(value>>9)
	return
}

// TimeToInt packs hour/minute/second (second truncated to even) into the
// FAT 16-bit time field.
func TimeToInt(hour, minute, second int) uint16 {
	return uint16(hour&0x1f<<11) | uint16(minute&0x3f<<5) | uint16((second/2)&0x1f)
}

// TimestampFromParts unpacks a FAT date+time+hundredths triple into a
// Timestamp. hundredths may carry an extra odd second (100-199 means +1s).
func TimestampFromParts(datePart, timePart uint16, hundredths uint8) Timestamp {
	year, month, day := DateFromInt(datePart)
	seconds := int(timePart&0x001f) * 2
	millis := int(hundredths)
	if millis >= 100 {
		seconds++
		millis -= 100
	}
	return Timestamp{
		Year: year, Month: month, Day: day,
		Hour: int(timePart >> 11), Minute: int((timePart >> 5) & 0x3f),
		Second: seconds, Millis: millis * 10,
	}
}

// ShortName is a parsed, trimmed 8.3 name: Base and Ext with trailing spaces
// removed and the 0xE5/0x05 deleted-name escaping already resolved.
type ShortName struct {
	Base string
	Ext  string
}

// String renders "BASE.EXT", or just "BASE" if Ext is empty.
func (s ShortName) String() string {
	if s.Ext == "" {
		return s.Base
	}
	return s.Base + "." + s.Ext
}

// DecodeShortName converts a raw entry's Name/Extension fields to text using
// the given OEM codepage, resolving the deleted-name escape sequences per
// spec.md section 4.5: a first byte of 0x05 decodes as 0xE5, and a first
// byte of 0xE5 is replaced by the CreatedTimeMillis byte. A first byte of
// 0x00 is not interpreted -- callers check State() first.
func DecodeShortName(r RawDirent, cp *charmap.Charmap) (ShortName, error) {
	nameBytes := append([]byte{}, r.Name[:]...)
	if nameBytes[0] == nameDeletedSlot {
		nameBytes[0] = r.CreatedTimeMillis
	} else if nameBytes[0] == nameEscapedE5 {
		nameBytes[0] = nameDeletedSlot
	}

	base, err := decodeOEMBytes(nameBytes, cp)
	if err != nil {
		return ShortName{}, err
	}
	ext, err := decodeOEMBytes(r.Extension[:], cp)
	if err != nil {
		return ShortName{}, err
	}
	return ShortName{
		Base: strings.TrimRight(base, " "),
		Ext:  strings.TrimRight(ext, " "),
	}, nil
}

func decodeOEMBytes(b []byte, cp *charmap.Charmap) (string, error) {
	decoded := make([]rune, len(b))
	for i, ch := range b {
		r := cp.DecodeByte(ch)
		if r == utf8.RuneError {
			return "", fmt.Errorf("byte %#x has no mapping in the configured OEM codepage", ch)
		}
		decoded[i] = r
	}
	return string(decoded), nil
}

// EncodeShortName8_3 renders a name into the fixed 8+3 on-disk fields,
// space-padded, applying the 0xE5 escape if the first character of the
// encoded base happens to collide with the deleted-slot sentinel.
func EncodeShortName8_3(name ShortName, cp *charmap.Charmap) ([8]byte, [3]byte, error) {
	var nameField [8]byte
	var extField [3]byte
	for i := range nameField {
		nameField[i] = ' '
	}
	for i := range extField {
		extField[i] = ' '
	}

	base := strings.ToUpper(name.Base)
	ext := strings.ToUpper(name.Ext)
	if len(base) > 8 || len(ext) > 3 {
		return nameField, extField, fmt.Errorf("short name component too long: %q.%q", base, ext)
	}

	for i := 0; i < len(base); i++ {
		enc, ok := cp.EncodeRune(rune(base[i]))
		if !ok {
			return nameField, extField, fmt.Errorf("rune %q has no encoding in the configured OEM codepage", base[i])
		}
		nameField[i] = enc
	}
	for i := 0; i < len(ext); i++ {
		enc, ok := cp.EncodeRune(rune(ext[i]))
		if !ok {
			return nameField, extField, fmt.Errorf("rune %q has no encoding in the configured OEM codepage", ext[i])
		}
		extField[i] = enc
	}

	if nameField[0] == nameDeletedSlot {
		nameField[0] = nameEscapedE5
	}
	return nameField, extField, nil
}

// ShortNameChecksum computes the VFAT checksum of the 11-byte packed
// short-name (Name+Extension, as they appear on disk) that every LFN
// fragment belonging to that entry must carry.
func ShortNameChecksum(name [8]byte, ext [3]byte) uint8 {
	var sum uint8
	for _, b := range append(name[:], ext[:]...) {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// LongNameFragment is one 32-byte VFAT LFN directory slot.
type LongNameFragment struct {
	// Ordinal is 1-based position of this fragment within the long name,
	// with bit 0x40 set on the final (first-written, highest-ordinal)
	// fragment.
	Ordinal  uint8
	Chars    [13]uint16 // UCS-2 code units, 5+6+2 split on disk
	Checksum uint8
}

const lastLongEntryFlag = 0x40

// DecodeLongNameFragment parses one 32-byte LFN slot.
func DecodeLongNameFragment(data []byte) (LongNameFragment, error) {
	if len(data) < DirentSize {
		return LongNameFragment{}, fmt.Errorf("LFN slot is %d bytes, need %d", len(data), DirentSize)
	}
	var f LongNameFragment
	f.Ordinal = data[0]
	for i := 0; i < 5; i++ {
		f.Chars[i] = binary.LittleEndian.Uint16(data[1+2*i:])
	}
	f.Checksum = data[13]
	for i := 0; i < 6; i++ {
		f.Chars[5+i] = binary.LittleEndian.Uint16(data[14+2*i:])
	}
	for i := 0; i < 2; i++ {
		f.Chars[11+i] = binary.LittleEndian.Uint16(data[28+2*i:])
	}
	return f, nil
}

// EncodeLongNameFragment serializes one LFN slot.
func EncodeLongNameFragment(f LongNameFragment) []byte {
	data := make([]byte, DirentSize)
	data[0] = f.Ordinal
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(data[1+2*i:], f.Chars[i])
	}
	data[11] = AttrLongName
	data[12] = 0
	data[13] = f.Checksum
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(data[14+2*i:], f.Chars[5+i])
	}
	data[26] = 0
	data[27] = 0
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(data[28+2*i:], f.Chars[11+i])
	}
	return data
}

// IsLongNameFragment reports whether a raw 32-byte slot's attribute byte
// marks it as an LFN fragment rather than a short-name entry.
func IsLongNameFragment(attr uint8) bool {
	return attr&0x3f == AttrLongName
}

const lfnPadding uint16 = 0xFFFF
const lfnTerminator uint16 = 0x0000

// SplitLongName breaks a long file name into the ordered sequence of LFN
// fragments needed to store it (last fragment first on disk, per VFAT
// convention), each stamped with the given short-name checksum.
func SplitLongName(name string, checksum uint8) []LongNameFragment {
	units := utf16.Encode([]rune(name))
	units = append(units, lfnTerminator)

	const perFragment = 13
	var fragments []LongNameFragment
	for start := 0; start < len(units); start += perFragment {
		end := start + perFragment
		var chars [13]uint16
		for i := 0; i < perFragment; i++ {
			if start+i < len(units) {
				chars[i] = units[start+i]
			} else if start+i == len(units) {
				chars[i] = lfnTerminator
			} else {
				chars[i] = lfnPadding
			}
		}
		fragments = append(fragments, LongNameFragment{Chars: chars, Checksum: checksum})
	}

	// Ordinal numbering is 1-based from the fragment nearest the short-name
	// entry; mark the fragment furthest from it (last in our `fragments`
	// slice, since we built it in reading order) with the 0x40 flag.
	for i := range fragments {
		fragments[i].Ordinal = uint8(i + 1)
	}
	fragments[len(fragments)-1].Ordinal |= lastLongEntryFlag

	// On disk, fragments are written in descending ordinal order (the
	// highest-ordinal/flagged fragment comes first, and ordinal 1 sits
	// immediately before the short-name entry). Reverse so the caller can
	// write them in this order.
	for i, j := 0, len(fragments)-1; i < j; i, j = i+1, j-1 {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	}
	return fragments
}

// JoinLongName reassembles the long name text from its fragments, which
// must be given in on-disk order (highest ordinal first, as SplitLongName
// produces). It validates ordinal continuity and the shared checksum.
func JoinLongName(fragments []LongNameFragment, expectedChecksum uint8) (string, error) {
	if len(fragments) == 0 {
		return "", fmt.Errorf("no LFN fragments to join")
	}
	n := len(fragments)
	units := make([]uint16, 0, n*13)
	// fragments[0] is the highest ordinal (written first on disk); reverse
	// to reading order before decoding.
	for i := n - 1; i >= 0; i-- {
		f := fragments[i]
		expectedOrdinal := uint8(n - i)
		gotOrdinal := f.Ordinal &^ lastLongEntryFlag
		if gotOrdinal != expectedOrdinal {
			return "", fmt.Errorf("LFN fragment ordinal mismatch: expected %d, got %d", expectedOrdinal, gotOrdinal)
		}
		if f.Checksum != expectedChecksum {
			return "", fmt.Errorf("LFN fragment checksum %#x does not match short-name checksum %#x", f.Checksum, expectedChecksum)
		}
		for _, u := range f.Chars {
			if u == lfnTerminator || u == lfnPadding {
				break
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units)), nil
}

// FragmentsNeeded returns how many 32-byte LFN slots are required to store
// `name`, for callers computing how many free directory slots to reserve.
func FragmentsNeeded(name string) int {
	units := utf16.Encode([]rune(name))
	return (len(units) + 1 + 12) / 13
}
