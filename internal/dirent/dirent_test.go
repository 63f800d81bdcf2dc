package dirent

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestDateTimeRoundTrip(t *testing.T) {
	packed := DateToInt(2024, 3, 17)
	year, month, day := DateFromInt(packed)
	require.Equal(t, 2024, year)
	require.Equal(t, 3, month)
	require.Equal(t, 17, day)
}

func TestDateToIntClampsPre1980(t *testing.T) {
	packed := DateToInt(1970, 1, 1)
	year, _, _ := DateFromInt(packed)
	require.Equal(t, 1980, year)
}

func TestTimestampFromPartsCarriesOddSecond(t *testing.T) {
	timePart := TimeToInt(13, 45, 30)
	ts := TimestampFromParts(DateToInt(2024, 3, 17), timePart, 150)
	require.Equal(t, 13, ts.Hour)
	require.Equal(t, 45, ts.Minute)
	require.Equal(t, 31, ts.Second, "hundredths >= 100 carries an extra second")
	require.Equal(t, 500, ts.Millis)
}

func TestShortNameString(t *testing.T) {
	require.Equal(t, "README.TXT", ShortName{Base: "README", Ext: "TXT"}.String())
	require.Equal(t, "README", ShortName{Base: "README"}.String())
}

func TestRawDirentEncodeDecodeRoundTrip(t *testing.T) {
	raw := RawDirent{
		Name:           [8]byte{'R', 'E', 'A', 'D', 'M', 'E', ' ', ' '},
		Extension:      [3]byte{'T', 'X', 'T'},
		AttributeFlags: AttrArchive,
		FileSize:       1024,
	}
	raw.SetFirstCluster(0x00ABCDEF)

	decoded, err := DecodeRaw(EncodeRaw(raw))
	require.NoError(t, err)
	require.Equal(t, raw.Name, decoded.Name)
	require.Equal(t, raw.Extension, decoded.Extension)
	require.Equal(t, raw.AttributeFlags, decoded.AttributeFlags)
	require.Equal(t, raw.FileSize, decoded.FileSize)
	require.EqualValues(t, 0x00ABCDEF, decoded.FirstCluster())
}

func TestStateClassifiesBySentinel(t *testing.T) {
	free, _ := DecodeRaw(EncodeRaw(RawDirent{Name: [8]byte{0x00}}))
	require.Equal(t, SlotFree, free.State())

	deleted, _ := DecodeRaw(EncodeRaw(RawDirent{Name: [8]byte{0xE5}}))
	require.Equal(t, SlotDeleted, deleted.State())

	inUse, _ := DecodeRaw(EncodeRaw(RawDirent{Name: [8]byte{'A'}}))
	require.Equal(t, SlotInUse, inUse.State())
}

func TestEncodeShortNameRoundTripsThroughDecodeShortName(t *testing.T) {
	cp := charmap.CodePage437
	short := ShortName{Base: "README", Ext: "TXT"}

	nameField, extField, err := EncodeShortName8_3(short, cp)
	require.NoError(t, err)

	decoded, err := DecodeShortName(RawDirent{Name: nameField, Extension: extField}, cp)
	require.NoError(t, err)
	require.Equal(t, short, decoded)
}

func TestEncodeShortNameRejectsOverlongComponent(t *testing.T) {
	_, _, err := EncodeShortName8_3(ShortName{Base: "WAYTOOLONG"}, charmap.CodePage437)
	require.Error(t, err)
}

func TestDecodeShortNameResolvesDeletedEscape(t *testing.T) {
	cp := charmap.CodePage437
	raw := RawDirent{
		Name:              [8]byte{nameDeletedSlot, 'B', 'C', ' ', ' ', ' ', ' ', ' '},
		Extension:         [3]byte{' ', ' ', ' '},
		CreatedTimeMillis: 0xE5,
	}
	short, err := DecodeShortName(raw, cp)
	require.NoError(t, err)
	require.Equal(t, "σBC", short.Base)
}

func TestShortNameChecksumDeterministic(t *testing.T) {
	name := [8]byte{'R', 'E', 'A', 'D', 'M', 'E', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}
	require.Equal(t, ShortNameChecksum(name, ext), ShortNameChecksum(name, ext))
}

func TestSplitAndJoinLongNameRoundTrip(t *testing.T) {
	const longName = "a very long descriptive file name.txt"
	checksum := uint8(0x42)

	fragments := SplitLongName(longName, checksum)
	require.Equal(t, FragmentsNeeded(longName), len(fragments))

	joined, err := JoinLongName(fragments, checksum)
	require.NoError(t, err)
	require.Equal(t, longName, joined)
}

func TestJoinLongNameRejectsChecksumMismatch(t *testing.T) {
	fragments := SplitLongName("mismatch.txt", 0x10)
	_, err := JoinLongName(fragments, 0x11)
	require.Error(t, err)
}

func TestIsLongNameFragment(t *testing.T) {
	require.True(t, IsLongNameFragment(AttrLongName))
	require.False(t, IsLongNameFragment(AttrArchive))
}
