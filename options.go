package gofat

import (
	"golang.org/x/text/encoding/charmap"
)

// Timestamp is the broken-down clock reading the spec's Clock contract
// produces. Seconds are always even (FAT's 2-second resolution); Millis
// supplies the extra 0-199 hundredths stored in CreatedTimeMillis.
type Timestamp struct {
	Year   int // >= 1980
	Month  int // 1-12
	Day    int // 1-31
	Hour   int
	Minute int
	Second int // even
	Millis int // 0-199
}

// IsZero reports whether this is the "unavailable" timestamp the spec says
// to record when no clock is available.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// Clock is the time-of-day source the engine consumes. It is deliberately
// out of scope per spec.md section 1 -- the host supplies it.
type Clock interface {
	Now() Timestamp
}

// zeroClock is used when Options.TimeProvider is nil; every timestamp reads
// as zero, matching the spec's "record as zero" fallback.
type zeroClock struct{}

func (zeroClock) Now() Timestamp { return Timestamp{} }

// Codepage identifies the OEM text encoding used to translate 8.3 short
// names to and from bytes on disk. The zero value is CP437, the FAT
// standard's historical default.
type Codepage int

const (
	CodepageCP437 Codepage = iota
	CodepageCP850
	CodepageCP1252
	CodepageLatin1
)

// encoding returns the x/text charmap encoding backing this codepage. This
// is the one domain dependency soypat-fat's go.mod declares but never
// exercises; the short-name codec in internal/dirent is where it belongs.
func (c Codepage) encoding() *charmap.Charmap {
	switch c {
	case CodepageCP850:
		return charmap.CodePage850
	case CodepageCP1252:
		return charmap.Windows1252
	case CodepageLatin1:
		return charmap.ISO8859_1
	default:
		return charmap.CodePage437
	}
}

// FATCacheBytes is the compile-time-ish choice of total FAT sector cache
// size (section 4.3). Zero disables the cache (reads/writes go straight to
// the FAT table adapter).
type FATCacheBytes uint

const (
	FATCacheDisabled FATCacheBytes = 0
	FATCache4KiB     FATCacheBytes = 4 * 1024
	FATCache8KiB     FATCacheBytes = 8 * 1024
	FATCache16KiB    FATCacheBytes = 16 * 1024
)

// Options configures a Mount call. The zero value is not directly
// usable; call DefaultOptions() for sensible defaults.
type Options struct {
	// UpdateAccessTime is stored with the mount options but no operation
	// consults it: reads never update a file's last-accessed timestamp.
	UpdateAccessTime bool
	// IgnoreHidden skips directory entries with the hidden attribute set
	// during iteration.
	IgnoreHidden bool
	// OEMCodepage selects the short-name text encoding.
	OEMCodepage Codepage
	// TimeProvider supplies timestamps for created/modified/accessed fields.
	// If nil, all timestamps read and write as zero.
	TimeProvider Clock
	// FATCacheBytes sizes the FAT sector cache. See FATCacheDisabled/4KiB/
	// 8KiB/16KiB.
	FATCacheBytes FATCacheBytes
	// EnableBitmap turns on the free-cluster bitmap accelerator.
	EnableBitmap bool
	// EnableTransactionLog turns on crash-atomic metadata writes.
	EnableTransactionLog bool
	// EnableDirCache turns on the small per-directory lookup cache.
	EnableDirCache bool
	// ReadOnly is stored with the mount options but no operation consults
	// it: creating, writing, truncating, renaming and removing are not
	// blocked, and no ErrReadOnly is returned on its account.
	ReadOnly bool
	// Logger receives diagnostic events from Mount: an unusable FSInfo hint
	// and transaction log replay outcomes. Cache evictions and bitmap
	// corrections are not logged. Nil disables logging.
	Logger Logger
}

// DefaultOptions returns the spec's documented defaults: access-time updates
// off, CP437, no clock, an 8 KiB FAT cache, bitmap and dir cache on,
// transaction log off (it costs reserved sectors at format time and most
// callers mounting an existing image won't have one).
func DefaultOptions() Options {
	return Options{
		UpdateAccessTime:     false,
		IgnoreHidden:         false,
		OEMCodepage:          CodepageCP437,
		TimeProvider:         zeroClock{},
		FATCacheBytes:        FATCache8KiB,
		EnableBitmap:         true,
		EnableTransactionLog: false,
		EnableDirCache:       true,
		ReadOnly:             false,
	}
}

func (o Options) clock() Clock {
	if o.TimeProvider == nil {
		return zeroClock{}
	}
	return o.TimeProvider
}
