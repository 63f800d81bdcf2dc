package gofat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteUpdatesDirectoryEntrySizeAndCluster(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()

	f, err := root.CreateFile("SIZE.BIN")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0xAA}, 4096)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := root.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 4096, entries[0].Size)
}

func TestWriteOnReadOnlyHandleFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	wf, err := root.CreateFile("RO.TXT")
	require.NoError(t, err)
	_, err = wf.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := root.OpenFile("RO.TXT")
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("nope"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestTruncateOnReadOnlyHandleFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	wf, err := root.CreateFile("RO2.TXT")
	require.NoError(t, err)
	_, err = wf.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := root.OpenFile("RO2.TXT")
	require.NoError(t, err)
	defer rf.Close()

	err = rf.Truncate(0)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestTruncateShrinksReportedSize(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("SHRINK.BIN")
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{1}, 4096))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(100))
	require.EqualValues(t, 100, f.Size())
	require.NoError(t, f.Close())

	entries, err := root.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 100, entries[0].Size)
}

func TestOpenFileWhileWriterHoldsLockIsRefused(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	_, err := root.CreateFile("LOCKED.TXT")
	require.NoError(t, err)

	// The writer from CreateFile is still open, holding the write lock; a
	// concurrent reader must be refused rather than silently interleaving.
	_, err = root.OpenFile("LOCKED.TXT")
	require.ErrorIs(t, err, ErrFileLocked)
}

func TestCloseAfterCloseIsIdempotent(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("IDEMP.TXT")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestSeekThenReadStartsAtNewOffset(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("SEEK.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, f.Seek(5))
	out := make([]byte, 5)
	n, err := f.Read(out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "56789", string(out))
	require.NoError(t, f.Close())
}
