package gofat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func mountFreshVolume(t *testing.T) *Volume {
	t.Helper()
	dev := newFormattedDevice(t, DefaultFormatSpec())
	vol, err := Mount(dev, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vol.Unmount() })
	return vol
}

func TestCreateFileThenOpenFileSeesSameContent(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()

	wf, err := root.CreateFile("A.TXT")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("x"), 3000)
	_, err = wf.Write(payload)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := root.OpenFile("A.TXT")
	require.NoError(t, err)
	defer rf.Close()
	out := make([]byte, len(payload))
	n, err := rf.Read(out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()

	_, err := root.CreateFile("DUP.TXT")
	require.NoError(t, err)

	_, err = root.CreateFile("DUP.TXT")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestOpenFileRejectsUnknownName(t *testing.T) {
	vol := mountFreshVolume(t)
	_, err := vol.RootDir().OpenFile("NOPE.TXT")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenFileOnDirectoryFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	_, err := root.CreateDir("SUB")
	require.NoError(t, err)

	_, err = root.OpenFile("SUB")
	require.ErrorIs(t, err, ErrIsDirectory)
}

func TestCreateDirProducesDotAndDotDotEntries(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	sub, err := root.CreateDir("SUB")
	require.NoError(t, err)

	entries, err := sub.List()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
}

func TestOpenDirOnFileFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	_, err := root.CreateFile("F.TXT")
	require.NoError(t, err)

	_, err = root.OpenDir("F.TXT")
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestRemoveFileFreesItsClusters(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	f, err := root.CreateFile("R.BIN")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, vol.boot.BytesPerCluster*2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before, err := vol.FreeClusters()
	require.NoError(t, err)

	require.NoError(t, root.Remove("R.BIN"))

	after, err := vol.FreeClusters()
	require.NoError(t, err)
	require.Greater(t, after, before)

	entries, err := root.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	sub, err := root.CreateDir("SUB")
	require.NoError(t, err)
	_, err = sub.CreateFile("INNER.TXT")
	require.NoError(t, err)

	err = root.Remove("SUB")
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestRenameChangesNameButKeepsContent(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	wf, err := root.CreateFile("OLD.TXT")
	require.NoError(t, err)
	_, err = wf.Write([]byte("keep me"))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	require.NoError(t, root.Rename("OLD.TXT", "NEW.TXT"))

	_, err = root.OpenFile("OLD.TXT")
	require.ErrorIs(t, err, ErrNotFound)

	rf, err := root.OpenFile("NEW.TXT")
	require.NoError(t, err)
	defer rf.Close()
	out := make([]byte, len("keep me"))
	_, err = rf.Read(out)
	require.NoError(t, err)
	require.Equal(t, "keep me", string(out))
}

func TestRenameToExistingNameFails(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	_, err := root.CreateFile("ONE.TXT")
	require.NoError(t, err)
	_, err = root.CreateFile("TWO.TXT")
	require.NoError(t, err)

	err = root.Rename("ONE.TXT", "TWO.TXT")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRenameToSameNameIsNoOp(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	_, err := root.CreateFile("SAME.TXT")
	require.NoError(t, err)
	require.NoError(t, root.Rename("SAME.TXT", "same.txt"))
}

func TestMoveToCrossDirectoryRelocatesFileAndKeepsContent(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	sub, err := root.CreateDir("SUB")
	require.NoError(t, err)

	wf, err := root.CreateFile("MOVE.TXT")
	require.NoError(t, err)
	_, err = wf.Write([]byte("cross directory"))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	require.NoError(t, root.MoveTo(sub, "MOVE.TXT", "MOVED.TXT"))

	_, err = root.OpenFile("MOVE.TXT")
	require.ErrorIs(t, err, ErrNotFound)

	rf, err := sub.OpenFile("MOVED.TXT")
	require.NoError(t, err)
	defer rf.Close()
	out := make([]byte, len("cross directory"))
	_, err = rf.Read(out)
	require.NoError(t, err)
	require.Equal(t, "cross directory", string(out))
}

func TestMoveToRejectsExistingNameInTarget(t *testing.T) {
	vol := mountFreshVolume(t)
	root := vol.RootDir()
	sub, err := root.CreateDir("SUB")
	require.NoError(t, err)

	_, err = root.CreateFile("SRC.TXT")
	require.NoError(t, err)
	_, err = sub.CreateFile("DST.TXT")
	require.NoError(t, err)

	err = root.MoveTo(sub, "SRC.TXT", "DST.TXT")
	require.ErrorIs(t, err, ErrAlreadyExists)
}
