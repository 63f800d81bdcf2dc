package dircache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMissReturnsFalse(t *testing.T) {
	c := New[string](4)
	_, ok := c.Get(NewKey(0, "MISSING.TXT"))
	require.False(t, ok)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New[string](4)
	key := NewKey(2, "HELLO.TXT")
	c.Put(key, "payload")

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "payload", got)
	require.Equal(t, 1, c.Len())
}

func TestKeyLookupIsCaseInsensitive(t *testing.T) {
	c := New[int](4)
	c.Put(NewKey(0, "Hello.txt"), 7)

	got, ok := c.Get(NewKey(0, "HELLO.TXT"))
	require.True(t, ok)
	require.Equal(t, 7, got)
}

func TestDifferentParentsDoNotCollide(t *testing.T) {
	c := New[int](4)
	c.Put(NewKey(1, "A.TXT"), 1)
	c.Put(NewKey(2, "A.TXT"), 2)

	a, ok := c.Get(NewKey(1, "A.TXT"))
	require.True(t, ok)
	require.Equal(t, 1, a)

	b, ok := c.Get(NewKey(2, "A.TXT"))
	require.True(t, ok)
	require.Equal(t, 2, b)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2)
	c.Put(NewKey(0, "ONE.TXT"), 1)
	c.Put(NewKey(0, "TWO.TXT"), 2)
	// Touch ONE.TXT so TWO.TXT becomes the least-recently-used entry.
	_, _ = c.Get(NewKey(0, "ONE.TXT"))
	c.Put(NewKey(0, "THREE.TXT"), 3)

	_, ok := c.Get(NewKey(0, "TWO.TXT"))
	require.False(t, ok, "least-recently-used entry must be evicted once capacity is exceeded")

	_, ok = c.Get(NewKey(0, "ONE.TXT"))
	require.True(t, ok)
	_, ok = c.Get(NewKey(0, "THREE.TXT"))
	require.True(t, ok)
}

func TestInvalidateDirDropsOnlyThatDirectorysEntries(t *testing.T) {
	c := New[int](8)
	c.Put(NewKey(1, "A.TXT"), 1)
	c.Put(NewKey(1, "B.TXT"), 2)
	c.Put(NewKey(2, "C.TXT"), 3)

	c.InvalidateDir(1)

	require.Equal(t, 1, c.Len())
	_, ok := c.Get(NewKey(2, "C.TXT"))
	require.True(t, ok)
	_, ok = c.Get(NewKey(1, "A.TXT"))
	require.False(t, ok)
}

func TestNewClampsNonPositiveCapacityToOne(t *testing.T) {
	c := New[int](0)
	c.Put(NewKey(0, "A.TXT"), 1)
	c.Put(NewKey(0, "B.TXT"), 2)
	require.Equal(t, 1, c.Len())
}
