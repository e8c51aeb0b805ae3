package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	lib, err := Open(filepath.Join(dir, "photos"), filepath.Join(dir, "index", "assets.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib, filepath.Join(dir, "photos")
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteImageAsset(t *testing.T) {
	lib, dir := openTestLibrary(t)
	ctx := context.Background()

	a, err := lib.WriteImageAsset(ctx, []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, len("jpeg-bytes"), a.Size)
	assert.Equal(t, a.ID+".jpg", a.FileName)
	assert.Len(t, a.SHA256, 64)

	data, err := os.ReadFile(filepath.Join(dir, a.FileName))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	for _, name := range listFiles(t, dir) {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "temp file left behind: %s", name)
	}
}

func TestWriteImageAsset_Empty(t *testing.T) {
	lib, dir := openTestLibrary(t)
	_, err := lib.WriteImageAsset(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrEmptyAsset))
	assert.Empty(t, listFiles(t, dir))
}

func TestWriteImageAsset_CancelledContextLeavesNothing(t *testing.T) {
	lib, dir := openTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lib.WriteImageAsset(ctx, []byte("x"))
	require.Error(t, err)
	assert.Empty(t, listFiles(t, dir))

	assets, err := lib.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestList_NewestFirst(t *testing.T) {
	lib, _ := openTestLibrary(t)
	ctx := context.Background()

	first, err := lib.WriteImageAsset(ctx, []byte("one"))
	require.NoError(t, err)
	second, err := lib.WriteImageAsset(ctx, []byte("two"))
	require.NoError(t, err)

	assets, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, second.ID, assets[0].ID)
	assert.Equal(t, first.ID, assets[1].ID)
}

func TestGet(t *testing.T) {
	lib, _ := openTestLibrary(t)
	ctx := context.Background()

	var ids []string
	for _, s := range []string{"a", "b", "c"} {
		a, err := lib.WriteImageAsset(ctx, []byte(s))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	// "a" has been evicted from the 2-entry cache and is read from disk.
	a, data, err := lib.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], a.ID)
	assert.Equal(t, "a", string(data))

	_, data, err = lib.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))
}

func TestGet_ReturnsPrivateCopy(t *testing.T) {
	lib, _ := openTestLibrary(t)
	ctx := context.Background()
	first, err := lib.WriteImageAsset(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = lib.WriteImageAsset(ctx, []byte("second"))
	require.NoError(t, err)
	_, err = lib.WriteImageAsset(ctx, []byte("third"))
	require.NoError(t, err)

	// "first" is evicted: a disk read that fills the cache, then a cache hit.
	for _, id := range []string{first.ID, first.ID} {
		_, data, err := lib.Get(ctx, id)
		require.NoError(t, err)
		copy(data, "XXXXX")
	}
	_, data, err := lib.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "caller writes must not reach the cache")
}

func TestGet_NotFound(t *testing.T) {
	lib, _ := openTestLibrary(t)
	_, _, err := lib.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_RequiresPaths(t *testing.T) {
	_, err := Open("", "x.db", 0)
	assert.Error(t, err)
	_, err = Open(t.TempDir(), "", 0)
	assert.Error(t, err)
}
