package artifactstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	return store
}

func TestSaveAndServe(t *testing.T) {
	store := newStore(t)

	saved, err := store.Save([]byte("png-bytes"), "render_00001.png")
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f-]{8}\.png$`, saved.LocalFilename)
	assert.Equal(t, int64(9), saved.Size)

	data, err := store.Serve(saved.LocalFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	path, err := store.Path(saved.LocalFilename)
	require.NoError(t, err)
	assert.Equal(t, saved.LocalPath, path)
}

func TestSave_UniqueNames(t *testing.T) {
	store := newStore(t)

	names := map[string]bool{}
	for range 50 {
		saved, err := store.Save([]byte("x"), "same_name.png")
		require.NoError(t, err)
		assert.False(t, names[saved.LocalFilename], "local filename reused")
		names[saved.LocalFilename] = true
	}
}

func TestSave_NoTempLeftovers(t *testing.T) {
	store := newStore(t)
	_, err := store.Save([]byte("data"), "a.mp4")
	require.NoError(t, err)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), ".tmp-")
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	saved, err := store.Save([]byte("x"), "a.png")
	require.NoError(t, err)

	ok, err := store.Delete(saved.LocalFilename)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(saved.LocalFilename)
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports absence")
}

func TestServe_RejectsPathEscape(t *testing.T) {
	store := newStore(t)

	_, err := store.Serve("../secrets.txt")
	assert.Error(t, err)
	_, err = store.Serve("sub/dir.png")
	assert.Error(t, err)
	_, err = store.Delete("..")
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	store := newStore(t)

	oldFile, err := store.Save([]byte("old"), "old.png")
	require.NoError(t, err)
	keptOld, err := store.Save([]byte("kept"), "kept.png")
	require.NoError(t, err)
	fresh, err := store.Save([]byte("new"), "new.png")
	require.NoError(t, err)

	// Age two files past the cutoff.
	past := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{oldFile.LocalFilename, keptOld.LocalFilename} {
		require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), name), past, past))
	}

	removed, err := store.Sweep(time.Now().Add(-24*time.Hour), func(localFilename string) (bool, error) {
		return localFilename == keptOld.LocalFilename, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Serve(oldFile.LocalFilename)
	assert.Error(t, err, "old unreferenced file swept")
	_, err = store.Serve(keptOld.LocalFilename)
	assert.NoError(t, err, "referenced file kept")
	_, err = store.Serve(fresh.LocalFilename)
	assert.NoError(t, err, "fresh file kept")
}

func TestSweep_LookupErrorKeepsFile(t *testing.T) {
	store := newStore(t)
	saved, err := store.Save([]byte("x"), "a.png")
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), saved.LocalFilename), past, past))

	removed, err := store.Sweep(time.Now(), func(string) (bool, error) {
		return false, assert.AnError
	})
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = store.Serve(saved.LocalFilename)
	assert.NoError(t, err)
}
