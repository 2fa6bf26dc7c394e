package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalash/swarm-cdn/internal/segment"
)

func writeFile(t *testing.T, path string, modified time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NoError(t, os.Chtimes(path, modified, modified))
}

func TestScanMissingRootIsEmpty(t *testing.T) {
	segments, err := NewScanner(filepath.Join(t.TempDir(), "absent")).Scan()
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestScanLayout(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	writeFile(t, filepath.Join(root, "m1", "master.m3u8"), old)
	writeFile(t, filepath.Join(root, "m1", "notes.txt"), old)
	writeFile(t, filepath.Join(root, "m1", "720p", "init.mp4"), old)
	writeFile(t, filepath.Join(root, "m1", "720p", "playlist.m3u8"), old)
	writeFile(t, filepath.Join(root, "m1", "720p", "seg_0001.m4s"), old)
	writeFile(t, filepath.Join(root, "m1", "720p", "deeper", "ignored.m4s"), old)
	writeFile(t, filepath.Join(root, "stray.m4s"), old)

	segments, err := NewScanner(root).Scan()
	require.NoError(t, err)

	byName := map[string]segment.Cached{}
	for _, s := range segments {
		byName[s.Segment] = s
	}
	require.Len(t, byName, 4)

	master := byName["master.m3u8"]
	assert.Equal(t, segment.MasterPlaylist, master.Type)
	assert.Empty(t, master.Quality)

	initSeg := byName["init.mp4"]
	assert.Equal(t, "m1", initSeg.Movie)
	assert.Equal(t, "720p", initSeg.Quality)
	assert.Equal(t, segment.Init, initSeg.Type)
	assert.True(t, initSeg.LastModified.Equal(old))

	assert.Equal(t, segment.VariantPlaylist, byName["playlist.m3u8"].Type)
	assert.Equal(t, segment.Media, byName["seg_0001.m4s"].Type)
	assert.Equal(t, filepath.Join(root, "m1", "720p", "seg_0001.m4s"), byName["seg_0001.m4s"].Path)
}

func TestWriteThenScanRoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	cases := []struct {
		key  segment.Key
		typ  segment.Type
		file string
	}{
		{segment.Key{Movie: "m1", Segment: "master"}, segment.MasterPlaylist, "master.m3u8"},
		{segment.Key{Movie: "m1", Quality: "720p", Segment: "init"}, segment.Init, "init.mp4"},
		{segment.Key{Movie: "m1", Quality: "720p", Segment: "playlist"}, segment.VariantPlaylist, "playlist.m3u8"},
		{segment.Key{Movie: "m1", Quality: "720p", Segment: "seg_0001"}, segment.Media, "seg_0001.m4s"},
	}
	written := map[string]segment.Cached{}
	for _, c := range cases {
		got, err := w.Write(c.key, c.file, c.typ, strings.NewReader("payload"))
		require.NoError(t, err)
		written[got.Segment] = got
	}

	scanned, err := NewScanner(root).Scan()
	require.NoError(t, err)
	require.Len(t, scanned, len(cases))
	for _, s := range scanned {
		w, ok := written[s.Segment]
		require.True(t, ok, s.Segment)
		assert.Equal(t, w.Movie, s.Movie)
		assert.Equal(t, w.Quality, s.Quality)
		assert.Equal(t, w.Type, s.Type)
		assert.Equal(t, w.Path, s.Path)
	}
}

func TestWriteReplacesAndTouches(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "m1", "720p", "seg_0001.m4s")
	writeFile(t, path, time.Now().Add(-time.Hour))

	w := NewWriter(root)
	got, err := w.Write(segment.Key{Movie: "m1", Quality: "720p", Segment: "seg_0001"}, "seg_0001.m4s", segment.Media, strings.NewReader("fresh"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), 5*time.Second)
	assert.WithinDuration(t, time.Now(), got.LastModified, 5*time.Second)
}

func TestWriteWithoutQualityFails(t *testing.T) {
	root := t.TempDir()
	_, err := NewWriter(root).Write(segment.Key{Movie: "m1", Segment: "seg_0001"}, "seg_0001.m4s", segment.Media, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrMissingQuality)

	_, statErr := os.Stat(filepath.Join(root, "m1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "m1", "720p", "seg_0001.m4s"), time.Now())
	writeFile(t, filepath.Join(root, "m1", "master.m3u8"), time.Now())
	l := NewLocator(root)

	path, ok := l.Locate(segment.Key{Movie: "m1", Quality: "720p", Segment: "seg_0001.m4s"})
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "m1", "720p", "seg_0001.m4s"), path)

	_, ok = l.Locate(segment.Key{Movie: "m1", Segment: "master.m3u8"})
	assert.True(t, ok)
	path, ok = l.Locate(segment.Key{Movie: "m1", Quality: "720p", Segment: "master.m3u8"})
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "m1", "master.m3u8"), path)

	_, ok = l.Locate(segment.Key{Movie: "m1", Quality: "720p", Segment: "seg_0002.m4s"})
	assert.False(t, ok)
	_, ok = l.Locate(segment.Key{Movie: "..", Quality: "720p", Segment: "seg_0001.m4s"})
	assert.False(t, ok)
	_, ok = l.Locate(segment.Key{Movie: "m1", Quality: "720p"})
	assert.False(t, ok)
}

func TestLocateBareSegmentID(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "m1", "720p", "init.m4s"), time.Now())
	l := NewLocator(root)

	path, ok := l.Locate(segment.Key{Movie: "m1", Quality: "720p", Segment: "init"})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "m1", "720p", "init.m4s"), path)
}
