package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalash/swarm-cdn/internal/segment"
)

func key(s string) segment.Key {
	return segment.Key{Movie: "m1", Quality: "720p", Segment: s}
}

func TestLRUEvictsLeastRecentMedia(t *testing.T) {
	l := NewLRU(2)
	assert.Empty(t, l.Put(key("seg_0001.m4s"), []byte("1")))
	assert.Empty(t, l.Put(key("seg_0002.m4s"), []byte("2")))

	_, ok := l.Get(key("seg_0001.m4s"))
	require.True(t, ok)

	evicted := l.Put(key("seg_0003.m4s"), []byte("3"))
	assert.Equal(t, []segment.Key{key("seg_0002.m4s")}, evicted)
	assert.Equal(t, []segment.Key{key("seg_0003.m4s"), key("seg_0001.m4s")}, l.Keys())
}

func TestLRUKeepsCriticalSegments(t *testing.T) {
	l := NewLRU(1)
	l.Put(key("init.mp4"), []byte("init"))
	l.Put(key("playlist.m3u8"), []byte("pl"))
	l.Put(key("seg_0001.m4s"), []byte("1"))

	evicted := l.Put(key("seg_0002.m4s"), []byte("2"))
	assert.Equal(t, []segment.Key{key("seg_0001.m4s")}, evicted)
	assert.Equal(t, 3, l.Len())

	data, ok := l.Get(key("init.mp4"))
	require.True(t, ok)
	assert.Equal(t, "init", string(data))
}

func TestLRUOverwrite(t *testing.T) {
	l := NewLRU(1)
	l.Put(key("seg_0001.m4s"), []byte("a"))
	assert.Empty(t, l.Put(key("seg_0001.m4s"), []byte("b")))
	data, _ := l.Get(key("seg_0001.m4s"))
	assert.Equal(t, "b", string(data))
}
