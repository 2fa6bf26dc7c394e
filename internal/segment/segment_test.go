package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Type{
		"init.mp4":       Init,
		"INIT.m4s":       Init,
		"init":           Init,
		"master.m3u8":    MasterPlaylist,
		"master":         MasterPlaylist,
		"playlist.m3u8":  VariantPlaylist,
		"playlist":       VariantPlaylist,
		"audio_en.m3u8":  VariantPlaylist,
		"seg_0001.m4s":   Media,
		"seg_0002.mp4":   Media,
		"segment.ts":     Media,
		"initial_01.m4s": Media,
		"masterpiece":    Media,
		"":               Media,
		"whatever":       Media,
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			got := Classify(name)
			assert.Equal(t, want, got)
			assert.Equal(t, got, Classify(name))
		})
	}
}

func TestCriticalTypes(t *testing.T) {
	assert.True(t, IsCritical(Init))
	assert.True(t, IsCritical(MasterPlaylist))
	assert.True(t, IsCritical(VariantPlaylist))
	assert.False(t, IsCritical(Media))
}

func TestNewCachedDerivesType(t *testing.T) {
	c := NewCached(Key{Movie: "m1", Quality: "720p", Segment: "init.mp4"}, "/tmp/x", time.Now())
	assert.Equal(t, Init, c.Type)
	assert.True(t, c.IsCritical())
	assert.Equal(t, "m1/720p/init.mp4", c.String())

	master := NewCached(Key{Movie: "m1", Segment: "master.m3u8"}, "/tmp/y", time.Now())
	assert.Equal(t, "m1/master.m3u8", master.String())
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, Key{Movie: "m1", Segment: "master.m3u8"}, Key{Movie: "m1", Quality: "720p", Segment: "master.m3u8"}.Canonical())
	media := Key{Movie: "m1", Quality: "720p", Segment: "seg_0001.m4s"}
	assert.Equal(t, media, media.Canonical())
}

func TestIdentifierValidation(t *testing.T) {
	assert.True(t, IsValidMovieID("0b7f6a52-7d4e-4f0e-9f53-3c2a1d9b8e11"))
	assert.True(t, IsValidMovieID("big-buck-bunny"))
	assert.False(t, IsValidMovieID("../etc"))
	assert.False(t, IsValidMovieID("a/b"))
	assert.False(t, IsValidMovieID(`a\b`))
	assert.False(t, IsValidMovieID("   "))

	require.NoError(t, Key{Movie: "m1", Quality: "720p", Segment: " seg_1.m4s "}.Validate())
	require.NoError(t, Key{Movie: "m1", Segment: "master.m3u8"}.Validate())
	assert.ErrorIs(t, Key{Movie: "m1", Quality: "..", Segment: "x"}.Validate(), ErrInvalidIdentifier)
	assert.ErrorIs(t, Key{Movie: "m1", Quality: "720p", Segment: "  "}.Validate(), ErrInvalidIdentifier)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "seg_0007.m4s", Normalize("7"))
	assert.Equal(t, "seg_0123.m4s", Normalize(" 123 "))
	assert.Equal(t, "seg_0001.m4s", Normalize("seg_0001.m4s"))
	assert.Equal(t, "init.mp4", Normalize("init.mp4"))
}

func TestExtensionsAndFileName(t *testing.T) {
	assert.Equal(t, []string{"mp4", "m4s"}, Extensions(Init))
	assert.Equal(t, []string{"m3u8"}, Extensions(MasterPlaylist))
	assert.Equal(t, []string{"m3u8"}, Extensions(VariantPlaylist))
	assert.Equal(t, []string{"m4s", "mp4"}, Extensions(Media))

	assert.Equal(t, "init.mp4", FileName("init", "mp4"))
	assert.Equal(t, "init.mp4", FileName("init.mp4", "mp4"))
	assert.Equal(t, "init.mp4.m4s", FileName("init.mp4", "m4s"))
}
