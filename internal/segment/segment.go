// Package segment identifies HLS/fMP4 segments and classifies them by name.
package segment

import (
	"strings"
	"time"
)

type Type int

const (
	Media Type = iota
	Init
	MasterPlaylist
	VariantPlaylist
)

func (t Type) String() string {
	switch t {
	case Init:
		return "INIT"
	case MasterPlaylist:
		return "MASTER_PLAYLIST"
	case VariantPlaylist:
		return "VARIANT_PLAYLIST"
	default:
		return "MEDIA"
	}
}

// Critical segments are needed to start playback or switch quality and are
// never evicted.
func (t Type) Critical() bool {
	return t != Media
}

func IsCritical(t Type) bool {
	return t.Critical()
}

// Classify maps every segment id to exactly one Type.
func Classify(segmentID string) Type {
	name := strings.ToLower(strings.TrimSpace(segmentID))
	switch {
	case name == "init" || strings.HasPrefix(name, "init."):
		return Init
	case name == "master" || strings.HasPrefix(name, "master."):
		return MasterPlaylist
	case name == "playlist" || strings.HasPrefix(name, "playlist.") || strings.HasSuffix(name, ".m3u8"):
		return VariantPlaylist
	default:
		return Media
	}
}

// Key addresses a segment in the swarm. Quality is empty only for the
// movie-level master playlist.
type Key struct {
	Movie   string
	Quality string
	Segment string
}

// Canonical drops the quality from a master playlist key, which lives at
// the movie root whatever path it was requested under.
func (k Key) Canonical() Key {
	if Classify(k.Segment) == MasterPlaylist {
		k.Quality = ""
	}
	return k
}

func (k Key) String() string {
	if k.Quality == "" {
		return k.Movie + "/" + k.Segment
	}
	return k.Movie + "/" + k.Quality + "/" + k.Segment
}

// Cached is a segment file present in a node's local cache.
type Cached struct {
	Key
	Path         string
	LastModified time.Time
	Type         Type
}

func NewCached(key Key, path string, modified time.Time) Cached {
	return Cached{
		Key:          key,
		Path:         path,
		LastModified: modified,
		Type:         Classify(key.Segment),
	}
}

func (c Cached) IsCritical() bool {
	return c.Type.Critical()
}
