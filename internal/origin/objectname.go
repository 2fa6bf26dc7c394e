package origin

import (
	"strings"

	"github.com/kalash/swarm-cdn/internal/segment"
)

const defaultPrefix = "movies"

// ObjectName lays out origin objects as prefix/movie/file for the master
// playlist and prefix/movie/quality/file for everything else.
func ObjectName(prefix string, key segment.Key, typ segment.Type, fileName string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if typ == segment.MasterPlaylist || key.Quality == "" {
		return prefix + "/" + key.Movie + "/" + fileName
	}
	return prefix + "/" + key.Movie + "/" + key.Quality + "/" + fileName
}
