// Package cache reads and writes a node's on-disk segment cache laid out as
// root/movie/[quality/]file.
package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
)

type Scanner struct {
	root string
	now  func() time.Time
}

func NewScanner(root string) *Scanner {
	return &Scanner{root: root, now: time.Now}
}

func (s *Scanner) Root() string {
	return s.root
}

// Scan lists every cached segment. A missing root is an empty cache.
func (s *Scanner) Scan() ([]segment.Cached, error) {
	movies, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []segment.Cached
	for _, movie := range movies {
		if !movie.IsDir() {
			continue
		}
		out = append(out, s.scanMovie(movie.Name())...)
	}
	return out, nil
}

func (s *Scanner) scanMovie(movieID string) []segment.Cached {
	movieDir := filepath.Join(s.root, movieID)
	entries, err := os.ReadDir(movieDir)
	if err != nil {
		logging.Warn().Err(err).Str("movie", movieID).Msg("skip unreadable movie dir")
		return nil
	}

	var out []segment.Cached
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			out = append(out, s.scanQuality(movieID, name)...)
			continue
		}
		// Movie-level files are the master playlist, whatever the packager named it.
		if name == "master.m3u8" || name == "playlist.m3u8" {
			c := segment.NewCached(segment.Key{Movie: movieID, Segment: name}, filepath.Join(movieDir, name), s.modTime(entry))
			c.Type = segment.MasterPlaylist
			out = append(out, c)
		}
	}
	return out
}

func (s *Scanner) scanQuality(movieID, qualityID string) []segment.Cached {
	dir := filepath.Join(s.root, movieID, qualityID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Warn().Err(err).Str("movie", movieID).Str("quality", qualityID).Msg("skip unreadable quality dir")
		return nil
	}

	out := make([]segment.Cached, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		key := segment.Key{Movie: movieID, Quality: qualityID, Segment: entry.Name()}
		out = append(out, segment.NewCached(key, filepath.Join(dir, entry.Name()), s.modTime(entry)))
	}
	return out
}

func (s *Scanner) modTime(entry fs.DirEntry) time.Time {
	info, err := entry.Info()
	if err != nil {
		logging.Warn().Err(err).Str("file", entry.Name()).Msg("stat failed, using current time")
		return s.now()
	}
	return info.ModTime()
}
