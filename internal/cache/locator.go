package cache

import (
	"os"
	"path/filepath"

	"github.com/kalash/swarm-cdn/internal/segment"
)

type Locator struct {
	root string
}

func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Locate returns the cached file for key. A segment id without an extension
// also matches the files origin fallback would have written for it.
func (l *Locator) Locate(key segment.Key) (string, bool) {
	if key.Validate() != nil {
		return "", false
	}
	key = key.Canonical()
	id := segment.Sanitize(key.Segment)
	dir := filepath.Join(l.root, key.Movie, key.Quality)
	if path, ok := regularFile(filepath.Join(dir, id)); ok {
		return path, true
	}
	if filepath.Ext(id) != "" {
		return "", false
	}
	for _, ext := range segment.Extensions(segment.Classify(id)) {
		if path, ok := regularFile(filepath.Join(dir, segment.FileName(id, ext))); ok {
			return path, true
		}
	}
	return "", false
}

func regularFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}
