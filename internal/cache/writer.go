package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
)

var ErrMissingQuality = errors.New("quality required for non-master segment")

type Writer struct {
	root string
	now  func() time.Time
}

func NewWriter(root string) *Writer {
	return &Writer{root: root, now: time.Now}
}

// Write stores body as root/movie/[quality/]fileName, replacing any existing
// file, and stamps its modification time to now.
func (w *Writer) Write(key segment.Key, fileName string, typ segment.Type, body io.Reader) (segment.Cached, error) {
	dir := filepath.Join(w.root, key.Movie)
	if typ != segment.MasterPlaylist {
		if key.Quality == "" {
			logging.Error().Str("movie", key.Movie).Str("segment", key.Segment).Str("type", typ.String()).
				Msg("refusing cache write without quality")
			return segment.Cached{}, fmt.Errorf("%w: %s", ErrMissingQuality, key)
		}
		dir = filepath.Join(dir, key.Quality)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return segment.Cached{}, fmt.Errorf("create cache dir: %w", err)
	}

	target := filepath.Join(dir, fileName)
	tmp, err := os.CreateTemp(dir, "."+fileName+".*")
	if err != nil {
		return segment.Cached{}, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return segment.Cached{}, fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return segment.Cached{}, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return segment.Cached{}, fmt.Errorf("replace %s: %w", target, err)
	}

	now := w.now()
	if err := os.Chtimes(target, now, now); err != nil {
		logging.Warn().Err(err).Str("file", target).Msg("touch cached segment")
	}

	quality := key.Quality
	if typ == segment.MasterPlaylist {
		quality = ""
	}
	cached := segment.NewCached(segment.Key{Movie: key.Movie, Quality: quality, Segment: fileName}, target, now)
	cached.Type = typ
	return cached, nil
}
