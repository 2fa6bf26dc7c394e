package seeder

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalash/swarm-cdn/internal/cache"
	"github.com/kalash/swarm-cdn/internal/fileserver"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

// SegmentFetcher fills a local cache miss.
type SegmentFetcher interface {
	Enabled() bool
	Fetch(ctx context.Context, key segment.Key) (segment.Cached, error)
}

type Handler struct {
	locator *cache.Locator
	fetcher SegmentFetcher
	metrics *metrics.Metrics
}

func NewHandler(locator *cache.Locator, fetcher SegmentFetcher, m *metrics.Metrics) *Handler {
	return &Handler{locator: locator, fetcher: fetcher, metrics: m}
}

// Routes serves movieId/master.m3u8 and movieId/qualityId/segmentId, which
// covers init.{ext}, playlist.m3u8 and media segments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{movieId}/master.m3u8", h.serveMaster)
	r.Head("/{movieId}/master.m3u8", h.serveMaster)
	r.Get("/{movieId}/{qualityId}/{segmentId}", h.serveSegment)
	r.Head("/{movieId}/{qualityId}/{segmentId}", h.serveSegment)
	return r
}

func (h *Handler) serveMaster(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, segment.Key{Movie: chi.URLParam(r, "movieId"), Segment: "master.m3u8"})
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request) {
	key := segment.Key{
		Movie:   chi.URLParam(r, "movieId"),
		Quality: chi.URLParam(r, "qualityId"),
		Segment: segment.Normalize(chi.URLParam(r, "segmentId")),
	}
	h.serve(w, r, key.Canonical())
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, key segment.Key) {
	start := time.Now()
	if err := key.Validate(); err != nil {
		h.observe("invalid", http.StatusBadRequest, start)
		http.Error(w, "invalid segment identifier", http.StatusBadRequest)
		return
	}

	source := "cache"
	path, ok := h.locator.Locate(key)
	if !ok && h.fetcher != nil && h.fetcher.Enabled() {
		cached, err := h.fetcher.Fetch(r.Context(), key)
		if err == nil {
			path, ok, source = cached.Path, true, "origin"
		} else {
			logging.Debug().Err(err).Str("segment", key.String()).Msg("origin fallback missed")
		}
	}
	if !ok {
		h.observe("none", http.StatusNotFound, start)
		http.NotFound(w, r)
		return
	}

	if err := fileserver.Serve(w, r, path); err != nil {
		if errors.Is(err, fileserver.ErrNotServable) {
			h.observe(source, http.StatusNotFound, start)
			http.NotFound(w, r)
			return
		}
		logging.Debug().Err(err).Str("segment", key.String()).Msg("segment stream interrupted")
	}
	h.observe(source, http.StatusOK, start)
}

func (h *Handler) observe(source string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.SegmentRequests.WithLabelValues(source, http.StatusText(status)).Inc()
	if status == http.StatusOK {
		h.metrics.SegmentResponseTime.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}
