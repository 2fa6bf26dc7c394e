// Package seeder keeps a node's local segment cache advertised in the shared
// registry and evicts cold media segments.
package seeder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kalash/swarm-cdn/internal/cache"
	"github.com/kalash/swarm-cdn/internal/keys"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

const (
	defaultCacheTTL    = 90 * time.Second
	defaultCacheWindow = 4 * time.Minute
	scanBatch          = 128
)

type Config struct {
	CacheTTL    time.Duration
	CacheWindow time.Duration
}

type Manager struct {
	cfg     Config
	rdb     redis.Cmdable
	scanner *cache.Scanner
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewManager(rdb redis.Cmdable, scanner *cache.Scanner, cfg Config, m *metrics.Metrics) *Manager {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = defaultCacheWindow
	}
	return &Manager{
		cfg:     cfg,
		rdb:     rdb,
		scanner: scanner,
		metrics: m,
		log:     logging.With("seeder"),
		now:     time.Now,
	}
}

// ScanCache lists the local cache; a scan failure yields no segments.
func (m *Manager) ScanCache() []segment.Cached {
	segments, err := m.scanner.Scan()
	if err != nil {
		m.log.Error().Err(err).Str("root", m.scanner.Root()).Msg("cache scan failed")
		return nil
	}
	return segments
}

// SyncCacheToRegistry adds every segment to its movie/quality set. Sets
// holding a critical segment are persisted, the rest get the cache TTL.
func (m *Manager) SyncCacheToRegistry(ctx context.Context, segments []segment.Cached) {
	grouped := make(map[string][]segment.Cached)
	var order []string
	for _, s := range segments {
		key := keys.MovieSegments(s.Movie, s.Quality)
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], s)
	}

	for _, key := range order {
		members := grouped[key]
		for _, s := range members {
			if err := m.rdb.SAdd(ctx, key, s.Segment).Err(); err != nil {
				m.log.Warn().Err(err).Str("key", key).Str("segment", s.Segment).Msg("registry add failed")
				continue
			}
			m.count("synced")
		}
		m.applyExpiry(ctx, key)
	}
	if len(order) > 0 {
		m.log.Debug().Int("segments", len(segments)).Int("keys", len(order)).Msg("cache synced to registry")
	}
}

// RegisterFetched publishes a segment that was just pulled from origin.
func (m *Manager) RegisterFetched(ctx context.Context, seg segment.Cached) {
	m.SyncCacheToRegistry(ctx, []segment.Cached{seg})
}

// applyExpiry persists key when it holds a critical segment and sets the
// cache TTL otherwise.
func (m *Manager) applyExpiry(ctx context.Context, key string) {
	members, err := m.rdb.SMembers(ctx, key).Result()
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("registry read failed")
		return
	}
	if len(members) == 0 {
		return
	}
	for _, id := range members {
		if segment.Classify(id).Critical() {
			if err := m.rdb.Persist(ctx, key).Err(); err != nil {
				m.log.Warn().Err(err).Str("key", key).Msg("registry persist failed")
			}
			return
		}
	}
	if err := m.rdb.Expire(ctx, key, m.cfg.CacheTTL).Err(); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("registry expire failed")
	}
}

// FindExpiredSegments returns media segments last modified before the cache
// window. Critical segments are never returned.
func (m *Manager) FindExpiredSegments(segments []segment.Cached) []segment.Cached {
	cutoff := m.now().Add(-m.cfg.CacheWindow)
	var expired []segment.Cached
	for _, s := range segments {
		if s.IsCritical() {
			continue
		}
		if s.LastModified.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	return expired
}

// PurgeExpiredSegments deletes each segment from disk and registry. Critical
// segments are refused.
func (m *Manager) PurgeExpiredSegments(ctx context.Context, expired []segment.Cached) {
	for _, s := range expired {
		if s.IsCritical() {
			m.log.Warn().Str("segment", s.String()).Str("type", s.Type.String()).Msg("refusing to purge critical segment")
			m.count("refused")
			continue
		}
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn().Err(err).Str("path", s.Path).Msg("delete cached segment failed")
			continue
		}
		key := keys.MovieSegments(s.Movie, s.Quality)
		if err := m.rdb.SRem(ctx, key, s.Segment).Err(); err != nil {
			m.log.Warn().Err(err).Str("key", key).Str("segment", s.Segment).Msg("registry remove failed")
			continue
		}
		m.count("purged")
	}
	if len(expired) > 0 {
		m.log.Info().Int("segments", len(expired)).Msg("purged expired segments")
	}
}

// RefreshTTLForMovies re-applies registry expiry to every quality set of the
// given movies.
func (m *Manager) RefreshTTLForMovies(ctx context.Context, movieIDs []string) {
	for _, movieID := range movieIDs {
		iter := m.rdb.Scan(ctx, 0, keys.MovieQualitySegmentsPattern(movieID), scanBatch).Iterator()
		for iter.Next(ctx) {
			m.applyExpiry(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			m.log.Warn().Err(err).Str("movie", movieID).Msg("registry scan failed")
		}
		m.applyExpiry(ctx, keys.MovieSegments(movieID, ""))
	}
}

func (m *Manager) count(action string) {
	if m.metrics != nil {
		m.metrics.SeederSegments.WithLabelValues(action).Inc()
	}
}
