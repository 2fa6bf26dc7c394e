package seeder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
)

const defaultInterval = 30 * time.Second

type SchedulerConfig struct {
	Enabled     bool
	StartupSync bool
	Interval    time.Duration
}

// Scheduler drives cache maintenance on a fixed delay: the next tick is
// armed only after the previous one returns.
type Scheduler struct {
	cfg     SchedulerConfig
	manager *Manager
	running atomic.Bool
}

func NewScheduler(manager *Manager, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Scheduler{cfg: cfg, manager: manager}
}

// Startup publishes whatever is already on disk.
func (s *Scheduler) Startup(ctx context.Context) {
	segments := s.manager.ScanCache()
	if len(segments) > 0 {
		s.manager.SyncCacheToRegistry(ctx, segments)
	}
	logging.Info().Int("segments", len(segments)).Msg("startup cache sync complete")
}

// Tick runs one maintenance pass. Overlapping calls are dropped.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	segments := s.manager.ScanCache()
	if len(segments) > 0 {
		s.manager.SyncCacheToRegistry(ctx, segments)
	}
	expired := s.manager.FindExpiredSegments(segments)
	s.manager.PurgeExpiredSegments(ctx, expired)
	s.manager.RefreshTTLForMovies(ctx, movieIDs(segments))
}

func (s *Scheduler) Serve(ctx context.Context) error {
	if s.cfg.StartupSync {
		s.Startup(ctx)
	}
	if !s.cfg.Enabled {
		logging.Info().Msg("cache maintenance disabled")
		return suture.ErrDoNotRestart
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) String() string {
	return "seeder-maintenance"
}

func movieIDs(segments []segment.Cached) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range segments {
		if _, ok := seen[s.Movie]; ok {
			continue
		}
		seen[s.Movie] = struct{}{}
		ids = append(ids, s.Movie)
	}
	return ids
}
