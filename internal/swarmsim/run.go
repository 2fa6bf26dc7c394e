package swarmsim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalash/swarm-cdn/internal/logging"
	seederclient "github.com/kalash/swarm-cdn/internal/peer/seeder"
	"github.com/kalash/swarm-cdn/internal/segment"
)

type Config struct {
	SignalURL     string
	SeederURL     string
	MovieID       string
	QualityID     string
	Viewers       int
	Segments      int
	CacheCapacity int
	Link          time.Duration
	// Stagger delays each viewer's start so later viewers find earlier
	// ones in the swarm.
	Stagger time.Duration
}

// SegmentIDs lists init.mp4 followed by seg_0001.m4s..seg_{n}.m4s.
func SegmentIDs(n int) []string {
	ids := make([]string, 0, n+1)
	ids = append(ids, "init.mp4")
	for i := 1; i <= n; i++ {
		ids = append(ids, segment.Normalize(fmt.Sprint(i)))
	}
	return ids
}

// Run joins cfg.Viewers viewers, has each watch the movie and returns the
// combined stats. Viewers leave once every viewer has finished.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	swarm := NewSwarm()
	seeder := seederclient.NewClient(cfg.SeederURL, nil)
	segments := SegmentIDs(cfg.Segments)

	viewers := make([]*Viewer, 0, cfg.Viewers)
	defer func() {
		for _, v := range viewers {
			v.Leave()
		}
	}()
	for i := 0; i < cfg.Viewers; i++ {
		v, err := Join(ctx, swarm, seeder, "viewer-"+uuid.NewString()[:8], ViewerConfig{
			SignalURL:     cfg.SignalURL,
			MovieID:       cfg.MovieID,
			CacheCapacity: cfg.CacheCapacity,
			Link:          cfg.Link,
		})
		if err != nil {
			return Stats{}, err
		}
		viewers = append(viewers, v)
	}

	results := make([]Stats, len(viewers))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range viewers {
		g.Go(func() error {
			if cfg.Stagger > 0 {
				select {
				case <-time.After(time.Duration(i) * cfg.Stagger):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			stats, err := v.Watch(gctx, cfg.QualityID, segments)
			results[i] = stats
			return err
		})
	}
	err := g.Wait()

	var total Stats
	for _, s := range results {
		total.add(s)
	}
	logging.Info().
		Int("viewers", len(viewers)).
		Int("peer", total.Peer).
		Int("origin", total.Origin).
		Int("missed", total.Missed).
		Msg("simulation finished")
	return total, err
}
