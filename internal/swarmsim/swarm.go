// Package swarmsim drives a population of simulated viewers against a
// signalling server and a seeder. Peer-to-peer transfers happen in process:
// a viewer that is told another viewer holds a segment copies it out of that
// viewer's store after the peer's simulated link delay.
package swarmsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/peer/cache"
	seederclient "github.com/kalash/swarm-cdn/internal/peer/seeder"
	peerclient "github.com/kalash/swarm-cdn/internal/peer/signalling"
	"github.com/kalash/swarm-cdn/internal/peer/rtt"
	"github.com/kalash/swarm-cdn/internal/segment"
)

const (
	SourcePeer   = "peer"
	SourceOrigin = "origin"
)

// Swarm indexes the viewers of one simulation run by client id.
type Swarm struct {
	mu      sync.RWMutex
	viewers map[string]*Viewer
}

func NewSwarm() *Swarm {
	return &Swarm{viewers: make(map[string]*Viewer)}
}

func (s *Swarm) add(v *Viewer) {
	s.mu.Lock()
	s.viewers[v.ID()] = v
	s.mu.Unlock()
}

func (s *Swarm) remove(id string) {
	s.mu.Lock()
	delete(s.viewers, id)
	s.mu.Unlock()
}

func (s *Swarm) lookup(id string) (*Viewer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.viewers[id]
	return v, ok
}

type ViewerConfig struct {
	SignalURL     string
	MovieID       string
	CacheCapacity int
	// Link is the simulated one-way delay when another viewer pulls from
	// this one.
	Link time.Duration
}

// Stats counts where a viewer's segments came from.
type Stats struct {
	Peer   int
	Origin int
	Missed int
}

func (s *Stats) add(o Stats) {
	s.Peer += o.Peer
	s.Origin += o.Origin
	s.Missed += o.Missed
}

type Viewer struct {
	cfg    ViewerConfig
	swarm  *Swarm
	signal *peerclient.Client
	seeder *seederclient.Client
	store  *cache.LRU
	rtt    *rtt.Measurer
	log    zerolog.Logger
}

// Join connects a viewer to the signalling server and enters it in swarm.
func Join(ctx context.Context, swarm *Swarm, seeder *seederclient.Client, id string, cfg ViewerConfig) (*Viewer, error) {
	signal, err := peerclient.Dial(ctx, cfg.SignalURL, id, cfg.MovieID)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", id, err)
	}
	v := &Viewer{
		cfg:    cfg,
		swarm:  swarm,
		signal: signal,
		seeder: seeder,
		store:  cache.NewLRU(cfg.CacheCapacity),
		rtt:    rtt.NewMeasurer(rtt.DefaultAlpha),
		log:    logging.With("swarmsim").With().Str("peer", id).Logger(),
	}
	swarm.add(v)
	v.log.Debug().Strs("swarm", signal.Peers()).Msg("viewer joined")
	return v, nil
}

func (v *Viewer) ID() string { return v.signal.ID() }

// Leave closes the session; the server clears the viewer's ownership.
func (v *Viewer) Leave() error {
	v.swarm.remove(v.ID())
	return v.signal.Close()
}

// Watch fetches segments of one quality in order.
func (v *Viewer) Watch(ctx context.Context, qualityID string, segments []string) (Stats, error) {
	var stats Stats
	for _, id := range segments {
		key := segment.Key{Movie: v.cfg.MovieID, Quality: qualityID, Segment: id}
		source, err := v.fetch(ctx, key)
		switch {
		case errors.Is(err, seederclient.ErrNotFound):
			stats.Missed++
			continue
		case err != nil:
			return stats, err
		case source == SourcePeer:
			stats.Peer++
		default:
			stats.Origin++
		}
	}
	return stats, nil
}

func (v *Viewer) fetch(ctx context.Context, key segment.Key) (string, error) {
	candidates, err := v.signal.WhoHas(ctx, key.Quality, key.Segment)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c.PeerID == v.ID() {
			continue
		}
		data, elapsed, ok := v.pull(ctx, c.PeerID, key)
		if !ok {
			continue
		}
		return SourcePeer, v.keep(ctx, key, data, SourcePeer, c.PeerID, elapsed)
	}

	seg, err := v.seeder.Fetch(ctx, key.Movie, key.Quality, key.Segment)
	if err != nil {
		return "", err
	}
	return SourceOrigin, v.keep(ctx, key, seg.Body, SourceOrigin, v.seeder.BaseURL(), seg.Elapsed)
}

// pull copies key from another in-process viewer.
func (v *Viewer) pull(ctx context.Context, peerID string, key segment.Key) ([]byte, time.Duration, bool) {
	other, ok := v.swarm.lookup(peerID)
	if !ok {
		return nil, 0, false
	}
	start := time.Now()
	if other.cfg.Link > 0 {
		timer := time.NewTimer(other.cfg.Link)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, 0, false
		}
	}
	data, ok := other.store.Get(key)
	return data, time.Since(start), ok
}

func (v *Viewer) keep(ctx context.Context, key segment.Key, data []byte, source, from string, elapsed time.Duration) error {
	sample := v.rtt.Observe(from, elapsed, int64(len(data)))
	for _, gone := range v.store.Put(key, data) {
		if err := v.signal.RemoveSegment(gone.Quality, gone.Segment); err != nil {
			return err
		}
	}
	return v.signal.ReportSegment(ctx, peerclient.Report{
		QualityID:   key.Quality,
		SegmentID:   key.Segment,
		Source:      source,
		UploadSpeed: sample.UploadSpeed,
		LatencyMs:   sample.LatencyMs,
	})
}

func (v *Viewer) Holds(key segment.Key) bool {
	_, ok := v.store.Get(key)
	return ok
}
