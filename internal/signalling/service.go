// Package signalling coordinates the per-movie peer swarm: membership,
// segment ownership and "who has" lookups backed by the shared store.
package signalling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kalash/swarm-cdn/internal/keys"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/peerstats"
)

const (
	defaultSegmentTTL = 90 * time.Second
	scanBatch         = 128
)

var ErrMovieMismatch = errors.New("message movie does not match session")

type Config struct {
	SegmentTTL time.Duration
}

// Service holds no per-peer state of its own; every call is safe to run
// concurrently and relies on the store's atomic set operations.
type Service struct {
	cfg   Config
	rdb   redis.Cmdable
	stats *peerstats.Service
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(rdb redis.Cmdable, stats *peerstats.Service, cfg Config) *Service {
	if cfg.SegmentTTL <= 0 {
		cfg.SegmentTTL = defaultSegmentTTL
	}
	return &Service{
		cfg:   cfg,
		rdb:   rdb,
		stats: stats,
		log:   logging.With("signalling"),
		now:   time.Now,
	}
}

// RegisterClient joins the session's movie swarm and returns every peer
// currently in it, including the caller.
func (s *Service) RegisterClient(ctx context.Context, sess Session) ([]string, error) {
	peersKey := keys.MoviePeers(sess.MovieID)
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, peersKey, sess.ClientID)
	pipe.Expire(ctx, peersKey, s.cfg.SegmentTTL)
	members := pipe.SMembers(ctx, peersKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("register %s: %w", sess.ClientID, err)
	}
	if err := s.stats.MarkLastActive(ctx, sess.ClientID); err != nil {
		s.log.Warn().Err(err).Str("peer", sess.ClientID).Msg("mark last active failed")
	}
	peers := members.Val()
	sort.Strings(peers)
	s.log.Info().Str("peer", sess.ClientID).Str("movie", sess.MovieID).Int("swarm", len(peers)).Msg("client registered")
	return peers, nil
}

// WhoHas lists the owners of one exact segment, best first. An empty list
// is a valid answer.
func (s *Service) WhoHas(ctx context.Context, movieID, qualityID, segmentID string) ([]PeerInfo, error) {
	owners, err := s.rdb.SMembers(ctx, keys.SegmentOwners(movieID, qualityID, segmentID)).Result()
	if err != nil {
		return []PeerInfo{}, fmt.Errorf("read owners: %w", err)
	}

	now := s.now()
	peers := make([]PeerInfo, 0, len(owners))
	for _, id := range owners {
		fields, err := s.stats.LoadAll(ctx, id)
		if err != nil {
			s.log.Debug().Err(err).Str("peer", id).Msg("load metrics failed, using defaults")
		}
		peers = append(peers, PeerInfo{PeerID: id, Metrics: peerstats.Parse(fields, now)})
	}
	rankPeers(peers)
	return peers, nil
}

// rankPeers orders by success rate, then latency, then upload speed, then id.
func rankPeers(peers []PeerInfo) {
	sort.SliceStable(peers, func(i, j int) bool {
		a, b := peers[i].Metrics, peers[j].Metrics
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.LatencyMs != b.LatencyMs {
			return a.LatencyMs < b.LatencyMs
		}
		if a.UploadSpeed != b.UploadSpeed {
			return a.UploadSpeed > b.UploadSpeed
		}
		return peers[i].PeerID < peers[j].PeerID
	})
}

type Report struct {
	MovieID     string
	QualityID   string
	SegmentID   string
	Source      string
	UploadSpeed float64
	LatencyMs   float64
}

// ReportSegment records that the session's peer now holds a segment.
func (s *Service) ReportSegment(ctx context.Context, sess Session, r Report) error {
	movieID, err := sessionMovie(sess, r.MovieID)
	if err != nil {
		return err
	}
	ownersKey := keys.SegmentOwners(movieID, r.QualityID, r.SegmentID)
	peersKey := keys.MoviePeers(movieID)

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, ownersKey, sess.ClientID)
	pipe.Expire(ctx, ownersKey, s.cfg.SegmentTTL)
	pipe.SAdd(ctx, peersKey, sess.ClientID)
	pipe.Expire(ctx, peersKey, s.cfg.SegmentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record ownership: %w", err)
	}

	rate, err := s.stats.UpdateReliability(ctx, sess.ClientID, r.Source)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", sess.ClientID).Msg("update reliability failed")
	}
	if err := s.stats.RecordSample(ctx, sess.ClientID, r.UploadSpeed, r.LatencyMs); err != nil {
		s.log.Warn().Err(err).Str("peer", sess.ClientID).Msg("record transfer sample failed")
	}
	if err := s.stats.MarkLastActive(ctx, sess.ClientID); err != nil {
		s.log.Warn().Err(err).Str("peer", sess.ClientID).Msg("mark last active failed")
	}

	s.log.Debug().
		Str("peer", sess.ClientID).
		Str("movie", movieID).
		Str("quality", r.QualityID).
		Str("segment", r.SegmentID).
		Str("source", r.Source).
		Float64("success_rate", rate).
		Msg("segment reported")
	return nil
}

// RemoveSegment drops the peer from one segment's owners. Removing an absent
// membership is a no-op.
func (s *Service) RemoveSegment(ctx context.Context, sess Session, movieID, qualityID, segmentID string) error {
	movieID, err := sessionMovie(sess, movieID)
	if err != nil {
		return err
	}
	return s.rdb.SRem(ctx, keys.SegmentOwners(movieID, qualityID, segmentID), sess.ClientID).Err()
}

// Touch refreshes the peer's liveness.
func (s *Service) Touch(ctx context.Context, sess Session) error {
	return s.stats.MarkLastActive(ctx, sess.ClientID)
}

// HandleDisconnect removes every trace of the peer under its movie. It is
// best effort: failures are logged and the store's TTLs clean up the rest.
func (s *Service) HandleDisconnect(ctx context.Context, clientID, movieID string) {
	s.LeaveMovie(ctx, clientID, movieID)
	if err := s.stats.Delete(ctx, clientID); err != nil {
		s.log.Warn().Err(err).Str("peer", clientID).Msg("delete peer metrics failed")
	}
	s.log.Info().Str("peer", clientID).Str("movie", movieID).Msg("client disconnected")
}

// LeaveMovie drops the peer from one movie's swarm and ownership sets. Its
// metrics are left alone so a session on another movie keeps them.
func (s *Service) LeaveMovie(ctx context.Context, clientID, movieID string) {
	if err := s.rdb.SRem(ctx, keys.MoviePeers(movieID), clientID).Err(); err != nil {
		s.log.Warn().Err(err).Str("peer", clientID).Str("movie", movieID).Msg("remove from swarm failed")
	}
	for _, pattern := range keys.SegmentOwnersPatterns(movieID) {
		if err := s.removeFromMatching(ctx, pattern, clientID); err != nil {
			s.log.Warn().Err(err).Str("peer", clientID).Str("pattern", pattern).Msg("ownership scan failed")
			break
		}
	}
}

func (s *Service) removeFromMatching(ctx context.Context, pattern, member string) error {
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		for _, key := range batch {
			if err := s.rdb.SRem(ctx, key, member).Err(); err != nil {
				s.log.Debug().Err(err).Str("key", key).Msg("ownership remove failed")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func sessionMovie(sess Session, movieID string) (string, error) {
	if movieID == "" || movieID == sess.MovieID {
		return sess.MovieID, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMovieMismatch, movieID)
}
