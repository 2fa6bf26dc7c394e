// Package peerstats keeps per-peer reliability counters and liveness in the
// shared store.
package peerstats

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalash/swarm-cdn/internal/keys"
)

const (
	FieldTotalSegments = "totalSegments"
	FieldPeerSuccess   = "peerSuccessSegments"
	FieldSuccessRate   = "successRate"
	FieldLastActive    = "lastActive"
	FieldUploadSpeed   = "uploadSpeed"
	FieldLatency       = "latency"

	SourceOrigin = "origin"

	DefaultTTL         = 10 * time.Minute
	DefaultLastSeenTTL = 60 * time.Second
)

type Config struct {
	TTL         time.Duration
	LastSeenTTL time.Duration
}

type Service struct {
	cfg Config
	rdb redis.Cmdable
	now func() time.Time
}

func NewService(rdb redis.Cmdable, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LastSeenTTL <= 0 {
		cfg.LastSeenTTL = DefaultLastSeenTTL
	}
	return &Service{cfg: cfg, rdb: rdb, now: time.Now}
}

// Metrics is the parsed view of a peer's stored hash.
type Metrics struct {
	UploadSpeed float64 `json:"uploadSpeed"`
	LatencyMs   float64 `json:"latencyMs"`
	SuccessRate float64 `json:"successRate"`
	LastActive  int64   `json:"lastActive"`
}

// IsPeerTransfer reports whether a segment report counts as peer-sourced.
func IsPeerTransfer(source string) bool {
	return !strings.EqualFold(strings.TrimSpace(source), SourceOrigin)
}

// UpdateReliability counts one reported segment and recomputes successRate.
func (s *Service) UpdateReliability(ctx context.Context, peerID, source string) (float64, error) {
	key := keys.PeerMetrics(peerID)
	total, err := s.incrCounter(ctx, key, FieldTotalSegments)
	if err != nil {
		return 0, fmt.Errorf("increment total: %w", err)
	}

	var success int64
	if IsPeerTransfer(source) {
		success, err = s.incrCounter(ctx, key, FieldPeerSuccess)
		if err != nil {
			return 0, fmt.Errorf("increment success: %w", err)
		}
	} else {
		raw, err := s.rdb.HGet(ctx, key, FieldPeerSuccess).Result()
		if err != nil && err != redis.Nil {
			return 0, fmt.Errorf("read success: %w", err)
		}
		success = parseInt(raw, 0)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	rate = clamp01(rate)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, FieldSuccessRate, strconv.FormatFloat(rate, 'f', -1, 64), FieldLastActive, s.now().Unix())
	pipe.Expire(ctx, key, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return rate, fmt.Errorf("store success rate: %w", err)
	}
	return rate, nil
}

// incrCounter bumps one hash counter. A stored value that is not an integer
// is reset to zero and the increment retried once.
func (s *Service) incrCounter(ctx context.Context, key, field string) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, 1).Result()
	if err == nil || !isNotInteger(err) {
		return n, err
	}
	if err := s.rdb.HSet(ctx, key, field, 0).Err(); err != nil {
		return 0, err
	}
	return s.rdb.HIncrBy(ctx, key, field, 1).Result()
}

func isNotInteger(err error) bool {
	return strings.Contains(err.Error(), "not an integer")
}

// RecordSample stores the latest transfer speed and latency reported by a peer.
func (s *Service) RecordSample(ctx context.Context, peerID string, uploadSpeed, latencyMs float64) error {
	key := keys.PeerMetrics(peerID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		FieldUploadSpeed, strconv.FormatFloat(uploadSpeed, 'f', -1, 64),
		FieldLatency, strconv.FormatFloat(latencyMs, 'f', -1, 64),
	)
	pipe.Expire(ctx, key, s.cfg.TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkLastActive refreshes liveness without touching counters.
func (s *Service) MarkLastActive(ctx context.Context, peerID string) error {
	now := s.now().Unix()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, keys.PeerLastSeen(peerID), now, s.cfg.LastSeenTTL)
	pipe.HSet(ctx, keys.PeerMetrics(peerID), FieldLastActive, now)
	pipe.Expire(ctx, keys.PeerMetrics(peerID), s.cfg.TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LoadAll returns the raw stored fields, or an empty map for unknown peers.
func (s *Service) LoadAll(ctx context.Context, peerID string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, keys.PeerMetrics(peerID)).Result()
	if err != nil {
		return map[string]string{}, err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

// Delete drops a peer's metrics and liveness records.
func (s *Service) Delete(ctx context.Context, peerID string) error {
	return s.rdb.Del(ctx, keys.PeerMetrics(peerID), keys.PeerLastSeen(peerID)).Err()
}

// Parse maps stored fields onto Metrics, falling back to neutral defaults for
// missing or malformed values.
func Parse(fields map[string]string, now time.Time) Metrics {
	m := Metrics{
		UploadSpeed: parseFloat(fields[FieldUploadSpeed], 0),
		LatencyMs:   parseFloat(fields[FieldLatency], 999),
		SuccessRate: clamp01(parseFloat(fields[FieldSuccessRate], 0.5)),
		LastActive:  parseInt(fields[FieldLastActive], 0),
	}
	if m.LastActive == 0 {
		m.LastActive = now.Unix()
	}
	return m
}

func parseFloat(raw string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func parseInt(raw string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
