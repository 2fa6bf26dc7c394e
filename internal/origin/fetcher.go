package origin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kalash/swarm-cdn/internal/cache"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/segment"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

var (
	ErrDisabled = errors.New("origin fallback disabled")
	ErrNotFound = errors.New("segment not found at origin")
)

const (
	defaultAttemptTimeout  = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

type Config struct {
	Enabled         bool
	ObjectPrefix    string
	AttemptTimeout  time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Registrar publishes a freshly cached segment so later requests and peers
// can find it.
type Registrar interface {
	RegisterFetched(ctx context.Context, seg segment.Cached)
}

type Fetcher struct {
	cfg       Config
	store     ObjectStore
	writer    *cache.Writer
	registrar Registrar
	breaker   *gobreaker.CircuitBreaker[segment.Cached]
	metrics   *metrics.Metrics
}

func NewFetcher(cfg Config, store ObjectStore, writer *cache.Writer, registrar Registrar, m *metrics.Metrics) *Fetcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	log := logging.With("origin")
	breaker := gobreaker.NewCircuitBreaker[segment.Cached](gobreaker.Settings{
		Name:        "origin",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrObjectNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("origin breaker state changed")
		},
	})
	return &Fetcher{
		cfg:       cfg,
		store:     store,
		writer:    writer,
		registrar: registrar,
		breaker:   breaker,
		metrics:   m,
	}
}

func (f *Fetcher) Enabled() bool {
	return f != nil && f.cfg.Enabled && f.store != nil
}

// Fetch probes origin for key under each candidate extension, stores the first
// hit in the local cache and registers it.
func (f *Fetcher) Fetch(ctx context.Context, key segment.Key) (segment.Cached, error) {
	if !f.Enabled() {
		f.count("disabled")
		return segment.Cached{}, ErrDisabled
	}
	key.Segment = segment.Sanitize(key.Segment)
	if err := key.Validate(); err != nil {
		f.count("rejected")
		return segment.Cached{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	typ := segment.Classify(key.Segment)
	for _, ext := range segment.Extensions(typ) {
		fileName := segment.FileName(key.Segment, ext)
		name := ObjectName(f.cfg.ObjectPrefix, key, typ, fileName)

		cached, err := f.breaker.Execute(func() (segment.Cached, error) {
			return f.attempt(ctx, key, typ, fileName, name)
		})
		switch {
		case err == nil:
			f.count("hit")
			if f.registrar != nil {
				f.registrar.RegisterFetched(ctx, cached)
			}
			return cached, nil
		case errors.Is(err, ErrObjectNotFound):
			continue
		default:
			f.count("error")
			logging.Warn().Err(err).Str("object", name).Str("segment", key.String()).Msg("origin fetch failed")
			return segment.Cached{}, fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	f.count("miss")
	return segment.Cached{}, ErrNotFound
}

func (f *Fetcher) attempt(ctx context.Context, key segment.Key, typ segment.Type, fileName, name string) (segment.Cached, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	body, err := f.store.Get(ctx, name)
	if err != nil {
		return segment.Cached{}, err
	}
	defer body.Close()
	return f.writer.Write(key, fileName, typ, body)
}

func (f *Fetcher) count(result string) {
	if f != nil && f.metrics != nil {
		f.metrics.OriginFetches.WithLabelValues(result).Inc()
	}
}
