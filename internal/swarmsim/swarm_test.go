package swarmsim

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalash/swarm-cdn/internal/cache"
	seederclient "github.com/kalash/swarm-cdn/internal/peer/seeder"
	"github.com/kalash/swarm-cdn/internal/peerstats"
	"github.com/kalash/swarm-cdn/internal/seeder"
	"github.com/kalash/swarm-cdn/internal/segment"
	"github.com/kalash/swarm-cdn/internal/signalling"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

const prefix = "/api/v1/streams/movies"

type env struct {
	signalURL string
	seeder    *seederclient.Client
	seederURL string
}

func newEnv(t *testing.T, segments int) env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	m := metrics.NewMetrics()
	sessions := signalling.NewSessions()
	svc := signalling.NewService(rdb, peerstats.NewService(rdb, peerstats.Config{}), signalling.Config{})
	sh := signalling.NewHandler(svc, sessions, signalling.NewRelay(rdb, sessions, "sim"), m, signalling.HandlerConfig{})
	signalSrv := httptest.NewServer(sh)
	t.Cleanup(func() {
		sh.Close()
		signalSrv.Close()
	})

	root := t.TempDir()
	dir := filepath.Join(root, "m1", "720p")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, id := range SegmentIDs(segments) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id), []byte("data:"+id), 0o644))
	}
	r := chi.NewRouter()
	r.Mount(prefix, seeder.NewHandler(cache.NewLocator(root), nil, m).Routes())
	seederSrv := httptest.NewServer(r)
	t.Cleanup(seederSrv.Close)

	return env{
		signalURL: "ws" + strings.TrimPrefix(signalSrv.URL, "http"),
		seeder:    seederclient.NewClient(seederSrv.URL+prefix, nil),
		seederURL: seederSrv.URL + prefix,
	}
}

func (e env) join(t *testing.T, swarm *Swarm, id string, capacity int) *Viewer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := Join(ctx, swarm, e.seeder, id, ViewerConfig{SignalURL: e.signalURL, MovieID: "m1", CacheCapacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { v.Leave() })
	return v
}

func TestSegmentIDs(t *testing.T) {
	assert.Equal(t, []string{"init.mp4", "seg_0001.m4s", "seg_0002.m4s"}, SegmentIDs(2))
}

func TestSecondViewerPullsFromFirst(t *testing.T) {
	e := newEnv(t, 3)
	swarm := NewSwarm()
	ctx := context.Background()

	first := e.join(t, swarm, "first", 8)
	stats, err := first.Watch(ctx, "720p", SegmentIDs(3))
	require.NoError(t, err)
	assert.Equal(t, Stats{Origin: 4}, stats)

	second := e.join(t, swarm, "second", 8)
	stats, err = second.Watch(ctx, "720p", SegmentIDs(3))
	require.NoError(t, err)
	assert.Equal(t, Stats{Peer: 4}, stats)
	assert.True(t, second.Holds(segment.Key{Movie: "m1", Quality: "720p", Segment: "seg_0003.m4s"}))
}

func TestMissingSegmentCounted(t *testing.T) {
	e := newEnv(t, 1)
	v := e.join(t, NewSwarm(), "solo", 8)

	stats, err := v.Watch(context.Background(), "720p", []string{"seg_0001.m4s", "seg_0009.m4s"})
	require.NoError(t, err)
	assert.Equal(t, Stats{Origin: 1, Missed: 1}, stats)
}

func TestEvictedSegmentIsWithdrawn(t *testing.T) {
	e := newEnv(t, 2)
	swarm := NewSwarm()
	ctx := context.Background()

	small := e.join(t, swarm, "small", 1)
	_, err := small.Watch(ctx, "720p", []string{"seg_0001.m4s", "seg_0002.m4s"})
	require.NoError(t, err)

	late := e.join(t, swarm, "late", 8)
	stats, err := late.Watch(ctx, "720p", []string{"seg_0001.m4s", "seg_0002.m4s"})
	require.NoError(t, err)
	assert.Equal(t, Stats{Peer: 1, Origin: 1}, stats)
}

func TestRun(t *testing.T) {
	e := newEnv(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total, err := Run(ctx, Config{
		SignalURL:     e.signalURL,
		SeederURL:     e.seederURL,
		MovieID:       "m1",
		QualityID:     "720p",
		Viewers:       3,
		Segments:      2,
		CacheCapacity: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, total.Peer+total.Origin)
	assert.Zero(t, total.Missed)
}
