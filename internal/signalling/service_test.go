package signalling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalash/swarm-cdn/internal/keys"
	"github.com/kalash/swarm-cdn/internal/peerstats"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	stats := peerstats.NewService(rdb, peerstats.Config{TTL: 10 * time.Minute, LastSeenTTL: time.Minute})
	return NewService(rdb, stats, Config{SegmentTTL: 90 * time.Second}), mr, rdb
}

func session(t *testing.T, client, movie string) Session {
	t.Helper()
	s, err := NewSession(client, movie)
	require.NoError(t, err)
	return s
}

func peerIDs(peers []PeerInfo) []string {
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	return ids
}

func TestNewSessionRequiresIDs(t *testing.T) {
	_, err := NewSession("", "m1")
	assert.ErrorIs(t, err, ErrMissingSession)
	_, err = NewSession("p1", "")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestRegisterClientReturnsSwarm(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()

	peers, err := svc.RegisterClient(ctx, session(t, "a", "m1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, peers)

	peers, err = svc.RegisterClient(ctx, session(t, "b", "m1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, peers)

	assert.Equal(t, 90*time.Second, mr.TTL(keys.MoviePeers("m1")))
	assert.True(t, mr.Exists(keys.PeerLastSeen("b")))
}

func TestWhoHasEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	peers, err := svc.WhoHas(context.Background(), "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.NotNil(t, peers)
	assert.Empty(t, peers)
}

func TestReportThenRemove(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()
	a := session(t, "a", "m1")

	require.NoError(t, svc.ReportSegment(ctx, a, Report{QualityID: "720p", SegmentID: "seg_0001.m4s", Source: "peer", UploadSpeed: 3.2, LatencyMs: 25}))

	peers, err := svc.WhoHas(ctx, "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, peerIDs(peers))
	assert.Equal(t, 1.0, peers[0].Metrics.SuccessRate)
	assert.Equal(t, 25.0, peers[0].Metrics.LatencyMs)
	assert.Equal(t, 3.2, peers[0].Metrics.UploadSpeed)

	other, err := svc.WhoHas(ctx, "m1", "480p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.Empty(t, other)

	ok, err := mr.SIsMember(keys.MoviePeers("m1"), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, mr.TTL(keys.SegmentOwners("m1", "720p", "seg_0001.m4s")))

	require.NoError(t, svc.RemoveSegment(ctx, a, "m1", "720p", "seg_0001.m4s"))
	peers, err = svc.WhoHas(ctx, "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.Empty(t, peers)

	require.NoError(t, svc.RemoveSegment(ctx, a, "m1", "720p", "seg_0001.m4s"))
}

func TestReportRejectsForeignMovie(t *testing.T) {
	svc, mr, _ := newTestService(t)
	err := svc.ReportSegment(context.Background(), session(t, "a", "m1"), Report{MovieID: "m2", QualityID: "720p", SegmentID: "seg_0001.m4s"})
	assert.ErrorIs(t, err, ErrMovieMismatch)
	assert.False(t, mr.Exists(keys.SegmentOwners("m2", "720p", "seg_0001.m4s")))
}

func TestWhoHasRanking(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	report := func(id, source string, latency, speed float64) {
		require.NoError(t, svc.ReportSegment(ctx, session(t, id, "m1"), Report{
			QualityID: "720p", SegmentID: "seg_0001.m4s", Source: source, LatencyMs: latency, UploadSpeed: speed,
		}))
	}
	report("origin-only", "origin", 5, 10)
	report("slow", "peer", 80, 1)
	report("fast", "peer", 20, 1)
	report("fast-wide", "peer", 20, 4)
	report("fast-wide-b", "peer", 20, 4)

	peers, err := svc.WhoHas(ctx, "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast-wide", "fast-wide-b", "fast", "slow", "origin-only"}, peerIDs(peers))
}

func TestHandleDisconnectCleansMovie(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()
	a := session(t, "a", "m1")
	b := session(t, "b", "m1")

	_, err := svc.RegisterClient(ctx, a)
	require.NoError(t, err)
	_, err = svc.RegisterClient(ctx, b)
	require.NoError(t, err)
	for _, seg := range []struct{ quality, id string }{
		{"720p", "init.mp4"},
		{"720p", "seg_0001.m4s"},
		{"480p", "seg_0001.m4s"},
		{"", "master.m3u8"},
	} {
		require.NoError(t, svc.ReportSegment(ctx, a, Report{QualityID: seg.quality, SegmentID: seg.id, Source: "peer"}))
		require.NoError(t, svc.ReportSegment(ctx, b, Report{QualityID: seg.quality, SegmentID: seg.id, Source: "peer"}))
	}
	other := session(t, "a", "m2")
	require.NoError(t, svc.ReportSegment(ctx, other, Report{QualityID: "720p", SegmentID: "seg_0001.m4s", Source: "peer"}))

	svc.HandleDisconnect(ctx, "a", "m1")

	ok, err := mr.SIsMember(keys.MoviePeers("m1"), "a")
	require.NoError(t, err)
	assert.False(t, ok)
	checked := 0
	for _, key := range mr.Keys() {
		if !strings.HasPrefix(key, "movie:m1:") || !strings.HasSuffix(key, ":owners") {
			continue
		}
		checked++
		isA, err := mr.SIsMember(key, "a")
		require.NoError(t, err)
		assert.False(t, isA, key)
		isB, err := mr.SIsMember(key, "b")
		require.NoError(t, err)
		assert.True(t, isB, key)
	}
	assert.Equal(t, 4, checked)
	assert.False(t, mr.Exists(keys.PeerMetrics("a")))
	assert.False(t, mr.Exists(keys.PeerLastSeen("a")))

	stillOwner, err := mr.SIsMember(keys.SegmentOwners("m2", "720p", "seg_0001.m4s"), "a")
	require.NoError(t, err)
	assert.True(t, stillOwner)
}

func TestLeaveMovieKeepsMetrics(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()
	a := session(t, "a", "m1")

	require.NoError(t, svc.ReportSegment(ctx, a, Report{QualityID: "720p", SegmentID: "seg_0001.m4s", Source: "peer", LatencyMs: 20}))
	svc.LeaveMovie(ctx, "a", "m1")

	ok, err := mr.SIsMember(keys.MoviePeers("m1"), "a")
	require.NoError(t, err)
	assert.False(t, ok)
	peers, err := svc.WhoHas(ctx, "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.Empty(t, peers)
	assert.True(t, mr.Exists(keys.PeerMetrics("a")))
}

func TestHandleDisconnectToleratesStoreFailure(t *testing.T) {
	svc, mr, _ := newTestService(t)
	mr.Close()
	assert.NotPanics(t, func() {
		svc.HandleDisconnect(context.Background(), "a", "m1")
	})
}

func TestConcurrentReports(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sess := session(t, fmt.Sprintf("peer-%d", i), "m1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.ReportSegment(ctx, sess, Report{QualityID: "720p", SegmentID: "seg_0001.m4s", Source: "peer"}))
		}()
	}
	wg.Wait()

	peers, err := svc.WhoHas(ctx, "m1", "720p", "seg_0001.m4s")
	require.NoError(t, err)
	assert.Len(t, peers, 8)
}
