package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/citation"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testNetwork() *network.Graph {
	corpus := common.NewCorpus([]common.Entity{
		{ID: "e1", Level: common.LevelSection, Number: "1500.1", Text: "See § 1500.2."},
		{ID: "e2", Level: common.LevelSection, Number: "1500.2"},
	})
	cit := citation.NewBuilder(citation.NewBuilderParams{}).Build(corpus)
	return network.Build(cit, nil, map[string]float64{"1500.1": 0.4, "1500.2": 0.6}, network.BuildParams{Threshold: 0.75})
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, *NetworkCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewNetworkCache(client, time.Minute)
}

func countingBuild(calls *atomic.Int32) BuildFunc {
	return func(ctx context.Context) (*network.Graph, error) {
		calls.Add(1)
		return testNetwork(), nil
	}
}

func TestGetOrBuild_CachesByParams(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32
	build := countingBuild(&calls)

	g, err := c.GetOrBuild(ctx, Params{Threshold: 0.75}, build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(g.Nodes))
	}
	if !mr.Exists(cacheKey(0, Params{Threshold: 0.75})) {
		t.Fatal("network was not stored")
	}

	cached, err := c.GetOrBuild(ctx, Params{Threshold: 0.75}, build)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("build calls = %d, want 1", calls.Load())
	}
	if path := cached.ShortestPath("1500.1", "1500.2"); len(path) != 2 {
		t.Fatalf("decoded graph lost its index, path = %v", path)
	}

	if _, err := c.GetOrBuild(ctx, Params{Threshold: 0.8, MaxSections: 10}, build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("build calls = %d, want 2 for new params", calls.Load())
	}
}

func TestInvalidate_ForcesRebuild(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32
	build := countingBuild(&calls)

	if _, err := c.GetOrBuild(ctx, Params{Threshold: 0.75}, build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c.GetOrBuild(ctx, Params{Threshold: 0.75}, build); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("build calls = %d, want 2", calls.Load())
	}
}

func TestGetOrBuild_BuildErrorNotCached(t *testing.T) {
	mr, c := newTestCache(t)
	boom := errors.New("corpus unavailable")
	_, err := c.GetOrBuild(context.Background(), Params{Threshold: 0.75}, func(ctx context.Context) (*network.Graph, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected build error, got %v", err)
	}
	if mr.Exists(cacheKey(0, Params{Threshold: 0.75})) {
		t.Fatal("failed build must not be cached")
	}
}

func TestGetOrBuild_RedisDown(t *testing.T) {
	mr, c := newTestCache(t)
	mr.Close()
	var calls atomic.Int32
	g, err := c.GetOrBuild(context.Background(), Params{Threshold: 0.75}, countingBuild(&calls))
	if err != nil || g == nil {
		t.Fatalf("expected fallback build, got %v, %v", g, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("build calls = %d", calls.Load())
	}
}

func TestGetOrBuild_NilClient(t *testing.T) {
	c := NewNetworkCache(nil, 0)
	var calls atomic.Int32
	for range 2 {
		if _, err := c.GetOrBuild(context.Background(), Params{}, countingBuild(&calls)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("build calls = %d, want 2 without redis", calls.Load())
	}
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate without redis: %v", err)
	}
}

func TestGetOrBuild_SharesConcurrentBuilds(t *testing.T) {
	_, c := newTestCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	build := func(ctx context.Context) (*network.Graph, error) {
		calls.Add(1)
		<-release
		return testNetwork(), nil
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrBuild(context.Background(), Params{Threshold: 0.9}, build); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("build calls = %d, want 1", n)
	}
}
