package routing

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRouter(t *testing.T, cfg Config, clock *fakeClock) *Router {
	t.Helper()
	r, err := New(cfg, Options{
		Clock:  clock.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return r
}

func scoreOf(v float64) domain.ConfidenceScore {
	return domain.ConfidenceScore{
		Score:     v,
		Level:     domain.LevelFor(v, domain.DefaultLevelThresholds()),
		Reasoning: []string{fmt.Sprintf("score %.2f", v)},
	}
}

func sampleResults() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{DocumentID: "doc-1", Score: 0.9, Source: domain.SourceHybrid},
		{DocumentID: "doc-2", Score: 0.7, Source: domain.SourceHybrid},
	}
}

func TestRouteDecisionTable(t *testing.T) {
	cases := []struct {
		name      string
		score     float64
		expansion bool
		want      domain.RoutingAction
		limit     int
		ttl       time.Duration
	}{
		{"high without cache", 92, true, domain.ActionRetrieveStandard, 10, 24 * time.Hour},
		{"medium with expansion", 65, true, domain.ActionRetrieveExpanded, 10, 12 * time.Hour},
		{"medium without expansion", 65, false, domain.ActionRetrieveStandard, 10, 12 * time.Hour},
		{"low with expansion", 20, true, domain.ActionRetrieveExpanded, 10, 6 * time.Hour},
		{"low without expansion", 20, false, domain.ActionRetrieveAggressive, 25, 6 * time.Hour},
		{"exactly high", 80, true, domain.ActionRetrieveStandard, 10, 24 * time.Hour},
		{"exactly medium", 50, false, domain.ActionRetrieveStandard, 10, 12 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ExpansionEnabled = tc.expansion
			r := newTestRouter(t, cfg, newFakeClock())

			d := r.Route("what is a binary tree", scoreOf(tc.score), "cs101")
			assert.Equal(t, tc.want, d.Action)
			assert.True(t, d.ShouldRetrieve)
			assert.Equal(t, tc.want == domain.ActionRetrieveExpanded, d.ShouldExpandQuery)
			assert.Equal(t, tc.limit, d.RetrievalLimit)
			assert.Equal(t, tc.ttl, d.CacheTTL)
			assert.NotEmpty(t, d.Reasoning)
			assert.Len(t, d.CacheKey, 32)
		})
	}
}

func TestRouteUsesCacheOnlyForHighConfidence(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(t, DefaultConfig(), clock)
	r.CacheResult("What is a binary tree?", "cs101", sampleResults(), "ctx", scoreOf(90))

	d := r.Route("what is a  binary tree", scoreOf(90), "cs101")
	assert.Equal(t, domain.ActionUseCache, d.Action)
	assert.False(t, d.ShouldRetrieve)

	d = r.Route("what is a binary tree", scoreOf(60), "cs101")
	assert.Equal(t, domain.ActionRetrieveExpanded, d.Action)

	d = r.Route("what is a binary tree", scoreOf(90), "cs202")
	assert.Equal(t, domain.ActionRetrieveStandard, d.Action)
}

func TestRouteInvariantUseCacheIffNoRetrieve(t *testing.T) {
	clock := newFakeClock()
	for _, expansion := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.ExpansionEnabled = expansion
		r := newTestRouter(t, cfg, clock)
		r.CacheResult("cached query", "", sampleResults(), "", scoreOf(95))

		for score := 0.0; score <= 100; score += 2.5 {
			for _, q := range []string{"cached query", "fresh query"} {
				d := r.Route(q, scoreOf(score), "")
				assert.Equal(t, d.Action == domain.ActionUseCache, !d.ShouldRetrieve, "score %v query %q", score, q)
			}
		}
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), newFakeClock())
	a := r.Route("explain recursion", scoreOf(55), "cs101")
	b := r.Route("explain recursion", scoreOf(55), "cs101")
	assert.Equal(t, a, b)
}

func TestCachedResultExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(t, DefaultConfig(), clock)
	r.CacheResult("binary tree traversal", "cs101", sampleResults(), "ctx", scoreOf(90))

	clock.Advance(23*time.Hour + 59*time.Minute)
	got, ok := r.GetCachedResult("binary tree traversal", "cs101")
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, got.TTL)
	assert.Equal(t, 1, got.HitCount)
	assert.Less(t, clock.Now().Sub(got.CachedAt), got.TTL)

	clock.Advance(time.Hour + time.Minute)
	_, ok = r.GetCachedResult("binary tree traversal", "cs101")
	assert.False(t, ok)

	d := r.Route("binary tree traversal", scoreOf(90), "cs101")
	assert.Equal(t, domain.ActionRetrieveStandard, d.Action)
}

func TestCachedResultTTLByConfidence(t *testing.T) {
	cases := map[float64]time.Duration{95: 24 * time.Hour, 60: 12 * time.Hour, 10: 6 * time.Hour}
	for score, ttl := range cases {
		clock := newFakeClock()
		r := newTestRouter(t, DefaultConfig(), clock)
		r.CacheResult("query", "", sampleResults(), "", scoreOf(score))

		clock.Advance(ttl - time.Second)
		_, ok := r.GetCachedResult("query", "")
		assert.True(t, ok, "score %v before ttl", score)

		clock.Advance(time.Second)
		_, ok = r.GetCachedResult("query", "")
		assert.False(t, ok, "score %v at ttl", score)
	}
}

func TestCachedResultIsCopied(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), newFakeClock())
	results := sampleResults()
	results[0].Metadata = domain.Metadata{
		QueryExpanded: true,
		Expansion:     &domain.ExpansionMetadata{Expanded: true, Reason: "short query"},
	}
	r.CacheResult("copy me", "", results, "", scoreOf(90))
	results[0].DocumentID = "mutated"
	results[0].Metadata.Expansion.Reason = "mutated"

	got, ok := r.GetCachedResult("copy me", "")
	require.True(t, ok)
	assert.Equal(t, "doc-1", got.Results[0].DocumentID)
	require.NotNil(t, got.Results[0].Metadata.Expansion)
	assert.Equal(t, "short query", got.Results[0].Metadata.Expansion.Reason)
	got.Results[1].DocumentID = "mutated"
	got.Results[0].Metadata.Expansion.CacheHit = true

	again, ok := r.GetCachedResult("copy me", "")
	require.True(t, ok)
	assert.Equal(t, "doc-2", again.Results[1].DocumentID)
	assert.False(t, again.Results[0].Metadata.Expansion.CacheHit)
	assert.Equal(t, 2, again.HitCount)
}

func TestInvalidateAndClear(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), newFakeClock())
	r.CacheResult("a", "cs101", sampleResults(), "", scoreOf(90))
	r.CacheResult("b", "cs101", sampleResults(), "", scoreOf(90))
	r.CacheResult("c", "", sampleResults(), "", scoreOf(90))

	r.InvalidateCache("A!", "cs101")
	_, ok := r.GetCachedResult("a", "cs101")
	assert.False(t, ok)

	assert.Equal(t, 1, r.InvalidateScope("cs101"))
	assert.Equal(t, 1, r.Stats().Entries)

	r.ClearCache()
	assert.Equal(t, 0, r.Stats().Entries)
}

func TestEvictionPrefersFrequentlyHitRecentEntries(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.MaxCacheEntries = 2
	r := newTestRouter(t, cfg, clock)

	r.CacheResult("old popular", "", sampleResults(), "", scoreOf(90))
	for i := 0; i < 3; i++ {
		_, ok := r.GetCachedResult("old popular", "")
		require.True(t, ok)
	}
	clock.Advance(time.Minute)
	r.CacheResult("cold", "", sampleResults(), "", scoreOf(90))
	clock.Advance(time.Minute)
	r.CacheResult("newest", "", sampleResults(), "", scoreOf(90))

	_, ok := r.GetCachedResult("old popular", "")
	assert.True(t, ok)
	_, ok = r.GetCachedResult("newest", "")
	assert.True(t, ok)
	_, ok = r.GetCachedResult("cold", "")
	assert.False(t, ok)
	assert.Equal(t, int64(1), r.Stats().Evictions)
}

func TestEvictionPurgesExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.MaxCacheEntries = 2
	r := newTestRouter(t, cfg, clock)

	r.CacheResult("low", "", sampleResults(), "", scoreOf(10))
	r.CacheResult("high", "", sampleResults(), "", scoreOf(95))
	clock.Advance(7 * time.Hour)
	r.CacheResult("another", "", sampleResults(), "", scoreOf(95))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(0), stats.Evictions)
	assert.Equal(t, int64(1), stats.Expired)
}

func TestPruneExpired(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(t, DefaultConfig(), clock)
	r.CacheResult("low", "", sampleResults(), "", scoreOf(10))
	r.CacheResult("high", "", sampleResults(), "", scoreOf(95))

	clock.Advance(12 * time.Hour)
	assert.Equal(t, 1, r.PruneExpired())
	assert.Equal(t, 1, r.Stats().Entries)
}

func TestCacheConcurrentAccess(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("query %d", i%4)
			r.CacheResult(q, "", sampleResults(), "", scoreOf(90))
			r.GetCachedResult(q, "")
			r.Route(q, scoreOf(90), "")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, r.Stats().Entries)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold above 100":       func(c *Config) { c.Thresholds.High = 101 },
		"medium above high":         func(c *Config) { c.Thresholds.Medium = 90 },
		"zero standard limit":       func(c *Config) { c.StandardLimit = 0 },
		"aggressive below standard": func(c *Config) { c.AggressiveLimit = 5 },
		"zero ttl":                  func(c *Config) { c.LowTTL = 0 },
		"zero capacity":             func(c *Config) { c.MaxCacheEntries = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, Options{})
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}
