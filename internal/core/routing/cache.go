package routing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

// resultCache is a bounded TTL map. Over capacity it first drops expired
// entries, then the entry with the lowest hitCount*hitBonus - age.
type resultCache struct {
	mu        sync.Mutex
	entries   map[string]*domain.CachedResult
	maxSize   int
	hitBonus  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

func newResultCache(maxSize int, hitBonus time.Duration, now func() time.Time, logger *slog.Logger) *resultCache {
	return &resultCache{
		entries:  make(map[string]*domain.CachedResult, maxSize),
		maxSize:  maxSize,
		hitBonus: hitBonus,
		now:      now,
		logger:   logger,
	}
}

// valid reports whether key holds a live entry without counting a hit.
func (c *resultCache) valid(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(key, c.now())
	return ok
}

func (c *resultCache) get(key string) (domain.CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookupLocked(key, c.now())
	if !ok {
		c.misses++
		return domain.CachedResult{}, false
	}
	entry.HitCount++
	c.hits++
	return cloneEntry(entry), true
}

// lookupLocked drops expired or inconsistent entries so they read as misses.
func (c *resultCache) lookupLocked(key string, now time.Time) (*domain.CachedResult, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry == nil || entry.Key != key {
		delete(c.entries, key)
		return nil, false
	}
	if entry.ExpiredAt(now) {
		delete(c.entries, key)
		c.expired++
		return nil, false
	}
	return entry, true
}

func (c *resultCache) put(entry domain.CachedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := cloneEntry(&entry)
	c.entries[entry.Key] = &stored
	if len(c.entries) <= c.maxSize {
		return
	}

	now := c.now()
	c.pruneLocked(now)
	for len(c.entries) > c.maxSize {
		c.evictLocked(now, entry.Key)
	}
}

func (c *resultCache) evictLocked(now time.Time, protect string) {
	var (
		victim    string
		bestScore time.Duration
		bestAt    time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if key == protect && len(c.entries) > 1 {
			continue
		}
		score := time.Duration(entry.HitCount)*c.hitBonus - now.Sub(entry.CachedAt)
		if !found || score < bestScore ||
			(score == bestScore && entry.CachedAt.Before(bestAt)) ||
			(score == bestScore && entry.CachedAt.Equal(bestAt) && key < victim) {
			victim, bestScore, bestAt, found = key, score, entry.CachedAt, true
		}
	}
	if !found {
		return
	}
	delete(c.entries, victim)
	c.evictions++
	c.logger.Debug("cache_evicted", "key", victim, "entries", len(c.entries))
}

func (c *resultCache) pruneLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry == nil || entry.ExpiredAt(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired += int64(removed)
	return removed
}

func (c *resultCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(c.now())
}

func (c *resultCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *resultCache) removeScope(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry == nil || entry.Scope == scope {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*domain.CachedResult, c.maxSize)
}

func (c *resultCache) stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

func cloneEntry(entry *domain.CachedResult) domain.CachedResult {
	out := *entry
	out.Results = append([]domain.RetrievalResult(nil), entry.Results...)
	for i := range out.Results {
		if meta := out.Results[i].Metadata.Expansion; meta != nil {
			copied := *meta
			out.Results[i].Metadata.Expansion = &copied
		}
	}
	out.Confidence.Reasoning = append([]string(nil), entry.Confidence.Reasoning...)
	return out
}
