package routing

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

type Config struct {
	Thresholds       domain.LevelThresholds `yaml:"thresholds"`
	ExpansionEnabled bool                   `yaml:"expansion_enabled"`
	StandardLimit    int                    `yaml:"standard_limit"`
	AggressiveLimit  int                    `yaml:"aggressive_limit"`
	HighTTL          time.Duration          `yaml:"high_ttl"`
	MediumTTL        time.Duration          `yaml:"medium_ttl"`
	LowTTL           time.Duration          `yaml:"low_ttl"`
	MaxCacheEntries  int                    `yaml:"max_cache_entries"`
	HitBonus         time.Duration          `yaml:"hit_bonus"`
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       domain.DefaultLevelThresholds(),
		ExpansionEnabled: true,
		StandardLimit:    10,
		AggressiveLimit:  25,
		HighTTL:          24 * time.Hour,
		MediumTTL:        12 * time.Hour,
		LowTTL:           6 * time.Hour,
		MaxCacheEntries:  1000,
		HitBonus:         10 * time.Minute,
	}
}

func (c Config) Validate() error {
	const component = "routing"
	if c.Thresholds.High < 0 || c.Thresholds.High > 100 {
		return domain.ConfigError(component, "thresholds.high", "must be within [0,100], got %v", c.Thresholds.High)
	}
	if c.Thresholds.Medium < 0 || c.Thresholds.Medium > c.Thresholds.High {
		return domain.ConfigError(component, "thresholds.medium", "must be within [0,high], got %v", c.Thresholds.Medium)
	}
	if c.StandardLimit <= 0 {
		return domain.ConfigError(component, "standard_limit", "must be positive, got %d", c.StandardLimit)
	}
	if c.AggressiveLimit < c.StandardLimit {
		return domain.ConfigError(component, "aggressive_limit", "must be >= standard_limit, got %d", c.AggressiveLimit)
	}
	if c.HighTTL <= 0 || c.MediumTTL <= 0 || c.LowTTL <= 0 {
		return domain.ConfigError(component, "ttl", "must be positive")
	}
	if c.MaxCacheEntries <= 0 {
		return domain.ConfigError(component, "max_cache_entries", "must be positive, got %d", c.MaxCacheEntries)
	}
	if c.HitBonus < 0 {
		return domain.ConfigError(component, "hit_bonus", "must be non-negative")
	}
	return nil
}

type Options struct {
	Clock  func() time.Time
	Logger *slog.Logger
}

// Router picks the retrieval action for a scored query and owns the result
// cache. No other component touches the cache directly.
type Router struct {
	cfg    Config
	cache  *resultCache
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, opts Options) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		cache:  newResultCache(cfg.MaxCacheEntries, cfg.HitBonus, now, logger),
		now:    now,
		logger: logger,
	}, nil
}

func (r *Router) Route(query string, confidence domain.ConfidenceScore, courseID string) domain.RoutingDecision {
	key := textproc.CacheKey(query, courseID)
	score := confidence.Score
	th := r.cfg.Thresholds

	decision := domain.RoutingDecision{
		CacheKey:   key,
		CacheTTL:   r.ttlFor(score),
		Confidence: confidence,
		Timestamp:  r.now().UTC(),
	}

	switch {
	case score >= th.High && r.cache.valid(key):
		decision.Action = domain.ActionUseCache
		decision.Reasoning = fmt.Sprintf("high confidence (%.2f) with a valid cached result", score)
	case score >= th.High:
		decision.Action = domain.ActionRetrieveStandard
		decision.Reasoning = fmt.Sprintf("high confidence (%.2f), no cached result", score)
	case score >= th.Medium && r.cfg.ExpansionEnabled:
		decision.Action = domain.ActionRetrieveExpanded
		decision.Reasoning = fmt.Sprintf("medium confidence (%.2f), expanding query", score)
	case score >= th.Medium:
		decision.Action = domain.ActionRetrieveStandard
		decision.Reasoning = fmt.Sprintf("medium confidence (%.2f), expansion disabled", score)
	case r.cfg.ExpansionEnabled:
		decision.Action = domain.ActionRetrieveExpanded
		decision.Reasoning = fmt.Sprintf("low confidence (%.2f), expanding query", score)
	default:
		decision.Action = domain.ActionRetrieveAggressive
		decision.Reasoning = fmt.Sprintf("low confidence (%.2f), widening retrieval", score)
	}

	switch decision.Action {
	case domain.ActionUseCache:
		decision.ShouldRetrieve = false
	case domain.ActionRetrieveAggressive:
		decision.ShouldRetrieve = true
		decision.RetrievalLimit = r.cfg.AggressiveLimit
	case domain.ActionRetrieveExpanded:
		decision.ShouldRetrieve = true
		decision.ShouldExpandQuery = true
		decision.RetrievalLimit = r.cfg.StandardLimit
	default:
		decision.ShouldRetrieve = true
		decision.RetrievalLimit = r.cfg.StandardLimit
	}
	return decision
}

func (r *Router) ttlFor(score float64) time.Duration {
	switch domain.LevelFor(score, r.cfg.Thresholds) {
	case domain.LevelHigh:
		return r.cfg.HighTTL
	case domain.LevelMedium:
		return r.cfg.MediumTTL
	default:
		return r.cfg.LowTTL
	}
}

// CacheResult stores results under the query/course key. Concurrent writers
// of the same key overwrite each other.
func (r *Router) CacheResult(query, courseID string, results []domain.RetrievalResult, contextText string, confidence domain.ConfidenceScore) {
	r.cache.put(domain.CachedResult{
		Key:             textproc.CacheKey(query, courseID),
		NormalizedQuery: textproc.Normalize(query),
		Scope:           domain.SearchFilter{CourseID: courseID}.Scope(),
		Results:         results,
		ContextText:     contextText,
		Confidence:      confidence,
		CachedAt:        r.now(),
		TTL:             r.ttlFor(confidence.Score),
	})
}

func (r *Router) GetCachedResult(query, courseID string) (domain.CachedResult, bool) {
	return r.cache.get(textproc.CacheKey(query, courseID))
}

func (r *Router) InvalidateCache(query, courseID string) {
	r.cache.remove(textproc.CacheKey(query, courseID))
}

// InvalidateScope drops every entry cached for courseID and returns how many
// were removed.
func (r *Router) InvalidateScope(courseID string) int {
	removed := r.cache.removeScope(domain.SearchFilter{CourseID: courseID}.Scope())
	if removed > 0 {
		r.logger.Info("cache_scope_invalidated", "course_id", courseID, "removed", removed)
	}
	return removed
}

func (r *Router) ClearCache() {
	r.cache.clear()
}

func (r *Router) PruneExpired() int {
	return r.cache.prune()
}

func (r *Router) Stats() domain.CacheStats {
	return r.cache.stats()
}
