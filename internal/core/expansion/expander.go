package expansion

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

// StatsSource supplies corpus-wide document frequencies.
type StatsSource interface {
	CorpusStats(ctx context.Context, filter domain.SearchFilter) (domain.CorpusStats, error)
}

type Options struct {
	Clock  func() time.Time
	Logger *slog.Logger
}

// Expander runs pseudo-relevance feedback over an initial result list.
type Expander struct {
	cfg          Config
	extractor    *Extractor
	selector     *Selector
	reformulator *Reformulator
	stats        StatsSource
	cache        *expirable.LRU[string, domain.ExpandedQuery]
	group        singleflight.Group
	now          func() time.Time
	logger       *slog.Logger

	attempts  atomic.Int64
	expanded  atomic.Int64
	skipped   atomic.Int64
	cacheHits atomic.Int64
}

func New(cfg Config, stats StatsSource, opts Options) (*Expander, error) {
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
	return &Expander{
		cfg:          cfg,
		extractor:    NewExtractor(cfg),
		selector:     NewSelector(cfg),
		reformulator: NewReformulator(cfg),
		stats:        stats,
		cache:        expirable.NewLRU[string, domain.ExpandedQuery](cfg.CacheSize, nil, cfg.CacheTTL),
		now:          now,
		logger:       logger,
	}, nil
}

// PseudoRelevantDocs is the K used for the first retrieval pass.
func (e *Expander) PseudoRelevantDocs() int {
	return e.cfg.PseudoRelevantDocs
}

type assessment struct {
	expand     bool
	reason     string
	top        []domain.RetrievalResult
	confidence float64
	coverage   float64
}

// ShouldExpand reports whether expansion is worthwhile and why.
func (e *Expander) ShouldExpand(query string, initial []domain.RetrievalResult) (bool, string) {
	a := e.assess(query, initial)
	return a.expand, a.reason
}

func (e *Expander) assess(query string, initial []domain.RetrievalResult) assessment {
	a := assessment{top: topK(initial, e.cfg.PseudoRelevantDocs)}
	if len(a.top) == 0 {
		a.reason = "no pseudo-relevant documents"
		return a
	}

	sum := 0.0
	docTokens := make(map[string]struct{}, 128)
	for _, r := range a.top {
		sum += r.Score
		for _, token := range textproc.Tokenize(r.Content) {
			docTokens[token] = struct{}{}
		}
	}
	a.confidence = sum / float64(len(a.top))
	a.coverage = textproc.Overlap(textproc.TokenSet(textproc.ContentTokens(query)), docTokens)

	switch {
	case !e.cfg.Enabled:
		a.reason = "expansion disabled"
	case len(textproc.Tokenize(query)) <= e.cfg.ShortQueryTokens:
		a.expand, a.reason = true, "short query"
	case a.confidence < e.cfg.MinInitialConfidence:
		a.expand, a.reason = true, "low initial confidence"
	case a.coverage < e.cfg.MinCoverage:
		a.expand, a.reason = true, "low coverage of query terms"
	default:
		a.reason = "initial results sufficient"
	}
	return a
}

// Expand never fails. Missing corpus statistics fall back to the
// pseudo-relevant set, and any path that selects no terms returns the
// original query unchanged.
func (e *Expander) Expand(ctx context.Context, query string, initial []domain.RetrievalResult, filter domain.SearchFilter) domain.ExpandedQuery {
	e.attempts.Add(1)
	query = strings.TrimSpace(query)
	key := textproc.CacheKey(query, filter.Scope())
	if cached, ok := e.cache.Get(key); ok {
		e.cacheHits.Add(1)
		out := e.forQuery(cached, query)
		out.Metadata.CacheHit = true
		return out
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		result := e.expand(ctx, query, initial, filter)
		e.cache.Add(key, result)
		return result, nil
	})
	result := e.forQuery(v.(domain.ExpandedQuery), query)
	if result.Metadata.Expanded {
		e.expanded.Add(1)
	} else {
		e.skipped.Add(1)
	}
	return result
}

func (e *Expander) expand(ctx context.Context, query string, initial []domain.RetrievalResult, filter domain.SearchFilter) domain.ExpandedQuery {
	start := e.now()
	a := e.assess(query, initial)
	meta := domain.ExpansionMetadata{
		InitialConfidence: a.confidence,
		Coverage:          a.coverage,
		PseudoRelevant:    len(a.top),
		Reason:            a.reason,
	}
	if !a.expand {
		meta.Latency = e.now().Sub(start)
		e.logger.Debug("expansion_skipped", "reason", a.reason, "pseudo_relevant_docs", len(a.top))
		return domain.Unexpanded(query, meta)
	}

	var stats domain.CorpusStats
	if e.stats != nil {
		s, err := e.stats.CorpusStats(ctx, filter)
		if err != nil {
			e.logger.Warn("corpus_stats_unavailable", "scope", filter.Scope(), "error", err)
		} else {
			stats = s
		}
	}

	candidates := e.extractor.ExtractTerms(query, a.top, stats, e.cfg.Method)
	selected := e.selector.SelectTerms(candidates, query)
	meta.CandidateCount = len(candidates)
	if len(selected) == 0 {
		meta.Reason = "no expansion terms passed selection"
		meta.Latency = e.now().Sub(start)
		e.logger.Debug("expansion_skipped", "reason", meta.Reason, "candidates", len(candidates))
		return domain.Unexpanded(query, meta)
	}

	ref := e.reformulator.Reformulate(query, selected, a.confidence)
	meta.Expanded = ref.Strategy != domain.StrategyNone
	meta.Latency = e.now().Sub(start)

	e.logger.Info("expansion_applied",
		"strategy", ref.Strategy,
		"terms", len(selected),
		"candidates", len(candidates),
		"initial_confidence", a.confidence,
		"coverage", a.coverage,
	)
	return domain.ExpandedQuery{
		Original:       query,
		ExpansionTerms: selected,
		Reformulated:   ref.Reformulated,
		Strategy:       ref.Strategy,
		Metadata:       meta,
	}
}

// Purge drops every cached expansion, e.g. after a corpus reindex.
func (e *Expander) Purge() {
	e.cache.Purge()
}

func (e *Expander) Stats() domain.ExpansionStats {
	return domain.ExpansionStats{
		Attempts:  e.attempts.Load(),
		Expanded:  e.expanded.Load(),
		Skipped:   e.skipped.Load(),
		CacheHits: e.cacheHits.Load(),
	}
}

func topK(results []domain.RetrievalResult, k int) []domain.RetrievalResult {
	sorted := append([]domain.RetrievalResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].DocumentID < sorted[j].DocumentID
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// forQuery hands a shared expansion to a caller whose query may differ from
// the one that produced it in case, punctuation or spacing.
func (e *Expander) forQuery(shared domain.ExpandedQuery, query string) domain.ExpandedQuery {
	out := cloneExpanded(shared)
	out.Original = query
	if out.Strategy == domain.StrategyNone {
		out.Reformulated = query
		return out
	}
	ref := e.reformulator.Reformulate(query, out.ExpansionTerms, out.Metadata.InitialConfidence)
	out.Reformulated = ref.Reformulated
	out.Strategy = ref.Strategy
	return out
}

func cloneExpanded(q domain.ExpandedQuery) domain.ExpandedQuery {
	out := q
	out.ExpansionTerms = make([]domain.ExpansionTerm, len(q.ExpansionTerms))
	for i, t := range q.ExpansionTerms {
		t.SourceDocuments = append([]string(nil), t.SourceDocuments...)
		out.ExpansionTerms[i] = t
	}
	return out
}
