package expansion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type fakeStats struct {
	stats domain.CorpusStats
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeStats) CorpusStats(_ context.Context, _ domain.SearchFilter) (domain.CorpusStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats, f.err
}

func treeDocs(scores ...float64) []domain.RetrievalResult {
	contents := []string{
		"Tree traversal visits every node. Inorder traversal of a binary tree yields sorted keys.",
		"Insertion into a binary search tree compares keys and descends to a leaf node.",
		"Tree traversal orders include preorder, inorder and postorder traversal.",
	}
	out := make([]domain.RetrievalResult, 0, len(contents))
	for i, content := range contents {
		score := 0.5
		if i < len(scores) {
			score = scores[i]
		}
		out = append(out, domain.RetrievalResult{
			DocumentID: fmt.Sprintf("d%d", i+1),
			Score:      score,
			Source:     domain.SourceHybrid,
			Content:    content,
		})
	}
	return out
}

func newTestExpander(t *testing.T, cfg Config, stats StatsSource) *Expander {
	t.Helper()
	e, err := New(cfg, stats, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return e
}

func TestExtractTermsTFIDF(t *testing.T) {
	ex := NewExtractor(DefaultConfig())

	terms := ex.ExtractTerms("binary tree", treeDocs(), domain.CorpusStats{}, domain.MethodTFIDF)
	require.NotEmpty(t, terms)

	top := terms[0]
	assert.Equal(t, "traversal", top.Term)
	assert.InDelta(t, 1.0, top.Score, 1e-9)
	assert.Equal(t, 4, top.Frequency)
	assert.Equal(t, []string{"d1", "d3"}, top.SourceDocuments)
	assert.InDelta(t, 4*(math.Log(4.0/3.0)+1), top.TFIDF, 1e-9)

	for _, term := range terms {
		assert.NotContains(t, []string{"binary", "tree", "of", "and", "a", "to"}, term.Term)
		assert.GreaterOrEqual(t, len(term.Term), 3)
		assert.GreaterOrEqual(t, term.Score, 0.0)
		assert.LessOrEqual(t, term.Score, 1.0)
	}
}

func TestExtractTermsUsesCorpusStatistics(t *testing.T) {
	ex := NewExtractor(DefaultConfig())
	stats := domain.CorpusStats{
		DocumentCount:     100,
		DocumentFrequency: map[string]int{"traversal": 50, "insertion": 1},
	}

	terms := ex.ExtractTerms("binary tree", treeDocs(), stats, domain.MethodTFIDF)
	byTerm := make(map[string]domain.ExpansionTerm, len(terms))
	for _, term := range terms {
		byTerm[term.Term] = term
	}
	assert.InDelta(t, math.Log(101.0/2.0)+1, byTerm["insertion"].TFIDF, 1e-9)
	assert.InDelta(t, 4*(math.Log(101.0/51.0)+1), byTerm["traversal"].TFIDF, 1e-9)
	// Terms unseen by the corpus get the maximum idf.
	assert.InDelta(t, math.Log(101.0)+1, byTerm["descends"].TFIDF, 1e-9)
}

func TestExtractTermsQueryBiasedStaysNormalized(t *testing.T) {
	ex := NewExtractor(DefaultConfig())

	terms := ex.ExtractTerms("binary tree", treeDocs(), domain.CorpusStats{}, domain.MethodQueryBiased)
	require.NotEmpty(t, terms)
	assert.InDelta(t, 1.0, terms[0].Score, 1e-9)
	for _, term := range terms {
		assert.LessOrEqual(t, term.Score, 1.0)
	}
}

func TestExtractTermsWithoutDocuments(t *testing.T) {
	ex := NewExtractor(DefaultConfig())
	assert.Empty(t, ex.ExtractTerms("binary tree", nil, domain.CorpusStats{}, domain.MethodTFIDF))
}

func TestSelectTermsPrefersDiverseTerms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExpansionTerms = 2
	candidates := []domain.ExpansionTerm{
		{Term: "sort", Score: 0.9},
		{Term: "sorts", Score: 0.85},
		{Term: "graph", Score: 0.6},
		{Term: "heap", Score: 0.5},
		{Term: "weak", Score: 0.2},
	}

	got := NewSelector(cfg).SelectTerms(candidates, "algorithms")
	require.Len(t, got, 2)
	assert.Equal(t, "sort", got[0].Term)
	assert.Equal(t, "graph", got[1].Term)

	cfg.Diversity = false
	got = NewSelector(cfg).SelectTerms(candidates, "algorithms")
	require.Len(t, got, 2)
	assert.Equal(t, "sorts", got[1].Term)
}

func TestSelectTermsDropsNearQueryTerms(t *testing.T) {
	candidates := []domain.ExpansionTerm{
		{Term: "algorithm", Score: 0.95},
		{Term: "pivot", Score: 0.8},
	}
	got := NewSelector(DefaultConfig()).SelectTerms(candidates, "sorting algorithms")
	require.Len(t, got, 1)
	assert.Equal(t, "pivot", got[0].Term)
}

func TestSelectTermsBounds(t *testing.T) {
	cfg := DefaultConfig()
	words := []string{"pivot", "partition", "recursion", "merge", "heap", "bucket", "radix", "stable", "inplace", "swap", "array"}
	candidates := make([]domain.ExpansionTerm, 0, len(words))
	for i, w := range words {
		candidates = append(candidates, domain.ExpansionTerm{Term: w, Score: float64(len(words)-i) / float64(len(words))})
	}

	for _, diversity := range []bool{true, false} {
		cfg.Diversity = diversity
		got := NewSelector(cfg).SelectTerms(candidates, "quicksort")
		assert.LessOrEqual(t, len(got), cfg.MaxExpansionTerms)
		for _, term := range got {
			assert.GreaterOrEqual(t, term.Score, cfg.MinTermScore)
		}
	}
}

func TestReformulateStrategies(t *testing.T) {
	r := NewReformulator(DefaultConfig())
	terms := []domain.ExpansionTerm{{Term: "traversal", Score: 1}, {Term: "inorder", Score: 0.6}}

	sub := r.Reformulate("binary tree", terms, 0.3)
	assert.Equal(t, domain.StrategySubstitute, sub.Strategy)
	assert.Equal(t, "binary tree traversal inorder", sub.Reformulated)

	sub = r.Reformulate("the heap", terms, 0.2)
	assert.Equal(t, "heap traversal inorder", sub.Reformulated)

	rw := r.Reformulate("binary tree", terms, 0.6)
	assert.Equal(t, domain.StrategyReweight, rw.Strategy)
	assert.Equal(t, "binary tree binary tree binary tree binary tree traversal inorder", rw.Reformulated)

	none := r.Reformulate("binary tree", nil, 0.3)
	assert.Equal(t, domain.StrategyNone, none.Strategy)
	assert.Equal(t, "binary tree", none.Reformulated)
}

func TestReformulateStrongQueriesAppend(t *testing.T) {
	r := NewReformulator(DefaultConfig())
	terms := []domain.ExpansionTerm{{Term: "pivot", Score: 1}}
	for _, q := range []string{
		"How do I implement quicksort in Python with detailed comments?",
		"what are the main differences between stacks and queues",
		"Explain the time complexity of merge sort on linked lists",
	} {
		for _, conf := range []float64{0.71, 0.85, 1} {
			got := r.Reformulate(q, terms, conf)
			assert.Equal(t, domain.StrategyAppend, got.Strategy, q)
			assert.True(t, strings.HasPrefix(got.Reformulated, q), q)
		}
	}
}

func TestShouldExpand(t *testing.T) {
	e := newTestExpander(t, DefaultConfig(), nil)

	ok, reason := e.ShouldExpand("binary tree", nil)
	assert.False(t, ok)
	assert.Equal(t, "no pseudo-relevant documents", reason)

	ok, reason = e.ShouldExpand("binary tree", treeDocs(0.9, 0.9, 0.9))
	assert.True(t, ok)
	assert.Equal(t, "short query", reason)

	ok, reason = e.ShouldExpand("how are keys ordered during inorder traversal", treeDocs(0.3, 0.2, 0.2))
	assert.True(t, ok)
	assert.Equal(t, "low initial confidence", reason)

	ok, reason = e.ShouldExpand("how are graph colorings computed greedily", treeDocs(0.9, 0.9, 0.9))
	assert.True(t, ok)
	assert.Equal(t, "low coverage of query terms", reason)
}

func TestExpandShortVagueQuery(t *testing.T) {
	stats := &fakeStats{}
	e := newTestExpander(t, DefaultConfig(), stats)

	got := e.Expand(context.Background(), "binary tree", treeDocs(0.5, 0.45, 0.4), domain.SearchFilter{CourseID: "cs101"})
	assert.True(t, got.Metadata.Expanded)
	assert.Equal(t, 3, got.Metadata.PseudoRelevant)
	assert.Equal(t, "short query", got.Metadata.Reason)
	assert.Equal(t, domain.StrategySubstitute, got.Strategy)
	require.NotEmpty(t, got.ExpansionTerms)
	assert.LessOrEqual(t, len(got.ExpansionTerms), 5)
	assert.Equal(t, "traversal", got.ExpansionTerms[0].Term)
	assert.Contains(t, got.Reformulated, "traversal")
	assert.Equal(t, 1, stats.calls)
}

func TestExpandLongSpecificQueryLeavesQueryUntouched(t *testing.T) {
	e := newTestExpander(t, DefaultConfig(), &fakeStats{})
	query := "How do I implement quicksort in Python with detailed comments?"
	docs := []domain.RetrievalResult{
		{DocumentID: "q1", Score: 0.92, Content: "Implement quicksort in Python: detailed comments explain each partition step."},
		{DocumentID: "q2", Score: 0.85, Content: "Quicksort picks a pivot and partitions the list recursively."},
	}

	ok, _ := e.ShouldExpand(query, docs)
	assert.False(t, ok)

	got := e.Expand(context.Background(), query, docs, domain.SearchFilter{})
	assert.False(t, got.Metadata.Expanded)
	assert.Equal(t, domain.StrategyNone, got.Strategy)
	assert.Equal(t, query, got.Reformulated)
	assert.Empty(t, got.ExpansionTerms)
}

func TestExpandCachesByNormalizedQuery(t *testing.T) {
	stats := &fakeStats{}
	e := newTestExpander(t, DefaultConfig(), stats)
	docs := treeDocs(0.5, 0.45, 0.4)

	first := e.Expand(context.Background(), "Binary tree?", docs, domain.SearchFilter{})
	second := e.Expand(context.Background(), "binary   tree", docs, domain.SearchFilter{})
	assert.False(t, first.Metadata.CacheHit)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.Reformulated, second.Reformulated)
	assert.Equal(t, "Binary tree?", first.Original)
	assert.Equal(t, "binary   tree", second.Original)
	assert.Equal(t, 1, stats.calls)

	s := e.Stats()
	assert.Equal(t, int64(2), s.Attempts)
	assert.Equal(t, int64(1), s.Expanded)
	assert.Equal(t, int64(1), s.CacheHits)

	e.Purge()
	third := e.Expand(context.Background(), "binary tree", docs, domain.SearchFilter{})
	assert.False(t, third.Metadata.CacheHit)
}

func TestExpandCacheHitKeepsCallerWording(t *testing.T) {
	e := newTestExpander(t, DefaultConfig(), &fakeStats{})
	docs := treeDocs(0.9, 0.9, 0.9)

	first := e.Expand(context.Background(), "How are graph colorings computed greedily in practice?", docs, domain.SearchFilter{})
	require.Equal(t, domain.StrategyAppend, first.Strategy)

	second := e.Expand(context.Background(), "  how are GRAPH colorings computed greedily in practice ", docs, domain.SearchFilter{})
	require.True(t, second.Metadata.CacheHit)
	assert.Equal(t, domain.StrategyAppend, second.Strategy)
	assert.Equal(t, "how are GRAPH colorings computed greedily in practice", second.Original)
	assert.True(t, strings.HasPrefix(second.Reformulated, second.Original+" "))
	assert.Equal(t, first.ExpansionTerms, second.ExpansionTerms)
	assert.True(t, strings.HasPrefix(first.Reformulated, "How are graph colorings computed greedily in practice? "))
}

func TestExpandCacheExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTTL = 20 * time.Millisecond
	e := newTestExpander(t, cfg, &fakeStats{})
	docs := treeDocs(0.5, 0.45, 0.4)

	e.Expand(context.Background(), "binary tree", docs, domain.SearchFilter{})
	time.Sleep(60 * time.Millisecond)
	got := e.Expand(context.Background(), "binary tree", docs, domain.SearchFilter{})
	assert.False(t, got.Metadata.CacheHit)
}

func TestExpandFallsBackWhenStatsFail(t *testing.T) {
	e := newTestExpander(t, DefaultConfig(), &fakeStats{err: errors.New("index offline")})

	got := e.Expand(context.Background(), "binary tree", treeDocs(0.5, 0.45, 0.4), domain.SearchFilter{})
	assert.True(t, got.Metadata.Expanded)
	assert.NotEmpty(t, got.ExpansionTerms)
}

func TestExpandDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := newTestExpander(t, cfg, &fakeStats{})

	got := e.Expand(context.Background(), "binary tree", treeDocs(0.5, 0.45, 0.4), domain.SearchFilter{})
	assert.Equal(t, domain.StrategyNone, got.Strategy)
	assert.Equal(t, "binary tree", got.Reformulated)
	assert.Equal(t, "expansion disabled", got.Metadata.Reason)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown method":   func(c *Config) { c.Method = "bm25" },
		"lambda above one": func(c *Config) { c.Lambda = 1.5 },
		"zero max terms":   func(c *Config) { c.MaxExpansionTerms = 0 },
		"zero ttl":         func(c *Config) { c.CacheTTL = 0 },
		"bad term length":  func(c *Config) { c.MaxTermLength = 2 },
		"zero weight":      func(c *Config) { c.ExpansionWeight = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, nil, Options{})
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}
