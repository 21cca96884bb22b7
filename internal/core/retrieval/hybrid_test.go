package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
)

type fakeRetriever struct {
	mu      sync.Mutex
	results []domain.RetrievalResult
	err     error
	queries []string
	limits  []int
	failOn  map[string]bool
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, limit int, _ domain.SearchFilter) ([]domain.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if f.err != nil || f.failOn[query] {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("unavailable")
	}
	out := append([]domain.RetrievalResult(nil), f.results...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeExpander struct {
	result domain.ExpandedQuery
	calls  int
}

func (f *fakeExpander) Expand(_ context.Context, query string, _ []domain.RetrievalResult, _ domain.SearchFilter) domain.ExpandedQuery {
	f.calls++
	out := f.result
	out.Original = query
	if out.Strategy == domain.StrategyNone || out.Strategy == "" {
		return domain.Unexpanded(query, domain.ExpansionMetadata{})
	}
	return out
}

func lexicalList() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{DocumentID: "a", Score: 0.8, Source: domain.SourceLexical, Content: "alpha text"},
		{DocumentID: "b", Score: 0.4, Source: domain.SourceLexical},
	}
}

func semanticList() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{DocumentID: "b", Score: 0.9, Source: domain.SourceSemantic, Content: "beta text"},
		{DocumentID: "c", Score: 0.6, Source: domain.SourceSemantic},
	}
}

func newTestHybrid(t *testing.T, cfg Config, lexical, semantic *fakeRetriever, expander QueryExpander) *HybridRetriever {
	t.Helper()
	var lex, sem ports.Retriever
	if lexical != nil {
		lex = lexical
	}
	if semantic != nil {
		sem = semantic
	}
	h, err := New(cfg, lex, sem, expander, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return h
}

func ids(results []domain.RetrievalResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.DocumentID)
	}
	return out
}

func TestRetrieveWeightedFusion(t *testing.T) {
	h := newTestHybrid(t, DefaultConfig(), &fakeRetriever{results: lexicalList()}, &fakeRetriever{results: semanticList()}, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.False(t, got.Partial)
	require.Equal(t, []string{"b", "a", "c"}, ids(got.Results))

	b, a, c := got.Results[0], got.Results[1], got.Results[2]
	assert.InDelta(t, 0.65, b.Score, 1e-9)
	assert.Equal(t, domain.SourceHybrid, b.Source)
	assert.InDelta(t, 0.4, b.LexicalScore, 1e-9)
	assert.InDelta(t, 0.9, b.SemanticScore, 1e-9)
	assert.Equal(t, "beta text", b.Content)
	assert.InDelta(t, 0.4, a.Score, 1e-9)
	assert.Equal(t, domain.SourceLexical, a.Source)
	assert.InDelta(t, 0.3, c.Score, 1e-9)
	assert.Equal(t, domain.SourceSemantic, c.Source)
	for _, r := range got.Results {
		assert.False(t, r.Metadata.QueryExpanded)
		assert.Equal(t, 1, r.Metadata.Pass)
	}
}

func TestRetrieveClampsOutOfRangeScores(t *testing.T) {
	lex := &fakeRetriever{results: []domain.RetrievalResult{{DocumentID: "x", Score: 1.7}, {DocumentID: "y", Score: -0.2}}}
	h := newTestHybrid(t, DefaultConfig(), lex, &fakeRetriever{}, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	for _, r := range got.Results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.InDelta(t, 0.5, got.Results[0].Score, 1e-9)
}

func TestRetrieveMinMaxFusion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fusion = FusionMinMax
	lex := &fakeRetriever{results: []domain.RetrievalResult{{DocumentID: "b", Score: 10}, {DocumentID: "a", Score: 5}}}
	sem := &fakeRetriever{results: []domain.RetrievalResult{{DocumentID: "a", Score: 0.9}, {DocumentID: "c", Score: 0.3}}}
	h := newTestHybrid(t, cfg, lex, sem, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	// a and b tie at 0.5 and are ordered by id.
	assert.Equal(t, []string{"a", "b", "c"}, ids(got.Results))
	assert.InDelta(t, 0.5, got.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, got.Results[1].Score, 1e-9)
	assert.InDelta(t, 0.0, got.Results[2].Score, 1e-9)
}

func TestRetrieveRRFFusion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fusion = FusionRRF
	h := newTestHybrid(t, cfg, &fakeRetriever{results: lexicalList()}, &fakeRetriever{results: semanticList()}, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(got.Results))
	assert.InDelta(t, 0.5*61.0/62.0+0.5, got.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, got.Results[1].Score, 1e-9)
}

func TestRetrieveTrimsToLimit(t *testing.T) {
	h := newTestHybrid(t, DefaultConfig(), &fakeRetriever{results: lexicalList()}, &fakeRetriever{results: semanticList()}, nil)

	got, err := h.Retrieve(context.Background(), "query", 2, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, got.Results, 2)

	lex := &fakeRetriever{results: lexicalList()}
	h = newTestHybrid(t, DefaultConfig(), lex, nil, nil)
	_, err = h.Retrieve(context.Background(), "query", 0, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, lex.limits)
}

func TestRetrieveDegradesToSurvivingRetriever(t *testing.T) {
	h := newTestHybrid(t, DefaultConfig(), &fakeRetriever{results: lexicalList()}, &fakeRetriever{err: errors.New("qdrant down")}, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Equal(t, []domain.Source{domain.SourceSemantic}, got.FailedSources)
	assert.Equal(t, []string{"a", "b"}, ids(got.Results))
	assert.InDelta(t, 0.8, got.Results[0].Score, 1e-9)
}

func TestRetrieveBothFail(t *testing.T) {
	h := newTestHybrid(t, DefaultConfig(), &fakeRetriever{err: errors.New("index gone")}, &fakeRetriever{err: errors.New("qdrant down")}, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrieverUnavailable)
	assert.True(t, got.Partial)
	assert.NotNil(t, got.Results)
	assert.Empty(t, got.Results)
	assert.ElementsMatch(t, []domain.Source{domain.SourceLexical, domain.SourceSemantic}, got.FailedSources)
}

func TestRetrieveSingleConfiguredRetrieverIsNotPartial(t *testing.T) {
	h := newTestHybrid(t, DefaultConfig(), &fakeRetriever{results: lexicalList()}, nil, nil)

	got, err := h.Retrieve(context.Background(), "query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.False(t, got.Partial)
	assert.InDelta(t, 0.8, got.Results[0].Score, 1e-9)
}

func TestRetrieveTwoPassWithExpansion(t *testing.T) {
	lex := &fakeRetriever{results: lexicalList()}
	sem := &fakeRetriever{results: semanticList()}
	exp := &fakeExpander{result: domain.ExpandedQuery{
		Reformulated: "binary tree traversal",
		Strategy:     domain.StrategySubstitute,
		Metadata:     domain.ExpansionMetadata{Expanded: true, PseudoRelevant: 2},
	}}
	h := newTestHybrid(t, DefaultConfig(), lex, sem, exp)

	got, err := h.RetrieveTwoPass(context.Background(), "binary tree", 10, domain.SearchFilter{CourseID: "cs101"})
	require.NoError(t, err)
	assert.Equal(t, []string{"binary tree", "binary tree traversal"}, lex.queries)
	assert.Equal(t, []int{5, 10}, lex.limits)
	require.NotNil(t, got.Expansion)
	assert.Equal(t, domain.StrategySubstitute, got.Expansion.Strategy)
	require.NotEmpty(t, got.Results)
	for _, r := range got.Results {
		assert.True(t, r.Metadata.QueryExpanded)
		assert.Equal(t, 2, r.Metadata.Pass)
		require.NotNil(t, r.Metadata.Expansion)
		assert.Equal(t, 2, r.Metadata.Expansion.PseudoRelevant)
	}
}

func TestRetrieveTwoPassWithoutExpansionRetrievesFullLimit(t *testing.T) {
	lex := &fakeRetriever{results: lexicalList()}
	h := newTestHybrid(t, DefaultConfig(), lex, &fakeRetriever{results: semanticList()}, &fakeExpander{})

	got, err := h.RetrieveTwoPass(context.Background(), "a long and specific query", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a long and specific query", "a long and specific query"}, lex.queries)
	assert.Equal(t, []int{5, 10}, lex.limits)
	require.NotNil(t, got.Expansion)
	assert.Equal(t, domain.StrategyNone, got.Expansion.Strategy)
	for _, r := range got.Results {
		assert.False(t, r.Metadata.QueryExpanded)
	}
}

func TestRetrieveTwoPassSkipsSecondPassNearDeadline(t *testing.T) {
	lex := &fakeRetriever{results: lexicalList()}
	exp := &fakeExpander{result: domain.ExpandedQuery{Reformulated: "x", Strategy: domain.StrategyAppend, Metadata: domain.ExpansionMetadata{Expanded: true}}}
	h := newTestHybrid(t, DefaultConfig(), lex, &fakeRetriever{results: semanticList()}, exp)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	got, err := h.RetrieveTwoPass(ctx, "binary tree", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.True(t, got.SecondPassSkipped)
	assert.Len(t, lex.queries, 1)
	assert.Equal(t, 0, exp.calls)
	assert.NotEmpty(t, got.Results)
}

func TestRetrieveTwoPassWithGenerousDeadline(t *testing.T) {
	lex := &fakeRetriever{results: lexicalList()}
	exp := &fakeExpander{result: domain.ExpandedQuery{Reformulated: "x", Strategy: domain.StrategyAppend, Metadata: domain.ExpansionMetadata{Expanded: true}}}
	h := newTestHybrid(t, DefaultConfig(), lex, &fakeRetriever{results: semanticList()}, exp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := h.RetrieveTwoPass(ctx, "binary tree", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.False(t, got.SecondPassSkipped)
	assert.Len(t, lex.queries, 2)
}

func TestRetrieveTwoPassFallsBackWhenSecondPassFails(t *testing.T) {
	lex := &fakeRetriever{results: lexicalList(), failOn: map[string]bool{"expanded": true}}
	sem := &fakeRetriever{results: semanticList(), failOn: map[string]bool{"expanded": true}}
	exp := &fakeExpander{result: domain.ExpandedQuery{Reformulated: "expanded", Strategy: domain.StrategyReweight, Metadata: domain.ExpansionMetadata{Expanded: true}}}
	h := newTestHybrid(t, DefaultConfig(), lex, sem, exp)

	got, err := h.RetrieveTwoPass(context.Background(), "binary tree", 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.NotEmpty(t, got.Results)
	for _, r := range got.Results {
		assert.Equal(t, 1, r.Metadata.Pass)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown fusion":  func(c *Config) { c.Fusion = "borda" },
		"weight above 1":  func(c *Config) { c.LexicalWeight = 1.2 },
		"zero rrf k":      func(c *Config) { c.RRFK = 0 },
		"zero first pass": func(c *Config) { c.FirstPassK = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg, &fakeRetriever{}, nil, nil, Options{})
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}

	_, err := New(DefaultConfig(), nil, nil, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
