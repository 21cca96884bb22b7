package bm25

import (
	"context"
	"math"
	"sort"

	"github.com/kirillkom/adaptive-retrieval/internal/core/corpus"
	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

const (
	defaultK1    = 1.2
	defaultB     = 0.75
	defaultPivot = 2.0
)

// SnapshotSource returns the tokenized corpus of a course.
type SnapshotSource interface {
	Snapshot(ctx context.Context, courseID string) (*corpus.Snapshot, error)
}

type Config struct {
	K1 float64
	B  float64
	// Pivot is the raw BM25 score mapped to 0.5.
	Pivot float64
}

func DefaultConfig() Config {
	return Config{K1: defaultK1, B: defaultB, Pivot: defaultPivot}
}

// Retriever ranks snapshot documents with Okapi BM25.
type Retriever struct {
	source SnapshotSource
	cfg    Config
}

func New(source SnapshotSource, cfg Config) *Retriever {
	if cfg.K1 <= 0 {
		cfg.K1 = defaultK1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = defaultB
	}
	if cfg.Pivot <= 0 {
		cfg.Pivot = defaultPivot
	}
	return &Retriever{source: source, cfg: cfg}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error) {
	snap, err := r.source.Snapshot(ctx, filter.CourseID)
	if err != nil {
		return nil, err
	}
	terms := uniqueTerms(textproc.ContentTokens(query))
	if len(terms) == 0 || len(snap.Documents) == 0 {
		return []domain.RetrievalResult{}, nil
	}

	idf := make(map[string]float64, len(terms))
	n := float64(snap.Stats.DocumentCount)
	for _, term := range terms {
		df := float64(snap.Stats.DF(term))
		idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	out := make([]domain.RetrievalResult, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		raw := r.score(doc, terms, idf, snap.AvgDocLength)
		if raw <= 0 {
			continue
		}
		out = append(out, domain.RetrievalResult{
			DocumentID: doc.ID,
			Score:      raw / (raw + r.cfg.Pivot),
			Source:     domain.SourceLexical,
			Content:    doc.Content,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CorpusStats returns the document frequencies of the filtered snapshot.
func (r *Retriever) CorpusStats(ctx context.Context, filter domain.SearchFilter) (domain.CorpusStats, error) {
	snap, err := r.source.Snapshot(ctx, filter.CourseID)
	if err != nil {
		return domain.CorpusStats{}, err
	}
	return snap.Stats, nil
}

func (r *Retriever) score(doc corpus.Document, terms []string, idf map[string]float64, avgLen float64) float64 {
	if avgLen <= 0 {
		avgLen = 1
	}
	norm := 1 - r.cfg.B + r.cfg.B*float64(len(doc.Tokens))/avgLen
	total := 0.0
	for _, term := range terms {
		tf := float64(doc.TermFreq[term])
		if tf == 0 {
			continue
		}
		total += idf[term] * (tf * (r.cfg.K1 + 1)) / (tf + r.cfg.K1*norm)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
