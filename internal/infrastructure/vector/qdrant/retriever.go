package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
)

type vectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error)
}

// EmbeddingRetriever embeds the query and runs a filtered vector search.
type EmbeddingRetriever struct {
	embedder ports.Embedder
	searcher vectorSearcher
}

func NewEmbeddingRetriever(embedder ports.Embedder, searcher vectorSearcher) *EmbeddingRetriever {
	return &EmbeddingRetriever{embedder: embedder, searcher: searcher}
}

func (r *EmbeddingRetriever) Retrieve(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.RetrievalResult{}, nil
	}
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.searcher.Search(ctx, vector, limit, filter)
	if err != nil {
		return nil, err
	}
	for i := range results {
		// Cosine similarity may be negative.
		results[i].Score = max(0, min(1, results[i].Score))
	}
	return results, nil
}
