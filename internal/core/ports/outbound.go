package ports

import (
	"context"
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

// MaterialProvider returns the materials of a course. An empty course id
// returns every material.
type MaterialProvider interface {
	GetMaterials(ctx context.Context, courseID string) ([]domain.Material, error)
}

// Retriever returns ranked documents with scores in [0,1].
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error)
}

// LexicalRetriever also exposes document frequencies for IDF.
type LexicalRetriever interface {
	Retriever
	CorpusStats(ctx context.Context, filter domain.SearchFilter) (domain.CorpusStats, error)
}

// Embedder builds a vector for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerGenerator creates the final user-facing answer from assembled context.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question, contextText string) (string, error)
}

// QueryHistoryStore persists past queries for historical confidence features.
type QueryHistoryStore interface {
	ListRecent(ctx context.Context, userID, courseID string, limit int) ([]domain.HistoricalQuery, error)
	Record(ctx context.Context, q domain.HistoricalQuery) error
}

// CorpusEventPublisher announces that a course's materials were reindexed.
type CorpusEventPublisher interface {
	PublishCorpusReindexed(ctx context.Context, courseID string) error
}

// PipelineObserver receives per-stage signals from the retrieval pipeline.
type PipelineObserver interface {
	ObserveConfidence(level domain.ConfidenceLevel, score float64)
	ObserveRouting(action domain.RoutingAction)
	ObserveCacheLookup(hit bool)
	ObserveExpansion(strategy domain.ExpansionStrategy)
	ObserveDegraded(source domain.Source)
	ObservePipeline(duration time.Duration, partial bool)
}

// NopObserver discards every signal.
type NopObserver struct{}

func (NopObserver) ObserveConfidence(domain.ConfidenceLevel, float64) {}
func (NopObserver) ObserveRouting(domain.RoutingAction)              {}
func (NopObserver) ObserveCacheLookup(bool)                          {}
func (NopObserver) ObserveExpansion(domain.ExpansionStrategy)        {}
func (NopObserver) ObserveDegraded(domain.Source)                    {}
func (NopObserver) ObservePipeline(time.Duration, bool)              {}

// BatchEmbedder builds one vector per input text, in order.
type BatchEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// MaterialIndexer stores material vectors for semantic retrieval.
type MaterialIndexer interface {
	IndexMaterials(ctx context.Context, materials []domain.Material, vectors [][]float32) error
}
