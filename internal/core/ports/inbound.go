package ports

import (
	"context"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

// ContextService is the inbound contract for the retrieval pipeline.
type ContextService interface {
	AnswerContext(ctx context.Context, query, courseID string, user *domain.UserContext) (*domain.AnswerContext, error)
	Answer(ctx context.Context, query, courseID string, user *domain.UserContext) (*domain.Answer, error)
	ScoreQuery(ctx context.Context, query, courseID string, user *domain.UserContext) domain.ConfidenceScore
}

// QueryScorer estimates query confidence without retrieving.
type QueryScorer interface {
	Score(query string, qc domain.QueryContext) domain.ConfidenceScore
}

// CacheAdmin exposes router cache maintenance.
type CacheAdmin interface {
	Stats() domain.CacheStats
	ClearCache()
	InvalidateScope(courseID string) int
}
