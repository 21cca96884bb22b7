package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
	"github.com/kirillkom/adaptive-retrieval/internal/core/retrieval"
)

// NoMaterialAnswer is returned by Answer when retrieval found nothing.
const NoMaterialAnswer = "I don't have relevant course material to answer this question."

const defaultHistoryLimit = 50

type Router interface {
	Route(query string, confidence domain.ConfidenceScore, courseID string) domain.RoutingDecision
	CacheResult(query, courseID string, results []domain.RetrievalResult, contextText string, confidence domain.ConfidenceScore)
	GetCachedResult(query, courseID string) (domain.CachedResult, bool)
}

type HybridRetriever interface {
	Retrieve(ctx context.Context, query string, limit int, filter domain.SearchFilter) (retrieval.HybridResult, error)
	RetrieveTwoPass(ctx context.Context, query string, limit int, filter domain.SearchFilter) (retrieval.HybridResult, error)
}

// KeywordSource supplies the corpus keyword set used for semantic coverage.
type KeywordSource interface {
	Keywords(ctx context.Context, courseID string) (map[string]struct{}, error)
}

type Options struct {
	Keywords     KeywordSource
	History      ports.QueryHistoryStore
	Generator    ports.AnswerGenerator
	Observer     ports.PipelineObserver
	HistoryLimit int
	Tracer       trace.Tracer
	Logger       *slog.Logger
	Clock        func() time.Time
}

type ContextUseCase struct {
	scorer    ports.QueryScorer
	router    Router
	retriever HybridRetriever

	keywords     KeywordSource
	history      ports.QueryHistoryStore
	generator    ports.AnswerGenerator
	observer     ports.PipelineObserver
	historyLimit int
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
}

func NewContextUseCase(scorer ports.QueryScorer, router Router, retriever HybridRetriever, opts Options) *ContextUseCase {
	uc := &ContextUseCase{
		scorer:       scorer,
		router:       router,
		retriever:    retriever,
		keywords:     opts.Keywords,
		history:      opts.History,
		generator:    opts.Generator,
		observer:     opts.Observer,
		historyLimit: opts.HistoryLimit,
		tracer:       opts.Tracer,
		logger:       opts.Logger,
		now:          opts.Clock,
	}
	if uc.observer == nil {
		uc.observer = ports.NopObserver{}
	}
	if uc.historyLimit <= 0 {
		uc.historyLimit = defaultHistoryLimit
	}
	if uc.tracer == nil {
		uc.tracer = otel.Tracer("github.com/kirillkom/adaptive-retrieval/usecase")
	}
	if uc.logger == nil {
		uc.logger = slog.Default()
	}
	if uc.now == nil {
		uc.now = time.Now
	}
	return uc
}

// AnswerContext scores the query, routes it, and either serves the cached
// result or retrieves. Retriever failures never surface as errors; the
// response carries Partial and Degraded instead.
func (uc *ContextUseCase) AnswerContext(ctx context.Context, query, courseID string, user *domain.UserContext) (*domain.AnswerContext, error) {
	started := uc.now()
	ctx, span := uc.tracer.Start(ctx, "retrieval.answer_context", trace.WithAttributes(
		attribute.String("course_id", courseID),
		attribute.Int("query_length", len(query)),
	))
	defer span.End()

	courseID = strings.TrimSpace(courseID)
	filter := domain.SearchFilter{CourseID: courseID}

	qc := uc.queryContext(ctx, courseID, user)
	confidence := uc.scorer.Score(query, qc)
	uc.observer.ObserveConfidence(confidence.Level, confidence.Score)

	decision := uc.router.Route(query, confidence, courseID)
	uc.observer.ObserveRouting(decision.Action)
	span.SetAttributes(
		attribute.Float64("confidence.score", confidence.Score),
		attribute.String("confidence.level", string(confidence.Level)),
		attribute.String("routing.action", string(decision.Action)),
	)
	uc.logger.Info("routing_decision",
		"scope", filter.Scope(),
		"action", decision.Action,
		"confidence", confidence.Score,
		"level", confidence.Level,
	)

	out := &domain.AnswerContext{
		Query:      query,
		CourseID:   courseID,
		Confidence: confidence,
		Routing:    decision,
	}

	if !decision.ShouldRetrieve {
		cached, ok := uc.router.GetCachedResult(query, courseID)
		uc.observer.ObserveCacheLookup(ok)
		if ok {
			out.Results = fromCache(cached.Results)
			out.ContextText = cached.ContextText
			out.CacheHit = true
			uc.observer.ObservePipeline(uc.now().Sub(started), false)
			return out, nil
		}
		// The entry expired or was evicted between routing and lookup.
		uc.logger.Info("cache_entry_vanished", "scope", filter.Scope())
		decision = uc.router.Route(query, confidence, courseID)
		uc.observer.ObserveRouting(decision.Action)
		out.Routing = decision
	}

	res, err := uc.retrieve(ctx, query, decision, filter)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, fmt.Errorf("answer context: %w", ctxErr)
		}
		span.RecordError(err)
		uc.logger.Warn("retrieval_unavailable", "scope", filter.Scope(), "error", err)
	}

	out.Results = res.Results
	if out.Results == nil {
		out.Results = []domain.RetrievalResult{}
	}
	out.Partial = res.Partial || err != nil
	out.Degraded = res.FailedSources
	out.Expansion = res.Expansion
	for _, source := range res.FailedSources {
		uc.observer.ObserveDegraded(source)
	}
	if res.Expansion != nil {
		uc.observer.ObserveExpansion(res.Expansion.Strategy)
	}
	out.ContextText = BuildContextText(out.Results)

	if len(out.Results) == 0 {
		out.Explanation = explainEmpty(confidence, res, err)
	} else if !out.Partial {
		uc.router.CacheResult(query, courseID, out.Results, out.ContextText, confidence)
	}

	uc.recordHistory(ctx, query, courseID, user, out)

	span.SetAttributes(
		attribute.Int("results", len(out.Results)),
		attribute.Bool("partial", out.Partial),
	)
	uc.observer.ObservePipeline(uc.now().Sub(started), out.Partial)
	return out, nil
}

// fromCache attributes served results to the cache. Retrieval scores and
// content are kept as they were when cached.
func fromCache(results []domain.RetrievalResult) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(results))
	for i, r := range results {
		r.Source = domain.SourceCache
		out[i] = r
	}
	return out
}

// Answer runs AnswerContext and generates the final text from the assembled
// context. With no results the generator is not called.
func (uc *ContextUseCase) Answer(ctx context.Context, query, courseID string, user *domain.UserContext) (*domain.Answer, error) {
	ac, err := uc.AnswerContext(ctx, query, courseID, user)
	if err != nil {
		return nil, err
	}
	if len(ac.Results) == 0 {
		return &domain.Answer{Text: NoMaterialAnswer, Context: *ac}, nil
	}
	if uc.generator == nil {
		return nil, domain.WrapError(domain.ErrInvalidConfig, "answer", errors.New("answer generator is not configured"))
	}

	ctx, span := uc.tracer.Start(ctx, "retrieval.generate_answer")
	defer span.End()

	text, err := uc.generator.GenerateAnswer(ctx, query, ac.ContextText)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &domain.Answer{Text: text, Context: *ac}, nil
}

// ScoreQuery reports the confidence AnswerContext would act on, without
// routing or retrieving.
func (uc *ContextUseCase) ScoreQuery(ctx context.Context, query, courseID string, user *domain.UserContext) domain.ConfidenceScore {
	courseID = strings.TrimSpace(courseID)
	confidence := uc.scorer.Score(query, uc.queryContext(ctx, courseID, user))
	uc.observer.ObserveConfidence(confidence.Level, confidence.Score)
	return confidence
}

func (uc *ContextUseCase) retrieve(ctx context.Context, query string, decision domain.RoutingDecision, filter domain.SearchFilter) (retrieval.HybridResult, error) {
	ctx, span := uc.tracer.Start(ctx, "retrieval.hybrid", trace.WithAttributes(
		attribute.Int("limit", decision.RetrievalLimit),
		attribute.Bool("expand", decision.ShouldExpandQuery),
	))
	defer span.End()

	if decision.ShouldExpandQuery {
		return uc.retriever.RetrieveTwoPass(ctx, query, decision.RetrievalLimit, filter)
	}
	return uc.retriever.Retrieve(ctx, query, decision.RetrievalLimit, filter)
}

func (uc *ContextUseCase) queryContext(ctx context.Context, courseID string, user *domain.UserContext) domain.QueryContext {
	qc := domain.QueryContext{CourseID: courseID}

	if uc.keywords != nil {
		keywords, err := uc.keywords.Keywords(ctx, courseID)
		if err != nil {
			uc.logger.Warn("keywords_unavailable", "course_id", courseID, "error", err)
		} else {
			qc.Keywords = keywords
		}
	}

	if user == nil {
		return qc
	}
	qc.UserID = strings.TrimSpace(user.UserID)
	qc.HistoryEnabled = user.HistoryEnabled
	if !qc.HistoryUsable() || uc.history == nil {
		return qc
	}
	history, err := uc.history.ListRecent(ctx, qc.UserID, courseID, uc.historyLimit)
	if err != nil {
		uc.logger.Warn("history_unavailable", "user_id", qc.UserID, "error", err)
		return qc
	}
	qc.History = history
	return qc
}

func (uc *ContextUseCase) recordHistory(ctx context.Context, query, courseID string, user *domain.UserContext, ac *domain.AnswerContext) {
	if uc.history == nil || user == nil || strings.TrimSpace(user.UserID) == "" || ac.Partial {
		return
	}
	err := uc.history.Record(ctx, domain.HistoricalQuery{
		UserID:       strings.TrimSpace(user.UserID),
		CourseID:     courseID,
		Query:        query,
		AvgRelevance: meanScore(ac.Results),
		ResultCount:  len(ac.Results),
		Successful:   len(ac.Results) > 0,
		CreatedAt:    uc.now().UTC(),
	})
	if err != nil {
		uc.logger.Warn("history_record_failed", "user_id", user.UserID, "error", err)
	}
}

// BuildContextText renders results as numbered blocks for the generator.
func BuildContextText(results []domain.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] doc=%s score=%.3f\n", i+1, r.DocumentID, r.Score)
		if content := strings.TrimSpace(r.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func explainEmpty(confidence domain.ConfidenceScore, res retrieval.HybridResult, err error) string {
	var parts []string
	if err != nil {
		parts = append(parts, "all retrievers unavailable")
	} else if len(res.FailedSources) > 0 {
		parts = append(parts, fmt.Sprintf("%d retriever(s) degraded", len(res.FailedSources)))
	}
	if confidence.Features.Semantic.KeywordCoverage < 0.5 {
		parts = append(parts, "low coverage")
	}
	parts = append(parts, "no documents matched")
	return strings.Join(parts, ", ")
}

func meanScore(results []domain.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range results {
		total += r.Score
	}
	return total / float64(len(results))
}
