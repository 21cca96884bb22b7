package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/ports"
)

type Config struct {
	Fusion           FusionMethod  `yaml:"fusion"`
	LexicalWeight    float64       `yaml:"lexical_weight"`
	RRFK             int           `yaml:"rrf_k"`
	DefaultLimit     int           `yaml:"default_limit"`
	FirstPassK       int           `yaml:"first_pass_k"`
	SecondPassBudget time.Duration `yaml:"second_pass_budget"`
	RetrieverTimeout time.Duration `yaml:"retriever_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Fusion:           FusionWeighted,
		LexicalWeight:    0.5,
		RRFK:             60,
		DefaultLimit:     10,
		FirstPassK:       5,
		SecondPassBudget: 150 * time.Millisecond,
		RetrieverTimeout: 2 * time.Second,
	}
}

func (c Config) Validate() error {
	const component = "retrieval"
	switch c.Fusion {
	case FusionWeighted, FusionMinMax, FusionRRF:
	default:
		return domain.ConfigError(component, "fusion", "unsupported %q", c.Fusion)
	}
	if c.LexicalWeight < 0 || c.LexicalWeight > 1 {
		return domain.ConfigError(component, "lexical_weight", "must be within [0,1], got %v", c.LexicalWeight)
	}
	if c.RRFK <= 0 {
		return domain.ConfigError(component, "rrf_k", "must be positive, got %d", c.RRFK)
	}
	if c.DefaultLimit <= 0 {
		return domain.ConfigError(component, "default_limit", "must be positive, got %d", c.DefaultLimit)
	}
	if c.FirstPassK <= 0 {
		return domain.ConfigError(component, "first_pass_k", "must be positive, got %d", c.FirstPassK)
	}
	if c.SecondPassBudget < 0 || c.RetrieverTimeout < 0 {
		return domain.ConfigError(component, "timeouts", "must be non-negative")
	}
	return nil
}

// QueryExpander is the expansion step used between the two passes.
type QueryExpander interface {
	Expand(ctx context.Context, query string, initial []domain.RetrievalResult, filter domain.SearchFilter) domain.ExpandedQuery
}

type HybridResult struct {
	Results           []domain.RetrievalResult
	Partial           bool
	FailedSources     []domain.Source
	Expansion         *domain.ExpandedQuery
	SecondPassSkipped bool
}

type Options struct {
	Clock  func() time.Time
	Logger *slog.Logger
}

// HybridRetriever fuses lexical and embedding rankings.
type HybridRetriever struct {
	cfg      Config
	lexical  ports.Retriever
	semantic ports.Retriever
	expander QueryExpander
	now      func() time.Time
	logger   *slog.Logger
}

// New accepts a nil semantic or lexical retriever, not both. The expander
// may be nil, in which case RetrieveTwoPass runs a single pass.
func New(cfg Config, lexical, semantic ports.Retriever, expander QueryExpander, opts Options) (*HybridRetriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lexical == nil && semantic == nil {
		return nil, domain.ConfigError("retrieval", "retrievers", "at least one retriever is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		cfg:      cfg,
		lexical:  lexical,
		semantic: semantic,
		expander: expander,
		now:      now,
		logger:   logger,
	}, nil
}

// Retrieve runs both retrievers concurrently and fuses their output. A
// single failure degrades to the other side with Partial set; only when
// every configured retriever fails is an error returned.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, limit int, filter domain.SearchFilter) (HybridResult, error) {
	if limit <= 0 {
		limit = h.cfg.DefaultLimit
	}

	var (
		lexResults, semResults []domain.RetrievalResult
		lexErr, semErr         error
	)
	var g errgroup.Group
	if h.lexical != nil {
		g.Go(func() error {
			lexResults, lexErr = h.call(ctx, h.lexical, query, limit, filter)
			return nil
		})
	}
	if h.semantic != nil {
		g.Go(func() error {
			semResults, semErr = h.call(ctx, h.semantic, query, limit, filter)
			return nil
		})
	}
	_ = g.Wait()

	var out HybridResult
	lexActive := h.lexical != nil && lexErr == nil
	semActive := h.semantic != nil && semErr == nil
	if h.lexical != nil && lexErr != nil {
		out.FailedSources = append(out.FailedSources, domain.SourceLexical)
		h.logger.Warn("retriever_degraded", "source", domain.SourceLexical, "scope", filter.Scope(), "error", lexErr)
	}
	if h.semantic != nil && semErr != nil {
		out.FailedSources = append(out.FailedSources, domain.SourceSemantic)
		h.logger.Warn("retriever_degraded", "source", domain.SourceSemantic, "scope", filter.Scope(), "error", semErr)
	}
	out.Partial = len(out.FailedSources) > 0

	if !lexActive && !semActive {
		out.Results = []domain.RetrievalResult{}
		return out, domain.WrapError(domain.ErrRetrieverUnavailable, "hybrid retrieve", errors.Join(lexErr, semErr))
	}

	fused := fuseResults(h.cfg.Fusion, h.cfg.LexicalWeight, h.cfg.RRFK, lexResults, semResults, lexActive, semActive)
	out.Results = trimResults(fused, limit)
	for i := range out.Results {
		out.Results[i].Metadata = domain.Metadata{Pass: 1}
	}
	return out, nil
}

func (h *HybridRetriever) call(ctx context.Context, r ports.Retriever, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievalResult, error) {
	if h.cfg.RetrieverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RetrieverTimeout)
		defer cancel()
	}
	return r.Retrieve(ctx, query, limit, filter)
}

// RetrieveTwoPass seeds expansion with a small first pass, then retrieves
// the full limit with the reformulated query. When the caller's deadline
// leaves less than the second-pass budget the first-pass results are
// returned as they are.
func (h *HybridRetriever) RetrieveTwoPass(ctx context.Context, query string, limit int, filter domain.SearchFilter) (HybridResult, error) {
	if limit <= 0 {
		limit = h.cfg.DefaultLimit
	}
	if h.expander == nil {
		return h.Retrieve(ctx, query, limit, filter)
	}

	first, err := h.Retrieve(ctx, query, min(h.cfg.FirstPassK, limit), filter)
	if err != nil {
		return first, err
	}
	if h.outOfTime(ctx) {
		h.logger.Info("second_pass_skipped", "scope", filter.Scope(), "results", len(first.Results))
		first.SecondPassSkipped = true
		return first, nil
	}

	expanded := h.expander.Expand(ctx, query, first.Results, filter)
	if !expanded.Metadata.Expanded {
		if limit <= h.cfg.FirstPassK {
			first.Expansion = &expanded
			return first, nil
		}
		full, err := h.Retrieve(ctx, query, limit, filter)
		if err != nil {
			h.logger.Warn("full_pass_failed", "scope", filter.Scope(), "error", err)
			first.Partial = true
			first.Expansion = &expanded
			return first, nil
		}
		full.Expansion = &expanded
		return full, nil
	}

	if h.outOfTime(ctx) {
		h.logger.Info("second_pass_skipped", "scope", filter.Scope(), "results", len(first.Results))
		first.SecondPassSkipped = true
		first.Expansion = &expanded
		return first, nil
	}

	second, err := h.Retrieve(ctx, expanded.Reformulated, limit, filter)
	if err != nil {
		h.logger.Warn("second_pass_failed", "scope", filter.Scope(), "error", err)
		first.Partial = true
		first.FailedSources = second.FailedSources
		first.Expansion = &expanded
		return first, nil
	}

	meta := expanded.Metadata
	for i := range second.Results {
		second.Results[i].Metadata = domain.Metadata{QueryExpanded: true, Expansion: &meta, Pass: 2}
	}
	second.Expansion = &expanded
	return second, nil
}

func (h *HybridRetriever) outOfTime(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return deadline.Sub(h.now()) < h.cfg.SecondPassBudget
}
