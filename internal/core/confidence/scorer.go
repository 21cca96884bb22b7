package confidence

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

type Options struct {
	// Keywords is the fallback corpus keyword set used when the query
	// context carries none.
	Keywords []string
	Clock    func() time.Time
}

// Scorer estimates how likely a query is to be satisfied by direct retrieval.
type Scorer struct {
	cfg      Config
	keywords map[string]struct{}
	now      func() time.Time
}

func New(cfg Config, opts Options) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keywords := make(map[string]struct{}, len(opts.Keywords))
	for _, kw := range opts.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords[kw] = struct{}{}
		}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Scorer{cfg: cfg, keywords: keywords, now: now}, nil
}

func (s *Scorer) Thresholds() domain.LevelThresholds {
	return s.cfg.Thresholds
}

// Score never fails. Queries outside the configured length bounds score 0.
func (s *Scorer) Score(query string, qc domain.QueryContext) domain.ConfidenceScore {
	trimmed := strings.TrimSpace(query)
	length := utf8.RuneCountInString(trimmed)
	switch {
	case length < s.cfg.MinQueryLength:
		return s.lowest(fmt.Sprintf("query is shorter than %d characters", s.cfg.MinQueryLength))
	case length > s.cfg.MaxQueryLength:
		return s.lowest(fmt.Sprintf("query is longer than %d characters", s.cfg.MaxQueryLength))
	}

	tokens := textproc.Tokenize(trimmed)
	if len(tokens) == 0 {
		return s.lowest("query contains no searchable terms")
	}

	keywords := qc.Keywords
	if keywords == nil {
		keywords = s.keywords
	}

	var (
		features   domain.ConfidenceFeatures
		historical domain.HistoricalFeatures
		useHistory = qc.HistoryUsable()
	)

	var g errgroup.Group
	g.Go(func() error {
		features.Lexical = s.lexicalFeatures(trimmed, tokens)
		return nil
	})
	g.Go(func() error {
		features.Semantic = s.semanticFeatures(tokens, keywords)
		return nil
	})
	if useHistory {
		g.Go(func() error {
			historical = s.historicalFeatures(tokens, qc.History)
			return nil
		})
	}
	_ = g.Wait()
	if useHistory {
		features.Historical = &historical
	}

	score := s.combine(features)
	level := domain.LevelFor(score, s.cfg.Thresholds)
	return domain.ConfidenceScore{
		Score:     score,
		Level:     level,
		Reasoning: s.reasoning(features, len(keywords) > 0, score, level),
		Features:  features,
		Timestamp: s.now().UTC(),
	}
}

func (s *Scorer) combine(f domain.ConfidenceFeatures) float64 {
	total := s.cfg.LexicalWeight*f.Lexical.SubScore + s.cfg.SemanticWeight*f.Semantic.SubScore
	weights := s.cfg.LexicalWeight + s.cfg.SemanticWeight
	if f.Historical != nil {
		total += s.cfg.HistoricalWeight * f.Historical.SubScore
		weights += s.cfg.HistoricalWeight
	}
	return math.Round(clamp(total/weights, 0, 100)*100) / 100
}

func (s *Scorer) lowest(reason string) domain.ConfidenceScore {
	return domain.ConfidenceScore{
		Score:     0,
		Level:     domain.LevelFor(0, s.cfg.Thresholds),
		Reasoning: []string{reason},
		Timestamp: s.now().UTC(),
	}
}

func (s *Scorer) reasoning(f domain.ConfidenceFeatures, haveKeywords bool, score float64, level domain.ConfidenceLevel) []string {
	out := make([]string, 0, 8)
	lex := f.Lexical

	switch {
	case lex.TokenCount < 3:
		out = append(out, fmt.Sprintf("query is very short (%d tokens)", lex.TokenCount))
	case lex.TokenCount >= s.cfg.Lexical.LengthSaturation:
		out = append(out, fmt.Sprintf("query is detailed (%d tokens)", lex.TokenCount))
	}
	if lex.HasCourseCode {
		out = append(out, "references a course code")
	}
	if lex.HasWeekReference {
		out = append(out, "references a specific week or chapter")
	}
	if lex.HasTechnicalTerms {
		out = append(out, "contains technical terminology")
	}
	if lex.GenericPronounRatio > 0.2 {
		out = append(out, "relies on vague pronouns")
	}

	sem := f.Semantic
	switch {
	case !haveKeywords:
		out = append(out, "no course keywords available")
	case sem.KeywordCoverage >= 0.5:
		out = append(out, fmt.Sprintf("high overlap with course keywords (%.0f%%)", sem.KeywordCoverage*100))
	case sem.KeywordCoverage < 0.2:
		out = append(out, "low coverage of course keywords")
	}
	if sem.Ambiguity > 0.3 {
		out = append(out, "contains ambiguous terms")
	}

	if h := f.Historical; h != nil {
		if h.SimilarCount > 0 {
			out = append(out, fmt.Sprintf("similar to %d previously successful queries", h.SimilarCount))
		} else {
			out = append(out, "no similar past queries")
		}
	}

	out = append(out, fmt.Sprintf("overall confidence %s (%.2f)", level, score))
	return out
}
