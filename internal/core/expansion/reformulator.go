package expansion

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

type Reformulation struct {
	Reformulated string
	Strategy     domain.ExpansionStrategy
}

// Reformulator merges the original query with expansion terms.
type Reformulator struct {
	substituteMaxTokens     int
	substituteMaxConfidence float64
	appendMinTokens         int
	appendMinConfidence     float64
	repeat                  int
	minTermLength           int
}

func NewReformulator(cfg Config) *Reformulator {
	repeat := int(math.Round(cfg.OriginalWeight / cfg.ExpansionWeight))
	if repeat < 1 {
		repeat = 1
	}
	return &Reformulator{
		substituteMaxTokens:     cfg.SubstituteMaxTokens,
		substituteMaxConfidence: cfg.SubstituteMaxConfidence,
		appendMinTokens:         cfg.AppendMinTokens,
		appendMinConfidence:     cfg.AppendMinConfidence,
		repeat:                  repeat,
		minTermLength:           cfg.MinTermLength,
	}
}

// Reformulate picks a strategy from the query length and the [0,1]
// confidence of the initial pass.
func (r *Reformulator) Reformulate(original string, terms []domain.ExpansionTerm, confidence float64) Reformulation {
	original = strings.TrimSpace(original)
	if len(terms) == 0 {
		return Reformulation{Reformulated: original, Strategy: domain.StrategyNone}
	}
	expansion := make([]string, 0, len(terms))
	for _, t := range terms {
		expansion = append(expansion, t.Term)
	}
	tokens := textproc.Tokenize(original)

	switch {
	case len(tokens) == 0, len(tokens) < r.substituteMaxTokens && confidence < r.substituteMaxConfidence:
		kept := make([]string, 0, len(tokens)+len(expansion))
		for _, token := range tokens {
			if textproc.IsStopWord(token) || utf8.RuneCountInString(token) < r.minTermLength {
				continue
			}
			kept = append(kept, token)
		}
		kept = append(kept, expansion...)
		return Reformulation{Reformulated: strings.Join(kept, " "), Strategy: domain.StrategySubstitute}

	case len(tokens) >= r.appendMinTokens && confidence > r.appendMinConfidence:
		return Reformulation{
			Reformulated: original + " " + strings.Join(expansion, " "),
			Strategy:     domain.StrategyAppend,
		}

	default:
		parts := make([]string, 0, r.repeat+1)
		base := strings.Join(tokens, " ")
		for i := 0; i < r.repeat; i++ {
			parts = append(parts, base)
		}
		parts = append(parts, strings.Join(expansion, " "))
		return Reformulation{Reformulated: strings.Join(parts, " "), Strategy: domain.StrategyReweight}
	}
}
