package retrieval

import (
	"sort"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type FusionMethod string

const (
	FusionWeighted FusionMethod = "weighted"
	FusionMinMax   FusionMethod = "minmax"
	FusionRRF      FusionMethod = "rrf"
)

type fusedCandidate struct {
	result   domain.RetrievalResult
	lexical  float64
	semantic float64
	hasLex   bool
	hasSem   bool
}

// fuseResults merges both rankings into one list ordered by fused score,
// ties broken by document id. Weights are renormalized over the sides that
// actually answered, so a degraded call keeps scores comparable.
func fuseResults(method FusionMethod, alpha float64, rrfK int, lexical, semantic []domain.RetrievalResult, lexActive, semActive bool) []domain.RetrievalResult {
	wLex, wSem := alpha, 1-alpha
	switch {
	case lexActive && !semActive:
		wLex, wSem = 1, 0
	case semActive && !lexActive:
		wLex, wSem = 0, 1
	}

	var lexScores, semScores []float64
	switch method {
	case FusionMinMax:
		lexScores = minMaxNormalize(lexical)
		semScores = minMaxNormalize(semantic)
	case FusionRRF:
		lexScores = reciprocalRanks(len(lexical), rrfK)
		semScores = reciprocalRanks(len(semantic), rrfK)
	default:
		lexScores = clampedScores(lexical)
		semScores = clampedScores(semantic)
	}

	acc := make(map[string]*fusedCandidate, len(lexical)+len(semantic))
	order := make([]string, 0, len(lexical)+len(semantic))
	add := func(results []domain.RetrievalResult, scores []float64, isLex bool) {
		for i, r := range results {
			if r.DocumentID == "" {
				continue
			}
			c, ok := acc[r.DocumentID]
			if !ok {
				c = &fusedCandidate{result: r}
				acc[r.DocumentID] = c
				order = append(order, r.DocumentID)
			} else if c.result.Content == "" && r.Content != "" {
				c.result.Content = r.Content
			}
			if isLex {
				if !c.hasLex || scores[i] > c.lexical {
					c.lexical = scores[i]
				}
				c.hasLex = true
				c.result.LexicalScore = clampUnit(r.Score)
			} else {
				if !c.hasSem || scores[i] > c.semantic {
					c.semantic = scores[i]
				}
				c.hasSem = true
				c.result.SemanticScore = clampUnit(r.Score)
			}
		}
	}
	add(lexical, lexScores, true)
	add(semantic, semScores, false)

	out := make([]domain.RetrievalResult, 0, len(acc))
	for _, id := range order {
		c := acc[id]
		r := c.result
		r.Score = clampUnit(wLex*c.lexical + wSem*c.semantic)
		switch {
		case c.hasLex && c.hasSem:
			r.Source = domain.SourceHybrid
		case c.hasLex:
			r.Source = domain.SourceLexical
		default:
			r.Source = domain.SourceSemantic
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

func clampedScores(results []domain.RetrievalResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = clampUnit(r.Score)
	}
	return out
}

func minMaxNormalize(results []domain.RetrievalResult) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}
	minScore := results[0].Score
	maxScore := results[0].Score
	for _, r := range results[1:] {
		minScore = min(minScore, r.Score)
		maxScore = max(maxScore, r.Score)
	}
	rangeScore := maxScore - minScore
	for i, r := range results {
		if rangeScore <= 0 {
			if r.Score > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (r.Score - minScore) / rangeScore
	}
	return out
}

// reciprocalRanks scales 1/(k+rank+1) by k+1 so the top rank scores 1.
func reciprocalRanks(n, k int) []float64 {
	out := make([]float64, n)
	for rank := range out {
		out[rank] = float64(k+1) / float64(k+rank+1)
	}
	return out
}

func trimResults(results []domain.RetrievalResult, limit int) []domain.RetrievalResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
