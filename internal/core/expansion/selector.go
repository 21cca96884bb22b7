package expansion

import (
	"sort"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/core/textproc"
)

// Selector picks a bounded, diverse subset of candidate terms.
type Selector struct {
	maxTerms  int
	minScore  float64
	diversity bool
	lambda    float64
	cutoff    float64
}

func NewSelector(cfg Config) *Selector {
	return &Selector{
		maxTerms:  cfg.MaxExpansionTerms,
		minScore:  cfg.MinTermScore,
		diversity: cfg.Diversity,
		lambda:    cfg.Lambda,
		cutoff:    cfg.QuerySimilarityCutoff,
	}
}

// SelectTerms returns at most maxTerms candidates scoring at least minScore.
// With diversity enabled the picks follow maximal marginal relevance over
// character-bigram similarity.
func (s *Selector) SelectTerms(candidates []domain.ExpansionTerm, originalQuery string) []domain.ExpansionTerm {
	queryTokens := textproc.Tokenize(originalQuery)

	pool := make([]domain.ExpansionTerm, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < s.minScore || s.nearQuery(c.Term, queryTokens) {
			continue
		}
		pool = append(pool, c)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return pool[i].Term < pool[j].Term
	})

	if !s.diversity || len(pool) <= 1 {
		if len(pool) > s.maxTerms {
			pool = pool[:s.maxTerms]
		}
		return pool
	}

	selected := make([]domain.ExpansionTerm, 0, s.maxTerms)
	used := make([]bool, len(pool))
	for len(selected) < s.maxTerms && len(selected) < len(pool) {
		best := -1
		bestMMR := 0.0
		for i, c := range pool {
			if used[i] {
				continue
			}
			redundancy := 0.0
			for _, chosen := range selected {
				if sim := textproc.BigramSimilarity(c.Term, chosen.Term); sim > redundancy {
					redundancy = sim
				}
			}
			mmr := s.lambda*c.Score - (1-s.lambda)*redundancy
			if best < 0 || mmr > bestMMR {
				best, bestMMR = i, mmr
			}
		}
		used[best] = true
		selected = append(selected, pool[best])
	}
	return selected
}

func (s *Selector) nearQuery(term string, queryTokens []string) bool {
	for _, q := range queryTokens {
		if q == term || textproc.BigramSimilarity(term, q) >= s.cutoff {
			return true
		}
	}
	return false
}
