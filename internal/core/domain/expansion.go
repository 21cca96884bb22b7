package domain

import "time"

type ExpansionStrategy string

const (
	StrategyAppend     ExpansionStrategy = "append"
	StrategyReweight   ExpansionStrategy = "reweight"
	StrategySubstitute ExpansionStrategy = "substitute"
	StrategyNone       ExpansionStrategy = "none"
)

type ExtractionMethod string

const (
	MethodTFIDF       ExtractionMethod = "tfidf"
	MethodQueryBiased ExtractionMethod = "query-biased"
)

type ExpansionTerm struct {
	Term            string   `json:"term"`
	Score           float64  `json:"score"`
	SourceDocuments []string `json:"source_documents"`
	Frequency       int      `json:"frequency"`
	TFIDF           float64  `json:"tfidf"`
}

type ExpansionMetadata struct {
	Expanded          bool          `json:"expanded"`
	CandidateCount    int           `json:"candidate_count"`
	InitialConfidence float64       `json:"initial_confidence"`
	Coverage          float64       `json:"coverage"`
	PseudoRelevant    int           `json:"pseudo_relevant_docs"`
	Latency           time.Duration `json:"latency"`
	CacheHit          bool          `json:"cache_hit"`
	Reason            string        `json:"reason,omitempty"`
}

type ExpandedQuery struct {
	Original       string            `json:"original"`
	ExpansionTerms []ExpansionTerm   `json:"expansion_terms"`
	Reformulated   string            `json:"reformulated"`
	Strategy       ExpansionStrategy `json:"strategy"`
	Metadata       ExpansionMetadata `json:"metadata"`
}

// Unexpanded returns the identity expansion for query.
func Unexpanded(query string, meta ExpansionMetadata) ExpandedQuery {
	meta.Expanded = false
	return ExpandedQuery{
		Original:       query,
		ExpansionTerms: []ExpansionTerm{},
		Reformulated:   query,
		Strategy:       StrategyNone,
		Metadata:       meta,
	}
}

type ExpansionStats struct {
	Attempts  int64 `json:"attempts"`
	Expanded  int64 `json:"expanded"`
	Skipped   int64 `json:"skipped"`
	CacheHits int64 `json:"cache_hits"`
}
