package domain

// Source attributes a retrieval result to the retriever that produced it.
type Source string

const (
	SourceLexical  Source = "lexical"
	SourceSemantic Source = "semantic"
	SourceHybrid   Source = "hybrid"
	SourceCache    Source = "cache"
)

// GeneralScope is the cache/search scope used when no course applies.
const GeneralScope = "general"

type SearchFilter struct {
	CourseID string
}

// Scope returns the course id or GeneralScope.
func (f SearchFilter) Scope() string {
	if f.CourseID == "" {
		return GeneralScope
	}
	return f.CourseID
}

// RetrievalResult is one ranked document. Content is carried when the
// retriever has it so pseudo-relevance feedback can avoid another lookup.
type RetrievalResult struct {
	DocumentID    string   `json:"document_id"`
	Score         float64  `json:"score"`
	Source        Source   `json:"source"`
	Content       string   `json:"content,omitempty"`
	LexicalScore  float64  `json:"lexical_score,omitempty"`
	SemanticScore float64  `json:"semantic_score,omitempty"`
	Metadata      Metadata `json:"metadata"`
}

// Metadata records why a document surfaced.
type Metadata struct {
	QueryExpanded bool               `json:"query_expanded"`
	Expansion     *ExpansionMetadata `json:"expansion,omitempty"`
	Pass          int                `json:"pass,omitempty"`
}

// CorpusStats is a read-only document-frequency snapshot for IDF.
type CorpusStats struct {
	DocumentCount     int
	DocumentFrequency map[string]int
}

// DF returns the document frequency of term, zero when unknown.
func (s CorpusStats) DF(term string) int {
	if s.DocumentFrequency == nil {
		return 0
	}
	return s.DocumentFrequency[term]
}

// Material is a course document as returned by the materials provider.
type Material struct {
	ID       string   `json:"id"`
	CourseID string   `json:"course_id"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// UserContext is the optional caller identity used for historical features.
type UserContext struct {
	UserID         string `json:"user_id"`
	HistoryEnabled bool   `json:"history_enabled"`
}

// AnswerContext is the response of the retrieval pipeline.
type AnswerContext struct {
	Query       string            `json:"query"`
	CourseID    string            `json:"course_id,omitempty"`
	Results     []RetrievalResult `json:"results"`
	Confidence  ConfidenceScore   `json:"confidence"`
	Routing     RoutingDecision   `json:"routing"`
	Expansion   *ExpandedQuery    `json:"expansion,omitempty"`
	ContextText string            `json:"context_text,omitempty"`
	CacheHit    bool              `json:"cache_hit"`
	Partial     bool              `json:"partial"`
	Degraded    []Source          `json:"degraded,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
}

// Answer couples the generated text with the retrieval trail that produced it.
type Answer struct {
	Text    string        `json:"text"`
	Context AnswerContext `json:"context"`
}
