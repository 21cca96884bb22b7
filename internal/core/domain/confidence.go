package domain

import "time"

type ConfidenceLevel string

const (
	LevelHigh   ConfidenceLevel = "high"
	LevelMedium ConfidenceLevel = "medium"
	LevelLow    ConfidenceLevel = "low"
)

// Rank orders levels so that low < medium < high.
func (l ConfidenceLevel) Rank() int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// LevelThresholds maps a numeric score to a level.
type LevelThresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
}

func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{High: 80, Medium: 50}
}

// LevelFor is the only place a level is derived from a score.
func LevelFor(score float64, t LevelThresholds) ConfidenceLevel {
	switch {
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

type LexicalFeatures struct {
	TokenCount          int     `json:"token_count"`
	HasCourseCode       bool    `json:"has_course_code"`
	HasWeekReference    bool    `json:"has_week_reference"`
	GenericPronounRatio float64 `json:"generic_pronoun_ratio"`
	QuestionWordCount   int     `json:"question_word_count"`
	IsCompleteSentence  bool    `json:"is_complete_sentence"`
	HasTechnicalTerms   bool    `json:"has_technical_terms"`
	Specificity         float64 `json:"specificity"`
	SubScore            float64 `json:"sub_score"`
}

type SemanticFeatures struct {
	KeywordCoverage float64 `json:"keyword_coverage"`
	Ambiguity       float64 `json:"ambiguity"`
	TopicFocus      float64 `json:"topic_focus"`
	MatchedKeywords int     `json:"matched_keywords"`
	SubScore        float64 `json:"sub_score"`
}

type HistoricalFeatures struct {
	MaxSimilarity    float64 `json:"max_similarity"`
	SimilarCount     int     `json:"similar_count"`
	AverageRelevance float64 `json:"average_relevance"`
	HasQueriedTopic  bool    `json:"has_queried_topic"`
	SubScore         float64 `json:"sub_score"`
}

// ConfidenceFeatures is the feature snapshot. Historical is nil when the
// group was not computed, and the combiner renormalizes around it.
type ConfidenceFeatures struct {
	Lexical    LexicalFeatures     `json:"lexical"`
	Semantic   SemanticFeatures    `json:"semantic"`
	Historical *HistoricalFeatures `json:"historical,omitempty"`
}

type ConfidenceScore struct {
	Score     float64            `json:"score"`
	Level     ConfidenceLevel    `json:"level"`
	Reasoning []string           `json:"reasoning"`
	Features  ConfidenceFeatures `json:"features"`
	Timestamp time.Time          `json:"timestamp"`
}

// HistoricalQuery is a past query used for historical features.
type HistoricalQuery struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CourseID     string    `json:"course_id"`
	Query        string    `json:"query"`
	AvgRelevance float64   `json:"avg_relevance"`
	ResultCount  int       `json:"result_count"`
	Successful   bool      `json:"successful"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueryContext is the optional scoring context. History is consulted only
// when UserID is set and HistoryEnabled is true. Keywords overrides the
// scorer's default keyword set when non-nil.
type QueryContext struct {
	UserID         string
	CourseID       string
	HistoryEnabled bool
	History        []HistoricalQuery
	Keywords       map[string]struct{}
}

// HistoryUsable reports whether the historical feature group applies.
func (qc QueryContext) HistoryUsable() bool {
	return qc.UserID != "" && qc.HistoryEnabled
}
