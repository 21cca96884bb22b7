package confidence

import (
	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type LexicalWeights struct {
	Length           float64 `yaml:"length"`
	LengthSaturation int     `yaml:"length_saturation"`
	CourseCode       float64 `yaml:"course_code"`
	WeekReference    float64 `yaml:"week_reference"`
	TechnicalTerms   float64 `yaml:"technical_terms"`
	QuestionWords    float64 `yaml:"question_words"`
	CompleteSentence float64 `yaml:"complete_sentence"`
	PronounPenalty   float64 `yaml:"pronoun_penalty"`
}

type SemanticWeights struct {
	Coverage float64 `yaml:"coverage"`
	Focus    float64 `yaml:"focus"`
	FocusCap int     `yaml:"focus_cap"`
	Clarity  float64 `yaml:"clarity"`
}

type HistoricalWeights struct {
	Similarity          float64 `yaml:"similarity"`
	Count               float64 `yaml:"count"`
	CountCap            int     `yaml:"count_cap"`
	Relevance           float64 `yaml:"relevance"`
	Topic               float64 `yaml:"topic"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopicThreshold      float64 `yaml:"topic_threshold"`
}

type Config struct {
	Thresholds       domain.LevelThresholds `yaml:"thresholds"`
	MinQueryLength   int                    `yaml:"min_query_length"`
	MaxQueryLength   int                    `yaml:"max_query_length"`
	LexicalWeight    float64                `yaml:"lexical_weight"`
	SemanticWeight   float64                `yaml:"semantic_weight"`
	HistoricalWeight float64                `yaml:"historical_weight"`
	Lexical          LexicalWeights         `yaml:"lexical"`
	Semantic         SemanticWeights        `yaml:"semantic"`
	Historical       HistoricalWeights      `yaml:"historical"`
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       domain.DefaultLevelThresholds(),
		MinQueryLength:   3,
		MaxQueryLength:   500,
		LexicalWeight:    0.4,
		SemanticWeight:   0.4,
		HistoricalWeight: 0.2,
		Lexical: LexicalWeights{
			Length:           30,
			LengthSaturation: 8,
			CourseCode:       15,
			WeekReference:    10,
			TechnicalTerms:   20,
			QuestionWords:    10,
			CompleteSentence: 15,
			PronounPenalty:   30,
		},
		Semantic: SemanticWeights{
			Coverage: 60,
			Focus:    25,
			FocusCap: 5,
			Clarity:  15,
		},
		Historical: HistoricalWeights{
			Similarity:          40,
			Count:               20,
			CountCap:            3,
			Relevance:           30,
			Topic:               10,
			SimilarityThreshold: 0.5,
			TopicThreshold:      0.2,
		},
	}
}

func (c Config) Validate() error {
	const component = "confidence"
	t := c.Thresholds
	if t.High < 0 || t.High > 100 {
		return domain.ConfigError(component, "thresholds.high", "must be within [0,100], got %v", t.High)
	}
	if t.Medium <= 0 || t.Medium > 100 {
		return domain.ConfigError(component, "thresholds.medium", "must be within (0,100], got %v", t.Medium)
	}
	if t.Medium > t.High {
		return domain.ConfigError(component, "thresholds", "medium %v exceeds high %v", t.Medium, t.High)
	}
	if c.MinQueryLength < 0 {
		return domain.ConfigError(component, "min_query_length", "must be >= 0, got %d", c.MinQueryLength)
	}
	if c.MaxQueryLength <= c.MinQueryLength {
		return domain.ConfigError(component, "max_query_length", "must exceed min_query_length, got %d", c.MaxQueryLength)
	}
	if c.LexicalWeight < 0 || c.SemanticWeight < 0 || c.HistoricalWeight < 0 {
		return domain.ConfigError(component, "weights", "must be non-negative")
	}
	if c.LexicalWeight+c.SemanticWeight <= 0 {
		return domain.ConfigError(component, "weights", "lexical and semantic weights must not both be zero")
	}

	for name, w := range map[string]float64{
		"lexical.length":            c.Lexical.Length,
		"lexical.course_code":       c.Lexical.CourseCode,
		"lexical.week_reference":    c.Lexical.WeekReference,
		"lexical.technical_terms":   c.Lexical.TechnicalTerms,
		"lexical.question_words":    c.Lexical.QuestionWords,
		"lexical.complete_sentence": c.Lexical.CompleteSentence,
		"lexical.pronoun_penalty":   c.Lexical.PronounPenalty,
		"semantic.coverage":         c.Semantic.Coverage,
		"semantic.focus":            c.Semantic.Focus,
		"semantic.clarity":          c.Semantic.Clarity,
		"historical.similarity":     c.Historical.Similarity,
		"historical.count":          c.Historical.Count,
		"historical.relevance":      c.Historical.Relevance,
		"historical.topic":          c.Historical.Topic,
	} {
		if w < 0 {
			return domain.ConfigError(component, name, "must be non-negative, got %v", w)
		}
	}
	if c.Lexical.LengthSaturation <= 0 {
		return domain.ConfigError(component, "lexical.length_saturation", "must be positive")
	}
	if c.Semantic.FocusCap <= 0 {
		return domain.ConfigError(component, "semantic.focus_cap", "must be positive")
	}
	if c.Historical.CountCap <= 0 {
		return domain.ConfigError(component, "historical.count_cap", "must be positive")
	}
	if c.Historical.SimilarityThreshold < 0 || c.Historical.SimilarityThreshold > 1 {
		return domain.ConfigError(component, "historical.similarity_threshold", "must be within [0,1]")
	}
	if c.Historical.TopicThreshold < 0 || c.Historical.TopicThreshold > 1 {
		return domain.ConfigError(component, "historical.topic_threshold", "must be within [0,1]")
	}
	return nil
}
