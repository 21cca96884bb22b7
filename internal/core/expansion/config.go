package expansion

import (
	"time"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

type Config struct {
	Enabled            bool                    `yaml:"enabled"`
	PseudoRelevantDocs int                     `yaml:"pseudo_relevant_docs"`
	Method             domain.ExtractionMethod `yaml:"method"`

	ShortQueryTokens     int     `yaml:"short_query_tokens"`
	MinInitialConfidence float64 `yaml:"min_initial_confidence"`
	MinCoverage          float64 `yaml:"min_coverage"`

	MinTermLength      int `yaml:"min_term_length"`
	MaxTermLength      int `yaml:"max_term_length"`
	CooccurrenceWindow int `yaml:"cooccurrence_window"`

	MaxExpansionTerms     int     `yaml:"max_expansion_terms"`
	MinTermScore          float64 `yaml:"min_term_score"`
	Diversity             bool    `yaml:"diversity"`
	Lambda                float64 `yaml:"lambda"`
	QuerySimilarityCutoff float64 `yaml:"query_similarity_cutoff"`

	SubstituteMaxTokens     int     `yaml:"substitute_max_tokens"`
	SubstituteMaxConfidence float64 `yaml:"substitute_max_confidence"`
	AppendMinTokens         int     `yaml:"append_min_tokens"`
	AppendMinConfidence     float64 `yaml:"append_min_confidence"`
	OriginalWeight          float64 `yaml:"original_weight"`
	ExpansionWeight         float64 `yaml:"expansion_weight"`

	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		PseudoRelevantDocs:      5,
		Method:                  domain.MethodQueryBiased,
		ShortQueryTokens:        3,
		MinInitialConfidence:    0.6,
		MinCoverage:             0.5,
		MinTermLength:           3,
		MaxTermLength:           20,
		CooccurrenceWindow:      5,
		MaxExpansionTerms:       5,
		MinTermScore:            0.3,
		Diversity:               true,
		Lambda:                  0.7,
		QuerySimilarityCutoff:   0.75,
		SubstituteMaxTokens:     3,
		SubstituteMaxConfidence: 0.5,
		AppendMinTokens:         7,
		AppendMinConfidence:     0.7,
		OriginalWeight:          0.8,
		ExpansionWeight:         0.2,
		CacheTTL:                5 * time.Minute,
		CacheSize:               500,
	}
}

func (c Config) Validate() error {
	const component = "expansion"
	switch c.Method {
	case domain.MethodTFIDF, domain.MethodQueryBiased:
	default:
		return domain.ConfigError(component, "method", "unsupported %q", c.Method)
	}
	if c.PseudoRelevantDocs <= 0 {
		return domain.ConfigError(component, "pseudo_relevant_docs", "must be positive, got %d", c.PseudoRelevantDocs)
	}
	if c.ShortQueryTokens < 0 {
		return domain.ConfigError(component, "short_query_tokens", "must be non-negative")
	}
	for name, v := range map[string]float64{
		"min_initial_confidence":    c.MinInitialConfidence,
		"min_coverage":              c.MinCoverage,
		"min_term_score":            c.MinTermScore,
		"lambda":                    c.Lambda,
		"query_similarity_cutoff":   c.QuerySimilarityCutoff,
		"substitute_max_confidence": c.SubstituteMaxConfidence,
		"append_min_confidence":     c.AppendMinConfidence,
	} {
		if v < 0 || v > 1 {
			return domain.ConfigError(component, name, "must be within [0,1], got %v", v)
		}
	}
	if c.MinTermLength <= 0 || c.MaxTermLength < c.MinTermLength {
		return domain.ConfigError(component, "term_length", "invalid bounds [%d,%d]", c.MinTermLength, c.MaxTermLength)
	}
	if c.CooccurrenceWindow <= 0 {
		return domain.ConfigError(component, "cooccurrence_window", "must be positive")
	}
	if c.MaxExpansionTerms <= 0 {
		return domain.ConfigError(component, "max_expansion_terms", "must be positive, got %d", c.MaxExpansionTerms)
	}
	if c.OriginalWeight <= 0 || c.ExpansionWeight <= 0 {
		return domain.ConfigError(component, "weights", "original and expansion weights must be positive")
	}
	if c.CacheTTL <= 0 {
		return domain.ConfigError(component, "cache_ttl", "must be positive")
	}
	if c.CacheSize <= 0 {
		return domain.ConfigError(component, "cache_size", "must be positive, got %d", c.CacheSize)
	}
	return nil
}
