package domain

import "time"

type RoutingAction string

const (
	ActionUseCache           RoutingAction = "use-cache"
	ActionRetrieveStandard   RoutingAction = "retrieve-standard"
	ActionRetrieveExpanded   RoutingAction = "retrieve-expanded"
	ActionRetrieveAggressive RoutingAction = "retrieve-aggressive"
)

type RoutingDecision struct {
	Action            RoutingAction   `json:"action"`
	ShouldRetrieve    bool            `json:"should_retrieve"`
	ShouldExpandQuery bool            `json:"should_expand_query"`
	RetrievalLimit    int             `json:"retrieval_limit"`
	CacheTTL          time.Duration   `json:"cache_ttl"`
	CacheKey          string          `json:"cache_key"`
	Confidence        ConfidenceScore `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	Timestamp         time.Time       `json:"timestamp"`
}

type CachedResult struct {
	Key             string            `json:"key"`
	NormalizedQuery string            `json:"normalized_query"`
	Scope           string            `json:"scope"`
	Results         []RetrievalResult `json:"results"`
	ContextText     string            `json:"context_text,omitempty"`
	Confidence      ConfidenceScore   `json:"confidence"`
	CachedAt        time.Time         `json:"cached_at"`
	TTL             time.Duration     `json:"ttl"`
	HitCount        int               `json:"hit_count"`
}

// ExpiredAt reports whether the entry is past its TTL at now.
func (c CachedResult) ExpiredAt(now time.Time) bool {
	return now.Sub(c.CachedAt) >= c.TTL
}

type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}
