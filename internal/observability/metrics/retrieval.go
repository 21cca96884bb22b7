package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

// RetrievalMetrics records pipeline signals. It satisfies
// ports.PipelineObserver.
type RetrievalMetrics struct {
	service string

	confidenceTotal  *prometheus.CounterVec
	confidenceScore  prometheus.Histogram
	routingTotal     *prometheus.CounterVec
	cacheLookupTotal *prometheus.CounterVec
	expansionTotal   *prometheus.CounterVec
	degradedTotal    *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	reindexTotal     *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

func NewRetrievalMetrics(registry *prometheus.Registry, service string) *RetrievalMetrics {
	confidenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "confidence",
			Name:      "queries_total",
			Help:      "Scored queries by confidence level.",
		},
		[]string{"service", "level"},
	)
	confidenceScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ar",
			Subsystem: "confidence",
			Name:      "score",
			Help:      "Distribution of query confidence scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	routingTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by action.",
		},
		[]string{"service", "action"},
	)
	cacheLookupTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "router",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		},
		[]string{"service", "result"},
	)
	expansionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "expansion",
			Name:      "queries_total",
			Help:      "Expansion outcomes by reformulation strategy.",
		},
		[]string{"service", "strategy"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Retrievals that ran without one of the retrievers.",
		},
		[]string{"service", "source"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ar",
			Subsystem: "retrieval",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end context assembly duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "partial"},
	)
	reindexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ar",
			Subsystem: "corpus",
			Name:      "reindex_events_total",
			Help:      "Corpus reindex notifications handled.",
		},
		[]string{"service", "status"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ar",
			Subsystem: "dependency",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "group", "operation"},
	)

	registry.MustRegister(
		confidenceTotal,
		confidenceScore,
		routingTotal,
		cacheLookupTotal,
		expansionTotal,
		degradedTotal,
		pipelineDuration,
		reindexTotal,
		breakerState,
	)

	return &RetrievalMetrics{
		service:          service,
		confidenceTotal:  confidenceTotal,
		confidenceScore:  confidenceScore,
		routingTotal:     routingTotal,
		cacheLookupTotal: cacheLookupTotal,
		expansionTotal:   expansionTotal,
		degradedTotal:    degradedTotal,
		pipelineDuration: pipelineDuration,
		reindexTotal:     reindexTotal,
		breakerState:     breakerState,
	}
}

func (m *RetrievalMetrics) ObserveConfidence(level domain.ConfidenceLevel, score float64) {
	m.confidenceTotal.WithLabelValues(m.service, string(level)).Inc()
	m.confidenceScore.Observe(score)
}

func (m *RetrievalMetrics) ObserveRouting(action domain.RoutingAction) {
	m.routingTotal.WithLabelValues(m.service, string(action)).Inc()
}

func (m *RetrievalMetrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupTotal.WithLabelValues(m.service, result).Inc()
}

func (m *RetrievalMetrics) ObserveExpansion(strategy domain.ExpansionStrategy) {
	if strategy == "" {
		strategy = domain.StrategyNone
	}
	m.expansionTotal.WithLabelValues(m.service, string(strategy)).Inc()
}

func (m *RetrievalMetrics) ObserveDegraded(source domain.Source) {
	m.degradedTotal.WithLabelValues(m.service, string(source)).Inc()
}

func (m *RetrievalMetrics) ObservePipeline(duration time.Duration, partial bool) {
	label := "false"
	if partial {
		label = "true"
	}
	m.pipelineDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *RetrievalMetrics) ObserveReindex(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reindexTotal.WithLabelValues(m.service, status).Inc()
}

// BreakerHook returns a breaker state callback for the named dependency group.
func (m *RetrievalMetrics) BreakerHook(group string) func(operation, state string) {
	return func(operation, state string) {
		value := 0.0
		switch state {
		case "half-open":
			value = 1
		case "open":
			value = 2
		}
		m.breakerState.WithLabelValues(m.service, group, operation).Set(value)
	}
}

// RegisterCacheStats exposes router cache counters read at scrape time.
func RegisterCacheStats(registry *prometheus.Registry, service string, stats func() domain.CacheStats) {
	labels := prometheus.Labels{"service": service}
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "ar",
			Subsystem:   "router",
			Name:        "cache_entries",
			Help:        "Entries currently held by the result cache.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "ar",
			Subsystem:   "router",
			Name:        "cache_evictions_total",
			Help:        "Entries evicted under capacity pressure.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "ar",
			Subsystem:   "router",
			Name:        "cache_expired_total",
			Help:        "Entries dropped after their TTL elapsed.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Expired) }),
	)
}

func RegisterExpansionStats(registry *prometheus.Registry, service string, stats func() domain.ExpansionStats) {
	labels := prometheus.Labels{"service": service}
	counter := func(name, help string, read func(domain.ExpansionStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "ar",
			Subsystem:   "expansion",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(read(stats())) })
	}
	registry.MustRegister(
		counter("attempts_total", "Second-pass expansion attempts.", func(s domain.ExpansionStats) int64 { return s.Attempts }),
		counter("expanded_total", "Attempts that produced a reformulated query.", func(s domain.ExpansionStats) int64 { return s.Expanded }),
		counter("skipped_total", "Attempts that found no usable terms.", func(s domain.ExpansionStats) int64 { return s.Skipped }),
		counter("cache_hits_total", "Expansions served from the expansion cache.", func(s domain.ExpansionStats) int64 { return s.CacheHits }),
	)
}
