package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InquiryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_agent_inquiry_duration_seconds",
			Help:    "Inquiry processing duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"category"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_agent_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	InquiryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_inquiry_total",
			Help: "Total number of inquiries processed",
		},
		[]string{"category", "outcome"},
	)

	BestDistance = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_agent_best_distance",
			Help:    "Best cosine distance of internal document retrieval",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.65, 0.8, 1.0, 1.5, 2.0},
		},
		[]string{"corpus"},
	)

	WebFallbackTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_web_fallback_total",
			Help: "Web search fallbacks by result",
		},
		[]string{"result"},
	)

	WindowEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "store_agent_window_escalations_total",
			Help: "Times the analytics window was widened because it had no rows",
		},
	)

	ClassificationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_classification_fallback_total",
			Help: "Classifications that fell back to the default category",
		},
		[]string{"reason"},
	)

	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "store_agent_persistence_failures_total",
			Help: "Inquiries that could not be recorded",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"stage", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	UserFeedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_feedback_total",
			Help: "Answer feedback by helpfulness",
		},
		[]string{"helpful"},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_agent_documents_ingested_total",
			Help: "Knowledge-base documents ingested",
		},
		[]string{"corpus"},
	)

	DistanceThreshold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_agent_distance_threshold",
			Help: "Current quality gate distance threshold",
		},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			InquiryDuration,
			StageDuration,
			InquiryTotal,
			BestDistance,
			WebFallbackTriggered,
			WindowEscalations,
			ClassificationFallbacks,
			PersistenceFailures,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			UserFeedback,
			DocumentsIngested,
			DistanceThreshold,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
