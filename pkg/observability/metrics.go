package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// File pipeline metrics
	fileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llminster_file_events_total",
			Help: "Total number of watched file events by outcome",
		},
		[]string{"outcome"},
	)

	fileProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llminster_file_processing_duration_seconds",
			Help:    "Time from accepted file event to written answer",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"kind"},
	)

	inflightFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llminster_inflight_files",
			Help: "Number of files currently being processed",
		},
	)

	processedHashes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llminster_processed_hashes",
			Help: "Number of content hashes in the idempotency set",
		},
	)

	// Generation metrics
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llminster_generations_total",
			Help: "Total number of generation calls by provider, model and status",
		},
		[]string{"provider", "model", "status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llminster_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider", "model"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llminster_tokens_total",
			Help: "Tokens consumed by provider, model and direction",
		},
		[]string{"provider", "model", "direction"},
	)

	generationCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llminster_generation_cost_usd_total",
			Help: "Estimated generation cost in USD at list prices",
		},
		[]string{"provider", "model"},
	)

	// Event log metrics
	turnsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llminster_turns_appended_total",
			Help: "Total number of turns appended to the event log",
		},
		[]string{"speaker"},
	)

	sequenceConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llminster_sequence_conflicts_total",
			Help: "Appends rejected because the sequence number was already taken",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			fileEventsTotal,
			fileProcessingDuration,
			inflightFiles,
			processedHashes,
			generationsTotal,
			generationDuration,
			tokensTotal,
			generationCostTotal,
			turnsAppendedTotal,
			sequenceConflictsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordFileEvent counts a terminal file event outcome
func RecordFileEvent(outcome string) {
	fileEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordFileProcessed records how long a processed file took
func RecordFileProcessed(kind string, duration time.Duration) {
	fileProcessingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddInflightFiles adjusts the in-flight gauge by delta
func AddInflightFiles(delta int) {
	inflightFiles.Add(float64(delta))
}

// SetProcessedHashes sets the idempotency set size gauge
func SetProcessedHashes(count int) {
	processedHashes.Set(float64(count))
}

// RecordGeneration records a generation call
func RecordGeneration(provider, model, status string, duration time.Duration) {
	generationsTotal.WithLabelValues(provider, model, status).Inc()
	generationDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens records prompt and completion token usage
func RecordTokens(provider, model string, prompt, completion int) {
	tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

// RecordCost adds an estimated generation cost in USD
func RecordCost(provider, model string, usd float64) {
	generationCostTotal.WithLabelValues(provider, model).Add(usd)
}

// RecordTurnAppended counts a turn appended by the user or a model
func RecordTurnAppended(speaker string) {
	turnsAppendedTotal.WithLabelValues(speaker).Inc()
}

// RecordSequenceConflict counts a rejected optimistic append
func RecordSequenceConflict() {
	sequenceConflictsTotal.Inc()
}
