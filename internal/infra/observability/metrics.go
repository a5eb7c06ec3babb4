package observability

import (
	"time"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Defect kinds reported by the invoice ledger.
const (
	DefectNegative = "negative"
	DefectOverflow = "overflow"
	DefectDrift    = "drift"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	aggregateDefects *prometheus.CounterVec
	ledgerRecords    prometheus.Histogram
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_mutations_total",
				Help: "Invoice ledger mutations by operation and result.",
			},
			[]string{"op", "result"},
		),
		aggregateDefects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoice_aggregate_defects_total",
				Help: "Aggregation defects detected by the invoice ledger.",
			},
			[]string{"kind"},
		),
		ledgerRecords: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "invoice_ledger_records",
				Help:    "Number of records installed by a load.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrMutation counts one ledger mutation; result is "success" or "error".
func (m *Metrics) IncrMutation(op, result string) {
	m.mutations.WithLabelValues(op, result).Inc()
}

// IncrDefect counts one aggregation defect of the given kind.
func (m *Metrics) IncrDefect(kind string) {
	m.aggregateDefects.WithLabelValues(kind).Inc()
}

// ObserveLoadSize records how many records a load installed.
func (m *Metrics) ObserveLoadSize(n int) {
	m.ledgerRecords.Observe(float64(n))
}

// DefectCount returns the cumulative number of defects of a kind.
func (m *Metrics) DefectCount(kind string) float64 {
	return getCounterValue(m.aggregateDefects, kind)
}

// GetLedgerSnapshot returns the ledger counters in the shape served by
// GET /v1/metrics/ledger.
func (m *Metrics) GetLedgerSnapshot(activeSessions int) *domain.LedgerMetrics {
	hits := getCounterValue(m.cacheHits, "session")
	misses := getCounterValue(m.cacheMisses, "session")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	failed := float64(0)
	for _, op := range []string{"load", "create", "transition"} {
		failed += getCounterValue(m.mutations, op, "error")
	}

	return &domain.LedgerMetrics{
		Loads:           int64(getCounterValue(m.mutations, "load", "success")),
		Creates:         int64(getCounterValue(m.mutations, "create", "success")),
		Transitions:     int64(getCounterValue(m.mutations, "transition", "success")),
		FailedMutations: int64(failed),
		NegativeDefects: int64(m.DefectCount(DefectNegative)),
		OverflowDefects: int64(m.DefectCount(DefectOverflow)),
		DriftDefects:    int64(m.DefectCount(DefectDrift)),
		UpstreamErrors:  int64(getCounterValue(m.externalErrors, "invoice-api")),
		SessionHitRate:  hitRate,
		ActiveSessions:  activeSessions,
		Period:          "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
