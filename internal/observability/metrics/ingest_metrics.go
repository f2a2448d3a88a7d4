package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	IngestSourceUpload = "upload"
	IngestSourceCLI    = "cli"

	IngestFailureReasonValidation = "validation"
	IngestFailureReasonStorage    = "storage"
)

// IngestMetrics captures ingestion pipeline health signals.
type IngestMetrics struct {
	batches  *prometheus.CounterVec
	records  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	ingestMetricsOnce sync.Once
	ingestMetrics     *IngestMetrics
)

// Ingest returns the singleton ingestion metrics registry.
func Ingest() *IngestMetrics {
	return IngestWithConfig(Config{})
}

// IngestWithConfig returns the singleton ingestion metrics registry using config labels.
func IngestWithConfig(cfg Config) *IngestMetrics {
	ingestMetricsOnce.Do(func() {
		ingestMetrics = newIngestMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ingestMetrics
}

// ResetIngestMetricsForTest resets the ingestion metrics singleton for tests.
func ResetIngestMetricsForTest() {
	ingestMetricsOnce = sync.Once{}
	ingestMetrics = nil
}

func newIngestMetrics(registerer prometheus.Registerer, cfg Config) *IngestMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "netpulse"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netpulse_ingest_batches_total",
		Help:        "Completed ingestion runs by source.",
		ConstLabels: constLabels,
	}, []string{"source"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netpulse_ingest_rows_total",
		Help:        "Usage records inserted by ingestion runs.",
		ConstLabels: constLabels,
	}, []string{"source"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "netpulse_ingest_failures_total",
		Help:        "Failed ingestion runs by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"source", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "netpulse_ingest_duration_seconds",
		Help:        "Ingestion run latency including validation and batch inserts.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"source"})

	for _, collector := range []prometheus.Collector{batches, records, failures, duration} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &IngestMetrics{
		batches:  batches,
		records:  records,
		failures: failures,
		duration: duration,
	}
}

// ObserveBatch records a completed ingestion run.
func (m *IngestMetrics) ObserveBatch(source string, recordCount int, seconds float64) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(source).Inc()
	m.records.WithLabelValues(source).Add(float64(recordCount))
	m.duration.WithLabelValues(source).Observe(seconds)
}

// ObserveFailure records a failed ingestion run.
func (m *IngestMetrics) ObserveFailure(source, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source, reason).Inc()
}
