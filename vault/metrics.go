package vault

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricOperationsTotal      = "evidence_vault_operations_total"
	MetricOperationDuration    = "evidence_vault_operation_duration_seconds"
	MetricIntegrityViolations  = "evidence_vault_integrity_violations_total"
	MetricCustodyConflicts     = "evidence_vault_custody_conflicts_total"
	MetricCustodyUnrecorded    = "evidence_vault_custody_unrecorded_total"
	MetricSearchScannedObjects = "evidence_vault_search_scanned_objects"
)

// Integrity violation kinds
const (
	ViolationCiphertext = "ciphertext"
	ViolationDigest     = "digest"
	ViolationChain      = "chain"
	ViolationMetadata   = "metadata"
)

// Metrics contains Prometheus metrics for vault operations.
// The collectors are not registered; call Register.
type Metrics struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	violations        *prometheus.CounterVec
	custodyConflicts  prometheus.Counter
	custodyUnrecorded prometheus.Counter
	scanned           prometheus.Histogram
}

// NewMetrics creates the vault collectors
func NewMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricOperationsTotal,
				Help: "Total number of vault operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricOperationDuration,
				Help:    "Histogram of vault operation duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIntegrityViolations,
				Help: "Total number of detected integrity violations by kind",
			},
			[]string{"kind"},
		),
		custodyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCustodyConflicts,
			Help: "Total number of lost optimistic custody writes",
		}),
		custodyUnrecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCustodyUnrecorded,
			Help: "Total number of retrievals whose RETRIEVE entry could not be persisted",
		}),
		scanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSearchScannedObjects,
			Help:    "Number of objects scanned per search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

// Register registers all metrics with reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations,
		m.duration,
		m.violations,
		m.custodyConflicts,
		m.custodyUnrecorded,
		m.scanned,
	}
}

func (m *Metrics) observe(operation, status string, seconds float64) {
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) incViolation(kind string) {
	m.violations.WithLabelValues(kind).Inc()
}

func (m *Metrics) incConflict() {
	m.custodyConflicts.Inc()
}

func (m *Metrics) incUnrecorded() {
	m.custodyUnrecorded.Inc()
}

// ObserveScan records the number of objects one search scanned
func (m *Metrics) ObserveScan(scanned int) {
	m.scanned.Observe(float64(scanned))
}
