package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/reshard/internal/resharding"
)

// Metrics holds the persistence engine's Prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "reshard",
			Subsystem: "persistence",
			Name:      "operations_total",
			Help:      "Persistence engine calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reshard",
			Subsystem: "persistence",
			Name:      "operation_duration_seconds",
			Help:      "Latency of persistence engine calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// observe records one call. A nil receiver records nothing.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return resharding.KindOf(err).String()
}
