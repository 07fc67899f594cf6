package documents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus counters for document lifecycle operations.
//
// Metrics:
//   - docchat_documents_operations_total{operation,result}
//   - docchat_documents_registry_drift_total{operation}: vector store changed
//     but the registry write failed afterwards
type Metrics struct {
	Operations    *prometheus.CounterVec
	RegistryDrift *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docchat",
				Subsystem: "documents",
				Name:      "operations_total",
				Help:      "Document lifecycle operations by result",
			},
			[]string{"operation", "result"}, // result: "ok", "no_index", "error"
		),
		RegistryDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docchat",
				Subsystem: "documents",
				Name:      "registry_drift_total",
				Help:      "Operations that left the registry out of step with the vector store",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) observe(operation string, err error) {
	m.Operations.WithLabelValues(operation, resultLabel(err)).Inc()
}
