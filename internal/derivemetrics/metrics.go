// Package derivemetrics exposes the handful of counters worth tracking
// across a derivation run: how many L2 blocks were derived, and how many
// batches/channels/frames were dropped by the local-protocol-drop class
// of error (spec.md §7). The zero value is a working no-op implementation
// so the derive package never requires a Prometheus registry to function.
package derivemetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the interface derive.DeriveMachine reports through.
type Metrics interface {
	RecordDerivedBlock(l2Number uint64)
	RecordDrop(reason string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDerivedBlock(uint64) {}
func (NoopMetrics) RecordDrop(string)         {}

// PrometheusMetrics is the real implementation, in the shape every
// long-running op-node component ships (a struct of vectors registered
// against a single registry at construction time).
type PrometheusMetrics struct {
	derivedBlocks prometheus.Counter
	drops         *prometheus.CounterVec
}

// NewPrometheusMetrics registers counters against reg and returns a
// Metrics implementation backed by them.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		derivedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derived_l2_blocks_total",
			Help:      "Number of L2 blocks successfully derived and matched against their witness header.",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivation_drops_total",
			Help:      "Number of local-protocol-drop events, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.derivedBlocks, m.drops)
	return m
}

func (m *PrometheusMetrics) RecordDerivedBlock(uint64) {
	m.derivedBlocks.Inc()
}

func (m *PrometheusMetrics) RecordDrop(reason string) {
	m.drops.WithLabelValues(reason).Inc()
}
