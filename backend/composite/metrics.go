package composite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes a composite Backend's Stats as Prometheus gauges. The
// underlying counters are already monotonic, process-local accumulators,
// so Observe sets gauge values from a snapshot rather than re-deriving
// deltas.
type Metrics struct {
	requests   *prometheus.GaugeVec
	failures   *prometheus.GaugeVec
	switches   *prometheus.GaugeVec
	circuit    prometheus.Gauge
	consecFail prometheus.Gauge
}

// NewMetrics registers a Metrics exporter under namespace on reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		requests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "composite",
			Name:      "requests_total",
			Help:      "Requests served by the composite rate-limit backend, by which backend handled them.",
		}, []string{"backend"}),
		failures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "composite",
			Name:      "failures_total",
			Help:      "Failed CheckLimit attempts against the composite rate-limit backend, by which backend failed.",
		}, []string{"backend"}),
		switches: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "composite",
			Name:      "switches_total",
			Help:      "Backend switches performed by the composite rate-limit backend, by direction.",
		}, []string{"direction"}),
		circuit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "composite",
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
		}),
		consecFail: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "composite",
			Name:      "consecutive_primary_failures",
			Help:      "Current consecutive primary failure count tracked by the circuit breaker.",
		}),
	}
	return m
}

// Observe sets every gauge from a Stats snapshot.
func (m *Metrics) Observe(stats Stats) {
	m.requests.WithLabelValues("primary").Set(float64(stats.PrimaryRequests))
	m.requests.WithLabelValues("fallback").Set(float64(stats.FallbackRequests))
	m.failures.WithLabelValues("primary").Set(float64(stats.PrimaryFailures))
	m.failures.WithLabelValues("fallback").Set(float64(stats.FallbackFailures))
	m.switches.WithLabelValues("to_primary").Set(float64(stats.SwitchesToPrimary))
	m.switches.WithLabelValues("to_fallback").Set(float64(stats.SwitchesToFallback))
	m.circuit.Set(float64(stats.CircuitState))
	m.consecFail.Set(float64(stats.ConsecutiveFailures))
}
