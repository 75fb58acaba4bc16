package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Created       prometheus.Counter
	Released      *prometheus.CounterVec
	Active        prometheus.Gauge
	GatewayErrors prometheus.Counter
}

// NewMetrics creates an unregistered metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooldownd",
			Name:      "grants_created_total",
			Help:      "Grants successfully created.",
		}),
		Released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cooldownd",
			Name:      "grants_released_total",
			Help:      "Grants released, by reason.",
		}, []string{"reason"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cooldownd",
			Name:      "grants_active",
			Help:      "Grants currently active.",
		}),
		GatewayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooldownd",
			Name:      "gateway_errors_total",
			Help:      "Individual entitlement operations that failed at the platform gateway.",
		}),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Created, m.Released, m.Active, m.GatewayErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
