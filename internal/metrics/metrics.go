// Package metrics exposes Prometheus collectors for probe cycles,
// publication and ledger transitions. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cidwatch/internal/evidence"
)

const namespace = "cidwatch"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	probes          *prometheus.CounterVec
	probeLatency    *prometheus.HistogramVec
	cycles          *prometheus.CounterVec
	publishAttempts *prometheus.CounterVec
	ledgerOps       *prometheus.CounterVec
	breaches        *prometheus.GaugeVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Availability probes by gateway and result.",
		}, []string{"gateway", "result"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of successful probes.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"gateway"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed monitoring cycles by verdict.",
		}, []string{"status"}),
		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Evidence pack upload attempts by outcome.",
		}, []string{"outcome"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transitions_total",
			Help:      "Economics state transitions by operation and outcome.",
		}, []string{"op", "outcome"}),
		breaches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_breaches",
			Help:      "Consecutive BREACH cycles recorded per CID.",
		}, []string{"cid"}),
	}
	m.registry.MustRegister(m.probes, m.probeLatency, m.cycles, m.publishAttempts, m.ledgerOps, m.breaches)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one probe result.
func (m *Metrics) ObserveProbe(r evidence.ProbeResult) {
	if m == nil {
		return
	}
	result := "ok"
	if !r.OK {
		result = string(r.Reason())
	}
	m.probes.WithLabelValues(r.Gateway, result).Inc()
	if r.OK && r.LatencyMs != nil {
		m.probeLatency.WithLabelValues(r.Gateway).Observe(float64(*r.LatencyMs) / 1000)
	}
}

// ObserveCycle counts a classified cycle.
func (m *Metrics) ObserveCycle(status string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
}

// ObservePublish counts one upload attempt; outcome is "ok", "retry" or "failed".
func (m *Metrics) ObservePublish(outcome string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(outcome).Inc()
}

// ObserveLedger counts one economics transition.
func (m *Metrics) ObserveLedger(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}

// SetConsecutiveBreaches publishes the current breach counter for cid.
func (m *Metrics) SetConsecutiveBreaches(cid string, n uint64) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(cid).Set(float64(n))
}
