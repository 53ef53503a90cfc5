// Package metrics exposes firewall and forwarding counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kappakonnect/edgeguard/internal/audit"
)

// Metrics owns a private registry so tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	verdicts       *prometheus.CounterVec
	forwards       *prometheus.CounterVec
	forwardLatency *prometheus.HistogramVec
	storeErrors    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeguard",
			Name:      "verdicts_total",
			Help:      "Inspected requests by verdict and threat label.",
		}, []string{"verdict", "threat"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgeguard",
			Name:      "forwards_total",
			Help:      "Requests forwarded to the origin by strategy and status code.",
		}, []string{"strategy", "code"}),
		forwardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgeguard",
			Name:      "forward_duration_seconds",
			Help:      "Origin round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeguard",
			Name:      "rate_store_errors_total",
			Help:      "Rate store failures handled by the fail-open/fail-closed policy.",
		}),
	}
	m.registry.MustRegister(
		m.verdicts,
		m.forwards,
		m.forwardLatency,
		m.storeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Record implements audit.Recorder.
func (m *Metrics) Record(_ context.Context, ev audit.Event) {
	m.verdicts.WithLabelValues(ev.Verdict, ev.Threat).Inc()
}

// ObserveForward records one origin round trip. status 0 means the request failed.
func (m *Metrics) ObserveForward(strategy string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.forwards.WithLabelValues(strategy, code).Inc()
	m.forwardLatency.WithLabelValues(strategy).Observe(d.Seconds())
}

// StoreError counts a rate store failure.
func (m *Metrics) StoreError() {
	m.storeErrors.Inc()
}

// MemoryStoreStats is the view of the in-memory rate store exported as metrics.
type MemoryStoreStats interface {
	Len() int
	Evictions() uint64
}

// WatchMemoryStore exports the store's key count and LRU evictions. Call it
// at most once per Metrics.
func (m *Metrics) WatchMemoryStore(s MemoryStoreStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "edgeguard",
			Name:      "rate_store_keys",
			Help:      "Client keys held by the in-memory rate store.",
		}, func() float64 { return float64(s.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "edgeguard",
			Name:      "rate_store_evictions_total",
			Help:      "Client keys evicted from the in-memory rate store before their window ended.",
		}, func() float64 { return float64(s.Evictions()) }),
	)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
