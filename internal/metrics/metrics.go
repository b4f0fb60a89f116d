package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the reconciliation metrics. Each instance owns its registry
// so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Passes by outcome (completed, partial, failed, dropped)
	Passes *prometheus.CounterVec
	// Per-call outcomes (synced, write_failed, skipped_existing, ...)
	Calls        *prometheus.CounterVec
	PassDuration prometheus.Histogram
	// Watermark after the last finalized pass, unix seconds
	CursorSince prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callsync_passes_total",
			Help: "Reconciliation passes by outcome",
		}, []string{"outcome"}),

		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callsync_calls_total",
			Help: "Fetched calls by per-call outcome",
		}, []string{"outcome"}),

		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "callsync_pass_duration_seconds",
			Help:    "Wall-clock duration of reconciliation passes",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		}),

		CursorSince: f.NewGauge(prometheus.GaugeOpts{
			Name: "callsync_cursor_since_timestamp_seconds",
			Help: "Current since watermark of the call-log cursor",
		}),
	}
}

// ObservePass records one finished pass. Nil receivers are ignored.
func (m *Metrics) ObservePass(outcome string, d time.Duration, calls map[string]int, since time.Time) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(outcome).Inc()
	if outcome == "dropped" {
		return
	}
	m.PassDuration.Observe(d.Seconds())
	for k, n := range calls {
		if n > 0 {
			m.Calls.WithLabelValues(k).Add(float64(n))
		}
	}
	if !since.IsZero() {
		m.CursorSince.Set(float64(since.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
