// Package instrumentation holds the collector's Prometheus metrics.
package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

var states = []string{"disconnected", "connecting", "streaming", "backoff_wait", "terminated"}

// Metrics contains all Prometheus metrics for one collector process.
type Metrics struct {
	SamplesTotal   prometheus.Counter
	FailuresTotal  *prometheus.CounterVec
	BackoffSeconds prometheus.Histogram
	ExportsTotal   *prometheus.CounterVec
	State          *prometheus.GaugeVec
	MidPrice       prometheus.Gauge
	WindowBias     *prometheus.GaugeVec
	SampleLag      prometheus.Gauge
	CacheErrors    prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer, symbol string) *Metrics {
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"symbol": symbol}, reg))
	return &Metrics{
		SamplesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "bookbias_samples_persisted_total",
			Help: "Samples written to the persistence sink",
		}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookbias_failures_total",
			Help: "Collector failures by class",
		}, []string{"class"}),
		BackoffSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookbias_backoff_seconds",
			Help:    "Backoff waits before reconnecting",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		ExportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bookbias_ladder_exports_total",
			Help: "Full-ladder exports by outcome",
		}, []string{"outcome"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bookbias_collector_state",
			Help: "1 for the collector's current state, 0 otherwise",
		}, []string{"state"}),
		MidPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "bookbias_mid_price",
			Help: "Mid price of the latest sample",
		}),
		WindowBias: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bookbias_window_bias",
			Help: "Bid/ask imbalance of the latest sample per window",
		}, []string{"window"}),
		SampleLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "bookbias_sample_lag_seconds",
			Help: "Delay between the last ladder update and the sample time",
		}),
		CacheErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bookbias_cache_errors_total",
			Help: "Best-effort cache or publish failures",
		}),
	}
}

// SetState marks state as current.
func (m *Metrics) SetState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// ObserveSample records a persisted sample.
func (m *Metrics) ObserveSample(rec domain.SampleRecord) {
	m.SamplesTotal.Inc()
	m.MidPrice.Set(rec.Metrics.MidPrice.InexactFloat64())
	for _, w := range rec.Metrics.Windows {
		m.WindowBias.WithLabelValues(w.Window.Name).Set(w.Bias)
	}
	if !rec.LastLadderUpdate.IsZero() {
		m.SampleLag.Set(rec.SampledAt.Sub(rec.LastLadderUpdate).Seconds())
	}
}

// ObserveFailure counts a failure of the given class.
func (m *Metrics) ObserveFailure(class string) {
	m.FailuresTotal.WithLabelValues(class).Inc()
}

// ObserveBackoff records a backoff wait.
func (m *Metrics) ObserveBackoff(wait time.Duration) {
	m.BackoffSeconds.Observe(wait.Seconds())
}

// ObserveExport counts an export attempt.
func (m *Metrics) ObserveExport(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.ExportsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheError counts a best-effort cache failure.
func (m *Metrics) ObserveCacheError() {
	m.CacheErrors.Inc()
}
