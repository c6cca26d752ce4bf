// Package metrics exposes Prometheus instrumentation for sampling and
// analysis.
package metrics

import (
	"net/http"
	"time"

	"ecg-monitor/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ecg_monitor"

// Metrics holds all collectors of the service.
type Metrics struct {
	// Sampling
	SamplesTotal   *prometheus.CounterVec
	RPeaksTotal    *prometheus.CounterVec
	TickOverruns   *prometheus.CounterVec
	TickLag        prometheus.Histogram
	SessionsActive prometheus.Gauge
	SessionsEnded  *prometheus.CounterVec

	// Analysis
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	AlertsTotal      *prometheus.CounterVec
	WindowSamples    prometheus.Histogram
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "samples_total",
			Help:      "Samples read from the ADC",
		}, []string{"device"}),
		RPeaksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "r_peaks_total",
			Help:      "R events flagged by the streaming detector",
		}, []string{"device"}),
		TickOverruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "tick_overruns_total",
			Help:      "Ticks that finished after the next deadline",
		}, []string{"device"}),
		TickLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "tick_lag_seconds",
			Help:      "How late an overrunning tick finished",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "sessions_active",
			Help:      "Sampling sessions currently running",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "sessions_ended_total",
			Help:      "Sampling sessions ended by final status",
		}, []string{"status"}),

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Analysis requests by outcome",
		}, []string{"status"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Batch pipeline latency",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "alerts_total",
			Help:      "Alerts raised by type",
		}, []string{"type", "severity"}),
		WindowSamples: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "window_samples",
			Help:      "Samples per analysed window",
			Buckets:   prometheus.ExponentialBuckets(250, 2, 10),
		}),
	}
}

// StreamStats is the live viewer fan-out.
type StreamStats interface {
	Clients() int
	Dropped() uint64
}

// WatchStream exports the viewer count and dropped-record total of s; both
// are read at scrape time.
func WatchStream(reg prometheus.Registerer, s StreamStats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "viewers",
		Help:      "Connected websocket viewers",
	}, func() float64 { return float64(s.Clients()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "dropped_records_total",
		Help:      "Records discarded because a viewer queue was full",
	}, func() float64 { return float64(s.Dropped()) })
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Write counts a streamed record. It makes Metrics usable as a session sink.
func (m *Metrics) Write(rec models.StreamRecord) error {
	m.SamplesTotal.WithLabelValues(rec.DeviceID).Inc()
	if rec.RDetected {
		m.RPeaksTotal.WithLabelValues(rec.DeviceID).Inc()
	}
	return nil
}

func (m *Metrics) ObserveOverrun(deviceID string, lag time.Duration) {
	m.TickOverruns.WithLabelValues(deviceID).Inc()
	m.TickLag.Observe(lag.Seconds())
}

func (m *Metrics) SessionStarted() { m.SessionsActive.Inc() }

func (m *Metrics) SessionEnded(status models.SessionStatus) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(string(status)).Inc()
}

// ObserveAnalysis records one pipeline run. A nil result marks a request
// that could not be decoded.
func (m *Metrics) ObserveAnalysis(samples int, elapsed time.Duration, res *models.AnalysisResult) {
	if res == nil {
		m.AnalysesTotal.WithLabelValues("rejected").Inc()
		return
	}
	m.AnalysesTotal.WithLabelValues("ok").Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
	m.WindowSamples.Observe(float64(samples))
	for _, a := range res.Alerts {
		m.AlertsTotal.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}
}
