package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"ecg-monitor/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestWrite_CountsSamplesAndPeaks(t *testing.T) {
	m := New(prometheus.NewRegistry())
	require.NoError(t, m.Write(models.StreamRecord{DeviceID: "d1"}))
	require.NoError(t, m.Write(models.StreamRecord{DeviceID: "d1", RDetected: true}))
	require.NoError(t, m.Write(models.StreamRecord{DeviceID: "d2"}))

	assert.Equal(t, 2.0, value(t, m.SamplesTotal.WithLabelValues("d1")))
	assert.Equal(t, 1.0, value(t, m.SamplesTotal.WithLabelValues("d2")))
	assert.Equal(t, 1.0, value(t, m.RPeaksTotal.WithLabelValues("d1")))
}

func TestSessionsAndOverruns(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded(models.SessionFailed)
	m.ObserveOverrun("d1", 3*time.Millisecond)

	assert.Equal(t, 1.0, value(t, m.SessionsActive))
	assert.Equal(t, 1.0, value(t, m.SessionsEnded.WithLabelValues("failed")))
	assert.Equal(t, 1.0, value(t, m.TickOverruns.WithLabelValues("d1")))
}

func TestObserveAnalysis(t *testing.T) {
	m := New(prometheus.NewRegistry())
	res := &models.AnalysisResult{Alerts: []models.Alert{
		{Type: models.AlertLowSDNN, Severity: models.SeverityWarning},
		{Type: models.AlertLowPNN50, Severity: models.SeverityInfo},
	}}
	m.ObserveAnalysis(2500, 20*time.Millisecond, res)
	m.ObserveAnalysis(0, 0, nil)

	assert.Equal(t, 1.0, value(t, m.AnalysesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, value(t, m.AnalysesTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, value(t, m.AlertsTotal.WithLabelValues(models.AlertLowSDNN, "warning")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Write(models.StreamRecord{DeviceID: "d1"}))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ecg_monitor_sampling_samples_total{device="d1"} 1`)
}

type stubStream struct {
	clients int
	dropped uint64
}

func (s *stubStream) Clients() int    { return s.clients }
func (s *stubStream) Dropped() uint64 { return s.dropped }

func TestWatchStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := &stubStream{clients: 2, dropped: 7}
	WatchStream(reg, stats)
	stats.dropped = 9

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ecg_monitor_stream_viewers 2")
	assert.Contains(t, string(body), "ecg_monitor_stream_dropped_records_total 9")
}
