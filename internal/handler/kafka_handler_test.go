package handler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ecg-monitor/internal/analysis"
	"ecg-monitor/internal/metrics"
	"ecg-monitor/internal/models"
	"ecg-monitor/internal/source"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	id    string
	err   error
	saved []string
}

func (f *fakeStore) SaveAnalysis(requestID, _ string, _ models.AnalysisResult, _ time.Time) (string, error) {
	f.saved = append(f.saved, requestID)
	return f.id, f.err
}

type fakePublisher struct {
	envs []models.AnalysisEnvelope
	err  error
}

func (f *fakePublisher) PublishResult(env models.AnalysisEnvelope) error {
	f.envs = append(f.envs, env)
	return f.err
}

type fakeNotifier struct{ sent []models.AlertNotification }

func (f *fakeNotifier) NotifyAlert(n models.AlertNotification) error {
	f.sent = append(f.sent, n)
	return nil
}

func simulatedSignal(t *testing.T) []float64 {
	t.Helper()
	const gain, rate = 5, 250
	sim := source.NewSimulator(60, 0)
	_, err := sim.Configure(0, gain, rate)
	require.NoError(t, err)
	out := make([]float64, rate*10)
	for i := range out {
		raw, err := sim.Read()
		require.NoError(t, err)
		out[i] = source.VoltageMV(raw, gain)
	}
	return out
}

func counter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.Counter.GetValue()
}

func fixedNow() func() time.Time {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestProcess_PersistPublishNotify(t *testing.T) {
	store := &fakeStore{id: "a-1"}
	pub := &fakePublisher{}
	notes := &fakeNotifier{}
	p := NewAnalysisProcessor(AnalysisProcessorOptions{Store: store, Results: pub, Alerts: notes})
	p.now = fixedNow()

	env, err := p.Process(models.AnalysisRequest{
		RequestID: "r-1", PatientID: "p-1", Signal: simulatedSignal(t), SampleRateHz: 250, Persist: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "r-1", env.RequestID)
	assert.Equal(t, "a-1", env.Result.AnalysisID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(), env.CompletedAt)
	assert.GreaterOrEqual(t, env.Result.NRPeaks, 9)
	assert.Equal(t, []string{"r-1"}, store.saved)
	require.Len(t, pub.envs, 1)
	assert.Equal(t, "a-1", pub.envs[0].Result.AnalysisID)

	require.NotEmpty(t, env.Result.Alerts)
	require.Len(t, notes.sent, len(env.Result.Alerts))
	for i, n := range notes.sent {
		assert.Equal(t, "p-1", n.PatientID)
		assert.Equal(t, "a-1", n.AnalysisID)
		assert.Equal(t, env.Result.Alerts[i].Type, n.Alert.Type)
	}
}

func TestProcess_NoPersistSkipsStore(t *testing.T) {
	store := &fakeStore{id: "a-1"}
	p := NewAnalysisProcessor(AnalysisProcessorOptions{Store: store})
	env, err := p.Process(models.AnalysisRequest{RequestID: "r", Signal: simulatedSignal(t), SampleRateHz: 250})
	require.NoError(t, err)
	assert.Empty(t, store.saved)
	assert.Empty(t, env.Result.AnalysisID)
}

func TestProcess_ErrorsAreReportedButDeliveryContinues(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewAnalysisProcessor(AnalysisProcessorOptions{Store: store, Results: pub})

	_, err := p.Process(models.AnalysisRequest{RequestID: "r", Signal: []float64{0, 1, 0}, SampleRateHz: 250, Persist: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, pub.envs, 1)
}

func TestProcess_MalformedWindowStillPublishes(t *testing.T) {
	pub := &fakePublisher{}
	p := NewAnalysisProcessor(AnalysisProcessorOptions{
		Analyzer: analysis.NewAnalyzer(analysis.DefaultParams(), analysis.HeuristicScorer{}),
		Results:  pub,
	})
	env, err := p.Process(models.AnalysisRequest{RequestID: "r", SampleRateHz: 0})
	require.NoError(t, err)
	require.Len(t, pub.envs, 1)
	assert.Zero(t, env.Result.NRPeaks)
	assert.NotNil(t, env.Result.Alerts)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"SDNN":null`)
}

func TestProcess_EstimatesRateFromTimestamps(t *testing.T) {
	signal := simulatedSignal(t)
	// the 250 Hz recording is stamped as if taken at 125 Hz
	start := time.Unix(1700000000, 0)
	stamps := make([]time.Time, len(signal))
	for i := range stamps {
		stamps[i] = start.Add(time.Duration(i) * 8 * time.Millisecond)
	}

	p := NewAnalysisProcessor(AnalysisProcessorOptions{})
	env, err := p.Process(models.AnalysisRequest{RequestID: "r", Signal: signal, Timestamps: stamps})
	require.NoError(t, err)
	require.GreaterOrEqual(t, env.Result.NRPeaks, 9)
	for _, rr := range env.Result.RRMs {
		assert.InDelta(t, 2000, rr, 16)
	}

	// an explicit rate wins over the timestamps
	env, err = p.Process(models.AnalysisRequest{RequestID: "r", Signal: signal, SampleRateHz: 250, Timestamps: stamps})
	require.NoError(t, err)
	require.NotEmpty(t, env.Result.RRMs)
	assert.InDelta(t, 1000, env.Result.RRMs[0], 8)
}

func TestHandleAnalysisMessage(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pub := &fakePublisher{}
	p := NewAnalysisProcessor(AnalysisProcessorOptions{Results: pub, Metrics: m})

	p.HandleAnalysisMessage([]byte("{not json"))
	assert.Equal(t, 1.0, counter(t, m.AnalysesTotal.WithLabelValues("rejected")))
	assert.Empty(t, pub.envs)

	body, err := json.Marshal(models.AnalysisRequest{RequestID: "r-2", PatientID: "p", Signal: simulatedSignal(t), SampleRateHz: 250})
	require.NoError(t, err)
	p.HandleAnalysisMessage(body)
	assert.Equal(t, 1.0, counter(t, m.AnalysesTotal.WithLabelValues("ok")))
	require.Len(t, pub.envs, 1)
	assert.Equal(t, "r-2", pub.envs[0].RequestID)
}

func TestNotifications(t *testing.T) {
	env := models.AnalysisEnvelope{
		PatientID:   "p",
		CompletedAt: 42,
		Result: models.AnalysisResult{
			AnalysisID: "a",
			Alerts: []models.Alert{
				{Type: models.AlertLowSDNN, Severity: models.SeverityInfo},
				{Type: models.AlertAFSuspected, Severity: models.SeverityWarning},
			},
		},
	}
	out := Notifications(env)
	require.Len(t, out, 2)
	assert.Equal(t, models.AlertAFSuspected, out[1].Alert.Type)
	assert.Equal(t, int64(42), out[0].Timestamp)
	assert.Empty(t, Notifications(models.AnalysisEnvelope{}))
}
