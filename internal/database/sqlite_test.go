package database

import (
	"path/filepath"
	"testing"
	"time"

	"ecg-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ecg.db"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestSessionLifecycle(t *testing.T) {
	repo := newRepo(t)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, repo.CreateSession(models.SamplingSession{
		SessionID: "s1", DeviceID: "d1", PatientID: "p1", Status: models.SessionRunning, RateHz: 250, StartTime: start,
	}))

	active, err := repo.GetActiveSessions()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "d1", active[0].DeviceID)
	assert.Equal(t, start, active[0].StartTime)
	assert.Nil(t, active[0].EndTime)

	require.NoError(t, repo.FinishSession("s1", models.SessionFailed, start+60, "read sample: i2c nack"))
	s, err := repo.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, s.Status)
	assert.Equal(t, "read sample: i2c nack", s.LastError)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, start+60, *s.EndTime)

	active, err = repo.GetActiveSessions()
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.Error(t, repo.FinishSession("missing", models.SessionStopped, start, ""))
}

func TestMarkInterruptedSessions(t *testing.T) {
	repo := newRepo(t)
	now := time.Now().Unix()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, repo.CreateSession(models.SamplingSession{SessionID: id, DeviceID: id, Status: models.SessionRunning, RateHz: 250, StartTime: now}))
	}
	require.NoError(t, repo.FinishSession("b", models.SessionStopped, now, ""))

	interrupted, err := repo.MarkInterruptedSessions(now)
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, "a", interrupted[0].SessionID)
	s, err := repo.GetSession("a")
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, s.Status)
	assert.Equal(t, "interrupted by service restart", s.LastError)

	interrupted, err = repo.MarkInterruptedSessions(now)
	require.NoError(t, err)
	assert.Empty(t, interrupted)
}

func TestSaveAnalysis(t *testing.T) {
	repo := newRepo(t)
	res := models.AnalysisResult{
		NRPeaks: 3,
		HRV: models.HRVResult{
			Time: models.TimeDomain{SDNN: 12.5, RMSSD: models.NaN(), PNN50: 0},
			Freq: models.FreqDomain{LF: models.NaN(), HF: models.NaN(), LFHF: models.NaN()},
		},
		Quality:       models.QualityMetrics{SNRDB: 21.3, ArtifactRatio: 0},
		PRIntervalsMs: []float64{160},
		Alerts: []models.Alert{
			{Type: models.AlertLowSDNN, Severity: models.SeverityWarning, Details: map[string]float64{"sdnn": 12.5}},
		},
		RRMs:     []float64{1000, 800},
		HRBpmSeq: []float64{60, 75},
		ML:       &models.Scores{Scores: map[string]float64{"normal": 1}, TopLabel: "normal"},
	}
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	id, err := repo.SaveAnalysis("req-1", "p1", res, at)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	alerts, err := repo.ListAlerts(10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, id, alerts[0].AnalysisID)
	assert.Equal(t, models.AlertLowSDNN, alerts[0].Alert.Type)
	assert.Equal(t, 12.5, alerts[0].Alert.Details["sdnn"])
	assert.Equal(t, at.Unix(), alerts[0].Timestamp)

	events, err := repo.ListEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []float64{1000, 800}, []float64{events[0].RRMs, events[1].RRMs})
	for _, ev := range events {
		assert.InDelta(t, 60000/ev.RRMs, ev.HRBpm, 1e-9)
		assert.Equal(t, "analysis", ev.Source)
	}

	h, q, err := repo.GetAnalysis(id)
	require.NoError(t, err)
	assert.Equal(t, 12.5, float64(h.Time.SDNN))
	assert.True(t, h.Time.RMSSD.IsNaN())
	assert.Equal(t, 21.3, float64(q.SNRDB))
}

func TestListLimits(t *testing.T) {
	repo := newRepo(t)
	res := models.AnalysisResult{
		Alerts: []models.Alert{
			{Type: models.AlertLowSDNN, Severity: models.SeverityWarning, Details: map[string]float64{"sdnn": 1}},
			{Type: models.AlertLowPNN50, Severity: models.SeverityInfo, Details: map[string]float64{"pnn50": 0}},
		},
	}
	_, err := repo.SaveAnalysis("r", "p", res, time.Now())
	require.NoError(t, err)
	alerts, err := repo.ListAlerts(1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertLowPNN50, alerts[0].Alert.Type)

	events, err := repo.ListEvents(5)
	require.NoError(t, err)
	assert.Empty(t, events)
}
