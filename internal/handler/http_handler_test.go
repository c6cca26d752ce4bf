package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ecg-monitor/internal/database"
	"ecg-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) ListAlerts(limit int) ([]database.StoredAlert, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []database.StoredAlert{{ID: 1, PatientID: "p", Alert: models.Alert{Type: models.AlertLowSDNN}}}, nil
}

func (f *fakeHistory) ListEvents(limit int) ([]models.RREvent, error) {
	f.limit = limit
	return []models.RREvent{{Timestamp: 1, RRMs: 800, HRBpm: 75}}, f.err
}

func (f *fakeHistory) GetSession(id string) (models.SamplingSession, error) {
	if f.err != nil {
		return models.SamplingSession{}, f.err
	}
	if id != "s1" {
		return models.SamplingSession{}, sql.ErrNoRows
	}
	return models.SamplingSession{SessionID: id, DeviceID: "d1", Status: models.SessionStopped, RateHz: 250}, nil
}

func (f *fakeHistory) GetAnalysis(id string) (models.HRVResult, models.QualityMetrics, error) {
	if f.err != nil {
		return models.HRVResult{}, models.QualityMetrics{}, f.err
	}
	if id != "a1" {
		return models.HRVResult{}, models.QualityMetrics{}, sql.ErrNoRows
	}
	return models.HRVResult{Time: models.TimeDomain{SDNN: 42}}, models.QualityMetrics{SNRDB: 12}, nil
}

type fakeActive []models.SamplingSession

func (f fakeActive) Active() []models.SamplingSession { return f }

func serve(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	store := &fakeHistory{}
	mux := http.NewServeMux()
	RegisterRoutes(mux, RoutesOptions{
		Store:    store,
		Sessions: fakeActive{{SessionID: "s1", DeviceID: "d1", Status: models.SessionRunning}},
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
	})

	rec := serve(t, mux, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusTeapot, serve(t, mux, "/metrics").Code)

	rec = serve(t, mux, "/api/alerts?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.limit)
	var alerts []database.StoredAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertLowSDNN, alerts[0].Alert.Type)

	rec = serve(t, mux, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultListLimit, store.limit)

	rec = serve(t, mux, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []models.SamplingSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "d1", sessions[0].DeviceID)

	assert.Equal(t, http.StatusNotFound, serve(t, mux, "/ws/ecg").Code)
}

func TestRoutes_Errors(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, RoutesOptions{Store: &fakeHistory{err: errors.New("locked")}})

	assert.Equal(t, http.StatusBadRequest, serve(t, mux, "/api/alerts?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, mux, "/api/events?limit=0").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, mux, "/api/alerts").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, mux, "/api/events").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, mux, "/api/sessions/s1").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, mux, "/api/analyses/a1").Code)
}

func TestRoutes_Lookups(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, RoutesOptions{Store: &fakeHistory{}})

	rec := serve(t, mux, "/api/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var s models.SamplingSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "d1", s.DeviceID)
	assert.Equal(t, models.SessionStopped, s.Status)

	rec = serve(t, mux, "/api/analyses/a1")
	require.Equal(t, http.StatusOK, rec.Code)
	var a StoredAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "a1", a.AnalysisID)
	assert.Equal(t, models.Float(42), a.HRV.Time.SDNN)
	assert.Equal(t, models.Float(12), a.Quality.SNRDB)

	assert.Equal(t, http.StatusNotFound, serve(t, mux, "/api/sessions/nope").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, mux, "/api/analyses/nope").Code)
}
