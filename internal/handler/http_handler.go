package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ecg-monitor/internal/database"
	"ecg-monitor/internal/models"

	"go.uber.org/zap"
)

// HistoryStore is the read side of the repository served over HTTP.
type HistoryStore interface {
	ListAlerts(limit int) ([]database.StoredAlert, error)
	ListEvents(limit int) ([]models.RREvent, error)
	GetSession(sessionID string) (models.SamplingSession, error)
	GetAnalysis(analysisID string) (models.HRVResult, models.QualityMetrics, error)
}

// StoredAnalysis is the body of /api/analyses/{id}.
type StoredAnalysis struct {
	AnalysisID string                `json:"analysis_id"`
	HRV        models.HRVResult      `json:"hrv"`
	Quality    models.QualityMetrics `json:"quality"`
}

type ActiveSessions interface {
	Active() []models.SamplingSession
}

type RoutesOptions struct {
	Store    HistoryStore
	Sessions ActiveSessions
	Stream   http.Handler
	Metrics  http.Handler
	Logger   *zap.Logger
}

const defaultListLimit = 100

// RegisterRoutes mounts the health, metrics, live stream and history
// endpoints on mux. Nil collaborators leave their routes unmounted.
func RegisterRoutes(mux *http.ServeMux, opts RoutesOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Stream != nil {
		mux.Handle("/ws/ecg", opts.Stream)
	}
	if opts.Sessions != nil {
		mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, opts.Sessions.Active(), logger)
		})
	}
	if opts.Store != nil {
		mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
			limit, ok := listLimit(w, r)
			if !ok {
				return
			}
			alerts, err := opts.Store.ListAlerts(limit)
			if err != nil {
				logger.Error("List alerts failed", zap.Error(err))
				http.Error(w, "failed to list alerts", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, alerts, logger)
		})
		mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
			limit, ok := listLimit(w, r)
			if !ok {
				return
			}
			events, err := opts.Store.ListEvents(limit)
			if err != nil {
				logger.Error("List events failed", zap.Error(err))
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, events, logger)
		})
		mux.HandleFunc("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := r.PathValue("id")
			s, err := opts.Store.GetSession(id)
			if err != nil {
				lookupFailed(w, "session", id, err, logger)
				return
			}
			writeJSON(w, http.StatusOK, s, logger)
		})
		mux.HandleFunc("/api/analyses/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := r.PathValue("id")
			h, q, err := opts.Store.GetAnalysis(id)
			if err != nil {
				lookupFailed(w, "analysis", id, err, logger)
				return
			}
			writeJSON(w, http.StatusOK, StoredAnalysis{AnalysisID: id, HRV: h, Quality: q}, logger)
		})
	}
}

func lookupFailed(w http.ResponseWriter, kind, id string, err error, logger *zap.Logger) {
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, kind+" not found", http.StatusNotFound)
		return
	}
	logger.Error("Lookup failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	http.Error(w, "failed to load "+kind, http.StatusInternalServerError)
}

func listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Write response failed", zap.Error(err))
	}
}
