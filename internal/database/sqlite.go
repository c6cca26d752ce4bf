package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ecg-monitor/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Times are stored as UTC text so rows sort lexically.
const timeFormat = "2006-01-02 15:04:05.000"

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// go-sqlite3 serialises writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	schema := []string{`
    CREATE TABLE IF NOT EXISTS sampling_sessions (
        session_id TEXT PRIMARY KEY,
        device_id TEXT NOT NULL,
        patient_id TEXT,
        status TEXT NOT NULL,
        rate_hz INTEGER NOT NULL,
        start_time TEXT NOT NULL,
        end_time TEXT,
        last_error TEXT
    );`, `
    CREATE TABLE IF NOT EXISTS analysis_results (
        analysis_id TEXT PRIMARY KEY,
        request_id TEXT,
        patient_id TEXT,
        source TEXT NOT NULL,
        created_at TEXT NOT NULL,
        hrv TEXT NOT NULL,
        quality TEXT NOT NULL,
        ml TEXT,
        extras TEXT NOT NULL
    );`, `
    CREATE TABLE IF NOT EXISTS events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        analysis_id TEXT REFERENCES analysis_results(analysis_id) ON DELETE CASCADE,
        patient_id TEXT,
        timestamp TEXT NOT NULL,
        rr_ms REAL NOT NULL,
        hr_bpm REAL NOT NULL,
        source TEXT NOT NULL
    );`, `
    CREATE TABLE IF NOT EXISTS alerts (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        analysis_id TEXT REFERENCES analysis_results(analysis_id) ON DELETE CASCADE,
        patient_id TEXT,
        timestamp TEXT NOT NULL,
        type TEXT NOT NULL,
        severity TEXT NOT NULL,
        details TEXT
    );`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sampling_sessions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);`,
	}
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(timeFormat)
}

func parseTime(s string) (int64, error) {
	t, err := time.ParseInLocation(timeFormat, s, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// --- sampling sessions ---

func (r *Repository) CreateSession(s models.SamplingSession) error {
	query := `INSERT OR REPLACE INTO sampling_sessions (session_id, device_id, patient_id, status, rate_hz, start_time, end_time, last_error) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)`
	_, err := r.db.Exec(query, s.SessionID, s.DeviceID, s.PatientID, string(s.Status), s.RateHz, formatUnix(s.StartTime))
	return err
}

func (r *Repository) FinishSession(sessionID string, status models.SessionStatus, endTime int64, lastError string) error {
	var errCol sql.NullString
	if lastError != "" {
		errCol = sql.NullString{String: lastError, Valid: true}
	}
	query := `UPDATE sampling_sessions SET status = ?, end_time = ?, last_error = ? WHERE session_id = ?`
	res, err := r.db.Exec(query, string(status), formatUnix(endTime), errCol, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

func (r *Repository) GetSession(sessionID string) (models.SamplingSession, error) {
	row := r.db.QueryRow(`SELECT session_id, device_id, patient_id, status, rate_hz, start_time, end_time, last_error FROM sampling_sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetActiveSessions lists sessions still marked running.
func (r *Repository) GetActiveSessions() ([]models.SamplingSession, error) {
	rows, err := r.db.Query(`SELECT session_id, device_id, patient_id, status, rate_hz, start_time, end_time, last_error FROM sampling_sessions WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.SamplingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			log.Printf("Warning: skipping unreadable session row: %v", err)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// MarkInterruptedSessions fails every session left running by a previous
// process and returns them as they were before the update.
func (r *Repository) MarkInterruptedSessions(now int64) ([]models.SamplingSession, error) {
	sessions, err := r.GetActiveSessions()
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if err := r.FinishSession(s.SessionID, models.SessionFailed, now, "interrupted by service restart"); err != nil {
			return nil, fmt.Errorf("close session %s: %w", s.SessionID, err)
		}
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (models.SamplingSession, error) {
	var s models.SamplingSession
	var status, startStr string
	var patientID, endStr, lastErr sql.NullString
	if err := sc.Scan(&s.SessionID, &s.DeviceID, &patientID, &status, &s.RateHz, &startStr, &endStr, &lastErr); err != nil {
		return s, err
	}
	s.PatientID = patientID.String
	s.Status = models.SessionStatus(status)
	s.LastError = lastErr.String
	start, err := parseTime(startStr)
	if err != nil {
		return s, fmt.Errorf("parse start_time %q: %w", startStr, err)
	}
	s.StartTime = start
	if endStr.Valid {
		if end, err := parseTime(endStr.String); err == nil {
			s.EndTime = &end
		}
	}
	return s, nil
}

// --- analyses ---

type analysisExtras struct {
	NPPeaks       int       `json:"n_p_peaks"`
	NTPeaks       int       `json:"n_t_peaks"`
	NRPeaks       int       `json:"n_r_peaks"`
	PRIntervalsMs []float64 `json:"pr_intervals_ms"`
}

// SaveAnalysis stores a result with one event row per RR interval and one
// row per alert, in a single transaction. It returns the new analysis ID.
func (r *Repository) SaveAnalysis(requestID, patientID string, res models.AnalysisResult, at time.Time) (string, error) {
	hrvJSON, err := json.Marshal(res.HRV)
	if err != nil {
		return "", fmt.Errorf("encode hrv: %w", err)
	}
	qualityJSON, err := json.Marshal(res.Quality)
	if err != nil {
		return "", fmt.Errorf("encode quality: %w", err)
	}
	extrasJSON, err := json.Marshal(analysisExtras{
		NPPeaks: res.NPPeaks, NTPeaks: res.NTPeaks, NRPeaks: res.NRPeaks, PRIntervalsMs: res.PRIntervalsMs,
	})
	if err != nil {
		return "", fmt.Errorf("encode extras: %w", err)
	}
	var mlJSON sql.NullString
	if res.ML != nil {
		b, err := json.Marshal(res.ML)
		if err != nil {
			return "", fmt.Errorf("encode ml: %w", err)
		}
		mlJSON = sql.NullString{String: string(b), Valid: true}
	}

	id := uuid.NewString()
	ts := at.UTC().Format(timeFormat)

	tx, err := r.db.Begin()
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT INTO analysis_results (analysis_id, request_id, patient_id, source, created_at, hrv, quality, ml, extras) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, requestID, patientID, "analysis", ts, string(hrvJSON), string(qualityJSON), mlJSON, string(extrasJSON)); err != nil {
		tx.Rollback()
		return "", err
	}

	evStmt, err := tx.Prepare(`INSERT INTO events (analysis_id, patient_id, timestamp, rr_ms, hr_bpm, source) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	defer evStmt.Close()
	for i, rr := range res.RRMs {
		hr := 60000.0 / rr
		if i < len(res.HRBpmSeq) {
			hr = res.HRBpmSeq[i]
		}
		if _, err := evStmt.Exec(id, patientID, ts, rr, hr, "analysis"); err != nil {
			log.Printf("Failed to store RR event for analysis %s, rolling back transaction. Error: %v", id, err)
			tx.Rollback()
			return "", err
		}
	}

	alStmt, err := tx.Prepare(`INSERT INTO alerts (analysis_id, patient_id, timestamp, type, severity, details) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	defer alStmt.Close()
	for _, a := range res.Alerts {
		details, err := json.Marshal(a.Details)
		if err != nil {
			tx.Rollback()
			return "", fmt.Errorf("encode alert details: %w", err)
		}
		if _, err := alStmt.Exec(id, patientID, ts, a.Type, string(a.Severity), string(details)); err != nil {
			tx.Rollback()
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// StoredAlert is an alerts row.
type StoredAlert struct {
	ID         int64        `json:"id"`
	AnalysisID string       `json:"analysisId"`
	PatientID  string       `json:"patientId"`
	Timestamp  int64        `json:"timestamp"`
	Alert      models.Alert `json:"alert"`
}

// ListAlerts returns the newest alerts first.
func (r *Repository) ListAlerts(limit int) ([]StoredAlert, error) {
	rows, err := r.db.Query(`SELECT id, analysis_id, patient_id, timestamp, type, severity, details FROM alerts ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StoredAlert{}
	for rows.Next() {
		var a StoredAlert
		var analysisID, patientID, details sql.NullString
		var ts, severity string
		if err := rows.Scan(&a.ID, &analysisID, &patientID, &ts, &a.Alert.Type, &severity, &details); err != nil {
			return nil, err
		}
		a.AnalysisID, a.PatientID = analysisID.String, patientID.String
		a.Alert.Severity = models.Severity(severity)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &a.Alert.Details); err != nil {
				return nil, fmt.Errorf("decode alert %d details: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListEvents returns the newest RR events first.
func (r *Repository) ListEvents(limit int) ([]models.RREvent, error) {
	rows, err := r.db.Query(`SELECT timestamp, rr_ms, hr_bpm, source FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RREvent{}
	for rows.Next() {
		var ev models.RREvent
		var ts string
		if err := rows.Scan(&ts, &ev.RRMs, &ev.HRBpm, &ev.Source); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetAnalysis loads the stored HRV and quality of one analysis.
func (r *Repository) GetAnalysis(analysisID string) (models.HRVResult, models.QualityMetrics, error) {
	var hrvJSON, qualityJSON string
	var h models.HRVResult
	var q models.QualityMetrics
	err := r.db.QueryRow(`SELECT hrv, quality FROM analysis_results WHERE analysis_id = ?`, analysisID).Scan(&hrvJSON, &qualityJSON)
	if err != nil {
		return h, q, err
	}
	if err := json.Unmarshal([]byte(hrvJSON), &h); err != nil {
		return h, q, fmt.Errorf("decode hrv: %w", err)
	}
	if err := json.Unmarshal([]byte(qualityJSON), &q); err != nil {
		return h, q, fmt.Errorf("decode quality: %w", err)
	}
	return h, q, nil
}

func (r *Repository) Close() {
	r.db.Close()
}
