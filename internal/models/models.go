package models

import (
	"time"
)

// Sample is one ADC conversion taken by a sampling session.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Raw       int16     `json:"raw"`
	VoltageMV float64   `json:"voltage_mV"`
}

// StreamRecord is the per-tick output of the continuous path. FilteredMV
// is meaningful only when Filtered is set, RDetected only when Detecting is.
type StreamRecord struct {
	SessionID  string  `json:"sessionId"`
	DeviceID   string  `json:"deviceId"`
	Sample     Sample  `json:"sample"`
	Filtered   bool    `json:"filtered"`
	FilteredMV float64 `json:"filtered_mV"`
	Detecting  bool    `json:"detecting"`
	RDetected  bool    `json:"r_detected"`
}

type PeakKind string

const (
	PeakR PeakKind = "R"
	PeakP PeakKind = "P"
	PeakT PeakKind = "T"
)

type PeakEvent struct {
	Kind      PeakKind `json:"kind"`
	Index     int      `json:"index"`
	Amplitude float64  `json:"amplitude"`
}

// --- HRV ---

type TimeDomain struct {
	SDNN  Float `json:"SDNN"`
	RMSSD Float `json:"RMSSD"`
	PNN50 Float `json:"pNN50"`
}

type Spectrum struct {
	F   []float64 `json:"f"`
	Pxx []float64 `json:"pxx"`
}

// FreqDomain carries band powers in s^2. Spectrum is nil when fewer than
// three RR values were available.
type FreqDomain struct {
	LF       Float     `json:"LF"`
	HF       Float     `json:"HF"`
	LFHF     Float     `json:"LF_HF"`
	Spectrum *Spectrum `json:"spectrum,omitempty"`
}

type Poincare struct {
	SD1    Float        `json:"SD1"`
	SD2    Float        `json:"SD2"`
	Points [][2]float64 `json:"points"`
}

type Tachogram struct {
	TimeS []float64 `json:"t_s"`
	RRMs  []float64 `json:"rr_ms"`
}

type HRVResult struct {
	Time      TimeDomain `json:"time"`
	Freq      FreqDomain `json:"freq"`
	Poincare  Poincare   `json:"poincare"`
	Tachogram Tachogram  `json:"tachogram"`
}

type QualityMetrics struct {
	SNRDB         Float `json:"snr_db"`
	ArtifactRatio Float `json:"artifact_ratio"`
}

// --- Alerts ---

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

const (
	AlertAFSuspected      = "AF_suspected"
	AlertAVBlockSuspected = "AV_block_suspected"
	AlertLowSDNN          = "HRV_low_SDNN"
	AlertLowRMSSD         = "HRV_low_RMSSD"
	AlertLowPNN50         = "HRV_low_pNN50"
	AlertAbnormalLFHF     = "HRV_abnormal_LF_HF"
)

type Alert struct {
	Type     string             `json:"type"`
	Severity Severity           `json:"severity"`
	Details  map[string]float64 `json:"details"`
}

// --- Analysis boundary ---

// Scores is the output of an optional classifier collaborator.
type Scores struct {
	Scores   map[string]float64 `json:"scores"`
	TopLabel string             `json:"top_label,omitempty"`
}

type AnalysisResult struct {
	NPPeaks       int            `json:"n_p_peaks"`
	NTPeaks       int            `json:"n_t_peaks"`
	NRPeaks       int            `json:"n_r_peaks"`
	HRV           HRVResult      `json:"hrv"`
	Quality       QualityMetrics `json:"quality"`
	PRIntervalsMs []float64      `json:"pr_intervals_ms"`
	Alerts        []Alert        `json:"alerts"`

	RRMs       []float64   `json:"rr_ms,omitempty"`
	HRBpmSeq   []float64   `json:"hr_bpm_seq,omitempty"`
	Peaks      []PeakEvent `json:"peaks,omitempty"`
	ML         *Scores     `json:"ml,omitempty"`
	AnalysisID string      `json:"analysis_id,omitempty"`
}

// AnalysisRequest is consumed from the analysis topic. Timestamps, one
// per sample, stand in for a missing sample rate.
type AnalysisRequest struct {
	RequestID    string      `json:"requestId"`
	PatientID    string      `json:"patientId"`
	Signal       []float64   `json:"signal"`
	SampleRateHz float64     `json:"sample_rate_hz"`
	Timestamps   []time.Time `json:"timestamps,omitempty"`
	Persist      bool        `json:"persist"`
}

// AnalysisEnvelope is what gets published on the results topic.
type AnalysisEnvelope struct {
	RequestID   string         `json:"requestId"`
	PatientID   string         `json:"patientId"`
	CompletedAt int64          `json:"completedAt"`
	Result      AnalysisResult `json:"result"`
}

// AlertNotification is published on the alert topic, one per alert.
type AlertNotification struct {
	PatientID  string `json:"patientId"`
	AnalysisID string `json:"analysisId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Alert      Alert  `json:"alert"`
}

// --- Sampling sessions ---

type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionStopped SessionStatus = "stopped"
	SessionFailed  SessionStatus = "failed"
)

// SamplingSession mirrors a row of the sampling_sessions table.
type SamplingSession struct {
	SessionID string        `json:"sessionId"`
	DeviceID  string        `json:"deviceId"`
	PatientID string        `json:"patientId"`
	Status    SessionStatus `json:"status"`
	RateHz    int           `json:"rateHz"`
	StartTime int64         `json:"startTime"`
	EndTime   *int64        `json:"endTime,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

type SessionStartPayload struct {
	DeviceID  string `json:"deviceId"`
	PatientID string `json:"patientId"`
	Channel   *int   `json:"channel,omitempty"`
	Gain      *int   `json:"gain,omitempty"`
	Rate      *int   `json:"rate,omitempty"`
	Filter    *bool  `json:"filter,omitempty"`
	Detect    *bool  `json:"detect,omitempty"`
}

type SessionStopPayload struct {
	DeviceID string `json:"deviceId"`
}

// RREvent is one beat-to-beat interval persisted from an analysis.
type RREvent struct {
	Timestamp int64   `json:"timestamp"`
	RRMs      float64 `json:"rr_ms"`
	HRBpm     float64 `json:"hr_bpm"`
	Source    string  `json:"source"`
}
