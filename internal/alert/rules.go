// Package alert turns rhythm and HRV measurements into typed alerts.
package alert

import (
	"math"

	"ecg-monitor/internal/models"

	"gonum.org/v1/gonum/stat"
)

// Thresholds are the rule cut-offs. Comparisons are strict.
type Thresholds struct {
	AFMinRR     int
	AFSDNNMs    float64
	LongPRMs    float64
	LongPRCount int
	LowSDNNMs   float64
	LowRMSSDMs  float64
	LowPNN50    float64
	LFHFHigh    float64
	LFHFLow     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AFMinRR:     4,
		AFSDNNMs:    120,
		LongPRMs:    200,
		LongPRCount: 3,
		LowSDNNMs:   50,
		LowRMSSDMs:  20,
		LowPNN50:    5,
		LFHFHigh:    3,
		LFHFLow:     0.5,
	}
}

// Evaluate applies the rhythm rules to the raw intervals and the HRV rules
// to the derived metrics. It never returns nil.
func (th Thresholds) Evaluate(rrMs, prMs []float64, h models.HRVResult) []models.Alert {
	alerts := append(th.Rhythm(rrMs, prMs), th.HRV(h)...)
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}

func Evaluate(rrMs, prMs []float64, h models.HRVResult) []models.Alert {
	return DefaultThresholds().Evaluate(rrMs, prMs, h)
}

// Rhythm flags irregular RR spread and prolonged atrioventricular
// conduction.
func (th Thresholds) Rhythm(rrMs, prMs []float64) []models.Alert {
	var alerts []models.Alert
	if len(rrMs) >= th.AFMinRR && len(rrMs) >= 2 {
		// sample standard deviation; a plateau with one outlier beat must trip it
		if sd := stat.StdDev(rrMs, nil); sd > th.AFSDNNMs {
			alerts = append(alerts, newAlert(models.AlertAFSuspected, models.SeverityWarning, "sdnn_ms", sd))
		}
	}

	long := 0
	for _, pr := range prMs {
		if pr > th.LongPRMs {
			long++
		}
	}
	if long >= th.LongPRCount {
		alerts = append(alerts, newAlert(models.AlertAVBlockSuspected, models.SeverityWarning, "n_long_pr", float64(long)))
	}
	return alerts
}

// HRV checks the time and frequency metrics; undefined metrics never alert.
func (th Thresholds) HRV(h models.HRVResult) []models.Alert {
	var alerts []models.Alert
	if v := h.Time.SDNN; !v.IsNaN() && float64(v) < th.LowSDNNMs {
		alerts = append(alerts, newAlert(models.AlertLowSDNN, models.SeverityWarning, "sdnn", float64(v)))
	}
	if v := h.Time.RMSSD; !v.IsNaN() && float64(v) < th.LowRMSSDMs {
		alerts = append(alerts, newAlert(models.AlertLowRMSSD, models.SeverityWarning, "rmssd", float64(v)))
	}
	if v := h.Time.PNN50; !v.IsNaN() && float64(v) < th.LowPNN50 {
		alerts = append(alerts, newAlert(models.AlertLowPNN50, models.SeverityInfo, "pnn50", float64(v)))
	}
	if v := h.Freq.LFHF; !v.IsNaN() && (float64(v) > th.LFHFHigh || float64(v) < th.LFHFLow) {
		alerts = append(alerts, newAlert(models.AlertAbnormalLFHF, models.SeverityWarning, "lf_hf", float64(v)))
	}
	return alerts
}

func newAlert(kind string, sev models.Severity, key string, value float64) models.Alert {
	if math.IsInf(value, 0) {
		value = math.Copysign(math.MaxFloat64, value)
	}
	return models.Alert{Type: kind, Severity: sev, Details: map[string]float64{key: value}}
}
