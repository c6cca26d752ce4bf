// Package analysis runs the batch pipeline over one captured window:
// wave detection, intervals, HRV, quality and alert rules.
package analysis

import (
	"math"
	"time"

	"ecg-monitor/internal/alert"
	"ecg-monitor/internal/detect"
	"ecg-monitor/internal/hrv"
	"ecg-monitor/internal/models"
	"ecg-monitor/internal/quality"
)

// DefaultSampleRate is assumed when a recording carries too few timestamps
// to estimate its rate.
const DefaultSampleRate = 250.0

type Params struct {
	Detect detect.Params
	HRV    hrv.Params
	Alerts alert.Thresholds
}

func DefaultParams() Params {
	return Params{
		Detect: detect.DefaultParams(),
		HRV:    hrv.DefaultParams(),
		Alerts: alert.DefaultThresholds(),
	}
}

// Analyzer is immutable after construction and safe for concurrent use.
type Analyzer struct {
	params Params
	scorer Scorer
}

func NewAnalyzer(p Params, s Scorer) *Analyzer {
	if s == nil {
		s = NoopScorer{}
	}
	return &Analyzer{params: p, scorer: s}
}

// Analyze never fails. An empty window, a window holding NaN or Inf, or a
// non-positive or non-finite rate yields a result whose counts are zero and
// whose metrics are NaN.
func (a *Analyzer) Analyze(signal []float64, sampleRate float64) models.AnalysisResult {
	if !Valid(signal, sampleRate) {
		return Empty(a.params.HRV)
	}

	dp := a.params.Detect
	pPeaks := dp.DetectP(signal, sampleRate)
	tPeaks := dp.DetectT(signal, sampleRate)
	rPeaks := dp.DetectR(signal, sampleRate)

	rr := hrv.RRIntervals(rPeaks, sampleRate)
	pr := hrv.PRIntervals(rPeaks, pPeaks, sampleRate)
	h := a.params.HRV.Compute(rr)

	res := models.AnalysisResult{
		NPPeaks:       len(pPeaks),
		NTPeaks:       len(tPeaks),
		NRPeaks:       len(rPeaks),
		HRV:           h,
		Quality:       quality.Estimate(signal, sampleRate),
		PRIntervalsMs: pr,
		Alerts:        a.params.Alerts.Evaluate(rr, pr, h),
	}
	res.Peaks = append(detect.Events(models.PeakR, signal, rPeaks), detect.Events(models.PeakP, signal, pPeaks)...)
	res.Peaks = append(res.Peaks, detect.Events(models.PeakT, signal, tPeaks)...)
	if len(rr) > 0 {
		res.RRMs = rr
		res.HRBpmSeq = hrv.HeartRates(rr)
	}
	if scores, err := a.scorer.Score(signal, sampleRate); err == nil {
		res.ML = &scores
	}
	return res
}

// Valid reports whether a window can be analysed.
func Valid(signal []float64, sampleRate float64) bool {
	if len(signal) == 0 || !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return false
	}
	for _, v := range signal {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Empty is the result for a window that cannot be analysed.
func Empty(p hrv.Params) models.AnalysisResult {
	return models.AnalysisResult{
		HRV:           p.Compute(nil),
		Quality:       models.QualityMetrics{SNRDB: models.NaN(), ArtifactRatio: models.NaN()},
		PRIntervalsMs: []float64{},
		Alerts:        []models.Alert{},
	}
}

// EstimateRate derives a sampling rate from recorded timestamps as the
// reciprocal of the median spacing.
func EstimateRate(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return DefaultSampleRate
	}
	dt := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		dt = append(dt, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}
	m := quality.Median(dt)
	if !(m > 0) {
		return DefaultSampleRate
	}
	return 1 / m
}
