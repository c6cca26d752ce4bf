// Package quality scores a captured window for noise and motion artifacts.
package quality

import (
	"math"
	"sort"

	"ecg-monitor/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	windowSec = 2.0
	smoothLen = 5
	epsilon   = 1e-12
	medianEps = 1e-9
	stdFactor = 3.0
)

// Estimate returns the SNR in dB and the share of 2 s windows whose spread
// exceeds three times the median absolute level. Windows shorter than 2 s
// yield NaN for both.
func Estimate(signalMV []float64, sampleRate float64) models.QualityMetrics {
	q := models.QualityMetrics{SNRDB: models.NaN(), ArtifactRatio: models.NaN()}
	win := int(sampleRate * windowSec)
	if sampleRate <= 0 || len(signalMV) == 0 || len(signalMV) < win {
		return q
	}

	n := float64(len(signalMV))
	pTotal := floats.Dot(signalMV, signalMV) / n
	residual := make([]float64, len(signalMV))
	floats.SubTo(residual, signalMV, smooth(signalMV, smoothLen))
	pHF := floats.Dot(residual, residual) / n
	if pHF > 0 {
		q.SNRDB = models.Float(10 * math.Log10((pTotal-pHF)/(pHF+epsilon)))
	} else {
		q.SNRDB = models.Float(math.Inf(1))
	}

	q.ArtifactRatio = 0
	if win < 1 {
		return q
	}
	windows := len(signalMV) / win
	if windows == 0 {
		return q
	}
	abs := make([]float64, len(signalMV))
	for i, v := range signalMV {
		abs[i] = math.Abs(v) + medianEps
	}
	limit := stdFactor * Median(abs)
	artifacts := 0
	for i := 0; i < windows; i++ {
		_, sd := stat.PopMeanStdDev(signalMV[i*win:(i+1)*win], nil)
		if sd > limit {
			artifacts++
		}
	}
	q.ArtifactRatio = models.Float(float64(artifacts) / float64(windows))
	return q
}

// smooth is a centred moving average of width k with zero padding at both
// ends, so the output has the input's length.
func smooth(x []float64, k int) []float64 {
	out := make([]float64, len(x))
	half := (k - 1) / 2
	for i := range x {
		lo, hi := i-half, i+k-half
		if lo < 0 {
			lo = 0
		}
		if hi > len(x) {
			hi = len(x)
		}
		out[i] = floats.Sum(x[lo:hi]) / float64(k)
	}
	return out
}

// Median averages the two middle values of an even-length input. It returns
// NaN for an empty slice and does not modify x.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
