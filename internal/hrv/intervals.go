// Package hrv derives beat intervals and heart-rate-variability statistics
// from detected peaks.
package hrv

import (
	"sort"
)

// RRIntervals converts consecutive R-peak indices to milliseconds.
func RRIntervals(rPeaks []int, sampleRate float64) []float64 {
	if len(rPeaks) < 2 || sampleRate <= 0 {
		return []float64{}
	}
	rr := make([]float64, 0, len(rPeaks)-1)
	for i := 1; i < len(rPeaks); i++ {
		rr = append(rr, float64(rPeaks[i]-rPeaks[i-1])/sampleRate*1000)
	}
	return rr
}

// PRIntervals measures, for every R peak that has one, the time back to the
// nearest preceding P peak. pPeaks must be ascending.
func PRIntervals(rPeaks, pPeaks []int, sampleRate float64) []float64 {
	out := []float64{}
	if sampleRate <= 0 {
		return out
	}
	for _, r := range rPeaks {
		// first P at or after r; the one before it precedes r
		i := sort.SearchInts(pPeaks, r)
		if i == 0 {
			continue
		}
		out = append(out, float64(r-pPeaks[i-1])/sampleRate*1000)
	}
	return out
}

// HeartRates converts RR intervals to instantaneous beats per minute.
func HeartRates(rrMs []float64) []float64 {
	out := make([]float64, 0, len(rrMs))
	for _, rr := range rrMs {
		out = append(out, 60000.0/rr)
	}
	return out
}
