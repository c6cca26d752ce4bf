package detect

import (
	"ecg-monitor/internal/filter"
	"ecg-monitor/internal/models"
)

// WaveParams describes how one wave kind is located in a window.
type WaveParams struct {
	// Band is nil for R, which is searched on the unfiltered signal.
	Band *filter.Band
	// MinSeparationSec is multiplied by the sample rate and truncated.
	MinSeparationSec float64
	MinProminenceMV  float64
}

type Params struct {
	R WaveParams
	P WaveParams
	T WaveParams
}

func DefaultParams() Params {
	p, t := filter.PWaveBand, filter.TWaveBand
	return Params{
		R: WaveParams{MinSeparationSec: 0.6, MinProminenceMV: 0.2},
		P: WaveParams{Band: &p, MinSeparationSec: 0.2, MinProminenceMV: 0.05},
		T: WaveParams{Band: &t, MinSeparationSec: 0.3, MinProminenceMV: 0.05},
	}
}

// Detect locates one wave kind in signal (mV). A window the band-pass cannot
// process yields no peaks.
func Detect(signal []float64, sampleRate float64, wp WaveParams) []int {
	if len(signal) == 0 || sampleRate <= 0 {
		return []int{}
	}
	x := signal
	if wp.Band != nil {
		filtered, err := filter.Bandpass(signal, *wp.Band, sampleRate)
		if err != nil {
			return []int{}
		}
		x = filtered
	}
	return FindPeaks(x, int(wp.MinSeparationSec*sampleRate), wp.MinProminenceMV)
}

func (p Params) DetectR(signal []float64, sampleRate float64) []int {
	return Detect(signal, sampleRate, p.R)
}

func (p Params) DetectP(signal []float64, sampleRate float64) []int {
	return Detect(signal, sampleRate, p.P)
}

func (p Params) DetectT(signal []float64, sampleRate float64) []int {
	return Detect(signal, sampleRate, p.T)
}

// Events pairs peak indices with the amplitude of the analysed signal.
func Events(kind models.PeakKind, signal []float64, idx []int) []models.PeakEvent {
	out := make([]models.PeakEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, models.PeakEvent{Kind: kind, Index: i, Amplitude: signal[i]})
	}
	return out
}
