package source

import (
	"fmt"
	"math"
)

// Simulator produces an ECG-like waveform (not clinical) quantized to ADC
// codes: slow baseline, gaussian P/QRS/T and cheap deterministic noise.
type Simulator struct {
	hrBPM float64
	noise float64

	rate  float64
	gain  int
	phase float64
	ready bool
}

// NewSimulator hrBPM typically 60-120, noise in mV (~0.0-0.05).
func NewSimulator(hrBPM, noise float64) *Simulator {
	return &Simulator{hrBPM: hrBPM, noise: noise}
}

func (s *Simulator) Configure(channel, gainIndex, rate int) (ConfigToken, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("simulator: invalid rate %d", rate)
	}
	s.rate = float64(rate)
	s.gain = gainIndex
	s.phase = 0
	s.ready = true
	dr, _ := DataRateBits(rate)
	mux := muxBits[channel]
	return ConfigToken(BuildConfig(mux, uint16(gainIndex), 0, dr, 0b11)), nil
}

func (s *Simulator) Read() (int16, error) {
	if !s.ready {
		return 0, ErrNotConfigured
	}
	s.phase += s.hrBPM / 60.0 / s.rate
	if s.phase >= 1.0 {
		s.phase -= 1.0
	}
	return RawFromMV(s.valueMV(s.phase), s.gain), nil
}

func (s *Simulator) Close() error {
	s.ready = false
	return nil
}

func (s *Simulator) valueMV(t float64) float64 {
	baseline := 0.05 * math.Sin(2*math.Pi*0.33*t)

	p := 0.08 * gauss(t, 0.18, 0.03)
	q := -0.12 * gauss(t, 0.30, 0.01)
	r := 1.00 * gauss(t, 0.32, 0.008)
	sw := -0.25 * gauss(t, 0.35, 0.012)
	tw := 0.25 * gauss(t, 0.60, 0.06)

	n := s.noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)

	return baseline + p + q + r + sw + tw + n
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }
