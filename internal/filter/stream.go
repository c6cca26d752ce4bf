// Package filter holds the streaming (per-sample) and batch (zero-phase)
// conditioning stages.
package filter

import (
	"math"
)

// Params configures the streaming bank.
type Params struct {
	HighpassHz float64
	LowpassHz  float64
}

func DefaultParams() Params {
	return Params{
		HighpassHz: 0.5,
		LowpassHz:  40.0,
	}
}

// HighPass is a single-pole baseline remover:
// y[n] = α·(y[n-1] + x[n] − x[n-1]).
type HighPass struct {
	alpha float64
	xPrev float64
	yPrev float64
}

func NewHighPass(sampleRate, cutoffHz float64) *HighPass {
	dt := 1.0 / sampleRate
	tau := 1.0 / (2 * math.Pi * cutoffHz)
	return &HighPass{alpha: tau / (tau + dt)}
}

func (h *HighPass) Alpha() float64 { return h.alpha }

func (h *HighPass) Process(x float64) float64 {
	y := h.alpha * (h.yPrev + x - h.xPrev)
	h.xPrev = x
	h.yPrev = y
	return y
}

func (h *HighPass) Reset() {
	h.xPrev, h.yPrev = 0, 0
}

// MovingAverage is a zero-initialised ring with a running sum. The output is
// always sum/N, so the first N-1 outputs are attenuated by the initial zeros.
type MovingAverage struct {
	buf []float64
	pos int
	sum float64
}

func NewMovingAverage(n int) *MovingAverage {
	if n < 1 {
		n = 1
	}
	return &MovingAverage{buf: make([]float64, n)}
}

// WindowLength returns round(sampleRate/cutoffHz), at least 1. Halves round
// to even.
func WindowLength(sampleRate, cutoffHz float64) int {
	n := int(math.RoundToEven(sampleRate / cutoffHz))
	if n < 1 {
		return 1
	}
	return n
}

func (m *MovingAverage) Len() int { return len(m.buf) }

func (m *MovingAverage) Process(x float64) float64 {
	m.sum -= m.buf[m.pos]
	m.buf[m.pos] = x
	m.sum += x
	m.pos++
	if m.pos == len(m.buf) {
		m.pos = 0
	}
	return m.sum / float64(len(m.buf))
}

func (m *MovingAverage) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.pos = 0
	m.sum = 0
}

// Bank is the per-session streaming filter state: high-pass followed by the
// moving-average low-pass. Not safe for concurrent use.
type Bank struct {
	hp *HighPass
	lp *MovingAverage
}

func NewBank(sampleRate float64, p Params) *Bank {
	return &Bank{
		hp: NewHighPass(sampleRate, p.HighpassHz),
		lp: NewMovingAverage(WindowLength(sampleRate, p.LowpassHz)),
	}
}

// Process conditions one sample in mV.
func (b *Bank) Process(mv float64) float64 {
	return b.lp.Process(b.hp.Process(mv))
}

func (b *Bank) Reset() {
	b.hp.Reset()
	b.lp.Reset()
}
