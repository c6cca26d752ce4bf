package hrv

import (
	"math"
	"math/cmplx"

	"ecg-monitor/internal/models"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/interp"
)

// FreqDomain resamples the RR series (in seconds) onto a uniform grid and
// integrates its Welch spectrum over the LF and HF bands. The segment length
// is capped at MaxSegment regardless of how long the recording is.
func (p Params) FreqDomain(rrMs []float64) models.FreqDomain {
	fd := models.FreqDomain{LF: models.NaN(), HF: models.NaN(), LFHF: models.NaN()}
	if len(rrMs) < 3 {
		return fd
	}

	t := make([]float64, len(rrMs))
	floats.CumSum(t, rrMs)
	floats.Scale(1.0/1000.0, t)
	floats.AddConst(-t[0], t)
	// Interpolation needs strictly increasing beat times; a zero-length
	// interval leaves the series undefined.
	for i := 1; i < len(t); i++ {
		if !(t[i] > t[i-1]) {
			return fd
		}
	}
	x := make([]float64, len(rrMs))
	copy(x, rrMs)
	floats.Scale(1.0/1000.0, x)

	step := 1.0 / p.ResampleHz
	n := int(math.Ceil(t[len(t)-1] / step))
	if n < p.MinGridPoints {
		return fd
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(t, x); err != nil {
		return fd
	}
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = pl.Predict(float64(i) * step)
	}

	seg := p.MaxSegment
	if n < seg {
		seg = n
	}
	f, pxx := Welch(uniform, p.ResampleHz, seg)

	lf := bandPower(f, pxx, p.LFLow, p.LFHigh)
	hf := bandPower(f, pxx, p.HFLow, p.HFHigh)
	fd.LF = models.Float(lf)
	fd.HF = models.Float(hf)
	if hf > 0 {
		fd.LFHF = models.Float(lf / hf)
	}
	fd.Spectrum = &models.Spectrum{F: f, Pxx: pxx}
	return fd
}

// bandPower integrates pxx over [lo, hi) with the trapezoid rule. A band that
// holds fewer than two bins has zero power.
func bandPower(f, pxx []float64, lo, hi float64) float64 {
	var bf, bp []float64
	for i := range f {
		if f[i] >= lo && f[i] < hi {
			bf = append(bf, f[i])
			bp = append(bp, pxx[i])
		}
	}
	if len(bf) < 2 {
		return 0
	}
	return integrate.Trapezoidal(bf, bp)
}

// Welch estimates a one-sided power spectral density with periodic Hann
// windows, 50% overlap and per-segment mean removal.
func Welch(x []float64, fs float64, nperseg int) (freqs, pxx []float64) {
	if nperseg > len(x) {
		nperseg = len(x)
	}
	if nperseg < 1 {
		return []float64{}, []float64{}
	}
	noverlap := nperseg / 2
	stride := nperseg - noverlap
	nseg := (len(x) - noverlap) / stride

	win := make([]float64, nperseg)
	for i := range win {
		win[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nperseg))
	}
	scale := 1.0 / (fs * floats.Dot(win, win))

	nfreq := nperseg/2 + 1
	pxx = make([]float64, nfreq)
	fft := fourier.NewFFT(nperseg)
	buf := make([]float64, nperseg)
	coeff := make([]complex128, nfreq)
	for s := 0; s < nseg; s++ {
		segment := x[s*stride : s*stride+nperseg]
		mean := floats.Sum(segment) / float64(nperseg)
		for i, v := range segment {
			buf[i] = (v - mean) * win[i]
		}
		coeff = fft.Coefficients(coeff, buf)
		for k, c := range coeff {
			m := cmplx.Abs(c)
			pxx[k] += m * m * scale
		}
	}
	for k := range pxx {
		pxx[k] /= float64(nseg)
		// fold negative frequencies; DC and an even-length Nyquist bin are unique
		if k > 0 && !(nperseg%2 == 0 && k == nfreq-1) {
			pxx[k] *= 2
		}
	}

	freqs = make([]float64, nfreq)
	for k := range freqs {
		freqs[k] = float64(k) * fs / float64(nperseg)
	}
	return freqs, pxx
}
