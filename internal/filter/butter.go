package filter

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Band is a pass band in Hz.
type Band struct {
	LowHz  float64
	HighHz float64
}

var (
	PWaveBand = Band{LowHz: 0.5, HighHz: 10}
	TWaveBand = Band{LowHz: 1, HighHz: 7}
)

// ButterBandpass designs a digital Butterworth band-pass of the given
// prototype order (the result has 2*order poles). Coefficients are returned
// with a[0] == 1.
func ButterBandpass(order int, band Band, sampleRate float64) (b, a []float64, err error) {
	if order < 1 {
		return nil, nil, fmt.Errorf("filter: order must be positive, got %d", order)
	}
	nyq := 0.5 * sampleRate
	w1, w2 := band.LowHz/nyq, band.HighHz/nyq
	if !(w1 > 0 && w1 < w2 && w2 < 1) {
		return nil, nil, fmt.Errorf("filter: band %.3g-%.3g Hz invalid for %.3g Hz sampling", band.LowHz, band.HighHz, sampleRate)
	}

	// pre-warp with the normalised design rate of 2
	const fsd = 2.0
	warped1 := 2 * fsd * math.Tan(math.Pi*w1/fsd)
	warped2 := 2 * fsd * math.Tan(math.Pi*w2/fsd)
	bw := warped2 - warped1
	wo := math.Sqrt(warped1 * warped2)

	// analog low-pass prototype poles
	proto := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		proto = append(proto, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order))))
	}

	// low-pass to band-pass: order zeros at the origin
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		lp := p * complex(bw/2, 0)
		root := cmplx.Sqrt(lp*lp - complex(wo*wo, 0))
		poles = append(poles, lp+root, lp-root)
	}
	gain := math.Pow(bw, float64(order))

	// bilinear transform
	const fs2 = 2 * fsd
	zeros := make([]complex128, 0, 2*order)
	for i := 0; i < order; i++ {
		zeros = append(zeros, 1)
	}
	for i := 0; i < order; i++ {
		zeros = append(zeros, -1)
	}
	num := complex(math.Pow(fs2, float64(order)), 0)
	den := complex(1, 0)
	zPoles := make([]complex128, len(poles))
	for i, p := range poles {
		zPoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain *= real(num / den)

	bc := poly(zeros)
	ac := poly(zPoles)
	b = make([]float64, len(bc))
	a = make([]float64, len(ac))
	for i := range bc {
		b[i] = gain * real(bc[i])
	}
	for i := range ac {
		a[i] = real(ac[i])
	}
	return b, a, nil
}

// poly expands prod(x - r) into coefficients, highest power first.
func poly(roots []complex128) []complex128 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		next[0] = c[0]
		for i := 1; i < len(c); i++ {
			next[i] = c[i] - r*c[i-1]
		}
		next[len(c)] = -r * c[len(c)-1]
		c = next
	}
	return c
}
