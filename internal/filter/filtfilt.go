package filter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrTooShort is returned when a window is not longer than the edge padding
// the zero-phase filter needs.
var ErrTooShort = errors.New("filter: input shorter than padding length")

// PadLen is the odd-extension length used by FiltFilt.
func PadLen(b, a []float64) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	return 3 * n
}

// FiltFilt applies b/a forward and backward for zero phase distortion. The
// signal is extended at both ends by odd reflection and each pass starts from
// the steady-state response to its first input.
func FiltFilt(b, a, x []float64) ([]float64, error) {
	b, a = normalize(b, a)
	edge := PadLen(b, a)
	if len(x) <= edge {
		return nil, fmt.Errorf("%w: need more than %d samples, got %d", ErrTooShort, edge, len(x))
	}
	zi, err := steadyState(b, a)
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, edge)

	y := lfilter(b, a, ext, scaled(zi, ext[0]))
	reverse(y)
	y = lfilter(b, a, y, scaled(zi, y[0]))
	reverse(y)

	return y[edge : len(y)-edge], nil
}

func normalize(b, a []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	bn := make([]float64, n)
	an := make([]float64, n)
	for i, v := range b {
		bn[i] = v / a[0]
	}
	for i, v := range a {
		an[i] = v / a[0]
	}
	return bn, an
}

// steadyState solves (I - companion(a)^T) zi = b[1:] - a[1:]*b[0].
func steadyState(b, a []float64) ([]float64, error) {
	n := len(a) - 1
	if n == 0 {
		return nil, nil
	}
	m := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
		m.Set(i, 0, m.At(i, 0)+a[i+1])
		if i+1 < n {
			m.Set(i, i+1, m.At(i, i+1)-1)
		}
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}
	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("filter: initial conditions: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = zi.AtVec(i)
	}
	return out, nil
}

// lfilter is a direct form II transposed IIR pass starting from state z.
func lfilter(b, a, x, z []float64) []float64 {
	y := make([]float64, len(x))
	n := len(z)
	for i, xi := range x {
		yi := b[0]*xi + first(z)
		for k := 0; k < n; k++ {
			next := 0.0
			if k+1 < n {
				next = z[k+1]
			}
			z[k] = b[k+1]*xi + next - a[k+1]*yi
		}
		y[i] = yi
	}
	return y
}

func first(z []float64) float64 {
	if len(z) == 0 {
		return 0
	}
	return z[0]
}

func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	ext := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}
	return ext
}

func scaled(v []float64, k float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * k
	}
	return out
}

func reverse(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}

// Bandpass designs a 2nd-order Butterworth band and runs it zero-phase.
func Bandpass(x []float64, band Band, sampleRate float64) ([]float64, error) {
	b, a, err := ButterBandpass(2, band, sampleRate)
	if err != nil {
		return nil, err
	}
	return FiltFilt(b, a, x)
}
