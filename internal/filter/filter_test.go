package filter

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighPass_RejectsDC(t *testing.T) {
	for _, level := range []float64{-3.2, 0.7, 1500} {
		hp := NewHighPass(250, 0.5)
		var y float64
		prev := math.Inf(1)
		for i := 0; i < 5000; i++ {
			y = hp.Process(level)
			require.LessOrEqual(t, math.Abs(y), prev+1e-12)
			prev = math.Abs(y)
		}
		assert.Less(t, math.Abs(y), 1e-6*math.Abs(level)+1e-9, "level %v", level)
	}
}

func TestHighPass_Alpha(t *testing.T) {
	hp := NewHighPass(250, 0.5)
	tau := 1 / (2 * math.Pi * 0.5)
	assert.InDelta(t, tau/(tau+0.004), hp.Alpha(), 1e-15)
}

func TestWindowLength(t *testing.T) {
	assert.Equal(t, 6, WindowLength(250, 40))
	assert.Equal(t, 12, WindowLength(250, 20)) // 12.5 rounds to even
	assert.Equal(t, 22, WindowLength(860, 40))
	assert.Equal(t, 1, WindowLength(10, 40))
}

func TestMovingAverage_RollingSum(t *testing.T) {
	ma := NewMovingAverage(4)
	got := []float64{}
	for _, x := range []float64{4, 4, 4, 4, 8, 8} {
		got = append(got, ma.Process(x))
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got)

	ma.Reset()
	assert.Equal(t, 0.25, ma.Process(1))
}

func TestBank_ConvergesOnDCAndReset(t *testing.T) {
	bank := NewBank(250, DefaultParams())
	var y float64
	for i := 0; i < 10000; i++ {
		y = bank.Process(512.0)
	}
	assert.InDelta(t, 0, y, 1e-4)

	bank.Reset()
	first := bank.Process(6.0)
	hp := NewHighPass(250, 0.5)
	assert.InDelta(t, hp.Process(6.0)/6.0, first, 1e-12)
}

func response(b, a []float64, w float64) complex128 {
	var num, den complex128
	z := cmplx.Exp(complex(0, -w))
	zk := complex(1, 0)
	for i := range b {
		num += complex(b[i], 0) * zk
		den += complex(a[i], 0) * zk
		zk *= z
	}
	return num / den
}

func TestButterBandpass_Shape(t *testing.T) {
	b, a, err := ButterBandpass(2, PWaveBand, 250)
	require.NoError(t, err)
	require.Len(t, b, 5)
	require.Len(t, a, 5)
	assert.Equal(t, 1.0, a[0])

	// zeros at DC and Nyquist
	assert.InDelta(t, 0, cmplx.Abs(response(b, a, 0)), 1e-12)
	assert.InDelta(t, 0, cmplx.Abs(response(b, a, math.Pi)), 1e-12)

	// unit gain at the (pre-warped) centre frequency
	w1 := 4 * math.Tan(math.Pi*(0.5/125)/2)
	w2 := 4 * math.Tan(math.Pi*(10.0/125)/2)
	centre := 2 * math.Atan(math.Sqrt(w1*w2)/4)
	assert.InDelta(t, 1, cmplx.Abs(response(b, a, centre)), 1e-9)

	// -3 dB at the band edges
	edge := 2 * math.Pi * 10 / 250
	assert.InDelta(t, 1/math.Sqrt2, cmplx.Abs(response(b, a, edge)), 1e-9)
}

func TestButterBandpass_InvalidBand(t *testing.T) {
	_, _, err := ButterBandpass(2, Band{LowHz: 1, HighHz: 7}, 10)
	assert.Error(t, err)
	_, _, err = ButterBandpass(2, Band{LowHz: 7, HighHz: 1}, 250)
	assert.Error(t, err)
	_, _, err = ButterBandpass(0, TWaveBand, 250)
	assert.Error(t, err)
}

func TestFiltFilt_TooShort(t *testing.T) {
	b, a, err := ButterBandpass(2, TWaveBand, 250)
	require.NoError(t, err)
	assert.Equal(t, 15, PadLen(b, a))

	_, err = FiltFilt(b, a, make([]float64, 15))
	assert.ErrorIs(t, err, ErrTooShort)

	out, err := FiltFilt(b, a, make([]float64, 16))
	require.NoError(t, err)
	assert.Len(t, out, 16)
}

func TestFiltFilt_ZeroPhaseInBand(t *testing.T) {
	const fs = 250.0
	x := make([]float64, 2500)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 3 * float64(i) / fs)
	}
	y, err := Bandpass(x, PWaveBand, fs)
	require.NoError(t, err)
	require.Len(t, y, len(x))

	// away from the edges the in-band tone passes with no phase shift
	for i := 500; i < 2000; i++ {
		assert.InDelta(t, x[i], y[i], 0.05, "sample %d", i)
	}
}

func TestFiltFilt_RemovesOffset(t *testing.T) {
	x := make([]float64, 1000)
	for i := range x {
		x[i] = 2.5
	}
	y, err := Bandpass(x, TWaveBand, 250)
	require.NoError(t, err)
	for _, v := range y {
		assert.InDelta(t, 0, v, 1e-9)
	}
}
