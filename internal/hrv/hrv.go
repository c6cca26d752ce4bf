package hrv

import (
	"math"

	"ecg-monitor/internal/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Params holds the spectral settings. Band edges are [Low, High).
type Params struct {
	ResampleHz    float64
	MaxSegment    int
	MinGridPoints int
	LFLow, LFHigh float64
	HFLow, HFHigh float64
	NN50Ms        float64
}

func DefaultParams() Params {
	return Params{
		ResampleHz:    4.0,
		MaxSegment:    256,
		MinGridPoints: 8,
		LFLow:         0.04,
		LFHigh:        0.15,
		HFLow:         0.15,
		HFHigh:        0.40,
		NN50Ms:        50,
	}
}

// Compute derives every HRV view of an RR sequence (ms). Metrics that need
// more beats than are available are NaN.
func (p Params) Compute(rrMs []float64) models.HRVResult {
	return models.HRVResult{
		Time:      p.TimeDomain(rrMs),
		Freq:      p.FreqDomain(rrMs),
		Poincare:  PoincarePlot(rrMs),
		Tachogram: BuildTachogram(rrMs),
	}
}

func Compute(rrMs []float64) models.HRVResult {
	return DefaultParams().Compute(rrMs)
}

func (p Params) TimeDomain(rrMs []float64) models.TimeDomain {
	td := models.TimeDomain{SDNN: models.NaN(), RMSSD: models.NaN(), PNN50: models.NaN()}
	if len(rrMs) >= 2 {
		_, sd := stat.PopMeanStdDev(rrMs, nil)
		td.SDNN = models.Float(sd)
	}
	d := diff(rrMs)
	if len(d) >= 2 {
		td.RMSSD = models.Float(math.Sqrt(floats.Dot(d, d) / float64(len(d))))
	}
	if len(d) >= 1 {
		nn50 := 0
		for _, v := range d {
			if math.Abs(v) > p.NN50Ms {
				nn50++
			}
		}
		td.PNN50 = models.Float(100.0 * float64(nn50) / float64(len(d)))
	}
	return td
}

func PoincarePlot(rrMs []float64) models.Poincare {
	pc := models.Poincare{SD1: models.NaN(), SD2: models.NaN(), Points: [][2]float64{}}
	if len(rrMs) < 2 {
		return pc
	}
	n := len(rrMs) - 1
	across := make([]float64, n)
	along := make([]float64, n)
	for i := 0; i < n; i++ {
		x1, x2 := rrMs[i], rrMs[i+1]
		across[i] = (x2 - x1) / math.Sqrt2
		along[i] = (x2 + x1) / math.Sqrt2
		pc.Points = append(pc.Points, [2]float64{x1, x2})
	}
	_, sd1 := stat.PopMeanStdDev(across, nil)
	_, sd2 := stat.PopMeanStdDev(along, nil)
	pc.SD1 = models.Float(sd1)
	pc.SD2 = models.Float(sd2)
	return pc
}

func BuildTachogram(rrMs []float64) models.Tachogram {
	tg := models.Tachogram{
		TimeS: make([]float64, len(rrMs)),
		RRMs:  append([]float64{}, rrMs...),
	}
	floats.CumSum(tg.TimeS, rrMs)
	floats.Scale(1.0/1000.0, tg.TimeS)
	return tg
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	d := make([]float64, len(x)-1)
	for i := range d {
		d[i] = x[i+1] - x[i]
	}
	return d
}
