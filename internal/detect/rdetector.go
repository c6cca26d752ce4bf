package detect

import (
	"math"
	"time"

	"ecg-monitor/internal/filter"
)

// StreamParams tunes the live R detector.
type StreamParams struct {
	Factor         float64
	FloorMV        float64
	EnvelopeWindow time.Duration
	Refractory     time.Duration
}

func DefaultStreamParams() StreamParams {
	return StreamParams{
		Factor:         3.0,
		FloorMV:        0.1,
		EnvelopeWindow: 50 * time.Millisecond,
		Refractory:     200 * time.Millisecond,
	}
}

// RDetector flags R events on the conditioned stream. The envelope is the
// moving average of |x| over EnvelopeWindow. One detector per session.
type RDetector struct {
	params   StreamParams
	envelope *filter.MovingAverage
	lastPeak time.Time
	hasPeak  bool
}

func NewRDetector(sampleRate float64, p StreamParams) *RDetector {
	n := int(math.RoundToEven(sampleRate * p.EnvelopeWindow.Seconds()))
	return &RDetector{
		params:   p,
		envelope: filter.NewMovingAverage(n),
	}
}

// Process returns true when filteredMV at ts is a new R event.
func (d *RDetector) Process(filteredMV float64, ts time.Time) bool {
	mag := math.Abs(filteredMV)
	env := d.envelope.Process(mag)

	threshold := math.Max(d.params.FloorMV, d.params.Factor*env)
	if mag < threshold {
		return false
	}
	if d.hasPeak && ts.Sub(d.lastPeak) < d.params.Refractory {
		return false
	}
	d.lastPeak = ts
	d.hasPeak = true
	return true
}

func (d *RDetector) Reset() {
	d.envelope.Reset()
	d.lastPeak = time.Time{}
	d.hasPeak = false
}
