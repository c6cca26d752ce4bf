// Package source abstracts the analog front end that produces raw ADC codes.
package source

import (
	"errors"
	"math"
)

var ErrNotConfigured = errors.New("source: read before configure")

// ConfigToken identifies the configuration a source was programmed with. For
// the ADS1115 it is the 16-bit config register value.
type ConfigToken uint16

// Source is a single-channel ADC. Implementations are not safe for concurrent
// use; a sampling session owns its source exclusively.
type Source interface {
	Configure(channel, gainIndex, rate int) (ConfigToken, error)
	Read() (int16, error)
	Close() error
}

// Full-scale ranges in volts per PGA index.
var fullScale = map[int]float64{
	0: 6.144,
	1: 4.096,
	2: 2.048,
	3: 1.024,
	4: 0.512,
	5: 0.256,
}

const DefaultGainIndex = 1

// FullScale returns the full-scale range in volts for a gain index. Unknown
// indices fall back to ±4.096 V.
func FullScale(gainIndex int) float64 {
	if fs, ok := fullScale[gainIndex]; ok {
		return fs
	}
	return fullScale[DefaultGainIndex]
}

// LSB returns volts per code.
func LSB(gainIndex int) float64 {
	return FullScale(gainIndex) / 32768.0
}

func VoltageMV(raw int16, gainIndex int) float64 {
	return float64(raw) * LSB(gainIndex) * 1000.0
}

// RawFromMV quantizes a millivolt value to the nearest code, saturating at
// the int16 range.
func RawFromMV(mv float64, gainIndex int) int16 {
	code := math.Round(mv / 1000.0 / LSB(gainIndex))
	switch {
	case code > math.MaxInt16:
		return math.MaxInt16
	case code < math.MinInt16:
		return math.MinInt16
	}
	return int16(code)
}
