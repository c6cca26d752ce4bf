package models

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float is a metric value that may be undefined. NaN and infinities are
// written as JSON null and null reads back as NaN.
type Float float64

func NaN() Float { return Float(math.NaN()) }

func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

// Defined reports whether f is a finite number.
func (f Float) Defined() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Defined() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(f), 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = NaN()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}
