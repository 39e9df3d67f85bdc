package models

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// WrenchSample is an applied force (fx, fy, fz) and the point (px, py, pz)
// where it was applied, relative to the sensor origin.
type WrenchSample [6]float64

// NewWrenchSample builds a sample from a force and its application point.
func NewWrenchSample(force, position r3.Vector) WrenchSample {
	return WrenchSample{force.X, force.Y, force.Z, position.X, position.Y, position.Z}
}

func (w WrenchSample) Force() r3.Vector    { return r3.Vector{X: w[0], Y: w[1], Z: w[2]} }
func (w WrenchSample) Position() r3.Vector { return r3.Vector{X: w[3], Y: w[4], Z: w[5]} }

// Moment returns f × p. This is the torque term as the calibration model
// uses it (the negated p × f).
func (w WrenchSample) Moment() r3.Vector {
	return w.Force().Cross(w.Position())
}

// Regressor returns the six model inputs (fx, fy, fz, mx, my, mz).
func (w WrenchSample) Regressor() [6]float64 {
	m := w.Moment()
	return [6]float64{w[0], w[1], w[2], m.X, m.Y, m.Z}
}

// IsFinite reports whether every component is a real number.
func (w WrenchSample) IsFinite() bool {
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (w WrenchSample) String() string {
	return fmt.Sprintf("force = %g %g %g, position = %g %g %g", w[0], w[1], w[2], w[3], w[4], w[5])
}

// ReadingSample is one averaged raw sensor output (sx, sy, sz).
type ReadingSample [3]float64

// NewReadingSample converts a force vector reported by a sensor.
func NewReadingSample(v r3.Vector) ReadingSample {
	return ReadingSample{v.X, v.Y, v.Z}
}

func (r ReadingSample) Vector() r3.Vector { return r3.Vector{X: r[0], Y: r[1], Z: r[2]} }

func (r ReadingSample) String() string {
	return fmt.Sprintf("%g %g %g", r[0], r[1], r[2])
}

// CalibrationMatrix maps the regressor of a wrench to the raw sensor output.
type CalibrationMatrix [3][6]float64

// Apply predicts the raw reading produced by w.
func (m CalibrationMatrix) Apply(w WrenchSample) ReadingSample {
	x := w.Regressor()
	var out ReadingSample
	for j := 0; j < 3; j++ {
		for k := 0; k < 6; k++ {
			out[j] += m[j][k] * x[k]
		}
	}
	return out
}

// Rows returns the matrix as nested slices, the layout used by the export document.
func (m CalibrationMatrix) Rows() [][]float64 {
	out := make([][]float64, 3)
	for j := range m {
		out[j] = append([]float64(nil), m[j][:]...)
	}
	return out
}
