// Package sim provides an in-process force sensor with a known calibration
// matrix. It backs the -demo front-ends and the session tests.
package sim

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/CK6170/forcecal-go/models"
)

// ErrDisconnected is returned by bias commands after FailAfter(0).
var ErrDisconnected = errors.New("sim: sensor disconnected")

// Sensor produces raw output = truth·[f; f×p] + offset for the applied load.
type Sensor struct {
	mu         sync.Mutex
	truth      models.CalibrationMatrix
	offset     r3.Vector
	load       models.WrenchSample
	zero       r3.Vector
	zeroed     bool
	calibrated bool
	noise      float64
	rng        *rand.Rand
	reads      int
	failAfter  int
	unzeroErr  error
}

type Option func(*Sensor)

// WithOffset sets the output with no load applied.
func WithOffset(v r3.Vector) Option {
	return func(s *Sensor) { s.offset = v }
}

// WithNoise adds gaussian noise with the given standard deviation to every read.
func WithNoise(stddev float64, seed uint64) Option {
	return func(s *Sensor) {
		s.noise = stddev
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithCalibrated starts the sensor in calibrated mode.
func WithCalibrated() Option {
	return func(s *Sensor) { s.calibrated = true }
}

// FailAfter makes every read after the first k invalid. k < 0 disables it.
func FailAfter(k int) Option {
	return func(s *Sensor) { s.failAfter = k }
}

func New(truth models.CalibrationMatrix, opts ...Option) *Sensor {
	s := &Sensor{truth: truth, failAfter: -1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DemoMatrix is the ground truth used by -demo mode: a mostly diagonal force
// response with small cross-talk and moment coupling.
func DemoMatrix() models.CalibrationMatrix {
	return models.CalibrationMatrix{
		{1.02, 0.01, -0.02, 0.003, 0.0, 0.001},
		{-0.01, 0.98, 0.015, 0.0, -0.002, 0.0},
		{0.02, -0.005, 1.05, 0.001, 0.001, -0.004},
	}
}

// SetLoad applies a wrench to the sensor.
func (s *Sensor) SetLoad(w models.WrenchSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load = w
}

// SetFailAfter changes the read budget; the read counter is reset.
func (s *Sensor) SetFailAfter(k int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = k
	s.reads = 0
}

// SetUnzeroError makes UnzeroBias return err until cleared with nil.
func (s *Sensor) SetUnzeroError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unzeroErr = err
}

// Reads returns the number of ReadForce calls so far.
func (s *Sensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sensor) Zeroed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroed
}

func (s *Sensor) raw() r3.Vector {
	if s.calibrated {
		return s.load.Force()
	}
	out := s.truth.Apply(s.load).Vector().Add(s.offset)
	if s.noise > 0 && s.rng != nil {
		out = out.Add(r3.Vector{
			X: s.rng.NormFloat64() * s.noise,
			Y: s.rng.NormFloat64() * s.noise,
			Z: s.rng.NormFloat64() * s.noise,
		})
	}
	return out
}

func (s *Sensor) ReadForce() (r3.Vector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failAfter >= 0 && s.reads > s.failAfter {
		return r3.Vector{}, false
	}
	v := s.raw()
	if s.zeroed {
		v = v.Sub(s.zero)
	}
	return v, true
}

// ZeroBias captures the unloaded output as the new zero: the operator is
// expected to remove the load before a new force is recorded.
func (s *Sensor) ZeroBias() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected() {
		return ErrDisconnected
	}
	if s.calibrated {
		s.zero = r3.Vector{}
	} else {
		s.zero = s.offset
	}
	s.zeroed = true
	return nil
}

func (s *Sensor) UnzeroBias() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unzeroErr != nil {
		return s.unzeroErr
	}
	if s.disconnected() {
		return ErrDisconnected
	}
	s.zero = r3.Vector{}
	s.zeroed = false
	return nil
}

func (s *Sensor) IsCalibrated() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrated, nil
}

func (s *Sensor) Uncalibrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrated = false
	return nil
}

func (s *Sensor) Close() error { return nil }

// disconnected is true only for FailAfter(0); a partial budget keeps the
// bias commands working.
func (s *Sensor) disconnected() bool {
	return s.failAfter == 0
}
