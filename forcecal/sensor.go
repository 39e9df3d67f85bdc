package forcecal

import "github.com/golang/geo/r3"

// ForceSource reports one instantaneous force reading. valid is false when
// the sensor is disconnected or flags the sample as bad.
type ForceSource interface {
	ReadForce() (force r3.Vector, valid bool)
}

// Sensor is everything the calibration session needs from a force sensor.
// Any transport (in-process, serial, network) can satisfy it.
type Sensor interface {
	ForceSource
	// ZeroBias makes subsequent readings relative to the current load.
	ZeroBias() error
	// UnzeroBias removes the offset installed by ZeroBias.
	UnzeroBias() error
	IsCalibrated() (bool, error)
	// Uncalibrate makes the sensor report raw, uncorrected output.
	Uncalibrate() error
}
