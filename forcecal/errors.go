package forcecal

import "errors"

// Error kinds reported by the calibration workflow. Session and solver
// failures wrap one of these, so callers can branch with errors.Is.
var (
	ErrInvalidReading   = errors.New("invalid force reading")
	ErrInsufficientData = errors.New("insufficient calibration data")
	ErrSolverFailure    = errors.New("least-squares solve failed")
	ErrOutOfRange       = errors.New("sample index out of range")
	ErrExportFailure    = errors.New("export failed")
	ErrNoCalibration    = errors.New("no calibration matrix computed")
	ErrUnexpectedEvent  = errors.New("event not allowed in current state")
	ErrTerminated       = errors.New("session terminated")
	ErrInvalidWrench    = errors.New("force and position must be finite numbers")
	// ErrBusy is returned when an event arrives while another is still running.
	ErrBusy = errors.New("session busy")
)
