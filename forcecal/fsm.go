package forcecal

import (
	"fmt"

	"github.com/CK6170/forcecal-go/models"
)

type State string

const (
	StateIdle                State = "idle"
	StateAwaitingWrenchInput State = "awaiting_wrench_input"
	StateAwaitingReading     State = "awaiting_reading"
	StateSolved              State = "solved"
	StateExported            State = "exported"
	StateTerminated          State = "terminated"
)

type EventKind string

const (
	// EventRecordWrench zeroes the sensor bias and opens the wrench prompt.
	EventRecordWrench EventKind = "record_wrench"
	// EventSubmitWrench delivers the numbers typed at the wrench prompt.
	EventSubmitWrench  EventKind = "submit_wrench"
	EventRecordReading EventKind = "record_reading"
	EventSolve         EventKind = "solve"
	EventExport        EventKind = "export"
	EventQuit          EventKind = "quit"
)

// Event is one operator selection plus the data that came with it.
type Event struct {
	Kind   EventKind
	Wrench models.WrenchSample // EventSubmitWrench
	Path   string              // EventExport; empty means the configured output
}

type Effect string

const (
	EffectZeroBias          Effect = "zero_bias"
	EffectPromptWrench      Effect = "prompt_wrench"
	EffectStoreWrench       Effect = "store_wrench"
	EffectAverageReading    Effect = "average_reading"
	EffectUnzeroBias        Effect = "unzero_bias"
	EffectStoreReading      Effect = "store_reading"
	EffectSolveCalibration  Effect = "solve_calibration"
	EffectExportCalibration Effect = "export_calibration"
	EffectTerminate         Effect = "terminate"
)

// Guards carries the session facts a transition depends on.
type Guards struct {
	// Strict enforces wrench/reading alternation: a reading is only taken
	// right after a wrench, and a new wrench is refused while one is
	// waiting for its reading.
	Strict bool
	// HasMatrix reports that a solve has succeeded at least once.
	HasMatrix bool
}

// Transition is the workflow state machine. It has no side effects: it
// returns the state to enter once every effect has run successfully, and
// the effects to run in order. If an effect fails the caller stays in
// state s.
//
// Without Guards.Strict, RecordReading is accepted from any live state and
// RecordWrench may be repeated, so a reading can pair with a stale wrench.
// Pairs are matched by index only.
func Transition(s State, ev Event, g Guards) (State, []Effect, error) {
	if s == StateTerminated {
		return s, nil, ErrTerminated
	}
	switch ev.Kind {
	case EventQuit:
		return StateTerminated, []Effect{EffectTerminate}, nil

	case EventRecordWrench:
		if g.Strict && s == StateAwaitingReading {
			return s, nil, fmt.Errorf("%w: take the reading for the previous force first", ErrUnexpectedEvent)
		}
		return StateAwaitingWrenchInput, []Effect{EffectZeroBias, EffectPromptWrench}, nil

	case EventSubmitWrench:
		if s != StateAwaitingWrenchInput {
			return s, nil, fmt.Errorf("%w: no force prompt open (state %s)", ErrUnexpectedEvent, s)
		}
		// Stored wrenches are permanent; only finite ones get in.
		if !ev.Wrench.IsFinite() {
			return s, nil, fmt.Errorf("%w: got %s", ErrInvalidWrench, ev.Wrench)
		}
		return StateAwaitingReading, []Effect{EffectStoreWrench}, nil

	case EventRecordReading:
		if g.Strict && s != StateAwaitingReading {
			return s, nil, fmt.Errorf("%w: enter a force before taking a reading", ErrUnexpectedEvent)
		}
		return StateIdle, []Effect{EffectAverageReading, EffectUnzeroBias, EffectStoreReading}, nil

	case EventSolve:
		return StateSolved, []Effect{EffectSolveCalibration}, nil

	case EventExport:
		if !g.HasMatrix {
			return s, nil, fmt.Errorf("%w: compute the calibration matrix first", ErrNoCalibration)
		}
		return StateExported, []Effect{EffectExportCalibration}, nil
	}
	return s, nil, fmt.Errorf("%w: unknown event %q", ErrUnexpectedEvent, ev.Kind)
}
