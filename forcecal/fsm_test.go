package forcecal_test

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
)

func TestTransition(t *testing.T) {
	type E = forcecal.Effect
	tests := []struct {
		name    string
		from    forcecal.State
		ev      forcecal.EventKind
		guards  forcecal.Guards
		want    forcecal.State
		effects []E
		err     error
	}{
		{"wrench from idle", forcecal.StateIdle, forcecal.EventRecordWrench, forcecal.Guards{},
			forcecal.StateAwaitingWrenchInput, []E{forcecal.EffectZeroBias, forcecal.EffectPromptWrench}, nil},
		{"submit wrench", forcecal.StateAwaitingWrenchInput, forcecal.EventSubmitWrench, forcecal.Guards{},
			forcecal.StateAwaitingReading, []E{forcecal.EffectStoreWrench}, nil},
		{"submit without prompt", forcecal.StateIdle, forcecal.EventSubmitWrench, forcecal.Guards{},
			forcecal.StateIdle, nil, forcecal.ErrUnexpectedEvent},
		{"reading after wrench", forcecal.StateAwaitingReading, forcecal.EventRecordReading, forcecal.Guards{Strict: true},
			forcecal.StateIdle, []E{forcecal.EffectAverageReading, forcecal.EffectUnzeroBias, forcecal.EffectStoreReading}, nil},
		{"reading from idle permissive", forcecal.StateIdle, forcecal.EventRecordReading, forcecal.Guards{},
			forcecal.StateIdle, []E{forcecal.EffectAverageReading, forcecal.EffectUnzeroBias, forcecal.EffectStoreReading}, nil},
		{"reading from idle strict", forcecal.StateIdle, forcecal.EventRecordReading, forcecal.Guards{Strict: true},
			forcecal.StateIdle, nil, forcecal.ErrUnexpectedEvent},
		{"second wrench permissive", forcecal.StateAwaitingReading, forcecal.EventRecordWrench, forcecal.Guards{},
			forcecal.StateAwaitingWrenchInput, []E{forcecal.EffectZeroBias, forcecal.EffectPromptWrench}, nil},
		{"second wrench strict", forcecal.StateAwaitingReading, forcecal.EventRecordWrench, forcecal.Guards{Strict: true},
			forcecal.StateAwaitingReading, nil, forcecal.ErrUnexpectedEvent},
		{"solve", forcecal.StateIdle, forcecal.EventSolve, forcecal.Guards{},
			forcecal.StateSolved, []E{forcecal.EffectSolveCalibration}, nil},
		{"export without matrix", forcecal.StateSolved, forcecal.EventExport, forcecal.Guards{},
			forcecal.StateSolved, nil, forcecal.ErrNoCalibration},
		{"export", forcecal.StateSolved, forcecal.EventExport, forcecal.Guards{HasMatrix: true},
			forcecal.StateExported, []E{forcecal.EffectExportCalibration}, nil},
		{"wrench after export", forcecal.StateExported, forcecal.EventRecordWrench, forcecal.Guards{HasMatrix: true},
			forcecal.StateAwaitingWrenchInput, []E{forcecal.EffectZeroBias, forcecal.EffectPromptWrench}, nil},
		{"quit", forcecal.StateAwaitingReading, forcecal.EventQuit, forcecal.Guards{},
			forcecal.StateTerminated, []E{forcecal.EffectTerminate}, nil},
		{"after quit", forcecal.StateTerminated, forcecal.EventSolve, forcecal.Guards{},
			forcecal.StateTerminated, nil, forcecal.ErrTerminated},
		{"unknown event", forcecal.StateIdle, "calibrate", forcecal.Guards{},
			forcecal.StateIdle, nil, forcecal.ErrUnexpectedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects, err := forcecal.Transition(tt.from, forcecal.Event{Kind: tt.ev}, tt.guards)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err: got %v, want %v", err, tt.err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("state: got %q, want %q", got, tt.want)
			}
			if !slices.Equal(effects, tt.effects) {
				t.Errorf("effects: got %v, want %v", effects, tt.effects)
			}
		})
	}
}

func TestTransition_NonFiniteWrench(t *testing.T) {
	for _, w := range []models.WrenchSample{
		{math.NaN(), 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, math.Inf(-1)},
	} {
		ev := forcecal.Event{Kind: forcecal.EventSubmitWrench, Wrench: w}
		got, effects, err := forcecal.Transition(forcecal.StateAwaitingWrenchInput, ev, forcecal.Guards{})
		if !errors.Is(err, forcecal.ErrInvalidWrench) {
			t.Fatalf("%v: got %v, want ErrInvalidWrench", w, err)
		}
		if got != forcecal.StateAwaitingWrenchInput || effects != nil {
			t.Errorf("%v: state %q, effects %v", w, got, effects)
		}
	}
}
