package forcecal

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/CK6170/forcecal-go/models"
)

const (
	DefaultAverageSamples = 50
	DefaultAverageDelay   = 100 * time.Millisecond
)

type SamplePhase string

const (
	SamplePhaseAveraging SamplePhase = "averaging"
	SamplePhaseFinished  SamplePhase = "finished"
	SamplePhaseFailed    SamplePhase = "failed"
)

type SampleUpdate struct {
	Phase     SamplePhase
	AvgDone   int
	AvgTarget int
	// Current is the latest instantaneous reading.
	Current r3.Vector
	// Final is set when Phase == finished.
	Final models.ReadingSample
}

type AverageOptions struct {
	// Samples is the number of reads averaged. Zero means DefaultAverageSamples.
	Samples int
	// Delay is the pause after each read. Zero means no pause; use
	// DefaultAverageOptions for the standard 100ms throttle.
	Delay time.Duration
	// Sleep replaces time.Sleep, mainly for tests.
	Sleep func(time.Duration)
}

func DefaultAverageOptions() AverageOptions {
	return AverageOptions{Samples: DefaultAverageSamples, Delay: DefaultAverageDelay}
}

// AverageOptionsFrom derives averaging settings from the parameters file.
func AverageOptionsFrom(p *models.PARAMETERS) AverageOptions {
	opts := DefaultAverageOptions()
	if p == nil {
		return opts
	}
	if p.AVG > 0 {
		opts.Samples = p.AVG
	}
	if p.DELAY >= 0 {
		opts.Delay = time.Duration(p.DELAY) * time.Millisecond
	}
	return opts
}

// AverageReading reads src opts.Samples times and returns the mean force.
//
// A single invalid read aborts the whole attempt with ErrInvalidReading; a
// partial average is never returned. ctx is checked between reads.
func AverageReading(ctx context.Context, src ForceSource, opts AverageOptions, onUpdate func(SampleUpdate)) (models.ReadingSample, error) {
	if src == nil {
		return models.ReadingSample{}, fmt.Errorf("%w: no force source", ErrInvalidReading)
	}
	n := opts.Samples
	if n <= 0 {
		n = DefaultAverageSamples
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	emit := func(u SampleUpdate) {
		if onUpdate != nil {
			onUpdate(u)
		}
	}

	// Incremental mean: a constant input v averages to exactly v.
	var mean r3.Vector
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return models.ReadingSample{}, ctx.Err()
		default:
		}
		f, ok := src.ReadForce()
		if !ok {
			emit(SampleUpdate{Phase: SamplePhaseFailed, AvgDone: i, AvgTarget: n})
			return models.ReadingSample{}, fmt.Errorf("%w: read %d of %d, check connection and try again", ErrInvalidReading, i+1, n)
		}
		mean = mean.Add(f.Sub(mean).Mul(1 / float64(i+1)))
		emit(SampleUpdate{Phase: SamplePhaseAveraging, AvgDone: i + 1, AvgTarget: n, Current: f})
		if opts.Delay > 0 {
			sleep(opts.Delay)
		}
	}

	final := models.NewReadingSample(mean)
	emit(SampleUpdate{Phase: SamplePhaseFinished, AvgDone: n, AvgTarget: n, Final: final})
	return final, nil
}
