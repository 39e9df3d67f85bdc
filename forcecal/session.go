package forcecal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CK6170/forcecal-go/matrix"
	"github.com/CK6170/forcecal-go/models"
)

// SessionOptions configures a Session. Zero values fall back to defaults.
type SessionOptions struct {
	Average    AverageOptions
	Strict     bool
	RCond      float64
	OutputPath string
	Solver     matrix.Solver
	Exporter   Exporter
	Logger     *slog.Logger
}

// SessionOptionsFrom maps a parameters file onto session options.
func SessionOptionsFrom(p *models.PARAMETERS) SessionOptions {
	if p == nil {
		return SessionOptions{Average: DefaultAverageOptions(), OutputPath: models.DefaultOUTPUT}
	}
	return SessionOptions{
		Average:    AverageOptionsFrom(p),
		Strict:     p.STRICT,
		RCond:      p.RCOND,
		OutputPath: p.OUTPUT,
	}
}

// Result describes what a handled event produced.
type Result struct {
	State   State
	Effects []Effect
	// Wrench is the stored wrench (EventSubmitWrench).
	Wrench *models.WrenchSample
	// Reading is the stored average (EventRecordReading).
	Reading *models.ReadingSample
	Matrix  *models.CalibrationMatrix
	Report  *FitReport
	// Path is the file written (EventExport).
	Path string
}

// Session drives one calibration run: it owns the sample store and the last
// computed matrix, and executes the effects chosen by Transition.
//
// Events are handled one at a time; an event arriving while another is
// running fails with ErrBusy. Getters may be called concurrently.
type Session struct {
	sensor Sensor
	log    *slog.Logger

	mu     sync.Mutex
	opts   SessionOptions
	busy   bool
	state  State
	store  *SampleStore
	cal    *models.CalibrationMatrix
	report *FitReport
}

func NewSession(sensor Sensor, opts SessionOptions) *Session {
	if opts.Solver == nil {
		opts.Solver = matrix.SVDSolver{RCond: opts.RCond}
	}
	if opts.Exporter == nil {
		opts.Exporter = FileExporter{}
	}
	if opts.OutputPath == "" {
		opts.OutputPath = models.DefaultOUTPUT
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		sensor: sensor,
		log:    log,
		opts:   opts,
		state:  StateIdle,
		store:  NewSampleStore(),
	}
}

// Start prepares the sensor: a sensor that applies its own calibration is
// switched to raw output, otherwise the fit would be against corrected data.
func (s *Session) Start() error {
	if s.sensor == nil {
		return fmt.Errorf("%w: no sensor", ErrInvalidReading)
	}
	calibrated, err := s.sensor.IsCalibrated()
	if err != nil {
		return fmt.Errorf("query sensor calibration: %w", err)
	}
	if !calibrated {
		s.log.Debug("session: sensor already reports raw output")
		return nil
	}
	if err := s.sensor.Uncalibrate(); err != nil {
		return fmt.Errorf("uncalibrate sensor: %w", err)
	}
	s.log.Info("session: sensor switched to raw output")
	return nil
}

// Handle applies ev. On error the session stays in the state it was in and
// nothing is stored. onUpdate receives averaging progress and may be nil.
func (s *Session) Handle(ctx context.Context, ev Event, onUpdate func(SampleUpdate)) (Result, error) {
	s.mu.Lock()
	from := s.state
	if s.busy {
		s.mu.Unlock()
		return Result{State: from}, fmt.Errorf("%w: %s still running", ErrBusy, ev.Kind)
	}
	next, effects, err := Transition(from, ev, Guards{Strict: s.opts.Strict, HasMatrix: s.cal != nil})
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("session: event rejected", "event", ev.Kind, "state", from, "err", err)
		return Result{State: from}, err
	}
	s.busy = true
	opts := s.opts
	s.mu.Unlock()

	res, err := s.run(ctx, ev, effects, opts, onUpdate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		res.State = from
		s.log.Error("session: event failed", "event", ev.Kind, "state", from, "err", err)
		return res, err
	}
	s.state = next
	res.State = next
	res.Effects = effects
	s.log.Debug("session: transition", "event", ev.Kind, "from", from, "to", next)
	return res, nil
}

func (s *Session) run(ctx context.Context, ev Event, effects []Effect, opts SessionOptions, onUpdate func(SampleUpdate)) (Result, error) {
	var res Result
	var reading models.ReadingSample
	for _, eff := range effects {
		switch eff {
		case EffectZeroBias:
			if err := s.sensor.ZeroBias(); err != nil {
				return res, fmt.Errorf("zero sensor bias: %w", err)
			}

		case EffectPromptWrench:
			// The front-end shows the prompt once the state is AwaitingWrenchInput.

		case EffectStoreWrench:
			w := ev.Wrench
			s.mu.Lock()
			s.store.AddWrench(w)
			n := s.store.WrenchCount()
			s.mu.Unlock()
			res.Wrench = &w
			s.log.Info("session: force recorded", "index", n-1, "force", w.Force(), "position", w.Position())

		case EffectAverageReading:
			r, err := AverageReading(ctx, s.sensor, opts.Average, onUpdate)
			if err != nil {
				return res, err
			}
			reading = r

		case EffectUnzeroBias:
			if err := s.sensor.UnzeroBias(); err != nil {
				return res, fmt.Errorf("remove sensor bias: %w", err)
			}

		case EffectStoreReading:
			s.mu.Lock()
			s.store.AddReading(reading)
			n := s.store.ReadingCount()
			pending := s.store.WrenchCount() < n
			s.mu.Unlock()
			r := reading
			res.Reading = &r
			s.log.Info("session: reading recorded", "index", n-1, "reading", r.String())
			if pending {
				s.log.Warn("session: reading has no matching force yet", "index", n-1)
			}

		case EffectSolveCalibration:
			m, rep, err := s.solve(opts)
			if err != nil {
				return res, err
			}
			s.mu.Lock()
			s.cal = &m
			s.report = rep
			s.mu.Unlock()
			res.Matrix = &m
			res.Report = rep

		case EffectExportCalibration:
			path, err := s.export(ev.Path, opts)
			if err != nil {
				return res, err
			}
			res.Path = path

		case EffectTerminate:
			s.log.Info("session: terminated", "pairs", s.Count())

		default:
			return res, fmt.Errorf("unknown effect %q", eff)
		}
	}
	return res, nil
}

// solve reads the store without the lock: only the running event mutates it.
func (s *Session) solve(opts SessionOptions) (models.CalibrationMatrix, *FitReport, error) {
	m, err := Solve(s.store, opts.Solver)
	if err != nil {
		return m, nil, err
	}
	rep, err := CheckFit(s.store, m, opts.RCond)
	if err != nil {
		return m, nil, err
	}
	if rep.Deficient() {
		s.log.Warn("session: system is rank deficient, matrix is the minimum-norm fit",
			"pairs", rep.Samples, "rank", rep.Rank, "want", Unknowns, "min_pairs", MinWellPosedSamples)
	}
	s.log.Info("session: calibration solved", "pairs", rep.Samples, "rank", rep.Rank, "rms", rep.RMS, "max_residual", rep.MaxResidual)
	return m, rep, nil
}

func (s *Session) export(path string, opts SessionOptions) (string, error) {
	if path == "" {
		path = opts.OutputPath
	}
	s.mu.Lock()
	if s.cal == nil {
		s.mu.Unlock()
		return "", ErrNoCalibration
	}
	doc := models.NewDocument(*s.cal, s.store.Wrenches(), s.store.Readings())
	s.mu.Unlock()
	if err := opts.Exporter.WriteCalibration(path, doc); err != nil {
		if !errors.Is(err, ErrExportFailure) {
			err = fmt.Errorf("%w: %v", ErrExportFailure, err)
		}
		return "", err
	}
	s.log.Info("session: calibration written", "path", path)
	return path, nil
}

// BeginWrench zeroes the bias and opens the force prompt.
func (s *Session) BeginWrench(ctx context.Context) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventRecordWrench}, nil)
}

// SubmitWrench stores the force and position entered at the prompt.
func (s *Session) SubmitWrench(ctx context.Context, w models.WrenchSample) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventSubmitWrench, Wrench: w}, nil)
}

// RecordWrench is BeginWrench followed by SubmitWrench, for callers that
// already hold the numbers.
func (s *Session) RecordWrench(ctx context.Context, w models.WrenchSample) (Result, error) {
	if _, err := s.BeginWrench(ctx); err != nil {
		return Result{State: s.State()}, err
	}
	return s.SubmitWrench(ctx, w)
}

func (s *Session) RecordReading(ctx context.Context, onUpdate func(SampleUpdate)) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventRecordReading}, onUpdate)
}

func (s *Session) Solve(ctx context.Context) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventSolve}, nil)
}

// Export writes the calibration document. An empty path uses the configured output.
func (s *Session) Export(ctx context.Context, path string) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventExport, Path: path}, nil)
}

func (s *Session) Quit(ctx context.Context) (Result, error) {
	return s.Handle(ctx, Event{Kind: EventQuit}, nil)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether an event is being handled.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Count returns the number of complete force/reading pairs.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Count()
}

func (s *Session) Wrenches() []models.WrenchSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Wrenches()
}

func (s *Session) Readings() []models.ReadingSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Readings()
}

// Matrix returns the last solved matrix, or false before the first solve.
func (s *Session) Matrix() (models.CalibrationMatrix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal == nil {
		return models.CalibrationMatrix{}, false
	}
	return *s.cal, true
}

func (s *Session) Report() *FitReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Document builds the export document from the current matrix and samples.
func (s *Session) Document() (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal == nil {
		return models.Document{}, ErrNoCalibration
	}
	return models.NewDocument(*s.cal, s.store.Wrenches(), s.store.Readings()), nil
}

// SetAverageOptions replaces the averaging settings used by later readings.
func (s *Session) SetAverageOptions(opts AverageOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Average = opts
}

func (s *Session) OutputPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.OutputPath
}
