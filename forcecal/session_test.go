package forcecal_test

import (
	"context"
	"errors"
	"io"
	"math"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/matrix"
	"github.com/CK6170/forcecal-go/models"
	"github.com/CK6170/forcecal-go/sim"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSession wires a session to a noiseless simulated sensor with an offset.
func newSession(t *testing.T, strict bool) (*forcecal.Session, *sim.Sensor) {
	t.Helper()
	sensor := sim.New(sim.DemoMatrix(), sim.WithOffset(r3.Vector{X: 0.4, Y: -0.25, Z: 1.1}))
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{
		Average:    forcecal.AverageOptions{Samples: 4},
		Strict:     strict,
		RCond:      models.DefaultRCOND,
		OutputPath: filepath.Join(t.TempDir(), "output.json"),
		Logger:     quietLogger(),
	})
	return sess, sensor
}

// recordPair runs one operator cycle: zero, enter the wrench, load, read, unload.
func recordPair(t *testing.T, sess *forcecal.Session, sensor *sim.Sensor, w models.WrenchSample) {
	t.Helper()
	ctx := context.Background()
	if _, err := sess.RecordWrench(ctx, w); err != nil {
		t.Fatalf("RecordWrench: %v", err)
	}
	sensor.SetLoad(w)
	if _, err := sess.RecordReading(ctx, nil); err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	sensor.SetLoad(models.WrenchSample{})
}

func TestSession_FullRun(t *testing.T) {
	sess, sensor := newSession(t, true)
	ctx := context.Background()

	for _, w := range wrenches {
		recordPair(t, sess, sensor, w)
	}
	if sess.Count() != len(wrenches) {
		t.Fatalf("count: got %d, want %d", sess.Count(), len(wrenches))
	}
	if sensor.Zeroed() {
		t.Error("bias still applied after the reading")
	}

	res, err := sess.Solve(ctx)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.State != forcecal.StateSolved || res.Matrix == nil || res.Report == nil {
		t.Fatalf("solve result: %+v", res)
	}
	// Zeroing removes the unloaded offset, so the fit sees truth alone.
	assertMatrixNear(t, *res.Matrix, sim.DemoMatrix(), 1e-9)
	if res.Report.Deficient() {
		t.Errorf("rank: got %d", res.Report.Rank)
	}

	res, err = sess.Export(ctx, "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.State != forcecal.StateExported || res.Path != sess.OutputPath() {
		t.Errorf("export result: %+v", res)
	}
	raw, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	body := string(raw)
	i, j, k := strings.Index(body, `"cal-matrix"`), strings.Index(body, `"force-pos"`), strings.Index(body, `"raw-sensor-reading"`)
	if i < 0 || !(i < j && j < k) {
		t.Errorf("key order wrong:\n%s", body)
	}
	doc, err := forcecal.LoadCalibration(res.Path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if len(doc.ForcePos) != len(wrenches) || len(doc.RawSensorReading) != len(wrenches) {
		t.Errorf("document sizes: %d / %d", len(doc.ForcePos), len(doc.RawSensorReading))
	}
}

func TestSession_ExportBeforeSolve(t *testing.T) {
	sess, sensor := newSession(t, false)
	recordPair(t, sess, sensor, wrenches[0])

	_, err := sess.Export(context.Background(), "")
	if !errors.Is(err, forcecal.ErrNoCalibration) {
		t.Fatalf("got %v, want ErrNoCalibration", err)
	}
	if sess.State() != forcecal.StateIdle {
		t.Errorf("state: got %q", sess.State())
	}
	if _, statErr := os.Stat(sess.OutputPath()); !os.IsNotExist(statErr) {
		t.Errorf("file written without a matrix: %v", statErr)
	}
}

func TestSession_SolveEmpty(t *testing.T) {
	sess, _ := newSession(t, false)
	_, err := sess.Solve(context.Background())
	if !errors.Is(err, forcecal.ErrInsufficientData) {
		t.Fatalf("got %v, want ErrInsufficientData", err)
	}
	if sess.State() != forcecal.StateIdle {
		t.Errorf("state: got %q", sess.State())
	}
	if _, ok := sess.Matrix(); ok {
		t.Error("matrix set after a failed solve")
	}
}

func TestSession_StrictRejectsReadingWithoutWrench(t *testing.T) {
	sess, sensor := newSession(t, true)
	_, err := sess.RecordReading(context.Background(), nil)
	if !errors.Is(err, forcecal.ErrUnexpectedEvent) {
		t.Fatalf("got %v, want ErrUnexpectedEvent", err)
	}
	if sensor.Reads() != 0 {
		t.Errorf("sensor read %d times", sensor.Reads())
	}
}

func TestSession_PermissiveAllowsStrayReading(t *testing.T) {
	sess, _ := newSession(t, false)
	res, err := sess.RecordReading(context.Background(), nil)
	if err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if res.Reading == nil || len(sess.Readings()) != 1 {
		t.Fatalf("reading not stored: %+v", res)
	}
	if sess.Count() != 0 {
		t.Errorf("count: got %d, want 0", sess.Count())
	}
}

func TestSession_InvalidReadingStoresNothing(t *testing.T) {
	sess, sensor := newSession(t, true)
	ctx := context.Background()
	if _, err := sess.RecordWrench(ctx, wrenches[0]); err != nil {
		t.Fatalf("RecordWrench: %v", err)
	}
	sensor.SetFailAfter(2)

	_, err := sess.RecordReading(ctx, nil)
	if !errors.Is(err, forcecal.ErrInvalidReading) {
		t.Fatalf("got %v, want ErrInvalidReading", err)
	}
	if len(sess.Readings()) != 0 {
		t.Errorf("readings stored: %v", sess.Readings())
	}
	if sess.State() != forcecal.StateAwaitingReading {
		t.Errorf("state: got %q", sess.State())
	}

	// The operator retries once the link is back.
	sensor.SetFailAfter(-1)
	if _, err := sess.RecordReading(ctx, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sess.Count() != 1 {
		t.Errorf("count after retry: %d", sess.Count())
	}
}

func TestSession_UnzeroFailureStoresNothing(t *testing.T) {
	sess, sensor := newSession(t, false)
	ctx := context.Background()
	if _, err := sess.RecordWrench(ctx, wrenches[0]); err != nil {
		t.Fatalf("RecordWrench: %v", err)
	}
	sensor.SetUnzeroError(errors.New("bridge timeout"))

	if _, err := sess.RecordReading(ctx, nil); err == nil {
		t.Fatal("expected an error")
	}
	if len(sess.Readings()) != 0 {
		t.Errorf("reading stored despite unzero failure")
	}
	if sess.State() != forcecal.StateAwaitingReading {
		t.Errorf("state: got %q", sess.State())
	}
}

func TestSession_ZeroFailureKeepsState(t *testing.T) {
	sensor := sim.New(sim.DemoMatrix(), sim.FailAfter(0))
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{Logger: quietLogger()})

	_, err := sess.BeginWrench(context.Background())
	if !errors.Is(err, sim.ErrDisconnected) {
		t.Fatalf("got %v, want sim.ErrDisconnected", err)
	}
	if sess.State() != forcecal.StateIdle {
		t.Errorf("state: got %q", sess.State())
	}
}

func TestSession_BusyRejectsSecondEvent(t *testing.T) {
	sess, sensor := newSession(t, false)
	ctx := context.Background()
	recordPair(t, sess, sensor, wrenches[0])

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		first := true
		_, err := sess.RecordReading(ctx, func(forcecal.SampleUpdate) {
			if first {
				first = false
				close(started)
				<-release
			}
		})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reading never started")
	}
	if !sess.Busy() {
		t.Error("Busy() false during a reading")
	}
	if _, err := sess.Solve(ctx); !errors.Is(err, forcecal.ErrBusy) {
		t.Errorf("Solve while busy: got %v, want ErrBusy", err)
	}
	// Getters stay available.
	_ = sess.Count()
	_ = sess.State()

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if sess.Busy() {
		t.Error("still busy after the reading")
	}
}

func TestSession_CancelledReading(t *testing.T) {
	sess, sensor := newSession(t, true)
	if _, err := sess.RecordWrench(context.Background(), wrenches[0]); err != nil {
		t.Fatalf("RecordWrench: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sess.RecordReading(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if sensor.Reads() != 0 || sess.State() != forcecal.StateAwaitingReading {
		t.Errorf("reads %d, state %q", sensor.Reads(), sess.State())
	}
}

func TestSession_Quit(t *testing.T) {
	sess, _ := newSession(t, false)
	ctx := context.Background()
	res, err := sess.Quit(ctx)
	if err != nil || res.State != forcecal.StateTerminated {
		t.Fatalf("Quit: %+v, %v", res, err)
	}
	if _, err := sess.BeginWrench(ctx); !errors.Is(err, forcecal.ErrTerminated) {
		t.Errorf("after quit: got %v, want ErrTerminated", err)
	}
}

func TestSession_StartUncalibrates(t *testing.T) {
	sensor := sim.New(sim.DemoMatrix(), sim.WithCalibrated())
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{Logger: quietLogger()})
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cal, _ := sensor.IsCalibrated(); cal {
		t.Error("sensor still calibrated after Start")
	}
}

type recordingExporter struct {
	path string
	doc  models.Document
	err  error
}

func (e *recordingExporter) WriteCalibration(path string, doc models.Document) error {
	e.path, e.doc = path, doc
	return e.err
}

func TestSession_ExportFailure(t *testing.T) {
	sensor := sim.New(sim.DemoMatrix())
	exp := &recordingExporter{err: errors.New("disk full")}
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{
		Average:  forcecal.AverageOptions{Samples: 1},
		Exporter: exp,
		Logger:   quietLogger(),
	})
	ctx := context.Background()
	for _, w := range wrenches[:6] {
		recordPair(t, sess, sensor, w)
	}
	if _, err := sess.Solve(ctx); err != nil {
		t.Fatalf("Solve: %v", err)
	}

	_, err := sess.Export(ctx, "cal.json")
	if !errors.Is(err, forcecal.ErrExportFailure) {
		t.Fatalf("got %v, want ErrExportFailure", err)
	}
	if sess.State() != forcecal.StateSolved {
		t.Errorf("state: got %q", sess.State())
	}
	if exp.path != "cal.json" || len(exp.doc.CalMatrix) != 3 {
		t.Errorf("exporter saw %q, %d rows", exp.path, len(exp.doc.CalMatrix))
	}
}

func TestSession_NonFiniteWrenchRejected(t *testing.T) {
	sess, sensor := newSession(t, true)
	ctx := context.Background()
	if _, err := sess.BeginWrench(ctx); err != nil {
		t.Fatalf("BeginWrench: %v", err)
	}
	for _, w := range []models.WrenchSample{
		{math.NaN(), 0, 0, 0, 0, 0.05},
		{10, 0, 0, 0, math.Inf(1), 0.05},
		{0, math.Inf(-1), 0, 0, 0, 0},
	} {
		if _, err := sess.SubmitWrench(ctx, w); !errors.Is(err, forcecal.ErrInvalidWrench) {
			t.Fatalf("submit %v: got %v, want ErrInvalidWrench", w, err)
		}
	}
	if len(sess.Wrenches()) != 0 {
		t.Fatalf("non-finite wrench stored: %v", sess.Wrenches())
	}
	if sess.State() != forcecal.StateAwaitingWrenchInput {
		t.Errorf("state: got %q", sess.State())
	}

	// The prompt stays open for a corrected entry.
	if _, err := sess.SubmitWrench(ctx, wrenches[0]); err != nil {
		t.Fatalf("SubmitWrench: %v", err)
	}
	sensor.SetLoad(wrenches[0])
	if _, err := sess.RecordReading(ctx, nil); err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if sess.Count() != 1 {
		t.Errorf("count: got %d, want 1", sess.Count())
	}
}

// onceSolver solves the first system and reports every later one singular.
type onceSolver struct {
	calls int
}

func (s *onceSolver) LeastSquares(a *matrix.Matrix, b *matrix.Vector) (*matrix.Vector, error) {
	s.calls++
	if s.calls > 1 {
		return nil, matrix.ErrSingular
	}
	return matrix.SVDSolver{}.LeastSquares(a, b)
}

func TestSession_FailedSolveKeepsMatrix(t *testing.T) {
	sensor := sim.New(sim.DemoMatrix())
	solver := &onceSolver{}
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{
		Average: forcecal.AverageOptions{Samples: 1},
		RCond:   models.DefaultRCOND,
		Solver:  solver,
		Logger:  quietLogger(),
	})
	ctx := context.Background()
	for _, w := range wrenches[:6] {
		recordPair(t, sess, sensor, w)
	}
	if _, err := sess.Solve(ctx); err != nil {
		t.Fatalf("first Solve: %v", err)
	}
	before, ok := sess.Matrix()
	if !ok {
		t.Fatal("no matrix after a successful solve")
	}
	report := sess.Report()

	recordPair(t, sess, sensor, wrenches[6])
	if sess.State() != forcecal.StateIdle {
		t.Fatalf("state after new pair: got %q", sess.State())
	}
	if _, err := sess.Solve(ctx); !errors.Is(err, forcecal.ErrSolverFailure) {
		t.Fatalf("second Solve: got %v, want ErrSolverFailure", err)
	}

	after, ok := sess.Matrix()
	if !ok || after != before {
		t.Errorf("matrix changed by a failed solve:\n got %v\nwant %v", after, before)
	}
	if sess.Report() != report {
		t.Error("report replaced by a failed solve")
	}
	if sess.State() != forcecal.StateIdle {
		t.Errorf("state: got %q, want %q", sess.State(), forcecal.StateIdle)
	}
	if solver.calls != 2 {
		t.Errorf("solver calls: got %d, want 2", solver.calls)
	}

	// The kept matrix is still exportable.
	out := filepath.Join(t.TempDir(), "cal.json")
	if _, err := sess.Export(ctx, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	doc, err := forcecal.LoadCalibration(out)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if doc.CalMatrix[0][0] != before[0][0] {
		t.Errorf("exported matrix differs: %v", doc.CalMatrix[0])
	}
}

func TestSession_FailedSolveAfterSolvedKeepsState(t *testing.T) {
	sensor := sim.New(sim.DemoMatrix())
	solver := &onceSolver{}
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{
		Average: forcecal.AverageOptions{Samples: 1},
		Solver:  solver,
		Logger:  quietLogger(),
	})
	ctx := context.Background()
	for _, w := range wrenches[:6] {
		recordPair(t, sess, sensor, w)
	}
	if _, err := sess.Solve(ctx); err != nil {
		t.Fatalf("first Solve: %v", err)
	}
	before, _ := sess.Matrix()

	res, err := sess.Solve(ctx)
	if !errors.Is(err, forcecal.ErrSolverFailure) {
		t.Fatalf("second Solve: got %v, want ErrSolverFailure", err)
	}
	if res.State != forcecal.StateSolved || sess.State() != forcecal.StateSolved {
		t.Errorf("state: result %q, session %q", res.State, sess.State())
	}
	if after, ok := sess.Matrix(); !ok || after != before {
		t.Errorf("matrix changed by a failed solve")
	}
}

// scriptedSensor returns whatever reading the test last set.
type scriptedSensor struct {
	reading r3.Vector
}

func (s *scriptedSensor) ReadForce() (r3.Vector, bool) { return s.reading, true }
func (s *scriptedSensor) ZeroBias() error              { return nil }
func (s *scriptedSensor) UnzeroBias() error            { return nil }
func (s *scriptedSensor) IsCalibrated() (bool, error)  { return false, nil }
func (s *scriptedSensor) Uncalibrate() error           { return nil }

func TestSession_SixIndependentLoadsSolveFullRank(t *testing.T) {
	sensor := &scriptedSensor{}
	sess := forcecal.NewSession(sensor, forcecal.SessionOptions{
		Average: forcecal.AverageOptions{Samples: 3},
		Strict:  true,
		RCond:   models.DefaultRCOND,
		Logger:  quietLogger(),
	})
	ctx := context.Background()

	// 10 N along each axis, applied 5 cm off the origin on two different arms.
	pairs := []struct {
		w models.WrenchSample
		r r3.Vector
	}{
		{models.WrenchSample{10, 0, 0, 0, 0, 0.05}, r3.Vector{X: 9.8, Y: 0.1, Z: -0.2}},
		{models.WrenchSample{0, 10, 0, 0, 0, 0.05}, r3.Vector{X: 0.2, Y: 10.1, Z: 0.05}},
		{models.WrenchSample{0, 0, 10, 0.05, 0, 0}, r3.Vector{X: -0.1, Y: 0.15, Z: 9.9}},
		{models.WrenchSample{10, 0, 0, 0, 0.05, 0}, r3.Vector{X: 9.7, Y: -0.05, Z: 0.3}},
		{models.WrenchSample{0, 10, 0, 0.05, 0, 0}, r3.Vector{X: 0.1, Y: 9.95, Z: -0.1}},
		{models.WrenchSample{0, 0, 10, 0, 0.05, 0}, r3.Vector{X: 0.05, Y: -0.2, Z: 10.2}},
	}
	for _, p := range pairs {
		if _, err := sess.RecordWrench(ctx, p.w); err != nil {
			t.Fatalf("RecordWrench %v: %v", p.w, err)
		}
		sensor.reading = p.r
		if _, err := sess.RecordReading(ctx, nil); err != nil {
			t.Fatalf("RecordReading: %v", err)
		}
	}

	res, err := sess.Solve(ctx)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Report.Samples != len(pairs) || res.Report.Rank != forcecal.Unknowns || res.Report.Deficient() {
		t.Fatalf("report: samples %d, rank %d", res.Report.Samples, res.Report.Rank)
	}
	// Six pairs fix 18 unknowns exactly, so every pair is reproduced.
	if res.Report.MaxResidual > 1e-9 {
		t.Errorf("max residual: %g", res.Report.MaxResidual)
	}
	got := res.Matrix.Apply(pairs[0].w).Vector()
	if got.Sub(pairs[0].r).Norm() > 1e-9 {
		t.Errorf("first pair: matrix gives %v, want %v", got, pairs[0].r)
	}
}
