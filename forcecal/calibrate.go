package forcecal

import (
	"fmt"

	"github.com/CK6170/forcecal-go/matrix"
	"github.com/CK6170/forcecal-go/models"
)

// Unknowns is the number of calibration matrix entries solved for.
const Unknowns = 18

// MinWellPosedSamples is the number of pairs needed before the system can
// have full rank.
const MinWellPosedSamples = Unknowns / 3

// BuildLinearSystem assembles the 3N×18 coefficient matrix F and the 3N
// right-hand side S from the first Count() sample pairs.
//
// Row 3i+j holds the regressor (f, f×p) of wrench i in columns 6j..6j+5 and
// zeros elsewhere; S[3i+j] is component j of reading i. Each output axis is
// therefore fitted independently inside one combined problem.
func BuildLinearSystem(store *SampleStore) (*matrix.Matrix, *matrix.Vector, error) {
	n := store.Count()
	f := matrix.NewMatrix(3*n, Unknowns)
	s := matrix.NewVector(3 * n)
	for i := 0; i < n; i++ {
		w, err := store.WrenchAt(i)
		if err != nil {
			return nil, nil, err
		}
		r, err := store.ReadingAt(i)
		if err != nil {
			return nil, nil, err
		}
		x := w.Regressor()
		for j := 0; j < 3; j++ {
			copy(f.Values[3*i+j][6*j:6*j+6], x[:])
			s.Values[3*i+j] = r[j]
		}
	}
	return f, s, nil
}

// Solve fits the calibration matrix to every complete pair in store.
//
// Only an empty store is rejected up front (ErrInsufficientData). With fewer
// than MinWellPosedSamples pairs the system is rank deficient and solver
// decides; SVDSolver returns the minimum-norm fit. The store is not modified.
func Solve(store *SampleStore, solver matrix.Solver) (models.CalibrationMatrix, error) {
	var m models.CalibrationMatrix
	if store == nil || store.Count() == 0 {
		return m, fmt.Errorf("%w: no complete force/reading pairs recorded", ErrInsufficientData)
	}
	if solver == nil {
		solver = matrix.SVDSolver{}
	}
	f, s, err := BuildLinearSystem(store)
	if err != nil {
		return m, err
	}
	// f and s are single-use from here on: the solver may consume them.
	a, err := solver.LeastSquares(f, s)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrSolverFailure, err)
	}
	if a == nil || a.Length != Unknowns {
		return m, fmt.Errorf("%w: solver returned %d values, want %d", ErrSolverFailure, lengthOf(a), Unknowns)
	}
	for j := 0; j < 3; j++ {
		for k := 0; k < 6; k++ {
			m[j][k] = a.Values[j*6+k]
		}
	}
	return m, nil
}

func lengthOf(v *matrix.Vector) int {
	if v == nil {
		return 0
	}
	return v.Length
}
