package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a least-squares problem has no usable solution.
var ErrSingular = errors.New("matrix: singular or unsolvable system")

// Solver computes the least-squares solution of a*x ≈ b.
// Implementations may consume a and b; callers must not reuse them.
type Solver interface {
	LeastSquares(a *Matrix, b *Vector) (*Vector, error)
}

// SVDSolver returns the minimum-norm least-squares solution using a thin SVD.
// Singular values at or below RCond times the largest one are treated as zero.
type SVDSolver struct {
	RCond float64
}

func (s SVDSolver) LeastSquares(a *Matrix, b *Vector) (*Vector, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: missing system", ErrSingular)
	}
	if a.Rows == 0 || a.Cols == 0 {
		return nil, fmt.Errorf("%w: empty %dx%d system", ErrSingular, a.Rows, a.Cols)
	}
	if a.Rows != b.Length {
		return nil, fmt.Errorf("%w: %d rows but %d right-hand values", ErrSingular, a.Rows, b.Length)
	}
	if !finite(b.Values) {
		return nil, fmt.Errorf("%w: non-finite right-hand side", ErrSingular)
	}
	for _, row := range a.Values {
		if !finite(row) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrSingular)
		}
	}

	rcond := s.RCond
	if rcond <= 0 {
		rcond = 1e-12
	}

	var svd mat.SVD
	if !svd.Factorize(a.Dense(), mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingular)
	}
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, fmt.Errorf("%w: rank 0", ErrSingular)
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(b.Length, b.Values), rank)

	out := NewVector(a.Cols)
	for i := range out.Values {
		out.Values[i] = x.AtVec(i)
	}
	if !finite(out.Values) {
		return nil, fmt.Errorf("%w: non-finite solution", ErrSingular)
	}
	return out, nil
}

// Rank reports the numerical rank of a using the same cut-off as SVDSolver.
func Rank(a *Matrix, rcond float64) int {
	if a == nil || a.Rows == 0 || a.Cols == 0 {
		return 0
	}
	if rcond <= 0 {
		rcond = 1e-12
	}
	var svd mat.SVD
	if !svd.Factorize(a.Dense(), mat.SVDNone) {
		return 0
	}
	return svd.Rank(rcond)
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
