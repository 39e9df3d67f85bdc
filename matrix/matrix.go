package matrix

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatrixLine separates blocks in console dumps.
const MatrixLine = "--------------------------------------------------------------"

type Matrix struct {
	Rows   int
	Cols   int
	Values [][]float64
}

type Vector struct {
	Length int
	Values []float64
}

func NewMatrix(rows, cols int) *Matrix {
	m := &Matrix{Rows: rows, Cols: cols, Values: make([][]float64, rows)}
	for i := range m.Values {
		m.Values[i] = make([]float64, cols)
	}
	return m
}

func NewVector(n int) *Vector {
	return &Vector{Length: n, Values: make([]float64, n)}
}

func NewVectorWithValue(n int, v float64) *Vector {
	out := NewVector(n)
	for i := range out.Values {
		out.Values[i] = v
	}
	return out
}

// SetRow copies v into row i. Extra values are ignored.
func (m *Matrix) SetRow(i int, v *Vector) {
	copy(m.Values[i], v.Values)
}

func (m *Matrix) GetRow(i int) *Vector {
	out := NewVector(m.Cols)
	copy(out.Values, m.Values[i])
	return out
}

// MulVector returns m*v, or nil when the dimensions disagree.
func (m *Matrix) MulVector(v *Vector) *Vector {
	if v == nil || m.Cols != v.Length {
		return nil
	}
	out := NewVector(m.Rows)
	for i := 0; i < m.Rows; i++ {
		sum := 0.0
		for j := 0; j < m.Cols; j++ {
			sum += m.Values[i][j] * v.Values[j]
		}
		out.Values[i] = sum
	}
	return out
}

// Dense copies m into a gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, 0, m.Rows*m.Cols)
	for _, row := range m.Values {
		data = append(data, row...)
	}
	return mat.NewDense(m.Rows, m.Cols, data)
}

// Cond returns the 2-norm condition number of m, +Inf when the
// factorization fails or m is empty.
func (m *Matrix) Cond() float64 {
	if m.Rows == 0 || m.Cols == 0 {
		return math.Inf(1)
	}
	var svd mat.SVD
	if !svd.Factorize(m.Dense(), mat.SVDNone) {
		return math.Inf(1)
	}
	return svd.Cond()
}

func (v *Vector) Sub(o *Vector) *Vector {
	if o == nil || v.Length != o.Length {
		return nil
	}
	out := NewVector(v.Length)
	for i := range v.Values {
		out.Values[i] = v.Values[i] - o.Values[i]
	}
	return out
}

func (v *Vector) Norm() float64 {
	sum := 0.0
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}
