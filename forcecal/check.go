package forcecal

import (
	"fmt"
	"math"
	"strings"

	"github.com/CK6170/forcecal-go/matrix"
	"github.com/CK6170/forcecal-go/models"
)

// SampleCheck compares one recorded reading with the matrix prediction.
type SampleCheck struct {
	Index     int
	Measured  models.ReadingSample
	Predicted models.ReadingSample
	Residual  float64 // |measured - predicted|
}

// FitReport summarizes how well a calibration matrix explains the samples.
type FitReport struct {
	Samples     int
	Rank        int
	Cond        float64
	RMS         float64
	MaxResidual float64
	Checks      []SampleCheck
}

// Deficient reports whether the system did not determine all 18 unknowns.
func (r *FitReport) Deficient() bool {
	return r.Rank < Unknowns
}

// CheckFit evaluates m against every complete pair in store.
func CheckFit(store *SampleStore, m models.CalibrationMatrix, rcond float64) (*FitReport, error) {
	f, _, err := BuildLinearSystem(store)
	if err != nil {
		return nil, err
	}
	n := store.Count()
	rep := &FitReport{
		Samples: n,
		Rank:    matrix.Rank(f, rcond),
		Cond:    f.Cond(),
		Checks:  make([]SampleCheck, 0, n),
	}
	sumSq := 0.0
	for i := 0; i < n; i++ {
		w, err := store.WrenchAt(i)
		if err != nil {
			return nil, err
		}
		r, err := store.ReadingAt(i)
		if err != nil {
			return nil, err
		}
		p := m.Apply(w)
		d := r.Vector().Sub(p.Vector())
		res := d.Norm()
		sumSq += d.Norm2()
		rep.MaxResidual = math.Max(rep.MaxResidual, res)
		rep.Checks = append(rep.Checks, SampleCheck{Index: i, Measured: r, Predicted: p, Residual: res})
	}
	if n > 0 {
		rep.RMS = math.Sqrt(sumSq / float64(3*n))
	}
	return rep, nil
}

// String renders the report the way the console prints it.
func (r *FitReport) String() string {
	var b strings.Builder
	b.WriteString(matrix.MatrixLine + "\n")
	for _, c := range r.Checks {
		fmt.Fprintf(&b, "[%03d]  measured % 10.4f % 10.4f % 10.4f  predicted % 10.4f % 10.4f % 10.4f  |e| %.3e\n",
			c.Index, c.Measured[0], c.Measured[1], c.Measured[2],
			c.Predicted[0], c.Predicted[1], c.Predicted[2], c.Residual)
	}
	b.WriteString(matrix.MatrixLine + "\n")
	fmt.Fprintf(&b, "Samples: %d  Rank: %d/%d  Cond: %.3e\n", r.Samples, r.Rank, Unknowns, r.Cond)
	fmt.Fprintf(&b, "RMS error: %e  Max error: %e\n", r.RMS, r.MaxResidual)
	b.WriteString(matrix.MatrixLine + "\n")
	return b.String()
}

// FormatMatrix prints a calibration matrix one row per line.
func FormatMatrix(m models.CalibrationMatrix) string {
	var b strings.Builder
	for _, row := range m {
		for k, v := range row {
			if k > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "% 14.6e", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
