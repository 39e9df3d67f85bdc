package models

import "fmt"

// Document is the exported calibration file. Field order is the on-disk order.
type Document struct {
	CalMatrix        [][]float64 `json:"cal-matrix" yaml:"cal-matrix"`
	ForcePos         [][]float64 `json:"force-pos" yaml:"force-pos"`
	RawSensorReading [][]float64 `json:"raw-sensor-reading" yaml:"raw-sensor-reading"`
}

// NewDocument copies the matrix and both sample lists into a Document.
func NewDocument(m CalibrationMatrix, wrenches []WrenchSample, readings []ReadingSample) Document {
	doc := Document{
		CalMatrix:        m.Rows(),
		ForcePos:         make([][]float64, 0, len(wrenches)),
		RawSensorReading: make([][]float64, 0, len(readings)),
	}
	for _, w := range wrenches {
		doc.ForcePos = append(doc.ForcePos, append([]float64(nil), w[:]...))
	}
	for _, r := range readings {
		doc.RawSensorReading = append(doc.RawSensorReading, append([]float64(nil), r[:]...))
	}
	return doc
}

// Matrix converts CalMatrix back to a CalibrationMatrix.
func (d Document) Matrix() (CalibrationMatrix, error) {
	var m CalibrationMatrix
	if len(d.CalMatrix) != 3 {
		return m, fmt.Errorf("cal-matrix: got %d rows, want 3", len(d.CalMatrix))
	}
	for j, row := range d.CalMatrix {
		if len(row) != 6 {
			return m, fmt.Errorf("cal-matrix row %d: got %d columns, want 6", j, len(row))
		}
		copy(m[j][:], row)
	}
	return m, nil
}

// Wrenches converts ForcePos back to wrench samples.
func (d Document) Wrenches() ([]WrenchSample, error) {
	out := make([]WrenchSample, len(d.ForcePos))
	for i, row := range d.ForcePos {
		if len(row) != 6 {
			return nil, fmt.Errorf("force-pos[%d]: got %d values, want 6", i, len(row))
		}
		copy(out[i][:], row)
	}
	return out, nil
}

// Readings converts RawSensorReading back to reading samples.
func (d Document) Readings() ([]ReadingSample, error) {
	out := make([]ReadingSample, len(d.RawSensorReading))
	for i, row := range d.RawSensorReading {
		if len(row) != 3 {
			return nil, fmt.Errorf("raw-sensor-reading[%d]: got %d values, want 3", i, len(row))
		}
		copy(out[i][:], row)
	}
	return out, nil
}
