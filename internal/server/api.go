package server

import (
	"math"
	"time"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
)

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectRequest struct {
	// Demo selects the simulated sensor.
	Demo bool `json:"demo"`
	// Port overrides SERIAL.PORT from the parameters file.
	Port string `json:"port,omitempty"`
}

type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	Version   string `json:"version"`
	State     string `json:"state"`
}

type WrenchRequest struct {
	Force    [3]float64 `json:"force"`
	Position [3]float64 `json:"position"`
}

func (r WrenchRequest) Sample() models.WrenchSample {
	return models.WrenchSample{r.Force[0], r.Force[1], r.Force[2], r.Position[0], r.Position[1], r.Position[2]}
}

type WrenchResponse struct {
	State  string              `json:"state"`
	Wrench models.WrenchSample `json:"wrench"`
	Index  int                 `json:"index"`
}

type ExportRequest struct {
	// Path is a file name inside the server's output directory. Empty uses
	// OUTPUT from the parameters file; a .yaml/.yml name selects YAML.
	Path string `json:"path,omitempty"`
}

type ExportResponse struct {
	State    string `json:"state"`
	Path     string `json:"path"`
	ID       string `json:"id"`
	Download string `json:"download"`
}

type ReportDTO struct {
	Samples     int       `json:"samples"`
	Rank        int       `json:"rank"`
	Unknowns    int       `json:"unknowns"`
	Cond        *float64  `json:"cond,omitempty"`
	RMS         float64   `json:"rms"`
	MaxResidual float64   `json:"maxResidual"`
	Residuals   []float64 `json:"residuals"`
	Deficient   bool      `json:"deficient"`
}

// newReportDTO drops a non-finite condition number, which JSON cannot carry.
func newReportDTO(r *forcecal.FitReport) *ReportDTO {
	if r == nil {
		return nil
	}
	out := &ReportDTO{
		Samples:     r.Samples,
		Rank:        r.Rank,
		Unknowns:    forcecal.Unknowns,
		RMS:         r.RMS,
		MaxResidual: r.MaxResidual,
		Residuals:   make([]float64, 0, len(r.Checks)),
		Deficient:   r.Deficient(),
	}
	if !math.IsInf(r.Cond, 0) && !math.IsNaN(r.Cond) {
		c := r.Cond
		out.Cond = &c
	}
	for _, c := range r.Checks {
		out.Residuals = append(out.Residuals, c.Residual)
	}
	return out
}

type SolveResponse struct {
	State  string                   `json:"state"`
	Matrix models.CalibrationMatrix `json:"matrix"`
	Report *ReportDTO               `json:"report"`
}

type StateResponse struct {
	Connected bool                      `json:"connected"`
	Port      string                    `json:"port,omitempty"`
	State     string                    `json:"state,omitempty"`
	Busy      bool                      `json:"busy"`
	Operation string                    `json:"operation,omitempty"`
	Pairs     int                       `json:"pairs"`
	Wrenches  []models.WrenchSample     `json:"wrenches"`
	Readings  []models.ReadingSample    `json:"readings"`
	Matrix    *models.CalibrationMatrix `json:"matrix,omitempty"`
	Report    *ReportDTO                `json:"report,omitempty"`
}

// SampleDTO is the averaging progress pushed over the websocket.
type SampleDTO struct {
	Phase   string     `json:"phase"`
	Done    int        `json:"done"`
	Target  int        `json:"target"`
	Current [3]float64 `json:"current"`
}

func newSampleDTO(u forcecal.SampleUpdate) SampleDTO {
	return SampleDTO{
		Phase:   string(u.Phase),
		Done:    u.AvgDone,
		Target:  u.AvgTarget,
		Current: [3]float64{u.Current.X, u.Current.Y, u.Current.Z},
	}
}

type ReadingDTO struct {
	State   string               `json:"state"`
	Reading models.ReadingSample `json:"reading"`
	Pairs   int                  `json:"pairs"`
}
