package server

import (
	"io"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metrics counts session activity and renders it in the Prometheus text
// exposition format.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

const (
	mWrenches        = "forcecal_wrenches_total"
	mReadings        = "forcecal_readings_total"
	mInvalidReadings = "forcecal_invalid_readings_total"
	mSolves          = "forcecal_solves_total"
	mSolveFailures   = "forcecal_solve_failures_total"
	mExports         = "forcecal_exports_total"
	mPairs           = "forcecal_pairs"
	mRank            = "forcecal_fit_rank"
	mRMS             = "forcecal_fit_rms"
	mMaxResidual     = "forcecal_fit_max_residual"
	mBusy            = "forcecal_session_busy"
	mWSClients       = "forcecal_ws_clients"
)

var metricHelp = map[string]string{
	mWrenches:        "Force/position entries stored.",
	mReadings:        "Averaged sensor readings stored.",
	mInvalidReadings: "Reading attempts aborted by an invalid sensor sample.",
	mSolves:          "Successful calibration solves.",
	mSolveFailures:   "Calibration solves that returned an error.",
	mExports:         "Calibration documents written.",
	mPairs:           "Complete force/reading pairs in the session.",
	mRank:            "Numerical rank of the last solved system (18 is full rank).",
	mRMS:             "RMS residual of the last solve.",
	mMaxResidual:     "Largest per-sample residual norm of the last solve.",
	mBusy:            "1 while a reading is being averaged.",
	mWSClients:       "Connected websocket clients.",
}

// metricOrder fixes the exposition order.
var metricOrder = []string{
	mWrenches, mReadings, mInvalidReadings, mSolves, mSolveFailures, mExports,
	mPairs, mRank, mRMS, mMaxResidual, mBusy, mWSClients,
}

func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]float64), gauges: make(map[string]float64)}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

func (m *Metrics) Set(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

func (m *Metrics) families() []*dto.MetricFamily {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*dto.MetricFamily, 0, len(metricOrder))
	for _, name := range metricOrder {
		mf := &dto.MetricFamily{
			Name: proto.String(name),
			Help: proto.String(metricHelp[name]),
		}
		if isCounter(name) {
			mf.Type = dto.MetricType_COUNTER.Enum()
			mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(m.counters[name])}}}
		} else {
			mf.Type = dto.MetricType_GAUGE.Enum()
			mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(m.gauges[name])}}}
		}
		out = append(out, mf)
	}
	return out
}

func isCounter(name string) bool {
	switch name {
	case mWrenches, mReadings, mInvalidReadings, mSolves, mSolveFailures, mExports:
		return true
	}
	return false
}

// WriteText writes every metric family in text format.
func (m *Metrics) WriteText(w io.Writer) error {
	for _, mf := range m.families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
