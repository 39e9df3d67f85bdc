package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
)

// DeviceSession is the connected sensor and its calibration session.
type DeviceSession struct {
	mu sync.Mutex

	dev  *forcecal.Device
	sess *forcecal.Session

	// One active operation at a time
	opCancel context.CancelFunc
	opKind   string
	opID     int
}

type Options struct {
	// Params is the parameters file content; nil means defaults.
	Params *models.PARAMETERS
	// ConfigPath is where an auto-detected port is persisted. Empty disables it.
	ConfigPath string
	// Demo forces the simulated sensor for every connect.
	Demo bool
	// OutputDir receives exported files. Empty means the current directory.
	OutputDir string
}

type Server struct {
	mux *http.ServeMux

	store   *DocumentStore
	dev     *DeviceSession
	feed    *SessionFeed
	metrics *Metrics

	pmu        sync.Mutex
	params     *models.PARAMETERS
	configPath string
	demo       bool
	outputDir  string
}

func New(opts Options) *Server {
	p := opts.Params
	if p == nil {
		p = forcecal.DefaultParameters()
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = "."
	}
	s := &Server{
		mux:        http.NewServeMux(),
		store:      NewDocumentStore(),
		dev:        &DeviceSession{},
		feed:       NewSessionFeed(),
		metrics:    NewMetrics(),
		params:     p,
		configPath: opts.ConfigPath,
		demo:       opts.Demo,
		outputDir:  outDir,
	}

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/wrench/begin", s.handleWrenchBegin)
	s.mux.HandleFunc("/api/wrench", s.handleWrench)
	s.mux.HandleFunc("/api/reading", s.handleReading)
	s.mux.HandleFunc("/api/stop", s.handleStopOp)
	s.mux.HandleFunc("/api/solve", s.handleSolve)
	s.mux.HandleFunc("/api/export", s.handleExport)
	s.mux.HandleFunc("/api/download", s.handleDownload)
	s.mux.HandleFunc("/api/quit", s.handleQuit)
	s.mux.HandleFunc("/metrics", s.handleMetrics)

	// WS
	s.mux.HandleFunc("/ws/session", s.handleWSSession)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// SetParameters replaces the parameters used by later connects. Averaging
// settings also apply to the live session from its next reading on.
func (s *Server) SetParameters(p *models.PARAMETERS) {
	if p == nil {
		return
	}
	s.pmu.Lock()
	s.params = p
	s.pmu.Unlock()

	_, sess := s.current()
	if sess != nil {
		sess.SetAverageOptions(forcecal.AverageOptionsFrom(p))
	}
}

// Close cancels any running operation and closes the sensor.
func (s *Server) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	return s.dev.disconnectLocked()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// writeError maps workflow errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, forcecal.ErrBusy),
		errors.Is(err, forcecal.ErrUnexpectedEvent),
		errors.Is(err, forcecal.ErrNoCalibration),
		errors.Is(err, forcecal.ErrTerminated):
		status = http.StatusConflict
	case errors.Is(err, forcecal.ErrInsufficientData),
		errors.Is(err, forcecal.ErrSolverFailure),
		errors.Is(err, forcecal.ErrInvalidWrench):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, forcecal.ErrInvalidReading):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, APIError{Error: err.Error()})
}

var errNotConnected = errors.New("not connected")

func (s *Server) current() (*forcecal.Device, *forcecal.Session) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.dev, s.dev.sess
}

// requireSession answers 400 and returns nil when nothing is connected.
func (s *Server) requireSession(w http.ResponseWriter) (*forcecal.Device, *forcecal.Session) {
	dev, sess := s.current()
	if sess == nil {
		s.writeJSON(w, http.StatusBadRequest, APIError{Error: errNotConnected.Error()})
		return nil, nil
	}
	return dev, sess
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}

	s.pmu.Lock()
	p := cloneParameters(s.params)
	configPath := s.configPath
	demo := s.demo || req.Demo
	s.pmu.Unlock()
	if req.Port != "" {
		p.SERIAL.PORT = req.Port
		configPath = ""
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()

	var dev *forcecal.Device
	if demo {
		dev = forcecal.ConnectDemo(p)
	} else {
		// Ensure port
		if _, err := forcecal.EnsureSerialPort(configPath, p, configPath != ""); err != nil {
			s.writeJSON(w, 400, APIError{Error: err.Error()})
			return
		}
		var err error
		if dev, err = forcecal.Connect(p); err != nil {
			s.writeJSON(w, 400, APIError{Error: err.Error()})
			return
		}
	}

	sess := forcecal.NewSession(dev.Sensor, forcecal.SessionOptionsFrom(p))
	if err := sess.Start(); err != nil {
		_ = dev.Close()
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.dev.dev = dev
	s.dev.sess = sess
	s.metrics.Set(mPairs, 0)
	slog.Info("server: session started", "port", dev.Name, "strict", p.STRICT)

	s.writeJSON(w, 200, ConnectResponse{
		Connected: true,
		Port:      dev.Name,
		Version:   dev.Version,
		State:     string(sess.State()),
	})
}

func cloneParameters(p *models.PARAMETERS) *models.PARAMETERS {
	c := *p
	if p.SERIAL != nil {
		ser := *p.SERIAL
		c.SERIAL = &ser
	} else {
		c.SERIAL = &models.SERIAL{BAUDRATE: models.DefaultBAUDRATE, TIMEOUT: models.DefaultTIMEOUT}
	}
	return &c
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (d *DeviceSession) cancelLocked() {
	if d.opCancel != nil {
		d.opCancel()
		d.opCancel = nil
		d.opKind = ""
	}
}

func (d *DeviceSession) disconnectLocked() error {
	var err error
	if d.dev != nil {
		err = d.dev.Close()
	}
	d.dev = nil
	d.sess = nil
	return err
}

// snapshot is the payload of /api/state and the first websocket message.
func (s *Server) snapshot() StateResponse {
	s.dev.mu.Lock()
	dev, sess, op := s.dev.dev, s.dev.sess, s.dev.opKind
	s.dev.mu.Unlock()
	if sess == nil {
		return StateResponse{}
	}
	out := StateResponse{
		Connected: true,
		Port:      dev.Name,
		State:     string(sess.State()),
		Busy:      sess.Busy(),
		Operation: op,
		Pairs:     sess.Count(),
		Wrenches:  sess.Wrenches(),
		Readings:  sess.Readings(),
		Report:    newReportDTO(sess.Report()),
	}
	if m, ok := sess.Matrix(); ok {
		out.Matrix = &m
	}
	return out
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, s.snapshot())
}

func (s *Server) handleWrenchBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, sess := s.requireSession(w)
	if sess == nil {
		return
	}
	res, err := sess.BeginWrench(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.feed.PublishState(res.State)
	s.writeJSON(w, 200, map[string]string{"state": string(res.State)})
}

// handleWrench stores a force and position. A request outside the force
// prompt first opens it (zeroing the bias), so a client may skip
// /api/wrench/begin when the load is applied after this call.
func (s *Server) handleWrench(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req WrenchRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	dev, sess := s.requireSession(w)
	if sess == nil {
		return
	}
	sample := req.Sample()
	var (
		res forcecal.Result
		err error
	)
	if sess.State() == forcecal.StateAwaitingWrenchInput {
		res, err = sess.SubmitWrench(r.Context(), sample)
	} else {
		res, err = sess.RecordWrench(r.Context(), sample)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	dev.ApplyLoad(sample)
	s.metrics.Inc(mWrenches)
	out := WrenchResponse{State: string(res.State), Wrench: sample, Index: len(sess.Wrenches()) - 1}
	s.feed.Publish(FeedWrench, out)
	s.writeJSON(w, 200, out)
}

// handleReading starts averaging in the background and answers 202.
// Progress, the result and any error arrive on /ws/session.
func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	if s.dev.sess == nil {
		s.dev.mu.Unlock()
		s.writeJSON(w, 400, APIError{Error: errNotConnected.Error()})
		return
	}
	if s.dev.opCancel != nil || s.dev.sess.Busy() {
		kind := s.dev.opKind
		s.dev.mu.Unlock()
		s.writeError(w, fmt.Errorf("%w: %s in progress", forcecal.ErrBusy, kind))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.dev.opID++
	id := s.dev.opID
	s.dev.opCancel = cancel
	s.dev.opKind = "reading"
	dev, sess := s.dev.dev, s.dev.sess
	s.dev.mu.Unlock()

	s.metrics.Set(mBusy, 1)
	go func() {
		res, err := sess.RecordReading(ctx, func(u forcecal.SampleUpdate) {
			s.feed.Publish(FeedSample, newSampleDTO(u))
		})
		// Release the slot before announcing the result so a client
		// reacting to it can start the next operation.
		s.finishOp(id, cancel)
		if err != nil {
			if errors.Is(err, forcecal.ErrInvalidReading) {
				s.metrics.Inc(mInvalidReadings)
			}
			s.feed.PublishError(err)
			return
		}
		// The operator removes the weight once the reading is taken.
		dev.ApplyLoad(models.WrenchSample{})
		pairs := sess.Count()
		s.metrics.Inc(mReadings)
		s.metrics.Set(mPairs, float64(pairs))
		s.feed.Publish(FeedReading, ReadingDTO{
			State:   string(res.State),
			Reading: *res.Reading,
			Pairs:   pairs,
		})
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) finishOp(id int, cancel context.CancelFunc) {
	cancel()
	s.dev.mu.Lock()
	if s.dev.opID == id {
		s.dev.opCancel = nil
		s.dev.opKind = ""
	}
	s.dev.mu.Unlock()
	s.metrics.Set(mBusy, 0)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, sess := s.requireSession(w)
	if sess == nil {
		return
	}
	res, err := sess.Solve(r.Context())
	if err != nil {
		s.metrics.Inc(mSolveFailures)
		s.writeError(w, err)
		return
	}
	s.metrics.Inc(mSolves)
	s.metrics.Set(mRank, float64(res.Report.Rank))
	s.metrics.Set(mRMS, res.Report.RMS)
	s.metrics.Set(mMaxResidual, res.Report.MaxResidual)
	out := SolveResponse{State: string(res.State), Matrix: *res.Matrix, Report: newReportDTO(res.Report)}
	s.feed.Publish(FeedSolved, out)
	s.writeJSON(w, 200, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ExportRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	_, sess := s.requireSession(w)
	if sess == nil {
		return
	}
	name := strings.TrimSpace(req.Path)
	if name == "" {
		name = sess.OutputPath()
	}
	// Clients name a file; they do not choose where it goes.
	path := filepath.Join(s.outputDir, filepath.Base(name))

	res, err := sess.Export(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := sess.Document()
	if err != nil {
		s.writeError(w, err)
		return
	}
	raw, err := forcecal.EncodeCalibration(res.Path, doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.store.Put(filepath.Base(res.Path), raw)
	if err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.metrics.Inc(mExports)
	out := ExportResponse{
		State:    string(res.State),
		Path:     res.Path,
		ID:       rec.ID,
		Download: "/api/download?id=" + rec.ID,
	}
	s.feed.Publish(FeedExported, out)
	s.writeJSON(w, 200, out)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSON(w, 400, APIError{Error: "missing id"})
		return
	}
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "not found"})
		return
	}
	ctype := "application/json"
	switch strings.ToLower(filepath.Ext(rec.Name)) {
	case ".yaml", ".yml":
		ctype = "application/yaml"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.WriteHeader(200)
	_, _ = w.Write(rec.Raw)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	_, sess := s.requireSession(w)
	if sess == nil {
		return
	}
	res, err := sess.Quit(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.dev.mu.Lock()
	s.dev.cancelLocked()
	_ = s.dev.disconnectLocked()
	s.dev.mu.Unlock()
	s.feed.PublishState(res.State)
	s.writeJSON(w, 200, map[string]string{"state": string(res.State)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.metrics.Set(mWSClients, float64(s.feed.Listeners()))
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := s.metrics.WriteText(w); err != nil {
		slog.Error("server: metrics write failed", "err", err)
	}
}
