package serial

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	goserial "github.com/tarm/serial"

	"github.com/CK6170/forcecal-go/models"
)

// Sensor talks to a force sensor bridge over a text line protocol:
//
//	F   -> "F <fx> <fy> <fz> <valid 0|1>"
//	Z   -> "OK"        zero bias at the current load
//	U   -> "OK"        remove bias
//	C?  -> "C <0|1>"   calibrated output enabled
//	C0  -> "OK"        switch to raw output
//	V   -> "Version <x.y.z>"
//
// Any reply may instead be "ERR <message>".
type Sensor struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	conn lineConn
}

// Open opens the configured port at 8N1.
func Open(cfg *models.SERIAL) (*Sensor, error) {
	if cfg == nil || strings.TrimSpace(cfg.PORT) == "" {
		return nil, fmt.Errorf("serial: no port configured")
	}
	timeout := time.Duration(cfg.TIMEOUT) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultTIMEOUT) * time.Millisecond
	}
	port, err := goserial.OpenPort(portConfig(cfg.PORT, cfg.BAUDRATE))
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.PORT, err)
	}
	return NewSensor(port, timeout), nil
}

// NewSensor wraps an already open port. timeout bounds each reply.
func NewSensor(port io.ReadWriteCloser, timeout time.Duration) *Sensor {
	return &Sensor{port: port, conn: lineConn{rw: port, timeout: timeout}}
}

func portConfig(name string, baud int) *goserial.Config {
	if baud <= 0 {
		baud = models.DefaultBAUDRATE
	}
	return &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: 50 * time.Millisecond,
	}
}

func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// ReadForce reports any transport or parse failure as an invalid read.
func (s *Sensor) ReadForce() (r3.Vector, bool) {
	s.mu.Lock()
	resp, err := s.conn.sendCommand("F")
	s.mu.Unlock()
	if err != nil {
		return r3.Vector{}, false
	}
	v, ok, err := parseForce(resp)
	if err != nil {
		return r3.Vector{}, false
	}
	return v, ok
}

func parseForce(resp string) (r3.Vector, bool, error) {
	f := strings.Fields(resp)
	if len(f) != 5 || f[0] != "F" {
		return r3.Vector{}, false, fmt.Errorf("%w: %q", ErrBadResponse, resp)
	}
	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(f[i+1], 64)
		if err != nil {
			return r3.Vector{}, false, fmt.Errorf("%w: %q: %v", ErrBadResponse, resp, err)
		}
		vals[i] = v
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, f[4] == "1", nil
}

func (s *Sensor) ZeroBias() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.expectOK("Z")
}

func (s *Sensor) UnzeroBias() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.expectOK("U")
}

func (s *Sensor) IsCalibrated() (bool, error) {
	s.mu.Lock()
	resp, err := s.conn.sendCommand("C?")
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	switch resp {
	case "C 1":
		return true, nil
	case "C 0":
		return false, nil
	}
	return false, fmt.Errorf("%w: C?: %q", ErrBadResponse, resp)
}

func (s *Sensor) Uncalibrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.expectOK("C0")
}

// Version returns the firmware version string reported by the bridge.
func (s *Sensor) Version() (string, error) {
	s.mu.Lock()
	resp, err := s.conn.sendCommand("V")
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	v, ok := strings.CutPrefix(resp, "Version ")
	if !ok {
		return "", fmt.Errorf("%w: V: %q", ErrBadResponse, resp)
	}
	return strings.TrimSpace(v), nil
}
