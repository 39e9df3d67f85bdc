package forcecal

import (
	"fmt"
	"log/slog"

	"github.com/golang/geo/r3"

	"github.com/CK6170/forcecal-go/models"
	serialpkg "github.com/CK6170/forcecal-go/serial"
	"github.com/CK6170/forcecal-go/sim"
)

// Device is an open sensor together with the parameters it was opened with.
type Device struct {
	Params *models.PARAMETERS
	Sensor Sensor
	// Name is the serial port, or "demo".
	Name    string
	Version string
	close   func() error
}

// Connect opens the serial bridge named in p and probes its version.
func Connect(p *models.PARAMETERS) (*Device, error) {
	if p == nil || p.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL section")
	}
	s, err := serialpkg.Open(p.SERIAL)
	if err != nil {
		return nil, err
	}
	ver, err := s.Version()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("no sensor bridge on %s: %w", p.SERIAL.PORT, err)
	}
	slog.Info("device: connected", "port", p.SERIAL.PORT, "version", ver)
	return &Device{Params: p, Sensor: s, Name: p.SERIAL.PORT, Version: ver, close: s.Close}, nil
}

// ConnectDemo returns a simulated sensor with a known matrix, an unloaded
// offset and a little noise. It starts in calibrated mode so Session.Start
// has something to switch off.
func ConnectDemo(p *models.PARAMETERS) *Device {
	if p == nil {
		p = DefaultParameters()
	}
	s := sim.New(sim.DemoMatrix(),
		sim.WithOffset(r3.Vector{X: 0.4, Y: -0.25, Z: 1.1}),
		sim.WithNoise(0.002, 1),
		sim.WithCalibrated(),
	)
	return &Device{Params: p, Sensor: s, Name: "demo", Version: "sim", close: s.Close}
}

func (d *Device) Close() error {
	if d == nil || d.close == nil {
		return nil
	}
	return d.close()
}

// ApplyLoad tells a simulated sensor which wrench the operator entered.
// Hardware sensors feel the load directly, so this does nothing for them.
func (d *Device) ApplyLoad(w models.WrenchSample) {
	if d == nil {
		return
	}
	if l, ok := d.Sensor.(interface{ SetLoad(models.WrenchSample) }); ok {
		l.SetLoad(w)
	}
}
