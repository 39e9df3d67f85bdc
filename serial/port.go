package serial

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	goserial "github.com/tarm/serial"
	enumerator "go.bug.st/serial"

	"github.com/CK6170/forcecal-go/models"
)

// ListPorts returns the serial ports known to the OS. When enumeration is
// unavailable it falls back to scanning the usual device names.
func ListPorts() []string {
	ports, err := enumerator.GetPortsList()
	if err == nil && len(ports) > 0 {
		return ports
	}
	if err != nil {
		slog.Debug("serial: port enumeration failed, scanning device names", "err", err)
	}
	return scanPorts()
}

func scanPorts() []string {
	if runtime.GOOS == "windows" {
		out := make([]string, 0, 64)
		for i := 1; i <= 64; i++ {
			out = append(out, fmt.Sprintf("COM%d", i))
		}
		return out
	}
	candidates := make([]string, 0, 32)
	for _, pat := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				candidates = append(candidates, m)
			}
		}
	}
	return candidates
}

// AutoDetectPort returns the first port whose device answers a version query.
func AutoDetectPort(cfg *models.SERIAL) string {
	baud := models.DefaultBAUDRATE
	if cfg != nil && cfg.BAUDRATE > 0 {
		baud = cfg.BAUDRATE
	}
	for _, name := range ListPorts() {
		if TestPort(name, baud) {
			slog.Info("serial: sensor bridge found", "port", name)
			return name
		}
	}
	return ""
}

// TestPort opens name and checks that the device answers "V" with a version.
func TestPort(name string, baud int) bool {
	sp, err := goserial.OpenPort(portConfig(name, baud))
	if err != nil {
		return false
	}
	s := NewSensor(sp, 300*time.Millisecond)
	defer func() { _ = s.Close() }()
	_, err = s.Version()
	return err == nil
}
