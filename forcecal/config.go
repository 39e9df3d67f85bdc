package forcecal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/CK6170/forcecal-go/models"
	serialpkg "github.com/CK6170/forcecal-go/serial"
)

// LoadParameters reads the parameters file, filling absent fields with defaults.
func LoadParameters(path string) (*models.PARAMETERS, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := DefaultParameters()
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := validateParameters(p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// DefaultParameters is the configuration used when no file is given.
func DefaultParameters() *models.PARAMETERS {
	return &models.PARAMETERS{
		SERIAL: &models.SERIAL{
			BAUDRATE: models.DefaultBAUDRATE,
			TIMEOUT:  models.DefaultTIMEOUT,
		},
		AVG:    models.DefaultAVG,
		DELAY:  models.DefaultDELAY,
		OUTPUT: models.DefaultOUTPUT,
		RCOND:  models.DefaultRCOND,
	}
}

func validateParameters(p *models.PARAMETERS) error {
	if p.SERIAL == nil {
		return fmt.Errorf("missing SERIAL section in JSON")
	}
	if p.SERIAL.BAUDRATE <= 0 {
		p.SERIAL.BAUDRATE = models.DefaultBAUDRATE
	}
	if p.SERIAL.TIMEOUT <= 0 {
		p.SERIAL.TIMEOUT = models.DefaultTIMEOUT
	}
	if p.AVG <= 0 {
		return fmt.Errorf("AVG must be > 0")
	}
	if p.DELAY < 0 {
		return fmt.Errorf("DELAY must be >= 0")
	}
	if p.RCOND < 0 || p.RCOND >= 1 {
		return fmt.Errorf("RCOND must be in [0, 1)")
	}
	if strings.TrimSpace(p.OUTPUT) == "" {
		p.OUTPUT = models.DefaultOUTPUT
	}
	return nil
}

func PersistParameters(path string, p *models.PARAMETERS) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureSerialPort auto-detects the serial port if missing and optionally
// persists it back into the parameters file.
func EnsureSerialPort(configPath string, p *models.PARAMETERS, persist bool) (changed bool, err error) {
	if p == nil || p.SERIAL == nil {
		return false, fmt.Errorf("missing SERIAL section")
	}
	if strings.TrimSpace(p.SERIAL.PORT) != "" {
		return false, nil
	}
	port := serialpkg.AutoDetectPort(p.SERIAL)
	if port == "" {
		return false, fmt.Errorf("could not auto-detect serial port")
	}
	p.SERIAL.PORT = port
	if persist && configPath != "" {
		if err := PersistParameters(configPath, p); err != nil {
			return true, err
		}
	}
	return true, nil
}
