package models

// Defaults applied by LoadParameters when a field is absent or zero.
const (
	DefaultAVG      = 50
	DefaultDELAY    = 100 // ms
	DefaultOUTPUT   = "output.json"
	DefaultBAUDRATE = 115200
	DefaultTIMEOUT  = 300 // ms
	DefaultRCOND    = 1e-12
)

// SERIAL describes the serial link to the force sensor bridge.
type SERIAL struct {
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE"`
	TIMEOUT  int    `json:"TIMEOUT"` // read timeout in ms
}

// PARAMETERS is the parameters file consumed by every front-end.
type PARAMETERS struct {
	SERIAL *SERIAL `json:"SERIAL"`
	// AVG is the number of sub-samples averaged into one reading.
	AVG int `json:"AVG"`
	// DELAY is the pause between sub-samples in milliseconds.
	DELAY int `json:"DELAY"`
	// OUTPUT is the default export path.
	OUTPUT string `json:"OUTPUT"`
	// RCOND is the relative singular value cut-off used to decide the rank
	// of the linear system.
	RCOND float64 `json:"RCOND"`
	// STRICT enforces wrench/reading alternation.
	STRICT bool `json:"STRICT"`
	DEBUG  bool `json:"DEBUG"`
}
