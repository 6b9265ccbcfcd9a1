// Package modes defines the operations mode shared by the enclosure
// controller and the action scheduler.
package modes

import "fmt"

// Mode represents the operational state of a controlled subsystem.
// Valid transitions:
//
//	Manual    <-> Automatic  (operator request)
//	Automatic  -> Error      (unrecoverable failure)
//	Error      -> Manual     (explicit operator reset; never automatic)
type Mode int

const (
	// Error indicates an unrecoverable failure requiring operator reset.
	Error Mode = iota
	// Automatic indicates the subsystem is under supervisor control.
	Automatic
	// Manual indicates the operator has direct control.
	Manual
)

func (m Mode) String() string {
	switch m {
	case Error:
		return "ERROR"
	case Automatic:
		return "AUTOMATIC"
	case Manual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// Parse converts a mode label to a Mode. Returns false for unknown labels.
func Parse(s string) (Mode, bool) {
	switch s {
	case "AUTOMATIC", "automatic":
		return Automatic, true
	case "MANUAL", "manual":
		return Manual, true
	case "ERROR", "error":
		return Error, true
	default:
		return Error, false
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, ok := Parse(string(text))
	if !ok {
		return fmt.Errorf("unknown operations mode %q", string(text))
	}
	*m = parsed
	return nil
}
