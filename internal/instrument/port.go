// Package instrument defines the source-measure capability the test protocol needs,
// with a deterministic simulator and a SCPI driver for the Keithley 2461.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cell-tester/internal/model"
)

// Port is the capability set the sequencer drives. Implementations must be safe to
// reconfigure repeatedly and must treat SetOutput(false) as the safe/idle state.
type Port interface {
	// SetSourceCurrent configures constant-current sourcing with a voltage compliance.
	SetSourceCurrent(ctx context.Context, amps, voltageCompliance float64) error
	SetOutput(ctx context.Context, enabled bool) error
	// ReadVoltage returns the terminal voltage (4-wire sensed when available).
	ReadVoltage(ctx context.Context) (float64, error)
	// ApplyCurrentPulse blocks until the pulse and its off-time have elapsed and returns
	// the digitized voltage trace.
	ApplyCurrentPulse(ctx context.Context, spec model.PulseSpec) (model.WaveformTrace, error)
	ConnectionCheck(ctx context.Context) (Identity, error)
	// Close disables the output and releases the session.
	Close() error
}

// Beeper is implemented by ports that can give audible feedback.
type Beeper interface {
	Beep(ctx context.Context, success bool) error
}

var (
	// ErrConnection: instrument unreachable or the identity probe failed.
	ErrConnection = errors.New("instrument connection failed")
	// ErrAcquisition: a pulse capture returned no samples or undecodable data.
	ErrAcquisition = errors.New("waveform acquisition failed")
	// ErrInstrument: any other command/query failure, including I/O timeouts.
	ErrInstrument = errors.New("instrument command failed")
)

// Error annotates one of the sentinel errors with the failing operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Identity is the parsed *IDN? response.
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
	Raw          string `json:"raw"`
}

// ParseIdentity splits "MANUFACTURER,MODEL,SERIAL,FIRMWARE". Shorter responses keep only Raw.
func ParseIdentity(raw string) Identity {
	raw = strings.TrimSpace(raw)
	id := Identity{Raw: raw}
	parts := strings.Split(raw, ",")
	if len(parts) >= 4 {
		id.Manufacturer = strings.TrimSpace(parts[0])
		id.Model = strings.TrimSpace(parts[1])
		id.Serial = strings.TrimSpace(parts[2])
		id.Firmware = strings.TrimSpace(parts[3])
	}
	return id
}

func (id Identity) String() string {
	if id.Model == "" {
		return id.Raw
	}
	return fmt.Sprintf("%s %s (serial %s, firmware %s)", id.Manufacturer, id.Model, id.Serial, id.Firmware)
}
