// Package gpio provides digital I/O with hardware abstraction.
// Cdev drives pins through the Linux GPIO character device, Periph through
// periph.io, and Sim keeps everything in memory so the rest of the daemon
// runs and tests without hardware.
package gpio

import (
	"errors"
	"fmt"
	"time"
)

// Level is a logic level on a pin.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Direction selects input or output.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "OUT"
	}
	return "IN"
}

// Pull selects the internal bias resistor for an input.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "PULL_UP"
	case PullDown:
		return "PULL_DOWN"
	default:
		return "PULL_OFF"
	}
}

// Edge selects which transitions a watch reports.
type Edge int

const (
	RisingEdge Edge = iota + 1
	FallingEdge
	BothEdges
)

func (e Edge) String() string {
	switch e {
	case RisingEdge:
		return "RISING"
	case FallingEdge:
		return "FALLING"
	case BothEdges:
		return "BOTH"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// matches reports whether an observed transition satisfies the watched edge.
func (e Edge) matches(observed Edge) bool {
	return e == BothEdges || e == observed
}

// Mode is the configuration applied to a pin.
// Initial is only used for outputs and is applied together with the
// direction change.
type Mode struct {
	Direction Direction
	Pull      Pull
	Initial   Level
}

// Event is a debounced edge seen on a watched pin.
type Event struct {
	Pin   int
	Edge  Edge  // RisingEdge or FallingEdge
	Level Level // level after the transition
	Time  time.Time
}

// Handler receives watch events. Calls for one pin are serialised.
type Handler func(Event)

// Port is the capability set every backend implements.
type Port interface {
	// Claim reserves pins for one owner. If any pin is already claimed it
	// fails with ErrPinBusy and claims nothing. Release drops the claim.
	Claim(pins ...int) error

	// Configure sets direction, bias and (for outputs) the initial level.
	// Reconfiguring a pin with the same mode is a no-op.
	Configure(pin int, mode Mode) error

	// Write sets an output level.
	Write(pin int, level Level) error

	// Read returns the current level of a configured pin.
	Read(pin int) (Level, error)

	// Watch registers h for edges on pin. Edges closer than debounce to the
	// previously delivered edge on the same pin are dropped.
	Watch(pin int, edge Edge, debounce time.Duration, h Handler) error

	// Unwatch removes a watch. Unwatching an unwatched pin is not an error.
	Unwatch(pin int) error

	// Release frees the given pins, or every pin when none are given.
	// Safe to call repeatedly.
	Release(pins ...int) error
}

var (
	// ErrHardware reports that the backend rejected an operation.
	ErrHardware = errors.New("gpio: hardware fault")

	// ErrNotConfigured is returned for operations on pins never configured.
	ErrNotConfigured = errors.New("gpio: pin not configured")

	// ErrNotOutput is returned when writing a pin configured as input.
	ErrNotOutput = errors.New("gpio: pin not configured as output")

	// ErrPinBusy is returned when a pin is already claimed or watched.
	ErrPinBusy = errors.New("gpio: pin busy")

	// ErrUnsupported is returned when a backend is not available on this platform.
	ErrUnsupported = errors.New("gpio: not supported on this platform")
)

// hardwareError wraps a backend error so callers can test it with ErrHardware.
func hardwareError(op string, pin int, err error) error {
	return fmt.Errorf("%w: %s pin %d: %v", ErrHardware, op, pin, err)
}

// Default pin assignments (BCM numbering).
const (
	DefaultRelayPin  = 17
	DefaultButtonPin = 27
)
