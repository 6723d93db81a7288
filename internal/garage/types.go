// Package garage drives a garage door opener: a relay that mimics the wall
// button, a physical push button, and an optional door-position sensor.
package garage

import (
	"errors"
	"fmt"
	"time"
)

// State is the door position as far as the controller knows it.
type State string

const (
	StateUnknown State = "unknown"
	StateOpen    State = "open"
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateClosing State = "closing"
)

// ParseState converts a persisted state name.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateUnknown, StateOpen, StateClosed, StateOpening, StateClosing:
		return st, nil
	default:
		return "", fmt.Errorf("unknown door state %q", s)
	}
}

func (s State) String() string {
	return string(s)
}

// EventType names a controller notification.
type EventType string

const (
	EventTriggered    EventType = "triggered"
	EventStateChanged EventType = "state_changed"
)

// Event is delivered to Options.OnEvent after the controller lock is
// released. Source is set for EventTriggered; State always holds the state
// after the event.
type Event struct {
	Type   EventType
	Source string
	State  State
	Time   time.Time
}

// Trigger sources used by the controller itself.
const (
	SourceButton    = "manual_button"
	SourceAutoClose = "auto_close"
)

// Timing contracts.
const (
	MinTriggerInterval = time.Second
	ButtonDebounce     = 300 * time.Millisecond
	SensorDebounce     = 100 * time.Millisecond
)

// NoPin marks an unused optional pin.
const NoPin = -1

// PinConfig is read once when the controller is built.
type PinConfig struct {
	RelayPin        int
	RelayActiveLow  bool
	ButtonPin       int
	SensorPin       int // NoPin when no sensor is fitted
	SensorActiveLow bool
	PulseDuration   time.Duration
	AutoCloseDelay  time.Duration // 0 disables auto-close
}

// HasSensor reports whether a door-position sensor is configured.
func (p PinConfig) HasSensor() bool {
	return p.SensorPin != NoPin
}

// Validate checks pin numbers and timings.
func (p PinConfig) Validate() error {
	if p.RelayPin < 0 {
		return fmt.Errorf("relay pin %d is invalid", p.RelayPin)
	}
	if p.ButtonPin < 0 {
		return fmt.Errorf("button pin %d is invalid", p.ButtonPin)
	}
	if p.RelayPin == p.ButtonPin {
		return fmt.Errorf("relay and button share pin %d", p.RelayPin)
	}
	if p.HasSensor() {
		if p.SensorPin < 0 {
			return fmt.Errorf("sensor pin %d is invalid", p.SensorPin)
		}
		if p.SensorPin == p.RelayPin || p.SensorPin == p.ButtonPin {
			return fmt.Errorf("sensor pin %d is already in use", p.SensorPin)
		}
	}
	if p.PulseDuration <= 0 {
		return fmt.Errorf("pulse duration %v must be positive", p.PulseDuration)
	}
	if p.AutoCloseDelay < 0 {
		return fmt.Errorf("auto-close delay %v must not be negative", p.AutoCloseDelay)
	}
	return nil
}

// ErrInitialization is returned by New when the pins cannot be set up.
var ErrInitialization = errors.New("garage: initialization failed")
