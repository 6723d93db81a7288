package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory Port. Outputs loop back on Read, inputs rest at the
// level their pull resistor implies, and Drive injects input changes the
// way a switch or sensor would.
type Sim struct {
	mu   sync.Mutex
	pins map[int]*simPin

	configureErr map[int]error
	writeErr     error
	readErr      error

	watches watchSet
	claims  claimSet
}

type simPin struct {
	mode   Mode
	level  Level
	writes []Level
}

// NewSim creates an empty simulator.
func NewSim() *Sim {
	return &Sim{
		pins:         make(map[int]*simPin),
		configureErr: make(map[int]error),
	}
}

// FailConfigure makes Configure on pin fail with err (nil clears it).
func (s *Sim) FailConfigure(pin int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.configureErr, pin)
		return
	}
	s.configureErr[pin] = err
}

// FailWrites makes every Write fail with err (nil clears it).
func (s *Sim) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// FailReads makes every Read fail with err (nil clears it).
func (s *Sim) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// Claim implements Port.
func (s *Sim) Claim(pins ...int) error {
	return s.claims.claim(pins)
}

// Configure implements Port.
func (s *Sim) Configure(pin int, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configureErr[pin]; err != nil {
		return hardwareError("configure", pin, err)
	}
	if p, ok := s.pins[pin]; ok && p.mode == mode {
		return nil
	}
	p := &simPin{mode: mode}
	switch {
	case mode.Direction == Output:
		p.level = mode.Initial
	case mode.Pull == PullUp:
		p.level = High
	default:
		p.level = Low
	}
	if old, ok := s.pins[pin]; ok {
		p.writes = old.writes
	}
	s.pins[pin] = p
	return nil
}

// Write implements Port.
func (s *Sim) Write(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return hardwareError("write", pin, s.writeErr)
	}
	p, ok := s.pins[pin]
	if !ok {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotConfigured)
	}
	if p.mode.Direction != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotOutput)
	}
	p.level = level
	p.writes = append(p.writes, level)
	return nil
}

// Read implements Port.
func (s *Sim) Read(pin int) (Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return Low, hardwareError("read", pin, s.readErr)
	}
	p, ok := s.pins[pin]
	if !ok {
		return Low, fmt.Errorf("read pin %d: %w", pin, ErrNotConfigured)
	}
	return p.level, nil
}

// Watch implements Port.
func (s *Sim) Watch(pin int, edge Edge, debounce time.Duration, h Handler) error {
	s.mu.Lock()
	_, ok := s.pins[pin]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("watch pin %d: %w", pin, ErrNotConfigured)
	}
	w := newWatcher(pin, edge, debounce, h)
	if err := s.watches.add(w); err != nil {
		w.stop()
		return fmt.Errorf("watch pin %d: %w", pin, err)
	}
	return nil
}

// Unwatch implements Port.
func (s *Sim) Unwatch(pin int) error {
	s.watches.remove(pin)
	return nil
}

// Release implements Port.
func (s *Sim) Release(pins ...int) error {
	s.claims.drop(pins)
	if len(pins) == 0 {
		s.watches.removeAll()
		s.mu.Lock()
		s.pins = make(map[int]*simPin)
		s.mu.Unlock()
		return nil
	}
	for _, pin := range pins {
		s.watches.remove(pin)
		s.mu.Lock()
		delete(s.pins, pin)
		s.mu.Unlock()
	}
	return nil
}

// Drive sets the level seen on an input pin and emits the matching edge to
// its watcher. Driving the current level is a no-op.
func (s *Sim) Drive(pin int, level Level) error {
	s.mu.Lock()
	p, ok := s.pins[pin]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("drive pin %d: %w", pin, ErrNotConfigured)
	}
	if p.mode.Direction != Input {
		s.mu.Unlock()
		return fmt.Errorf("drive pin %d: pin is an output", pin)
	}
	if p.level == level {
		s.mu.Unlock()
		return nil
	}
	p.level = level
	s.mu.Unlock()

	if w := s.watches.lookup(pin); w != nil {
		w.offer(Event{Pin: pin, Edge: edgeFor(level), Level: level, Time: time.Now()})
	}
	return nil
}

// Press simulates a momentary pull-up button: low, then back to high.
func (s *Sim) Press(pin int) error {
	if err := s.Drive(pin, Low); err != nil {
		return err
	}
	return s.Drive(pin, High)
}

// Writes returns the levels written to pin, oldest first.
func (s *Sim) Writes(pin int) []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return nil
	}
	out := make([]Level, len(p.writes))
	copy(out, p.writes)
	return out
}

// ModeOf returns the mode pin was configured with.
func (s *Sim) ModeOf(pin int) (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return Mode{}, false
	}
	return p.mode, true
}

// Claimed reports whether pin is held by an owner.
func (s *Sim) Claimed(pin int) bool {
	return s.claims.claimed(pin)
}

// Watched reports whether pin has a registered watch.
func (s *Sim) Watched(pin int) bool {
	return s.watches.lookup(pin) != nil
}
