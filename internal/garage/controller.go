package garage

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/gatewise/internal/eventlog"
	"github.com/sweeney/gatewise/internal/gpio"
)

// Options carries the collaborators a Controller needs besides its pins.
type Options struct {
	// StatePath is the JSON state file. Empty disables persistence.
	StatePath string

	// Log receives human-readable door events. Nil disables the event log.
	Log *eventlog.Log

	// OnEvent is called for every trigger and sensor-driven state change.
	// It runs after the controller lock is released, so it may call back
	// into the controller.
	OnEvent func(Event)

	// Now is the clock used for rate limiting and timestamps. Defaults to
	// time.Now.
	Now func() time.Time
}

// Controller owns the relay, button and sensor pins of one door.
// All exported methods are safe for concurrent use.
type Controller struct {
	port      gpio.Port
	pins      PinConfig
	statePath string
	events    *eventlog.Log
	onEvent   func(Event)
	now       func() time.Time

	// mu guards every mutation of the fields below, state included.
	// state is additionally readable without the lock.
	mu           sync.Mutex
	state        atomic.Value // State
	lastTrigger  time.Time
	autoClose    *time.Timer
	autoCloseSeq uint64

	edges       chan gpio.Event
	done        chan struct{}
	wg          sync.WaitGroup
	cleanupOnce sync.Once
	cleanupErr  error
}

// New claims and configures the pins, restores any persisted state and
// starts listening for button and sensor edges. Pins already claimed on the
// port are left untouched; on any other failure this controller's pins are
// released. Errors wrap ErrInitialization.
func New(port gpio.Port, pins PinConfig, opts Options) (*Controller, error) {
	if err := pins.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	c := &Controller{
		port:      port,
		pins:      pins,
		statePath: opts.StatePath,
		events:    opts.Log,
		onEvent:   opts.OnEvent,
		now:       opts.Now,
		edges:     make(chan gpio.Event, 16),
		done:      make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if err := port.Claim(c.pinList()...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	c.state.Store(StateUnknown)
	c.restore()

	c.wg.Add(1)
	go c.dispatch()

	if err := c.setupPins(); err != nil {
		close(c.done)
		c.wg.Wait()
		if rerr := port.Release(c.pinList()...); rerr != nil {
			log.Printf("garage: release after failed init: %v", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	if pins.HasSensor() {
		c.syncSensor()
	}

	log.Printf("garage: controller ready (relay=%d active_low=%v button=%d sensor=%s pulse=%v auto_close=%v state=%s)",
		pins.RelayPin, pins.RelayActiveLow, pins.ButtonPin, sensorDesc(pins), pins.PulseDuration, pins.AutoCloseDelay, c.State())
	return c, nil
}

func sensorDesc(p PinConfig) string {
	if !p.HasSensor() {
		return "none"
	}
	return fmt.Sprintf("%d", p.SensorPin)
}

func (c *Controller) setupPins() error {
	_, inactive := c.relayLevels()
	if err := c.port.Configure(c.pins.RelayPin, gpio.Mode{Direction: gpio.Output, Initial: inactive}); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	input := gpio.Mode{Direction: gpio.Input, Pull: gpio.PullUp}
	if err := c.port.Configure(c.pins.ButtonPin, input); err != nil {
		return fmt.Errorf("button: %w", err)
	}
	if err := c.port.Watch(c.pins.ButtonPin, gpio.FallingEdge, ButtonDebounce, c.enqueue); err != nil {
		return fmt.Errorf("button: %w", err)
	}

	if c.pins.HasSensor() {
		if err := c.port.Configure(c.pins.SensorPin, input); err != nil {
			return fmt.Errorf("sensor: %w", err)
		}
		if err := c.port.Watch(c.pins.SensorPin, gpio.BothEdges, SensorDebounce, c.enqueue); err != nil {
			return fmt.Errorf("sensor: %w", err)
		}
	}
	return nil
}

func (c *Controller) pinList() []int {
	pins := []int{c.pins.RelayPin, c.pins.ButtonPin}
	if c.pins.HasSensor() {
		pins = append(pins, c.pins.SensorPin)
	}
	return pins
}

func (c *Controller) relayLevels() (active, inactive gpio.Level) {
	if c.pins.RelayActiveLow {
		return gpio.Low, gpio.High
	}
	return gpio.High, gpio.Low
}

// enqueue is the watch handler for both input pins. It hands the edge to
// the dispatch goroutine so button and sensor edges are processed in
// arrival order.
func (c *Controller) enqueue(ev gpio.Event) {
	select {
	case c.edges <- ev:
	case <-c.done:
	}
}

func (c *Controller) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.edges:
			switch {
			case ev.Pin == c.pins.ButtonPin:
				log.Printf("garage: physical button pressed")
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					c.Trigger(SourceButton)
				}()
			case c.pins.HasSensor() && ev.Pin == c.pins.SensorPin:
				c.syncSensor()
			}
		}
	}
}

// Trigger pulses the relay on behalf of source. It returns false when the
// request is rate limited or the relay could not be driven.
func (c *Controller) Trigger(source string) bool {
	ev, ok := c.trigger(source)
	if ok {
		c.emit(ev)
	}
	return ok
}

// rateLimited reports whether the last trigger is under MinTriggerInterval
// old. A last trigger in the future means the wall clock stepped back (a Pi
// without RTC before NTP sync) and does not block.
func (c *Controller) rateLimited() bool {
	if c.lastTrigger.IsZero() {
		return false
	}
	elapsed := c.now().Sub(c.lastTrigger)
	return elapsed >= 0 && elapsed < MinTriggerInterval
}

func (c *Controller) trigger(source string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rateLimited() {
		log.Printf("garage: trigger from %s ignored, rate limited", source)
		return Event{}, false
	}

	if err := c.pulse(); err != nil {
		c.record(fmt.Sprintf("Error triggering door (%s): %v", source, err))
		return Event{}, false
	}

	c.lastTrigger = c.now()
	c.record("Door triggered by " + source)

	switch c.State() {
	case StateClosed:
		c.setState(StateOpening)
	case StateOpen:
		c.setState(StateClosing)
	}
	c.persist()

	if c.pins.AutoCloseDelay > 0 && c.State() == StateOpening {
		c.scheduleAutoClose()
	}

	return Event{Type: EventTriggered, Source: source, State: c.State(), Time: c.lastTrigger}, true
}

// pulse drives the relay active for the pulse duration. Caller holds mu.
func (c *Controller) pulse() error {
	active, inactive := c.relayLevels()
	if err := c.port.Write(c.pins.RelayPin, active); err != nil {
		return err
	}
	time.Sleep(c.pins.PulseDuration)
	return c.port.Write(c.pins.RelayPin, inactive)
}

// syncSensor reads the sensor and moves the state to open or closed.
// It never touches the relay or the last trigger time.
func (c *Controller) syncSensor() {
	level, err := c.port.Read(c.pins.SensorPin)
	if err != nil {
		c.record(fmt.Sprintf("Error reading door sensor: %v", err))
		return
	}

	closed := level == gpio.High
	if c.pins.SensorActiveLow {
		closed = level == gpio.Low
	}
	next := StateOpen
	if closed {
		next = StateClosed
	}

	c.mu.Lock()
	prev := c.State()
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.setState(next)
	c.record(fmt.Sprintf("Door state changed: %s -> %s", prev, next))
	c.persist()
	c.mu.Unlock()

	c.emit(Event{Type: EventStateChanged, State: next, Time: c.now()})
}

// State returns the current door state without taking the lock.
func (c *Controller) State() State {
	return c.state.Load().(State)
}

func (c *Controller) setState(s State) {
	c.state.Store(s)
}

// IsOpen reports whether the door is known to be fully open.
func (c *Controller) IsOpen() bool { return c.State() == StateOpen }

// IsClosed reports whether the door is known to be fully closed.
func (c *Controller) IsClosed() bool { return c.State() == StateClosed }

// LastTrigger returns the time of the last successful trigger.
func (c *Controller) LastTrigger() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTrigger, !c.lastTrigger.IsZero()
}

// RecentEvents returns up to n of the newest event log lines.
func (c *Controller) RecentEvents(n int) ([]string, error) {
	if c.events == nil {
		return []string{}, nil
	}
	return c.events.Recent(n)
}

// Cleanup cancels any pending auto-close, stops edge processing and
// releases the pins. Only the first call does anything.
func (c *Controller) Cleanup() error {
	c.cleanupOnce.Do(func() {
		c.CancelAutoClose()
		close(c.done)
		c.wg.Wait()
		c.cleanupErr = c.port.Release(c.pinList()...)
		log.Printf("garage: controller stopped")
	})
	return c.cleanupErr
}

// record logs msg and appends it to the event log. Event log failures are
// logged, never returned.
func (c *Controller) record(msg string) {
	log.Printf("garage: %s", msg)
	if c.events == nil {
		return
	}
	if err := c.events.Append(msg); err != nil {
		log.Printf("garage: event log: %v", err)
	}
}

// persist saves the state file. Caller holds mu.
func (c *Controller) persist() {
	if c.statePath == "" {
		return
	}
	if err := saveState(c.statePath, c.State(), c.lastTrigger, c.now()); err != nil {
		log.Printf("garage: save state: %v", err)
	}
}

func (c *Controller) restore() {
	if c.statePath == "" {
		return
	}
	st, last, err := LoadState(c.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		log.Printf("garage: load state: %v (starting unknown)", err)
		return
	}
	c.setState(st)
	c.lastTrigger = last
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
