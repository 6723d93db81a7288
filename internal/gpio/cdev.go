//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Cdev drives pins through the Linux GPIO character device.
type Cdev struct {
	mu       sync.Mutex
	chipName string
	chip     *gpiocdev.Chip
	lines    map[int]*cdevLine

	watches watchSet
	claims  claimSet
}

type cdevLine struct {
	line *gpiocdev.Line
	mode Mode
}

// NewCdev opens the named chip ("gpiochip0" on a Pi).
func NewCdev(chipName string) (*Cdev, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	c := &Cdev{
		chipName: chipName,
		lines:    make(map[int]*cdevLine),
	}
	if err := c.openChip(); err != nil {
		return nil, err
	}
	return c, nil
}

// openChip opens the chip if a previous Release closed it. Caller holds mu
// (or is the constructor).
func (c *Cdev) openChip() error {
	if c.chip != nil {
		return nil
	}
	chip, err := gpiocdev.NewChip(c.chipName)
	if err != nil {
		return fmt.Errorf("%w: open chip %s: %v", ErrHardware, c.chipName, err)
	}
	c.chip = chip
	return nil
}

func requestOptions(mode Mode) []gpiocdev.LineReqOption {
	if mode.Direction == Output {
		return []gpiocdev.LineReqOption{gpiocdev.AsOutput(int(mode.Initial))}
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	switch mode.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	default:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}
	return opts
}

func reconfigureOptions(mode Mode) []gpiocdev.LineConfigOption {
	if mode.Direction == Output {
		return []gpiocdev.LineConfigOption{gpiocdev.AsOutput(int(mode.Initial))}
	}
	opts := []gpiocdev.LineConfigOption{gpiocdev.AsInput}
	switch mode.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	default:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}
	return opts
}

// Configure implements Port.
func (c *Cdev) Configure(pin int, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.lines[pin]; ok {
		if l.mode == mode {
			return nil
		}
		if err := l.line.Reconfigure(reconfigureOptions(mode)...); err != nil {
			return hardwareError("reconfigure", pin, err)
		}
		l.mode = mode
		return nil
	}

	if err := c.openChip(); err != nil {
		return err
	}
	line, err := c.chip.RequestLine(pin, requestOptions(mode)...)
	if err != nil {
		return hardwareError("request", pin, err)
	}
	c.lines[pin] = &cdevLine{line: line, mode: mode}
	return nil
}

// Write implements Port.
func (c *Cdev) Write(pin int, level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotConfigured)
	}
	if l.mode.Direction != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotOutput)
	}
	if err := l.line.SetValue(int(level)); err != nil {
		return hardwareError("write", pin, err)
	}
	return nil
}

// Read implements Port.
func (c *Cdev) Read(pin int) (Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return Low, fmt.Errorf("read pin %d: %w", pin, ErrNotConfigured)
	}
	v, err := l.line.Value()
	if err != nil {
		return Low, hardwareError("read", pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Claim implements Port.
func (c *Cdev) Claim(pins ...int) error {
	return c.claims.claim(pins)
}

// Watch implements Port. The line is re-requested with edge detection; the
// kernel delivers events on its own goroutine, which only queues them.
func (c *Cdev) Watch(pin int, edge Edge, debounce time.Duration, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lines[pin]
	if !ok {
		return fmt.Errorf("watch pin %d: %w", pin, ErrNotConfigured)
	}
	if l.mode.Direction != Input {
		return fmt.Errorf("watch pin %d: pin is an output", pin)
	}

	w := newWatcher(pin, edge, debounce, h)
	if err := c.watches.add(w); err != nil {
		w.stop()
		return fmt.Errorf("watch pin %d: %w", pin, err)
	}

	opts := requestOptions(l.mode)
	opts = append(opts, edgeOption(edge), gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
		level := Low
		if evt.Type == gpiocdev.LineEventRisingEdge {
			level = High
		}
		w.offer(Event{Pin: pin, Edge: edgeFor(level), Level: level, Time: time.Now()})
	}))

	if err := closeLine(l.line, pin); err != nil {
		log.Printf("gpio: watch: %v", err)
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		c.watches.remove(pin)
		// Put the plain input back so the pin stays readable.
		if plain, perr := c.chip.RequestLine(pin, requestOptions(l.mode)...); perr == nil {
			l.line = plain
		} else {
			delete(c.lines, pin)
		}
		return hardwareError("watch", pin, err)
	}
	l.line = line
	return nil
}

// closeLine closes a line request. The pin is re-requested afterwards, so
// callers on the watch path log the error rather than fail.
func closeLine(line io.Closer, pin int) error {
	if err := line.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", pin, err)
	}
	return nil
}

func edgeOption(edge Edge) gpiocdev.LineReqOption {
	switch edge {
	case RisingEdge:
		return gpiocdev.WithRisingEdge
	case FallingEdge:
		return gpiocdev.WithFallingEdge
	default:
		return gpiocdev.WithBothEdges
	}
}

// Unwatch implements Port.
func (c *Cdev) Unwatch(pin int) error {
	if !c.watches.remove(pin) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil
	}
	if err := closeLine(l.line, pin); err != nil {
		log.Printf("gpio: unwatch: %v", err)
	}
	line, err := c.chip.RequestLine(pin, requestOptions(l.mode)...)
	if err != nil {
		delete(c.lines, pin)
		return hardwareError("unwatch", pin, err)
	}
	l.line = line
	return nil
}

// Release implements Port. Inputs are reconfigured to input with pull-down
// (the Pi boot default) before closing. Outputs are closed as they stand so
// an active-low relay is not energised on the way out. Releasing every pin
// also closes the chip; a later Configure reopens it.
func (c *Cdev) Release(pins ...int) error {
	c.claims.drop(pins)
	all := len(pins) == 0
	if all {
		c.watches.removeAll()
	} else {
		for _, pin := range pins {
			c.watches.remove(pin)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if all {
		pins = make([]int, 0, len(c.lines))
		for pin := range c.lines {
			pins = append(pins, pin)
		}
	}

	var errs []error
	for _, pin := range pins {
		l, ok := c.lines[pin]
		if !ok {
			continue
		}
		if l.mode.Direction == Input {
			if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
			}
		}
		if err := closeLine(l.line, pin); err != nil {
			errs = append(errs, err)
		}
		delete(c.lines, pin)
	}

	if all && c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("release: %w", errors.Join(errs...))
	}
	return nil
}
