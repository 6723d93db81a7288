package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePollInterval bounds how long a periph listener blocks in WaitForEdge
// before checking whether it has been stopped.
const edgePollInterval = 100 * time.Millisecond

// Periph drives pins through periph.io. Pins are addressed by BCM number
// and looked up as "GPIO<n>".
type Periph struct {
	mu   sync.Mutex
	pins map[int]*periphPin

	watches watchSet
	claims  claimSet
}

type periphPin struct {
	io   pgpio.PinIO
	mode Mode

	// set while a listener goroutine is waiting for edges
	stop chan struct{}
	done chan struct{}
}

// NewPeriph initialises the periph host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrHardware, err)
	}
	return &Periph{pins: make(map[int]*periphPin)}, nil
}

func toPeriphLevel(l Level) pgpio.Level {
	return l == High
}

func toPeriphPull(p Pull) pgpio.Pull {
	switch p {
	case PullUp:
		return pgpio.PullUp
	case PullDown:
		return pgpio.PullDown
	default:
		return pgpio.Float
	}
}

func toPeriphEdge(e Edge) pgpio.Edge {
	switch e {
	case RisingEdge:
		return pgpio.RisingEdge
	case FallingEdge:
		return pgpio.FallingEdge
	default:
		return pgpio.BothEdges
	}
}

// Configure implements Port.
func (p *Periph) Configure(pin int, mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.pins[pin]
	if ok && pp.mode == mode {
		return nil
	}
	if !ok {
		io := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
		if io == nil {
			return hardwareError("lookup", pin, errors.New("no such pin"))
		}
		pp = &periphPin{io: io}
	}

	var err error
	if mode.Direction == Output {
		err = pp.io.Out(toPeriphLevel(mode.Initial))
	} else {
		err = pp.io.In(toPeriphPull(mode.Pull), pgpio.NoEdge)
	}
	if err != nil {
		return hardwareError("configure", pin, err)
	}
	pp.mode = mode
	p.pins[pin] = pp
	return nil
}

// Write implements Port.
func (p *Periph) Write(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[pin]
	if !ok {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotConfigured)
	}
	if pp.mode.Direction != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotOutput)
	}
	if err := pp.io.Out(toPeriphLevel(level)); err != nil {
		return hardwareError("write", pin, err)
	}
	return nil
}

// Read implements Port.
func (p *Periph) Read(pin int) (Level, error) {
	p.mu.Lock()
	pp, ok := p.pins[pin]
	p.mu.Unlock()
	if !ok {
		return Low, fmt.Errorf("read pin %d: %w", pin, ErrNotConfigured)
	}
	if pp.io.Read() == pgpio.High {
		return High, nil
	}
	return Low, nil
}

// Watch implements Port. periph has no callback API, so each watched pin
// gets a goroutine blocked in WaitForEdge.
func (p *Periph) Watch(pin int, edge Edge, debounce time.Duration, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.pins[pin]
	if !ok {
		return fmt.Errorf("watch pin %d: %w", pin, ErrNotConfigured)
	}
	if pp.mode.Direction != Input {
		return fmt.Errorf("watch pin %d: pin is an output", pin)
	}

	w := newWatcher(pin, edge, debounce, h)
	if err := p.watches.add(w); err != nil {
		w.stop()
		return fmt.Errorf("watch pin %d: %w", pin, err)
	}
	if err := pp.io.In(toPeriphPull(pp.mode.Pull), toPeriphEdge(edge)); err != nil {
		p.watches.remove(pin)
		return hardwareError("watch", pin, err)
	}

	pp.stop = make(chan struct{})
	pp.done = make(chan struct{})
	go listenEdges(pp.io, pin, w, pp.stop, pp.done)
	return nil
}

func listenEdges(io pgpio.PinIO, pin int, w *watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !io.WaitForEdge(edgePollInterval) {
			continue
		}
		level := Low
		if io.Read() == pgpio.High {
			level = High
		}
		w.offer(Event{Pin: pin, Edge: edgeFor(level), Level: level, Time: time.Now()})
	}
}

// stopListener ends the edge goroutine for pp and waits for it. Caller holds mu.
func (pp *periphPin) stopListener() {
	if pp.stop == nil {
		return
	}
	close(pp.stop)
	<-pp.done
	pp.stop, pp.done = nil, nil
}

// Claim implements Port.
func (p *Periph) Claim(pins ...int) error {
	return p.claims.claim(pins)
}

// Unwatch implements Port.
func (p *Periph) Unwatch(pin int) error {
	if !p.watches.remove(pin) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[pin]
	if !ok {
		return nil
	}
	pp.stopListener()
	if err := pp.io.In(toPeriphPull(pp.mode.Pull), pgpio.NoEdge); err != nil {
		return hardwareError("unwatch", pin, err)
	}
	return nil
}

// Release implements Port.
func (p *Periph) Release(pins ...int) error {
	p.claims.drop(pins)
	all := len(pins) == 0
	if all {
		p.watches.removeAll()
	} else {
		for _, pin := range pins {
			p.watches.remove(pin)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if all {
		pins = make([]int, 0, len(p.pins))
		for pin := range p.pins {
			pins = append(pins, pin)
		}
	}

	var errs []error
	for _, pin := range pins {
		pp, ok := p.pins[pin]
		if !ok {
			continue
		}
		pp.stopListener()
		if pp.mode.Direction == Input {
			if err := pp.io.In(pgpio.PullNoChange, pgpio.NoEdge); err != nil {
				errs = append(errs, fmt.Errorf("reset pin %d: %w", pin, err))
			}
		}
		if err := pp.io.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt pin %d: %w", pin, err))
		}
		delete(p.pins, pin)
	}
	if len(errs) > 0 {
		return fmt.Errorf("release: %w", errors.Join(errs...))
	}
	return nil
}
