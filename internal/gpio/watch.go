package gpio

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// watchQueueLen bounds the raw edges buffered per pin. Edges arriving while
// the queue is full are dropped; at that rate they are bounce anyway.
const watchQueueLen = 16

// watcher owns the listener goroutine for one watched pin. Backends feed raw
// edges in through offer; the goroutine applies the debounce window and
// calls the handler, so a slow handler never stalls the backend.
type watcher struct {
	pin      int
	edge     Edge
	debounce time.Duration
	handler  Handler

	raw      chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func newWatcher(pin int, edge Edge, debounce time.Duration, h Handler) *watcher {
	w := &watcher{
		pin:      pin,
		edge:     edge,
		debounce: debounce,
		handler:  h,
		raw:      make(chan Event, watchQueueLen),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// offer queues a raw edge. It never blocks.
func (w *watcher) offer(ev Event) {
	if !w.edge.matches(ev.Edge) {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.raw <- ev:
	default:
		log.Printf("gpio: pin %d queue full, dropping %s edge", w.pin, ev.Edge)
	}
}

func (w *watcher) run() {
	var last time.Time
	delivered := false
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.raw:
			if delivered && ev.Time.Sub(last) < w.debounce {
				continue
			}
			delivered = true
			last = ev.Time
			w.handler(ev)
		}
	}
}

// stop ends the listener. A handler call already in progress completes.
func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// watchSet is the per-port registry of watchers, keyed by pin.
type watchSet struct {
	mu sync.Mutex
	m  map[int]*watcher
}

func (s *watchSet) add(w *watcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[int]*watcher)
	}
	if _, ok := s.m[w.pin]; ok {
		return ErrPinBusy
	}
	s.m[w.pin] = w
	return nil
}

func (s *watchSet) lookup(pin int) *watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[pin]
}

// remove stops and forgets the watcher for pin, returning false if there was none.
func (s *watchSet) remove(pin int) bool {
	s.mu.Lock()
	w, ok := s.m[pin]
	delete(s.m, pin)
	s.mu.Unlock()
	if ok {
		w.stop()
	}
	return ok
}

func (s *watchSet) removeAll() {
	s.mu.Lock()
	ws := s.m
	s.m = nil
	s.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
}

// claimSet records which pins have an owner on a port.
type claimSet struct {
	mu sync.Mutex
	m  map[int]bool
}

func (s *claimSet) claim(pins []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pin := range pins {
		if s.m[pin] {
			return fmt.Errorf("claim pin %d: %w", pin, ErrPinBusy)
		}
	}
	if s.m == nil {
		s.m = make(map[int]bool)
	}
	for _, pin := range pins {
		s.m[pin] = true
	}
	return nil
}

// drop forgets the claims on pins, or on every pin when none are given.
func (s *claimSet) drop(pins []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(pins) == 0 {
		s.m = nil
		return
	}
	for _, pin := range pins {
		delete(s.m, pin)
	}
}

func (s *claimSet) claimed(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[pin]
}

// edgeFor maps the level after a transition to the edge that produced it.
func edgeFor(level Level) Edge {
	if level == High {
		return RisingEdge
	}
	return FallingEdge
}
