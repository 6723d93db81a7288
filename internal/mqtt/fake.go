package mqtt

import (
	"sync"

	"github.com/sweeney/gatewise/internal/garage"
)

// FakePublisher records published events for test assertions. Door events
// arrive from controller goroutines, so the recorded slices are read
// through the accessor methods.
type FakePublisher struct {
	mu sync.Mutex

	doorEvents     []garage.Event
	doorPayloads   [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	// PublishError, if set, is returned by PublishDoor. Use SetPublishError
	// once controller goroutines may be publishing.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	// OnCommand receives commands passed to Deliver.
	OnCommand func(Command)

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// SetPublishError sets PublishError under the lock.
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// SetPublishSystemError sets PublishSystemError under the lock.
func (f *FakePublisher) SetPublishSystemError(err error) {
	f.mu.Lock()
	f.PublishSystemError = err
	f.mu.Unlock()
}

// SetConnected sets Connected under the lock.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	f.Connected = connected
	f.mu.Unlock()
}

// PublishDoor records the door event.
func (f *FakePublisher) PublishDoor(event garage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatDoorPayload(event)
	if err != nil {
		return err
	}
	f.doorEvents = append(f.doorEvents, event)
	f.doorPayloads = append(f.doorPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Deliver simulates a message arriving on the command topic.
func (f *FakePublisher) Deliver(payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	if f.OnCommand != nil {
		f.OnCommand(cmd)
	}
	return nil
}

// DoorEvents returns the recorded door events.
func (f *FakePublisher) DoorEvents() []garage.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]garage.Event(nil), f.doorEvents...)
}

// DoorPayloads returns the recorded door payloads.
func (f *FakePublisher) DoorPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.doorPayloads...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doorEvents = nil
	f.doorPayloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Closed = false
	f.Connected = false
}
