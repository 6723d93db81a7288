// Package status provides a thread-safe status tracker for the gatewise daemon.
// It is read by the HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gatewise/internal/garage"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// Config contains daemon configuration for display.
type Config struct {
	Backend          string
	RelayPin         int
	ButtonPin        int
	SensorPin        int // garage.NoPin when absent
	PulseMs          int64
	AutoCloseSeconds int64
	HeartbeatMs      int64
	Broker           string
	HTTPAddr         string
}

// Counts tallies door activity since startup.
type Counts struct {
	Triggers         int `json:"triggers"`
	RejectedTriggers int `json:"rejected_triggers"`
	StateChanges     int `json:"state_changes"`
}

// DoorView is the read side of the door controller.
type DoorView interface {
	State() garage.State
	LastTrigger() (time.Time, bool)
	AutoClosePending() bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Door             garage.State
	LastTrigger      time.Time // zero if never triggered
	AutoClosePending bool
	DoorFault        string // non-empty when the door could not be initialised
	Counts           Counts
	StartTime        time.Time
	Now              time.Time
	MQTTConnected    bool
	Network          *NetworkInfo
	Config           Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Door:      garage.StateUnknown,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SyncDoor copies the controller's current door fields.
func (t *Tracker) SyncDoor(d DoorView) {
	state := d.State()
	last, _ := d.LastTrigger()
	pending := d.AutoClosePending()

	t.mu.Lock()
	t.snap.Door = state
	t.snap.LastTrigger = last
	t.snap.AutoClosePending = pending
	t.mu.Unlock()
}

// RecordEvent counts a controller event and applies the state it carries.
func (t *Tracker) RecordEvent(ev garage.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case garage.EventTriggered:
		t.snap.Counts.Triggers++
		t.snap.LastTrigger = ev.Time
	case garage.EventStateChanged:
		t.snap.Counts.StateChanges++
	}
	t.snap.Door = ev.State
}

// RecordRejected counts a trigger that was rate limited or failed.
func (t *Tracker) RecordRejected() {
	t.mu.Lock()
	t.snap.Counts.RejectedTriggers++
	t.mu.Unlock()
}

// SetDoorFault marks the door unavailable with the given reason.
func (t *Tracker) SetDoorFault(reason string) {
	t.mu.Lock()
	t.snap.DoorFault = reason
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
