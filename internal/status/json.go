package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/gatewise/internal/garage"
)

// Envelope wraps a Report as {"status": {...}} on the wire.
type Envelope struct {
	Status Report `json:"status"`
}

// Report is the status document served at /index.json and carried by the
// MQTT system events. Event and Reason are set only for system events.
type Report struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Door          DoorReport   `json:"door"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTReport   `json:"mqtt"`
	Counts        Counts       `json:"event_counts"`
	Network       *NetworkInfo `json:"network,omitempty"`
	Config        ConfigReport `json:"config"`
}

// DoorReport is the door section of a Report. Available is false and Fault
// carries the reason when the pins could not be set up.
type DoorReport struct {
	Available        bool    `json:"available"`
	Fault            string  `json:"fault,omitempty"`
	State            string  `json:"state"`
	LastTrigger      *string `json:"last_trigger"`
	AutoClosePending bool    `json:"auto_close_pending"`
}

type MQTTReport struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigReport echoes the running configuration. SensorPin is null when no
// sensor is wired.
type ConfigReport struct {
	Backend          string `json:"gpio_backend"`
	RelayPin         int    `json:"relay_pin"`
	ButtonPin        int    `json:"button_pin"`
	SensorPin        *int   `json:"sensor_pin"`
	PulseMs          int64  `json:"pulse_ms"`
	AutoCloseSeconds int64  `json:"auto_close_seconds"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
}

func utc(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NewReport builds the wire form of a snapshot.
func NewReport(snap Snapshot) Report {
	r := Report{
		Door: DoorReport{
			Available:        snap.DoorFault == "",
			Fault:            snap.DoorFault,
			State:            string(garage.StateUnknown),
			AutoClosePending: snap.AutoClosePending,
		},
		UptimeSeconds: int64(snap.Uptime() / time.Second),
		StartTime:     utc(snap.StartTime),
		Timestamp:     utc(snap.Now),
		MQTT:          MQTTReport{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        snap.Counts,
		Network:       snap.Network,
		Config: ConfigReport{
			Backend:          snap.Config.Backend,
			RelayPin:         snap.Config.RelayPin,
			ButtonPin:        snap.Config.ButtonPin,
			PulseMs:          snap.Config.PulseMs,
			AutoCloseSeconds: snap.Config.AutoCloseSeconds,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}
	if snap.Door != "" {
		r.Door.State = string(snap.Door)
	}
	if !snap.LastTrigger.IsZero() {
		s := utc(snap.LastTrigger)
		r.Door.LastTrigger = &s
	}
	if pin := snap.Config.SensorPin; pin >= 0 {
		r.Config.SensorPin = &pin
	}
	return r
}

// FormatJSON returns the indented status document for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Envelope{Status: NewReport(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact status document for an MQTT system
// event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	r := NewReport(snap)
	r.Event, r.Reason = event, reason
	data, _ := json.Marshal(Envelope{Status: r})
	return data
}
