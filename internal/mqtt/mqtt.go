// Package mqtt bridges the door controller to an MQTT broker: door events
// and state out, system lifecycle events out, remote commands in.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/gatewise/internal/garage"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "home/garage"

// Topics holds the fully qualified topic names for one door.
type Topics struct {
	Events  string // door events, not retained
	State   string // current door state, retained
	Command string // inbound commands
	System  string // lifecycle events and LWT
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:  prefix + "/door/events",
		State:   prefix + "/door/state",
		Command: prefix + "/door/command",
		System:  prefix + "/system",
	}
}

// Publisher publishes door and system events.
type Publisher interface {
	// PublishDoor sends a controller event and the resulting door state.
	// Errors are reported but must not stop the daemon.
	PublishDoor(event garage.Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, OFFLINE).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // SIGINT or SIGTERM, shutdown only
	RawPayload []byte // pre-formatted payload; returned as-is by FormatSystemPayload
	Retained   bool
}

// DoorPayload is the JSON envelope published for door events.
type DoorPayload struct {
	Door DoorPayloadInner `json:"door"`
}

// DoorPayloadInner carries one door event.
type DoorPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Source    string `json:"source,omitempty"`
	State     string `json:"state"`
}

// FormatDoorPayload creates the JSON payload for a door event.
func FormatDoorPayload(event garage.Event) ([]byte, error) {
	return json.Marshal(DoorPayload{
		Door: DoorPayloadInner{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Source:    event.Source,
			State:     string(event.State),
		},
	})
}

// SystemPayload is the minimal system event envelope, used for the LWT.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// Action is a remote command verb.
type Action string

const (
	ActionTrigger         Action = "trigger"
	ActionCancelAutoClose Action = "cancel_auto_close"
)

// Command is a parsed message from the command topic.
type Command struct {
	Action Action `json:"action"`
	Source string `json:"source,omitempty"`
}

// ParseCommand accepts either a bare action ("trigger") or a JSON object
// ({"action":"trigger","source":"phone"}).
func ParseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	var cmd Command
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &cmd); err != nil {
			return Command{}, fmt.Errorf("parse command: %w", err)
		}
	} else {
		cmd.Action = Action(s)
	}
	cmd.Action = Action(strings.ToLower(strings.TrimSpace(string(cmd.Action))))

	switch cmd.Action {
	case ActionTrigger, ActionCancelAutoClose:
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", s)
	}
}

// TriggerSource is the source name passed to the controller.
func (c Command) TriggerSource() string {
	if c.Source == "" {
		return "mqtt"
	}
	return "mqtt:" + c.Source
}
