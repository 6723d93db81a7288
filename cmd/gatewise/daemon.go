package main

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/sweeney/gatewise/internal/eventlog"
	"github.com/sweeney/gatewise/internal/garage"
	"github.com/sweeney/gatewise/internal/gpio"
	"github.com/sweeney/gatewise/internal/mqtt"
	"github.com/sweeney/gatewise/internal/status"
	"github.com/sweeney/gatewise/internal/web"
)

// daemon routes controller events out to MQTT and the tracker, and remote
// commands in to the controller.
type daemon struct {
	// ctrl is nil until the controller is built; commands can arrive
	// from the broker before that.
	ctrl      atomic.Pointer[garage.Controller]
	publisher mqtt.Publisher
	tracker   *status.Tracker
}

func (d *daemon) onDoorEvent(ev garage.Event) {
	switch ev.Type {
	case garage.EventTriggered:
		log.Printf("event: triggered by %s (door %s)", ev.Source, ev.State)
	default:
		log.Printf("event: %s (door %s)", ev.Type, ev.State)
	}
	d.tracker.RecordEvent(ev)
	if err := d.publisher.PublishDoor(ev); err != nil {
		log.Printf("publish error: %v", err)
	}
}

// openDoor builds the controller. If the pins cannot be set up the failure
// is logged and recorded on the tracker, and the returned door rejects every
// trigger. The controller is nil in that case.
func (d *daemon) openDoor(port gpio.Port, pins garage.PinConfig, opts garage.Options) (web.Door, *garage.Controller) {
	ctrl, err := garage.New(port, pins, opts)
	if err != nil {
		log.Printf("door unavailable: %v", err)
		d.tracker.SetDoorFault(err.Error())
		return offlineDoor{events: opts.Log}, nil
	}
	d.ctrl.Store(ctrl)
	return ctrl, ctrl
}

func (d *daemon) onCommand(cmd mqtt.Command) {
	ctrl := d.ctrl.Load()
	if ctrl == nil {
		log.Printf("command %s ignored, door not ready", cmd.Action)
		if cmd.Action == mqtt.ActionTrigger {
			d.tracker.RecordRejected()
		}
		return
	}
	switch cmd.Action {
	case mqtt.ActionTrigger:
		if !ctrl.Trigger(cmd.TriggerSource()) {
			d.tracker.RecordRejected()
		}
	case mqtt.ActionCancelAutoClose:
		ctrl.CancelAutoClose()
	}
}

// offlineDoor stands in for the controller when the pins could not be set
// up. The status page and event log keep working.
type offlineDoor struct {
	events *eventlog.Log
}

func (offlineDoor) State() garage.State { return garage.StateUnknown }
func (offlineDoor) LastTrigger() (time.Time, bool) { return time.Time{}, false }
func (offlineDoor) AutoClosePending() bool { return false }
func (offlineDoor) CancelAutoClose() {}

func (offlineDoor) Trigger(source string) bool {
	log.Printf("trigger from %s rejected, door unavailable", source)
	return false
}

func (o offlineDoor) RecentEvents(n int) ([]string, error) {
	if o.events == nil {
		return []string{}, nil
	}
	return o.events.Recent(n)
}
