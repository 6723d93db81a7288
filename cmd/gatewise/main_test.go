package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/gatewise/internal/config"
	"github.com/sweeney/gatewise/internal/eventlog"
	"github.com/sweeney/gatewise/internal/garage"
	"github.com/sweeney/gatewise/internal/gpio"
	"github.com/sweeney/gatewise/internal/mqtt"
	"github.com/sweeney/gatewise/internal/status"
	"github.com/sweeney/gatewise/internal/web"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "ethernet")
	t.Setenv(envNetworkIP, "")
	t.Setenv(envNetworkGateway, "")
	t.Setenv(envNetworkWifiStatus, "")
	t.Setenv(envNetworkWifiSSID, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when status is set")
	}
	if info.Type != "ethernet" || info.Status != "connected" {
		t.Errorf("got %+v", info)
	}
	if info.SSID != "" {
		t.Errorf("SSID: got %q, want empty", info.SSID)
	}
}

func fakeClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

// stubDoor is a fixed DoorView.
type stubDoor struct {
	state   garage.State
	last    time.Time
	pending bool
}

func (d *stubDoor) State() garage.State { return d.state }
func (d *stubDoor) LastTrigger() (time.Time, bool) {
	return d.last, !d.last.IsZero()
}
func (d *stubDoor) AutoClosePending() bool { return d.pending }

// runRunLoop feeds nTicks ticks and nBeats heartbeats, then delivers sig
// and waits for runLoop to return.
func runRunLoop(t *testing.T, door status.DoorView, pub *mqtt.FakePublisher, tracker *status.Tracker, nTicks, nBeats int, sig os.Signal) error {
	t.Helper()

	start := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	tick := make(chan time.Time)
	heartbeat := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	done := make(chan error, 1)

	go func() {
		done <- runLoop(door, pub, pub, tracker, fakeClock(start, time.Second), tick, heartbeat, sigCh)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- start
	}
	for i := 0; i < nBeats; i++ {
		heartbeat <- start
	}
	sigCh <- sig

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

func newTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC), status.Config{
		Backend:   "sim",
		RelayPin:  17,
		ButtonPin: 27,
		SensorPin: garage.NoPin,
		Broker:    "tcp://broker:1883",
	})
}

func decodeStatus(t *testing.T, payload []byte) status.Report {
	t.Helper()
	var env status.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("invalid status payload %s: %v", payload, err)
	}
	return env.Status
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	door := &stubDoor{state: garage.StateClosed}

	if err := runRunLoop(t, door, pub, newTracker(), 0, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	events := pub.SystemEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGINT" || !ev.Retained {
		t.Errorf("got %+v, want retained SHUTDOWN/SIGINT", ev)
	}
	st := decodeStatus(t, pub.SystemPayloads()[0])
	if st.Event != "SHUTDOWN" || st.Reason != "SIGINT" {
		t.Errorf("payload event/reason = %s/%s", st.Event, st.Reason)
	}
	if st.Door.State != "closed" {
		t.Errorf("payload door = %s, want closed", st.Door.State)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	if err := runRunLoop(t, &stubDoor{state: garage.StateOpen}, pub, newTracker(), 0, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	events := pub.SystemEvents()
	if len(events) != 1 || events[0].Reason != "SIGTERM" {
		t.Fatalf("got %+v, want one SHUTDOWN with SIGTERM", events)
	}
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker gone")
	if err := runRunLoop(t, &stubDoor{}, pub, newTracker(), 0, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("publish failure should not fail shutdown: %v", err)
	}
}

func TestRunLoopTickRefreshesTracker(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := newTracker()
	last := time.Date(2026, 1, 30, 11, 0, 0, 0, time.UTC)
	door := &stubDoor{state: garage.StateOpening, last: last, pending: true}

	if err := runRunLoop(t, door, pub, tracker, 2, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	snap := tracker.Snapshot()
	if snap.Door != garage.StateOpening {
		t.Errorf("door = %s, want opening", snap.Door)
	}
	if !snap.LastTrigger.Equal(last) {
		t.Errorf("last trigger = %v, want %v", snap.LastTrigger, last)
	}
	if !snap.AutoClosePending {
		t.Error("auto-close should be pending")
	}
	if !snap.MQTTConnected {
		t.Error("mqtt should be connected")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	if err := runRunLoop(t, &stubDoor{state: garage.StateClosed}, pub, newTracker(), 0, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	events := pub.SystemEvents()
	if len(events) != 3 {
		t.Fatalf("expected 2 heartbeats and a shutdown, got %d", len(events))
	}
	for i, ev := range events[:2] {
		if ev.Event != "HEARTBEAT" {
			t.Errorf("event %d = %s, want HEARTBEAT", i, ev.Event)
		}
		if ev.Retained {
			t.Errorf("heartbeat %d should not be retained", i)
		}
		st := decodeStatus(t, pub.SystemPayloads()[i])
		if st.Event != "HEARTBEAT" || st.Reason != "" {
			t.Errorf("heartbeat payload event/reason = %q/%q", st.Event, st.Reason)
		}
	}
	if events[2].Event != "SHUTDOWN" {
		t.Errorf("last event = %s, want SHUTDOWN", events[2].Event)
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "10.0.0.5")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "10.0.0.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Garage")

	pub := mqtt.NewFakePublisher()
	if err := runRunLoop(t, &stubDoor{}, pub, newTracker(), 0, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	st := decodeStatus(t, pub.SystemPayloads()[0])
	if st.Network == nil {
		t.Fatal("heartbeat payload missing network")
	}
	if st.Network.IP != "10.0.0.5" || st.Network.SSID != "Garage" {
		t.Errorf("network = %+v", st.Network)
	}
}

func TestRunLoopHeartbeatPublishErrorContinues(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("offline")
	// The loop must still reach the signal after a failed heartbeat.
	if err := runRunLoop(t, &stubDoor{}, pub, newTracker(), 1, 2, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop: %v", err)
	}
}

// newTestDaemon wires a controller on a simulator. initial, when not
// empty, seeds the persisted door state.
func newTestDaemon(t *testing.T, initial garage.State) (*daemon, *mqtt.FakePublisher, *gpio.Sim) {
	t.Helper()
	pub := mqtt.NewFakePublisher()
	d := &daemon{publisher: pub, tracker: newTracker()}

	statePath := filepath.Join(t.TempDir(), "state.json")
	if initial != "" {
		body := `{"state":"` + string(initial) + `","last_trigger_time":null,"timestamp":""}`
		if err := os.WriteFile(statePath, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	sim := gpio.NewSim()
	ctrl, err := garage.New(sim, garage.PinConfig{
		RelayPin:       17,
		RelayActiveLow: true,
		ButtonPin:      27,
		SensorPin:      garage.NoPin,
		PulseDuration:  time.Millisecond,
		AutoCloseDelay: time.Hour,
	}, garage.Options{StatePath: statePath, OnEvent: d.onDoorEvent})
	if err != nil {
		t.Fatalf("garage.New: %v", err)
	}
	t.Cleanup(func() { ctrl.Cleanup() })
	d.ctrl.Store(ctrl)
	return d, pub, sim
}

func TestDaemonCommandTrigger(t *testing.T) {
	d, pub, sim := newTestDaemon(t, "")

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger, Source: "phone"})

	events := pub.DoorEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 door event, got %d", len(events))
	}
	if events[0].Type != garage.EventTriggered || events[0].Source != "mqtt:phone" {
		t.Errorf("got %+v, want triggered by mqtt:phone", events[0])
	}
	if n := len(sim.Writes(17)); n != 2 {
		t.Errorf("relay writes = %d, want 2 (pulse on and off)", n)
	}
	if got := d.tracker.Snapshot().Counts.Triggers; got != 1 {
		t.Errorf("triggers = %d, want 1", got)
	}
}

func TestDaemonCommandRateLimited(t *testing.T) {
	d, pub, _ := newTestDaemon(t, "")

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})
	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})

	if n := len(pub.DoorEvents()); n != 1 {
		t.Errorf("door events = %d, want 1", n)
	}
	if got := d.tracker.Snapshot().Counts.RejectedTriggers; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestDaemonCommandCancelAutoClose(t *testing.T) {
	d, _, _ := newTestDaemon(t, garage.StateClosed)
	ctrl := d.ctrl.Load()

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})
	if ctrl.State() != garage.StateOpening {
		t.Fatalf("state = %s, want opening", ctrl.State())
	}
	if !ctrl.AutoClosePending() {
		t.Fatal("auto-close should be pending after opening")
	}

	d.onCommand(mqtt.Command{Action: mqtt.ActionCancelAutoClose})
	if ctrl.AutoClosePending() {
		t.Error("auto-close still pending after cancel")
	}
}

func TestDaemonCommandBeforeReady(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	d := &daemon{publisher: pub, tracker: newTracker()}

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})

	if n := len(pub.DoorEvents()); n != 0 {
		t.Errorf("door events = %d, want 0", n)
	}
	if got := d.tracker.Snapshot().Counts.RejectedTriggers; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestOpenDoorInitFailureRunsDegraded(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	d := &daemon{publisher: pub, tracker: tracker}

	sim := gpio.NewSim()
	sim.FailConfigure(17, errors.New("relay line busy"))
	logPath := filepath.Join(t.TempDir(), "events.log")
	eventlog.New(logPath).Append("Door triggered by web")

	door, ctrl := d.openDoor(sim, garage.PinConfig{
		RelayPin:      17,
		ButtonPin:     27,
		SensorPin:     garage.NoPin,
		PulseDuration: time.Millisecond,
	}, garage.Options{Log: eventlog.New(logPath), OnEvent: d.onDoorEvent})
	if ctrl != nil {
		t.Fatal("expected no controller")
	}
	if d.ctrl.Load() != nil {
		t.Error("daemon should hold no controller")
	}
	if door.State() != garage.StateUnknown {
		t.Errorf("state = %s, want unknown", door.State())
	}
	if sim.Claimed(17) || sim.Claimed(27) {
		t.Error("pins should be released")
	}

	fault := tracker.Snapshot().DoorFault
	if !strings.Contains(fault, "relay line busy") {
		t.Errorf("fault = %q, want the configure error", fault)
	}
	var env status.Envelope
	if err := json.Unmarshal(status.FormatJSON(tracker.Snapshot()), &env); err != nil {
		t.Fatalf("status JSON: %v", err)
	}
	if env.Status.Door.Available {
		t.Error("status should report the door unavailable")
	}

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})
	if got := tracker.Snapshot().Counts.RejectedTriggers; got != 1 {
		t.Errorf("rejected after mqtt trigger = %d, want 1", got)
	}

	ts := httptest.NewServer(web.New(":0", tracker, door).Handler())
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/trigger", "", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("POST /trigger status = %d, want 503", resp.StatusCode)
	}
	if got := tracker.Snapshot().Counts.RejectedTriggers; got != 2 {
		t.Errorf("rejected after web trigger = %d, want 2", got)
	}
	if n := len(sim.Writes(17)); n != 0 {
		t.Errorf("relay writes = %d, want 0", n)
	}
	if n := len(pub.DoorEvents()); n != 0 {
		t.Errorf("door events = %d, want 0", n)
	}

	events, err := door.RecentEvents(5)
	if err != nil || len(events) != 1 {
		t.Errorf("RecentEvents = %v, %v; want the one logged line", events, err)
	}
	if door.Trigger("button") {
		t.Error("offline door accepted a trigger")
	}
}

func TestDaemonPublishErrorStillTracks(t *testing.T) {
	d, pub, _ := newTestDaemon(t, "")
	pub.SetPublishError(errors.New("offline"))

	d.onCommand(mqtt.Command{Action: mqtt.ActionTrigger})

	if got := d.tracker.Snapshot().Counts.Triggers; got != 1 {
		t.Errorf("triggers = %d, want 1", got)
	}
}

func TestPrintState(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Garage.StateFile = filepath.Join(dir, "state.json")
	cfg.Garage.EventLog = filepath.Join(dir, "events.log")

	state := `{"state":"open","last_trigger_time":1769774400.5,"timestamp":"2026-01-30T12:00:00.5Z"}`
	if err := os.WriteFile(cfg.Garage.StateFile, []byte(state), 0644); err != nil {
		t.Fatal(err)
	}
	el := eventlog.NewWithClock(cfg.Garage.EventLog, func() time.Time {
		return time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	})
	el.Append("Door triggered by web")

	var buf bytes.Buffer
	if err := printState(&buf, cfg); err != nil {
		t.Fatalf("printState: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Door: open", "Last trigger: 2026-01-30T12:00:00Z", "Recent events:", "Door triggered by web"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStateMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Garage.StateFile = filepath.Join(dir, "state.json")
	cfg.Garage.EventLog = filepath.Join(dir, "events.log")

	var buf bytes.Buffer
	if err := printState(&buf, cfg); err != nil {
		t.Fatalf("printState: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Door: unknown", "Last trigger: never", "No events."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Garage.AutoCloseSeconds = 300
	cfg.MQTT.Broker = "tcp://broker:1883"

	sc := statusConfig(cfg)
	if sc.RelayPin != gpio.DefaultRelayPin || sc.ButtonPin != gpio.DefaultButtonPin {
		t.Errorf("pins = %d/%d", sc.RelayPin, sc.ButtonPin)
	}
	if sc.SensorPin != garage.NoPin {
		t.Errorf("sensor pin = %d, want NoPin", sc.SensorPin)
	}
	if sc.PulseMs != 500 || sc.AutoCloseSeconds != 300 {
		t.Errorf("pulse/auto-close = %d/%d", sc.PulseMs, sc.AutoCloseSeconds)
	}
	if sc.Broker != "tcp://broker:1883" {
		t.Errorf("broker = %q", sc.Broker)
	}
}
