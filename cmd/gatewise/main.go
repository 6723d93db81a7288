// Command gatewise drives a garage door opener relay from a push button,
// the web and MQTT, and reports door state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/gatewise/internal/config"
	"github.com/sweeney/gatewise/internal/eventlog"
	"github.com/sweeney/gatewise/internal/garage"
	"github.com/sweeney/gatewise/internal/gpio"
	"github.com/sweeney/gatewise/internal/mqtt"
	"github.com/sweeney/gatewise/internal/status"
	"github.com/sweeney/gatewise/internal/web"
)

const (
	refreshInterval  = 5 * time.Second
	printEventsCount = 10
)

func main() {
	configPath := flag.String("config", "", "YAML config file (environment variables override it)")
	printState := flag.Bool("print-state", false, "Print persisted door state and recent events, then exit")

	flag.Parse()

	if err := run(*configPath, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, printOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if printOnly {
		return printState(os.Stdout, cfg)
	}

	port, err := gpio.Open(cfg.Backend(), cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer port.Release()

	// Tracker first so the STARTUP snapshot is available.
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := &daemon{tracker: tracker, publisher: mqtt.NopPublisher{}}
	var mqttStatus mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.TopicPrefix,
			// Commands run off the paho router goroutine; a trigger
			// blocks for the relay pulse and then publishes.
			OnCommand: func(cmd mqtt.Command) { go d.onCommand(cmd) },
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		d.publisher = pub
		mqttStatus = pub
	} else {
		log.Printf("mqtt disabled (no broker configured)")
	}
	defer d.publisher.Close()

	// A door that fails to initialise leaves the daemon running with the
	// door marked unavailable.
	door, ctrl := d.openDoor(port, cfg.Pins(), garage.Options{
		StatePath: cfg.Garage.StateFile,
		Log:       eventlog.New(cfg.Garage.EventLog),
		OnEvent:   d.onDoorEvent,
	})
	if ctrl != nil {
		defer ctrl.Cleanup()
	}
	tracker.SyncDoor(door)

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := d.publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, door)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: backend=%s door=%s broker=%q heartbeat=%v", cfg.Backend(), door.State(), cfg.MQTT.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(door, d.publisher, mqttStatus, tracker, time.Now, ticker.C, heartbeat, sigCh)
}

// runLoop keeps the tracker fresh, publishes heartbeats and returns on
// SIGINT or SIGTERM after publishing SHUTDOWN.
func runLoop(door status.DoorView, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	refresh := func() {
		tracker.SyncDoor(door)
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			refresh()
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-heartbeat:
			refresh()
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			snap := tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v door=%s triggers=%d rejected=%d state_changes=%d",
				snap.Uptime().Truncate(time.Second), snap.Door, snap.Counts.Triggers, snap.Counts.RejectedTriggers, snap.Counts.StateChanges)

			hbEvent := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}

		case <-tick:
			refresh()
		}
	}
}

func statusConfig(cfg config.Config) status.Config {
	pins := cfg.Pins()
	return status.Config{
		Backend:          string(cfg.Backend()),
		RelayPin:         pins.RelayPin,
		ButtonPin:        pins.ButtonPin,
		SensorPin:        pins.SensorPin,
		PulseMs:          pins.PulseDuration.Milliseconds(),
		AutoCloseSeconds: int64(cfg.Garage.AutoCloseSeconds),
		HeartbeatMs:      cfg.Heartbeat.Milliseconds(),
		Broker:           cfg.MQTT.Broker,
		HTTPAddr:         cfg.HTTPAddr,
	}
}

// printState reports the persisted door state without touching the pins.
func printState(w io.Writer, cfg config.Config) error {
	state, last, err := garage.LoadState(cfg.Garage.StateFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		state = garage.StateUnknown
	case err != nil:
		fmt.Fprintf(w, "State file unreadable: %v\n", err)
		state = garage.StateUnknown
	}

	fmt.Fprintf(w, "Door: %s\n", state)
	if last.IsZero() {
		fmt.Fprintln(w, "Last trigger: never")
	} else {
		fmt.Fprintf(w, "Last trigger: %s\n", last.UTC().Format(time.RFC3339))
	}

	events, err := eventlog.New(cfg.Garage.EventLog).Recent(printEventsCount)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	fmt.Fprintln(w, "Recent events:")
	for _, e := range events {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
