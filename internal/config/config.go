// Package config loads daemon settings from built-in defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/sweeney/gatewise/internal/garage"
	"github.com/sweeney/gatewise/internal/gpio"
)

// MaxPulse bounds the relay pulse; the controller lock is held for its length.
const MaxPulse = 2 * time.Second

// Config is the full daemon configuration.
type Config struct {
	Garage GarageConfig `yaml:"garage"`
	GPIO   GPIOConfig   `yaml:"gpio"`
	MQTT   MQTTConfig   `yaml:"mqtt"`

	HTTPAddr  string        `yaml:"http_addr" env:"HTTP_ADDR"`
	Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
}

// GarageConfig holds the door pins and timings.
type GarageConfig struct {
	RelayPin         int    `yaml:"relay_pin" env:"GARAGE_RELAY_PIN"`
	RelayActiveLow   bool   `yaml:"relay_active_low" env:"GARAGE_RELAY_ACTIVE_LOW"`
	RelayPulseMS     int    `yaml:"relay_pulse_ms" env:"GARAGE_RELAY_PULSE_MS"`
	ButtonPin        int    `yaml:"button_pin" env:"GARAGE_BUTTON_PIN"`
	SensorPin        *int   `yaml:"sensor_pin" env:"GARAGE_SENSOR_PIN"`
	SensorActiveLow  bool   `yaml:"sensor_active_low" env:"GARAGE_SENSOR_ACTIVE_LOW"`
	AutoCloseSeconds int    `yaml:"auto_close_seconds" env:"GARAGE_AUTO_CLOSE_SECONDS"`
	StateFile        string `yaml:"state_file" env:"GARAGE_STATE_FILE"`
	EventLog         string `yaml:"event_log" env:"GARAGE_EVENT_LOG"`
}

// GPIOConfig selects the pin backend.
type GPIOConfig struct {
	Backend string `yaml:"backend" env:"GPIO_BACKEND"`
	Chip    string `yaml:"chip" env:"GPIO_CHIP"`
}

// MQTTConfig holds broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Garage: GarageConfig{
			RelayPin:        gpio.DefaultRelayPin,
			RelayActiveLow:  true,
			RelayPulseMS:    500,
			ButtonPin:       gpio.DefaultButtonPin,
			SensorActiveLow: true,
			StateFile:       "garage_state.json",
			EventLog:        "garage_events.log",
		},
		GPIO: GPIOConfig{
			Backend: string(gpio.BackendAuto),
			Chip:    gpio.DefaultChip,
		},
		MQTT: MQTTConfig{
			ClientID:    "gatewise",
			TopicPrefix: "home/garage",
		},
		HTTPAddr:  ":8080",
		Heartbeat: 15 * time.Minute,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Fields without a matching variable keep their current value.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	g := c.Garage

	if g.RelayPin < 0 {
		errs = append(errs, fmt.Errorf("relay pin %d is negative", g.RelayPin))
	}
	if g.ButtonPin < 0 {
		errs = append(errs, fmt.Errorf("button pin %d is negative", g.ButtonPin))
	}
	if g.RelayPin == g.ButtonPin {
		errs = append(errs, fmt.Errorf("relay and button both use pin %d", g.RelayPin))
	}
	if g.SensorPin != nil {
		switch s := *g.SensorPin; {
		case s < 0:
			errs = append(errs, fmt.Errorf("sensor pin %d is negative", s))
		case s == g.RelayPin || s == g.ButtonPin:
			errs = append(errs, fmt.Errorf("sensor pin %d is already in use", s))
		}
	}
	if g.RelayPulseMS <= 0 || time.Duration(g.RelayPulseMS)*time.Millisecond > MaxPulse {
		errs = append(errs, fmt.Errorf("relay pulse %dms must be between 1 and %d", g.RelayPulseMS, MaxPulse.Milliseconds()))
	}
	if g.AutoCloseSeconds < 0 {
		errs = append(errs, fmt.Errorf("auto-close %ds is negative", g.AutoCloseSeconds))
	}
	if _, err := gpio.ParseBackend(c.GPIO.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat %v is negative", c.Heartbeat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Pins converts the garage section for garage.New.
func (c Config) Pins() garage.PinConfig {
	g := c.Garage
	sensor := garage.NoPin
	if g.SensorPin != nil {
		sensor = *g.SensorPin
	}
	return garage.PinConfig{
		RelayPin:        g.RelayPin,
		RelayActiveLow:  g.RelayActiveLow,
		ButtonPin:       g.ButtonPin,
		SensorPin:       sensor,
		SensorActiveLow: g.SensorActiveLow,
		PulseDuration:   time.Duration(g.RelayPulseMS) * time.Millisecond,
		AutoCloseDelay:  time.Duration(g.AutoCloseSeconds) * time.Second,
	}
}

// Backend returns the validated GPIO backend.
func (c Config) Backend() gpio.Backend {
	b, _ := gpio.ParseBackend(c.GPIO.Backend)
	return b
}
