package mqtt

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/gatewise/internal/garage"
)

const publishTimeout = 5 * time.Second

// Config holds the broker settings for RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	Prefix     string
	BufferSize int // 0 means DefaultBufferSize

	// OnCommand receives commands from the command topic. Nil disables
	// the subscription.
	OnCommand func(Command)
}

// brokerClient is the part of paho.Client the publisher uses.
type brokerClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are buffered and replayed once it comes back.
type RealPublisher struct {
	client    brokerClient
	topics    Topics
	onCommand func(Command)

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher starts connecting to the broker in the background and
// returns immediately; paho keeps retrying until the broker is reachable.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gatewise"
	}

	p := &RealPublisher{
		topics:    NewTopics(cfg.Prefix),
		onCommand: cfg.OnCommand,
		buf:       newRingBuffer(cfg.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetKeepAlive(60*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	paho.ERROR = log.New(os.Stderr, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stderr, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stderr, "[MQTT WARN] ", 0)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.Printf("mqtt: connecting to %s as %s", cfg.Broker, clientID)
	return p, nil
}

func newPublisherWithClient(client brokerClient, prefix string, onCommand func(Command)) *RealPublisher {
	return &RealPublisher{
		client:    client,
		topics:    NewTopics(prefix),
		onCommand: onCommand,
		buf:       newRingBuffer(DefaultBufferSize),
	}
}

// Topics returns the topics this publisher uses.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

// PublishDoor sends the event to the events topic and the new state,
// retained, to the state topic.
func (p *RealPublisher) PublishDoor(event garage.Event) error {
	payload, err := FormatDoorPayload(event)
	if err != nil {
		return fmt.Errorf("format door payload: %w", err)
	}
	return errors.Join(
		p.publish(p.topics.Events, 1, false, payload),
		p.publish(p.topics.State, 1, true, []byte(event.State)),
	)
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	return p.send(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// handleConnect runs on every (re)connect: subscribe to commands, then
// replay anything buffered while offline.
func (p *RealPublisher) handleConnect() {
	log.Printf("mqtt: connected")

	if p.onCommand != nil {
		token := p.client.Subscribe(p.topics.Command, 1, p.handleMessage)
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: subscribe %s: timeout", p.topics.Command)
		} else if err := token.Error(); err != nil {
			log.Printf("mqtt: subscribe %s: %v", p.topics.Command, err)
		}
	}

	p.mu.Lock()
	msgs, dropped := p.buf.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(msgs), dropped)
	for _, msg := range msgs {
		if err := p.send(msg); err != nil {
			log.Printf("mqtt: replay: %v", err)
		}
	}
}

func (p *RealPublisher) handleMessage(_ paho.Client, msg paho.Message) {
	// A retained command would re-run on every reconnect.
	if msg.Retained() {
		log.Printf("mqtt: ignoring retained message on %s", msg.Topic())
		return
	}
	p.handleCommand(msg.Payload())
}

func (p *RealPublisher) handleCommand(payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Printf("mqtt: ignoring command: %v", err)
		return
	}
	log.Printf("mqtt: command %s (source %s)", cmd.Action, cmd.TriggerSource())
	if p.onCommand != nil {
		p.onCommand(cmd)
	}
}
