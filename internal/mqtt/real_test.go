package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/gatewise/internal/garage"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu         sync.Mutex
	open       bool
	publishErr error
	published  []published
	subscribed map[string]paho.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscribed: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) Connect() paho.Token { return &fakeToken{} }
func (c *fakeClient) Disconnect(uint)     {}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, string(payload.([]byte))})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[topic] = cb
	return &fakeToken{}
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func TestRealPublisherPublishDoor(t *testing.T) {
	client := newFakeClient()
	client.setOpen(true)
	p := newPublisherWithClient(client, "home/garage", nil)

	ev := garage.Event{
		Type:   garage.EventTriggered,
		Source: "web",
		State:  garage.StateOpening,
		Time:   time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
	}
	if err := p.PublishDoor(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := client.sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sent))
	}
	if sent[0].topic != "home/garage/door/events" || sent[0].retained {
		t.Errorf("unexpected event message: %+v", sent[0])
	}
	if sent[1].topic != "home/garage/door/state" || !sent[1].retained || sent[1].payload != "opening" {
		t.Errorf("unexpected state message: %+v", sent[1])
	}
}

func TestRealPublisherPublishSystemRetained(t *testing.T) {
	client := newFakeClient()
	client.setOpen(true)
	p := newPublisherWithClient(client, "home/garage", nil)

	p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true, Timestamp: time.Now()})
	p.PublishSystem(SystemEvent{Event: "HEARTBEAT", Timestamp: time.Now()})

	sent := client.sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sent))
	}
	if sent[0].topic != "home/garage/system" || !sent[0].retained || sent[0].qos != 1 {
		t.Errorf("unexpected startup message: %+v", sent[0])
	}
	if sent[1].retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRealPublisherPublishError(t *testing.T) {
	client := newFakeClient()
	client.setOpen(true)
	client.publishErr = errors.New("not authorised")
	p := newPublisherWithClient(client, "", nil)

	if err := p.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestRealPublisherBuffersWhileOffline(t *testing.T) {
	client := newFakeClient()
	p := newPublisherWithClient(client, "home/garage", nil)

	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("offline publish should buffer, got %v", err)
	}
	p.PublishDoor(garage.Event{Type: garage.EventStateChanged, State: garage.StateClosed})

	if len(client.sent()) != 0 {
		t.Fatal("nothing should be sent while offline")
	}

	client.setOpen(true)
	p.handleConnect()

	sent := client.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", len(sent))
	}
	wantTopics := []string{"home/garage/system", "home/garage/door/events", "home/garage/door/state"}
	for i, want := range wantTopics {
		if sent[i].topic != want {
			t.Errorf("message %d topic = %s, want %s", i, sent[i].topic, want)
		}
	}
	if !sent[0].retained || !sent[2].retained {
		t.Error("retained flags not preserved through the buffer")
	}

	// Buffer is empty after replay.
	p.handleConnect()
	if len(client.sent()) != 3 {
		t.Error("second connect replayed messages again")
	}
}

func TestRealPublisherSubscribesOnConnect(t *testing.T) {
	client := newFakeClient()
	client.setOpen(true)

	var got []Command
	p := newPublisherWithClient(client, "home/garage", func(c Command) { got = append(got, c) })
	p.handleConnect()

	if _, ok := client.subscribed["home/garage/door/command"]; !ok {
		t.Fatalf("not subscribed to command topic: %v", client.subscribed)
	}

	p.handleCommand([]byte(`{"action":"trigger","source":"phone"}`))
	p.handleCommand([]byte("bogus"))
	p.handleCommand([]byte("cancel_auto_close"))

	if len(got) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(got))
	}
	if got[0].TriggerSource() != "mqtt:phone" || got[1].Action != ActionCancelAutoClose {
		t.Errorf("unexpected commands: %+v", got)
	}
}

func TestRealPublisherNoSubscriptionWithoutHandler(t *testing.T) {
	client := newFakeClient()
	client.setOpen(true)
	p := newPublisherWithClient(client, "home/garage", nil)
	p.handleConnect()

	if len(client.subscribed) != 0 {
		t.Errorf("unexpected subscriptions: %v", client.subscribed)
	}
}

func TestNewRealPublisherRequiresBroker(t *testing.T) {
	if _, err := NewRealPublisher(Config{}); err == nil {
		t.Error("expected error without broker")
	}
}
