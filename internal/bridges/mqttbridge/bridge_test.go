package mqttbridge

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/totemize/einkd/internal/infrastructure/mqtt"
	"github.com/totemize/einkd/internal/service"
)

// fakeClient records publishes and lets tests inject messages into the
// subscribed handler.
type fakeClient struct {
	mu         sync.Mutex
	published  []publishedMessage
	handlers   map[string]mqtt.MessageHandler
	subscribed []string
}

type publishedMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, payload []byte, qos byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMessage{topic: topic, payload: payload, qos: qos})
	return nil
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.subscribed = append(c.subscribed, topic)
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *fakeClient) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	c.mu.Lock()
	handler, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func (c *fakeClient) messages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedMessage(nil), c.published...)
}

func decodeResult(t *testing.T, payload []byte) service.Response {
	t.Helper()
	var resp service.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("decoding result payload %q: %v", payload, err)
	}
	return resp
}

func TestBridge_SubscribesOnStart(t *testing.T) {
	client := newFakeClient()
	bridge := New(client, service.NewQueue(), "einkd", 1)

	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(client.subscribed) != 1 || client.subscribed[0] != "einkd/display/command" {
		t.Errorf("subscriptions = %v", client.subscribed)
	}

	bridge.Stop()
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.handlers) != 0 {
		t.Error("handler still registered after Stop")
	}
}

func TestBridge_EnqueuesValidCommand(t *testing.T) {
	client := newFakeClient()
	queue := service.NewQueue()
	bridge := New(client, queue, "einkd", 1)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.deliver(t, "einkd/display/command", []byte(`{"action":"display_text","text":"hi"}`))

	cmd := queue.Dequeue()
	if cmd == nil {
		t.Fatal("command was not enqueued")
	}
	if cmd.Source != service.SourceMQTT {
		t.Errorf("source = %q, want mqtt", cmd.Source)
	}
	if !strings.HasPrefix(cmd.ID, "cmd-") {
		t.Errorf("command id = %q", cmd.ID)
	}

	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1 queued ack", len(msgs))
	}
	if msgs[0].topic != "einkd/display/result" {
		t.Errorf("ack topic = %q", msgs[0].topic)
	}
	ack := decodeResult(t, msgs[0].payload)
	if ack.Status != service.StatusQueued || ack.CommandID != cmd.ID {
		t.Errorf("ack = %+v", ack)
	}
}

func TestBridge_PublishesErrorForInvalidPayload(t *testing.T) {
	client := newFakeClient()
	queue := service.NewQueue()
	bridge := New(client, queue, "einkd", 1)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.deliver(t, "einkd/display/command", []byte(`{not json`))

	if queue.Len() != 0 {
		t.Error("invalid payload was enqueued")
	}
	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1 error result", len(msgs))
	}
	if resp := decodeResult(t, msgs[0].payload); resp.Status != service.StatusError {
		t.Errorf("result = %+v", resp)
	}
}

func TestBridge_TerminalResultPublished(t *testing.T) {
	client := newFakeClient()
	queue := service.NewQueue()
	bridge := New(client, queue, "", 1)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Empty prefix falls back to the default topic namespace.
	client.deliver(t, "einkd/display/command", []byte(`{"action":"clear"}`))

	cmd := queue.Dequeue()
	if cmd == nil {
		t.Fatal("command was not enqueued")
	}
	if err := cmd.Writer.WriteResponse(service.Response{
		Status:    service.StatusSuccess,
		Message:   "Display cleared",
		CommandID: cmd.ID,
	}); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	msgs := client.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want ack + terminal", len(msgs))
	}
	terminal := decodeResult(t, msgs[1].payload)
	if terminal.Status != service.StatusSuccess || terminal.CommandID != cmd.ID {
		t.Errorf("terminal = %+v", terminal)
	}
	if msgs[1].topic != "einkd/display/result" {
		t.Errorf("terminal topic = %q", msgs[1].topic)
	}
}
