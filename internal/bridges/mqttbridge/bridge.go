package mqttbridge

import (
	"time"

	"github.com/totemize/einkd/internal/infrastructure/mqtt"
	"github.com/totemize/einkd/internal/service"
)

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the broker surface the bridge needs. Satisfied by
// *mqtt.Client; narrowed for tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Bridge subscribes to the display command topic and enqueues commands.
type Bridge struct {
	client MQTTClient
	queue  *service.Queue
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// New creates a bridge feeding the given queue.
//
// Parameters:
//   - client: Connected MQTT client
//   - queue: The service's command queue
//   - topicPrefix: Topic prefix from config (empty uses the default)
//   - qos: QoS level for subscriptions and result publishes
func New(client MQTTClient, queue *service.Queue, topicPrefix string, qos byte) *Bridge {
	return &Bridge{
		client: client,
		queue:  queue,
		topics: mqtt.Topics{Prefix: topicPrefix},
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for bridge events.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to the command topic.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.topics.DisplayCommand(), b.qos, b.handleCommand); err != nil {
		return err
	}
	b.logger.Info("mqtt command bridge started",
		"command_topic", b.topics.DisplayCommand(),
		"result_topic", b.topics.DisplayResult())
	return nil
}

// Stop unsubscribes from the command topic. Commands already queued
// still complete and publish their results.
func (b *Bridge) Stop() {
	if err := b.client.Unsubscribe(b.topics.DisplayCommand()); err != nil {
		b.logger.Debug("unsubscribe failed", "error", err)
	}
	b.logger.Info("mqtt command bridge stopped")
}

// handleCommand validates one command payload and enqueues it. Invalid
// payloads produce an error result on the result topic so remote
// clients are not left guessing.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	cmd, err := service.ParseRequest(payload)
	if err != nil {
		b.logger.Warn("invalid mqtt command", "topic", topic, "error", err)
		b.publish(service.Response{Status: service.StatusError, Message: err.Error()})
		return nil
	}

	cmd.ID = service.NewCommandID()
	cmd.Source = service.SourceMQTT
	cmd.EnqueuedAt = time.Now()
	cmd.Writer = &resultWriter{bridge: b}

	b.publish(service.Response{
		Status:    service.StatusQueued,
		Message:   "Command queued",
		CommandID: cmd.ID,
	})

	depth := b.queue.Enqueue(cmd)
	b.logger.Debug("mqtt command queued",
		"command_id", cmd.ID, "action", cmd.Action, "queue_depth", depth)
	return nil
}

// publish sends a response on the result topic.
func (b *Bridge) publish(resp service.Response) {
	data := encodeResponse(resp)
	if err := b.client.Publish(b.topics.DisplayResult(), data, b.qos, false); err != nil {
		b.logger.Warn("publishing result failed",
			"command_id", resp.CommandID, "error", err)
	}
}

// resultWriter delivers terminal results on the result topic.
type resultWriter struct {
	bridge *Bridge
}

// WriteResponse publishes the terminal result.
func (w *resultWriter) WriteResponse(resp service.Response) error {
	return w.bridge.client.Publish(
		w.bridge.topics.DisplayResult(),
		encodeResponse(resp),
		w.bridge.qos,
		false,
	)
}
