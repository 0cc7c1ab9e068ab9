package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the MQTT notifier.
type MQTTConfig struct {
	Broker    string // host:port or full URL (tcp://, ssl://, ws://)
	ClientID  string // default "pagecam-<uuid>"
	Username  string
	Password  string
	BaseTopic string // default "pagecam"
	QoS       byte
	Logger    *slog.Logger
}

// publisher is the subset of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes events as JSON to <base>/<session>/<type>.
type MQTT struct {
	client    publisher
	baseTopic string
	qos       byte
	logger    *slog.Logger
}

// NewMQTT connects to the broker. The client reconnects on its own after
// the initial connection.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pagecam-" + uuid.NewString()[:8]
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}
	logger.Info("mqtt connected", "broker", broker, "client_id", cfg.ClientID)

	return newMQTT(cli, cfg.BaseTopic, cfg.QoS, logger), nil
}

func newMQTT(client publisher, baseTopic string, qos byte, logger *slog.Logger) *MQTT {
	if baseTopic == "" {
		baseTopic = "pagecam"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:    client,
		baseTopic: strings.TrimRight(baseTopic, "/"),
		qos:       qos,
		logger:    logger,
	}
}

// Topic returns the topic an event is published on.
func (m *MQTT) Topic(ev Event) string {
	return fmt.Sprintf("%s/%s/%s", m.baseTopic, ev.Session, ev.Type)
}

// Notify publishes ev and waits for the broker acknowledgement or ctx.
func (m *MQTT) Notify(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	token := m.client.Publish(m.Topic(ev), m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.Topic(ev), err)
	}
	m.logger.Debug("event published", "topic", m.Topic(ev))
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
