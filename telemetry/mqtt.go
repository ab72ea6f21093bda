package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

// MQTTConfig describes the broker connection of an MQTTSink.
type MQTTConfig struct {
	Broker    string // tcp://host:1883
	ClientID  string
	Username  string
	Password  string
	BaseTopic string
	QoS       byte
	Retained  bool
	Timeout   time.Duration
}

// ReadingsTopic is where snapshots are published under base.
func ReadingsTopic(base string) string {
	return strings.TrimRight(base, "/") + "/readings"
}

// MQTTSink publishes every snapshot as JSON.
type MQTTSink struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTTSink connects to the broker. The client reconnects by itself
// afterwards; publishes fail while it is away.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	if cfg.BaseTopic == "" {
		return nil, errors.New("mqtt base topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return &MQTTSink{
		client:   client,
		topic:    ReadingsTopic(cfg.BaseTopic),
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  cfg.Timeout,
	}, nil
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Send(ctx context.Context, snap sensor.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, m.retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(m.timeout):
		return fmt.Errorf("mqtt publish to %s timed out", m.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects, allowing in-flight publishes a moment to finish.
func (m *MQTTSink) Close() {
	m.client.Disconnect(250)
}
