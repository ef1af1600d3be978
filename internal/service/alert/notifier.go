// Package alert delivers threshold alerts outside the dashboard.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"queuewatch/internal/config"
	"queuewatch/internal/logger"
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Event is the payload published when an analysis crosses the alert threshold.
type Event struct {
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes alert events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close()                              {}

// MQTTNotifier publishes events as JSON to a fixed topic.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	logger *logger.Logger
	mu     sync.Mutex
}

// NewNotifier returns an MQTT notifier when a broker is configured and Nop otherwise.
func NewNotifier(cfg *config.Config, log *logger.Logger) Notifier {
	if cfg.MQTTBroker == "" {
		return Nop{}
	}
	return NewMQTTNotifier(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, log)
}

// NewMQTTNotifier starts connecting in the background; the paho client keeps
// retrying, so a broker that is down at startup does not block the server.
func NewMQTTNotifier(broker, clientID, topic string, log *logger.Logger) *MQTTNotifier {
	n := &MQTTNotifier{topic: topic, logger: log.With("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		n.logger.Info("Connected to MQTT broker: %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		n.logger.Warning("Connection to MQTT broker lost: %s, error: %v", broker, err)
	})

	n.client = mqtt.NewClient(opts)
	n.client.Connect()
	return n
}

// Payload encodes ev the way it is published.
func Payload(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Notify publishes ev, waiting until ctx is done for the broker to accept it.
func (n *MQTTNotifier) Notify(ctx context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := Payload(ev)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", n.topic, ctx.Err())
	}
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
