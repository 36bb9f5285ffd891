package events

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/service"
)

// MQTTClient is the subset of mqtt.Client the publisher uses.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes changes to <prefix>/<event> with QoS 1.
type MQTTPublisher struct {
	client  MQTTClient
	prefix  string
	timeout time.Duration
	log     *logrus.Logger
}

// DialMQTT connects to broker (for example tcp://localhost:1883).
func DialMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, err)
	}
	return client, nil
}

func NewMQTTPublisher(client MQTTClient, prefix string, timeout time.Duration, log *logrus.Logger) *MQTTPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{client: client, prefix: prefixOrDefault(prefix), timeout: timeout, log: log}
}

func (p *MQTTPublisher) Topic(event service.EventType) string {
	return p.prefix + "/" + string(event)
}

func (p *MQTTPublisher) HandleEvent(_ context.Context, change service.Change) error {
	if change.Event.IsPre() {
		return nil
	}
	payload, err := encode(change)
	if err != nil {
		return err
	}
	topic := p.Topic(change.Event)
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.log.WithFields(logrus.Fields{"topic": topic, "change_id": change.ID}).Debug("change published")
	return nil
}

// Close disconnects after giving in-flight messages 250ms to complete.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

var _ service.EventHandler = (*MQTTPublisher)(nil)
