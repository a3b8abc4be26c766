package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"offerflow/workflow"
)

// MQTTNotifier publishes each event to <prefix>/<recipientID> at QoS 1 so
// provider devices in the field can subscribe to their own topic.
type MQTTNotifier struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("notify: mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: mqtt connect: %w", err)
	}
	return client, nil
}

func NewMQTTNotifier(client mqtt.Client, prefix string) *MQTTNotifier {
	if prefix == "" {
		prefix = "offerflow/notifications"
	}
	return &MQTTNotifier{client: client, prefix: prefix, timeout: 10 * time.Second}
}

func (m *MQTTNotifier) Deliver(ctx context.Context, ev workflow.Event) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("notify: mqtt not connected")
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.prefix+"/"+ev.RecipientID, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("notify: mqtt publish %s timed out", ev.ID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: mqtt publish %s: %w", ev.ID, err)
	}
	return nil
}

func (m *MQTTNotifier) Close() {
	m.client.Disconnect(250)
}
