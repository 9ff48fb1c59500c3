package aasclient

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttIngress subscribes to the AAS repository's change-event topic and
// decodes each message into an ElementChanged.
type mqttIngress struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
	out    chan<- ElementChanged
}

func newMqttIngress(brokerURL, topic, clientID string, logger *slog.Logger, out chan<- ElementChanged) *mqttIngress {
	ing := &mqttIngress{topic: topic, logger: logger, out: out}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	ing.client = mqtt.NewClient(opts)
	return ing
}

func (m *mqttIngress) start() error {
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return &MqttError{Reason: "connect failed", Inner: token.Error()}
	}
	token := m.client.Subscribe(m.topic, 1, m.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return &MqttError{Reason: "subscribe failed", Inner: err}
	}
	m.logger.Info("mqtt ingress subscribed", "topic", m.topic)
	return nil
}

func (m *mqttIngress) stop() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func (m *mqttIngress) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	hints := ParseTopic(msg.Topic())
	change, err := parsePayload(msg.Payload(), hints)
	if err != nil {
		m.logger.Warn("dropping malformed aas event", "topic", msg.Topic(), "error", err)
		return
	}
	select {
	case m.out <- change:
	default:
		m.logger.Warn("aas event channel full, dropping event", "topic", msg.Topic())
	}
}

func defaultClientID() string {
	return fmt.Sprintf("basyx-opcua-bridge-%d", time.Now().UnixNano()%1_000_000)
}
