package telemetry

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// publishTimeout bounds how long a frame may wait on a slow broker.
const publishTimeout = 250 * time.Millisecond

type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var newMQTTClientFn = func(opts *mqtt.ClientOptions) mqttClient { return mqtt.NewClient(opts) }

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// MQTTSink publishes frames to one retained topic, so late subscribers see the
// latest state immediately.
type MQTTSink struct {
	topic  string
	client mqttClient
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("telemetry: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("telemetry: mqtt topic is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := newMQTTClientFn(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return &MQTTSink{topic: cfg.Topic, client: client}, nil
}

func (s *MQTTSink) Name() string { return "mqtt " + s.topic }

func (s *MQTTSink) Send(payload []byte) error {
	token := s.client.Publish(s.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("telemetry: mqtt publish to %s timed out", s.topic)
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
