package telemetry

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher sends one retained-free message to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// DialMQTT connects to broker (tcp://host:1883) as clientID.
func DialMQTT(broker, clientID string, logger zerolog.Logger) (*MQTTPublisher, error) {
	log := logger.With().Str("component", "mqtt").Logger()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection lost")
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10*time.Second) {
		// SetConnectRetry keeps trying in the background.
		log.Warn().Str("broker", broker).Msg("broker not reachable yet")
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, timeout: 5 * time.Second}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	tok := p.client.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return tok.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
