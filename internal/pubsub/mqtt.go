package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gate-service/internal/service"
)

var ErrMQTTNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// MQTTBridge mirrors published events to {prefix}/{channel}/{event} and
// can subscribe to the presence sensor topic.
type MQTTBridge struct {
	client mqtt.Client
	broker string
	prefix string
	log    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	sensor    *sensorSubscription
}

type sensorSubscription struct {
	topic   string
	onState func(ctx context.Context, present bool)
}

func NewMQTTBridge(cfg MQTTConfig, log zerolog.Logger) *MQTTBridge {
	b := &MQTTBridge{
		broker: cfg.Broker,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		log:    log.With().Str("component", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	// sensor handlers publish gate updates from inside the callback
	opts.SetOrderMatters(false)
	// clean sessions drop subscriptions, so every (re)connect restores them
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.setConnected(false)
		b.log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	b.client = mqtt.NewClient(opts)
	return b
}

func (b *MQTTBridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	b.setConnected(true)
	return nil
}

func (b *MQTTBridge) Topic(channel, event string) string {
	if b.prefix == "" {
		return channel + "/" + event
	}
	return b.prefix + "/" + channel + "/" + event
}

func (b *MQTTBridge) Publish(_ context.Context, channel, event string, payload interface{}) error {
	if !b.isConnected() {
		return ErrMQTTNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	topic := b.Topic(channel, event)
	token := b.client.Publish(topic, 0, false, body)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	b.log.Debug().Str("topic", topic).Int("size", len(body)).Msg("mqtt event published")
	return nil
}

// SubscribeSensor feeds presence reports from topic into onState. The
// subscription is remembered and re-established on every reconnect; when the
// client is offline it is made on the next connect.
func (b *MQTTBridge) SubscribeSensor(topic string, onState func(ctx context.Context, present bool)) error {
	sub := &sensorSubscription{topic: topic, onState: onState}

	b.mu.Lock()
	b.sensor = sub
	connected := b.connected
	b.mu.Unlock()

	if !connected {
		b.log.Info().Str("topic", topic).Msg("mqtt offline, sensor subscription deferred until connect")
		return nil
	}
	return b.subscribe(b.client, sub)
}

func (b *MQTTBridge) onConnect(client mqtt.Client) {
	b.setConnected(true)
	b.log.Info().Str("broker", b.broker).Msg("mqtt connection established")

	b.mu.RLock()
	sub := b.sensor
	b.mu.RUnlock()
	if sub == nil {
		return
	}
	if err := b.subscribe(client, sub); err != nil {
		b.log.Error().Err(err).Msg("failed to restore sensor subscription")
	}
}

func (b *MQTTBridge) subscribe(client mqtt.Client, sub *sensorSubscription) error {
	token := client.Subscribe(sub.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		present, err := ParseSensorPayload(msg.Payload())
		if err != nil {
			b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring sensor message")
			return
		}
		sub.onState(context.Background(), present)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", sub.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w", sub.topic, err)
	}
	b.log.Info().Str("topic", sub.topic).Msg("subscribed to presence sensor")
	return nil
}

func (b *MQTTBridge) Disconnect() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.log.Info().Msg("mqtt disconnected")
	}
	b.setConnected(false)
}

func (b *MQTTBridge) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *MQTTBridge) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// ParseSensorPayload accepts a bare YES/NO or a JSON object {"state": "YES"}.
func ParseSensorPayload(payload []byte) (bool, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var body struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return false, fmt.Errorf("%w: %v", service.ErrInvalidSensorState, err)
		}
		text = body.State
	}
	return service.ParseSensorState(text)
}
