package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gate-service/internal/service"
)

type stubPublisher struct {
	calls int
	err   error
}

func (s *stubPublisher) Publish(context.Context, string, string, interface{}) error {
	s.calls++
	return s.err
}

func TestFanout_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &stubPublisher{}
	failing := &stubPublisher{err: boom}

	err := Fanout{failing, ok}.Publish(context.Background(), "gate-channel", "gate-update", nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, ok.calls)
	require.Equal(t, 1, failing.calls)

	require.NoError(t, Fanout{ok}.Publish(context.Background(), "c", "e", nil))
}

func TestParseSensorPayload(t *testing.T) {
	for payload, want := range map[string]bool{
		"YES":             true,
		" no\n":           false,
		`{"state":"YES"}`: true,
		`{"state": "no"}`: false,
	} {
		got, err := ParseSensorPayload([]byte(payload))
		require.NoError(t, err, payload)
		require.Equal(t, want, got, payload)
	}

	for _, payload := range []string{"", "maybe", `{"state":1}`, `{"state":"UP"}`} {
		_, err := ParseSensorPayload([]byte(payload))
		require.ErrorIs(t, err, service.ErrInvalidSensorState, payload)
	}
}

func TestMQTTBridge_TopicAndOfflinePublish(t *testing.T) {
	bridge := NewMQTTBridge(MQTTConfig{Broker: "tcp://127.0.0.1:1", ClientID: "test", TopicPrefix: "site/"}, zerolog.Nop())
	require.Equal(t, "site/gate-channel/gate-update", bridge.Topic("gate-channel", "gate-update"))

	err := bridge.Publish(context.Background(), "gate-channel", "gate-update", map[string]bool{"sensor": true})
	require.ErrorIs(t, err, ErrMQTTNotConnected)
}

type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// subscribeRecorder is an mqtt.Client that only records subscriptions.
type subscribeRecorder struct {
	mqtt.Client

	mu       sync.Mutex
	topics   []string
	handlers []mqtt.MessageHandler
}

func (c *subscribeRecorder) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.handlers = append(c.handlers, callback)
	return doneToken{}
}

type sensorMessage struct {
	mqtt.Message
	payload string
}

func (m sensorMessage) Topic() string   { return "gate/sensor" }
func (m sensorMessage) Payload() []byte { return []byte(m.payload) }

func TestMQTTBridge_SensorSubscriptionSurvivesReconnect(t *testing.T) {
	bridge := NewMQTTBridge(MQTTConfig{Broker: "tcp://127.0.0.1:1", ClientID: "test"}, zerolog.Nop())
	client := &subscribeRecorder{}
	bridge.client = client

	var states []bool
	require.NoError(t, bridge.SubscribeSensor("gate/sensor", func(_ context.Context, present bool) {
		states = append(states, present)
	}))
	require.Empty(t, client.topics, "offline subscribe must wait for a connection")

	bridge.onConnect(client)
	require.Equal(t, []string{"gate/sensor"}, client.topics)

	// broker outage, then auto-reconnect
	bridge.setConnected(false)
	bridge.onConnect(client)
	require.Equal(t, []string{"gate/sensor", "gate/sensor"}, client.topics)

	handler := client.handlers[len(client.handlers)-1]
	handler(client, sensorMessage{payload: "YES"})
	handler(client, sensorMessage{payload: "bogus"})
	handler(client, sensorMessage{payload: `{"state":"NO"}`})
	require.Equal(t, []bool{true, false}, states)
}

func TestMQTTBridge_SubscribeWhileConnected(t *testing.T) {
	bridge := NewMQTTBridge(MQTTConfig{Broker: "tcp://127.0.0.1:1", ClientID: "test"}, zerolog.Nop())
	client := &subscribeRecorder{}
	bridge.client = client
	bridge.setConnected(true)

	require.NoError(t, bridge.SubscribeSensor("gate/sensor", func(context.Context, bool) {}))
	require.Equal(t, []string{"gate/sensor"}, client.topics)
}
