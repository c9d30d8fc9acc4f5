package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/config"
	"github.com/jkaberg/switchbot-hass/internal/entity"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
	messages map[string][]byte
	counts   map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers: make(map[string]func(string, []byte)),
		messages: make(map[string][]byte),
		counts:   make(map[string]int),
	}
}

func (f *fakeClient) Subscribe(topic string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Publish(topic string, payload []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[topic] = payload
	f.counts[topic]++
	return nil
}

func (f *fakeClient) IsConnected() bool               { return true }
func (f *fakeClient) BridgeAvailabilityTopic() string { return "switchbot/bridge/test/availability" }

func (f *fakeClient) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers["switchbot/readings/+"]
	f.mu.Unlock()
	require.NotNil(t, h, "readings topic not subscribed")
	h(topic, []byte(payload))
}

func (f *fakeClient) message(topic string) ([]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[topic], f.counts[topic]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.MQTTUrl = "mqtt://broker.lan:1883"
	cfg.Devices = []entity.ConfigEntry{{UniqueID: "meter-1", MAC: "C1:A2:B3:C4:D5:E6", Name: "Bedroom", Model: "WoSensorTH"}}
	cfg.UpdateInterval = 10 * time.Millisecond
	return cfg
}

func start(t *testing.T, cfg *config.Config) (*App, *fakeClient, context.CancelFunc, <-chan error) {
	t.Helper()
	client := newFakeClient()
	a := New(cfg, client, "test", quietLogger())
	a.setupRetry = time.Hour
	a.tick = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.handlers["switchbot/readings/+"] != nil
	}, time.Second, 5*time.Millisecond)
	return a, client, cancel, done
}

func TestSetupWaitsForReadings(t *testing.T) {
	a, client, cancel, done := start(t, testConfig())
	defer cancel()

	// Nothing is registered until the first reading set arrives.
	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(a.metrics.Registry(), "switchbot_setup_not_ready_total")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.registrar.Entities("meter-1"))
	_, n := client.message("homeassistant/sensor/switchbot_meter-1/temperature_celsius/config")
	assert.Zero(t, n)

	client.deliver(t, "switchbot/readings/meter-1", `{"battery": 90, "humidity": 41, "temp": {"c": 22.5, "f": 72.5}}`)

	require.Eventually(t, func() bool {
		return len(a.registrar.Entities("meter-1")) == 3
	}, time.Second, 5*time.Millisecond)

	var state map[string]any
	require.Eventually(t, func() bool {
		payload, _ := client.message("switchbot/meter-1/state")
		return payload != nil && json.Unmarshal(payload, &state) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"battery": 90.0, "humidity": 41.0, "temperature_celsius": 22.5}, state)

	cancel()
	require.NoError(t, <-done)
	offline, _ := client.message("switchbot/meter-1/availability")
	assert.Equal(t, "offline", string(offline))
}

func TestUnchangedStateIsNotRepublished(t *testing.T) {
	a, client, cancel, done := start(t, testConfig())
	client.deliver(t, "switchbot/readings/meter-1", `{"battery": 90}`)

	require.Eventually(t, func() bool {
		_, n := client.message("switchbot/meter-1/state")
		return n == 1
	}, time.Second, 5*time.Millisecond)

	// Several update intervals pass without a change.
	time.Sleep(50 * time.Millisecond)
	_, n := client.message("switchbot/meter-1/state")
	assert.Equal(t, 1, n)

	client.deliver(t, "switchbot/readings/meter-1", `{"battery": 89}`)
	require.Eventually(t, func() bool {
		_, n := client.message("switchbot/meter-1/state")
		return n == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, a.registrar.Devices(), 1)
}

func TestForceUpdateRepublishes(t *testing.T) {
	cfg := testConfig()
	cfg.ForceUpdateInterval = 20 * time.Millisecond
	_, client, cancel, done := start(t, cfg)
	client.deliver(t, "switchbot/readings/meter-1", `{"battery": 90}`)

	require.Eventually(t, func() bool {
		_, n := client.message("switchbot/meter-1/state")
		return n >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
