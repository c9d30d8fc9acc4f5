package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// TopicRoot is the first segment of every state and availability topic we
// publish.
const TopicRoot = "switchbot"

const (
	qos            = byte(1) // at least once
	publishTimeout = 5 * time.Second
	subTimeout     = 5 * time.Second
)

// Client wraps the paho client with the topic layout of the bridge.
type Client struct {
	client   mqtt.Client
	bridgeID string
	logger   *logrus.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// NewClient connects to the broker. ws, wss, mqtt and mqtts URLs are
// supported; credentials are taken from the URL user info. A retained
// "offline" will is registered on the bridge availability topic.
// The initial connection is attempted up to retries times, retryWait apart.
func NewClient(mqttURL, bridgeID string, retries int, retryWait time.Duration, logger *logrus.Logger) (*Client, error) {
	c := &Client{
		bridgeID: bridgeID,
		logger:   logger,
		subs:     make(map[string]mqtt.MessageHandler),
	}

	opts, err := clientOptions(mqttURL, bridgeID, logger, c.onReconnect)
	if err != nil {
		return nil, err
	}

	c.client = mqtt.NewClient(opts)
	connect := func() error {
		token := c.client.Connect()
		token.Wait()
		return token.Error()
	}
	if err := connectWithRetry(connect, retries, retryWait, logger); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"client_id": opts.ClientID,
	}).Info("MQTT client connected")

	if err := c.PublishBridgeAvailability(true); err != nil {
		logger.WithError(err).Warn("Failed to publish bridge availability")
	}
	return c, nil
}

// connectWithRetry calls connect until it succeeds or retries attempts have
// failed. At least one attempt is made.
func connectWithRetry(connect func() error, retries int, wait time.Duration, logger *logrus.Logger) error {
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = connect(); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retries": retries,
		}).Warn("MQTT connect failed; retrying")
		time.Sleep(wait)
	}
	return err
}

func clientOptions(mqttURL, bridgeID string, logger *logrus.Logger, onReconnect mqtt.OnConnectHandler) (*mqtt.ClientOptions, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	opts := mqtt.NewClientOptions()

	var brokerURL string
	switch parsedURL.Scheme {
	case "ws":
		brokerURL = mqttURL
	case "wss":
		brokerURL = mqttURL
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	case "mqtt":
		brokerURL = strings.Replace(mqttURL, "mqtt://", "tcp://", 1)
	case "mqtts":
		// Self-signed broker certificates are common on home networks.
		brokerURL = strings.Replace(mqttURL, "mqtts://", "ssl://", 1)
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	default:
		return nil, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}
	logger.WithField("protocol", parsedURL.Scheme).Debug("Using MQTT connection")

	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("switchbot-hass-%s", bridgeID))
	// Subscriptions are replayed by onReconnect.
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(BridgeAvailabilityTopic(bridgeID), "offline", qos, true)

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	firstConnect := true
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
			return
		}
		logger.Info("MQTT reconnected")
		if onReconnect != nil {
			onReconnect(client)
		}
	})

	return opts, nil
}

// Publish publishes a message to the specified topic.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, qos, retained, payload)

	// Avoid potential deadlocks: wait for completion with a timeout instead of indefinitely.
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, publishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// Subscribe subscribes to a topic. The handler receives the topic and payload
// of every message.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	}
	token := c.client.Subscribe(topic, qos, cb)

	// Prevent indefinite blocking on slow or lost connections.
	if !token.WaitTimeout(subTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", topic, subTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()

	c.logger.WithField("topic", topic).Debug("Subscribed to MQTT topic")
	return nil
}

// onReconnect restores the bridge availability and every subscription made
// through Subscribe. It runs on paho's connection goroutine, so it must not
// wait on tokens.
func (c *Client) onReconnect(client mqtt.Client) {
	client.Publish(c.BridgeAvailabilityTopic(), qos, true, AvailabilityPayload(true))

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, cb := range c.subs {
		client.Subscribe(topic, qos, cb)
		c.logger.WithField("topic", topic).Debug("Restored MQTT subscription")
	}
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect marks the bridge offline and disconnects.
func (c *Client) Disconnect(quiesce uint) {
	if c.client.IsConnected() {
		if err := c.PublishBridgeAvailability(false); err != nil {
			c.logger.WithError(err).Debug("Failed to publish bridge offline status")
		}
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// BridgeID returns the identifier of this bridge instance.
func (c *Client) BridgeID() string {
	return c.bridgeID
}

// BridgeAvailabilityTopic returns the topic carrying the bridge's
// online/offline status.
func (c *Client) BridgeAvailabilityTopic() string {
	return BridgeAvailabilityTopic(c.bridgeID)
}

// PublishBridgeAvailability publishes the bridge's online/offline status.
func (c *Client) PublishBridgeAvailability(online bool) error {
	return c.Publish(c.BridgeAvailabilityTopic(), []byte(AvailabilityPayload(online)), true)
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}
