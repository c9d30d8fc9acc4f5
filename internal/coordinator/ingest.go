package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"golang.org/x/time/rate"
)

const warnInterval = time.Minute

// Subscriber is the part of the MQTT client the ingest path needs.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Ingest subscribes to "<prefix>/+" and feeds every reading set published by
// the gateway into the coordinator.
func (c *Coordinator) Ingest(sub Subscriber, prefix string) error {
	topic := strings.TrimSuffix(prefix, "/") + "/+"
	if err := sub.Subscribe(topic, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to gateway readings: %w", err)
	}
	c.logger.WithField("topic", topic).Info("Listening for gateway readings")
	return nil
}

// HandleMessage processes one gateway message. The device identifier is the
// last topic segment. Malformed payloads are logged and dropped.
func (c *Coordinator) HandleMessage(topic string, payload []byte) {
	id := topic[strings.LastIndex(topic, "/")+1:]
	if id == "" {
		c.logger.WithField("topic", topic).Warn("ingest: topic has no device id")
		return
	}

	readings, err := sensors.ParseReadings(payload)
	if err != nil {
		c.logger.WithError(err).WithField("topic", topic).Warn("ingest: dropping malformed readings")
		return
	}

	if warnings := sensors.Validate(sensors.Flatten(readings)); len(warnings) > 0 && c.allowWarning(id) {
		for _, w := range warnings {
			c.logger.WithField("device_id", id).Warn(w)
		}
	}

	c.Update(id, readings)
}

// allowWarning limits validation warnings to one batch per device per
// warnInterval; gateways re-send the same bad value several times a second.
func (c *Coordinator) allowWarning(id string) bool {
	id = NormalizeID(id)
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	l, ok := c.warnLimit[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(warnInterval), 1)
		c.warnLimit[id] = l
	}
	return l.AllowN(c.now(), 1)
}
