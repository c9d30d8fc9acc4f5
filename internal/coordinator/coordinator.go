// Package coordinator owns the canonical per-device reading sets. Readings
// arrive from the BLE gateway over MQTT; everything downstream only reads.
package coordinator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/bus"
	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DeviceData is the coordinator's view of one device.
type DeviceData struct {
	Data      sensors.Readings `json:"data"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Coordinator keeps the latest reading set per device identifier and
// announces every update on the bus. It is safe for concurrent use.
type Coordinator struct {
	mu      sync.RWMutex
	devices map[string]DeviceData

	bus    *bus.Bus
	logger *logrus.Logger
	now    func() time.Time

	warnMu    sync.Mutex
	warnLimit map[string]*rate.Limiter
}

// New creates an empty coordinator. b may be nil when nobody needs update
// notifications.
func New(b *bus.Bus, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		devices:   make(map[string]DeviceData),
		warnLimit: make(map[string]*rate.Limiter),
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// NormalizeID folds device identifiers so that "C1:A2" and "c1:a2" refer to
// the same device.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Update replaces the reading set of a device. The map is stored as-is and
// must not be modified by the caller afterwards.
func (c *Coordinator) Update(id string, readings sensors.Readings) {
	id = NormalizeID(id)

	c.mu.Lock()
	c.devices[id] = DeviceData{Data: readings, UpdatedAt: c.now()}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"device_id": id,
		"readings":  len(readings),
	}).Debug("coordinator: readings updated")

	if c.bus != nil {
		c.bus.Publish(bus.Update{DeviceID: id})
	}
}

// Data returns the current data of a device.
func (c *Coordinator) Data(id string) (DeviceData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[NormalizeID(id)]
	return d, ok
}

// Readings returns the current reading set of a device.
func (c *Coordinator) Readings(id string) (sensors.Readings, bool) {
	d, ok := c.Data(id)
	if !ok {
		return nil, false
	}
	return d.Data, true
}

// HasData reports whether a non-empty reading set has been received for the
// device.
func (c *Coordinator) HasData(id string) bool {
	d, ok := c.Data(id)
	return ok && len(d.Data) > 0
}

// Devices returns the identifiers of all devices seen so far, sorted.
func (c *Coordinator) Devices() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
