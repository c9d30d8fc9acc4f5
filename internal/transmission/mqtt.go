package transmission

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jkaberg/switchbot-hass/internal/entity"
	"github.com/jkaberg/switchbot-hass/internal/mqtt"
	"github.com/sirupsen/logrus"
)

// Publisher is the subset of the MQTT client the registrar uses.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	BridgeAvailabilityTopic() string
}

// ValueObserver is notified of every value written to a state topic.
type ValueObserver interface {
	Observe(e *entity.SensorEntity, value any)
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name              string           `json:"name"`
	UniqueID          string           `json:"unique_id"`
	ObjectID          string           `json:"object_id"`
	StateTopic        string           `json:"state_topic"`
	ValueTemplate     string           `json:"value_template"`
	DeviceClass       string           `json:"device_class,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	StateClass        string           `json:"state_class,omitempty"`
	EntityCategory    string           `json:"entity_category,omitempty"`
	EnabledByDefault  bool             `json:"enabled_by_default"`
	Availability      []HAAvailability `json:"availability"`
	AvailabilityMode  string           `json:"availability_mode"`
	Device            HADevice         `json:"device"`
}

// HAAvailability is one entry of the discovery availability list.
type HAAvailability struct {
	Topic string `json:"topic"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections,omitempty"`
	Name         string      `json:"name"`
	Model        string      `json:"model,omitempty"`
	Manufacturer string      `json:"manufacturer"`
	SWVersion    string      `json:"sw_version,omitempty"`
}

// Registrar publishes Home Assistant discovery for sensor entities and keeps
// their state topics current. Its AddEntities method is the entity.AddEntitiesFunc
// handed to entity.Setup.
type Registrar struct {
	client          Publisher
	discoveryPrefix string
	manufacturer    string
	version         string
	logger          *logrus.Logger
	observer        ValueObserver

	mu        sync.Mutex
	entities  map[string][]*entity.SensorEntity // by device id
	published map[string]bool                   // discovery sent, by unique id
	slots     map[string]chan struct{}          // bounds concurrent state queries per device
}

// NewRegistrar creates a registrar publishing through client.
func NewRegistrar(client Publisher, discoveryPrefix, manufacturer, version string, logger *logrus.Logger) *Registrar {
	return &Registrar{
		client:          client,
		discoveryPrefix: discoveryPrefix,
		manufacturer:    manufacturer,
		version:         version,
		logger:          logger,
		entities:        make(map[string][]*entity.SensorEntity),
		published:       make(map[string]bool),
		slots:           make(map[string]chan struct{}),
	}
}

// SetObserver registers an observer for published values.
func (r *Registrar) SetObserver(o ValueObserver) {
	r.observer = o
}

// AddEntities publishes discovery for every entity that has not been
// announced yet and tracks it for state publishing.
func (r *Registrar) AddEntities(entities []*entity.SensorEntity) error {
	if len(entities) == 0 {
		return nil
	}
	if !r.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	var failed []string
	for _, e := range entities {
		if err := r.publishDiscovery(e); err != nil {
			r.logger.WithError(err).WithField("entity", e.UniqueID()).Error("Failed to publish discovery config")
			failed = append(failed, e.UniqueID())
			continue
		}
		r.track(e)
	}

	if len(failed) > 0 {
		return fmt.Errorf("discovery failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func (r *Registrar) track(e *entity.SensorEntity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, known := range r.entities[e.DeviceID()] {
		if known.UniqueID() == e.UniqueID() {
			return
		}
	}
	r.entities[e.DeviceID()] = append(r.entities[e.DeviceID()], e)
	if _, ok := r.slots[e.DeviceID()]; !ok {
		r.slots[e.DeviceID()] = make(chan struct{}, entity.ParallelUpdates)
	}
}

// Entities returns the entities registered for a device.
func (r *Registrar) Entities(deviceID string) []*entity.SensorEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.SensorEntity, len(r.entities[deviceID]))
	copy(out, r.entities[deviceID])
	return out
}

// DiscoveryConfig builds the discovery document of an entity.
func (r *Registrar) DiscoveryConfig(e *entity.SensorEntity) HADiscoveryConfig {
	desc := e.Description()
	key := e.Sensor().String()

	device := HADevice{
		Identifiers:  []string{fmt.Sprintf("%s_%s", mqtt.TopicRoot, e.DeviceID())},
		Name:         e.DeviceName(),
		Model:        e.Model(),
		Manufacturer: r.manufacturer,
		SWVersion:    r.version,
	}
	if e.MAC() != "" {
		device.Connections = [][2]string{{"mac", strings.ToLower(e.MAC())}}
	}

	return HADiscoveryConfig{
		Name:       e.Name(),
		UniqueID:   e.UniqueID(),
		ObjectID:   mqtt.BuildCleanTopic(e.UniqueID()),
		StateTopic: mqtt.StateTopic(e.DeviceID()),
		// A missing key renders as None, which Home Assistant shows as unknown.
		ValueTemplate:     fmt.Sprintf("{{ value_json['%s'] | default(None) }}", key),
		DeviceClass:       desc.DeviceClass,
		UnitOfMeasurement: desc.Unit,
		StateClass:        "measurement",
		EntityCategory:    desc.Category,
		EnabledByDefault:  desc.EnabledByDefault,
		Availability: []HAAvailability{
			{Topic: r.client.BridgeAvailabilityTopic()},
			{Topic: mqtt.AvailabilityTopic(e.DeviceID())},
		},
		AvailabilityMode: "all",
		Device:           device,
	}
}

// publishDiscovery publishes the discovery config for a single entity.
func (r *Registrar) publishDiscovery(e *entity.SensorEntity) error {
	r.mu.Lock()
	done := r.published[e.UniqueID()]
	r.mu.Unlock()
	if done {
		return nil
	}

	topic := mqtt.DiscoveryTopic(r.discoveryPrefix, "sensor", e.DeviceID(), e.Sensor().String())
	if err := r.publishJSON(topic, r.DiscoveryConfig(e), true); err != nil {
		return fmt.Errorf("failed to publish %s discovery config: %w", e.Name(), err)
	}

	r.logger.WithFields(logrus.Fields{
		"entity": e.Name(),
		"topic":  topic,
	}).Info("Published sensor discovery config")

	r.mu.Lock()
	r.published[e.UniqueID()] = true
	r.mu.Unlock()
	return nil
}

// BuildStatePayload queries every entity of the device and returns the state
// document. Unknown values are left out.
func (r *Registrar) BuildStatePayload(deviceID string) map[string]any {
	state := make(map[string]any)
	for _, e := range r.Entities(deviceID) {
		v, ok := e.NativeValue()
		if !ok {
			continue
		}
		state[e.Sensor().String()] = v
		if r.observer != nil {
			r.observer.Observe(e, v)
		}
	}
	return state
}

// Transmit publishes the current state and availability of a device.
func (r *Registrar) Transmit(deviceID string) error {
	if !r.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	r.mu.Lock()
	slot, ok := r.slots[deviceID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s has no registered entities", deviceID)
	}
	slot <- struct{}{}
	defer func() { <-slot }()

	state := r.BuildStatePayload(deviceID)
	topic := mqtt.StateTopic(deviceID)
	if err := r.publishJSON(topic, state, true); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}

	if err := r.PublishAvailability(deviceID, true); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"topic":  topic,
		"values": len(state),
	}).Debug("Published sensor state")
	return nil
}

// PublishAvailability publishes the availability status of a device.
func (r *Registrar) PublishAvailability(deviceID string, online bool) error {
	topic := mqtt.AvailabilityTopic(deviceID)
	if err := r.client.Publish(topic, []byte(mqtt.AvailabilityPayload(online)), true); err != nil {
		return fmt.Errorf("failed to publish availability to %s: %w", topic, err)
	}
	return nil
}

// Devices returns the ids of all devices with registered entities.
func (r *Registrar) Devices() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registrar) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return r.client.Publish(topic, payload, retained)
}
