// Package entity binds sensor descriptors to a device's live reading set and
// exposes them as host entities.
package entity

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jkaberg/switchbot-hass/internal/sensors"
)

// ParallelUpdates is the number of concurrent state queries allowed per
// device.
const ParallelUpdates = 1

// ErrNotReady is returned by Setup when the coordinator has no data for the
// device yet. The caller is expected to retry setup later.
var ErrNotReady = errors.New("platform not ready")

// Source is the read-only view of the coordinator an entity needs.
type Source interface {
	Readings(deviceID string) (sensors.Readings, bool)
	HasData(deviceID string) bool
}

// ConfigEntry describes one configured device.
type ConfigEntry struct {
	UniqueID string `yaml:"id" json:"id"`
	MAC      string `yaml:"mac" json:"mac"`
	Name     string `yaml:"name" json:"name"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
}

// AddEntitiesFunc registers freshly created entities with the host.
type AddEntitiesFunc func(entities []*SensorEntity) error

// SensorEntity is a host-visible view of one sensor of one device.
type SensorEntity struct {
	source     Source
	deviceID   string
	sensor     sensors.SensorType
	mac        string
	deviceName string
	model      string
}

// NewSensorEntity creates an entity for sensor on the device described by
// entry.
func NewSensorEntity(source Source, entry ConfigEntry, sensor sensors.SensorType) *SensorEntity {
	return &SensorEntity{
		source:     source,
		deviceID:   entry.UniqueID,
		sensor:     sensor,
		mac:        entry.MAC,
		deviceName: entry.Name,
		model:      entry.Model,
	}
}

func (e *SensorEntity) DeviceID() string   { return e.deviceID }
func (e *SensorEntity) DeviceName() string { return e.deviceName }
func (e *SensorEntity) MAC() string        { return e.mac }
func (e *SensorEntity) Model() string      { return e.model }

// Sensor returns the sensor type this entity exposes.
func (e *SensorEntity) Sensor() sensors.SensorType { return e.sensor }

// Description returns the presentation metadata of the entity.
func (e *SensorEntity) Description() sensors.Descriptor { return sensors.Describe(e.sensor) }

// UniqueID is "<device id>-<reading key>".
func (e *SensorEntity) UniqueID() string {
	return fmt.Sprintf("%s-%s", e.deviceID, e.sensor.String())
}

// Name is the device name followed by the title-cased reading key.
func (e *SensorEntity) Name() string {
	return fmt.Sprintf("%s %s", e.deviceName, sensors.Title(e.sensor.String()))
}

// NativeValue returns the current raw value of the sensor. The reading set is
// fetched and flattened on every call. The second result is false when the
// device has no data or the reading set lacks this sensor; the host shows
// such entities as unknown.
func (e *SensorEntity) NativeValue() (any, bool) {
	readings, ok := e.source.Readings(e.deviceID)
	if !ok {
		return nil, false
	}
	v, ok := sensors.Flatten(readings)[e.sensor.String()]
	return v, ok
}

// Setup creates one entity per recognized sensor in the device's current
// reading set and hands them to add. It returns ErrNotReady when the source
// has no data for the device yet.
func Setup(source Source, entry ConfigEntry, add AddEntitiesFunc) error {
	if !source.HasData(entry.UniqueID) {
		return fmt.Errorf("device %s: %w", entry.UniqueID, ErrNotReady)
	}

	readings, _ := source.Readings(entry.UniqueID)
	flat := sensors.Flatten(readings)

	var types []sensors.SensorType
	for key := range flat {
		if typ, ok := sensors.Lookup(key); ok {
			types = append(types, typ)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	entities := make([]*SensorEntity, 0, len(types))
	for _, typ := range types {
		entities = append(entities, NewSensorEntity(source, entry, typ))
	}

	return add(entities)
}
