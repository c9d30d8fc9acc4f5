package entity

import (
	"errors"
	"testing"

	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource is an in-memory Source whose data can be swapped between calls.
type mapSource map[string]sensors.Readings

func (m mapSource) Readings(id string) (sensors.Readings, bool) {
	r, ok := m[id]
	return r, ok
}

func (m mapSource) HasData(id string) bool { return len(m[id]) > 0 }

var meter = ConfigEntry{UniqueID: "meter-1", MAC: "C1:A2:B3:C4:D5:E6", Name: "Bedroom", Model: "WoSensorTH"}

func collect(dst *[]*SensorEntity) AddEntitiesFunc {
	return func(entities []*SensorEntity) error {
		*dst = append(*dst, entities...)
		return nil
	}
}

func TestSetupCreatesEntitiesForKnownKeysOnly(t *testing.T) {
	src := mapSource{"meter-1": {"battery": 80.0, "humidity": 45.0, "mode": "x"}}

	var got []*SensorEntity
	require.NoError(t, Setup(src, meter, collect(&got)))

	require.Len(t, got, 2)
	assert.Equal(t, sensors.Battery, got[0].Sensor())
	assert.Equal(t, sensors.Humidity, got[1].Sensor())
}

func TestSetupOrdersEntitiesBySensorType(t *testing.T) {
	src := mapSource{"meter-1": {
		"temp":       map[string]any{"c": 21.5, "f": 70.7},
		"humidity":   45.0,
		"lightLevel": 3.0,
		"battery":    80.0,
		"rssi":       -71.0,
	}}

	for i := 0; i < 10; i++ {
		var got []*SensorEntity
		require.NoError(t, Setup(src, meter, collect(&got)))
		types := make([]sensors.SensorType, 0, len(got))
		for _, e := range got {
			types = append(types, e.Sensor())
		}
		assert.Equal(t, sensors.AllTypes(), types)
	}
}

func TestSetupIgnoresMalformedTemperature(t *testing.T) {
	src := mapSource{"meter-1": {"battery": 80.0, "humidity": 45.0, "temp": 3.0, "data": 1.0}}

	var got []*SensorEntity
	require.NoError(t, Setup(src, meter, collect(&got)))
	assert.Len(t, got, 2)
}

func TestSetupFlattensTemperature(t *testing.T) {
	src := mapSource{"meter-1": {
		"rssi": -71.0,
		"temp": map[string]any{"c": 21.5, "f": 70.7},
	}}

	var got []*SensorEntity
	require.NoError(t, Setup(src, meter, collect(&got)))

	require.Len(t, got, 2)
	assert.Equal(t, sensors.Rssi, got[0].Sensor())
	assert.Equal(t, sensors.TemperatureCelsius, got[1].Sensor())
	assert.Equal(t, "meter-1-temperature_celsius", got[1].UniqueID())
	assert.Equal(t, "Bedroom Temperature_Celsius", got[1].Name())

	v, ok := got[1].NativeValue()
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
}

func TestSetupNotReady(t *testing.T) {
	called := false
	err := Setup(mapSource{}, meter, func([]*SensorEntity) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, called)

	err = Setup(mapSource{"meter-1": {}}, meter, collect(new([]*SensorEntity)))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSetupPropagatesAddError(t *testing.T) {
	src := mapSource{"meter-1": {"battery": 80.0}}
	boom := errors.New("broker down")

	err := Setup(src, meter, func([]*SensorEntity) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestNativeValueTracksLiveReadings(t *testing.T) {
	src := mapSource{"meter-1": {"humidity": 45.0}}
	e := NewSensorEntity(src, meter, sensors.Humidity)

	v, ok := e.NativeValue()
	require.True(t, ok)
	assert.Equal(t, 45.0, v)

	src["meter-1"] = sensors.Readings{"humidity": 52.0}
	v, ok = e.NativeValue()
	require.True(t, ok)
	assert.Equal(t, 52.0, v)

	src["meter-1"] = sensors.Readings{"temp": map[string]any{"c": 19.0}}
	temp := NewSensorEntity(src, meter, sensors.TemperatureCelsius)
	v, ok = temp.NativeValue()
	require.True(t, ok)
	assert.Equal(t, 19.0, v)
}

func TestNativeValueUnknown(t *testing.T) {
	src := mapSource{"meter-1": {"battery": 80.0}}
	e := NewSensorEntity(src, meter, sensors.Humidity)

	v, ok := e.NativeValue()
	assert.False(t, ok)
	assert.Nil(t, v)

	delete(src, "meter-1")
	_, ok = NewSensorEntity(src, meter, sensors.Battery).NativeValue()
	assert.False(t, ok)
}

func TestNativeValueKeepsRawType(t *testing.T) {
	src := mapSource{"meter-1": {"lightLevel": "bright"}}
	v, ok := NewSensorEntity(src, meter, sensors.LightLevel).NativeValue()
	require.True(t, ok)
	assert.Equal(t, "bright", v)
}

func TestEntityMetadata(t *testing.T) {
	e := NewSensorEntity(mapSource{}, meter, sensors.LightLevel)
	assert.Equal(t, "meter-1-lightLevel", e.UniqueID())
	assert.Equal(t, "Bedroom Lightlevel", e.Name())
	assert.Equal(t, "Level", e.Description().Unit)
	assert.Equal(t, "C1:A2:B3:C4:D5:E6", e.MAC())
	assert.Equal(t, "WoSensorTH", e.Model())
}
