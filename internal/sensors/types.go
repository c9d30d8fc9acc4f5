package sensors

import "strings"

// Readings is the raw reading set for one device, in the shape produced by
// the BLE gateway: {"rssi": -71, "battery": 80, "humidity": 45,
// "temp": {"c": 21.5, "f": 70.7}}. Values are left untyped because the gateway
// mixes numbers and nested objects.
type Readings map[string]any

// SensorType enumerates the sensors we know how to expose.
type SensorType int

const (
	Rssi SensorType = iota
	Battery
	LightLevel
	Humidity
	TemperatureCelsius

	numSensorTypes
)

// Entity categories understood by Home Assistant.
const (
	CategoryNone       = ""
	CategoryDiagnostic = "diagnostic"
)

// Descriptor provides presentation metadata for a sensor type.
type Descriptor struct {
	Type SensorType

	// ReadingKey is the key looked up in the (flattened) reading set and used
	// to build unique IDs.
	ReadingKey string
	// Key is the entity description key shown to the host.
	Key string

	Unit             string
	DeviceClass      string
	Category         string
	EnabledByDefault bool
}

// descriptors is indexed by SensorType.
var descriptors = [numSensorTypes]Descriptor{
	Rssi: {
		Type:             Rssi,
		ReadingKey:       "rssi",
		Key:              "rssi",
		Unit:             "dBm",
		DeviceClass:      "signal_strength",
		Category:         CategoryDiagnostic,
		EnabledByDefault: false,
	},
	Battery: {
		Type:             Battery,
		ReadingKey:       "battery",
		Key:              "battery",
		Unit:             "%",
		DeviceClass:      "battery",
		Category:         CategoryDiagnostic,
		EnabledByDefault: true,
	},
	LightLevel: {
		Type:             LightLevel,
		ReadingKey:       "lightLevel",
		Key:              "lightLevel",
		Unit:             "Level",
		DeviceClass:      "illuminance",
		EnabledByDefault: true,
	},
	Humidity: {
		Type:             Humidity,
		ReadingKey:       "humidity",
		Key:              "humidity",
		Unit:             "%",
		DeviceClass:      "humidity",
		EnabledByDefault: true,
	},
	TemperatureCelsius: {
		Type:             TemperatureCelsius,
		ReadingKey:       KeyTemperatureCelsius,
		Key:              "temperature",
		Unit:             "°C",
		DeviceClass:      "temperature",
		EnabledByDefault: true,
	},
}

// AllTypes returns every sensor type in declaration order.
func AllTypes() []SensorType {
	types := make([]SensorType, 0, numSensorTypes)
	for t := SensorType(0); t < numSensorTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Describe returns the descriptor for t. It panics on values outside the
// enum, which can only come from a programming error.
func Describe(t SensorType) Descriptor {
	return descriptors[t]
}

// Lookup maps a reading key to its sensor type.
func Lookup(readingKey string) (SensorType, bool) {
	for _, d := range descriptors {
		if d.ReadingKey == readingKey {
			return d.Type, true
		}
	}
	return 0, false
}

func (t SensorType) String() string {
	if t < 0 || t >= numSensorTypes {
		return "unknown"
	}
	return descriptors[t].ReadingKey
}

// Title upper-cases the first letter of every run of letters and lower-cases
// the rest, e.g. "lightLevel" -> "Lightlevel", "temperature_celsius" ->
// "Temperature_Celsius".
func Title(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		switch {
		case isLetter && !prevLetter:
			b.WriteString(strings.ToUpper(string(r)))
		case isLetter:
			b.WriteString(strings.ToLower(string(r)))
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
