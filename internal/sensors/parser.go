package sensors

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseReadings decodes a gateway payload into a reading set. Both the bare
// reading set and the {"data": {...}} envelope are accepted.
func ParseReadings(payload []byte) (Readings, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var raw Readings
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal readings: %w", err)
	}

	if data, ok := raw["data"]; ok {
		if inner, isObject := data.(map[string]any); isObject {
			raw = Readings(inner)
		}
	}

	if raw == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return raw, nil
}

// Validate performs basic range checks on a reading set and returns a warning
// for every suspicious value. Readings are never rejected.
func Validate(r Readings) []string {
	var warnings []string

	check := func(key string, min, max float64, unit string) {
		v, ok := Float(r[key])
		if !ok {
			return
		}
		if v < min || v > max {
			warnings = append(warnings, fmt.Sprintf("%s out of range: %.1f%s", key, v, unit))
		}
	}

	check("battery", 0, 100, "%")
	check("humidity", 0, 100, "%")
	check(KeyTemperatureCelsius, -40, 85, "°C")
	check("rssi", -127, 20, "dBm")

	return warnings
}

// Float converts a numeric reading to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
