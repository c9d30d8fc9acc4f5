package sensors

// Wire keys used by the gateway for the nested temperature object, and the
// flat key derived from it.
const (
	KeyTemp               = "temp"
	KeyTempCelsius        = "c"
	KeyTemperatureCelsius = "temperature_celsius"
)

// Flatten deconstructs the gateway's temp object with C/F readings into a
// flat "temperature_celsius" field so every sensor can be found with a single
// key lookup.
//
// The input is never modified; a shallow copy is returned when a field is
// added. Flatten only adds a derived key and never removes the source key, so
// applying it twice is the same as applying it once.
func Flatten(r Readings) Readings {
	celsius, ok := nestedCelsius(r)
	if !ok {
		return r
	}

	out := make(Readings, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[KeyTemperatureCelsius] = celsius
	return out
}

func nestedCelsius(r Readings) (any, bool) {
	temp, ok := r[KeyTemp]
	if !ok {
		return nil, false
	}
	switch t := temp.(type) {
	case map[string]any:
		c, ok := t[KeyTempCelsius]
		return c, ok
	case Readings:
		c, ok := t[KeyTempCelsius]
		return c, ok
	case map[string]float64:
		c, ok := t[KeyTempCelsius]
		return c, ok
	}
	return nil, false
}
