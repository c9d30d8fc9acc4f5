package domain

import (
	"math"
	"reflect"

	"github.com/jkaberg/switchbot-hass/internal/sensors"
)

// rssiJitter is the signal strength change (dBm) treated as noise.
const rssiJitter = 3.0

// Changed returns true if cur differs from prev beyond tolerated jitter.
// Both sets are compared after flattening; small RSSI fluctuations, which
// every BLE advertisement carries, are ignored so they don't trigger a
// publish on their own.
func Changed(prev, cur sensors.Readings) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}

	p, c := sensors.Flatten(prev), sensors.Flatten(cur)
	if len(p) != len(c) {
		return true
	}

	for k, cv := range c {
		pv, ok := p[k]
		if !ok {
			return true
		}
		if k == "rssi" {
			pf, pok := sensors.Float(pv)
			cf, cok := sensors.Float(cv)
			if pok && cok && math.Abs(pf-cf) < rssiJitter {
				continue
			}
		}
		if !reflect.DeepEqual(pv, cv) {
			return true
		}
	}
	return false
}
