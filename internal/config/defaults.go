package config

import "time"

// Central place for all application-wide identifiers, timing constants and
// other defaults.

const (
	Domain       = "switchbottest"
	Manufacturer = "switchbot"
	DefaultName  = "Switchbot"

	DefaultDiscoveryPrefix = "homeassistant"
	DefaultReadingsTopic   = "switchbot/readings"
	DefaultBridgeID        = "switchbot_bridge"
)

// Device kinds, keyed by the model type the gateway reports.
const (
	AttrBot        = "bot"
	AttrCurtain    = "curtain"
	AttrHydrometer = "hydrometer"
)

// SupportedModelTypes maps SwitchBot model types to device kinds.
var SupportedModelTypes = map[string]string{
	"WoHand":     AttrBot,
	"WoCurtain":  AttrCurtain,
	"WoSensorTH": AttrHydrometer,
}

const (
	// Scheduler cadence: state is published at most this often per device.
	DefaultUpdateInterval = 60 * time.Second

	// Host-side retry of a setup that found no readings yet.
	SetupRetryInterval = 30 * time.Second

	// Scheduler tick
	SchedulerTick = 1 * time.Second

	// Initial broker connection attempts and the pause between them.
	DefaultRetryCount   = 3
	DefaultRetryTimeout = 5 * time.Second
)
