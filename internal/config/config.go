package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/entity"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the bridge
type Config struct {
	// MQTT Configuration
	MQTTUrl         string        // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string        // Home Assistant discovery prefix
	ReadingsTopic   string        // Prefix the BLE gateway publishes reading sets under
	BridgeID        string        // Identifies this bridge instance on the broker
	RetryCount      int           // Initial connection attempts
	RetryTimeout    time.Duration // Pause between connection attempts

	// Devices
	DevicesFile string
	Devices     []entity.ConfigEntry

	// Application Configuration
	Verbose             bool
	MetricsAddr         string        // Prometheus listen address, empty = disabled
	UpdateInterval      time.Duration // Minimum time between state publishes
	ForceUpdateInterval time.Duration // Publish even if unchanged, 0 = disabled
}

// devicesFile is the on-disk layout of the devices file.
type devicesFile struct {
	Devices []entity.ConfigEntry `yaml:"devices"`
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		DiscoveryPrefix: DefaultDiscoveryPrefix,
		ReadingsTopic:   DefaultReadingsTopic,
		BridgeID:        DefaultBridgeID,
		RetryCount:      DefaultRetryCount,
		RetryTimeout:    DefaultRetryTimeout,
		UpdateInterval:  DefaultUpdateInterval,
	}
}

// LoadDevices reads the device list from a YAML file.
func LoadDevices(path string) ([]entity.ConfigEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices file: %w", err)
	}

	var f devicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse devices file %s: %w", path, err)
	}
	return f.Devices, nil
}

// Validate checks if the configuration is valid and fills in per-device
// defaults.
func (c *Config) Validate() error {
	if c.MQTTUrl == "" {
		return fmt.Errorf("MQTT URL is required")
	}
	if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
		!strings.HasPrefix(c.MQTTUrl, "wss://") &&
		!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
		!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
		return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
	}

	if c.BridgeID == "" {
		return fmt.Errorf("bridge ID is required")
	}
	if c.ReadingsTopic == "" || strings.ContainsAny(c.ReadingsTopic, "+#") {
		return fmt.Errorf("readings topic must be a non-empty prefix without wildcards")
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.UniqueID == "" {
			return fmt.Errorf("device %d: id is required", i)
		}
		key := strings.ToLower(d.UniqueID)
		if seen[key] {
			return fmt.Errorf("device %s: duplicate id", d.UniqueID)
		}
		seen[key] = true

		if _, err := net.ParseMAC(d.MAC); err != nil {
			return fmt.Errorf("device %s: invalid MAC address %q", d.UniqueID, d.MAC)
		}
		if d.Model != "" {
			if _, ok := SupportedModelTypes[d.Model]; !ok {
				return fmt.Errorf("device %s: unsupported model %q", d.UniqueID, d.Model)
			}
		}
		if d.Name == "" {
			d.Name = DefaultName
		}
	}

	// Set defaults for invalid values
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.ForceUpdateInterval < 0 {
		c.ForceUpdateInterval = 0
	}
	if c.RetryCount < 1 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryTimeout < 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}

	return nil
}

// HasMetrics returns true if the Prometheus endpoint is enabled
func (c *Config) HasMetrics() bool {
	return c.MetricsAddr != ""
}
