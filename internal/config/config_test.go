package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.MQTTUrl = "mqtt://broker.lan:1883"
	cfg.Devices = []entity.ConfigEntry{{UniqueID: "bedroom", MAC: "C1:A2:B3:C4:D5:E6", Model: "WoSensorTH"}}
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.UpdateInterval = 0
	cfg.ForceUpdateInterval = -time.Second
	cfg.RetryCount = 0
	cfg.RetryTimeout = -time.Second

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRetryCount, cfg.RetryCount)
	assert.Equal(t, DefaultRetryTimeout, cfg.RetryTimeout)
	assert.Equal(t, DefaultName, cfg.Devices[0].Name)
	assert.Equal(t, DefaultUpdateInterval, cfg.UpdateInterval)
	assert.Zero(t, cfg.ForceUpdateInterval)
	assert.False(t, cfg.HasMetrics())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"no url":        func(c *Config) { c.MQTTUrl = "" },
		"bad scheme":    func(c *Config) { c.MQTTUrl = "http://broker.lan" },
		"no bridge":     func(c *Config) { c.BridgeID = "" },
		"wildcard":      func(c *Config) { c.ReadingsTopic = "switchbot/#" },
		"no devices":    func(c *Config) { c.Devices = nil },
		"no id":         func(c *Config) { c.Devices[0].UniqueID = "" },
		"bad mac":       func(c *Config) { c.Devices[0].MAC = "not-a-mac" },
		"unknown model": func(c *Config) { c.Devices[0].Model = "WoPlug" },
		"duplicate": func(c *Config) {
			c.Devices = append(c.Devices, entity.ConfigEntry{UniqueID: "Bedroom", MAC: "C1:A2:B3:C4:D5:E7"})
		},
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	content := `devices:
  - id: bedroom
    mac: "C1:A2:B3:C4:D5:E6"
    name: Bedroom
    model: WoSensorTH
  - id: kitchen
    mac: "C1:A2:B3:C4:D5:E7"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	devices, err := LoadDevices(path)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, entity.ConfigEntry{UniqueID: "bedroom", MAC: "C1:A2:B3:C4:D5:E6", Name: "Bedroom", Model: "WoSensorTH"}, devices[0])
	assert.Equal(t, "kitchen", devices[1].UniqueID)

	_, err = LoadDevices(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("devices: [unclosed"), 0o644))
	_, err = LoadDevices(bad)
	assert.Error(t, err)
}
