package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/app"
	"github.com/jkaberg/switchbot-hass/internal/config"
	"github.com/jkaberg/switchbot-hass/internal/mqtt"
	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, listSensors := parseFlags()

	if listSensors {
		printSensors()
		return
	}

	logger := setupLogger(cfg.Verbose)

	if cfg.DevicesFile != "" {
		devices, err := config.LoadDevices(cfg.DevicesFile)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load devices")
		}
		cfg.Devices = devices
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logFields := logrus.Fields{
		"version":        version,
		"domain":         config.Domain,
		"bridge_id":      cfg.BridgeID,
		"devices":        len(cfg.Devices),
		"readings_topic": cfg.ReadingsTopic,
		"update_int":     cfg.UpdateInterval,
	}
	if cfg.ForceUpdateInterval > 0 {
		logFields["force_update_int"] = cfg.ForceUpdateInterval
	}
	if cfg.HasMetrics() {
		logFields["metrics_addr"] = cfg.MetricsAddr
	}
	logger.WithFields(logFields).Info("Starting SwitchBot-HASS")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Core clients ---------------------------------------------------------------
	client, err := mqtt.NewClient(cfg.MQTTUrl, cfg.BridgeID, cfg.RetryCount, cfg.RetryTimeout, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MQTT client")
	}
	defer client.Disconnect(250)

	// Run application ------------------------------------------------------------
	if err := app.New(cfg, client, version, logger).Run(ctx); err != nil {
		logger.WithError(err).Error("SwitchBot-HASS stopped with error")
		return
	}
	logger.Info("SwitchBot-HASS stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() (*config.Config, bool) {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")
	listSensors := flag.Bool("list-sensors", false, "Print the supported sensor table and exit")

	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("SWITCHBOT_HASS_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("SWITCHBOT_HASS_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.ReadingsTopic, "readings-topic", getEnv("SWITCHBOT_HASS_READINGS_TOPIC", cfg.ReadingsTopic), "Topic prefix the BLE gateway publishes readings under")
	flag.StringVar(&cfg.BridgeID, "bridge-id", getEnv("SWITCHBOT_HASS_BRIDGE_ID", cfg.BridgeID), "Bridge identifier")
	flag.StringVar(&cfg.DevicesFile, "devices-file", getEnv("SWITCHBOT_HASS_DEVICES_FILE", "devices.yaml"), "YAML file listing the configured devices")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("SWITCHBOT_HASS_METRICS_ADDR", cfg.MetricsAddr), "Prometheus listen address (empty = disabled)")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("SWITCHBOT_HASS_VERBOSE", "false") == "true", "Verbose logging")

	flag.IntVar(&cfg.RetryCount, "retry-count", getEnvInt("SWITCHBOT_HASS_RETRY_COUNT", cfg.RetryCount), "Initial MQTT connection attempts")
	retryTimeoutStr := flag.String("retry-timeout", getEnv("SWITCHBOT_HASS_RETRY_TIMEOUT", ""), "Pause between MQTT connection attempts (e.g. 5s)")
	updateIntervalStr := flag.String("update-interval", getEnv("SWITCHBOT_HASS_UPDATE_INTERVAL", ""), "Minimum time between state publishes (e.g. 60s)")
	forceUpdateIntervalStr := flag.String("force-update-interval", getEnv("SWITCHBOT_HASS_FORCE_UPDATE_INTERVAL", ""), "Publish state at this interval even if unchanged (e.g. 10m, 0 = disabled)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("switchbot-hass %s\n", version)
		os.Exit(0)
	}

	// Duration overrides
	if d, ok := parseInterval(*updateIntervalStr); ok && d > 0 {
		cfg.UpdateInterval = d
	}
	if d, ok := parseInterval(*retryTimeoutStr); ok {
		cfg.RetryTimeout = d
	}
	if d, ok := parseInterval(*forceUpdateIntervalStr); ok {
		cfg.ForceUpdateInterval = d
	}

	return cfg, *listSensors
}

// parseInterval accepts a Go duration or a plain number of seconds.
func parseInterval(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d, true
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func printSensors() {
	for _, t := range sensors.AllTypes() {
		d := sensors.Describe(t)
		fmt.Printf("%-20s unit=%-6q class=%-16s category=%-10s enabled=%t\n",
			d.ReadingKey, d.Unit, d.DeviceClass, d.Category, d.EnabledByDefault)
	}
}
