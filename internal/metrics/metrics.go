// Package metrics exposes entity values and bridge health to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/coordinator"
	"github.com/jkaberg/switchbot-hass/internal/entity"
	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	registry  *prometheus.Registry
	values    *prometheus.GaugeVec
	lastSeen  *prometheus.GaugeVec
	notReady  *prometheus.CounterVec
	published *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchbot_sensor_value",
			Help: "Last value published for a SwitchBot sensor entity.",
		}, []string{"device", "name", "sensor", "unit"}),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchbot_readings_last_update_timestamp_seconds",
			Help: "Unix time of the last reading set received for a device.",
		}, []string{"device"}),
		notReady: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchbot_setup_not_ready_total",
			Help: "Setup attempts deferred because no readings were available yet.",
		}, []string{"device"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchbot_state_publish_total",
			Help: "State publications by result.",
		}, []string{"device", "result"}),
	}
	m.registry.MustRegister(m.values, m.lastSeen, m.notReady, m.published)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records a published entity value. Non-numeric values are skipped.
// Device labels use the coordinator's normalized id throughout.
func (m *Metrics) Observe(e *entity.SensorEntity, value any) {
	v, ok := sensors.Float(value)
	if !ok {
		return
	}
	m.values.With(prometheus.Labels{
		"device": coordinator.NormalizeID(e.DeviceID()),
		"name":   e.Name(),
		"sensor": e.Sensor().String(),
		"unit":   e.Description().Unit,
	}).Set(v)
}

// ReadingsReceived records the time of the latest reading set of a device.
func (m *Metrics) ReadingsReceived(deviceID string, at time.Time) {
	m.lastSeen.WithLabelValues(coordinator.NormalizeID(deviceID)).Set(float64(at.Unix()))
}

// SetupNotReady counts a deferred setup.
func (m *Metrics) SetupNotReady(deviceID string) {
	m.notReady.WithLabelValues(coordinator.NormalizeID(deviceID)).Inc()
}

// StatePublished counts a state publication.
func (m *Metrics) StatePublished(deviceID string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(coordinator.NormalizeID(deviceID), result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("Serving Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
