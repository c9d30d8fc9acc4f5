package app

import (
	"context"
	"errors"
	"time"

	"github.com/jkaberg/switchbot-hass/internal/bus"
	"github.com/jkaberg/switchbot-hass/internal/config"
	"github.com/jkaberg/switchbot-hass/internal/coordinator"
	"github.com/jkaberg/switchbot-hass/internal/domain"
	"github.com/jkaberg/switchbot-hass/internal/entity"
	"github.com/jkaberg/switchbot-hass/internal/metrics"
	"github.com/jkaberg/switchbot-hass/internal/sensors"
	"github.com/jkaberg/switchbot-hass/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Client is what the app needs from the broker connection.
type Client interface {
	coordinator.Subscriber
	transmission.Publisher
}

// App wires the coordinator, the entity platform and the Home Assistant
// registrar together and plays the host's part: it runs setup, retries it
// while devices are not ready, and publishes entity state.
type App struct {
	cfg       *config.Config
	client    Client
	bus       *bus.Bus
	coord     *coordinator.Coordinator
	registrar *transmission.Registrar
	metrics   *metrics.Metrics
	logger    *logrus.Logger

	setupRetry time.Duration
	tick       time.Duration
}

// New builds an App around an already connected client.
func New(cfg *config.Config, client Client, version string, logger *logrus.Logger) *App {
	messageBus := bus.New()
	m := metrics.New()
	registrar := transmission.NewRegistrar(client, cfg.DiscoveryPrefix, config.Manufacturer, version, logger)
	registrar.SetObserver(m)

	return &App{
		cfg:        cfg,
		client:     client,
		bus:        messageBus,
		coord:      coordinator.New(messageBus, logger),
		registrar:  registrar,
		metrics:    m,
		logger:     logger,
		setupRetry: config.SetupRetryInterval,
		tick:       config.SchedulerTick,
	}
}

// Run blocks until ctx is cancelled or a job fails.
func (a *App) Run(parentCtx context.Context) error {
	grp, ctx := errgroup.WithContext(parentCtx)

	// Subscribe before ingest starts so no update is missed.
	schedulerUpdates := a.bus.Subscribe(64)
	setupUpdates := make(map[string]<-chan bus.Update, len(a.cfg.Devices))
	for _, entry := range a.cfg.Devices {
		setupUpdates[entry.UniqueID] = a.bus.Subscribe(4)
	}

	if err := a.coord.Ingest(a.client, a.cfg.ReadingsTopic); err != nil {
		return err
	}

	// Setup ---------------------------------------------------------------
	for _, entry := range a.cfg.Devices {
		entry := entry
		grp.Go(func() error {
			return a.setupDevice(ctx, entry, setupUpdates[entry.UniqueID])
		})
	}

	// Scheduler -----------------------------------------------------------
	grp.Go(func() error {
		return a.schedule(ctx, schedulerUpdates)
	})

	// Metrics -------------------------------------------------------------
	if a.cfg.HasMetrics() {
		grp.Go(func() error {
			return a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.logger)
		})
	}

	err := grp.Wait()
	a.bus.Close()
	a.markOffline()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupDevice runs entity.Setup until it succeeds. Not-ready devices are
// retried on every reading update for that device and at least every
// setupRetry.
func (a *App) setupDevice(ctx context.Context, entry entity.ConfigEntry, updates <-chan bus.Update) error {
	log := a.logger.WithFields(logrus.Fields{"device_id": entry.UniqueID, "name": entry.Name})
	retry := time.NewTicker(a.setupRetry)
	defer retry.Stop()

	for {
		err := entity.Setup(a.coord, entry, a.registrar.AddEntities)
		switch {
		case err == nil:
			log.WithField("entities", len(a.registrar.Entities(entry.UniqueID))).Info("Device set up")
			return nil
		case errors.Is(err, entity.ErrNotReady):
			a.metrics.SetupNotReady(entry.UniqueID)
			log.Debug("No readings yet; setup deferred")
		default:
			log.WithError(err).Warn("Device setup failed; will retry")
		}

		if !a.waitForRetry(ctx, entry.UniqueID, retry.C, updates) {
			return ctx.Err()
		}
	}
}

func (a *App) waitForRetry(ctx context.Context, deviceID string, retry <-chan time.Time, updates <-chan bus.Update) bool {
	id := coordinator.NormalizeID(deviceID)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-retry:
			return true
		case u, ok := <-updates:
			if !ok {
				return false
			}
			if u.DeviceID == id {
				return true
			}
		}
	}
}

type deviceState struct {
	lastSent time.Time
	lastSnap sensors.Readings
}

// schedule publishes entity state for every set-up device whose readings
// changed, at most once per UpdateInterval, and unconditionally once per
// ForceUpdateInterval when that is enabled.
func (a *App) schedule(ctx context.Context, updates <-chan bus.Update) error {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	states := make(map[string]*deviceState)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if d, found := a.coord.Data(u.DeviceID); found {
				a.metrics.ReadingsReceived(u.DeviceID, d.UpdatedAt)
			}
		case now := <-ticker.C:
			for _, id := range a.registrar.Devices() {
				st, ok := states[id]
				if !ok {
					st = &deviceState{}
					states[id] = st
				}
				a.publishIfDue(id, st, now)
			}
		}
	}
}

func (a *App) publishIfDue(deviceID string, st *deviceState, now time.Time) {
	if !st.lastSent.IsZero() && now.Sub(st.lastSent) < a.cfg.UpdateInterval {
		return
	}

	cur, _ := a.coord.Readings(deviceID)
	forced := a.cfg.ForceUpdateInterval > 0 && now.Sub(st.lastSent) >= a.cfg.ForceUpdateInterval
	if !forced && st.lastSnap != nil && !domain.Changed(st.lastSnap, cur) {
		return
	}

	err := a.registrar.Transmit(deviceID)
	a.metrics.StatePublished(deviceID, err)
	st.lastSent = now
	if err != nil {
		a.logger.WithError(err).WithField("device_id", deviceID).Warn("State publish failed")
		// Reset the snapshot so the next due tick retries even without a change.
		st.lastSnap = nil
		return
	}
	st.lastSnap = cur
}

// markOffline flags every set-up device as unavailable.
func (a *App) markOffline() {
	if !a.client.IsConnected() {
		return
	}
	for _, id := range a.registrar.Devices() {
		if err := a.registrar.PublishAvailability(id, false); err != nil {
			a.logger.WithError(err).WithField("device_id", id).Debug("Failed to publish offline status")
		}
	}
}
