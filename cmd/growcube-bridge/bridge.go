package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
	"github.com/nerrad567/growcube-bridge/internal/device"
	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/config"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// bridgeDeps are the infrastructure clients the bridge writes to.
// mqtt and influx are nil when disabled.
type bridgeDeps struct {
	registry *device.Registry
	history  device.StateHistoryRepository
	mqtt     *mqtt.Client
	influx   *influxdb.Client
}

// bridge owns the device manager and everything observing it.
type bridge struct {
	log       *logging.Logger
	mqtt      *mqtt.Client
	manager   *growcube.Manager
	commands  *growcube.CommandHandler
	publisher *growcube.StatePublisher
	health    *growcube.HealthReporter
	recorder  *growcube.Recorder

	detach []func()
}

// newBridge wires the device manager to the recorder, MQTT publisher,
// command handler and health reporter. Nothing connects until start.
func newBridge(cfg *config.Config, log *logging.Logger, deps bridgeDeps) (*bridge, error) {
	b := &bridge{log: log, mqtt: deps.mqtt}

	devices := make([]growcube.DeviceConfig, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, growcube.DeviceConfig{Host: d.Host, Name: d.Name})
	}

	manager, err := growcube.NewManager(growcube.ManagerConfig{
		Devices:           devices,
		Factory:           clientFactory(cfg, log.Component("growcubeclient")),
		IdentityTimeout:   cfg.GetIdentityTimeout(),
		ReconnectInterval: cfg.GetReconnectInterval(),
		CommandTimeout:    cfg.GetCommandTimeout(),
		Logger:            log.Component("growcube"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating device manager: %w", err)
	}
	b.manager = manager

	// A nil *mqtt.Client must not end up inside a non-nil interface.
	var publisher growcube.Publisher
	if deps.mqtt != nil {
		publisher = deps.mqtt
	}

	b.commands, err = growcube.NewCommandHandler(growcube.CommandHandlerConfig{
		Devices:        manager,
		Publisher:      publisher,
		ButtonDuration: cfg.Bridge.ButtonDuration,
		Timeout:        cfg.GetCommandTimeout(),
		Logger:         log.Component("commands"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating command handler: %w", err)
	}

	if publisher != nil {
		b.publisher, err = growcube.NewStatePublisher(growcube.PublisherConfig{
			Publisher:       publisher,
			DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			Discovery:       cfg.HomeAssistant.Discovery,
			Logger:          log.Component("publisher"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating state publisher: %w", err)
		}
	}

	b.health = growcube.NewHealthReporter(growcube.HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   version,
		Interval:  cfg.GetHealthInterval(),
		Publisher: publisher,
		Devices:   manager,
	})
	b.health.SetLogger(log.Component("health"))

	recCfg := growcube.RecorderConfig{
		Devices: registryStore{registry: deps.registry},
		History: historyStore{repo: deps.history},
		Logger:  log.Component("recorder"),
	}
	if deps.influx != nil {
		recCfg.Telemetry = deps.influx
	}
	b.recorder = growcube.NewRecorder(recCfg)

	return b, nil
}

// start attaches the observers, subscribes to MQTT and connects the devices.
// Devices that fail to connect keep retrying in the background.
func (b *bridge) start(ctx context.Context) error {
	b.recorder.Start()
	b.detach = append(b.detach, b.manager.Observe(b.recorder.Observe))

	if b.publisher != nil {
		for _, c := range b.manager.Coordinators() {
			b.detach = append(b.detach, b.publisher.Attach(c))
		}
	}

	if b.mqtt != nil {
		//nolint:errcheck // Best-effort; the periodic report follows
		b.health.PublishStarting()

		if err := b.commands.Subscribe(b.mqtt); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
		if b.publisher != nil {
			if err := b.publisher.SubscribeHomeAssistant(b.mqtt, b.republish); err != nil {
				return fmt.Errorf("subscribing to Home Assistant status: %w", err)
			}
		}
		b.mqtt.SetOnConnect(func() {
			b.log.Info("MQTT reconnected, republishing devices")
			b.republish()
		})
		b.mqtt.SetOnDisconnect(func(err error) {
			b.log.Warn("MQTT disconnected", "error", err)
		})
	}

	if err := b.manager.Start(ctx); err != nil {
		b.log.Warn("some devices failed to connect; retrying in background", "error", err)
	}
	b.health.Start(ctx)

	b.log.Info("bridge started", "devices", len(b.manager.Coordinators()))
	return nil
}

// republish re-sends the retained topics of every identified device.
func (b *bridge) republish() {
	if b.publisher == nil {
		return
	}
	for _, c := range b.manager.Coordinators() {
		b.publisher.PublishDevice(c.Snapshot())
	}
}

// stop disconnects the devices first so their final availability changes
// reach the recorder and MQTT, then stops the recorder and health reporter.
func (b *bridge) stop() {
	b.log.Info("stopping bridge")
	b.manager.Stop()
	for _, detach := range b.detach {
		detach()
	}
	b.detach = nil
	b.recorder.Stop()
	b.health.Stop()
}

// clientFactory builds TCP clients for the configured port. Hosts that
// already carry a port keep it.
func clientFactory(cfg *config.Config, logger growcubeclient.Logger) growcubeclient.Factory {
	tcp := growcubeclient.TCPFactory(growcubeclient.Config{
		WriteTimeout: cfg.GetCommandTimeout(),
	}, logger)

	return func(host string, handlers growcubeclient.Handlers) growcubeclient.Client {
		return tcp(cfg.DeviceAddress(host), handlers)
	}
}

// registryStore adapts the device registry to growcube.DeviceStore.
type registryStore struct {
	registry *device.Registry
}

func (s registryStore) RegisterDevice(ctx context.Context, identity growcube.Identity) error {
	return s.registry.RegisterDevice(ctx, device.Registration{
		ID:      identity.DeviceID,
		Host:    identity.Host,
		Name:    identity.DeviceInfo().Name,
		Version: identity.Version,
	})
}

func (s registryStore) SetAvailability(ctx context.Context, deviceID string, available bool) error {
	return s.registry.SetAvailability(ctx, deviceID, available)
}

func (s registryStore) SetDeviceState(ctx context.Context, deviceID string, state map[string]any) error {
	return s.registry.SetDeviceState(ctx, deviceID, device.State(state))
}

// historyStore adapts the state history repository to growcube.HistoryRecorder.
type historyStore struct {
	repo device.StateHistoryRepository
}

func (s historyStore) RecordChange(ctx context.Context, deviceID, field, channel string, value any, source string) error {
	return s.repo.RecordStateChange(ctx, device.StateHistoryEntry{
		DeviceID: deviceID,
		Field:    field,
		Channel:  channel,
		Value:    value,
		Source:   source,
	})
}
