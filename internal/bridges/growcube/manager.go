package growcube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// DeviceConfig names one configured device.
type DeviceConfig struct {
	Host string
	Name string
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Devices []DeviceConfig

	// Factory builds device clients. Required.
	Factory growcubeclient.Factory

	IdentityTimeout   time.Duration
	ReconnectInterval time.Duration
	CommandTimeout    time.Duration

	Logger Logger
}

// Observer receives every change of every managed device.
type Observer func(c *Coordinator, ch Change)

// Manager owns one Coordinator per configured device and fans their
// changes out to observers.
type Manager struct {
	coordinators []*Coordinator
	interval     time.Duration

	observersMu  sync.RWMutex
	observers    map[int]Observer
	nextObserver int

	unsubscribe []func()

	started  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates coordinators for every configured device.
// Hosts must be unique.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: client factory is required", ErrInvalidArgument)
	}

	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	m := &Manager{
		interval:  interval,
		observers: make(map[int]Observer),
		done:      make(chan struct{}),
		logger:    cfg.Logger,
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		key := strings.ToLower(strings.TrimSpace(d.Host))
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate device host %q", ErrInvalidArgument, d.Host)
		}
		seen[key] = true

		c, err := NewCoordinator(CoordinatorConfig{
			Host:              d.Host,
			Name:              d.Name,
			Factory:           cfg.Factory,
			IdentityTimeout:   cfg.IdentityTimeout,
			ReconnectInterval: interval,
			CommandTimeout:    cfg.CommandTimeout,
			Logger:            cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.Host, err)
		}
		m.coordinators = append(m.coordinators, c)
		m.unsubscribe = append(m.unsubscribe, c.SubscribeAll(func(ch Change) {
			m.dispatch(c, ch)
		}))
	}

	return m, nil
}

// Start connects every device concurrently. The returned error joins the
// initial failures; those devices keep retrying in the background every
// ReconnectInterval until they connect or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("growcube: manager already started")
	}

	var (
		errsMu sync.Mutex
		errs   []error
		start  sync.WaitGroup
	)
	for _, c := range m.coordinators {
		start.Add(1)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			err := c.Connect(ctx)
			if err == nil {
				start.Done()
				m.logInfo("device connected",
					"host", c.Host(), "device_id", c.DeviceID())
				return
			}

			m.logWarn("initial connect failed, retrying in background",
				"host", c.Host(), "error", err)
			errsMu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", c.Host(), err))
			errsMu.Unlock()
			start.Done()

			m.retryConnect(ctx, c)
		}()
	}
	start.Wait()

	return errors.Join(errs...)
}

// retryConnect retries the first connection of a device. Once connected,
// the coordinator's own reconnect loop takes over.
func (m *Manager) retryConnect(ctx context.Context, c *Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-time.After(m.interval):
		}

		err := c.Connect(ctx)
		switch {
		case err == nil:
			m.logInfo("device connected", "host", c.Host(), "device_id", c.DeviceID())
			return
		case errors.Is(err, ErrShutdown):
			return
		default:
			m.logDebug("connect retry failed", "host", c.Host(), "error", err)
		}
	}
}

// Stop disconnects every device and waits for background work to end.
// Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)

		var stop sync.WaitGroup
		for _, c := range m.coordinators {
			stop.Add(1)
			go func() {
				defer stop.Done()
				c.Disconnect()
				c.Wait()
			}()
		}
		stop.Wait()
		m.wg.Wait()

		for _, unsub := range m.unsubscribe {
			unsub()
		}
	})
}

// Coordinators returns the managed coordinators in configuration order.
func (m *Manager) Coordinators() []*Coordinator {
	out := make([]*Coordinator, len(m.coordinators))
	copy(out, m.coordinators)
	return out
}

// Lookup finds a coordinator by device id or configured host.
func (m *Manager) Lookup(id string) (*Coordinator, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrDeviceNotFound)
	}
	for _, c := range m.coordinators {
		if c.DeviceID() == id {
			return c, nil
		}
	}
	for _, c := range m.coordinators {
		if strings.ToLower(c.Host()) == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Snapshot returns the live snapshot of a device by id or host.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	c, err := m.Lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Observe registers an observer for changes of every device. The returned
// function removes it.
func (m *Manager) Observe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}

	m.observersMu.Lock()
	m.nextObserver++
	id := m.nextObserver
	m.observers[id] = fn
	m.observersMu.Unlock()

	return func() {
		m.observersMu.Lock()
		delete(m.observers, id)
		m.observersMu.Unlock()
	}
}

func (m *Manager) dispatch(c *Coordinator, ch Change) {
	m.observersMu.RLock()
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.observersMu.RUnlock()

	for _, fn := range observers {
		m.safeObserve(fn, c, ch)
	}
}

func (m *Manager) safeObserve(fn Observer, c *Coordinator, ch Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("observer panicked", errPanic(r), "host", c.Host(), "field", string(ch.Field))
		}
	}()
	fn(c, ch)
}

// DeviceStatuses reports the connection status of every device.
func (m *Manager) DeviceStatuses() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		snap := c.Snapshot()
		out = append(out, DeviceStatus{
			Host:       snap.Identity.Host,
			DeviceID:   snap.Identity.DeviceID,
			Version:    snap.Identity.Version,
			Connection: snap.ConnState,
			Available:  snap.Available,
			Statistics: c.Stats(),
		})
	}
	return out
}

// SetLogger sets the logger for the manager and its coordinators.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()

	for _, c := range m.coordinators {
		c.SetLogger(logger)
	}
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, err error, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
