package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the write-through cache in front of a Repository. Every
// write goes to the repository first; the cache changes only when that
// succeeds. Callers always get copies.
type Registry struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry creates an empty registry; call RefreshCache to load it.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		logger:  noopLogger{},
		now:     func() time.Time { return time.Now().UTC() },
		devices: make(map[string]*Device),
	}
}

// SetLogger replaces the no-op logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every stored device. Loaded devices start
// unavailable until their coordinator reconnects.
func (r *Registry) RefreshCache(ctx context.Context) error {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	devices := make(map[string]*Device, len(stored))
	for i := range stored {
		d := stored[i].DeepCopy()
		d.Available = false
		devices[d.ID] = d
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

func (r *Registry) cached(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return d.DeepCopy(), true
}

func (r *Registry) store(d *Device) {
	r.mu.Lock()
	r.devices[d.ID] = d.DeepCopy()
	r.mu.Unlock()
}

// update applies fn to the cached device, if cached.
func (r *Registry) update(id string, fn func(*Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		next := d.DeepCopy()
		fn(next)
		r.devices[id] = next
	}
}

// GetDevice returns a device, reading through to the repository on a cache
// miss. Unknown ids give ErrDeviceNotFound.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	if d, ok := r.cached(id); ok {
		return d, nil
	}
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// ListDevices returns every cached device ordered by name, then id.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	r.mu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return devices
}

// RegisterDevice records a device that has just identified: it is created
// on first sight, otherwise its host, name and version are refreshed. Either
// way it becomes available.
func (r *Registry) RegisterDevice(ctx context.Context, reg Registration) error {
	now := r.now()

	d, known := r.cached(reg.ID)
	if !known {
		d = &Device{ID: reg.ID, FirstSeen: now, State: State{}}
	}
	d.Host = reg.Host
	d.Name = reg.Name
	if reg.Version != "" {
		v := reg.Version
		d.Version = &v
	}
	d.Available = true
	d.LastSeen = now

	if err := r.repo.Upsert(ctx, d); err != nil {
		return fmt.Errorf("registering device %s: %w", reg.ID, err)
	}
	r.store(d)

	if known {
		r.logger.Debug("device re-registered", "id", reg.ID, "host", reg.Host)
	} else {
		r.logger.Info("device registered", "id", reg.ID, "host", reg.Host, "name", reg.Name)
	}
	return nil
}

// SetAvailability records a device going online or offline.
func (r *Registry) SetAvailability(ctx context.Context, id string, available bool) error {
	now := r.now()
	if err := r.repo.UpdateAvailability(ctx, id, available, now); err != nil {
		return err
	}
	r.update(id, func(d *Device) {
		d.Available = available
		d.LastSeen = now
	})
	return nil
}

// SetDeviceState merges a partial state; nil values remove keys.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}
	now := r.now()
	r.update(id, func(d *Device) {
		if d.State == nil {
			d.State = State{}
		}
		d.State.Merge(state)
		d.StateUpdatedAt = &now
	})
	return nil
}

// DeleteDevice forgets a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// Exists reports whether a device is known.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.GetDevice(ctx, id)
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats summarises the registry for /metrics.
type Stats struct {
	TotalDevices     int `json:"total_devices"`
	AvailableDevices int `json:"available_devices"`
}

// GetStats counts cached and available devices.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{TotalDevices: len(r.devices)}
	for _, d := range r.devices {
		if d.Available {
			s.AvailableDevices++
		}
	}
	return s
}
