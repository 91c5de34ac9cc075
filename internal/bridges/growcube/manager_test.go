package growcube

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// mockFleet hands out one mockClient per host.
type mockFleet struct {
	mu      sync.Mutex
	clients map[string]*mockClient
	ids     map[string]string
	failing map[string]bool
}

func newMockFleet() *mockFleet {
	return &mockFleet{
		clients: make(map[string]*mockClient),
		ids:     make(map[string]string),
		failing: make(map[string]bool),
	}
}

func (f *mockFleet) factory() growcubeclient.Factory {
	return func(host string, handlers growcubeclient.Handlers) growcubeclient.Client {
		f.mu.Lock()
		defer f.mu.Unlock()

		mc := newMockClient()
		mc.host = host
		mc.handlers = handlers
		if id, ok := f.ids[host]; ok {
			mc.identity = &growcubeclient.DeviceVersionReport{Version: "3.6", DeviceID: id}
		}
		mc.alwaysFail = f.failing[host]
		f.clients[host] = mc
		return mc
	}
}

func (f *mockFleet) client(host string) *mockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[host]
}

func newTestManager(t *testing.T, fleet *mockFleet, devices ...DeviceConfig) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Devices:           devices,
		Factory:           fleet.factory(),
		IdentityTimeout:   200 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		CommandTimeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil factory error = %v, want ErrInvalidArgument", err)
	}

	fleet := newMockFleet()
	_, err := NewManager(ManagerConfig{
		Factory: fleet.factory(),
		Devices: []DeviceConfig{{Host: "growcube.local"}, {Host: " GrowCube.local "}},
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("duplicate host error = %v, want ErrInvalidArgument", err)
	}

	_, err = NewManager(ManagerConfig{Factory: fleet.factory(), Devices: []DeviceConfig{{Host: ""}}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty host error = %v, want ErrInvalidArgument", err)
	}
}

func TestNewManager_ReconnectIntervalDefault(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		m, err := NewManager(ManagerConfig{
			Factory:           newMockFleet().factory(),
			Devices:           []DeviceConfig{{Host: "10.0.0.2"}},
			ReconnectInterval: interval,
		})
		if err != nil {
			t.Fatalf("NewManager(%v) error = %v", interval, err)
		}
		if m.interval != DefaultReconnectInterval {
			t.Errorf("interval for %v = %v, want %v", interval, m.interval, DefaultReconnectInterval)
		}
	}
}

func TestManager_StartAndLookup(t *testing.T) {
	fleet := newMockFleet()
	fleet.ids["10.0.0.2"] = "1234"
	fleet.ids["10.0.0.3"] = "4096"

	m := newTestManager(t, fleet,
		DeviceConfig{Host: "10.0.0.2", Name: "Basil"},
		DeviceConfig{Host: "10.0.0.3"},
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	c, err := m.Lookup("4D2")
	if err != nil {
		t.Fatalf("Lookup(4D2) error = %v", err)
	}
	if c.Host() != "10.0.0.2" || c.Identity().Name != "Basil" {
		t.Errorf("Lookup(4D2) = %s %q", c.Host(), c.Identity().Name)
	}
	if c, err := m.Lookup("10.0.0.3"); err != nil || c.DeviceID() != "1000" {
		t.Errorf("Lookup(host) = %v, %v", c, err)
	}
	if _, err := m.Lookup("ffff"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup(ffff) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := m.Lookup(" "); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup(empty) error = %v, want ErrDeviceNotFound", err)
	}
	if snap, err := m.Snapshot("4d2"); err != nil || !snap.Available || snap.Identity.Name != "Basil" {
		t.Errorf("Snapshot(4d2) = %+v, %v", snap, err)
	}
	if _, err := m.Snapshot("ffff"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Snapshot(ffff) error = %v, want ErrDeviceNotFound", err)
	}

	statuses := m.DeviceStatuses()
	if len(statuses) != 2 {
		t.Fatalf("DeviceStatuses() len = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Available || s.Connection != "connected" {
			t.Errorf("status = %+v, want connected", s)
		}
	}
	if len(m.Coordinators()) != 2 {
		t.Errorf("Coordinators() len = %d, want 2", len(m.Coordinators()))
	}
}

func TestManager_InitialFailureRetries(t *testing.T) {
	fleet := newMockFleet()
	fleet.failing["10.0.0.9"] = true

	m := newTestManager(t, fleet, DeviceConfig{Host: "10.0.0.2"}, DeviceConfig{Host: "10.0.0.9"})

	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "10.0.0.9") {
		t.Fatalf("Start() error = %v, want failure for 10.0.0.9", err)
	}

	failing, err := m.Lookup("10.0.0.9")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if failing.Available() {
		t.Fatal("failing device reported available")
	}

	fleet.client("10.0.0.9").setAlwaysFail(false)
	waitFor(t, 2*time.Second, failing.Available, "background connect")
}

func TestManager_Observe(t *testing.T) {
	fleet := newMockFleet()
	m := newTestManager(t, fleet, DeviceConfig{Host: "10.0.0.2"})

	var (
		mu    sync.Mutex
		seen  []Change
		hosts []string
	)
	unsubscribe := m.Observe(func(c *Coordinator, ch Change) {
		mu.Lock()
		seen = append(seen, ch)
		hosts = append(hosts, c.Host())
		mu.Unlock()
	})
	m.Observe(func(*Coordinator, Change) { panic("observer bug") })
	m.Observe(nil)()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	waitFor(t, time.Second, func() bool { return count() >= 2 }, "identity and availability changes")

	mu.Lock()
	if hosts[0] != "10.0.0.2" {
		t.Errorf("observer host = %q", hosts[0])
	}
	mu.Unlock()

	unsubscribe()
	before := count()
	c, _ := m.Lookup("4d2") //nolint:errcheck // Connected above
	c.HandleReport(growcubeclient.PumpOpenReport{Channel: growcubeclient.ChannelA})
	if count() != before {
		t.Error("observer called after unsubscribe")
	}
}

func TestManager_Stop(t *testing.T) {
	fleet := newMockFleet()
	fleet.failing["10.0.0.9"] = true
	m := newTestManager(t, fleet, DeviceConfig{Host: "10.0.0.2"}, DeviceConfig{Host: "10.0.0.9"})

	_ = m.Start(context.Background()) //nolint:errcheck // 10.0.0.9 is expected to fail

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	for _, c := range m.Coordinators() {
		if c.ConnState() != StateDisconnected {
			t.Errorf("%s ConnState = %s, want disconnected", c.Host(), c.ConnState())
		}
	}
	if _, disconnects := fleet.client("10.0.0.2").calls(); disconnects == 0 {
		t.Error("client Disconnect not called")
	}
}

func TestManager_SetLogger(t *testing.T) {
	fleet := newMockFleet()
	m := newTestManager(t, fleet, DeviceConfig{Host: "10.0.0.2"})
	logger := &testLogger{}

	m.SetLogger(logger)
	if m.getLogger() != logger {
		t.Error("manager logger not set")
	}
	for _, c := range m.Coordinators() {
		c.loggerMu.RLock()
		got := c.logger
		c.loggerMu.RUnlock()
		if got != logger {
			t.Error("coordinator logger not set")
		}
	}
}
