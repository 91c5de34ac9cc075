package growcube

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

var errMockConnect = errors.New("mock: connection refused")

// mockClient implements growcubeclient.Client for testing.
type mockClient struct {
	mu       sync.Mutex
	host     string
	handlers growcubeclient.Handlers

	connected bool

	// connectErrs is consumed one per Connect call; nil entries succeed.
	connectErrs []error
	// alwaysFail makes every Connect fail.
	alwaysFail bool
	// identity is delivered after a successful Connect when set.
	identity *growcubeclient.DeviceVersionReport
	// dropAfterIdentity closes the socket right after the next identity
	// report, from the same goroutine.
	dropAfterIdentity bool

	// dialGate, when set, holds the next Connect until closed; dialing is
	// closed once that Connect is waiting.
	dialGate chan struct{}
	dialing  chan struct{}

	sendErr error
	sent    []growcubeclient.Command
	// onSend runs after a successful Send, outside the lock.
	onSend func(growcubeclient.Command)

	connectCalls    int
	disconnectCalls int
}

func newMockClient() *mockClient {
	return &mockClient{
		identity: &growcubeclient.DeviceVersionReport{Version: "3.6", DeviceID: "1234"},
	}
}

func (m *mockClient) Connect(_ context.Context) error {
	m.mu.Lock()
	gate, dialing := m.dialGate, m.dialing
	m.dialGate = nil
	m.mu.Unlock()
	if gate != nil {
		close(dialing)
		<-gate
	}

	m.mu.Lock()
	m.connectCalls++
	var err error
	switch {
	case m.alwaysFail:
		err = errMockConnect
	case len(m.connectErrs) > 0:
		err = m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.connected = true
	identity := m.identity
	onMessage := m.handlers.OnMessage
	dropAfter := m.dropAfterIdentity
	m.dropAfterIdentity = false
	m.mu.Unlock()

	if identity != nil && onMessage != nil {
		report := *identity
		go func() {
			onMessage(report)
			if dropAfter {
				m.drop()
			}
		}()
	}
	return nil
}

func (m *mockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.connected = false
	return nil
}

func (m *mockClient) Send(_ context.Context, cmd growcubeclient.Command) error {
	m.mu.Lock()
	if m.sendErr != nil {
		m.mu.Unlock()
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Host() string {
	return m.host
}

// drop simulates the socket closing underneath the client.
func (m *mockClient) drop() {
	m.mu.Lock()
	m.connected = false
	onDisconnected := m.handlers.OnDisconnected
	m.mu.Unlock()
	if onDisconnected != nil {
		onDisconnected(m.host)
	}
}

func (m *mockClient) factory() growcubeclient.Factory {
	return func(host string, handlers growcubeclient.Handlers) growcubeclient.Client {
		m.mu.Lock()
		m.host = host
		m.handlers = handlers
		m.mu.Unlock()
		return m
	}
}

func (m *mockClient) getSent() []growcubeclient.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]growcubeclient.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockClient) resetSent() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

func (m *mockClient) calls() (connects, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.disconnectCalls
}

func (m *mockClient) setAlwaysFail(v bool) {
	m.mu.Lock()
	m.alwaysFail = v
	m.mu.Unlock()
}

// changeRecorder collects notifications.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) handle(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *changeRecorder) forField(f Field) []Change {
	var out []Change
	for _, c := range r.all() {
		if c.Field == f {
			out = append(out, c)
		}
	}
	return out
}

func (r *changeRecorder) reset() {
	r.mu.Lock()
	r.changes = nil
	r.mu.Unlock()
}

// newTestCoordinator creates a coordinator over a mock client with short timings.
func newTestCoordinator(t *testing.T, mc *mockClient) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorConfig{
		Host:              "192.168.1.50:8800",
		Factory:           mc.factory(),
		IdentityTimeout:   500 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		CommandTimeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(func() {
		c.Disconnect()
		c.Wait()
	})
	return c
}

// connectTestCoordinator creates and connects a coordinator.
func connectTestCoordinator(t *testing.T, mc *mockClient) *Coordinator {
	t.Helper()
	c := newTestCoordinator(t, mc)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
