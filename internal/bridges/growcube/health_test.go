package growcube

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// staticStatuses is a fixed StatusSource.
type staticStatuses []DeviceStatus

func (s staticStatuses) DeviceStatuses() []DeviceStatus {
	return s
}

func decodeHealth(t *testing.T, payload []byte) HealthMessage {
	t.Helper()
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestDetermineStatus(t *testing.T) {
	up := DeviceStatus{Host: "a", Available: true}
	down := DeviceStatus{Host: "b", Available: false}

	connected := newMockPublisher()
	disconnected := newMockPublisher()
	disconnected.setConnected(false)

	tests := []struct {
		name      string
		publisher Publisher
		devices   []DeviceStatus
		want      HealthStatus
	}{
		{"all connected", connected, []DeviceStatus{up, up}, HealthHealthy},
		{"no devices configured", connected, nil, HealthHealthy},
		{"some disconnected", connected, []DeviceStatus{up, down}, HealthDegraded},
		{"none connected", connected, []DeviceStatus{down, down}, HealthUnhealthy},
		{"mqtt down", disconnected, []DeviceStatus{up}, HealthDegraded},
		{"nil publisher", nil, []DeviceStatus{up}, HealthDegraded},
		{"none connected and mqtt down", disconnected, []DeviceStatus{down}, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := determineStatus(tt.publisher, tt.devices)
			if got != tt.want {
				t.Errorf("determineStatus() = %s (%s), want %s", got, reason, tt.want)
			}
			if got != HealthHealthy && reason == "" {
				t.Error("non-healthy status without a reason")
			}
		})
	}
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	mp := newMockPublisher()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "growcube-bridge-01",
		Version:   "1.0.0",
		Publisher: mp,
		Devices:   staticStatuses{{Host: "10.0.0.2", DeviceID: "4d2", Available: true}},
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	msg, ok := mp.last("growcube/bridge/health")
	if !ok {
		t.Fatal("no health message published")
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos=%d retained=%v, want 1/true", msg.qos, msg.retained)
	}
	health := decodeHealth(t, msg.payload)
	if health.Status != HealthStarting || health.Bridge != "growcube-bridge-01" || health.Version != "1.0.0" {
		t.Errorf("health = %+v", health)
	}
	if health.DevicesManaged != 1 || health.DevicesConnected != 1 {
		t.Errorf("devices managed/connected = %d/%d, want 1/1", health.DevicesManaged, health.DevicesConnected)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	mp := newMockPublisher()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "bridge",
		Interval:  10 * time.Millisecond,
		Publisher: mp,
		Devices:   staticStatuses{{Host: "a", Available: true}, {Host: "b"}},
	})

	h.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		return len(mp.byTopic("growcube/bridge/health")) >= 3
	}, "periodic health messages")

	first := decodeHealth(t, mp.byTopic("growcube/bridge/health")[0].payload)
	if first.Status != HealthDegraded {
		t.Errorf("Status = %s, want degraded", first.Status)
	}

	h.Stop()
	h.Stop()

	msgs := mp.byTopic("growcube/bridge/health")
	last := decodeHealth(t, msgs[len(msgs)-1].payload)
	if last.Status != HealthStopping {
		t.Errorf("final Status = %s, want stopping", last.Status)
	}

	count := len(msgs)
	time.Sleep(30 * time.Millisecond)
	if len(mp.byTopic("growcube/bridge/health")) != count {
		t.Error("health published after Stop")
	}
}

func TestHealthReporter_ContextCancel(t *testing.T) {
	mp := newMockPublisher()
	h := NewHealthReporter(HealthReporterConfig{Interval: time.Hour, Publisher: mp})

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	waitFor(t, time.Second, func() bool {
		return len(mp.byTopic("growcube/bridge/health")) == 1
	}, "initial health message")

	cancel()
	h.wg.Wait()
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v, want nil", err)
	}
	if h.interval != DefaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultHealthInterval)
	}
}

func TestHealthReporter_Message(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "bridge"})
	msg := h.Message(HealthUnhealthy, "no devices connected")

	if msg.Reason != "no devices connected" {
		t.Errorf("Reason = %q", msg.Reason)
	}
	if msg.Devices == nil {
		t.Error("Devices = nil, want empty slice")
	}
	if msg.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d", msg.UptimeSeconds)
	}
}
