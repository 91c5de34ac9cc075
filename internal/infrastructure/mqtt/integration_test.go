//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Tests against a real broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T, id string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = id
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", id, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestIntegration_BridgeStatus checks the retained status follows the
// client's lifecycle.
func TestIntegration_BridgeStatus(t *testing.T) {
	bridge := connectIntegration(t, "growcube-int-bridge")
	watcher := connectIntegration(t, "growcube-int-watcher")

	status := make(chan string, 4)
	err := watcher.Subscribe(Topics{}.BridgeStatus(), 1, func(_ string, p []byte) error {
		status <- string(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	expect := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-status:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("bridge status never became %q", want)
			}
		}
	}

	expect(PayloadOnline)
	if err := bridge.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	expect(PayloadOffline)
}

// TestIntegration_Roundtrip publishes a command and receives it on a
// wildcard subscription.
func TestIntegration_Roundtrip(t *testing.T) {
	pub := connectIntegration(t, "growcube-int-pub")
	sub := connectIntegration(t, "growcube-int-sub")

	received := make(chan [2]string, 1)
	err := sub.Subscribe(Topics{}.AllDeviceCommands(), 1, func(topic string, p []byte) error {
		select {
		case received <- [2]string{topic, string(p)}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if subs := sub.Subscriptions(); len(subs) != 1 || subs[0] != "growcube/+/command" {
		t.Errorf("Subscriptions() = %v", subs)
	}

	time.Sleep(100 * time.Millisecond)
	payload := `{"id":"c1","command":"water","parameters":{"channel":"a","duration":5}}`
	if err := pub.Publish(Topics{}.DeviceCommand("4d2"), []byte(payload), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg[0] != "growcube/4d2/command" || msg[1] != payload {
			t.Errorf("received %q = %q", msg[0], msg[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the command")
	}
}
