package growcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// fakeLookup resolves device ids from a fixed map.
type fakeLookup map[string]*Coordinator

func (f fakeLookup) Lookup(id string) (*Coordinator, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

func newTestCommandHandler(t *testing.T, devices DeviceLookup) (*CommandHandler, *mockPublisher) {
	t.Helper()
	mp := newMockPublisher()
	h, err := NewCommandHandler(CommandHandlerConfig{Devices: devices, Publisher: mp, ButtonDuration: 3})
	if err != nil {
		t.Fatalf("NewCommandHandler() error = %v", err)
	}
	return h, mp
}

func lastAck(t *testing.T, mp *mockPublisher, deviceID string) AckMessage {
	t.Helper()
	msg, ok := mp.last(mqtt.Topics{}.DeviceAck(deviceID))
	if !ok {
		t.Fatalf("no ack published for %s", deviceID)
	}
	if msg.qos != 1 || msg.retained {
		t.Errorf("ack qos=%d retained=%v, want 1/false", msg.qos, msg.retained)
	}
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestNewCommandHandler_Validation(t *testing.T) {
	if _, err := NewCommandHandler(CommandHandlerConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil devices error = %v, want ErrInvalidArgument", err)
	}
	_, err := NewCommandHandler(CommandHandlerConfig{Devices: fakeLookup{}, ButtonDuration: 61})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("button_duration 61 error = %v, want ErrInvalidArgument", err)
	}

	h, err := NewCommandHandler(CommandHandlerConfig{Devices: fakeLookup{}})
	if err != nil {
		t.Fatalf("NewCommandHandler() error = %v", err)
	}
	if h.buttonDuration != DefaultWaterDuration || h.timeout != DefaultCommandTimeout {
		t.Errorf("defaults = %d/%v", h.buttonDuration, h.timeout)
	}
}

func TestCommandHandler_Subscribe(t *testing.T) {
	h, _ := newTestCommandHandler(t, fakeLookup{})
	sub := newMockSubscriber()

	if err := h.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for _, pattern := range []string{"growcube/+/command", "growcube/+/button/+"} {
		if !sub.has(pattern) {
			t.Errorf("no subscription for %s", pattern)
		}
	}

	sub.err = errors.New("not connected")
	if err := h.Subscribe(sub); err == nil {
		t.Error("Subscribe() error = nil with failing subscriber")
	}
}

func TestHandleMessage_Commands(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    growcubeclient.Command
	}{
		{
			name:    "water plant",
			payload: `{"id":"cmd-1","command":"water_plant","parameters":{"channel":"A","duration":3}}`,
			want:    growcubeclient.WaterCommand{Channel: growcubeclient.ChannelA, Start: true},
		},
		{
			name:    "water plant with string duration",
			payload: `{"id":"cmd-1","command":"water_plant","parameters":{"channel":"b","duration":"2"}}`,
			want:    growcubeclient.WaterCommand{Channel: growcubeclient.ChannelB, Start: true},
		},
		{
			name:    "smart watering defaults",
			payload: `{"id":"cmd-1","command":"set_smart_watering","parameters":{"channel":"C"}}`,
			want: growcubeclient.WateringModeCommand{
				Channel: growcubeclient.ChannelC, Mode: growcubeclient.WateringSmart,
				Min: DefaultSmartMin, Max: DefaultSmartMax,
			},
		},
		{
			name:    "manual watering",
			payload: `{"id":"cmd-1","device_id":"4d2","command":"set_manual_watering","parameters":{"channel":"D"}}`,
			want:    growcubeclient.WateringModeCommand{Channel: growcubeclient.ChannelD, Mode: growcubeclient.WateringManual},
		},
		{
			name:    "delete watering",
			payload: `{"id":"cmd-1","command":"delete_watering","parameters":{"channel":"A"}}`,
			want:    growcubeclient.PlantEndCommand{Channel: growcubeclient.ChannelA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := newMockClient()
			c := connectTestCoordinator(t, mc)
			mc.resetSent()
			h, mp := newTestCommandHandler(t, fakeLookup{"4d2": c})

			if err := h.HandleMessage("growcube/4d2/command", []byte(tt.payload)); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}

			sent := mc.getSent()
			if len(sent) == 0 || sent[0] != tt.want {
				t.Errorf("sent = %+v, want %+v", sent, tt.want)
			}
			ack := lastAck(t, mp, "4d2")
			if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.Error != nil {
				t.Errorf("ack = %+v, want accepted cmd-1", ack)
			}
		})
	}
}

func TestHandleMessage_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		connect  bool
		sendErr  error
		payload  string
		wantCode string
	}{
		{"malformed json", true, nil, `{not json`, ErrCodeInvalidCommand},
		{"device mismatch", true, nil, `{"device_id":"999","command":"water_plant","parameters":{"channel":"A"}}`, ErrCodeInvalidCommand},
		{"unknown command", true, nil, `{"command":"explode","parameters":{"channel":"A"}}`, ErrCodeInvalidCommand},
		{"missing channel", true, nil, `{"command":"water_plant"}`, ErrCodeInvalidParameters},
		{"bad channel", true, nil, `{"command":"water_plant","parameters":{"channel":"E"}}`, ErrCodeInvalidParameters},
		{"duration too long", true, nil, `{"command":"water_plant","parameters":{"channel":"A","duration":99}}`, ErrCodeInvalidParameters},
		{"fractional duration", true, nil, `{"command":"water_plant","parameters":{"channel":"A","duration":1.5}}`, ErrCodeInvalidParameters},
		{"not connected", false, nil, `{"command":"water_plant","parameters":{"channel":"A"}}`, ErrCodeDeviceUnreachable},
		{"write failure", true, growcubeclient.ErrWriteFailed, `{"command":"delete_watering","parameters":{"channel":"A"}}`, ErrCodeProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := newMockClient()
			var c *Coordinator
			if tt.connect {
				c = connectTestCoordinator(t, mc)
			} else {
				c = newTestCoordinator(t, mc)
			}
			mc.resetSent()
			mc.mu.Lock()
			mc.sendErr = tt.sendErr
			mc.mu.Unlock()

			h, mp := newTestCommandHandler(t, fakeLookup{"4d2": c})
			if err := h.HandleMessage("growcube/4d2/command", []byte(tt.payload)); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}

			ack := lastAck(t, mp, "4d2")
			if ack.Status != AckFailed {
				t.Errorf("Status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
			if tt.sendErr == nil && len(mc.getSent()) != 0 {
				t.Errorf("sent %d commands for a rejected request", len(mc.getSent()))
			}
		})
	}
}

func TestHandleMessage_UnknownDevice(t *testing.T) {
	h, mp := newTestCommandHandler(t, fakeLookup{})

	payload := `{"id":"x","command":"water_plant","parameters":{"channel":"A"}}`
	if err := h.HandleMessage("growcube/abc/command", []byte(payload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	ack := lastAck(t, mp, "abc")
	if ack.Error == nil || ack.Error.Code != ErrCodeNotConfigured {
		t.Errorf("Error = %+v, want NOT_CONFIGURED", ack.Error)
	}
}

func TestHandleMessage_UnexpectedTopic(t *testing.T) {
	h, _ := newTestCommandHandler(t, fakeLookup{})

	for _, topic := range []string{"other/4d2/command", "growcube/4d2/state", "growcube/bridge/command"} {
		if err := h.HandleMessage(topic, nil); err == nil {
			t.Errorf("HandleMessage(%q) error = nil, want error", topic)
		}
	}
}

func TestHandleMessage_Button(t *testing.T) {
	mc := newMockClient()
	c := connectTestCoordinator(t, mc)
	mc.resetSent()
	h, mp := newTestCommandHandler(t, fakeLookup{"4d2": c})

	t.Run("press waters the channel", func(t *testing.T) {
		if err := h.HandleMessage("growcube/4d2/button/water_plant_b", []byte(mqtt.PayloadPress)); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
		sent := mc.getSent()
		want := growcubeclient.WaterCommand{Channel: growcubeclient.ChannelB, Start: true}
		if len(sent) != 1 || sent[0] != want {
			t.Errorf("sent = %+v, want %+v", sent, want)
		}
		ack := lastAck(t, mp, "4d2")
		if ack.Status != AckAccepted || ack.Command != CommandWaterPlant {
			t.Errorf("ack = %+v", ack)
		}
		if ack.CommandID == "" {
			t.Error("button command has no generated id")
		}
	})

	t.Run("ignored payloads", func(t *testing.T) {
		mc.resetSent()
		mp.reset()
		_ = h.HandleMessage("growcube/4d2/button/water_plant_b", []byte("pressed"))      //nolint:errcheck // Owned topic
		_ = h.HandleMessage("growcube/4d2/button/moisture_a", []byte(mqtt.PayloadPress)) //nolint:errcheck // Owned topic
		_ = h.HandleMessage("growcube/4d2/button/nope", []byte(mqtt.PayloadPress))       //nolint:errcheck // Owned topic

		if len(mc.getSent()) != 0 || len(mp.all()) != 0 {
			t.Errorf("sent=%d published=%d, want nothing", len(mc.getSent()), len(mp.all()))
		}
	})
}

func TestExecute_FillsIDAndTimestamp(t *testing.T) {
	mc := newMockClient()
	c := connectTestCoordinator(t, mc)
	h, _ := newTestCommandHandler(t, fakeLookup{"4d2": c})

	cmd := &CommandMessage{
		DeviceID:   "4d2",
		Command:    CommandSetManualWatering,
		Parameters: map[string]any{"channel": "A"},
		Source:     SourceAPI,
	}
	if err := h.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if cmd.ID == "" || cmd.Timestamp.IsZero() {
		t.Errorf("cmd = %+v, want generated id and timestamp", cmd)
	}
}

func TestExecute_UnknownCommandBeforeLookup(t *testing.T) {
	h, _ := newTestCommandHandler(t, fakeLookup{})

	err := h.Execute(context.Background(), &CommandMessage{DeviceID: "missing", Command: "reboot"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Execute() error = %v, want ErrUnknownCommand", err)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "channel"}, ErrCodeInvalidParameters},
		{fmt.Errorf("%w: x", ErrUnknownCommand), ErrCodeInvalidCommand},
		{fmt.Errorf("%w: x", ErrDeviceNotFound), ErrCodeNotConfigured},
		{fmt.Errorf("%w: x", ErrNotConnected), ErrCodeDeviceUnreachable},
		{ErrShutdown, ErrCodeDeviceUnreachable},
		{fmt.Errorf("%w: %w", ErrCommandFailed, context.DeadlineExceeded), ErrCodeTimeout},
		{fmt.Errorf("%w: x", ErrCommandFailed), ErrCodeProtocolError},
		{errors.New("boom"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCommandParams_IntOr(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{"missing", nil, 7, false},
		{"int", 3, 3, false},
		{"int64", int64(4), 4, false},
		{"whole float", 5.0, 5, false},
		{"fractional float", 5.5, 0, true},
		{"json number", json.Number("6"), 6, false},
		{"numeric string", " 8 ", 8, false},
		{"word", "ten", 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := commandParams{}
			if tt.value != nil {
				params["n"] = tt.value
			}
			got, err := params.intOr("n", 7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("intOr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("intOr() error = %v, want ErrInvalidArgument", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("intOr() = %d, want %d", got, tt.want)
			}
		})
	}
}
