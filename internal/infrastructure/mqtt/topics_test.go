package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"DeviceState", topics.DeviceState("4d2"), "growcube/4d2/state"},
		{"DeviceAvailability", topics.DeviceAvailability("4d2"), "growcube/4d2/availability"},
		{"DeviceEntity", topics.DeviceEntity("4d2", "moisture_a"), "growcube/4d2/moisture_a"},
		{"DeviceCommand", topics.DeviceCommand("4d2"), "growcube/4d2/command"},
		{"DeviceAck", topics.DeviceAck("4d2"), "growcube/4d2/ack"},
		{"DeviceButton", topics.DeviceButton("4d2", "water_plant_b"), "growcube/4d2/button/water_plant_b"},
		{"BridgeStatus", topics.BridgeStatus(), "growcube/bridge/status"},
		{"BridgeHealth", topics.BridgeHealth(), "growcube/bridge/health"},
		{"Discovery", topics.Discovery("homeassistant", "sensor", "4d2_temperature"), "homeassistant/sensor/4d2_temperature/config"},
		{"DiscoveryDefaultPrefix", topics.Discovery("", "button", "4d2_water_plant_a"), "homeassistant/button/4d2_water_plant_a/config"},
		{"HomeAssistantStatus", topics.HomeAssistantStatus(""), "homeassistant/status"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "growcube/+/command"},
		{"AllDeviceButtons", topics.AllDeviceButtons(), "growcube/+/button/+"},
		{"AllTopics", topics.AllTopics(), "growcube/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic  string
		device string
		rest   string
		ok     bool
	}{
		{"growcube/4d2/command", "4d2", "command", true},
		{"growcube/4d2/button/water_plant_a", "4d2", "button/water_plant_a", true},
		{"growcube/bridge/health", "", "", false},
		{"growcube/4d2", "", "", false},
		{"growcube//command", "", "", false},
		{"homeassistant/status", "", "", false},
		{"growcube/", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			device, rest, ok := ParseDeviceTopic(tt.topic)
			if ok != tt.ok || device != tt.device || rest != tt.rest {
				t.Errorf("ParseDeviceTopic(%q) = %q, %q, %v; want %q, %q, %v",
					tt.topic, device, rest, ok, tt.device, tt.rest, tt.ok)
			}
		})
	}
}
