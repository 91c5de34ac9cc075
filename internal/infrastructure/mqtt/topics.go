package mqtt

import "fmt"

// Topic prefixes for the bridge's MQTT namespace.
//
// Device topics use the flat scheme: growcube/{device_id}/{channel}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "growcube"

	// TopicPrefixBridge is the base for bridge-level topics.
	TopicPrefixBridge = "growcube/bridge"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"
)

// Availability payloads for device and bridge availability topics.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	// PayloadPress is what Home Assistant sends on a button command topic.
	PayloadPress = "PRESS"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("4d2")
//	// Returns: "growcube/4d2/state"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the retained JSON snapshot topic of a device.
//
// Example: growcube/4d2/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefix, deviceID)
}

// DeviceAvailability returns the retained online/offline topic of a device.
//
// Example: growcube/4d2/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefix, deviceID)
}

// DeviceEntity returns the retained per-entity state topic.
//
// Example: growcube/4d2/moisture_a
func (Topics) DeviceEntity(deviceID, key string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, deviceID, key)
}

// DeviceCommand returns the command topic of a device.
//
// Example: growcube/4d2/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, deviceID)
}

// DeviceAck returns the command acknowledgement topic of a device.
//
// Example: growcube/4d2/ack
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", TopicPrefix, deviceID)
}

// DeviceButton returns the Home Assistant button command topic.
//
// Example: growcube/4d2/button/water_plant_a
func (Topics) DeviceButton(deviceID, key string) string {
	return fmt.Sprintf("%s/%s/button/%s", TopicPrefix, deviceID, key)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeStatus returns the bridge online/offline status topic (also the LWT).
//
// Example: growcube/bridge/status
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixBridge)
}

// BridgeHealth returns the periodic bridge health topic.
//
// Example: growcube/bridge/health
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health", TopicPrefixBridge)
}

// =============================================================================
// Home Assistant Topics
// =============================================================================

// Discovery returns the Home Assistant discovery config topic of an entity.
// An empty prefix uses "homeassistant".
//
// Example: homeassistant/sensor/4d2_moisture_a/config
func (Topics) Discovery(prefix, platform, uniqueID string) string {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/%s/%s/config", prefix, platform, uniqueID)
}

// HomeAssistantStatus returns the topic Home Assistant publishes its birth
// message on. Discovery is republished when it reports online.
//
// Example: homeassistant/status
func (Topics) HomeAssistantStatus(prefix string) string {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/status", prefix)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: growcube/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefix)
}

// AllDeviceButtons returns a pattern matching every button command topic.
//
// Pattern: growcube/+/button/+
func (Topics) AllDeviceButtons() string {
	return fmt.Sprintf("%s/+/button/+", TopicPrefix)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: growcube/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceTopic splits "growcube/{device_id}/{rest...}" into the device id
// and the remainder. ok is false for topics outside the device namespace.
func ParseDeviceTopic(topic string) (deviceID, rest string, ok bool) {
	const prefix = TopicPrefix + "/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", "", false
	}
	tail := topic[len(prefix):]
	for i := 0; i < len(tail); i++ {
		if tail[i] == '/' {
			if i == 0 || i == len(tail)-1 {
				return "", "", false
			}
			deviceID, rest = tail[:i], tail[i+1:]
			if deviceID == "bridge" {
				return "", "", false
			}
			return deviceID, rest, true
		}
	}
	return "", "", false
}
