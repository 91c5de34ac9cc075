package growcube

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged on the growcube/{device_id}/... topics.

// Command names accepted on the command topic.
const (
	CommandWaterPlant        = "water_plant"
	CommandSetSmartWatering  = "set_smart_watering"
	CommandSetManualWatering = "set_manual_watering"
	CommandDeleteWatering    = "delete_watering"
)

// CommandMessage asks the bridge to perform an action on a device.
// Topic: growcube/{device_id}/command
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional; the
	// bridge generates one when empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is filled from the topic when omitted.
	DeviceID string `json:"device_id"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"channel": "A", "duration": 5} for water_plant
	//   {"channel": "B", "min_value": 15, "max_value": 40} for set_smart_watering
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("mqtt", "api", "button").
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device write timed out.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: growcube/{device_id}/ack
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	DeviceID string    `json:"device_id"`
	Command  string    `json:"command"`
	Status   AckStatus `json:"status"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode* values.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is the retained snapshot of one device.
// Topic: growcube/{device_id}/state
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Host      string         `json:"host"`
	Version   string         `json:"version,omitempty"`
	Available bool           `json:"available"`
	State     map[string]any `json:"state"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates every device is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates some devices or MQTT are disconnected.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates no configured device is connected.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: growcube/bridge/health
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Devices contains per-device connection details.
	Devices []DeviceStatus `json:"devices"`

	DevicesManaged   int `json:"devices_managed"`
	DevicesConnected int `json:"devices_connected"`

	// Reason explains the status (especially for degraded/unhealthy).
	Reason string `json:"reason,omitempty"`
}

// DeviceStatus describes one device's connection.
type DeviceStatus struct {
	Host       string           `json:"host"`
	DeviceID   string           `json:"device_id,omitempty"`
	Version    string           `json:"version,omitempty"`
	Connection string           `json:"connection"`
	Available  bool             `json:"available"`
	Statistics CoordinatorStats `json:"statistics"`
}

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    status,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a coordinator snapshot.
func NewStateMessage(snap Snapshot) StateMessage {
	return StateMessage{
		DeviceID:  snap.Identity.DeviceID,
		Timestamp: time.Now().UTC(),
		Host:      snap.Identity.Host,
		Version:   snap.Identity.Version,
		Available: snap.Available,
		State:     snap.State.Flat(),
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, devices []DeviceStatus, startTime time.Time) HealthMessage {
	connected := 0
	for _, d := range devices {
		if d.Available {
			connected++
		}
	}
	if devices == nil {
		devices = []DeviceStatus{}
	}
	return HealthMessage{
		Bridge:           bridgeID,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		Devices:          devices,
		DevicesManaged:   len(devices),
		DevicesConnected: connected,
	}
}
