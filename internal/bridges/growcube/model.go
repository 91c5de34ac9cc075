package growcube

import (
	"strconv"
	"strings"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// Registry metadata for every Growcube.
const (
	Manufacturer = "Elecrow"
	Model        = "Growcube"

	// identifierPrefix is prepended to the device id in registry identifiers.
	identifierPrefix = "growcube_"
)

// Identity is the device identity record.
type Identity struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id,omitempty"`
	Version  string `json:"version,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Known reports whether the identity report has been received.
func (i Identity) Known() bool {
	return i.DeviceID != ""
}

// DeviceInfo is the registry metadata published with every entity.
type DeviceInfo struct {
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Identifiers  []string `json:"identifiers"`
}

// DeviceInfo builds registry metadata from the identity.
// A configured display name wins over the generated one.
func (i Identity) DeviceInfo() DeviceInfo {
	name := i.Name
	if name == "" {
		name = "GrowCube " + i.DeviceID
	}
	return DeviceInfo{
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        Model,
		SWVersion:    i.Version,
		Identifiers:  []string{RegistryIdentifier(i.DeviceID)},
	}
}

// RegistryIdentifier returns the stable registry identifier for a device id.
func RegistryIdentifier(deviceID string) string {
	return identifierPrefix + deviceID
}

// DeviceIDFromReported converts the id reported by the device into the
// stable device id: the lowercase hexadecimal form of the decimal number,
// without prefix. Non-numeric ids are lowercased and used as-is.
func DeviceIDFromReported(raw string) string {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strconv.FormatUint(n, 16)
}

// State is the live state record. Array fields are indexed by channel.
// Pointer fields are nil until the first reading.
type State struct {
	Temperature        *int                              `json:"temperature"`
	Humidity           *int                              `json:"humidity"`
	Moisture           [growcubeclient.ChannelCount]*int `json:"moisture"`
	PumpOpen           [growcubeclient.ChannelCount]bool `json:"pump_open"`
	SensorAbnormal     [growcubeclient.ChannelCount]bool `json:"sensor_abnormal"`
	SensorDisconnected [growcubeclient.ChannelCount]bool `json:"sensor_disconnected"`
	OutletBlocked      [growcubeclient.ChannelCount]bool `json:"outlet_blocked"`
	OutletLocked       [growcubeclient.ChannelCount]bool `json:"outlet_locked"`
	DeviceLocked       bool                              `json:"device_locked"`
	WaterWarning       bool                              `json:"water_warning"`
}

// Clone returns a deep copy; pointer fields do not alias the original.
func (s State) Clone() State {
	out := s
	out.Temperature = cloneInt(s.Temperature)
	out.Humidity = cloneInt(s.Humidity)
	for i := range s.Moisture {
		out.Moisture[i] = cloneInt(s.Moisture[i])
	}
	return out
}

// Flat returns the state keyed by entity key ("moisture_a", "pump_b_open", ...).
// Nil readings map to nil.
func (s State) Flat() map[string]any {
	out := make(map[string]any, 32)
	for _, e := range Entities() {
		if e.Platform == PlatformButton {
			continue
		}
		out[e.Key] = e.Value(s)
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(v int) *int {
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Field names a live-state attribute for subscriptions.
type Field string

// Observable fields.
const (
	FieldTemperature        Field = "temperature"
	FieldHumidity           Field = "humidity"
	FieldMoisture           Field = "moisture"
	FieldPumpOpen           Field = "pump_open"
	FieldSensorAbnormal     Field = "sensor_abnormal"
	FieldSensorDisconnected Field = "sensor_disconnected"
	FieldOutletBlocked      Field = "outlet_blocked"
	FieldOutletLocked       Field = "outlet_locked"
	FieldDeviceLocked       Field = "device_locked"
	FieldWaterWarning       Field = "water_warning"

	// FieldAvailable carries connection availability (bool).
	FieldAvailable Field = "available"

	// FieldIdentity is emitted when the identity record is set or refreshed.
	FieldIdentity Field = "identity"
)

// PerChannel reports whether the field is a four-channel array.
func (f Field) PerChannel() bool {
	switch f {
	case FieldMoisture, FieldPumpOpen, FieldSensorAbnormal, FieldSensorDisconnected,
		FieldOutletBlocked, FieldOutletLocked:
		return true
	default:
		return false
	}
}

// Change is one field transition.
type Change struct {
	// DeviceID is empty until the identity report has been received.
	DeviceID string
	Host     string
	Field    Field

	// Channel is meaningful only when Field.PerChannel() is true.
	Channel growcubeclient.Channel

	// Value is the new value: int or nil for readings, bool for flags,
	// Identity for FieldIdentity.
	Value any

	// Reset is true when the change comes from a state reset.
	Reset bool
}

// diff lists the changes needed to go from old to new.
func diff(old, updated State) []Change {
	var changes []Change

	if !equalIntPtr(old.Temperature, updated.Temperature) {
		changes = append(changes, Change{Field: FieldTemperature, Value: intValue(updated.Temperature)})
	}
	if !equalIntPtr(old.Humidity, updated.Humidity) {
		changes = append(changes, Change{Field: FieldHumidity, Value: intValue(updated.Humidity)})
	}

	for _, ch := range growcubeclient.Channels {
		i := ch.Index()
		if !equalIntPtr(old.Moisture[i], updated.Moisture[i]) {
			changes = append(changes, Change{Field: FieldMoisture, Channel: ch, Value: intValue(updated.Moisture[i])})
		}
	}

	flagArrays := []struct {
		field    Field
		old, new [growcubeclient.ChannelCount]bool
	}{
		{FieldPumpOpen, old.PumpOpen, updated.PumpOpen},
		{FieldSensorAbnormal, old.SensorAbnormal, updated.SensorAbnormal},
		{FieldSensorDisconnected, old.SensorDisconnected, updated.SensorDisconnected},
		{FieldOutletBlocked, old.OutletBlocked, updated.OutletBlocked},
		{FieldOutletLocked, old.OutletLocked, updated.OutletLocked},
	}
	for _, fa := range flagArrays {
		for _, ch := range growcubeclient.Channels {
			if fa.old[ch.Index()] != fa.new[ch.Index()] {
				changes = append(changes, Change{Field: fa.field, Channel: ch, Value: fa.new[ch.Index()]})
			}
		}
	}

	if old.DeviceLocked != updated.DeviceLocked {
		changes = append(changes, Change{Field: FieldDeviceLocked, Value: updated.DeviceLocked})
	}
	if old.WaterWarning != updated.WaterWarning {
		changes = append(changes, Change{Field: FieldWaterWarning, Value: updated.WaterWarning})
	}

	return changes
}

// intValue unwraps a reading for a Change: nil stays nil.
func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
