package growcube

import (
	"sync"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// Platform is the Home Assistant entity platform.
type Platform string

// Entity platforms.
const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformButton       Platform = "button"
)

// Entity describes one exposed entity of a Growcube. Entities are read-only
// views over the live state, except buttons which trigger an action.
type Entity struct {
	// Key is unique per device; the unique id is "<device_id>_<key>".
	Key      string
	Name     string
	Platform Platform

	// Field and Channel locate the backing state. Field is empty for buttons.
	Field      Field
	Channel    growcubeclient.Channel
	PerChannel bool

	DeviceClass string
	Unit        string
	StateClass  string
	Category    string

	// Icon is used when IconOn/IconOff are empty.
	Icon    string
	IconOn  string
	IconOff string

	EnabledByDefault bool

	// Inverted entities are on when the flag is false.
	Inverted bool
}

// UniqueID returns the entity's unique id for a device.
func (e Entity) UniqueID(deviceID string) string {
	return deviceID + "_" + e.Key
}

// Value reads the entity's value from a state record: *int readings become
// int or nil, flags become bool. Buttons have no value.
func (e Entity) Value(s State) any {
	idx := e.Channel.Index()
	switch e.Field {
	case FieldTemperature:
		return intValue(s.Temperature)
	case FieldHumidity:
		return intValue(s.Humidity)
	case FieldMoisture:
		return intValue(s.Moisture[idx])
	case FieldPumpOpen:
		return s.PumpOpen[idx] != e.Inverted
	case FieldSensorAbnormal:
		return s.SensorAbnormal[idx] != e.Inverted
	case FieldSensorDisconnected:
		return s.SensorDisconnected[idx] != e.Inverted
	case FieldOutletBlocked:
		return s.OutletBlocked[idx] != e.Inverted
	case FieldOutletLocked:
		return s.OutletLocked[idx] != e.Inverted
	case FieldDeviceLocked:
		return s.DeviceLocked != e.Inverted
	case FieldWaterWarning:
		return s.WaterWarning != e.Inverted
	default:
		return nil
	}
}

// IconFor returns the icon matching the current value.
func (e Entity) IconFor(s State) string {
	if e.IconOn == "" && e.IconOff == "" {
		return e.Icon
	}
	if on, _ := e.Value(s).(bool); on {
		return e.IconOn
	}
	return e.IconOff
}

// Matches reports whether a change affects this entity.
func (e Entity) Matches(c Change) bool {
	if e.Field == "" || e.Field != c.Field {
		return false
	}
	return !e.PerChannel || e.Channel == c.Channel
}

var (
	catalogueOnce sync.Once
	catalogue     []Entity
	catalogueKeys map[string]int
)

// Entities returns the full entity catalogue of a Growcube. The slice is
// shared; callers must not modify it.
func Entities() []Entity {
	catalogueOnce.Do(buildCatalogue)
	return catalogue
}

// EntityByKey looks up an entity by key.
func EntityByKey(key string) (Entity, bool) {
	catalogueOnce.Do(buildCatalogue)
	i, ok := catalogueKeys[key]
	if !ok {
		return Entity{}, false
	}
	return catalogue[i], true
}

// EntitiesFor returns the entities affected by a change.
func EntitiesFor(c Change) []Entity {
	var out []Entity
	for _, e := range Entities() {
		if e.Matches(c) {
			out = append(out, e)
		}
	}
	return out
}

func buildCatalogue() {
	catalogue = []Entity{
		{
			Key: "temperature", Name: "Temperature", Platform: PlatformSensor,
			Field: FieldTemperature, DeviceClass: "temperature", Unit: "°C",
			StateClass: "measurement", EnabledByDefault: true,
		},
		{
			Key: "humidity", Name: "Humidity", Platform: PlatformSensor,
			Field: FieldHumidity, DeviceClass: "humidity", Unit: "%",
			StateClass: "measurement", EnabledByDefault: true,
		},
		{
			Key: "locked", Name: "Device locked", Platform: PlatformBinarySensor,
			Field: FieldDeviceLocked, DeviceClass: "lock", Category: "diagnostic",
			EnabledByDefault: true, Inverted: true,
		},
		{
			Key: "water_level", Name: "Water level", Platform: PlatformBinarySensor,
			Field: FieldWaterWarning, DeviceClass: "problem", Category: "diagnostic",
			IconOn: "mdi:water-alert", IconOff: "mdi:water-check", EnabledByDefault: true,
		},
	}

	for _, ch := range growcubeclient.Channels {
		l, s := ch.Letter(), ch.Suffix()
		catalogue = append(catalogue,
			Entity{
				Key: "moisture_" + s, Name: "Moisture " + l, Platform: PlatformSensor,
				Field: FieldMoisture, Channel: ch, PerChannel: true,
				DeviceClass: "moisture", Unit: "%", StateClass: "measurement",
				Icon: "mdi:cup-water", EnabledByDefault: true,
			},
			Entity{
				Key: "pump_" + s + "_open", Name: "Pump " + l + " open", Platform: PlatformBinarySensor,
				Field: FieldPumpOpen, Channel: ch, PerChannel: true,
				DeviceClass: "opening", IconOn: "mdi:water", IconOff: "mdi:water-off",
			},
			Entity{
				Key: "pump_" + s + "_locked", Name: "Pump " + l + " lock state", Platform: PlatformBinarySensor,
				Field: FieldOutletLocked, Channel: ch, PerChannel: true,
				DeviceClass: "problem", Category: "diagnostic",
				IconOn: "mdi:pump-off", IconOff: "mdi:pump", EnabledByDefault: true,
			},
			Entity{
				Key: "outlet_" + s + "_blocked", Name: "Outlet " + l + " blocked", Platform: PlatformBinarySensor,
				Field: FieldOutletBlocked, Channel: ch, PerChannel: true,
				DeviceClass: "problem", Category: "diagnostic", EnabledByDefault: true,
			},
			Entity{
				Key: "sensor_" + s + "_locked", Name: "Sensor " + l + " state", Platform: PlatformBinarySensor,
				Field: FieldSensorAbnormal, Channel: ch, PerChannel: true,
				DeviceClass: "problem", Category: "diagnostic",
				IconOn: "mdi:thermometer-probe-off", IconOff: "mdi:thermometer-probe", EnabledByDefault: true,
			},
			Entity{
				Key: "sensor_" + s + "_disconnected", Name: "Sensor " + l + " disconnected", Platform: PlatformBinarySensor,
				Field: FieldSensorDisconnected, Channel: ch, PerChannel: true,
				DeviceClass: "problem", Category: "diagnostic", EnabledByDefault: true,
			},
			Entity{
				Key: "water_plant_" + s, Name: "Water plant " + l, Platform: PlatformButton,
				Channel: ch, PerChannel: true, Icon: "mdi:watering-can", EnabledByDefault: true,
			},
		)
	}

	catalogueKeys = make(map[string]int, len(catalogue))
	for i, e := range catalogue {
		catalogueKeys[e.Key] = i
	}
}
