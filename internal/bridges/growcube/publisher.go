package growcube

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// Entity state payloads.
const (
	payloadOn   = "ON"
	payloadOff  = "OFF"
	payloadNone = "None"
)

// Publisher is the MQTT publishing surface used by the bridge.
// *mqtt.Client satisfies it.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Subscriber registers topic handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Availability is one entry of a discovery payload's availability list.
type Availability struct {
	Topic string `json:"topic"`
}

// DiscoveryConfig is the Home Assistant MQTT discovery payload of one entity.
// An entity is available only while both the bridge and the device are.
type DiscoveryConfig struct {
	Name              string         `json:"name"`
	UniqueID          string         `json:"unique_id"`
	ObjectID          string         `json:"object_id,omitempty"`
	StateTopic        string         `json:"state_topic,omitempty"`
	CommandTopic      string         `json:"command_topic,omitempty"`
	PayloadPress      string         `json:"payload_press,omitempty"`
	Availability      []Availability `json:"availability"`
	AvailabilityMode  string         `json:"availability_mode"`
	DeviceClass       string         `json:"device_class,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`
	EntityCategory    string         `json:"entity_category,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	EnabledByDefault  bool           `json:"enabled_by_default"`
	Device            DeviceInfo     `json:"device"`
}

// NewDiscoveryConfig builds the discovery payload of an entity. The icon
// reflects the current state for entities with on/off icons.
func NewDiscoveryConfig(identity Identity, e Entity, s State) DiscoveryConfig {
	topics := mqtt.Topics{}
	uid := e.UniqueID(identity.DeviceID)

	cfg := DiscoveryConfig{
		Name:              e.Name,
		UniqueID:          uid,
		ObjectID:          uid,
		AvailabilityMode:  "all",
		DeviceClass:       e.DeviceClass,
		UnitOfMeasurement: e.Unit,
		StateClass:        e.StateClass,
		EntityCategory:    e.Category,
		Icon:              e.IconFor(s),
		EnabledByDefault:  e.EnabledByDefault,
		Device:            identity.DeviceInfo(),
	}
	cfg.Availability = []Availability{
		{Topic: topics.BridgeStatus()},
		{Topic: topics.DeviceAvailability(identity.DeviceID)},
	}
	if e.Platform == PlatformButton {
		cfg.CommandTopic = topics.DeviceButton(identity.DeviceID, e.Key)
		cfg.PayloadPress = mqtt.PayloadPress
	} else {
		cfg.StateTopic = topics.DeviceEntity(identity.DeviceID, e.Key)
	}
	return cfg
}

// EntityPayload formats an entity value for its state topic.
func EntityPayload(v any) string {
	switch val := v.(type) {
	case nil:
		return payloadNone
	case bool:
		if val {
			return payloadOn
		}
		return payloadOff
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// PublisherConfig configures a StatePublisher.
type PublisherConfig struct {
	// Publisher is the MQTT client. Required.
	Publisher Publisher

	// DiscoveryPrefix is Home Assistant's discovery prefix.
	// Default: "homeassistant".
	DiscoveryPrefix string

	// Discovery enables Home Assistant discovery configs.
	Discovery bool

	Logger Logger
}

// StatePublisher mirrors coordinator state onto MQTT: retained per-entity
// state, a JSON snapshot, availability and Home Assistant discovery.
type StatePublisher struct {
	mqtt      Publisher
	prefix    string
	discovery bool

	// icons holds the last published icon per unique id, so discovery is
	// only republished when a state-dependent icon flips.
	icons   map[string]string
	iconsMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStatePublisher creates a state publisher.
func NewStatePublisher(cfg PublisherConfig) (*StatePublisher, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher is required", ErrInvalidArgument)
	}
	prefix := cfg.DiscoveryPrefix
	if prefix == "" {
		prefix = mqtt.DefaultDiscoveryPrefix
	}
	return &StatePublisher{
		mqtt:      cfg.Publisher,
		prefix:    prefix,
		discovery: cfg.Discovery,
		icons:     make(map[string]string),
		logger:    cfg.Logger,
	}, nil
}

// Attach subscribes to a coordinator and publishes its changes. The
// returned function detaches it. If the identity is already known the
// device is published immediately.
func (p *StatePublisher) Attach(c *Coordinator) func() {
	unsubscribe := c.SubscribeAll(func(ch Change) {
		p.HandleChange(c.Snapshot(), ch)
	})
	if snap := c.Snapshot(); snap.Identity.Known() {
		p.PublishDevice(snap)
	}
	return unsubscribe
}

// HandleChange publishes the topics affected by a change.
func (p *StatePublisher) HandleChange(snap Snapshot, ch Change) {
	if !snap.Identity.Known() {
		return
	}

	switch ch.Field {
	case FieldIdentity:
		p.PublishDevice(snap)
		return
	case FieldAvailable:
		p.publishAvailability(snap)
	default:
		for _, e := range EntitiesFor(ch) {
			p.publishEntity(snap, e)
		}
	}
	p.publishSnapshot(snap)
}

// PublishDevice publishes everything about one device: discovery configs,
// entity states, availability and the snapshot.
func (p *StatePublisher) PublishDevice(snap Snapshot) {
	if !snap.Identity.Known() {
		return
	}

	for _, e := range Entities() {
		if p.discovery {
			p.publishDiscovery(snap, e)
		}
		if e.Platform != PlatformButton {
			p.publishEntityState(snap, e)
		}
	}
	p.publishAvailability(snap)
	p.publishSnapshot(snap)
}

// RemoveDevice clears the retained discovery configs of a device so Home
// Assistant drops its entities.
func (p *StatePublisher) RemoveDevice(deviceID string) {
	if deviceID == "" || !p.discovery {
		return
	}
	topics := mqtt.Topics{}
	for _, e := range Entities() {
		uid := e.UniqueID(deviceID)
		p.publish(topics.Discovery(p.prefix, string(e.Platform), uid), nil)
		p.iconsMu.Lock()
		delete(p.icons, uid)
		p.iconsMu.Unlock()
	}
}

func (p *StatePublisher) publishEntity(snap Snapshot, e Entity) {
	if p.discovery && (e.IconOn != "" || e.IconOff != "") {
		uid := e.UniqueID(snap.Identity.DeviceID)
		icon := e.IconFor(snap.State)
		p.iconsMu.Lock()
		changed := p.icons[uid] != icon
		p.iconsMu.Unlock()
		if changed {
			p.publishDiscovery(snap, e)
		}
	}
	p.publishEntityState(snap, e)
}

func (p *StatePublisher) publishEntityState(snap Snapshot, e Entity) {
	topic := mqtt.Topics{}.DeviceEntity(snap.Identity.DeviceID, e.Key)
	p.publish(topic, []byte(EntityPayload(e.Value(snap.State))))
}

func (p *StatePublisher) publishDiscovery(snap Snapshot, e Entity) {
	cfg := NewDiscoveryConfig(snap.Identity, e, snap.State)
	payload, err := json.Marshal(cfg)
	if err != nil {
		p.logError("failed to marshal discovery config", err, "unique_id", cfg.UniqueID)
		return
	}

	topic := mqtt.Topics{}.Discovery(p.prefix, string(e.Platform), cfg.UniqueID)
	if p.publish(topic, payload) {
		p.iconsMu.Lock()
		p.icons[cfg.UniqueID] = cfg.Icon
		p.iconsMu.Unlock()
	}
}

func (p *StatePublisher) publishAvailability(snap Snapshot) {
	payload := mqtt.PayloadOffline
	if snap.Available {
		payload = mqtt.PayloadOnline
	}
	p.publish(mqtt.Topics{}.DeviceAvailability(snap.Identity.DeviceID), []byte(payload))
}

func (p *StatePublisher) publishSnapshot(snap Snapshot) {
	payload, err := json.Marshal(NewStateMessage(snap))
	if err != nil {
		p.logError("failed to marshal state", err, "device_id", snap.Identity.DeviceID)
		return
	}
	p.publish(mqtt.Topics{}.DeviceState(snap.Identity.DeviceID), payload)
}

// publish sends a retained QoS 1 message, logging failures.
func (p *StatePublisher) publish(topic string, payload []byte) bool {
	if err := p.mqtt.Publish(topic, payload, 1, true); err != nil {
		p.logError("failed to publish", err, "topic", topic)
		return false
	}
	return true
}

// SubscribeHomeAssistant calls republish whenever Home Assistant announces
// itself online on its status topic, so discovery survives HA restarts.
func (p *StatePublisher) SubscribeHomeAssistant(sub Subscriber, republish func()) error {
	topic := mqtt.Topics{}.HomeAssistantStatus(p.prefix)
	return sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if string(payload) == mqtt.PayloadOnline {
			p.clearIcons()
			republish()
		}
		return nil
	})
}

func (p *StatePublisher) clearIcons() {
	p.iconsMu.Lock()
	clear(p.icons)
	p.iconsMu.Unlock()
}

// SetLogger sets the logger for this publisher.
func (p *StatePublisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *StatePublisher) logError(msg string, err error, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
