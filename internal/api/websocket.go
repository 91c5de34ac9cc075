package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/auth"
	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
)

// Message types of the /ws protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels.
const (
	EventDeviceStateChanged = "device.state_changed"
	EventDeviceAvailability = "device.availability"
)

var eventChannels = map[string]bool{
	EventDeviceStateChanged: true,
	EventDeviceAvailability: true,
}

// WSMessage is a frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload selects event channels and, optionally, devices.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// StateChangedEvent is the payload of device.state_changed. Entities holds
// the new value of every entity backed by the field.
type StateChangedEvent struct {
	DeviceID string         `json:"device_id"`
	Host     string         `json:"host"`
	Field    string         `json:"field"`
	Channel  string         `json:"channel,omitempty"`
	Value    any            `json:"value"`
	Reset    bool           `json:"reset,omitempty"`
	Entities map[string]any `json:"entities,omitempty"`
}

// AvailabilityEvent is the payload of device.availability.
type AvailabilityEvent struct {
	DeviceID  string `json:"device_id"`
	Host      string `json:"host"`
	Available bool   `json:"available"`
}

// HandleChange relays a device change to WebSocket clients. It has the
// growcube.Observer signature. Changes of unidentified devices and identity
// changes are not relayed.
func (s *Server) HandleChange(c *growcube.Coordinator, ch growcube.Change) {
	if ch.DeviceID == "" || ch.Field == growcube.FieldIdentity {
		return
	}

	if ch.Field == growcube.FieldAvailable {
		available, _ := ch.Value.(bool) //nolint:errcheck // always a bool
		s.hub.Broadcast(EventDeviceAvailability, ch.DeviceID, AvailabilityEvent{
			DeviceID:  ch.DeviceID,
			Host:      ch.Host,
			Available: available,
		})
		return
	}

	event := StateChangedEvent{
		DeviceID: ch.DeviceID,
		Host:     ch.Host,
		Field:    string(ch.Field),
		Value:    ch.Value,
		Reset:    ch.Reset,
	}
	if ch.Field.PerChannel() {
		event.Channel = ch.Channel.Suffix()
	}
	if c != nil {
		state := c.Snapshot().State
		event.Entities = make(map[string]any)
		for _, e := range growcube.EntitiesFor(ch) {
			event.Entities[e.Key] = e.Value(state)
		}
	}
	s.hub.Broadcast(EventDeviceStateChanged, ch.DeviceID, event)
}

// handleWebSocket upgrades to a WebSocket. With authentication enabled the
// caller needs a ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, role := "anonymous", auth.RoleViewer
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject, role = entry.subject, entry.role
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, subject, role)
	s.hub.Register(client)
	go client.writePump()
	go client.readPump()
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(req)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func (c *WSClient) handleSubscription(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorPayload("invalid subscription payload"))
		return
	}
	for _, ch := range sub.Channels {
		if !eventChannels[ch] {
			c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}

	if req.Type == WSTypeUnsubscribe {
		c.unsubscribe(sub.Channels, sub.Devices)
		c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
		return
	}
	c.subscribe(sub.Channels, sub.Devices)
	c.hub.logger.Debug("websocket subscription", "subject", c.subject, "channels", sub.Channels, "devices", sub.Devices)
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
