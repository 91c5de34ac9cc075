package growcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// Command sources.
const (
	SourceMQTT   = "mqtt"
	SourceButton = "button"
	SourceAPI    = "api"
)

// DeviceLookup resolves a device id to its coordinator. Manager implements it.
type DeviceLookup interface {
	Lookup(deviceID string) (*Coordinator, error)
}

// CommandHandlerConfig configures a CommandHandler.
type CommandHandlerConfig struct {
	// Devices resolves command targets. Required.
	Devices DeviceLookup

	// Publisher sends acknowledgements. Optional.
	Publisher Publisher

	// ButtonDuration is how long a button press waters for.
	// Default: DefaultWaterDuration seconds.
	ButtonDuration int

	// Timeout bounds each command. Default: DefaultCommandTimeout.
	Timeout time.Duration

	Logger Logger
}

// CommandHandler executes commands received on the MQTT command and button
// topics and publishes an acknowledgement for each.
type CommandHandler struct {
	devices        DeviceLookup
	mqtt           Publisher
	buttonDuration int
	timeout        time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(cfg CommandHandlerConfig) (*CommandHandler, error) {
	if cfg.Devices == nil {
		return nil, fmt.Errorf("%w: device lookup is required", ErrInvalidArgument)
	}
	duration := cfg.ButtonDuration
	if duration == 0 {
		duration = DefaultWaterDuration
	}
	if duration < MinWaterDuration || duration > MaxWaterDuration {
		return nil, &ValidationError{Field: "button_duration", Value: duration,
			Message: fmt.Sprintf("must be between %d and %d", MinWaterDuration, MaxWaterDuration)}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandHandler{
		devices:        cfg.Devices,
		mqtt:           cfg.Publisher,
		buttonDuration: duration,
		timeout:        timeout,
		logger:         cfg.Logger,
	}, nil
}

// Subscribe registers the handler on the device command and button topics.
func (h *CommandHandler) Subscribe(sub Subscriber) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllDeviceCommands(), 1, h.HandleMessage); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	if err := sub.Subscribe(topics.AllDeviceButtons(), 1, h.HandleMessage); err != nil {
		return fmt.Errorf("subscribe buttons: %w", err)
	}
	return nil
}

// HandleMessage routes a message from a command or button topic.
// Errors are reported through acks and logs; the return value is only
// non-nil for topics the handler does not own.
func (h *CommandHandler) HandleMessage(topic string, payload []byte) error {
	deviceID, rest, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	switch {
	case rest == "command":
		h.handleCommand(deviceID, payload)
	case strings.HasPrefix(rest, "button/"):
		h.handleButton(deviceID, strings.TrimPrefix(rest, "button/"), payload)
	default:
		return fmt.Errorf("unexpected topic %q", topic)
	}
	return nil
}

func (h *CommandHandler) handleCommand(deviceID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd = CommandMessage{DeviceID: deviceID, Source: SourceMQTT}
		h.publishAckError(cmd, ErrCodeInvalidCommand, err.Error())
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}
	if cmd.DeviceID != deviceID {
		msg := fmt.Sprintf("device_id %q does not match topic device %q", cmd.DeviceID, deviceID)
		// Ack on the topic the command arrived on.
		cmd.DeviceID = deviceID
		h.publishAckError(cmd, ErrCodeInvalidCommand, msg)
		return
	}
	if cmd.Source == "" {
		cmd.Source = SourceMQTT
	}

	h.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.Execute(ctx, &cmd); err != nil {
		h.publishAckError(cmd, ErrorCode(err), err.Error())
		return
	}
	h.publishAck(cmd, AckAccepted)
}

func (h *CommandHandler) handleButton(deviceID, key string, payload []byte) {
	if string(payload) != mqtt.PayloadPress {
		h.logDebug("ignoring button payload", "device_id", deviceID, "key", key)
		return
	}
	e, ok := EntityByKey(key)
	if !ok || e.Platform != PlatformButton {
		h.logDebug("ignoring unknown button", "device_id", deviceID, "key", key)
		return
	}

	cmd := CommandMessage{
		DeviceID: deviceID,
		Command:  CommandWaterPlant,
		Parameters: map[string]any{
			"channel":  e.Channel.Letter(),
			"duration": h.buttonDuration,
		},
		Source: SourceButton,
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.Execute(ctx, &cmd); err != nil {
		h.publishAckError(cmd, ErrorCode(err), err.Error())
		return
	}
	h.publishAck(cmd, AckAccepted)
}

// Execute runs a command against its device. Missing ids and timestamps
// are filled in.
func (h *CommandHandler) Execute(ctx context.Context, cmd *CommandMessage) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	switch cmd.Command {
	case CommandWaterPlant, CommandSetSmartWatering, CommandSetManualWatering, CommandDeleteWatering:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}

	c, err := h.devices.Lookup(cmd.DeviceID)
	if err != nil {
		return err
	}

	params := commandParams(cmd.Parameters)
	channel, err := params.str("channel")
	if err != nil {
		return err
	}

	switch cmd.Command {
	case CommandWaterPlant:
		duration, err := params.intOr("duration", DefaultWaterDuration)
		if err != nil {
			return err
		}
		return c.WaterPlant(ctx, channel, duration)
	case CommandSetSmartWatering:
		minValue, err := params.intOr("min_value", DefaultSmartMin)
		if err != nil {
			return err
		}
		maxValue, err := params.intOr("max_value", DefaultSmartMax)
		if err != nil {
			return err
		}
		return c.SetSmartWatering(ctx, channel, minValue, maxValue)
	case CommandSetManualWatering:
		return c.SetManualWatering(ctx, channel)
	default:
		return c.DeleteWatering(ctx, channel)
	}
}

// ErrorCode maps an action error to an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrShutdown):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrCommandFailed):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

// commandParams reads loosely typed JSON parameters.
type commandParams map[string]any

func (p commandParams) str(name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", &ValidationError{Field: name, Message: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: name, Value: v, Message: "must be a string"}
	}
	return s, nil
}

func (p commandParams) intOr(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, &ValidationError{Field: name, Value: v, Message: "must be a whole number"}
		}
		return int(n), nil
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, &ValidationError{Field: name, Value: v, Message: "must be a whole number"}
		}
		return i, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ValidationError{Field: name, Value: v, Message: "must be a whole number"}
		}
		return i, nil
	default:
		return 0, &ValidationError{Field: name, Value: v, Message: "must be a number"}
	}
}

func (h *CommandHandler) publishAck(cmd CommandMessage, status AckStatus) {
	h.sendAck(NewAckMessage(cmd, status))
}

func (h *CommandHandler) publishAckError(cmd CommandMessage, code, message string) {
	h.logError("command failed", fmt.Errorf("code=%s message=%s", code, message),
		"device_id", cmd.DeviceID, "command", cmd.Command)
	h.sendAck(NewAckError(cmd, code, message))
}

func (h *CommandHandler) sendAck(ack AckMessage) {
	if h.mqtt == nil || ack.DeviceID == "" {
		return
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		h.logError("failed to marshal ack", err)
		return
	}
	if err := h.mqtt.Publish(mqtt.Topics{}.DeviceAck(ack.DeviceID), payload, 1, false); err != nil {
		h.logError("failed to publish ack", err)
	}
}

// SetLogger sets the logger for this handler.
func (h *CommandHandler) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *CommandHandler) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *CommandHandler) logDebug(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (h *CommandHandler) logInfo(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (h *CommandHandler) logError(msg string, err error, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
