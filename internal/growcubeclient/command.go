package growcubeclient

import (
	"fmt"
	"strings"
	"time"
)

// Command ids sent to the device.
const (
	CmdWateringMode = 43
	CmdSyncTime     = 44
	CmdPlantEnd     = 45
	CmdWater        = 47
)

// WateringMode selects how a channel waters.
type WateringMode int

// Watering modes.
const (
	// WateringManual waters only on explicit command.
	WateringManual WateringMode = 0

	// WateringSmart waters when moisture falls below Min until it reaches Max.
	WateringSmart WateringMode = 1
)

// String implements fmt.Stringer.
func (m WateringMode) String() string {
	switch m {
	case WateringManual:
		return "manual"
	case WateringSmart:
		return "smart"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Command is a message that can be sent to the device.
type Command interface {
	// Frame renders the command for the wire.
	Frame() Frame
	// Name is a short identifier used in logs.
	Name() string
}

// WateringModeCommand configures a channel's watering mode and thresholds.
// Min and Max are ignored by the device in manual mode.
type WateringModeCommand struct {
	Channel Channel
	Mode    WateringMode
	Min     int
	Max     int
}

// Frame implements Command.
func (c WateringModeCommand) Frame() Frame {
	return Frame{
		Command: CmdWateringMode,
		Payload: joinFields(c.Channel.Index(), int(c.Mode), c.Min, c.Max),
	}
}

// Name implements Command.
func (WateringModeCommand) Name() string { return "watering_mode" }

// WaterCommand starts or stops the pump on a channel.
type WaterCommand struct {
	Channel Channel
	Start   bool
}

// Frame implements Command.
func (c WaterCommand) Frame() Frame {
	state := 0
	if c.Start {
		state = 1
	}
	return Frame{Command: CmdWater, Payload: joinFields(c.Channel.Index(), state)}
}

// Name implements Command.
func (WaterCommand) Name() string { return "water" }

// PlantEndCommand clears the watering schedule of a channel.
type PlantEndCommand struct {
	Channel Channel
}

// Frame implements Command.
func (c PlantEndCommand) Frame() Frame {
	return Frame{Command: CmdPlantEnd, Payload: joinFields(c.Channel.Index())}
}

// Name implements Command.
func (PlantEndCommand) Name() string { return "plant_end" }

// SyncTimeCommand sets the device clock.
type SyncTimeCommand struct {
	Time time.Time
}

// Frame implements Command.
func (c SyncTimeCommand) Frame() Frame {
	t := c.Time
	return Frame{
		Command: CmdSyncTime,
		Payload: fmt.Sprintf("%04d@%02d@%02d@%02d@%02d@%02d",
			t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()),
	}
}

// Name implements Command.
func (SyncTimeCommand) Name() string { return "sync_time" }

// Encode renders a command into wire bytes.
func Encode(cmd Command) []byte {
	f := cmd.Frame()
	return EncodeFrame(f.Command, f.Payload)
}

func joinFields(values ...int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, fieldSeparator)
}
