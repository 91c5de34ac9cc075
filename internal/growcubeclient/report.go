package growcubeclient

import (
	"fmt"
	"strconv"
	"strings"
)

// Report command ids pushed by the device.
const (
	CmdWaterState         = 20
	CmdMoistureHumidity   = 21
	CmdDeviceVersion      = 24
	CmdPumpOpen           = 26
	CmdPumpClose          = 27
	CmdSensorAbnormal     = 28
	CmdOutletBlocked      = 29
	CmdSensorDisconnected = 30
	CmdLockState          = 33
	CmdOutletLocked       = 34
)

// Report is an asynchronous event pushed by the device.
//
// The set of implementations is closed: the unexported marker method keeps
// other packages from adding kinds, so a type switch over the types below
// is exhaustive.
type Report interface {
	// Command returns the protocol command id the report was decoded from.
	Command() int
	isReport()
}

// DeviceVersionReport carries the firmware version and numeric device id.
// It is the identity report that completes a connection.
type DeviceVersionReport struct {
	Version  string
	DeviceID string
}

// WaterStateReport reports the water tank warning.
type WaterStateReport struct {
	WaterWarning bool
}

// MoistureHumidityReport is the periodic per-channel sensor reading.
// Humidity and temperature are device-wide and repeated on every channel.
type MoistureHumidityReport struct {
	Channel     Channel
	Moisture    int
	Humidity    int
	Temperature int
}

// PumpOpenReport reports that a channel's pump started.
type PumpOpenReport struct {
	Channel Channel
}

// PumpCloseReport reports that a channel's pump stopped.
type PumpCloseReport struct {
	Channel Channel
}

// SensorAbnormalReport reports a moisture sensor fault.
type SensorAbnormalReport struct {
	Channel Channel
}

// OutletBlockedReport reports a blocked outlet.
type OutletBlockedReport struct {
	Channel Channel
}

// SensorDisconnectedReport reports a moisture sensor that is not plugged in.
type SensorDisconnectedReport struct {
	Channel Channel
}

// LockStateReport reports the device lock, set by the physical button after a fault.
type LockStateReport struct {
	Locked bool
}

// OutletLockedReport reports an outlet locked out after a fault.
type OutletLockedReport struct {
	Channel Channel
}

// UnknownReport wraps a frame whose command id is not recognised or whose
// payload could not be parsed.
type UnknownReport struct {
	Cmd     int
	Payload string
	Err     error
}

func (DeviceVersionReport) Command() int      { return CmdDeviceVersion }
func (WaterStateReport) Command() int         { return CmdWaterState }
func (MoistureHumidityReport) Command() int   { return CmdMoistureHumidity }
func (PumpOpenReport) Command() int           { return CmdPumpOpen }
func (PumpCloseReport) Command() int          { return CmdPumpClose }
func (SensorAbnormalReport) Command() int     { return CmdSensorAbnormal }
func (OutletBlockedReport) Command() int      { return CmdOutletBlocked }
func (SensorDisconnectedReport) Command() int { return CmdSensorDisconnected }
func (LockStateReport) Command() int          { return CmdLockState }
func (OutletLockedReport) Command() int       { return CmdOutletLocked }
func (r UnknownReport) Command() int          { return r.Cmd }

func (DeviceVersionReport) isReport()      {}
func (WaterStateReport) isReport()         {}
func (MoistureHumidityReport) isReport()   {}
func (PumpOpenReport) isReport()           {}
func (PumpCloseReport) isReport()          {}
func (SensorAbnormalReport) isReport()     {}
func (OutletBlockedReport) isReport()      {}
func (SensorDisconnectedReport) isReport() {}
func (LockStateReport) isReport()          {}
func (OutletLockedReport) isReport()       {}
func (UnknownReport) isReport()            {}

// DecodeReport converts a frame into a typed report.
// It never fails: anything unrecognised becomes an UnknownReport.
func DecodeReport(f Frame) Report {
	r, err := decodeReport(f)
	if err != nil {
		return UnknownReport{Cmd: f.Command, Payload: f.Payload, Err: err}
	}
	return r
}

func decodeReport(f Frame) (Report, error) {
	fields := f.Fields()

	switch f.Command {
	case CmdDeviceVersion:
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: device version needs 2 fields, got %d", ErrMalformedFrame, len(fields))
		}
		return DeviceVersionReport{Version: fields[0], DeviceID: fields[1]}, nil

	case CmdWaterState:
		warn, err := parseFlag(fields)
		if err != nil {
			return nil, err
		}
		return WaterStateReport{WaterWarning: warn}, nil

	case CmdMoistureHumidity:
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: moisture report needs 4 fields, got %d", ErrMalformedFrame, len(fields))
		}
		values := make([]int, 4)
		for i := range values {
			v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
			if err != nil {
				return nil, fmt.Errorf("%w: field %d: %w", ErrMalformedFrame, i, err)
			}
			values[i] = v
		}
		ch, err := ChannelFromIndex(values[0])
		if err != nil {
			return nil, err
		}
		return MoistureHumidityReport{
			Channel:     ch,
			Moisture:    values[1],
			Humidity:    values[2],
			Temperature: values[3],
		}, nil

	case CmdLockState:
		locked, err := parseFlag(fields)
		if err != nil {
			return nil, err
		}
		return LockStateReport{Locked: locked}, nil

	case CmdPumpOpen, CmdPumpClose, CmdSensorAbnormal, CmdOutletBlocked,
		CmdSensorDisconnected, CmdOutletLocked:
		ch, err := parseChannelField(fields)
		if err != nil {
			return nil, err
		}
		return channelReport(f.Command, ch), nil

	default:
		return nil, fmt.Errorf("%w: unknown command %d", ErrMalformedFrame, f.Command)
	}
}

func channelReport(command int, ch Channel) Report {
	switch command {
	case CmdPumpOpen:
		return PumpOpenReport{Channel: ch}
	case CmdPumpClose:
		return PumpCloseReport{Channel: ch}
	case CmdSensorAbnormal:
		return SensorAbnormalReport{Channel: ch}
	case CmdOutletBlocked:
		return OutletBlockedReport{Channel: ch}
	case CmdSensorDisconnected:
		return SensorDisconnectedReport{Channel: ch}
	default:
		return OutletLockedReport{Channel: ch}
	}
}

// parseFlag reads a "0"/"1" first field.
func parseFlag(fields []string) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("%w: missing flag", ErrMalformedFrame)
	}
	switch strings.TrimSpace(fields[0]) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: flag %q", ErrMalformedFrame, fields[0])
	}
}

// parseChannelField reads a channel index first field.
func parseChannelField(fields []string) (Channel, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: missing channel", ErrMalformedFrame)
	}
	i, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, fmt.Errorf("%w: channel %q", ErrMalformedFrame, fields[0])
	}
	return ChannelFromIndex(i)
}
