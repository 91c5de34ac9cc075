package growcubeclient

import (
	"errors"
	"testing"
)

func TestDecodeReport(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  Report
	}{
		{
			name:  "device version",
			frame: Frame{Command: CmdDeviceVersion, Payload: "3.6@16962"},
			want:  DeviceVersionReport{Version: "3.6", DeviceID: "16962"},
		},
		{
			name:  "water warning on",
			frame: Frame{Command: CmdWaterState, Payload: "1"},
			want:  WaterStateReport{WaterWarning: true},
		},
		{
			name:  "water warning off",
			frame: Frame{Command: CmdWaterState, Payload: "0"},
			want:  WaterStateReport{WaterWarning: false},
		},
		{
			name:  "moisture reading",
			frame: Frame{Command: CmdMoistureHumidity, Payload: "2@37@55@21"},
			want:  MoistureHumidityReport{Channel: ChannelC, Moisture: 37, Humidity: 55, Temperature: 21},
		},
		{
			name:  "pump open",
			frame: Frame{Command: CmdPumpOpen, Payload: "1"},
			want:  PumpOpenReport{Channel: ChannelB},
		},
		{
			name:  "pump close",
			frame: Frame{Command: CmdPumpClose, Payload: "1"},
			want:  PumpCloseReport{Channel: ChannelB},
		},
		{
			name:  "sensor abnormal",
			frame: Frame{Command: CmdSensorAbnormal, Payload: "3"},
			want:  SensorAbnormalReport{Channel: ChannelD},
		},
		{
			name:  "outlet blocked",
			frame: Frame{Command: CmdOutletBlocked, Payload: "0"},
			want:  OutletBlockedReport{Channel: ChannelA},
		},
		{
			name:  "sensor disconnected",
			frame: Frame{Command: CmdSensorDisconnected, Payload: "2"},
			want:  SensorDisconnectedReport{Channel: ChannelC},
		},
		{
			name:  "lock state",
			frame: Frame{Command: CmdLockState, Payload: "1"},
			want:  LockStateReport{Locked: true},
		},
		{
			name:  "outlet locked",
			frame: Frame{Command: CmdOutletLocked, Payload: "0"},
			want:  OutletLockedReport{Channel: ChannelA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeReport(tt.frame)
			if got != tt.want {
				t.Errorf("DecodeReport() = %#v, want %#v", got, tt.want)
			}
			if got.Command() != tt.frame.Command {
				t.Errorf("Command() = %d, want %d", got.Command(), tt.frame.Command)
			}
		})
	}
}

func TestDecodeReport_Unknown(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{name: "unknown command", frame: Frame{Command: 99, Payload: "1"}},
		{name: "channel out of range", frame: Frame{Command: CmdPumpOpen, Payload: "4"}},
		{name: "non numeric moisture", frame: Frame{Command: CmdMoistureHumidity, Payload: "0@x@1@2"}},
		{name: "short moisture", frame: Frame{Command: CmdMoistureHumidity, Payload: "0@1"}},
		{name: "bad flag", frame: Frame{Command: CmdLockState, Payload: "2"}},
		{name: "missing version fields", frame: Frame{Command: CmdDeviceVersion, Payload: "3.6"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeReport(tt.frame)
			u, ok := got.(UnknownReport)
			if !ok {
				t.Fatalf("DecodeReport() = %#v, want UnknownReport", got)
			}
			if u.Cmd != tt.frame.Command || u.Payload != tt.frame.Payload {
				t.Errorf("UnknownReport = %+v, want original frame preserved", u)
			}
			if u.Err == nil {
				t.Error("UnknownReport.Err = nil, want a reason")
			}
		})
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{in: "A", want: ChannelA},
		{in: "b", want: ChannelB},
		{in: "D", want: ChannelD},
		{in: "E", wantErr: true},
		{in: "e", wantErr: true},
		{in: " a", wantErr: true},
		{in: "@", wantErr: true},
		{in: "", wantErr: true},
		{in: "AB", wantErr: true},
		{in: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidChannel) {
					t.Errorf("ParseChannel(%q) error = %v, want ErrInvalidChannel", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChannel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseChannel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChannel_Labels(t *testing.T) {
	if got := ChannelC.Letter(); got != "C" {
		t.Errorf("Letter() = %q, want C", got)
	}
	if got := ChannelC.Suffix(); got != "c" {
		t.Errorf("Suffix() = %q, want c", got)
	}
	if got := Channel(7).Letter(); got != "?" {
		t.Errorf("invalid Letter() = %q, want ?", got)
	}
}
